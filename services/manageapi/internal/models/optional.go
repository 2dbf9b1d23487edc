package models

import (
	"bytes"
	"encoding/json"
)

// Optional carries a payload field that distinguishes "omitted" from
// "explicitly null" from "set to a value". The zero value is omitted.
type Optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

// Null returns an Optional that was explicitly set to null.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true, Null: true}
}

// UnmarshalJSON is only invoked when the key is present, which is what
// makes omission observable.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Null = true
		var zero T
		o.Value = zero
		return nil
	}
	o.Null = false
	return json.Unmarshal(data, &o.Value)
}

// MarshalJSON writes null for omitted and null values. Use the omitzero
// tag option so omitted values disappear from the output.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Null {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// IsZero reports whether the field was omitted.
func (o Optional[T]) IsZero() bool {
	return !o.Set
}

// HasValue reports whether a non-null value was supplied.
func (o Optional[T]) HasValue() bool {
	return o.Set && !o.Null
}

// Or returns the supplied value, or def when omitted or null.
func (o Optional[T]) Or(def T) T {
	if o.HasValue() {
		return o.Value
	}
	return def
}
