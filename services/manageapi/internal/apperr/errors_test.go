package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsWrapSentinels(t *testing.T) {
	assert.ErrorIs(t, NewSchemaError("/name", "required"), ErrSchema)
	assert.ErrorIs(t, &ReferenceValidationError{}, ErrReference)
	assert.ErrorIs(t, NotFound("Agent graph"), ErrNotFound)
	assert.ErrorIs(t, Conflict("already exists", nil), ErrConflict)
	assert.ErrorIs(t, Internal("boom", nil), ErrInternal)

	wrapped := fmt.Errorf("upsert: %w", Internal("tx failed", context.Canceled))
	assert.ErrorIs(t, wrapped, ErrInternal)
	assert.ErrorIs(t, wrapped, context.Canceled)
}

func TestReferenceValidationErrorCollectsViolations(t *testing.T) {
	refs := &ReferenceValidationError{}
	assert.NoError(t, refs.OrNil())

	refs.Add(KindTool, "t-missing", "/agents/a1/tools/0", ReasonNotFound)
	refs.Add(KindDefaultAgent, "ghost", "/defaultAgentId", ReasonNotFound)

	err := refs.OrNil()
	var rve *ReferenceValidationError
	if assert.True(t, errors.As(err, &rve)) {
		assert.Len(t, rve.Violations, 2)
		assert.Equal(t, "defaultAgent", rve.Violations[1].Kind)
	}
	assert.Contains(t, err.Error(), `tool "t-missing" at /agents/a1/tools/0`)
}

func TestNotFoundDetail(t *testing.T) {
	assert.Equal(t, "Agent graph not found", NotFound("Agent graph").Error())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", ConcurrentUpdate(errors.New("40001")))))
	assert.False(t, IsRetryable(Conflict("relation already exists", nil)))
	assert.False(t, IsRetryable(Internal("x", nil)))
}
