package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentgraph/agentgraph-open/pkg/database"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
)

// Store is the relational storage of graphs, agents, relations, context
// configurations and catalog entries.
type Store struct {
	db *database.DB
}

// New creates a store over an open database handle.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying handle.
func (s *Store) DB() *database.DB {
	return s.db
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// InTx runs fn in a write transaction. Errors are classified into the
// apperr taxonomy; the transaction is rolled back on any error.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	err := s.db.InTx(ctx, func(sqlTx *sql.Tx) error {
		return fn(&Tx{q: sqlTx, driver: s.db.Driver()})
	})
	return Classify(err)
}

// Read runs fn in a read-only transaction.
func (s *Store) Read(ctx context.Context, fn func(tx *Tx) error) error {
	err := s.db.ReadTx(ctx, func(sqlTx *sql.Tx) error {
		return fn(&Tx{q: sqlTx, driver: s.db.Driver(), readOnly: true})
	})
	return Classify(err)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx exposes the repository operations inside one transaction.
type Tx struct {
	q        querier
	driver   database.Driver
	readOnly bool
}

// lockClause returns the row-locking suffix for a SELECT. SQLite has no
// row locks and read-only Postgres transactions cannot take them.
func (t *Tx) lockClause(mode string) string {
	if t.driver != database.DriverPostgres || t.readOnly {
		return ""
	}
	return " FOR " + mode
}

// LockGraph serializes writers of one graph for the rest of the
// transaction. SQLite write transactions already hold the database lock.
func (t *Tx) LockGraph(ctx context.Context, key models.GraphKey) error {
	if t.driver != database.DriverPostgres {
		return nil
	}
	lockKey := key.TenantID + "/" + key.ProjectID + "/" + key.GraphID
	if _, err := t.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return fmt.Errorf("lock graph %s: %w", key.GraphID, err)
	}
	return nil
}

// Classify maps storage errors onto the apperr taxonomy. Errors that
// already belong to it pass through unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrSchema),
		errors.Is(err, apperr.ErrReference),
		errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrInternal):
		return err
	case database.IsCanceled(err):
		return apperr.Internal("request cancelled", err)
	case database.IsConcurrencyConflict(err):
		return apperr.ConcurrentUpdate(err)
	case database.IsUniqueViolation(err):
		return apperr.Conflict("resource already exists", err)
	case errors.Is(err, sql.ErrNoRows):
		return apperr.NotFound("Resource")
	case database.IsForeignKeyViolation(err):
		return apperr.Internal("dangling reference", err)
	default:
		return apperr.Internal("storage failure", err)
	}
}

// Now returns the timestamp stored for a write, truncated to the
// precision both dialects keep.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// jsonValue encodes v for a JSON column. Nil slices are stored as [].
func jsonValue(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return "[]", nil
	}
	return string(data), nil
}

// jsonColumn decodes a JSON column into dst. It accepts the text and
// binary forms the two drivers return.
type jsonColumn struct {
	dst any
}

func (c jsonColumn) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, c.dst)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// timeColumn decodes a timestamp column stored natively (Postgres) or as
// text (SQLite).
type timeColumn struct {
	dst *time.Time
}

func (c timeColumn) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c.dst = time.Time{}
		return nil
	case time.Time:
		*c.dst = v.UTC()
		return nil
	case int64:
		*c.dst = time.Unix(v, 0).UTC()
		return nil
	case []byte:
		return c.parse(string(v))
	case string:
		return c.parse(v)
	default:
		return fmt.Errorf("unsupported timestamp column type %T", src)
	}
}

func (c timeColumn) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*c.dst = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

// placeholders returns "$start, $start+1, ..." for n arguments.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
