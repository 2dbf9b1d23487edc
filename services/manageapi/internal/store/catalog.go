package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
)

const catalogColumns = `tenant_id, project_id, kind, entry_id, name, description, config, created_at, updated_at`

func scanCatalogEntry(row rowScanner) (*models.CatalogEntry, error) {
	var e models.CatalogEntry
	var kind string
	var config rawJSON
	err := row.Scan(
		&e.TenantID,
		&e.ProjectID,
		&kind,
		&e.ID,
		&e.Name,
		&e.Description,
		&config,
		timeColumn{&e.CreatedAt},
		timeColumn{&e.UpdatedAt},
	)
	if err != nil {
		return nil, err
	}
	e.Kind = models.CatalogKind(kind)
	e.Config = []byte(config)
	return &e, nil
}

// rawJSON keeps a JSON column verbatim.
type rawJSON []byte

func (r *rawJSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = nil
	case string:
		*r = []byte(v)
	case []byte:
		*r = append((*r)[:0], v...)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	return nil
}

// ListCatalog returns one page of entries of a kind and the total count.
func (t *Tx) ListCatalog(ctx context.Context, scope models.Scope, kind models.CatalogKind, limit, offset int) ([]*models.CatalogEntry, int, error) {
	var total int
	err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM catalog_entries WHERE tenant_id = $1 AND project_id = $2 AND kind = $3`,
		scope.TenantID, scope.ProjectID, string(kind),
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count %s entries: %w", kind, err)
	}

	query := `SELECT ` + catalogColumns + `
		FROM catalog_entries
		WHERE tenant_id = $1 AND project_id = $2 AND kind = $3
		ORDER BY entry_id
		LIMIT $4 OFFSET $5`

	rows, err := t.q.QueryContext(ctx, query, scope.TenantID, scope.ProjectID, string(kind), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s entries: %w", kind, err)
	}
	defer rows.Close()

	var entries []*models.CatalogEntry
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan catalog entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// GetCatalogEntry returns one entry or a NotFoundError.
func (t *Tx) GetCatalogEntry(ctx context.Context, scope models.Scope, kind models.CatalogKind, id string) (*models.CatalogEntry, error) {
	query := `SELECT ` + catalogColumns + `
		FROM catalog_entries
		WHERE tenant_id = $1 AND project_id = $2 AND kind = $3 AND entry_id = $4`

	e, err := scanCatalogEntry(t.q.QueryRowContext(ctx, query, scope.TenantID, scope.ProjectID, string(kind), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound(catalogResource(kind))
		}
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return e, nil
}

// InsertCatalogEntry creates an entry.
func (t *Tx) InsertCatalogEntry(ctx context.Context, e *models.CatalogEntry) error {
	query := `INSERT INTO catalog_entries (` + catalogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.q.ExecContext(ctx, query,
		e.TenantID, e.ProjectID, string(e.Kind), e.ID, e.Name, e.Description, configValue(e.Config), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", e.Kind, e.ID, err)
	}
	return nil
}

// UpdateCatalogEntry rewrites the mutable columns of an entry.
func (t *Tx) UpdateCatalogEntry(ctx context.Context, e *models.CatalogEntry) error {
	query := `UPDATE catalog_entries
		SET name = $1, description = $2, config = $3, updated_at = $4
		WHERE tenant_id = $5 AND project_id = $6 AND kind = $7 AND entry_id = $8`

	res, err := t.q.ExecContext(ctx, query,
		e.Name, e.Description, configValue(e.Config), e.UpdatedAt,
		e.TenantID, e.ProjectID, string(e.Kind), e.ID,
	)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", e.Kind, e.ID, err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return err
	} else if !ok {
		return apperr.NotFound(catalogResource(e.Kind))
	}
	return nil
}

// DeleteCatalogEntry removes an entry and reports whether it existed.
func (t *Tx) DeleteCatalogEntry(ctx context.Context, scope models.Scope, kind models.CatalogKind, id string) (bool, error) {
	query := `DELETE FROM catalog_entries
		WHERE tenant_id = $1 AND project_id = $2 AND kind = $3 AND entry_id = $4`

	res, err := t.q.ExecContext(ctx, query, scope.TenantID, scope.ProjectID, string(kind), id)
	if err != nil {
		return false, fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	return rowsAffected(res)
}

// catalogLookupBatch bounds the bind parameters of one lookup.
const catalogLookupBatch = 500

// ExistingCatalogIDs returns the subset of ids present in the catalog. In
// a Postgres write transaction the found rows stay share-locked until
// commit, so a concurrent delete waits for the referencing write.
func (t *Tx) ExistingCatalogIDs(ctx context.Context, scope models.Scope, kind models.CatalogKind, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += catalogLookupBatch {
		end := min(start+catalogLookupBatch, len(ids))
		if err := t.lookupCatalogIDs(ctx, scope, kind, ids[start:end], found); err != nil {
			return nil, err
		}
	}
	return found, nil
}

func (t *Tx) lookupCatalogIDs(ctx context.Context, scope models.Scope, kind models.CatalogKind, ids []string, found map[string]bool) error {
	query := `SELECT entry_id
		FROM catalog_entries
		WHERE tenant_id = $1 AND project_id = $2 AND kind = $3
			AND entry_id IN (` + placeholders(4, len(ids)) + `)` + t.lockClause("SHARE")

	args := []any{scope.TenantID, scope.ProjectID, string(kind)}
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("look up %s ids: %w", kind, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		found[id] = true
	}
	return rows.Err()
}

// LockCatalogEntry locks an entry for update and reports whether it
// exists. Writers that validated the entry under a share lock finish
// first, and their agents are visible to the caller's next statement.
func (t *Tx) LockCatalogEntry(ctx context.Context, scope models.Scope, kind models.CatalogKind, id string) (bool, error) {
	query := `SELECT entry_id
		FROM catalog_entries
		WHERE tenant_id = $1 AND project_id = $2 AND kind = $3 AND entry_id = $4` + t.lockClause("UPDATE")

	var got string
	err := t.q.QueryRowContext(ctx, query, scope.TenantID, scope.ProjectID, string(kind), id).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock %s %s: %w", kind, id, err)
	}
	return true, nil
}

func configValue(config []byte) string {
	if len(config) == 0 {
		return "{}"
	}
	return string(config)
}

func catalogResource(kind models.CatalogKind) string {
	switch kind {
	case models.CatalogDataComponent:
		return "Data component"
	case models.CatalogArtifactComponent:
		return "Artifact component"
	default:
		return "Tool"
	}
}
