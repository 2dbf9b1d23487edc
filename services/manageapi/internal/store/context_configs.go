package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
)

const contextConfigColumns = `tenant_id, project_id, graph_id, context_config_id, name, description, context_sources, created_at, updated_at`

// GetContextConfig returns the graph's context configuration, or nil when
// the graph has none.
func (t *Tx) GetContextConfig(ctx context.Context, key models.GraphKey) (*models.ContextConfig, error) {
	query := `SELECT ` + contextConfigColumns + `
		FROM context_configs
		WHERE tenant_id = $1 AND project_id = $2 AND graph_id = $3`

	var c models.ContextConfig
	err := t.q.QueryRowContext(ctx, query, key.TenantID, key.ProjectID, key.GraphID).Scan(
		&c.TenantID,
		&c.ProjectID,
		&c.GraphID,
		&c.ID,
		&c.Name,
		&c.Description,
		jsonColumn{&c.Sources},
		timeColumn{&c.CreatedAt},
		timeColumn{&c.UpdatedAt},
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get context config of graph %s: %w", key.GraphID, err)
	}
	return &c, nil
}

// UpsertContextConfig creates or replaces the graph's context configuration.
func (t *Tx) UpsertContextConfig(ctx context.Context, c *models.ContextConfig) error {
	sources, err := jsonValue(c.Sources)
	if err != nil {
		return fmt.Errorf("encode context sources: %w", err)
	}
	query := `INSERT INTO context_configs (` + contextConfigColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, project_id, graph_id) DO UPDATE
		SET context_config_id = excluded.context_config_id,
			name = excluded.name,
			description = excluded.description,
			context_sources = excluded.context_sources,
			updated_at = excluded.updated_at`

	_, err = t.q.ExecContext(ctx, query,
		c.TenantID, c.ProjectID, c.GraphID, c.ID, c.Name, c.Description, sources, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert context config of graph %s: %w", c.GraphID, err)
	}
	return nil
}

// DeleteContextConfig removes the graph's context configuration.
func (t *Tx) DeleteContextConfig(ctx context.Context, key models.GraphKey) (bool, error) {
	query := `DELETE FROM context_configs
		WHERE tenant_id = $1 AND project_id = $2 AND graph_id = $3`

	res, err := t.q.ExecContext(ctx, query, key.TenantID, key.ProjectID, key.GraphID)
	if err != nil {
		return false, fmt.Errorf("delete context config of graph %s: %w", key.GraphID, err)
	}
	return rowsAffected(res)
}
