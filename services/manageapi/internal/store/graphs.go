package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
)

const graphColumns = `tenant_id, project_id, graph_id, name, description, default_agent_id, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGraph(row rowScanner) (*models.Graph, error) {
	var g models.Graph
	var defaultAgent sql.NullString
	err := row.Scan(
		&g.TenantID,
		&g.ProjectID,
		&g.ID,
		&g.Name,
		&g.Description,
		&defaultAgent,
		&g.Version,
		timeColumn{&g.CreatedAt},
		timeColumn{&g.UpdatedAt},
	)
	if err != nil {
		return nil, err
	}
	g.DefaultAgentID = defaultAgent.String
	return &g, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// GetGraph returns the graph or a NotFoundError.
func (t *Tx) GetGraph(ctx context.Context, key models.GraphKey) (*models.Graph, error) {
	query := `SELECT ` + graphColumns + `
		FROM agent_graphs
		WHERE tenant_id = $1 AND project_id = $2 AND graph_id = $3`

	g, err := scanGraph(t.q.QueryRowContext(ctx, query, key.TenantID, key.ProjectID, key.GraphID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("Agent graph")
		}
		return nil, fmt.Errorf("get graph %s: %w", key.GraphID, err)
	}
	return g, nil
}

// ListGraphs returns one page of graphs in the scope and the total count.
func (t *Tx) ListGraphs(ctx context.Context, scope models.Scope, limit, offset int) ([]*models.Graph, int, error) {
	var total int
	err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_graphs WHERE tenant_id = $1 AND project_id = $2`,
		scope.TenantID, scope.ProjectID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count graphs: %w", err)
	}

	query := `SELECT ` + graphColumns + `
		FROM agent_graphs
		WHERE tenant_id = $1 AND project_id = $2
		ORDER BY created_at, graph_id
		LIMIT $3 OFFSET $4`

	rows, err := t.q.QueryContext(ctx, query, scope.TenantID, scope.ProjectID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list graphs: %w", err)
	}
	defer rows.Close()

	var graphs []*models.Graph
	for rows.Next() {
		g, err := scanGraph(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan graph: %w", err)
		}
		graphs = append(graphs, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return graphs, total, nil
}

// InsertGraph creates a graph row at version 1.
func (t *Tx) InsertGraph(ctx context.Context, g *models.Graph) error {
	query := `INSERT INTO agent_graphs (` + graphColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	g.Version = 1
	_, err := t.q.ExecContext(ctx, query,
		g.TenantID, g.ProjectID, g.ID, g.Name, g.Description, nullString(g.DefaultAgentID),
		g.Version, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert graph %s: %w", g.ID, err)
	}
	return nil
}

// UpdateGraph writes the graph's metadata and increments its version.
func (t *Tx) UpdateGraph(ctx context.Context, g *models.Graph) error {
	query := `UPDATE agent_graphs
		SET name = $1, description = $2, default_agent_id = $3, updated_at = $4, version = version + 1
		WHERE tenant_id = $5 AND project_id = $6 AND graph_id = $7`

	res, err := t.q.ExecContext(ctx, query,
		g.Name, g.Description, nullString(g.DefaultAgentID), g.UpdatedAt,
		g.TenantID, g.ProjectID, g.ID,
	)
	if err != nil {
		return fmt.Errorf("update graph %s: %w", g.ID, err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return err
	} else if !ok {
		return apperr.NotFound("Agent graph")
	}
	g.Version++
	return nil
}

// TouchGraph records a scoped mutation of the graph's contents.
func (t *Tx) TouchGraph(ctx context.Context, key models.GraphKey) error {
	query := `UPDATE agent_graphs
		SET updated_at = $1, version = version + 1
		WHERE tenant_id = $2 AND project_id = $3 AND graph_id = $4`

	res, err := t.q.ExecContext(ctx, query, Now(), key.TenantID, key.ProjectID, key.GraphID)
	if err != nil {
		return fmt.Errorf("touch graph %s: %w", key.GraphID, err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return err
	} else if !ok {
		return apperr.NotFound("Agent graph")
	}
	return nil
}

// DeleteGraph removes a graph with its relations, context configuration
// and agents. It reports whether the graph existed.
func (t *Tx) DeleteGraph(ctx context.Context, key models.GraphKey) (bool, error) {
	args := []any{key.TenantID, key.ProjectID, key.GraphID}
	where := ` WHERE tenant_id = $1 AND project_id = $2 AND graph_id = $3`

	for _, table := range []string{"agent_relations", "context_configs", "agents"} {
		if _, err := t.q.ExecContext(ctx, `DELETE FROM `+table+where, args...); err != nil {
			return false, fmt.Errorf("delete %s of graph %s: %w", table, key.GraphID, err)
		}
	}

	res, err := t.q.ExecContext(ctx, `DELETE FROM agent_graphs`+where, args...)
	if err != nil {
		return false, fmt.Errorf("delete graph %s: %w", key.GraphID, err)
	}
	return rowsAffected(res)
}
