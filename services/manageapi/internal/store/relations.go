package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
)

const relationColumns = `tenant_id, project_id, graph_id, relation_id, source_agent_id, target_agent_id, relation_type, created_at, updated_at`

func scanRelation(row rowScanner) (*models.Relation, error) {
	var r models.Relation
	var relationType string
	err := row.Scan(
		&r.TenantID,
		&r.ProjectID,
		&r.GraphID,
		&r.ID,
		&r.SourceAgentID,
		&r.TargetAgentID,
		&relationType,
		timeColumn{&r.CreatedAt},
		timeColumn{&r.UpdatedAt},
	)
	if err != nil {
		return nil, err
	}
	r.Type = models.RelationType(relationType)
	return &r, nil
}

// RelationFilter narrows ListRelations. Empty fields match everything.
type RelationFilter struct {
	SourceAgentID string
	TargetAgentID string
	Type          models.RelationType
}

// ListRelations returns the relations of a graph in creation order.
// Relations created in one transaction share a timestamp and fall back to
// id order, which is generation order for ULIDs.
func (t *Tx) ListRelations(ctx context.Context, key models.GraphKey, filter RelationFilter) ([]*models.Relation, error) {
	query := `SELECT ` + relationColumns + `
		FROM agent_relations
		WHERE tenant_id = $1 AND project_id = $2 AND graph_id = $3`
	args := []any{key.TenantID, key.ProjectID, key.GraphID}

	if filter.SourceAgentID != "" {
		args = append(args, filter.SourceAgentID)
		query += fmt.Sprintf(" AND source_agent_id = $%d", len(args))
	}
	if filter.TargetAgentID != "" {
		args = append(args, filter.TargetAgentID)
		query += fmt.Sprintf(" AND target_agent_id = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND relation_type = $%d", len(args))
	}
	query += " ORDER BY created_at, relation_id"

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list relations of graph %s: %w", key.GraphID, err)
	}
	defer rows.Close()

	var relations []*models.Relation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		relations = append(relations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return relations, nil
}

// GetRelation returns one relation or a NotFoundError.
func (t *Tx) GetRelation(ctx context.Context, key models.GraphKey, relationID string) (*models.Relation, error) {
	query := `SELECT ` + relationColumns + `
		FROM agent_relations
		WHERE tenant_id = $1 AND project_id = $2 AND graph_id = $3 AND relation_id = $4`

	r, err := scanRelation(t.q.QueryRowContext(ctx, query, key.TenantID, key.ProjectID, key.GraphID, relationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("Relation")
		}
		return nil, fmt.Errorf("get relation %s: %w", relationID, err)
	}
	return r, nil
}

// InsertRelation creates a relation row.
func (t *Tx) InsertRelation(ctx context.Context, r *models.Relation) error {
	query := `INSERT INTO agent_relations (` + relationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.q.ExecContext(ctx, query,
		r.TenantID, r.ProjectID, r.GraphID, r.ID,
		r.SourceAgentID, r.TargetAgentID, string(r.Type), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert relation %s: %w", r.ID, err)
	}
	return nil
}

// UpdateRelation rewrites the endpoints and type of a relation.
func (t *Tx) UpdateRelation(ctx context.Context, r *models.Relation) error {
	query := `UPDATE agent_relations
		SET source_agent_id = $1, target_agent_id = $2, relation_type = $3, updated_at = $4
		WHERE tenant_id = $5 AND project_id = $6 AND graph_id = $7 AND relation_id = $8`

	res, err := t.q.ExecContext(ctx, query,
		r.SourceAgentID, r.TargetAgentID, string(r.Type), r.UpdatedAt,
		r.TenantID, r.ProjectID, r.GraphID, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update relation %s: %w", r.ID, err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return err
	} else if !ok {
		return apperr.NotFound("Relation")
	}
	return nil
}

// DeleteRelation removes a relation and reports whether it existed.
func (t *Tx) DeleteRelation(ctx context.Context, key models.GraphKey, relationID string) (bool, error) {
	query := `DELETE FROM agent_relations
		WHERE tenant_id = $1 AND project_id = $2 AND graph_id = $3 AND relation_id = $4`

	res, err := t.q.ExecContext(ctx, query, key.TenantID, key.ProjectID, key.GraphID, relationID)
	if err != nil {
		return false, fmt.Errorf("delete relation %s: %w", relationID, err)
	}
	return rowsAffected(res)
}

// DeleteAgentRelations removes every relation touching the agent.
func (t *Tx) DeleteAgentRelations(ctx context.Context, key models.GraphKey, agentID string) (int64, error) {
	query := `DELETE FROM agent_relations
		WHERE tenant_id = $1 AND project_id = $2 AND graph_id = $3
			AND (source_agent_id = $4 OR target_agent_id = $4)`

	res, err := t.q.ExecContext(ctx, query, key.TenantID, key.ProjectID, key.GraphID, agentID)
	if err != nil {
		return 0, fmt.Errorf("delete relations of agent %s: %w", agentID, err)
	}
	return res.RowsAffected()
}
