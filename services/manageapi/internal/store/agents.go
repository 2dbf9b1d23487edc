package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
)

const agentColumns = `tenant_id, project_id, graph_id, agent_id, agent_type, name, description, prompt,
	tools, can_use, data_components, artifact_components, base_url, created_at, updated_at`

func scanAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	var agentType string
	err := row.Scan(
		&a.TenantID,
		&a.ProjectID,
		&a.GraphID,
		&a.ID,
		&agentType,
		&a.Name,
		&a.Description,
		&a.Prompt,
		jsonColumn{&a.Tools},
		jsonColumn{&a.CanUse},
		jsonColumn{&a.DataComponents},
		jsonColumn{&a.ArtifactComponents},
		&a.BaseURL,
		timeColumn{&a.CreatedAt},
		timeColumn{&a.UpdatedAt},
	)
	if err != nil {
		return nil, err
	}
	a.Type = models.AgentType(agentType)
	return &a, nil
}

func (t *Tx) queryAgents(ctx context.Context, query string, args ...any) ([]*models.Agent, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ListAgents returns every agent of a graph in creation order.
func (t *Tx) ListAgents(ctx context.Context, key models.GraphKey) ([]*models.Agent, error) {
	query := `SELECT ` + agentColumns + `
		FROM agents
		WHERE tenant_id = $1 AND project_id = $2 AND graph_id = $3
		ORDER BY created_at, agent_id`

	agents, err := t.queryAgents(ctx, query, key.TenantID, key.ProjectID, key.GraphID)
	if err != nil {
		return nil, fmt.Errorf("list agents of graph %s: %w", key.GraphID, err)
	}
	return agents, nil
}

// ListProjectAgents returns every agent of every graph in the scope.
func (t *Tx) ListProjectAgents(ctx context.Context, scope models.Scope) ([]*models.Agent, error) {
	query := `SELECT ` + agentColumns + `
		FROM agents
		WHERE tenant_id = $1 AND project_id = $2
		ORDER BY graph_id, agent_id`

	agents, err := t.queryAgents(ctx, query, scope.TenantID, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list project agents: %w", err)
	}
	return agents, nil
}

// GetAgent returns one agent or a NotFoundError.
func (t *Tx) GetAgent(ctx context.Context, key models.GraphKey, agentID string) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + `
		FROM agents
		WHERE tenant_id = $1 AND project_id = $2 AND graph_id = $3 AND agent_id = $4`

	a, err := scanAgent(t.q.QueryRowContext(ctx, query, key.TenantID, key.ProjectID, key.GraphID, agentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("Agent")
		}
		return nil, fmt.Errorf("get agent %s: %w", agentID, err)
	}
	return a, nil
}

func agentJSONArgs(a *models.Agent) ([]any, error) {
	values := []any{a.Tools, a.CanUse, a.DataComponents, a.ArtifactComponents}
	args := make([]any, len(values))
	for i, v := range values {
		encoded, err := jsonValue(v)
		if err != nil {
			return nil, fmt.Errorf("encode agent %s: %w", a.ID, err)
		}
		args[i] = encoded
	}
	return args, nil
}

// InsertAgent creates an agent row.
func (t *Tx) InsertAgent(ctx context.Context, a *models.Agent) error {
	jsonArgs, err := agentJSONArgs(a)
	if err != nil {
		return err
	}
	query := `INSERT INTO agents (` + agentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	args := []any{a.TenantID, a.ProjectID, a.GraphID, a.ID, string(a.Type), a.Name, a.Description, a.Prompt}
	args = append(args, jsonArgs...)
	args = append(args, a.BaseURL, a.CreatedAt, a.UpdatedAt)

	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert agent %s: %w", a.ID, err)
	}
	return nil
}

// UpdateAgent rewrites every mutable column of an agent.
func (t *Tx) UpdateAgent(ctx context.Context, a *models.Agent) error {
	jsonArgs, err := agentJSONArgs(a)
	if err != nil {
		return err
	}
	query := `UPDATE agents
		SET agent_type = $1, name = $2, description = $3, prompt = $4,
			tools = $5, can_use = $6, data_components = $7, artifact_components = $8,
			base_url = $9, updated_at = $10
		WHERE tenant_id = $11 AND project_id = $12 AND graph_id = $13 AND agent_id = $14`

	args := []any{string(a.Type), a.Name, a.Description, a.Prompt}
	args = append(args, jsonArgs...)
	args = append(args, a.BaseURL, a.UpdatedAt, a.TenantID, a.ProjectID, a.GraphID, a.ID)

	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update agent %s: %w", a.ID, err)
	}
	if ok, err := rowsAffected(res); err != nil {
		return err
	} else if !ok {
		return apperr.NotFound("Agent")
	}
	return nil
}

// DeleteAgent removes an agent row and reports whether it existed. The
// caller must have removed its relations first.
func (t *Tx) DeleteAgent(ctx context.Context, key models.GraphKey, agentID string) (bool, error) {
	query := `DELETE FROM agents
		WHERE tenant_id = $1 AND project_id = $2 AND graph_id = $3 AND agent_id = $4`

	res, err := t.q.ExecContext(ctx, query, key.TenantID, key.ProjectID, key.GraphID, agentID)
	if err != nil {
		return false, fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	return rowsAffected(res)
}

// CountAgentEdges counts relations that start or end at the agent.
func (t *Tx) CountAgentEdges(ctx context.Context, key models.GraphKey, agentID string) (int, error) {
	query := `SELECT COUNT(*)
		FROM agent_relations
		WHERE tenant_id = $1 AND project_id = $2 AND graph_id = $3
			AND (source_agent_id = $4 OR target_agent_id = $4)`

	var n int
	if err := t.q.QueryRowContext(ctx, query, key.TenantID, key.ProjectID, key.GraphID, agentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count edges of agent %s: %w", agentID, err)
	}
	return n, nil
}
