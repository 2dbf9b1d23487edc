package store

import (
	"context"
	"fmt"

	"github.com/agentgraph/agentgraph-open/pkg/database"
)

// The two dialects share table and column names; only column types differ.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS agent_graphs (
		tenant_id        TEXT        NOT NULL,
		project_id       TEXT        NOT NULL,
		graph_id         TEXT        NOT NULL,
		name             TEXT        NOT NULL,
		description      TEXT        NOT NULL DEFAULT '',
		default_agent_id TEXT,
		version          BIGINT      NOT NULL DEFAULT 1,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, project_id, graph_id)
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		tenant_id           TEXT        NOT NULL,
		project_id          TEXT        NOT NULL,
		graph_id            TEXT        NOT NULL,
		agent_id            TEXT        NOT NULL,
		agent_type          TEXT        NOT NULL CHECK (agent_type IN ('internal', 'external')),
		name                TEXT        NOT NULL,
		description         TEXT        NOT NULL DEFAULT '',
		prompt              TEXT        NOT NULL DEFAULT '',
		tools               JSONB       NOT NULL DEFAULT '[]',
		can_use             JSONB       NOT NULL DEFAULT '[]',
		data_components     JSONB       NOT NULL DEFAULT '[]',
		artifact_components JSONB       NOT NULL DEFAULT '[]',
		base_url            TEXT        NOT NULL DEFAULT '',
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, project_id, graph_id, agent_id),
		FOREIGN KEY (tenant_id, project_id, graph_id)
			REFERENCES agent_graphs (tenant_id, project_id, graph_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS agent_relations (
		tenant_id       TEXT        NOT NULL,
		project_id      TEXT        NOT NULL,
		graph_id        TEXT        NOT NULL,
		relation_id     TEXT        NOT NULL,
		source_agent_id TEXT        NOT NULL,
		target_agent_id TEXT        NOT NULL,
		relation_type   TEXT        NOT NULL CHECK (relation_type IN ('transfer', 'delegate')),
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, project_id, graph_id, relation_id),
		FOREIGN KEY (tenant_id, project_id, graph_id, source_agent_id)
			REFERENCES agents (tenant_id, project_id, graph_id, agent_id),
		FOREIGN KEY (tenant_id, project_id, graph_id, target_agent_id)
			REFERENCES agents (tenant_id, project_id, graph_id, agent_id)
	)`,
	`CREATE INDEX IF NOT EXISTS agent_relations_source_idx
		ON agent_relations (tenant_id, project_id, graph_id, source_agent_id)`,
	`CREATE INDEX IF NOT EXISTS agent_relations_target_idx
		ON agent_relations (tenant_id, project_id, graph_id, target_agent_id)`,
	`CREATE TABLE IF NOT EXISTS context_configs (
		tenant_id         TEXT        NOT NULL,
		project_id        TEXT        NOT NULL,
		graph_id          TEXT        NOT NULL,
		context_config_id TEXT        NOT NULL,
		name              TEXT        NOT NULL DEFAULT '',
		description       TEXT        NOT NULL DEFAULT '',
		context_sources   JSONB       NOT NULL DEFAULT '[]',
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, project_id, graph_id),
		FOREIGN KEY (tenant_id, project_id, graph_id)
			REFERENCES agent_graphs (tenant_id, project_id, graph_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_entries (
		tenant_id   TEXT        NOT NULL,
		project_id  TEXT        NOT NULL,
		kind        TEXT        NOT NULL CHECK (kind IN ('tool', 'dataComponent', 'artifactComponent')),
		entry_id    TEXT        NOT NULL,
		name        TEXT        NOT NULL,
		description TEXT        NOT NULL DEFAULT '',
		config      JSONB       NOT NULL DEFAULT '{}',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, project_id, kind, entry_id)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS agent_graphs (
		tenant_id        TEXT      NOT NULL,
		project_id       TEXT      NOT NULL,
		graph_id         TEXT      NOT NULL,
		name             TEXT      NOT NULL,
		description      TEXT      NOT NULL DEFAULT '',
		default_agent_id TEXT,
		version          INTEGER   NOT NULL DEFAULT 1,
		created_at       TIMESTAMP NOT NULL,
		updated_at       TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, project_id, graph_id)
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		tenant_id           TEXT      NOT NULL,
		project_id          TEXT      NOT NULL,
		graph_id            TEXT      NOT NULL,
		agent_id            TEXT      NOT NULL,
		agent_type          TEXT      NOT NULL CHECK (agent_type IN ('internal', 'external')),
		name                TEXT      NOT NULL,
		description         TEXT      NOT NULL DEFAULT '',
		prompt              TEXT      NOT NULL DEFAULT '',
		tools               TEXT      NOT NULL DEFAULT '[]',
		can_use             TEXT      NOT NULL DEFAULT '[]',
		data_components     TEXT      NOT NULL DEFAULT '[]',
		artifact_components TEXT      NOT NULL DEFAULT '[]',
		base_url            TEXT      NOT NULL DEFAULT '',
		created_at          TIMESTAMP NOT NULL,
		updated_at          TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, project_id, graph_id, agent_id),
		FOREIGN KEY (tenant_id, project_id, graph_id)
			REFERENCES agent_graphs (tenant_id, project_id, graph_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS agent_relations (
		tenant_id       TEXT      NOT NULL,
		project_id      TEXT      NOT NULL,
		graph_id        TEXT      NOT NULL,
		relation_id     TEXT      NOT NULL,
		source_agent_id TEXT      NOT NULL,
		target_agent_id TEXT      NOT NULL,
		relation_type   TEXT      NOT NULL CHECK (relation_type IN ('transfer', 'delegate')),
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, project_id, graph_id, relation_id),
		FOREIGN KEY (tenant_id, project_id, graph_id, source_agent_id)
			REFERENCES agents (tenant_id, project_id, graph_id, agent_id),
		FOREIGN KEY (tenant_id, project_id, graph_id, target_agent_id)
			REFERENCES agents (tenant_id, project_id, graph_id, agent_id)
	)`,
	`CREATE INDEX IF NOT EXISTS agent_relations_source_idx
		ON agent_relations (tenant_id, project_id, graph_id, source_agent_id)`,
	`CREATE INDEX IF NOT EXISTS agent_relations_target_idx
		ON agent_relations (tenant_id, project_id, graph_id, target_agent_id)`,
	`CREATE TABLE IF NOT EXISTS context_configs (
		tenant_id         TEXT      NOT NULL,
		project_id        TEXT      NOT NULL,
		graph_id          TEXT      NOT NULL,
		context_config_id TEXT      NOT NULL,
		name              TEXT      NOT NULL DEFAULT '',
		description       TEXT      NOT NULL DEFAULT '',
		context_sources   TEXT      NOT NULL DEFAULT '[]',
		created_at        TIMESTAMP NOT NULL,
		updated_at        TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, project_id, graph_id),
		FOREIGN KEY (tenant_id, project_id, graph_id)
			REFERENCES agent_graphs (tenant_id, project_id, graph_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_entries (
		tenant_id   TEXT      NOT NULL,
		project_id  TEXT      NOT NULL,
		kind        TEXT      NOT NULL CHECK (kind IN ('tool', 'dataComponent', 'artifactComponent')),
		entry_id    TEXT      NOT NULL,
		name        TEXT      NOT NULL,
		description TEXT      NOT NULL DEFAULT '',
		config      TEXT      NOT NULL DEFAULT '{}',
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, project_id, kind, entry_id)
	)`,
}

// Migrate creates the schema for the handle's dialect. It is safe to run
// repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	statements := postgresSchema
	if s.db.Driver() == database.DriverSQLite {
		statements = sqliteSchema
	}
	for i, stmt := range statements {
		if _, err := s.db.SQL().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i+1, err)
		}
	}
	return nil
}
