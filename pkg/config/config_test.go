package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileFlattensNestedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentgraph.yaml")
	doc := `
server:
  http_port: 9090
  request_timeout: 15s
database:
  driver: sqlite
  path: /tmp/graphs.db
auth:
  api_keys:
    - "t1:$2a$10$abc"
    - "t2:$2a$10$def"
graphs:
  allow_self_relations: false
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg := New()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, 9090, cfg.GetInt("server.http_port", 8080))
	assert.Equal(t, 15*time.Second, cfg.GetDuration("server.request_timeout", time.Second))
	assert.Equal(t, "sqlite", cfg.Get("database.driver"))
	assert.Equal(t, []string{"t1:$2a$10$abc", "t2:$2a$10$def"}, cfg.GetList("auth.api_keys"))
	assert.False(t, cfg.GetBool("graphs.allow_self_relations", true))
}

func TestTypedGettersFallBack(t *testing.T) {
	cfg := New()
	cfg.Update(map[string]string{
		"server.http_port":   "not-a-number",
		"cache.ttl":          "120",
		"graphs.allow_self":  "maybe",
		"database.host":      "",
		"database.max_conns": "25",
	})

	assert.Equal(t, 8080, cfg.GetInt("server.http_port", 8080))
	assert.Equal(t, 2*time.Minute, cfg.GetDuration("cache.ttl", time.Minute))
	assert.True(t, cfg.GetBool("graphs.allow_self", true))
	assert.Equal(t, "localhost", cfg.GetString("database.host", "localhost"))
	assert.Equal(t, 25, cfg.GetInt("database.max_conns", 10))
}

func TestLoadEnvOverlaysKnownSections(t *testing.T) {
	t.Setenv("AGENTGRAPH_SERVER_HTTP_PORT", "7000")
	t.Setenv("AGENTGRAPH_UNKNOWN_VALUE", "x")

	cfg := New()
	cfg.Set("server.http_port", "8080")
	cfg.LoadEnv("AGENTGRAPH_", []string{"server", "database"})

	assert.Equal(t, "7000", cfg.Get("server.http_port"))
	assert.Empty(t, cfg.Get("unknown.value"))
}

func TestRequiresRestart(t *testing.T) {
	cfg := New()
	cfg.Set("server.http_port", "8080")
	old := cfg.GetAll()

	cfg.Set("logging.level", "DEBUG")
	assert.False(t, cfg.RequiresRestart(old))

	cfg.Set("server.http_port", "9000")
	assert.True(t, cfg.RequiresRestart(old))
}

func TestLoadYAMLEmptyDocument(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.LoadYAML([]byte("")))
	assert.Empty(t, cfg.GetAll())
}
