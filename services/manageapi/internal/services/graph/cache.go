package graph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/agentgraph/agentgraph-open/pkg/database"
	"github.com/agentgraph/agentgraph-open/pkg/logger"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
)

// Revision identifies one committed state of a graph. A graph that is
// deleted and created again restarts at version 1 with a new creation
// time, so both parts are needed.
type Revision struct {
	Created int64
	Version int64
}

// RevisionOf returns the revision of a persisted graph row.
func RevisionOf(g *models.Graph) Revision {
	return Revision{Created: g.CreatedAt.UnixNano(), Version: g.Version}
}

// ViewCache stores materialized full-graph views. Entries are keyed by
// revision, so a write never has to invalidate anything: the next read
// simply misses.
type ViewCache interface {
	Get(ctx context.Context, key models.GraphKey, rev Revision) (*models.FullGraphView, bool)
	Set(ctx context.Context, key models.GraphKey, rev Revision, view *models.FullGraphView)
}

// RedisViewCache keeps msgpack-encoded views in Redis.
type RedisViewCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewRedisViewCache creates a Redis-backed view cache
func NewRedisViewCache(redisDB *database.Redis, ttl time.Duration, logger *logger.Logger) (*RedisViewCache, error) {
	if redisDB == nil {
		return nil, fmt.Errorf("redis connection is required")
	}
	client := redisDB.Client()
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &RedisViewCache{client: client, ttl: ttl, logger: logger}, nil
}

func cacheKey(key models.GraphKey, rev Revision) string {
	return fmt.Sprintf("agentgraph:full:%s:%s:%s:%d:v%d", key.TenantID, key.ProjectID, key.GraphID, rev.Created, rev.Version)
}

// Get returns the cached view, if any. Cache failures count as misses.
func (c *RedisViewCache) Get(ctx context.Context, key models.GraphKey, rev Revision) (*models.FullGraphView, bool) {
	data, err := c.client.Get(ctx, cacheKey(key, rev)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warnf("Failed to read cached view of graph %s: %v", key.GraphID, err)
		}
		return nil, false
	}

	view, err := decodeView(data)
	if err != nil {
		c.logger.Warnf("Failed to decode cached view of graph %s: %v", key.GraphID, err)
		return nil, false
	}
	return view, true
}

// Set stores a view for its revision.
func (c *RedisViewCache) Set(ctx context.Context, key models.GraphKey, rev Revision, view *models.FullGraphView) {
	data, err := encodeView(view)
	if err != nil {
		c.logger.Warnf("Failed to encode view of graph %s: %v", key.GraphID, err)
		return
	}
	if err := c.client.Set(ctx, cacheKey(key, rev), data, c.ttl).Err(); err != nil {
		c.logger.Warnf("Failed to cache view of graph %s: %v", key.GraphID, err)
	}
}

func encodeView(view *models.FullGraphView) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(view); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeView(data []byte) (*models.FullGraphView, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	var view models.FullGraphView
	if err := dec.Decode(&view); err != nil {
		return nil, err
	}

	// msgpack restores timestamps in the local zone.
	view.CreatedAt = view.CreatedAt.UTC()
	view.UpdatedAt = view.UpdatedAt.UTC()
	for id, a := range view.Agents {
		a.CreatedAt = a.CreatedAt.UTC()
		a.UpdatedAt = a.UpdatedAt.UTC()
		view.Agents[id] = a
	}
	if cc := view.ContextConfig; cc != nil {
		cc.CreatedAt = cc.CreatedAt.UTC()
		cc.UpdatedAt = cc.UpdatedAt.UTC()
	}
	return &view, nil
}
