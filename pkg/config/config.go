package config

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config manages service configuration as a flat set of dotted keys
// (for example "server.http_port" or "graphs.allow_self_relations").
type Config struct {
	mu     sync.RWMutex
	values map[string]string

	// Define which keys require restart when changed
	restartKeys []string
}

// New creates a new configuration manager
func New() *Config {
	return &Config{
		values: make(map[string]string),
		restartKeys: []string{
			"database.driver",
			"database.host",
			"database.name",
			"server.http_port",
			"server.grpc_port",
		},
	}
}

// Get retrieves a configuration value
func (c *Config) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// GetString retrieves a value, falling back to def when the key is unset or empty.
func (c *Config) GetString(key, def string) string {
	if v := c.Get(key); v != "" {
		return v
	}
	return def
}

// GetInt retrieves an integer value. Unparseable values yield def.
func (c *Config) GetInt(key string, def int) int {
	v := strings.TrimSpace(c.Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetBool retrieves a boolean value. Unparseable values yield def.
func (c *Config) GetBool(key string, def bool) bool {
	v := strings.TrimSpace(c.Get(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetDuration retrieves a duration ("30s", "5m"). Bare integers are read as seconds.
func (c *Config) GetDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(c.Get(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

// GetList splits a comma separated value, dropping empty items.
func (c *Config) GetList(key string) []string {
	v := c.Get(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// GetAll returns a copy of all configuration values
func (c *Config) GetAll() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copy := make(map[string]string)
	for k, v := range c.values {
		copy[k] = v
	}
	return copy
}

// Set stores a single value.
func (c *Config) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Update updates configuration values
func (c *Config) Update(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range values {
		c.values[k] = v
	}
}

// RequiresRestart checks if any changed keys require a restart
func (c *Config) RequiresRestart(oldConfig map[string]string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, key := range c.restartKeys {
		if oldConfig[key] != c.values[key] {
			return true
		}
	}

	return false
}
