package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML document and merges it into c. Nested mappings are
// flattened into dotted keys and sequences are joined with commas:
//
//	server:
//	  http_port: 8080
//	auth:
//	  api_keys: [a, b]
//
// becomes "server.http_port" = "8080" and "auth.api_keys" = "a,b".
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return c.LoadYAML(data)
}

// LoadYAML merges a YAML document into c.
func (c *Config) LoadYAML(data []byte) error {
	var doc map[string]interface{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse config: %w", err)
	}

	flat := make(map[string]string)
	if err := flatten("", doc, flat); err != nil {
		return err
	}
	c.Update(flat)
	return nil
}

// LoadEnv overlays environment variables that start with prefix. The first
// underscore after the prefix separates the section from the key, so
// AGENTGRAPH_SERVER_HTTP_PORT maps to "server.http_port". Variables whose
// section is not listed in sections are ignored.
func (c *Config) LoadEnv(prefix string, sections []string) {
	known := make(map[string]bool, len(sections))
	for _, s := range sections {
		known[s] = true
	}

	values := make(map[string]string)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.ToLower(strings.TrimPrefix(name, prefix))
		section, key, ok := strings.Cut(rest, "_")
		if !ok || !known[section] {
			continue
		}
		values[section+"."+key] = value
	}
	c.Update(values)
}

func flatten(prefix string, node interface{}, out map[string]string) error {
	switch v := node.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := flatten(join(prefix, k), v[k], out); err != nil {
				return err
			}
		}
	case []interface{}:
		items := make([]string, 0, len(v))
		for i, item := range v {
			switch item.(type) {
			case map[string]interface{}, []interface{}:
				return fmt.Errorf("config key %s[%d]: nested structures inside lists are not supported", prefix, i)
			}
			items = append(items, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(items, ",")
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprint(v)
	}
	return nil
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
