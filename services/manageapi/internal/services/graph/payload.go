package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
)

const payloadSchemaURL = "payloads.json"

// Read-only fields returned by GET are accepted and ignored on submission
// so a read view can be sent back unchanged.
const payloadSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"$defs": {
		"id": {
			"type": "string",
			"minLength": 1,
			"maxLength": 256,
			"pattern": "^[A-Za-z0-9][A-Za-z0-9_.:-]*$"
		},
		"idList": {
			"type": ["array", "null"],
			"items": {"$ref": "#/$defs/id"}
		},
		"nullableString": {"type": ["string", "null"]},
		"readOnly": {},
		"toolSelection": {
			"type": "object",
			"required": ["toolId"],
			"properties": {
				"toolId": {"$ref": "#/$defs/id"},
				"toolSelection": {"type": ["array", "null"], "items": {"type": "string"}}
			},
			"additionalProperties": false
		},
		"agent": {
			"type": "object",
			"properties": {
				"id": {"$ref": "#/$defs/id"},
				"type": {"enum": ["internal", "external"]},
				"name": {"type": "string", "minLength": 1},
				"description": {"$ref": "#/$defs/nullableString"},
				"prompt": {"$ref": "#/$defs/nullableString"},
				"tools": {"$ref": "#/$defs/idList"},
				"canUse": {"type": ["array", "null"], "items": {"$ref": "#/$defs/toolSelection"}},
				"dataComponents": {"$ref": "#/$defs/idList"},
				"artifactComponents": {"$ref": "#/$defs/idList"},
				"canTransferTo": {"$ref": "#/$defs/idList"},
				"canDelegateTo": {"$ref": "#/$defs/idList"},
				"baseUrl": {"type": ["string", "null"], "pattern": "^https?://"},
				"createdAt": {"$ref": "#/$defs/readOnly"},
				"updatedAt": {"$ref": "#/$defs/readOnly"}
			},
			"additionalProperties": false
		},
		"contextSource": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {"enum": ["static", "fetch"]},
				"id": {"$ref": "#/$defs/id"},
				"content": {"type": "string"},
				"url": {"type": "string", "pattern": "^https?://"},
				"method": {"enum": ["GET", "POST"]},
				"headers": {"type": "object", "additionalProperties": {"type": "string"}}
			},
			"allOf": [
				{
					"if": {"properties": {"type": {"const": "static"}}},
					"then": {"required": ["content"]}
				},
				{
					"if": {"properties": {"type": {"const": "fetch"}}},
					"then": {"required": ["url"]}
				}
			],
			"additionalProperties": false
		},
		"contextConfig": {
			"type": ["object", "null"],
			"properties": {
				"id": {"$ref": "#/$defs/id"},
				"name": {"$ref": "#/$defs/nullableString"},
				"description": {"$ref": "#/$defs/nullableString"},
				"contextSources": {"type": ["array", "null"], "items": {"$ref": "#/$defs/contextSource"}},
				"createdAt": {"$ref": "#/$defs/readOnly"},
				"updatedAt": {"$ref": "#/$defs/readOnly"}
			},
			"additionalProperties": false
		},
		"fullGraph": {
			"type": "object",
			"required": ["id", "agents"],
			"properties": {
				"id": {"$ref": "#/$defs/id"},
				"name": {"type": "string", "minLength": 1},
				"description": {"$ref": "#/$defs/nullableString"},
				"defaultAgentId": {"type": ["string", "null"]},
				"agents": {
					"type": "object",
					"minProperties": 1,
					"propertyNames": {"$ref": "#/$defs/id"},
					"additionalProperties": {"$ref": "#/$defs/agent"}
				},
				"contextConfig": {"$ref": "#/$defs/contextConfig"},
				"version": {"$ref": "#/$defs/readOnly"},
				"createdAt": {"$ref": "#/$defs/readOnly"},
				"updatedAt": {"$ref": "#/$defs/readOnly"}
			},
			"additionalProperties": false
		},
		"graph": {
			"type": "object",
			"properties": {
				"id": {"$ref": "#/$defs/id"},
				"name": {"type": "string", "minLength": 1},
				"description": {"$ref": "#/$defs/nullableString"},
				"defaultAgentId": {"type": ["string", "null"]},
				"contextConfigId": {"$ref": "#/$defs/readOnly"},
				"version": {"$ref": "#/$defs/readOnly"},
				"createdAt": {"$ref": "#/$defs/readOnly"},
				"updatedAt": {"$ref": "#/$defs/readOnly"}
			},
			"additionalProperties": false
		},
		"relation": {
			"type": "object",
			"required": ["sourceAgentId", "targetAgentId", "relationType"],
			"properties": {
				"id": {"$ref": "#/$defs/id"},
				"graphId": {"$ref": "#/$defs/readOnly"},
				"sourceAgentId": {"$ref": "#/$defs/id"},
				"targetAgentId": {"$ref": "#/$defs/id"},
				"relationType": {"enum": ["transfer", "delegate"]},
				"createdAt": {"$ref": "#/$defs/readOnly"},
				"updatedAt": {"$ref": "#/$defs/readOnly"}
			},
			"additionalProperties": false
		},
		"catalogEntry": {
			"type": "object",
			"properties": {
				"id": {"$ref": "#/$defs/id"},
				"kind": {"$ref": "#/$defs/readOnly"},
				"name": {"type": "string", "minLength": 1},
				"description": {"$ref": "#/$defs/nullableString"},
				"config": {"type": "object"},
				"createdAt": {"$ref": "#/$defs/readOnly"},
				"updatedAt": {"$ref": "#/$defs/readOnly"}
			},
			"additionalProperties": false
		}
	}
}`

var payloadSchemas = mustCompilePayloadSchemas("fullGraph", "agent", "graph", "relation", "catalogEntry")

func mustCompilePayloadSchemas(names ...string) map[string]*jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(payloadSchemaURL, strings.NewReader(payloadSchema)); err != nil {
		panic(fmt.Sprintf("payload schema: %v", err))
	}

	schemas := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		s, err := c.Compile(payloadSchemaURL + "#/$defs/" + name)
		if err != nil {
			panic(fmt.Sprintf("compile payload schema %s: %v", name, err))
		}
		schemas[name] = s
	}
	return schemas
}

// DecodeFullGraph validates and decodes a full-graph submission.
func DecodeFullGraph(body []byte) (models.FullGraphInput, error) {
	var in models.FullGraphInput
	if err := decodePayload("fullGraph", body, &in); err != nil {
		return in, err
	}

	schemaErr := &apperr.SchemaValidationError{}
	for key, agent := range in.Agents {
		if agent.ID != "" && agent.ID != key {
			schemaErr.Errors = append(schemaErr.Errors, apperr.FieldError{
				Pointer: "/agents/" + key + "/id",
				Reason:  fmt.Sprintf("must match its key %q", key),
			})
		}
		agent.ID = key
		in.Agents[key] = agent
	}
	if len(schemaErr.Errors) > 0 {
		return in, schemaErr
	}
	return in, nil
}

// DecodeAgent validates and decodes a scoped agent body.
func DecodeAgent(body []byte) (models.AgentInput, error) {
	var in models.AgentInput
	err := decodePayload("agent", body, &in)
	return in, err
}

// DecodeGraph validates and decodes a graph metadata body.
func DecodeGraph(body []byte) (models.GraphInput, error) {
	var in models.GraphInput
	err := decodePayload("graph", body, &in)
	return in, err
}

// DecodeRelation validates and decodes a scoped relation body.
func DecodeRelation(body []byte) (models.RelationInput, error) {
	var in models.RelationInput
	err := decodePayload("relation", body, &in)
	return in, err
}

// DecodeCatalogEntry validates and decodes a catalog entry body.
func DecodeCatalogEntry(body []byte) (models.CatalogInput, error) {
	var in models.CatalogInput
	err := decodePayload("catalogEntry", body, &in)
	return in, err
}

func decodePayload(schemaName string, body []byte, out any) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return apperr.NewSchemaError("", "request body is not valid JSON")
	}
	if dec.More() {
		return apperr.NewSchemaError("", "request body must contain a single JSON document")
	}

	if err := payloadSchemas[schemaName].Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return schemaErrorFrom(ve)
		}
		return apperr.Internal("payload validation", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperr.NewSchemaError("", err.Error())
	}
	return nil
}

// schemaErrorFrom flattens a validation error tree into its leaf causes.
func schemaErrorFrom(ve *jsonschema.ValidationError) *apperr.SchemaValidationError {
	var leaves []apperr.FieldError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, apperr.FieldError{Pointer: e.InstanceLocation, Reason: e.Message})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)

	sort.SliceStable(leaves, func(i, j int) bool { return leaves[i].Pointer < leaves[j].Pointer })
	out := &apperr.SchemaValidationError{}
	seen := make(map[apperr.FieldError]bool, len(leaves))
	for _, fe := range leaves {
		if !seen[fe] {
			seen[fe] = true
			out.Errors = append(out.Errors, fe)
		}
	}
	return out
}
