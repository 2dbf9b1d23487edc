package models

import (
	"encoding/json"
	"time"
)

// Scope identifies the tenant and project every entity belongs to.
type Scope struct {
	TenantID  string
	ProjectID string
}

// GraphKey addresses a single graph inside a scope.
type GraphKey struct {
	Scope
	GraphID string
}

// Key returns the GraphKey for graphID in this scope.
func (s Scope) Key(graphID string) GraphKey {
	return GraphKey{Scope: s, GraphID: graphID}
}

// AgentType discriminates the agent variants.
type AgentType string

const (
	AgentTypeInternal AgentType = "internal"
	AgentTypeExternal AgentType = "external"
)

// Valid reports whether t is a recognised agent type.
func (t AgentType) Valid() bool {
	return t == AgentTypeInternal || t == AgentTypeExternal
}

// RelationType is the kind of a directed edge between two agents.
type RelationType string

const (
	RelationTransfer RelationType = "transfer"
	RelationDelegate RelationType = "delegate"
)

// RelationTypes lists the recognised relation types in a stable order.
var RelationTypes = []RelationType{RelationTransfer, RelationDelegate}

// Valid reports whether t is a recognised relation type.
func (t RelationType) Valid() bool {
	return t == RelationTransfer || t == RelationDelegate
}

// ToolSelection narrows an agent's use of a catalog tool.
type ToolSelection struct {
	ToolID        string   `json:"toolId"`
	ToolSelection []string `json:"toolSelection,omitempty"`
}

// Graph is the persisted graph row.
type Graph struct {
	TenantID       string
	ProjectID      string
	ID             string
	Name           string
	Description    string
	DefaultAgentID string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Key returns the graph's address.
func (g *Graph) Key() GraphKey {
	return GraphKey{Scope: Scope{TenantID: g.TenantID, ProjectID: g.ProjectID}, GraphID: g.ID}
}

// Agent is a persisted agent row. Internal-only fields are empty for
// external agents and BaseURL is empty for internal ones.
type Agent struct {
	GraphKey
	ID                 string
	Type               AgentType
	Name               string
	Description        string
	Prompt             string
	Tools              []string
	CanUse             []ToolSelection
	DataComponents     []string
	ArtifactComponents []string
	BaseURL            string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsInternal reports whether the agent is an internal agent.
func (a *Agent) IsInternal() bool {
	return a.Type == AgentTypeInternal
}

// SameContent reports whether two agents carry the same user-visible fields.
func (a *Agent) SameContent(b *Agent) bool {
	return a.Type == b.Type &&
		a.Name == b.Name &&
		a.Description == b.Description &&
		a.Prompt == b.Prompt &&
		a.BaseURL == b.BaseURL &&
		equalStrings(a.Tools, b.Tools) &&
		equalStrings(a.DataComponents, b.DataComponents) &&
		equalStrings(a.ArtifactComponents, b.ArtifactComponents) &&
		equalSelections(a.CanUse, b.CanUse)
}

// Triple is the identity of a relation edge.
type Triple struct {
	Source string
	Target string
	Type   RelationType
}

// Relation is a persisted edge row.
type Relation struct {
	GraphKey
	ID            string
	SourceAgentID string
	TargetAgentID string
	Type          RelationType
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Triple returns the edge identity of r.
func (r *Relation) Triple() Triple {
	return Triple{Source: r.SourceAgentID, Target: r.TargetAgentID, Type: r.Type}
}

// Context source types.
const (
	ContextSourceStatic = "static"
	ContextSourceFetch  = "fetch"
)

// ContextSource is one entry of a context configuration. Type selects
// which of the remaining fields are meaningful.
type ContextSource struct {
	Type    string            `json:"type"`
	ID      string            `json:"id,omitempty"`
	Content string            `json:"content,omitempty"`
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ContextConfig is the persisted context configuration owned by a graph.
type ContextConfig struct {
	GraphKey
	ID          string
	Name        string
	Description string
	Sources     []ContextSource
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CatalogKind is the kind of a project-scoped catalog entry.
type CatalogKind string

const (
	CatalogTool              CatalogKind = "tool"
	CatalogDataComponent     CatalogKind = "dataComponent"
	CatalogArtifactComponent CatalogKind = "artifactComponent"
)

// Valid reports whether k is a recognised catalog kind.
func (k CatalogKind) Valid() bool {
	switch k {
	case CatalogTool, CatalogDataComponent, CatalogArtifactComponent:
		return true
	}
	return false
}

// CatalogEntry is a tool, data component or artifact component.
type CatalogEntry struct {
	Scope
	Kind        CatalogKind
	ID          string
	Name        string
	Description string
	Config      json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalSelections(a, b []ToolSelection) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ToolID != b[i].ToolID || !equalStrings(a[i].ToolSelection, b[i].ToolSelection) {
			return false
		}
	}
	return true
}
