package models

import (
	"encoding/json"
	"time"
)

// FullGraphView is the materialized read model of a graph.
type FullGraphView struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Description    string               `json:"description"`
	DefaultAgentID string               `json:"defaultAgentId,omitempty"`
	Agents         map[string]AgentView `json:"agents"`
	ContextConfig  *ContextConfigView   `json:"contextConfig,omitempty"`
	Version        int64                `json:"version"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// AgentView is one agent of a FullGraphView and the body of the scoped
// agent endpoints. The JSON form depends on Type: external agents never
// carry the internal-only fields or the derived relation arrays.
type AgentView struct {
	ID                 string          `json:"id"`
	Type               AgentType       `json:"type"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	Prompt             string          `json:"prompt,omitempty"`
	Tools              []string        `json:"tools,omitempty"`
	CanUse             []ToolSelection `json:"canUse,omitempty"`
	DataComponents     []string        `json:"dataComponents,omitempty"`
	ArtifactComponents []string        `json:"artifactComponents,omitempty"`
	CanTransferTo      []string        `json:"canTransferTo,omitempty"`
	CanDelegateTo      []string        `json:"canDelegateTo,omitempty"`
	BaseURL            string          `json:"baseUrl,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

type internalAgentJSON struct {
	ID                 string          `json:"id"`
	Type               AgentType       `json:"type"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	Prompt             string          `json:"prompt"`
	Tools              []string        `json:"tools"`
	CanUse             []ToolSelection `json:"canUse"`
	DataComponents     []string        `json:"dataComponents"`
	ArtifactComponents []string        `json:"artifactComponents"`
	CanTransferTo      []string        `json:"canTransferTo"`
	CanDelegateTo      []string        `json:"canDelegateTo"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

type externalAgentJSON struct {
	ID          string    `json:"id"`
	Type        AgentType `json:"type"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	BaseURL     string    `json:"baseUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// MarshalJSON renders the variant-specific shape. Lists on internal
// agents are always arrays, never null.
func (a AgentView) MarshalJSON() ([]byte, error) {
	if a.Type == AgentTypeExternal {
		return json.Marshal(externalAgentJSON{
			ID:          a.ID,
			Type:        a.Type,
			Name:        a.Name,
			Description: a.Description,
			BaseURL:     a.BaseURL,
			CreatedAt:   a.CreatedAt,
			UpdatedAt:   a.UpdatedAt,
		})
	}
	return json.Marshal(internalAgentJSON{
		ID:                 a.ID,
		Type:               a.Type,
		Name:               a.Name,
		Description:        a.Description,
		Prompt:             a.Prompt,
		Tools:              nonNil(a.Tools),
		CanUse:             nonNil(a.CanUse),
		DataComponents:     nonNil(a.DataComponents),
		ArtifactComponents: nonNil(a.ArtifactComponents),
		CanTransferTo:      nonNil(a.CanTransferTo),
		CanDelegateTo:      nonNil(a.CanDelegateTo),
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	})
}

// ContextConfigView is the embedded context configuration of a graph.
type ContextConfigView struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	ContextSources []ContextSource `json:"contextSources"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// GraphView is the body of the graph metadata endpoints.
type GraphView struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	DefaultAgentID  string    `json:"defaultAgentId,omitempty"`
	ContextConfigID string    `json:"contextConfigId,omitempty"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// RelationView is the body of the scoped relation endpoints.
type RelationView struct {
	ID            string       `json:"id"`
	GraphID       string       `json:"graphId"`
	SourceAgentID string       `json:"sourceAgentId"`
	TargetAgentID string       `json:"targetAgentId"`
	Type          RelationType `json:"relationType"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// CatalogEntryView is the body of the catalog endpoints.
type CatalogEntryView struct {
	ID          string          `json:"id"`
	Kind        CatalogKind     `json:"kind"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Config      json.RawMessage `json:"config,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// NewGraphView converts a persisted graph.
func NewGraphView(g *Graph, contextConfigID string) GraphView {
	return GraphView{
		ID:              g.ID,
		Name:            g.Name,
		Description:     g.Description,
		DefaultAgentID:  g.DefaultAgentID,
		ContextConfigID: contextConfigID,
		Version:         g.Version,
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
	}
}

// NewAgentView converts a persisted agent. Relation arrays are attached by
// the caller because they are derived from relation rows.
func NewAgentView(a *Agent) AgentView {
	v := AgentView{
		ID:          a.ID,
		Type:        a.Type,
		Name:        a.Name,
		Description: a.Description,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	if a.IsInternal() {
		v.Prompt = a.Prompt
		v.Tools = nonNil(a.Tools)
		v.CanUse = nonNil(a.CanUse)
		v.DataComponents = nonNil(a.DataComponents)
		v.ArtifactComponents = nonNil(a.ArtifactComponents)
		v.CanTransferTo = []string{}
		v.CanDelegateTo = []string{}
	} else {
		v.BaseURL = a.BaseURL
	}
	return v
}

// AddTarget appends a derived relation target to an internal agent view.
func (a *AgentView) AddTarget(t RelationType, target string) {
	switch t {
	case RelationTransfer:
		a.CanTransferTo = append(a.CanTransferTo, target)
	case RelationDelegate:
		a.CanDelegateTo = append(a.CanDelegateTo, target)
	}
}

// NewRelationView converts a persisted relation.
func NewRelationView(r *Relation) RelationView {
	return RelationView{
		ID:            r.ID,
		GraphID:       r.GraphID,
		SourceAgentID: r.SourceAgentID,
		TargetAgentID: r.TargetAgentID,
		Type:          r.Type,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// NewContextConfigView converts a persisted context configuration.
func NewContextConfigView(c *ContextConfig) *ContextConfigView {
	return &ContextConfigView{
		ID:             c.ID,
		Name:           c.Name,
		Description:    c.Description,
		ContextSources: nonNil(c.Sources),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// NewCatalogEntryView converts a persisted catalog entry.
func NewCatalogEntryView(e *CatalogEntry) CatalogEntryView {
	return CatalogEntryView{
		ID:          e.ID,
		Kind:        e.Kind,
		Name:        e.Name,
		Description: e.Description,
		Config:      e.Config,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
