package models

// FullGraphInput is the body of a full-graph submission. Agents are keyed
// by id; when an entry also carries an id it must match its key.
type FullGraphInput struct {
	ID             string                       `json:"id"`
	Name           Optional[string]             `json:"name,omitzero"`
	Description    Optional[string]             `json:"description,omitzero"`
	DefaultAgentID Optional[string]             `json:"defaultAgentId,omitzero"`
	Agents         map[string]AgentInput        `json:"agents"`
	ContextConfig  Optional[ContextConfigInput] `json:"contextConfig,omitzero"`
}

// AgentInput describes one agent in a full-graph submission or a scoped
// agent request. Every field but ID follows the omitted/null/value contract.
type AgentInput struct {
	ID                 string                    `json:"id,omitempty"`
	Type               Optional[AgentType]       `json:"type,omitzero"`
	Name               Optional[string]          `json:"name,omitzero"`
	Description        Optional[string]          `json:"description,omitzero"`
	Prompt             Optional[string]          `json:"prompt,omitzero"`
	Tools              Optional[[]string]        `json:"tools,omitzero"`
	CanUse             Optional[[]ToolSelection] `json:"canUse,omitzero"`
	DataComponents     Optional[[]string]        `json:"dataComponents,omitzero"`
	ArtifactComponents Optional[[]string]        `json:"artifactComponents,omitzero"`
	CanTransferTo      Optional[[]string]        `json:"canTransferTo,omitzero"`
	CanDelegateTo      Optional[[]string]        `json:"canDelegateTo,omitzero"`
	BaseURL            Optional[string]          `json:"baseUrl,omitzero"`
}

// Targets returns the relation targets submitted for the given type.
func (a *AgentInput) Targets(t RelationType) Optional[[]string] {
	if t == RelationDelegate {
		return a.CanDelegateTo
	}
	return a.CanTransferTo
}

// ContextConfigInput is the submitted context configuration.
type ContextConfigInput struct {
	ID             string                    `json:"id,omitempty"`
	Name           Optional[string]          `json:"name,omitzero"`
	Description    Optional[string]          `json:"description,omitzero"`
	ContextSources Optional[[]ContextSource] `json:"contextSources,omitzero"`
}

// GraphInput is the body of the graph metadata endpoints.
type GraphInput struct {
	ID             string           `json:"id,omitempty"`
	Name           Optional[string] `json:"name,omitzero"`
	Description    Optional[string] `json:"description,omitzero"`
	DefaultAgentID Optional[string] `json:"defaultAgentId,omitzero"`
}

// RelationInput is the body of the scoped relation endpoints.
type RelationInput struct {
	ID            string       `json:"id,omitempty"`
	SourceAgentID string       `json:"sourceAgentId"`
	TargetAgentID string       `json:"targetAgentId"`
	Type          RelationType `json:"relationType"`
}

// CatalogInput is the body of the catalog endpoints.
type CatalogInput struct {
	ID          string           `json:"id,omitempty"`
	Name        Optional[string] `json:"name,omitzero"`
	Description Optional[string] `json:"description,omitzero"`
	Config      map[string]any   `json:"config,omitempty"`
}
