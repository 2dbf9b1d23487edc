package graph

import (
	"time"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
)

// Policy holds the relation rules applied to submissions.
type Policy struct {
	AllowSelfRelations      bool
	AllowDuplicateRelations bool
}

// DefaultPolicy allows self relations and rejects duplicate triples.
func DefaultPolicy() Policy {
	return Policy{AllowSelfRelations: true}
}

// Merge resolves a full-graph submission against the persisted snapshot.
// Omitted fields keep their persisted values, nulls clear them, and agents
// missing from the submission are dropped together with their edges.
func Merge(snap Snapshot, key models.GraphKey, in models.FullGraphInput, now time.Time, newID func() string) (Target, error) {
	schemaErr := &apperr.SchemaValidationError{}

	g := models.Graph{
		TenantID:  key.TenantID,
		ProjectID: key.ProjectID,
		ID:        key.GraphID,
		CreatedAt: now,
	}
	if snap.Graph != nil {
		g = *snap.Graph
	}
	if in.Name.HasValue() {
		g.Name = in.Name.Value
	} else if snap.Graph == nil {
		schemaErr.Errors = append(schemaErr.Errors, apperr.FieldError{Pointer: "/name", Reason: "is required"})
	}
	if in.Description.Set {
		g.Description = in.Description.Or("")
	}
	if in.DefaultAgentID.Set {
		g.DefaultAgentID = in.DefaultAgentID.Or("")
	}
	g.UpdatedAt = now

	target := Target{
		Graph:  g,
		Agents: make(map[string]*models.Agent, len(in.Agents)),
	}

	for _, id := range sortedKeys(in.Agents) {
		ain := in.Agents[id]
		var agent models.Agent
		prev, exists := snap.Agents[id]
		if exists {
			agent = *prev
		} else {
			agent = models.Agent{GraphKey: key, ID: id, CreatedAt: now}
		}
		schemaErr.Errors = append(schemaErr.Errors, ApplyAgentInput(&agent, &ain, !exists, "/agents/"+id)...)
		if !exists || !agent.SameContent(prev) {
			agent.UpdatedAt = now
		}
		target.Agents[id] = &agent
	}
	if len(schemaErr.Errors) > 0 {
		return target, schemaErr
	}

	for _, id := range target.AgentIDs() {
		agent := target.Agents[id]
		if !agent.IsInternal() {
			continue
		}
		ain := in.Agents[id]
		for _, rt := range models.RelationTypes {
			var targets []string
			if submitted := ain.Targets(rt); submitted.Set {
				targets = submitted.Or(nil)
			} else if prev, ok := snap.Agents[id]; ok && prev.IsInternal() {
				for _, r := range snap.Relations {
					if r.SourceAgentID == id && r.Type == rt && target.Agents[r.TargetAgentID] != nil {
						targets = append(targets, r.TargetAgentID)
					}
				}
			}
			for _, t := range dedupe(targets) {
				target.Edges = append(target.Edges, models.Triple{Source: id, Target: t, Type: rt})
			}
		}
	}

	target.ContextConfig = mergeContextConfig(snap.ContextConfig, key, in.ContextConfig, now, newID)
	return target, nil
}

// ApplyAgentInput applies the submitted fields of in to a and returns the
// field errors found. pointer prefixes the reported JSON pointers.
func ApplyAgentInput(a *models.Agent, in *models.AgentInput, isNew bool, pointer string) []apperr.FieldError {
	var errs []apperr.FieldError
	fail := func(field, reason string) {
		errs = append(errs, apperr.FieldError{Pointer: pointer + "/" + field, Reason: reason})
	}

	if in.Type.HasValue() {
		a.Type = in.Type.Value
	} else if isNew {
		fail("type", "is required")
	}
	if in.Name.HasValue() {
		a.Name = in.Name.Value
	} else if isNew {
		fail("name", "is required")
	}
	if in.Description.Set {
		a.Description = in.Description.Or("")
	}

	switch a.Type {
	case models.AgentTypeExternal:
		internalOnly := []struct {
			field string
			set   bool
		}{
			{"prompt", in.Prompt.Or("") != ""},
			{"tools", len(in.Tools.Or(nil)) > 0},
			{"canUse", len(in.CanUse.Or(nil)) > 0},
			{"dataComponents", len(in.DataComponents.Or(nil)) > 0},
			{"artifactComponents", len(in.ArtifactComponents.Or(nil)) > 0},
		}
		for _, f := range internalOnly {
			if f.set {
				fail(f.field, "is not allowed for external agents")
			}
		}
		a.Prompt = ""
		a.Tools = nil
		a.CanUse = nil
		a.DataComponents = nil
		a.ArtifactComponents = nil
		if in.BaseURL.Set {
			a.BaseURL = in.BaseURL.Or("")
		}
		if a.BaseURL == "" {
			fail("baseUrl", "is required for external agents")
		}

	case models.AgentTypeInternal:
		if in.BaseURL.Or("") != "" {
			fail("baseUrl", "is not allowed for internal agents")
		}
		a.BaseURL = ""
		if in.Prompt.Set {
			a.Prompt = in.Prompt.Or("")
		}
		if in.Tools.Set {
			a.Tools = dedupe(in.Tools.Or(nil))
		}
		if in.CanUse.Set {
			a.CanUse = in.CanUse.Or(nil)
		}
		if in.DataComponents.Set {
			a.DataComponents = dedupe(in.DataComponents.Or(nil))
		}
		if in.ArtifactComponents.Set {
			a.ArtifactComponents = dedupe(in.ArtifactComponents.Or(nil))
		}
	}
	return errs
}

func mergeContextConfig(prev *models.ContextConfig, key models.GraphKey, in models.Optional[models.ContextConfigInput], now time.Time, newID func() string) ContextAction {
	if !in.Set {
		return ContextAction{Op: ContextKeep}
	}
	if in.Null {
		return ContextAction{Op: ContextDelete}
	}

	cin := in.Value
	cc := models.ContextConfig{GraphKey: key, CreatedAt: now}
	if prev != nil {
		cc = *prev
	}
	switch {
	case cin.ID != "":
		cc.ID = cin.ID
	case cc.ID == "":
		cc.ID = newID()
	}
	if cin.Name.Set {
		cc.Name = cin.Name.Or("")
	}
	if cin.Description.Set {
		cc.Description = cin.Description.Or("")
	}
	if cin.ContextSources.Set {
		cc.Sources = cin.ContextSources.Or(nil)
	}
	cc.UpdatedAt = now
	return ContextAction{Op: ContextUpsert, Config: &cc}
}

func dedupe(ids []string) []string {
	if ids == nil {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
