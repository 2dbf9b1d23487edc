package graph

import (
	"context"
	"fmt"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
)

// CatalogLookup reports which catalog ids do not exist in a scope.
type CatalogLookup interface {
	Missing(ctx context.Context, scope models.Scope, kind models.CatalogKind, ids []string) ([]string, error)
}

// CatalogRef is one catalog id referenced by a payload.
type CatalogRef struct {
	Kind    models.CatalogKind
	ID      string
	Pointer string
}

var catalogKinds = []models.CatalogKind{models.CatalogTool, models.CatalogDataComponent, models.CatalogArtifactComponent}

// ValidateReferences checks every reference of a merged submission and
// reports all violations at once. Only values present in the submission
// are checked against the catalog; the default agent and the edges are
// checked against the merged target.
func ValidateReferences(ctx context.Context, lookup CatalogLookup, scope models.Scope, in models.FullGraphInput, target *Target, policy Policy) error {
	verr := &apperr.ReferenceValidationError{}

	var refs []CatalogRef
	for _, id := range sortedKeys(in.Agents) {
		ain := in.Agents[id]
		refs = append(refs, AgentCatalogRefs("/agents/"+id, &ain)...)
	}
	if err := CheckCatalogRefs(ctx, lookup, scope, refs, verr); err != nil {
		return err
	}

	if def := target.Graph.DefaultAgentID; def != "" && target.Agents[def] == nil {
		verr.Add(apperr.KindDefaultAgent, def, "/defaultAgentId", apperr.ReasonNotFound)
	}

	exists := func(id string) bool { return target.Agents[id] != nil }
	for _, id := range sortedKeys(in.Agents) {
		ain := in.Agents[id]
		CheckEdges(verr, "/agents/"+id, target.Agents[id], &ain, exists, policy)
	}

	return verr.OrNil()
}

// AgentCatalogRefs lists the catalog ids submitted for one agent.
func AgentCatalogRefs(pointer string, in *models.AgentInput) []CatalogRef {
	var refs []CatalogRef
	for i, id := range in.Tools.Or(nil) {
		refs = append(refs, CatalogRef{Kind: models.CatalogTool, ID: id, Pointer: fmt.Sprintf("%s/tools/%d", pointer, i)})
	}
	for i, sel := range in.CanUse.Or(nil) {
		refs = append(refs, CatalogRef{Kind: models.CatalogTool, ID: sel.ToolID, Pointer: fmt.Sprintf("%s/canUse/%d/toolId", pointer, i)})
	}
	for i, id := range in.DataComponents.Or(nil) {
		refs = append(refs, CatalogRef{Kind: models.CatalogDataComponent, ID: id, Pointer: fmt.Sprintf("%s/dataComponents/%d", pointer, i)})
	}
	for i, id := range in.ArtifactComponents.Or(nil) {
		refs = append(refs, CatalogRef{Kind: models.CatalogArtifactComponent, ID: id, Pointer: fmt.Sprintf("%s/artifactComponents/%d", pointer, i)})
	}
	return refs
}

// CheckCatalogRefs resolves refs with one lookup per kind and records a
// violation for each missing id.
func CheckCatalogRefs(ctx context.Context, lookup CatalogLookup, scope models.Scope, refs []CatalogRef, verr *apperr.ReferenceValidationError) error {
	byKind := make(map[models.CatalogKind][]string)
	for _, ref := range refs {
		byKind[ref.Kind] = append(byKind[ref.Kind], ref.ID)
	}

	missing := make(map[models.CatalogKind]map[string]bool)
	for _, kind := range catalogKinds {
		if len(byKind[kind]) == 0 {
			continue
		}
		ids, err := lookup.Missing(ctx, scope, kind, byKind[kind])
		if err != nil {
			return err
		}
		missing[kind] = make(map[string]bool, len(ids))
		for _, id := range ids {
			missing[kind][id] = true
		}
	}

	for _, ref := range refs {
		if missing[ref.Kind][ref.ID] {
			verr.Add(string(ref.Kind), ref.ID, ref.Pointer, apperr.ReasonNotFound)
		}
	}
	return nil
}

// CheckEdges validates the relation targets submitted for source.
func CheckEdges(verr *apperr.ReferenceValidationError, pointer string, source *models.Agent, in *models.AgentInput, exists func(id string) bool, policy Policy) {
	for _, rt := range models.RelationTypes {
		field := RelationField(rt)
		targets := in.Targets(rt).Or(nil)
		if len(targets) == 0 {
			continue
		}
		if !source.IsInternal() {
			verr.Add(apperr.KindRelationship, source.ID, pointer+"/"+field, apperr.ReasonExternalSource)
			continue
		}
		for i, t := range targets {
			p := fmt.Sprintf("%s/%s/%d", pointer, field, i)
			switch {
			case !exists(t):
				verr.Add(apperr.KindRelationship, t, p, apperr.ReasonNotInGraph)
			case t == source.ID && !policy.AllowSelfRelations:
				verr.Add(apperr.KindRelationship, t, p, apperr.ReasonSelfRelation)
			}
		}
	}
}

// RelationField returns the payload field carrying relations of type t.
func RelationField(t models.RelationType) string {
	if t == models.RelationDelegate {
		return "canDelegateTo"
	}
	return "canTransferTo"
}
