package graph

import (
	"sort"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
)

// Snapshot is the persisted state of one graph as loaded inside the
// reconciliation transaction. Graph is nil when the graph does not exist.
type Snapshot struct {
	Graph         *models.Graph
	Agents        map[string]*models.Agent
	Relations     []*models.Relation
	ContextConfig *models.ContextConfig
}

// ContextOp is the action taken on a graph's context configuration.
type ContextOp int

const (
	ContextKeep ContextOp = iota
	ContextUpsert
	ContextDelete
)

// ContextAction pairs an op with the configuration to write.
type ContextAction struct {
	Op     ContextOp
	Config *models.ContextConfig
}

// Target is the desired state of a graph after a submission has been
// merged over the snapshot.
type Target struct {
	Graph         models.Graph
	Agents        map[string]*models.Agent
	Edges         []models.Triple
	ContextConfig ContextAction
}

// AgentIDs returns the target agent ids in sorted order.
func (t *Target) AgentIDs() []string {
	return sortedKeys(t.Agents)
}

// Plan is the minimal set of writes turning a Snapshot into a Target.
type Plan struct {
	CreateGraph     bool
	GraphChanged    bool
	InsertAgents    []*models.Agent
	UpdateAgents    []*models.Agent
	DeleteAgents    []string
	DeleteRelations []string
	InsertRelations []models.Triple
	ContextConfig   ContextAction
}

// Empty reports whether applying the plan would change nothing.
func (p *Plan) Empty() bool {
	return !p.CreateGraph &&
		!p.GraphChanged &&
		len(p.InsertAgents) == 0 &&
		len(p.UpdateAgents) == 0 &&
		len(p.DeleteAgents) == 0 &&
		len(p.DeleteRelations) == 0 &&
		len(p.InsertRelations) == 0 &&
		p.ContextConfig.Op == ContextKeep
}

// Diff computes the plan for reaching target from snapshot.
func Diff(snap Snapshot, target Target) Plan {
	var plan Plan

	if snap.Graph == nil {
		plan.CreateGraph = true
	} else {
		plan.GraphChanged = snap.Graph.Name != target.Graph.Name ||
			snap.Graph.Description != target.Graph.Description ||
			snap.Graph.DefaultAgentID != target.Graph.DefaultAgentID
	}

	for _, id := range target.AgentIDs() {
		want := target.Agents[id]
		have, ok := snap.Agents[id]
		switch {
		case !ok:
			plan.InsertAgents = append(plan.InsertAgents, want)
		case !have.SameContent(want):
			plan.UpdateAgents = append(plan.UpdateAgents, want)
		}
	}
	for _, id := range sortedKeys(snap.Agents) {
		if _, ok := target.Agents[id]; !ok {
			plan.DeleteAgents = append(plan.DeleteAgents, id)
		}
	}

	plan.DeleteRelations, plan.InsertRelations = DiffEdges(snap.Relations, target.Edges)
	plan.ContextConfig = diffContextConfig(snap.ContextConfig, target.ContextConfig)
	return plan
}

// DiffEdges matches persisted relations against a target edge set. The
// oldest relation of each wanted triple is kept; duplicates and unwanted
// relations are deleted and wanted triples with no match are inserted.
func DiffEdges(persisted []*models.Relation, target []models.Triple) (deletes []string, inserts []models.Triple) {
	wanted := make(map[models.Triple]bool, len(target))
	for _, t := range target {
		wanted[t] = true
	}

	kept := make(map[models.Triple]bool, len(persisted))
	for _, r := range persisted {
		t := r.Triple()
		if wanted[t] && !kept[t] {
			kept[t] = true
			continue
		}
		deletes = append(deletes, r.ID)
	}

	queued := make(map[models.Triple]bool)
	for _, t := range target {
		if kept[t] || queued[t] {
			continue
		}
		queued[t] = true
		inserts = append(inserts, t)
	}
	return deletes, inserts
}

func diffContextConfig(have *models.ContextConfig, want ContextAction) ContextAction {
	switch want.Op {
	case ContextDelete:
		if have == nil {
			return ContextAction{}
		}
	case ContextUpsert:
		if have != nil && sameContextConfig(have, want.Config) {
			return ContextAction{}
		}
	}
	return want
}

func sameContextConfig(a, b *models.ContextConfig) bool {
	if a.ID != b.ID || a.Name != b.Name || a.Description != b.Description || len(a.Sources) != len(b.Sources) {
		return false
	}
	for i := range a.Sources {
		x, y := a.Sources[i], b.Sources[i]
		if x.Type != y.Type || x.ID != y.ID || x.Content != y.Content || x.URL != y.URL || x.Method != y.Method {
			return false
		}
		if len(x.Headers) != len(y.Headers) {
			return false
		}
		for k, v := range x.Headers {
			if y.Headers[k] != v {
				return false
			}
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
