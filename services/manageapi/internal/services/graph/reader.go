package graph

import (
	"context"
	"errors"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store"
)

// GetFull returns the materialized view of a graph. found is false when
// the graph does not exist in the scope.
func (s *Service) GetFull(ctx context.Context, key models.GraphKey) (*models.FullGraphView, bool, error) {
	var view *models.FullGraphView
	err := s.store.Read(ctx, func(tx *store.Tx) error {
		g, err := tx.GetGraph(ctx, key)
		if err != nil {
			return err
		}
		if s.cache != nil {
			if cached, ok := s.cache.Get(ctx, key, RevisionOf(g)); ok {
				view = cached
				return nil
			}
		}

		agents, err := tx.ListAgents(ctx, key)
		if err != nil {
			return err
		}
		relations, err := tx.ListRelations(ctx, key, store.RelationFilter{})
		if err != nil {
			return err
		}
		cc, err := tx.GetContextConfig(ctx, key)
		if err != nil {
			return err
		}

		view = BuildView(g, agents, relations, cc)
		if s.cache != nil {
			s.cache.Set(ctx, key, RevisionOf(g), view)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return view, true, nil
}

// BuildView assembles a full-graph view from persisted rows. Relations
// must be in creation order; each internal agent gets one array entry per
// outgoing relation in that order.
func BuildView(g *models.Graph, agents []*models.Agent, relations []*models.Relation, cc *models.ContextConfig) *models.FullGraphView {
	view := &models.FullGraphView{
		ID:             g.ID,
		Name:           g.Name,
		Description:    g.Description,
		DefaultAgentID: g.DefaultAgentID,
		Agents:         make(map[string]models.AgentView, len(agents)),
		Version:        g.Version,
		CreatedAt:      g.CreatedAt,
		UpdatedAt:      g.UpdatedAt,
	}
	for _, a := range agents {
		view.Agents[a.ID] = models.NewAgentView(a)
	}
	for _, r := range relations {
		source, ok := view.Agents[r.SourceAgentID]
		if !ok || source.Type != models.AgentTypeInternal {
			continue
		}
		source.AddTarget(r.Type, r.TargetAgentID)
		view.Agents[r.SourceAgentID] = source
	}
	if cc != nil {
		view.ContextConfig = models.NewContextConfigView(cc)
	}
	return view
}
