package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentgraph/agentgraph-open/pkg/logger"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/services/graph"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store"
)

// Service handles the scoped internal and external agent endpoints.
type Service struct {
	store  *store.Store
	policy graph.Policy
	logger *logger.Logger
}

// NewService creates a new agent service
func NewService(s *store.Store, policy graph.Policy, logger *logger.Logger) *Service {
	return &Service{
		store:  s,
		policy: policy,
		logger: logger,
	}
}

func resourceName(typ models.AgentType) string {
	if typ == models.AgentTypeExternal {
		return "External agent"
	}
	return "Agent"
}

// List returns the graph's agents of one type.
func (s *Service) List(ctx context.Context, key models.GraphKey, typ models.AgentType) ([]models.AgentView, error) {
	var views []models.AgentView
	err := s.store.Read(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetGraph(ctx, key); err != nil {
			return err
		}
		agents, err := tx.ListAgents(ctx, key)
		if err != nil {
			return err
		}
		relations, err := tx.ListRelations(ctx, key, store.RelationFilter{})
		if err != nil {
			return err
		}

		views = make([]models.AgentView, 0, len(agents))
		index := make(map[string]int, len(agents))
		for _, a := range agents {
			if a.Type != typ {
				continue
			}
			index[a.ID] = len(views)
			views = append(views, models.NewAgentView(a))
		}
		if typ == models.AgentTypeInternal {
			for _, r := range relations {
				if i, ok := index[r.SourceAgentID]; ok {
					views[i].AddTarget(r.Type, r.TargetAgentID)
				}
			}
		}
		return nil
	})
	return views, err
}

// Get returns one agent of the given type.
func (s *Service) Get(ctx context.Context, key models.GraphKey, typ models.AgentType, id string) (*models.AgentView, error) {
	var view models.AgentView
	err := s.store.Read(ctx, func(tx *store.Tx) error {
		a, err := loadAgent(ctx, tx, key, typ, id)
		if err != nil {
			return err
		}
		view, err = agentView(ctx, tx, a)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// Create adds an agent to an existing graph together with its outgoing
// relations.
func (s *Service) Create(ctx context.Context, key models.GraphKey, typ models.AgentType, in models.AgentInput) (*models.AgentView, error) {
	if in.ID == "" {
		return nil, apperr.NewSchemaError("/id", "is required")
	}
	if err := checkType(typ, &in); err != nil {
		return nil, err
	}
	in.Type = models.Some(typ)

	var view models.AgentView
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockGraph(ctx, key); err != nil {
			return err
		}
		if _, err := tx.GetGraph(ctx, key); err != nil {
			return err
		}
		existing, err := agentIDs(ctx, tx, key)
		if err != nil {
			return err
		}
		if existing[in.ID] != nil {
			return apperr.Conflict(fmt.Sprintf("agent %s already exists in graph %s", in.ID, key.GraphID), nil)
		}

		now := store.Now()
		a := &models.Agent{GraphKey: key, ID: in.ID, CreatedAt: now, UpdatedAt: now}
		if errs := graph.ApplyAgentInput(a, &in, true, ""); len(errs) > 0 {
			return &apperr.SchemaValidationError{Errors: errs}
		}

		exists := func(id string) bool { return id == a.ID || existing[id] != nil }
		if err := s.checkReferences(ctx, tx, key, a, &in, exists); err != nil {
			return err
		}

		if err := tx.InsertAgent(ctx, a); err != nil {
			return err
		}
		if _, err := replaceEdges(ctx, tx, key, a, &in, now); err != nil {
			return err
		}
		if err := tx.TouchGraph(ctx, key); err != nil {
			return err
		}
		view, err = agentView(ctx, tx, a)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Created %s agent %s in graph %s", typ, in.ID, key.GraphID)
	return &view, nil
}

// Update applies a partial update. Submitted relation arrays replace the
// agent's outgoing relations of that type.
func (s *Service) Update(ctx context.Context, key models.GraphKey, typ models.AgentType, id string, in models.AgentInput) (*models.AgentView, error) {
	if in.ID != "" && in.ID != id {
		return nil, apperr.NewSchemaError("/id", "must match the agent id in the path")
	}
	if err := checkType(typ, &in); err != nil {
		return nil, err
	}

	var view models.AgentView
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockGraph(ctx, key); err != nil {
			return err
		}
		prev, err := loadAgent(ctx, tx, key, typ, id)
		if err != nil {
			return err
		}
		existing, err := agentIDs(ctx, tx, key)
		if err != nil {
			return err
		}

		now := store.Now()
		a := *prev
		if errs := graph.ApplyAgentInput(&a, &in, false, ""); len(errs) > 0 {
			return &apperr.SchemaValidationError{Errors: errs}
		}

		exists := func(id string) bool { return existing[id] != nil }
		if err := s.checkReferences(ctx, tx, key, &a, &in, exists); err != nil {
			return err
		}

		changed := false
		if !a.SameContent(prev) {
			a.UpdatedAt = now
			if err := tx.UpdateAgent(ctx, &a); err != nil {
				return err
			}
			changed = true
		}
		edgesChanged, err := replaceEdges(ctx, tx, key, &a, &in, now)
		if err != nil {
			return err
		}
		if changed || edgesChanged {
			if err := tx.TouchGraph(ctx, key); err != nil {
				return err
			}
		}
		view, err = agentView(ctx, tx, &a)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// Delete removes an agent and every relation it takes part in. The
// graph's default agent cannot be deleted.
func (s *Service) Delete(ctx context.Context, key models.GraphKey, typ models.AgentType, id string) error {
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockGraph(ctx, key); err != nil {
			return err
		}
		g, err := tx.GetGraph(ctx, key)
		if err != nil {
			return err
		}
		if _, err := loadAgent(ctx, tx, key, typ, id); err != nil {
			return err
		}
		if g.DefaultAgentID == id {
			verr := &apperr.ReferenceValidationError{}
			verr.Add(apperr.KindDefaultAgent, id, "/defaultAgentId", apperr.ReasonDefaultAgent)
			return verr
		}

		removed, err := tx.DeleteAgentRelations(ctx, key, id)
		if err != nil {
			return err
		}
		if _, err := tx.DeleteAgent(ctx, key, id); err != nil {
			return err
		}
		if err := tx.TouchGraph(ctx, key); err != nil {
			return err
		}
		s.logger.Infof("Deleted agent %s from graph %s with %d relations", id, key.GraphID, removed)
		return nil
	})
	return err
}

func (s *Service) checkReferences(ctx context.Context, tx *store.Tx, key models.GraphKey, a *models.Agent, in *models.AgentInput, exists func(string) bool) error {
	verr := &apperr.ReferenceValidationError{}
	if err := graph.CheckCatalogRefs(ctx, graph.TxCatalog(tx), key.Scope, graph.AgentCatalogRefs("", in), verr); err != nil {
		return err
	}
	graph.CheckEdges(verr, "", a, in, exists, s.policy)
	return verr.OrNil()
}

// replaceEdges makes the agent's outgoing relations of each submitted type
// match the submission. External agents keep none.
func replaceEdges(ctx context.Context, tx *store.Tx, key models.GraphKey, a *models.Agent, in *models.AgentInput, now time.Time) (bool, error) {
	changed := false
	for _, rt := range models.RelationTypes {
		submitted := in.Targets(rt)
		if !submitted.Set && a.IsInternal() {
			continue
		}

		persisted, err := tx.ListRelations(ctx, key, store.RelationFilter{SourceAgentID: a.ID, Type: rt})
		if err != nil {
			return false, err
		}
		var target []models.Triple
		if a.IsInternal() {
			for _, t := range submitted.Or(nil) {
				target = append(target, models.Triple{Source: a.ID, Target: t, Type: rt})
			}
		}

		deletes, inserts := graph.DiffEdges(persisted, target)
		for _, id := range deletes {
			if _, err := tx.DeleteRelation(ctx, key, id); err != nil {
				return false, err
			}
		}
		for _, t := range inserts {
			if err := tx.InsertRelation(ctx, graph.NewRelation(key, t, now)); err != nil {
				return false, err
			}
		}
		changed = changed || len(deletes) > 0 || len(inserts) > 0
	}
	return changed, nil
}

func checkType(typ models.AgentType, in *models.AgentInput) error {
	if in.Type.HasValue() && in.Type.Value != typ {
		return apperr.NewSchemaError("/type", fmt.Sprintf("must be %q on this endpoint", typ))
	}
	return nil
}

func loadAgent(ctx context.Context, tx *store.Tx, key models.GraphKey, typ models.AgentType, id string) (*models.Agent, error) {
	if _, err := tx.GetGraph(ctx, key); err != nil {
		return nil, err
	}
	a, err := tx.GetAgent(ctx, key, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound(resourceName(typ))
		}
		return nil, err
	}
	if a.Type != typ {
		return nil, apperr.NotFound(resourceName(typ))
	}
	return a, nil
}

func agentIDs(ctx context.Context, tx *store.Tx, key models.GraphKey) (map[string]*models.Agent, error) {
	agents, err := tx.ListAgents(ctx, key)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	return byID, nil
}

func agentView(ctx context.Context, tx *store.Tx, a *models.Agent) (models.AgentView, error) {
	view := models.NewAgentView(a)
	if !a.IsInternal() {
		return view, nil
	}
	relations, err := tx.ListRelations(ctx, a.GraphKey, store.RelationFilter{SourceAgentID: a.ID})
	if err != nil {
		return view, err
	}
	for _, r := range relations {
		view.AddTarget(r.Type, r.TargetAgentID)
	}
	return view, nil
}
