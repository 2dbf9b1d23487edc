package graph

import (
	"context"
	"errors"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store"
)

// Create adds an empty graph. A graph cannot name a default agent before
// it has any agents.
func (s *Service) Create(ctx context.Context, scope models.Scope, in models.GraphInput) (*models.GraphView, error) {
	schemaErr := &apperr.SchemaValidationError{}
	if in.ID == "" {
		schemaErr.Errors = append(schemaErr.Errors, apperr.FieldError{Pointer: "/id", Reason: "is required"})
	}
	if !in.Name.HasValue() {
		schemaErr.Errors = append(schemaErr.Errors, apperr.FieldError{Pointer: "/name", Reason: "is required"})
	}
	if len(schemaErr.Errors) > 0 {
		return nil, schemaErr
	}
	if def := in.DefaultAgentID.Or(""); def != "" {
		verr := &apperr.ReferenceValidationError{}
		verr.Add(apperr.KindDefaultAgent, def, "/defaultAgentId", apperr.ReasonNotFound)
		return nil, verr
	}

	now := store.Now()
	g := &models.Graph{
		TenantID:    scope.TenantID,
		ProjectID:   scope.ProjectID,
		ID:          in.ID,
		Name:        in.Name.Value,
		Description: in.Description.Or(""),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		return tx.InsertGraph(ctx, g)
	})
	if err != nil {
		s.logger.Errorf("Failed to create graph %s: %v", in.ID, err)
		return nil, err
	}

	s.logger.Infof("Created graph %s for tenant: %s, project: %s", g.ID, scope.TenantID, scope.ProjectID)
	view := models.NewGraphView(g, "")
	return &view, nil
}

// Get returns a graph's metadata.
func (s *Service) Get(ctx context.Context, key models.GraphKey) (*models.GraphView, error) {
	var view models.GraphView
	err := s.store.Read(ctx, func(tx *store.Tx) error {
		g, err := tx.GetGraph(ctx, key)
		if err != nil {
			return err
		}
		view, err = graphView(ctx, tx, g)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// List returns one page of graphs and the total count.
func (s *Service) List(ctx context.Context, scope models.Scope, limit, offset int) ([]models.GraphView, int, error) {
	var views []models.GraphView
	var total int
	err := s.store.Read(ctx, func(tx *store.Tx) error {
		graphs, n, err := tx.ListGraphs(ctx, scope, limit, offset)
		if err != nil {
			return err
		}
		total = n
		views = make([]models.GraphView, 0, len(graphs))
		for _, g := range graphs {
			v, err := graphView(ctx, tx, g)
			if err != nil {
				return err
			}
			views = append(views, v)
		}
		return nil
	})
	return views, total, err
}

// Update applies a partial metadata update. A new default agent must be
// an agent of the graph.
func (s *Service) Update(ctx context.Context, key models.GraphKey, in models.GraphInput) (*models.GraphView, error) {
	if in.ID != "" && in.ID != key.GraphID {
		return nil, apperr.NewSchemaError("/id", "must match the graph id in the path")
	}

	var view models.GraphView
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockGraph(ctx, key); err != nil {
			return err
		}
		g, err := tx.GetGraph(ctx, key)
		if err != nil {
			return err
		}

		if in.Name.HasValue() {
			g.Name = in.Name.Value
		}
		if in.Description.Set {
			g.Description = in.Description.Or("")
		}
		if in.DefaultAgentID.Set {
			def := in.DefaultAgentID.Or("")
			if def != "" {
				if _, err := tx.GetAgent(ctx, key, def); err != nil {
					if errors.Is(err, apperr.ErrNotFound) {
						verr := &apperr.ReferenceValidationError{}
						verr.Add(apperr.KindDefaultAgent, def, "/defaultAgentId", apperr.ReasonNotFound)
						return verr
					}
					return err
				}
			}
			g.DefaultAgentID = def
		}

		g.UpdatedAt = store.Now()
		if err := tx.UpdateGraph(ctx, g); err != nil {
			return err
		}
		view, err = graphView(ctx, tx, g)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// Delete removes a graph with its agents, relations and context
// configuration.
func (s *Service) Delete(ctx context.Context, key models.GraphKey) error {
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockGraph(ctx, key); err != nil {
			return err
		}
		ok, err := tx.DeleteGraph(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("Agent graph")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Infof("Deleted graph %s for tenant: %s, project: %s", key.GraphID, key.TenantID, key.ProjectID)
	return nil
}

func graphView(ctx context.Context, tx *store.Tx, g *models.Graph) (models.GraphView, error) {
	cc, err := tx.GetContextConfig(ctx, g.Key())
	if err != nil {
		return models.GraphView{}, err
	}
	var ccID string
	if cc != nil {
		ccID = cc.ID
	}
	return models.NewGraphView(g, ccID), nil
}
