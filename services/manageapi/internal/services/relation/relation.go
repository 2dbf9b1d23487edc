package relation

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/agentgraph/agentgraph-open/pkg/logger"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/services/graph"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store"
)

// Filter narrows List. Empty fields match everything.
type Filter = store.RelationFilter

// Service handles the scoped relation endpoints
type Service struct {
	store  *store.Store
	policy graph.Policy
	logger *logger.Logger
}

// NewService creates a new relation service
func NewService(s *store.Store, policy graph.Policy, logger *logger.Logger) *Service {
	return &Service{
		store:  s,
		policy: policy,
		logger: logger,
	}
}

// List returns the graph's relations in creation order.
func (s *Service) List(ctx context.Context, key models.GraphKey, filter Filter) ([]models.RelationView, error) {
	var views []models.RelationView
	err := s.store.Read(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetGraph(ctx, key); err != nil {
			return err
		}
		relations, err := tx.ListRelations(ctx, key, filter)
		if err != nil {
			return err
		}
		views = make([]models.RelationView, 0, len(relations))
		for _, r := range relations {
			views = append(views, models.NewRelationView(r))
		}
		return nil
	})
	return views, err
}

// Get returns one relation.
func (s *Service) Get(ctx context.Context, key models.GraphKey, id string) (*models.RelationView, error) {
	var view models.RelationView
	err := s.store.Read(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetGraph(ctx, key); err != nil {
			return err
		}
		r, err := tx.GetRelation(ctx, key, id)
		if err != nil {
			return err
		}
		view = models.NewRelationView(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// Create adds a relation between two agents of the graph.
func (s *Service) Create(ctx context.Context, key models.GraphKey, in models.RelationInput) (*models.RelationView, error) {
	if in.ID == "" {
		in.ID = ulid.Make().String()
	}

	var view models.RelationView
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockGraph(ctx, key); err != nil {
			return err
		}
		if _, err := tx.GetGraph(ctx, key); err != nil {
			return err
		}

		now := store.Now()
		r := &models.Relation{
			GraphKey:      key,
			ID:            in.ID,
			SourceAgentID: in.SourceAgentID,
			TargetAgentID: in.TargetAgentID,
			Type:          in.Type,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.checkRelation(ctx, tx, r); err != nil {
			return err
		}
		if err := tx.InsertRelation(ctx, r); err != nil {
			return err
		}
		if err := tx.TouchGraph(ctx, key); err != nil {
			return err
		}
		view = models.NewRelationView(r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Created %s relation %s -> %s in graph %s", in.Type, in.SourceAgentID, in.TargetAgentID, key.GraphID)
	return &view, nil
}

// Update rewrites the endpoints and type of a relation.
func (s *Service) Update(ctx context.Context, key models.GraphKey, id string, in models.RelationInput) (*models.RelationView, error) {
	if in.ID != "" && in.ID != id {
		return nil, apperr.NewSchemaError("/id", "must match the relation id in the path")
	}

	var view models.RelationView
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockGraph(ctx, key); err != nil {
			return err
		}
		if _, err := tx.GetGraph(ctx, key); err != nil {
			return err
		}
		r, err := tx.GetRelation(ctx, key, id)
		if err != nil {
			return err
		}
		if r.SourceAgentID == in.SourceAgentID && r.TargetAgentID == in.TargetAgentID && r.Type == in.Type {
			view = models.NewRelationView(r)
			return nil
		}

		r.SourceAgentID = in.SourceAgentID
		r.TargetAgentID = in.TargetAgentID
		r.Type = in.Type
		r.UpdatedAt = store.Now()
		if err := s.checkRelation(ctx, tx, r); err != nil {
			return err
		}
		if err := tx.UpdateRelation(ctx, r); err != nil {
			return err
		}
		if err := tx.TouchGraph(ctx, key); err != nil {
			return err
		}
		view = models.NewRelationView(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// Delete removes a relation.
func (s *Service) Delete(ctx context.Context, key models.GraphKey, id string) error {
	return s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockGraph(ctx, key); err != nil {
			return err
		}
		if _, err := tx.GetGraph(ctx, key); err != nil {
			return err
		}
		ok, err := tx.DeleteRelation(ctx, key, id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("Relation")
		}
		return tx.TouchGraph(ctx, key)
	})
}

// checkRelation verifies both endpoints belong to the graph, the source
// is internal and the triple is not taken by another relation.
func (s *Service) checkRelation(ctx context.Context, tx *store.Tx, r *models.Relation) error {
	verr := &apperr.ReferenceValidationError{}

	source, err := endpoint(ctx, tx, r.GraphKey, r.SourceAgentID)
	if err != nil {
		return err
	}
	target, err := endpoint(ctx, tx, r.GraphKey, r.TargetAgentID)
	if err != nil {
		return err
	}
	switch {
	case source == nil:
		verr.Add(apperr.KindRelationship, r.SourceAgentID, "/sourceAgentId", apperr.ReasonNotInGraph)
	case !source.IsInternal():
		verr.Add(apperr.KindRelationship, r.SourceAgentID, "/sourceAgentId", apperr.ReasonExternalSource)
	}
	switch {
	case target == nil:
		verr.Add(apperr.KindRelationship, r.TargetAgentID, "/targetAgentId", apperr.ReasonNotInGraph)
	case r.SourceAgentID == r.TargetAgentID && !s.policy.AllowSelfRelations:
		verr.Add(apperr.KindRelationship, r.TargetAgentID, "/targetAgentId", apperr.ReasonSelfRelation)
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	if s.policy.AllowDuplicateRelations {
		return nil
	}
	same, err := tx.ListRelations(ctx, r.GraphKey, store.RelationFilter{
		SourceAgentID: r.SourceAgentID,
		TargetAgentID: r.TargetAgentID,
		Type:          r.Type,
	})
	if err != nil {
		return err
	}
	for _, other := range same {
		if other.ID != r.ID {
			return apperr.Conflict(fmt.Sprintf("%s relation %s -> %s already exists", r.Type, r.SourceAgentID, r.TargetAgentID), nil)
		}
	}
	return nil
}

func endpoint(ctx context.Context, tx *store.Tx, key models.GraphKey, agentID string) (*models.Agent, error) {
	a, err := tx.GetAgent(ctx, key, agentID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}
