package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/agentgraph/agentgraph-open/pkg/config"
	"github.com/agentgraph/agentgraph-open/pkg/logger"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store"
)

// graphTx is the subset of store.Tx used by reconciliation. Tests wrap it
// to inject storage faults.
type graphTx interface {
	LockGraph(ctx context.Context, key models.GraphKey) error
	GetGraph(ctx context.Context, key models.GraphKey) (*models.Graph, error)
	InsertGraph(ctx context.Context, g *models.Graph) error
	UpdateGraph(ctx context.Context, g *models.Graph) error
	ListAgents(ctx context.Context, key models.GraphKey) ([]*models.Agent, error)
	InsertAgent(ctx context.Context, a *models.Agent) error
	UpdateAgent(ctx context.Context, a *models.Agent) error
	DeleteAgent(ctx context.Context, key models.GraphKey, agentID string) (bool, error)
	CountAgentEdges(ctx context.Context, key models.GraphKey, agentID string) (int, error)
	ListRelations(ctx context.Context, key models.GraphKey, filter store.RelationFilter) ([]*models.Relation, error)
	InsertRelation(ctx context.Context, r *models.Relation) error
	DeleteRelation(ctx context.Context, key models.GraphKey, relationID string) (bool, error)
	GetContextConfig(ctx context.Context, key models.GraphKey) (*models.ContextConfig, error)
	UpsertContextConfig(ctx context.Context, c *models.ContextConfig) error
	DeleteContextConfig(ctx context.Context, key models.GraphKey) (bool, error)
	ExistingCatalogIDs(ctx context.Context, scope models.Scope, kind models.CatalogKind, ids []string) (map[string]bool, error)
}

// Service reconciles full-graph submissions and serves graph reads.
type Service struct {
	store   *store.Store
	cache   ViewCache
	logger  *logger.Logger
	policy  Policy
	retries int

	// wrapTx decorates the transaction handed to reconciliation.
	wrapTx func(graphTx) graphTx
}

// NewService creates a new graph service. cache may be nil.
func NewService(s *store.Store, cache ViewCache, policy Policy, retries int, logger *logger.Logger) *Service {
	if retries < 0 {
		retries = 0
	}
	return &Service{
		store:   s,
		cache:   cache,
		logger:  logger,
		policy:  policy,
		retries: retries,
	}
}

// PolicyFromConfig reads the graphs.* relation policy keys.
func PolicyFromConfig(cfg *config.Config) (Policy, int) {
	policy := Policy{
		AllowSelfRelations:      cfg.GetBool("graphs.allow_self_relations", true),
		AllowDuplicateRelations: cfg.GetBool("graphs.allow_duplicate_relations", false),
	}
	return policy, cfg.GetInt("graphs.conflict_retries", 3)
}

// Policy returns the relation policy in force.
func (s *Service) Policy() Policy {
	return s.policy
}

// UpsertFull makes the stored graph identical to the submission. created
// reports whether the graph did not exist before.
func (s *Service) UpsertFull(ctx context.Context, scope models.Scope, in models.FullGraphInput) (*models.FullGraphView, bool, error) {
	key := scope.Key(in.ID)
	log := s.logger.WithFields(map[string]string{
		"tenant_id":  key.TenantID,
		"project_id": key.ProjectID,
		"graph_id":   key.GraphID,
	})

	var created bool
	var err error
	for attempt := 0; ; attempt++ {
		created, err = s.reconcile(ctx, key, in, log)
		if err == nil || !apperr.IsRetryable(err) || attempt >= s.retries {
			break
		}
		log.Warnf("Concurrent update of graph, retrying (attempt %d/%d): %v", attempt+1, s.retries, err)
		select {
		case <-ctx.Done():
			return nil, false, apperr.Internal("request cancelled", ctx.Err())
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
	if err != nil {
		return nil, false, err
	}

	view, found, err := s.GetFull(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, apperr.Internal(fmt.Sprintf("graph %s vanished after reconciliation", key.GraphID), nil)
	}
	return view, created, nil
}

func (s *Service) reconcile(ctx context.Context, key models.GraphKey, in models.FullGraphInput, log *logger.LogContext) (bool, error) {
	var created bool
	err := s.store.InTx(ctx, func(stx *store.Tx) error {
		var tx graphTx = stx
		if s.wrapTx != nil {
			tx = s.wrapTx(tx)
		}

		if err := tx.LockGraph(ctx, key); err != nil {
			return err
		}
		snap, err := loadSnapshot(ctx, tx, key)
		if err != nil {
			return err
		}

		now := store.Now()
		target, err := Merge(snap, key, in, now, uuid.NewString)
		if err != nil {
			return err
		}
		if err := ValidateReferences(ctx, txCatalog{tx}, key.Scope, in, &target, s.policy); err != nil {
			return err
		}

		plan := Diff(snap, target)
		created = plan.CreateGraph
		if plan.Empty() {
			log.Debugf("Graph unchanged, nothing to apply")
			return nil
		}
		if err := apply(ctx, tx, key, &target, &plan, now); err != nil {
			return err
		}
		log.Infof("Reconciled graph: +%d ~%d -%d agents, +%d -%d relations",
			len(plan.InsertAgents), len(plan.UpdateAgents), len(plan.DeleteAgents),
			len(plan.InsertRelations), len(plan.DeleteRelations))
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func loadSnapshot(ctx context.Context, tx graphTx, key models.GraphKey) (Snapshot, error) {
	snap := Snapshot{Agents: map[string]*models.Agent{}}

	g, err := tx.GetGraph(ctx, key)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return snap, nil
		}
		return snap, err
	}
	snap.Graph = g

	agents, err := tx.ListAgents(ctx, key)
	if err != nil {
		return snap, err
	}
	for _, a := range agents {
		snap.Agents[a.ID] = a
	}
	if snap.Relations, err = tx.ListRelations(ctx, key, store.RelationFilter{}); err != nil {
		return snap, err
	}
	if snap.ContextConfig, err = tx.GetContextConfig(ctx, key); err != nil {
		return snap, err
	}
	return snap, nil
}

// apply writes a plan. Edges go before agent deletes because relation
// rows reference agents without cascading.
func apply(ctx context.Context, tx graphTx, key models.GraphKey, target *Target, plan *Plan, now time.Time) error {
	graph := target.Graph
	if plan.CreateGraph {
		if err := tx.InsertGraph(ctx, &graph); err != nil {
			return err
		}
	}

	for _, a := range plan.InsertAgents {
		if err := tx.InsertAgent(ctx, a); err != nil {
			return err
		}
	}
	for _, a := range plan.UpdateAgents {
		if err := tx.UpdateAgent(ctx, a); err != nil {
			return err
		}
	}

	for _, id := range plan.DeleteRelations {
		if _, err := tx.DeleteRelation(ctx, key, id); err != nil {
			return err
		}
	}
	for _, t := range plan.InsertRelations {
		if err := tx.InsertRelation(ctx, NewRelation(key, t, now)); err != nil {
			return err
		}
	}

	for _, id := range plan.DeleteAgents {
		n, err := tx.CountAgentEdges(ctx, key, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.Internal(fmt.Sprintf("agent %s still has %d relations after reconciliation", id, n), nil)
		}
		if _, err := tx.DeleteAgent(ctx, key, id); err != nil {
			return err
		}
	}

	switch plan.ContextConfig.Op {
	case ContextUpsert:
		if err := tx.UpsertContextConfig(ctx, plan.ContextConfig.Config); err != nil {
			return err
		}
	case ContextDelete:
		if _, err := tx.DeleteContextConfig(ctx, key); err != nil {
			return err
		}
	}

	// A fresh graph row already carries version 1.
	if !plan.CreateGraph {
		graph.UpdatedAt = now
		if err := tx.UpdateGraph(ctx, &graph); err != nil {
			return err
		}
	}
	return nil
}

// NewRelation builds a relation row with a fresh time-ordered id.
func NewRelation(key models.GraphKey, t models.Triple, now time.Time) *models.Relation {
	return &models.Relation{
		GraphKey:      key,
		ID:            ulid.Make().String(),
		SourceAgentID: t.Source,
		TargetAgentID: t.Target,
		Type:          t.Type,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// txCatalog resolves catalog lookups inside the reconciliation transaction.
type txCatalog struct {
	tx interface {
		ExistingCatalogIDs(ctx context.Context, scope models.Scope, kind models.CatalogKind, ids []string) (map[string]bool, error)
	}
}

// TxCatalog adapts a store transaction to a CatalogLookup.
func TxCatalog(tx *store.Tx) CatalogLookup {
	return txCatalog{tx}
}

func (c txCatalog) Missing(ctx context.Context, scope models.Scope, kind models.CatalogKind, ids []string) ([]string, error) {
	unique := dedupe(ids)
	found, err := c.tx.ExistingCatalogIDs(ctx, scope, kind, unique)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range unique {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
