package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgraph/agentgraph-open/pkg/logger"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store/storetest"
)

var scope = testKey.Scope

const g1Body = `{
	"id": "g1",
	"name": "Support",
	"defaultAgentId": "a1",
	"agents": {
		"a1": {"type": "internal", "name": "Router", "prompt": "route", "tools": ["search"], "canTransferTo": ["a2"]},
		"a2": {"type": "internal", "name": "Billing", "dataComponents": ["invoice"]}
	}
}`

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s := storetest.Open(t)
	addCatalog(t, s, models.CatalogTool, "search")
	addCatalog(t, s, models.CatalogDataComponent, "invoice")
	return NewService(s, nil, DefaultPolicy(), 3, logger.Discard()), s
}

func addCatalog(t *testing.T, s *store.Store, kind models.CatalogKind, ids ...string) {
	t.Helper()
	err := s.InTx(context.Background(), func(tx *store.Tx) error {
		now := store.Now()
		for _, id := range ids {
			if err := tx.InsertCatalogEntry(context.Background(), &models.CatalogEntry{
				Scope: scope, Kind: kind, ID: id, Name: id, CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func upsert(t *testing.T, svc *Service, body string) (*models.FullGraphView, bool, error) {
	t.Helper()
	in, err := DecodeFullGraph([]byte(body))
	require.NoError(t, err)
	return svc.UpsertFull(context.Background(), scope, in)
}

func TestUpsertFullCreatesGraph(t *testing.T) {
	svc, _ := newTestService(t)

	view, created, err := upsert(t, svc, g1Body)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), view.Version)
	assert.Equal(t, "a1", view.DefaultAgentID)

	data, err := json.Marshal(view)
	require.NoError(t, err)
	var decoded struct {
		Agents map[string]map[string]any `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []any{"a2"}, decoded.Agents["a1"]["canTransferTo"])
	assert.Equal(t, []any{}, decoded.Agents["a2"]["canTransferTo"])
	assert.Equal(t, []any{}, decoded.Agents["a2"]["canDelegateTo"])
}

func TestUpsertFullIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)

	first, _, err := upsert(t, svc, g1Body)
	require.NoError(t, err)

	second, created, err := upsert(t, svc, g1Body)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)
}

func TestUpsertFullRejectsUnknownDefaultAgent(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := upsert(t, svc, `{"id": "g1", "name": "G", "defaultAgentId": "ghost", "agents": {"a1": {"type": "internal", "name": "A"}}}`)
	var verr *apperr.ReferenceValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, apperr.Violation{Kind: apperr.KindDefaultAgent, ID: "ghost", Pointer: "/defaultAgentId", Reason: apperr.ReasonNotFound}, verr.Violations[0])

	_, found, err := svc.GetFull(context.Background(), testKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpsertFullReportsAllViolations(t *testing.T) {
	svc, _ := newTestService(t)
	svc.policy.AllowSelfRelations = false

	_, _, err := upsert(t, svc, `{
		"id": "g1",
		"name": "G",
		"agents": {
			"a1": {"type": "internal", "name": "A", "tools": ["search", "nope"], "canUse": [{"toolId": "gone"}], "canTransferTo": ["a1", "zz"]},
			"a2": {"type": "internal", "name": "B", "artifactComponents": ["chart"]},
			"x1": {"type": "external", "name": "X", "baseUrl": "https://x.example.com", "canDelegateTo": ["a1"]}
		}
	}`)
	var verr *apperr.ReferenceValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []apperr.Violation{
		{Kind: apperr.KindTool, ID: "nope", Pointer: "/agents/a1/tools/1", Reason: apperr.ReasonNotFound},
		{Kind: apperr.KindTool, ID: "gone", Pointer: "/agents/a1/canUse/0/toolId", Reason: apperr.ReasonNotFound},
		{Kind: apperr.KindArtifactComponent, ID: "chart", Pointer: "/agents/a2/artifactComponents/0", Reason: apperr.ReasonNotFound},
		{Kind: apperr.KindRelationship, ID: "a1", Pointer: "/agents/a1/canTransferTo/0", Reason: apperr.ReasonSelfRelation},
		{Kind: apperr.KindRelationship, ID: "zz", Pointer: "/agents/a1/canTransferTo/1", Reason: apperr.ReasonNotInGraph},
		{Kind: apperr.KindRelationship, ID: "x1", Pointer: "/agents/x1/canDelegateTo", Reason: apperr.ReasonExternalSource},
	}, verr.Violations)
}

func TestUpsertFullToolsOmittedVersusNull(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := upsert(t, svc, g1Body)
	require.NoError(t, err)

	view, created, err := upsert(t, svc, `{"id": "g1", "agents": {"a1": {"prompt": "route v2"}, "a2": {}}}`)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{"search"}, view.Agents["a1"].Tools)
	assert.Equal(t, "route v2", view.Agents["a1"].Prompt)
	assert.Equal(t, []string{"a2"}, view.Agents["a1"].CanTransferTo)
	assert.Equal(t, int64(2), view.Version)

	view, _, err = upsert(t, svc, `{"id": "g1", "agents": {"a1": {"tools": null}, "a2": {}}}`)
	require.NoError(t, err)
	assert.Empty(t, view.Agents["a1"].Tools)
	assert.Equal(t, "Support", view.Name)
}

func TestUpsertFullKeepsRelationsBijective(t *testing.T) {
	svc, s := newTestService(t)
	_, _, err := upsert(t, svc, g1Body)
	require.NoError(t, err)

	view, _, err := upsert(t, svc, `{
		"id": "g1",
		"agents": {
			"a1": {"canTransferTo": ["a3", "a3"], "canDelegateTo": ["a2"]},
			"a2": {},
			"a3": {"type": "internal", "name": "Returns", "canTransferTo": ["a1"]}
		}
	}`)
	require.NoError(t, err)

	var relations []*models.Relation
	require.NoError(t, s.Read(context.Background(), func(tx *store.Tx) error {
		relations, err = tx.ListRelations(context.Background(), testKey, store.RelationFilter{})
		return err
	}))

	fromView := map[models.Triple]bool{}
	for id, a := range view.Agents {
		for _, target := range a.CanTransferTo {
			fromView[models.Triple{Source: id, Target: target, Type: models.RelationTransfer}] = true
		}
		for _, target := range a.CanDelegateTo {
			fromView[models.Triple{Source: id, Target: target, Type: models.RelationDelegate}] = true
		}
	}
	fromRows := map[models.Triple]bool{}
	for _, r := range relations {
		fromRows[r.Triple()] = true
	}
	assert.Len(t, relations, 3)
	assert.Equal(t, fromRows, fromView)
	assert.Equal(t, []string{"a3"}, view.Agents["a1"].CanTransferTo)
}

type faultyTx struct {
	graphTx
}

func (f faultyTx) InsertRelation(ctx context.Context, r *models.Relation) error {
	return errors.New("injected write failure")
}

func TestUpsertFullIsAtomic(t *testing.T) {
	svc, _ := newTestService(t)
	before, _, err := upsert(t, svc, g1Body)
	require.NoError(t, err)

	svc.wrapTx = func(tx graphTx) graphTx { return faultyTx{tx} }
	_, _, err = upsert(t, svc, `{
		"id": "g1",
		"name": "Renamed",
		"agents": {
			"a1": {"canTransferTo": ["a3"]},
			"a3": {"type": "internal", "name": "New"}
		}
	}`)
	assert.ErrorIs(t, err, apperr.ErrInternal)

	svc.wrapTx = nil
	after, found, err := svc.GetFull(context.Background(), testKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, before, after)
}

func TestConcurrentUpsertFullSerializes(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	const writers = 12
	inputs := make([]models.FullGraphInput, writers)
	for i := range inputs {
		in, err := DecodeFullGraph([]byte(fmt.Sprintf(`{
			"id": "g1",
			"name": "Support",
			"agents": {
				"a1": {"type": "internal", "name": "Router", "prompt": "route %d", "canTransferTo": ["a2"], "canDelegateTo": ["a3"]},
				"a2": {"type": "internal", "name": "Billing", "canTransferTo": ["a1"]},
				"a3": {"type": "external", "name": "Partner", "baseUrl": "https://partner.example.com"}
			}
		}`, i)))
		require.NoError(t, err)
		inputs[i] = in
	}

	var wg sync.WaitGroup
	errs := make([]error, writers)
	created := make([]bool, writers)
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created[i], errs[i] = svc.UpsertFull(ctx, scope, inputs[i])
		}(i)
	}
	wg.Wait()

	creators := 0
	for i := range errs {
		require.NoError(t, errs[i], "writer %d", i)
		if created[i] {
			creators++
		}
	}
	assert.Equal(t, 1, creators)

	view, found, err := svc.GetFull(ctx, testKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(writers), view.Version)

	var relations []*models.Relation
	require.NoError(t, s.Read(ctx, func(tx *store.Tx) error {
		var err error
		relations, err = tx.ListRelations(ctx, testKey, store.RelationFilter{})
		return err
	}))
	got := map[models.Triple]int{}
	for _, r := range relations {
		got[r.Triple()]++
	}
	assert.Equal(t, map[models.Triple]int{
		{Source: "a1", Target: "a2", Type: models.RelationTransfer}: 1,
		{Source: "a1", Target: "a3", Type: models.RelationDelegate}: 1,
		{Source: "a2", Target: "a1", Type: models.RelationTransfer}: 1,
	}, got)
	assert.Equal(t, []string{"a2"}, view.Agents["a1"].CanTransferTo)
	assert.Equal(t, []string{"a3"}, view.Agents["a1"].CanDelegateTo)
	assert.Equal(t, []string{"a1"}, view.Agents["a2"].CanTransferTo)
}

type cancelingTx struct {
	graphTx
	cancel context.CancelFunc
}

func (c cancelingTx) InsertRelation(ctx context.Context, r *models.Relation) error {
	c.cancel()
	return c.graphTx.InsertRelation(ctx, r)
}

func TestUpsertFullCancelledMidTransactionLeavesGraphUnchanged(t *testing.T) {
	svc, _ := newTestService(t)
	before, _, err := upsert(t, svc, g1Body)
	require.NoError(t, err)

	in, err := DecodeFullGraph([]byte(`{
		"id": "g1",
		"name": "Renamed",
		"agents": {
			"a1": {"prompt": "changed", "canTransferTo": ["a3"]},
			"a2": {},
			"a3": {"type": "internal", "name": "New"}
		}
	}`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.wrapTx = func(tx graphTx) graphTx { return cancelingTx{graphTx: tx, cancel: cancel} }
	_, _, err = svc.UpsertFull(ctx, scope, in)
	assert.ErrorIs(t, err, apperr.ErrInternal)
	assert.False(t, apperr.IsRetryable(err))

	svc.wrapTx = nil
	after, found, err := svc.GetFull(context.Background(), testKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, before, after)
}

type conflictingTx struct {
	graphTx
	calls *int
	fails int
}

func (c conflictingTx) LockGraph(ctx context.Context, key models.GraphKey) error {
	*c.calls++
	if *c.calls <= c.fails {
		return apperr.ConcurrentUpdate(errors.New("could not serialize access"))
	}
	return c.graphTx.LockGraph(ctx, key)
}

func TestUpsertFullRetriesConcurrentUpdates(t *testing.T) {
	svc, _ := newTestService(t)

	calls := 0
	svc.wrapTx = func(tx graphTx) graphTx { return conflictingTx{graphTx: tx, calls: &calls, fails: 2} }
	_, created, err := upsert(t, svc, g1Body)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 3, calls)

	calls = 0
	svc.wrapTx = func(tx graphTx) graphTx { return conflictingTx{graphTx: tx, calls: &calls, fails: 10} }
	_, _, err = upsert(t, svc, g1Body)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, 4, calls)
}

func TestDeleteThenGetFullIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _, err := upsert(t, svc, g1Body)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, testKey))

	_, found, err := svc.GetFull(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, found)

	err = svc.Delete(ctx, testKey)
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Agent graph not found", nf.Detail)
}

func TestGraphMetadataCRUD(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, scope, models.GraphInput{ID: "g2", Name: models.Some("Two"), DefaultAgentID: models.Some("a1")})
	assert.ErrorIs(t, err, apperr.ErrReference)

	created, err := svc.Create(ctx, scope, models.GraphInput{ID: "g2", Name: models.Some("Two")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	_, err = svc.Create(ctx, scope, models.GraphInput{ID: "g2", Name: models.Some("Again")})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, _, err = upsert(t, svc, g1Body)
	require.NoError(t, err)

	graphs, total, err := svc.List(ctx, scope, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, graphs, 2)

	_, err = svc.Update(ctx, testKey, models.GraphInput{DefaultAgentID: models.Some("ghost")})
	assert.ErrorIs(t, err, apperr.ErrReference)

	updated, err := svc.Update(ctx, testKey, models.GraphInput{DefaultAgentID: models.Some("a2"), Description: models.Some("desc")})
	require.NoError(t, err)
	assert.Equal(t, "a2", updated.DefaultAgentID)
	assert.Equal(t, "Support", updated.Name)
	assert.Equal(t, int64(2), updated.Version)

	_, err = svc.Get(ctx, scope.Key("nope"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

type memoryCache struct {
	mu    sync.Mutex
	views map[string]*models.FullGraphView
	hits  int
}

func (m *memoryCache) Get(ctx context.Context, key models.GraphKey, rev Revision) (*models.FullGraphView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[cacheKey(key, rev)]
	if ok {
		m.hits++
	}
	return v, ok
}

func (m *memoryCache) Set(ctx context.Context, key models.GraphKey, rev Revision, view *models.FullGraphView) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[cacheKey(key, rev)] = view
}

func TestGetFullUsesVersionedCache(t *testing.T) {
	svc, _ := newTestService(t)
	cache := &memoryCache{views: map[string]*models.FullGraphView{}}
	svc.cache = cache
	ctx := context.Background()

	_, _, err := upsert(t, svc, g1Body)
	require.NoError(t, err)
	assert.Equal(t, 0, cache.hits)

	_, found, err := svc.GetFull(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, cache.hits)

	view, _, err := upsert(t, svc, `{"id": "g1", "name": "Renamed", "agents": {"a1": {}, "a2": {}}}`)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", view.Name)
	assert.Equal(t, 1, cache.hits)
}

func TestGetFullIgnoresCacheOfDeletedGraph(t *testing.T) {
	svc, _ := newTestService(t)
	cache := &memoryCache{views: map[string]*models.FullGraphView{}}
	svc.cache = cache
	ctx := context.Background()

	_, _, err := upsert(t, svc, g1Body)
	require.NoError(t, err)
	_, _, err = svc.GetFull(ctx, testKey)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, testKey))

	view, created, err := upsert(t, svc, `{"id": "g1", "name": "Fresh", "agents": {"solo": {"type": "internal", "name": "Solo"}}}`)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), view.Version)
	assert.Equal(t, "Fresh", view.Name)
	assert.Len(t, view.Agents, 1)

	got, found, err := svc.GetFull(ctx, testKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Fresh", got.Name)
	assert.Contains(t, got.Agents, "solo")
	assert.NotContains(t, got.Agents, "a1")
}

func TestViewCacheEncoding(t *testing.T) {
	svc, _ := newTestService(t)
	view, _, err := upsert(t, svc, g1Body)
	require.NoError(t, err)

	data, err := encodeView(view)
	require.NoError(t, err)
	decoded, err := decodeView(data)
	require.NoError(t, err)

	want, err := json.Marshal(view)
	require.NoError(t, err)
	got, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}
