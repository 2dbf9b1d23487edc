package relation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgraph/agentgraph-open/pkg/logger"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/services/graph"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store/storetest"
)

var scope = models.Scope{TenantID: "t1", ProjectID: "p1"}

func setup(t *testing.T, policy graph.Policy) (*Service, *graph.Service) {
	t.Helper()
	s := storetest.Open(t)
	graphs := graph.NewService(s, nil, policy, 0, logger.Discard())

	for _, body := range []string{
		`{"id": "g1", "name": "One", "agents": {
			"a1": {"type": "internal", "name": "A1"},
			"a2": {"type": "internal", "name": "A2"},
			"x1": {"type": "external", "name": "X1", "baseUrl": "https://x1.example.com"}
		}}`,
		`{"id": "g2", "name": "Two", "agents": {"b1": {"type": "internal", "name": "B1"}}}`,
	} {
		in, err := graph.DecodeFullGraph([]byte(body))
		require.NoError(t, err)
		_, _, err = graphs.UpsertFull(context.Background(), scope, in)
		require.NoError(t, err)
	}
	return NewService(s, policy, logger.Discard()), graphs
}

func TestCreateRelation(t *testing.T) {
	svc, graphs := setup(t, graph.DefaultPolicy())
	ctx := context.Background()
	key := scope.Key("g1")

	view, err := svc.Create(ctx, key, models.RelationInput{SourceAgentID: "a1", TargetAgentID: "x1", Type: models.RelationDelegate})
	require.NoError(t, err)
	assert.Len(t, view.ID, 26)
	assert.Equal(t, "g1", view.GraphID)

	full, _, err := graphs.GetFull(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"x1"}, full.Agents["a1"].CanDelegateTo)
	assert.Equal(t, int64(2), full.Version)

	_, err = svc.Create(ctx, key, models.RelationInput{SourceAgentID: "a1", TargetAgentID: "x1", Type: models.RelationDelegate})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.Create(ctx, key, models.RelationInput{SourceAgentID: "a1", TargetAgentID: "a1", Type: models.RelationTransfer})
	assert.NoError(t, err)
}

func TestRelationsReadBackInCreationOrder(t *testing.T) {
	svc, graphs := setup(t, graph.DefaultPolicy())
	ctx := context.Background()
	key := scope.Key("g1")

	for _, in := range []models.RelationInput{
		{ID: "zzz", SourceAgentID: "a1", TargetAgentID: "a2", Type: models.RelationTransfer},
		{SourceAgentID: "a1", TargetAgentID: "x1", Type: models.RelationTransfer},
		{ID: "000", SourceAgentID: "a1", TargetAgentID: "a1", Type: models.RelationTransfer},
	} {
		_, err := svc.Create(ctx, key, in)
		require.NoError(t, err)
	}

	full, _, err := graphs.GetFull(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "x1", "a1"}, full.Agents["a1"].CanTransferTo)

	relations, err := svc.List(ctx, key, Filter{SourceAgentID: "a1"})
	require.NoError(t, err)
	require.Len(t, relations, 3)
	assert.Equal(t, "zzz", relations[0].ID)
	assert.Equal(t, "000", relations[2].ID)
}

func TestCreateRelationChecksEndpoints(t *testing.T) {
	svc, _ := setup(t, graph.Policy{})
	ctx := context.Background()
	key := scope.Key("g1")

	cases := []struct {
		name      string
		in        models.RelationInput
		violation apperr.Violation
	}{
		{
			name:      "target in another graph",
			in:        models.RelationInput{SourceAgentID: "a1", TargetAgentID: "b1", Type: models.RelationTransfer},
			violation: apperr.Violation{Kind: apperr.KindRelationship, ID: "b1", Pointer: "/targetAgentId", Reason: apperr.ReasonNotInGraph},
		},
		{
			name:      "external source",
			in:        models.RelationInput{SourceAgentID: "x1", TargetAgentID: "a1", Type: models.RelationTransfer},
			violation: apperr.Violation{Kind: apperr.KindRelationship, ID: "x1", Pointer: "/sourceAgentId", Reason: apperr.ReasonExternalSource},
		},
		{
			name:      "self relation",
			in:        models.RelationInput{SourceAgentID: "a2", TargetAgentID: "a2", Type: models.RelationDelegate},
			violation: apperr.Violation{Kind: apperr.KindRelationship, ID: "a2", Pointer: "/targetAgentId", Reason: apperr.ReasonSelfRelation},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, key, tc.in)
			var verr *apperr.ReferenceValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, []apperr.Violation{tc.violation}, verr.Violations)
		})
	}

	_, err := svc.Create(ctx, scope.Key("g9"), models.RelationInput{SourceAgentID: "a1", TargetAgentID: "a2", Type: models.RelationTransfer})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateAndDeleteRelation(t *testing.T) {
	svc, graphs := setup(t, graph.DefaultPolicy())
	ctx := context.Background()
	key := scope.Key("g1")

	first, err := svc.Create(ctx, key, models.RelationInput{ID: "r1", SourceAgentID: "a1", TargetAgentID: "a2", Type: models.RelationTransfer})
	require.NoError(t, err)
	_, err = svc.Create(ctx, key, models.RelationInput{ID: "r2", SourceAgentID: "a2", TargetAgentID: "a1", Type: models.RelationTransfer})
	require.NoError(t, err)

	_, err = svc.Update(ctx, key, "r2", models.RelationInput{SourceAgentID: "a1", TargetAgentID: "a2", Type: models.RelationTransfer})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	updated, err := svc.Update(ctx, key, first.ID, models.RelationInput{SourceAgentID: "a1", TargetAgentID: "a2", Type: models.RelationDelegate})
	require.NoError(t, err)
	assert.Equal(t, models.RelationDelegate, updated.Type)

	listed, err := svc.List(ctx, key, Filter{Type: models.RelationDelegate})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "r1", listed[0].ID)

	require.NoError(t, svc.Delete(ctx, key, "r1"))
	err = svc.Delete(ctx, key, "r1")
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Relation not found", nf.Detail)

	full, _, err := graphs.GetFull(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, full.Agents["a1"].CanDelegateTo)
	assert.Equal(t, []string{"a1"}, full.Agents["a2"].CanTransferTo)
}
