package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgraph/agentgraph-open/pkg/logger"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store/storetest"
)

var scope = models.Scope{TenantID: "t1", ProjectID: "p1"}

func TestMissingReportsUnknownIDsOnce(t *testing.T) {
	ctx := context.Background()
	svc := NewService(storetest.Open(t), logger.Discard())

	_, err := svc.Create(ctx, scope, models.CatalogTool, models.CatalogInput{ID: "search", Name: models.Some("Search")})
	require.NoError(t, err)

	missing, err := svc.Missing(ctx, scope, models.CatalogTool, []string{"search", "ghost", "ghost", "", "other"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost", "other"}, missing)

	missing, err = svc.Missing(ctx, models.Scope{TenantID: "t2", ProjectID: "p1"}, models.CatalogTool, []string{"search"})
	require.NoError(t, err)
	assert.Equal(t, []string{"search"}, missing)
}

func TestCreateValidatesAndRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	svc := NewService(storetest.Open(t), logger.Discard())

	_, err := svc.Create(ctx, scope, models.CatalogDataComponent, models.CatalogInput{})
	var schemaErr *apperr.SchemaValidationError
	require.ErrorAs(t, err, &schemaErr)
	assert.Len(t, schemaErr.Errors, 2)

	in := models.CatalogInput{ID: "orders", Name: models.Some("Orders"), Config: map[string]any{"fields": []string{"id"}}}
	entry, err := svc.Create(ctx, scope, models.CatalogDataComponent, in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fields":["id"]}`, string(entry.Config))

	_, err = svc.Create(ctx, scope, models.CatalogDataComponent, in)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestUpdatePreservesOmittedFields(t *testing.T) {
	ctx := context.Background()
	svc := NewService(storetest.Open(t), logger.Discard())

	_, err := svc.Create(ctx, scope, models.CatalogTool, models.CatalogInput{ID: "search", Name: models.Some("Search"), Description: models.Some("web")})
	require.NoError(t, err)

	entry, err := svc.Update(ctx, scope, models.CatalogTool, "search", models.CatalogInput{Name: models.Some("Web search")})
	require.NoError(t, err)
	assert.Equal(t, "Web search", entry.Name)
	assert.Equal(t, "web", entry.Description)

	entry, err = svc.Update(ctx, scope, models.CatalogTool, "search", models.CatalogInput{Description: models.Null[string]()})
	require.NoError(t, err)
	assert.Empty(t, entry.Description)

	_, err = svc.Update(ctx, scope, models.CatalogTool, "nope", models.CatalogInput{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteRefusesReferencedEntries(t *testing.T) {
	ctx := context.Background()
	s := storetest.Open(t)
	svc := NewService(s, logger.Discard())

	_, err := svc.Create(ctx, scope, models.CatalogTool, models.CatalogInput{ID: "search", Name: models.Some("Search")})
	require.NoError(t, err)

	key := scope.Key("g1")
	err = s.InTx(ctx, func(tx *store.Tx) error {
		now := store.Now()
		if err := tx.InsertGraph(ctx, &models.Graph{TenantID: "t1", ProjectID: "p1", ID: "g1", Name: "g", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return tx.InsertAgent(ctx, &models.Agent{
			GraphKey: key, ID: "a1", Type: models.AgentTypeInternal, Name: "A",
			CanUse: []models.ToolSelection{{ToolID: "search"}}, CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)

	err = svc.Delete(ctx, scope, models.CatalogTool, "search")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, err.Error(), "g1/a1")

	err = svc.Delete(ctx, scope, models.CatalogArtifactComponent, "search")
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Artifact component not found", nf.Detail)
}
