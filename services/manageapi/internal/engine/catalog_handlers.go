package engine

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/services/graph"
)

// CatalogHandlers serves the routes of one catalog kind.
type CatalogHandlers struct {
	engine *Engine
	kind   models.CatalogKind
}

// NewCatalogHandlers creates a new instance of CatalogHandlers
func NewCatalogHandlers(engine *Engine, kind models.CatalogKind) *CatalogHandlers {
	return &CatalogHandlers{
		engine: engine,
		kind:   kind,
	}
}

// ListEntries handles GET /tenants/{tenant_id}/projects/{project_id}/tools (and
// data-components, artifact-components)
func (ch *CatalogHandlers) ListEntries(w http.ResponseWriter, r *http.Request) {
	ch.engine.TrackOperation()
	defer ch.engine.UntrackOperation()

	page, limit, err := pageParams(r)
	if err != nil {
		ch.engine.writeError(w, r, err)
		return
	}

	entries, total, err := ch.engine.catalog.List(r.Context(), scopeFromRequest(r), ch.kind, limit, (page-1)*limit)
	if err != nil {
		ch.engine.writeError(w, r, err)
		return
	}

	views := make([]models.CatalogEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, models.NewCatalogEntryView(e))
	}
	writeJSONResponse(w, http.StatusOK, ListResponse{
		Data:       views,
		Pagination: newPagination(page, limit, total),
	})
}

// AddEntry handles POST .../tools
func (ch *CatalogHandlers) AddEntry(w http.ResponseWriter, r *http.Request) {
	ch.engine.TrackOperation()
	defer ch.engine.UntrackOperation()

	body, err := readBody(r)
	if err != nil {
		ch.engine.writeError(w, r, err)
		return
	}
	in, err := graph.DecodeCatalogEntry(body)
	if err != nil {
		ch.engine.writeError(w, r, err)
		return
	}

	entry, err := ch.engine.catalog.Create(r.Context(), scopeFromRequest(r), ch.kind, in)
	if err != nil {
		ch.engine.writeError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.NewCatalogEntryView(entry))
}

// ShowEntry handles GET .../tools/{entry_id}
func (ch *CatalogHandlers) ShowEntry(w http.ResponseWriter, r *http.Request) {
	ch.engine.TrackOperation()
	defer ch.engine.UntrackOperation()

	entry, err := ch.engine.catalog.Get(r.Context(), scopeFromRequest(r), ch.kind, mux.Vars(r)["entry_id"])
	if err != nil {
		ch.engine.writeError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.NewCatalogEntryView(entry))
}

// ModifyEntry handles PUT .../tools/{entry_id}
func (ch *CatalogHandlers) ModifyEntry(w http.ResponseWriter, r *http.Request) {
	ch.engine.TrackOperation()
	defer ch.engine.UntrackOperation()

	body, err := readBody(r)
	if err != nil {
		ch.engine.writeError(w, r, err)
		return
	}
	in, err := graph.DecodeCatalogEntry(body)
	if err != nil {
		ch.engine.writeError(w, r, err)
		return
	}

	entry, err := ch.engine.catalog.Update(r.Context(), scopeFromRequest(r), ch.kind, mux.Vars(r)["entry_id"], in)
	if err != nil {
		ch.engine.writeError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.NewCatalogEntryView(entry))
}

// DeleteEntry handles DELETE .../tools/{entry_id}
func (ch *CatalogHandlers) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	ch.engine.TrackOperation()
	defer ch.engine.UntrackOperation()

	if err := ch.engine.catalog.Delete(r.Context(), scopeFromRequest(r), ch.kind, mux.Vars(r)["entry_id"]); err != nil {
		ch.engine.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
