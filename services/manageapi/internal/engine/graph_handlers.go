package engine

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/services/graph"
)

// GraphHandlers contains the agent graph endpoint handlers
type GraphHandlers struct {
	engine *Engine
}

// NewGraphHandlers creates a new instance of GraphHandlers
func NewGraphHandlers(engine *Engine) *GraphHandlers {
	return &GraphHandlers{
		engine: engine,
	}
}

// ListGraphs handles GET /tenants/{tenant_id}/projects/{project_id}/agent-graphs
func (gh *GraphHandlers) ListGraphs(w http.ResponseWriter, r *http.Request) {
	gh.engine.TrackOperation()
	defer gh.engine.UntrackOperation()

	page, limit, err := pageParams(r)
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}

	graphs, total, err := gh.engine.graphs.List(r.Context(), scopeFromRequest(r), limit, (page-1)*limit)
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, ListResponse{
		Data:       graphs,
		Pagination: newPagination(page, limit, total),
	})
}

// AddGraph handles POST /tenants/{tenant_id}/projects/{project_id}/agent-graphs
func (gh *GraphHandlers) AddGraph(w http.ResponseWriter, r *http.Request) {
	gh.engine.TrackOperation()
	defer gh.engine.UntrackOperation()

	body, err := readBody(r)
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}
	in, err := graph.DecodeGraph(body)
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}

	view, err := gh.engine.graphs.Create(r.Context(), scopeFromRequest(r), in)
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, view)
}

// ShowGraph handles GET .../agent-graphs/{graph_id}
func (gh *GraphHandlers) ShowGraph(w http.ResponseWriter, r *http.Request) {
	gh.engine.TrackOperation()
	defer gh.engine.UntrackOperation()

	view, err := gh.engine.graphs.Get(r.Context(), graphKeyFromRequest(r))
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// ModifyGraph handles PUT .../agent-graphs/{graph_id}
func (gh *GraphHandlers) ModifyGraph(w http.ResponseWriter, r *http.Request) {
	gh.engine.TrackOperation()
	defer gh.engine.UntrackOperation()

	body, err := readBody(r)
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}
	in, err := graph.DecodeGraph(body)
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}

	view, err := gh.engine.graphs.Update(r.Context(), graphKeyFromRequest(r), in)
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// DeleteGraph handles DELETE .../agent-graphs/{graph_id} and .../agent-graphs/{graph_id}/full
func (gh *GraphHandlers) DeleteGraph(w http.ResponseWriter, r *http.Request) {
	gh.engine.TrackOperation()
	defer gh.engine.UntrackOperation()

	if err := gh.engine.graphs.Delete(r.Context(), graphKeyFromRequest(r)); err != nil {
		gh.engine.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddFullGraph handles POST .../agent-graphs/full. The submission is
// reconciled against any stored graph with the same id.
func (gh *GraphHandlers) AddFullGraph(w http.ResponseWriter, r *http.Request) {
	gh.engine.TrackOperation()
	defer gh.engine.UntrackOperation()

	body, err := readBody(r)
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}

	view, _, err := gh.engine.UpsertFullGraph(r.Context(), scopeFromRequest(r), body)
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}
	gh.writeFullGraph(w, r, http.StatusCreated, view)
}

// ShowFullGraph handles GET .../agent-graphs/{graph_id}/full
func (gh *GraphHandlers) ShowFullGraph(w http.ResponseWriter, r *http.Request) {
	gh.engine.TrackOperation()
	defer gh.engine.UntrackOperation()

	view, found, err := gh.engine.graphs.GetFull(r.Context(), graphKeyFromRequest(r))
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}
	if !found {
		gh.engine.writeError(w, r, apperr.NotFound("Agent graph"))
		return
	}
	gh.writeFullGraph(w, r, http.StatusOK, view)
}

// PutFullGraph handles PUT .../agent-graphs/{graph_id}/full. It answers 201
// when the graph did not exist and 200 otherwise.
func (gh *GraphHandlers) PutFullGraph(w http.ResponseWriter, r *http.Request) {
	gh.engine.TrackOperation()
	defer gh.engine.UntrackOperation()

	body, err := readBody(r)
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}
	in, err := graph.DecodeFullGraph(body)
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}
	key := graphKeyFromRequest(r)
	if in.ID != key.GraphID {
		gh.engine.writeError(w, r, apperr.NewSchemaError("/id", "must match the graph id in the path"))
		return
	}

	view, created, err := gh.engine.graphs.UpsertFull(r.Context(), key.Scope, in)
	if err != nil {
		gh.engine.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	gh.writeFullGraph(w, r, status, view)
}

// writeFullGraph sends the view with a content ETag. A GET whose
// If-None-Match names the current ETag gets 304.
func (gh *GraphHandlers) writeFullGraph(w http.ResponseWriter, r *http.Request, status int, view *models.FullGraphView) {
	body, err := json.Marshal(view)
	if err != nil {
		gh.engine.writeError(w, r, apperr.Internal("encode graph view", err))
		return
	}
	etag := viewETag(body)
	w.Header().Set("ETag", etag)

	if r.Method == http.MethodGet && etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func viewETag(body []byte) string {
	sum := blake3.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
