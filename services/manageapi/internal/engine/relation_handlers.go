package engine

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/services/graph"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/services/relation"
)

// RelationHandlers contains the relation endpoint handlers
type RelationHandlers struct {
	engine *Engine
}

// NewRelationHandlers creates a new instance of RelationHandlers
func NewRelationHandlers(engine *Engine) *RelationHandlers {
	return &RelationHandlers{
		engine: engine,
	}
}

// ListRelations handles GET .../agent-graphs/{graph_id}/relations. The
// sourceAgentId, targetAgentId and relationType query parameters filter
// the result.
func (rh *RelationHandlers) ListRelations(w http.ResponseWriter, r *http.Request) {
	rh.engine.TrackOperation()
	defer rh.engine.UntrackOperation()

	q := r.URL.Query()
	filter := relation.Filter{
		SourceAgentID: q.Get("sourceAgentId"),
		TargetAgentID: q.Get("targetAgentId"),
		Type:          models.RelationType(q.Get("relationType")),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		rh.engine.writeError(w, r, apperr.NewSchemaError("?relationType", "must be one of transfer, delegate"))
		return
	}

	relations, err := rh.engine.relations.List(r.Context(), graphKeyFromRequest(r), filter)
	if err != nil {
		rh.engine.writeError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, DataResponse{Data: relations})
}

// AddRelation handles POST .../agent-graphs/{graph_id}/relations
func (rh *RelationHandlers) AddRelation(w http.ResponseWriter, r *http.Request) {
	rh.engine.TrackOperation()
	defer rh.engine.UntrackOperation()

	body, err := readBody(r)
	if err != nil {
		rh.engine.writeError(w, r, err)
		return
	}
	in, err := graph.DecodeRelation(body)
	if err != nil {
		rh.engine.writeError(w, r, err)
		return
	}

	view, err := rh.engine.relations.Create(r.Context(), graphKeyFromRequest(r), in)
	if err != nil {
		rh.engine.writeError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, view)
}

// ShowRelation handles GET .../agent-graphs/{graph_id}/relations/{relation_id}
func (rh *RelationHandlers) ShowRelation(w http.ResponseWriter, r *http.Request) {
	rh.engine.TrackOperation()
	defer rh.engine.UntrackOperation()

	view, err := rh.engine.relations.Get(r.Context(), graphKeyFromRequest(r), mux.Vars(r)["relation_id"])
	if err != nil {
		rh.engine.writeError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// ModifyRelation handles PUT .../agent-graphs/{graph_id}/relations/{relation_id}
func (rh *RelationHandlers) ModifyRelation(w http.ResponseWriter, r *http.Request) {
	rh.engine.TrackOperation()
	defer rh.engine.UntrackOperation()

	body, err := readBody(r)
	if err != nil {
		rh.engine.writeError(w, r, err)
		return
	}
	in, err := graph.DecodeRelation(body)
	if err != nil {
		rh.engine.writeError(w, r, err)
		return
	}

	view, err := rh.engine.relations.Update(r.Context(), graphKeyFromRequest(r), mux.Vars(r)["relation_id"], in)
	if err != nil {
		rh.engine.writeError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// DeleteRelation handles DELETE .../agent-graphs/{graph_id}/relations/{relation_id}
func (rh *RelationHandlers) DeleteRelation(w http.ResponseWriter, r *http.Request) {
	rh.engine.TrackOperation()
	defer rh.engine.UntrackOperation()

	if err := rh.engine.relations.Delete(r.Context(), graphKeyFromRequest(r), mux.Vars(r)["relation_id"]); err != nil {
		rh.engine.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
