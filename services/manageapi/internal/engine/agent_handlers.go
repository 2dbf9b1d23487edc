package engine

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/services/graph"
)

// AgentHandlers serves either the agents or the external-agents routes of
// a graph, depending on typ.
type AgentHandlers struct {
	engine *Engine
	typ    models.AgentType
}

// NewAgentHandlers creates a new instance of AgentHandlers
func NewAgentHandlers(engine *Engine, typ models.AgentType) *AgentHandlers {
	return &AgentHandlers{
		engine: engine,
		typ:    typ,
	}
}

// ListAgents handles GET .../agent-graphs/{graph_id}/agents
func (ah *AgentHandlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	ah.engine.TrackOperation()
	defer ah.engine.UntrackOperation()

	agents, err := ah.engine.agents.List(r.Context(), graphKeyFromRequest(r), ah.typ)
	if err != nil {
		ah.engine.writeError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, DataResponse{Data: agents})
}

// AddAgent handles POST .../agent-graphs/{graph_id}/agents
func (ah *AgentHandlers) AddAgent(w http.ResponseWriter, r *http.Request) {
	ah.engine.TrackOperation()
	defer ah.engine.UntrackOperation()

	body, err := readBody(r)
	if err != nil {
		ah.engine.writeError(w, r, err)
		return
	}
	in, err := graph.DecodeAgent(body)
	if err != nil {
		ah.engine.writeError(w, r, err)
		return
	}

	view, err := ah.engine.agents.Create(r.Context(), graphKeyFromRequest(r), ah.typ, in)
	if err != nil {
		ah.engine.writeError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, view)
}

// ShowAgent handles GET .../agent-graphs/{graph_id}/agents/{agent_id}
func (ah *AgentHandlers) ShowAgent(w http.ResponseWriter, r *http.Request) {
	ah.engine.TrackOperation()
	defer ah.engine.UntrackOperation()

	view, err := ah.engine.agents.Get(r.Context(), graphKeyFromRequest(r), ah.typ, mux.Vars(r)["agent_id"])
	if err != nil {
		ah.engine.writeError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// ModifyAgent handles PUT .../agent-graphs/{graph_id}/agents/{agent_id}
func (ah *AgentHandlers) ModifyAgent(w http.ResponseWriter, r *http.Request) {
	ah.engine.TrackOperation()
	defer ah.engine.UntrackOperation()

	body, err := readBody(r)
	if err != nil {
		ah.engine.writeError(w, r, err)
		return
	}
	in, err := graph.DecodeAgent(body)
	if err != nil {
		ah.engine.writeError(w, r, err)
		return
	}

	view, err := ah.engine.agents.Update(r.Context(), graphKeyFromRequest(r), ah.typ, mux.Vars(r)["agent_id"], in)
	if err != nil {
		ah.engine.writeError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// DeleteAgent handles DELETE .../agent-graphs/{graph_id}/agents/{agent_id}
func (ah *AgentHandlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	ah.engine.TrackOperation()
	defer ah.engine.UntrackOperation()

	if err := ah.engine.agents.Delete(r.Context(), graphKeyFromRequest(r), ah.typ, mux.Vars(r)["agent_id"]); err != nil {
		ah.engine.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
