package engine

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
)

type Server struct {
	engine                   *Engine
	router                   *mux.Router
	graphHandler             *GraphHandlers
	agentHandler             *AgentHandlers
	externalAgentHandler     *AgentHandlers
	relationHandler          *RelationHandlers
	toolHandler              *CatalogHandlers
	dataComponentHandler     *CatalogHandlers
	artifactComponentHandler *CatalogHandlers
	middleware               *Middleware
}

func NewServer(engine *Engine) *Server {
	s := &Server{
		engine:                   engine,
		router:                   mux.NewRouter(),
		graphHandler:             NewGraphHandlers(engine),
		agentHandler:             NewAgentHandlers(engine, models.AgentTypeInternal),
		externalAgentHandler:     NewAgentHandlers(engine, models.AgentTypeExternal),
		relationHandler:          NewRelationHandlers(engine),
		toolHandler:              NewCatalogHandlers(engine, models.CatalogTool),
		dataComponentHandler:     NewCatalogHandlers(engine, models.CatalogDataComponent),
		artifactComponentHandler: NewCatalogHandlers(engine, models.CatalogArtifactComponent),
		middleware:               NewMiddleware(engine),
	}
	s.setupRoutes()
	s.setupMiddleware()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.middleware.RequestIDMiddleware)
	s.router.Use(s.middleware.LoggingMiddleware)
	s.router.Use(s.middleware.RecoveryMiddleware)

	// CORS middleware
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, If-None-Match, X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	s.router.Use(s.middleware.AuthenticationMiddleware)
	s.router.Use(s.middleware.TimeoutMiddleware)
	s.router.Use(s.middleware.BodyLimitMiddleware)

	// Unmatched requests bypass router middleware
	s.router.NotFoundHandler = s.middleware.RequestIDMiddleware(http.HandlerFunc(s.handleNotFound))
	s.router.MethodNotAllowedHandler = s.middleware.RequestIDMiddleware(http.HandlerFunc(s.handleMethodNotAllowed))
}

func (s *Server) setupRoutes() {
	// Health check endpoint (global, no tenant)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Tenant and project scoped routes
	// Pattern: /tenants/{tenant_id}/projects/{project_id}/...
	projectRouter := s.router.PathPrefix("/tenants/{tenant_id}/projects/{project_id}").Subrouter()

	// Agent graph endpoints
	graphs := projectRouter.PathPrefix("/agent-graphs").Subrouter()
	graphs.HandleFunc("", s.graphHandler.ListGraphs).Methods(http.MethodGet)
	graphs.HandleFunc("", s.graphHandler.AddGraph).Methods(http.MethodPost)
	graphs.HandleFunc("/full", s.graphHandler.AddFullGraph).Methods(http.MethodPost)
	graphs.HandleFunc("/{graph_id}", s.graphHandler.ShowGraph).Methods(http.MethodGet)
	graphs.HandleFunc("/{graph_id}", s.graphHandler.ModifyGraph).Methods(http.MethodPut)
	graphs.HandleFunc("/{graph_id}", s.graphHandler.DeleteGraph).Methods(http.MethodDelete)
	graphs.HandleFunc("/{graph_id}/full", s.graphHandler.ShowFullGraph).Methods(http.MethodGet)
	graphs.HandleFunc("/{graph_id}/full", s.graphHandler.PutFullGraph).Methods(http.MethodPut)
	graphs.HandleFunc("/{graph_id}/full", s.graphHandler.DeleteGraph).Methods(http.MethodDelete)

	// Agent endpoints (nested under agent graphs)
	agents := graphs.PathPrefix("/{graph_id}/agents").Subrouter()
	agents.HandleFunc("", s.agentHandler.ListAgents).Methods(http.MethodGet)
	agents.HandleFunc("", s.agentHandler.AddAgent).Methods(http.MethodPost)
	agents.HandleFunc("/{agent_id}", s.agentHandler.ShowAgent).Methods(http.MethodGet)
	agents.HandleFunc("/{agent_id}", s.agentHandler.ModifyAgent).Methods(http.MethodPut)
	agents.HandleFunc("/{agent_id}", s.agentHandler.DeleteAgent).Methods(http.MethodDelete)

	// External agent endpoints (nested under agent graphs)
	externalAgents := graphs.PathPrefix("/{graph_id}/external-agents").Subrouter()
	externalAgents.HandleFunc("", s.externalAgentHandler.ListAgents).Methods(http.MethodGet)
	externalAgents.HandleFunc("", s.externalAgentHandler.AddAgent).Methods(http.MethodPost)
	externalAgents.HandleFunc("/{agent_id}", s.externalAgentHandler.ShowAgent).Methods(http.MethodGet)
	externalAgents.HandleFunc("/{agent_id}", s.externalAgentHandler.ModifyAgent).Methods(http.MethodPut)
	externalAgents.HandleFunc("/{agent_id}", s.externalAgentHandler.DeleteAgent).Methods(http.MethodDelete)

	// Relation endpoints (nested under agent graphs)
	relations := graphs.PathPrefix("/{graph_id}/relations").Subrouter()
	relations.HandleFunc("", s.relationHandler.ListRelations).Methods(http.MethodGet)
	relations.HandleFunc("", s.relationHandler.AddRelation).Methods(http.MethodPost)
	relations.HandleFunc("/{relation_id}", s.relationHandler.ShowRelation).Methods(http.MethodGet)
	relations.HandleFunc("/{relation_id}", s.relationHandler.ModifyRelation).Methods(http.MethodPut)
	relations.HandleFunc("/{relation_id}", s.relationHandler.DeleteRelation).Methods(http.MethodDelete)

	// Catalog endpoints (project-level)
	for prefix, h := range map[string]*CatalogHandlers{
		"/tools":               s.toolHandler,
		"/data-components":     s.dataComponentHandler,
		"/artifact-components": s.artifactComponentHandler,
	} {
		entries := projectRouter.PathPrefix(prefix).Subrouter()
		entries.HandleFunc("", h.ListEntries).Methods(http.MethodGet)
		entries.HandleFunc("", h.AddEntry).Methods(http.MethodPost)
		entries.HandleFunc("/{entry_id}", h.ShowEntry).Methods(http.MethodGet)
		entries.HandleFunc("/{entry_id}", h.ModifyEntry).Methods(http.MethodPut)
		entries.HandleFunc("/{entry_id}", h.DeleteEntry).Methods(http.MethodDelete)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.engine.CheckStore(r.Context()); err != nil {
		s.engine.logger.Warnf("Health check: database unavailable: %v", err)
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, code, map[string]interface{}{
		"status":    status,
		"service":   "manageapi",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.engine.writeProblem(w, r, Problem{
		Type:   problemTypeBase + "not-found",
		Title:  "Not Found",
		Status: http.StatusNotFound,
		Detail: "No route matches " + r.URL.Path,
	})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.engine.writeProblem(w, r, Problem{
		Type:   problemTypeBase + "method-not-allowed",
		Title:  "Method Not Allowed",
		Status: http.StatusMethodNotAllowed,
		Detail: r.Method + " is not supported on " + r.URL.Path,
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
