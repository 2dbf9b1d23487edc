package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentgraph/agentgraph-open/pkg/config"
	"github.com/agentgraph/agentgraph-open/pkg/logger"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/services/agent"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/services/catalog"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/services/graph"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/services/relation"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store"
)

// Engine owns the HTTP server and the domain services behind it.
type Engine struct {
	config *config.Config
	logger *logger.Logger
	store  *store.Store

	graphs    *graph.Service
	agents    *agent.Service
	relations *relation.Service
	catalog   *catalog.Service
	auth      *Authenticator

	requestTimeout time.Duration
	maxBodyBytes   int64

	server   *http.Server
	listener net.Listener

	state struct {
		sync.Mutex
		isRunning         bool
		ongoingOperations int32
	}
	metrics struct {
		requestsProcessed int64
		errors            int64
	}
}

// NewEngine wires the domain services over st. cache may be nil.
func NewEngine(cfg *config.Config, st *store.Store, cache graph.ViewCache, log *logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.Discard()
	}
	auth, err := NewAuthenticator(cfg)
	if err != nil {
		return nil, err
	}

	policy, retries := graph.PolicyFromConfig(cfg)
	e := &Engine{
		config:         cfg,
		logger:         log,
		store:          st,
		graphs:         graph.NewService(st, cache, policy, retries, log),
		agents:         agent.NewService(st, policy, log),
		relations:      relation.NewService(st, policy, log),
		catalog:        catalog.NewService(st, log),
		auth:           auth,
		requestTimeout: cfg.GetDuration("server.request_timeout", 30*time.Second),
		maxBodyBytes:   int64(cfg.GetInt("server.max_body_bytes", 1<<20)),
	}
	if auth.Disabled() {
		log.Warnf("Authentication is disabled, every request is trusted")
	}
	return e, nil
}

// Start binds the HTTP listener and serves in the background.
func (e *Engine) Start(ctx context.Context) error {
	e.state.Lock()
	if e.state.isRunning {
		e.state.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.state.Unlock()

	port := e.config.GetInt("server.http_port", 8080)
	lis, err := net.Listen("tcp", net.JoinHostPort(e.config.Get("server.http_host"), strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP port %d: %w", port, err)
	}

	e.server = &http.Server{
		Handler:           NewServer(e),
		ReadHeaderTimeout: 10 * time.Second,
	}
	e.listener = lis

	e.state.Lock()
	e.state.isRunning = true
	e.state.Unlock()

	e.logger.Infof("Starting HTTP server on %s", lis.Addr())
	go func() {
		if err := e.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Errorf("HTTP server error: %v", err)
			atomic.AddInt64(&e.metrics.errors, 1)
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (e *Engine) Stop(ctx context.Context) error {
	e.state.Lock()
	if !e.state.isRunning {
		e.state.Unlock()
		return nil
	}
	e.state.isRunning = false
	e.state.Unlock()

	if ongoing := atomic.LoadInt32(&e.state.ongoingOperations); ongoing > 0 {
		e.logger.Infof("Waiting for %d in-flight requests", ongoing)
	}
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound HTTP address, or nil before Start.
func (e *Engine) Addr() net.Addr {
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

func (e *Engine) GetMetrics() map[string]int64 {
	return map[string]int64{
		"requests_processed": atomic.LoadInt64(&e.metrics.requestsProcessed),
		"errors":             atomic.LoadInt64(&e.metrics.errors),
		"ongoing_operations": int64(atomic.LoadInt32(&e.state.ongoingOperations)),
	}
}

func (e *Engine) CheckHTTPServer() error {
	e.state.Lock()
	defer e.state.Unlock()

	if !e.state.isRunning {
		return fmt.Errorf("service not initialized")
	}
	if e.server == nil {
		return fmt.Errorf("HTTP server not initialized")
	}
	return nil
}

func (e *Engine) CheckStore(ctx context.Context) error {
	return e.store.Ping(ctx)
}

func (e *Engine) TrackOperation() {
	atomic.AddInt32(&e.state.ongoingOperations, 1)
}

func (e *Engine) UntrackOperation() {
	atomic.AddInt32(&e.state.ongoingOperations, -1)
}

// UpsertFullGraph runs a full-graph submission given as raw JSON.
func (e *Engine) UpsertFullGraph(ctx context.Context, scope models.Scope, body []byte) (*models.FullGraphView, bool, error) {
	in, err := graph.DecodeFullGraph(body)
	if err != nil {
		return nil, false, err
	}
	return e.graphs.UpsertFull(ctx, scope, in)
}
