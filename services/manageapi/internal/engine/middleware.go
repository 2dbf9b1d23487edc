package engine

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// Context keys
const (
	requestIDContextKey contextKey = "request_id"
	principalContextKey contextKey = "principal"
)

const requestIDHeader = "X-Request-ID"

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

func principalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}

// Middleware contains the request pipeline shared by all routes
type Middleware struct {
	engine *Engine
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(engine *Engine) *Middleware {
	return &Middleware{
		engine: engine,
	}
}

// RequestIDMiddleware propagates the caller's X-Request-ID or assigns a new one.
func (m *Middleware) RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// LoggingMiddleware logs one line per request once the response is written.
func (m *Middleware) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		atomic.AddInt64(&m.engine.metrics.requestsProcessed, 1)
		if rec.status >= 500 {
			atomic.AddInt64(&m.engine.metrics.errors, 1)
		}

		fields := map[string]string{
			"request_id": requestIDFromContext(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     strconv.Itoa(rec.status),
			"duration":   time.Since(start).String(),
		}
		if p := principalFromContext(r.Context()); p != nil && p.Subject != "" {
			fields["subject"] = p.Subject
		}
		m.engine.logger.WithFields(fields).Infof("%s %s -> %d (%d bytes)", r.Method, r.URL.Path, rec.status, rec.bytes)
	})
}

// RecoveryMiddleware turns a handler panic into an InternalError response.
func (m *Middleware) RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				m.engine.logger.Errorf("Panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				m.engine.writeError(w, r, apperr.Internal("panic", fmt.Errorf("%v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// AuthenticationMiddleware verifies the bearer credential against the
// tenant named in the path before any tenant-scoped handler runs.
func (m *Middleware) AuthenticationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip authentication for certain routes
		if m.shouldSkipAuth(r) {
			next.ServeHTTP(w, r)
			return
		}

		tenantID := mux.Vars(r)["tenant_id"]
		if tenantID == "" {
			m.engine.writeError(w, r, apperr.NotFound("Tenant"))
			return
		}

		principal, err := m.engine.auth.Authenticate(m.extractBearerToken(r), tenantID)
		if err != nil {
			m.engine.logger.Warnf("Authentication failed for tenant %s on %s %s: %v", tenantID, r.Method, r.URL.Path, err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="agentgraph"`)
			m.engine.writeProblem(w, r, Problem{
				Type:   problemTypeBase + "unauthorized",
				Title:  "Unauthorized",
				Status: http.StatusUnauthorized,
				Detail: err.Error(),
			})
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TimeoutMiddleware bounds every request by server.request_timeout. An
// expired deadline aborts the in-flight transaction.
func (m *Middleware) TimeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.engine.requestTimeout <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), m.engine.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BodyLimitMiddleware caps request bodies at server.max_body_bytes.
func (m *Middleware) BodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.engine.maxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, m.engine.maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// shouldSkipAuth determines if authentication should be skipped for a route
func (m *Middleware) shouldSkipAuth(r *http.Request) bool {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		return true
	}
	// CORS preflight
	return r.Method == http.MethodOptions
}

// extractBearerToken extracts the bearer token from the Authorization header
func (m *Middleware) extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
