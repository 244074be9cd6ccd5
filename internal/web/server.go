// Package web implements the HTTP control surface: a JSON API over the
// domain services (inventory, intents, batch jobs) plus a server-sent
// events stream, session-cookie and bearer-token auth, and graceful
// shutdown.
//
// Grounded on the teacher's internal/web/server.go for the mux/middleware
// chain shape and its Dependencies struct for wiring collaborators in by
// interface rather than concrete type.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Will-Luck/Docker-Sentinel/internal/auth"
	"github.com/Will-Luck/Docker-Sentinel/internal/domain"
	"github.com/Will-Luck/Docker-Sentinel/internal/events"
	"github.com/Will-Luck/Docker-Sentinel/internal/intent"
	"github.com/Will-Luck/Docker-Sentinel/internal/inventory"
)

// IntentStore is the subset of *store.Store the intent/instance handlers need.
type IntentStore interface {
	SaveInstance(inst domain.Instance) error
	ListInstances(userID string) ([]domain.Instance, error)
	DeleteInstance(userID, id string) error
	SaveCredential(cred domain.Credential) error

	SaveIntent(i domain.Intent) error
	GetIntent(userID, id string) (domain.Intent, bool, error)
	ListIntents(userID string) ([]domain.Intent, error)
	DeleteIntent(userID, id string) error
	ListExecutionsForIntent(userID, intentID string, limit int) ([]domain.IntentExecution, error)

	ListTrackedApps(userID string) ([]domain.TrackedApp, error)
	SaveTrackedApp(a domain.TrackedApp) error

	ListBatchRuns(userID string, jobKind *domain.JobKind, limit int) ([]domain.BatchRun, error)
	GetBatchJobConfig(userID string, jobKind domain.JobKind) (domain.BatchJobConfig, bool, error)
	SaveBatchJobConfig(c domain.BatchJobConfig) error
}

// IntentExecutor runs one intent on demand, outside its cron schedule.
type IntentExecutor interface {
	Execute(ctx context.Context, it domain.Intent, opts intent.Options) (intent.Summary, error)
}

// InventoryLister lists the live, update-annotated container set.
type InventoryLister interface {
	Instances(userID string) ([]domain.Instance, error)
	ListAnnotatedContainers(ctx context.Context, userID string, opts inventory.Options) ([]domain.AnnotatedContainer, error)
}

// Dependencies collects every collaborator the HTTP surface needs. Built
// once in cmd/fleetd/main.go and handed to NewServer.
type Dependencies struct {
	Store     IntentStore
	Inventory InventoryLister
	Executor  IntentExecutor
	Auth      *auth.Service
	Events    *events.Bus
	Log       *slog.Logger

	Addr           string // host:port to listen on
	MetricsEnabled bool
}

// Server is the HTTP control surface.
type Server struct {
	deps Dependencies
	http *http.Server
}

// NewServer builds a Server with all routes and middleware wired.
func NewServer(deps Dependencies) *Server {
	s := &Server{deps: deps}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = mux
	handler = auth.CSRFMiddleware(handler)
	handler = auth.AuthMiddleware(deps.Auth)(handler)
	handler = requestLogger(deps.Log)(handler)

	s.http = &http.Server{
		Addr:              deps.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)

	mux.Handle("GET /api/instances", auth.RequirePermission(auth.PermInstancesView)(http.HandlerFunc(s.handleListInstances)))
	mux.Handle("POST /api/instances", auth.RequirePermission(auth.PermInstancesManage)(http.HandlerFunc(s.handleCreateInstance)))
	mux.Handle("DELETE /api/instances/{id}", auth.RequirePermission(auth.PermInstancesManage)(http.HandlerFunc(s.handleDeleteInstance)))
	mux.Handle("GET /api/containers", auth.RequirePermission(auth.PermInstancesView)(http.HandlerFunc(s.handleListContainers)))

	mux.Handle("GET /api/intents", auth.RequirePermission(auth.PermIntentsView)(http.HandlerFunc(s.handleListIntents)))
	mux.Handle("POST /api/intents", auth.RequirePermission(auth.PermIntentsManage)(http.HandlerFunc(s.handleCreateIntent)))
	mux.Handle("DELETE /api/intents/{id}", auth.RequirePermission(auth.PermIntentsManage)(http.HandlerFunc(s.handleDeleteIntent)))
	mux.Handle("POST /api/intents/{id}/execute", auth.RequirePermission(auth.PermIntentsExecute)(http.HandlerFunc(s.handleExecuteIntent)))
	mux.Handle("GET /api/intents/{id}/executions", auth.RequirePermission(auth.PermHistoryView)(http.HandlerFunc(s.handleListExecutions)))

	mux.Handle("GET /api/batch/runs", auth.RequirePermission(auth.PermBatchView)(http.HandlerFunc(s.handleListBatchRuns)))
	mux.Handle("GET /api/batch/config", auth.RequirePermission(auth.PermBatchView)(http.HandlerFunc(s.handleGetBatchConfig)))
	mux.Handle("PUT /api/batch/config", auth.RequirePermission(auth.PermBatchManage)(http.HandlerFunc(s.handleSetBatchConfig)))

	mux.Handle("GET /api/events", auth.RequirePermission(auth.PermInstancesView)(http.HandlerFunc(s.handleSSE)))

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	if s.deps.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
}

// Start runs the HTTP server until it errors out or Shutdown is called.
func (s *Server) Start() error {
	if s.deps.Log != nil {
		s.deps.Log.Info("web server listening", "addr", s.deps.Addr)
	}
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// StartTLS runs the HTTP server over TLS until it errors out or Shutdown is called.
func (s *Server) StartTLS(certFile, keyFile string) error {
	if s.deps.Log != nil {
		s.deps.Log.Info("web server listening (tls)", "addr", s.deps.Addr)
	}
	err := s.http.ListenAndServeTLS(certFile, keyFile)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requestLogger logs every request's method, path, status and duration.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			if log != nil {
				log.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", sw.status,
					"remote", clientIP(r),
					"duration_ms", time.Since(start).Milliseconds(),
				)
			}
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
