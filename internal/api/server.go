// Package api provides the HTTP surface of the task distribution engine:
// task scheduling, lock inspection, submissions, and the bulk redundancy
// and priority paths.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ywrsusan/pybossa/internal/app/lock"
	"github.com/ywrsusan/pybossa/internal/app/quiz"
	"github.com/ywrsusan/pybossa/internal/app/redundancy"
	"github.com/ywrsusan/pybossa/internal/app/sched"
	"github.com/ywrsusan/pybossa/internal/domain"
	"github.com/ywrsusan/pybossa/internal/infra/lockstore"
	"github.com/ywrsusan/pybossa/internal/infra/sqlite"
)

// anonCookie carries the opaque identity of anonymous contributors.
const anonCookie = "pybossa_anon"

// Authorizer is the capability check consumed from the surrounding
// application. Authentication itself happens outside this engine.
type Authorizer interface {
	// CanManageProject reports whether the user may administer the
	// project (gold marking, bulk redundancy/priority updates).
	CanManageProject(userID int64, project *domain.Project) bool
}

// OwnerAuthorizer grants management rights to the project owner only.
type OwnerAuthorizer struct{}

// CanManageProject implements Authorizer.
func (OwnerAuthorizer) CanManageProject(userID int64, project *domain.Project) bool {
	return userID > 0 && userID == project.OwnerID
}

// Server is the engine's HTTP API server.
type Server struct {
	db    *sqlite.DB
	store lockstore.Store
	locks *lock.Manager
	gate  *quiz.Gate
	sched *sched.Scheduler
	eng   *redundancy.Engine
	auth  Authorizer

	metricsEnabled bool
}

// NewServer creates an API server with all engine services wired.
func NewServer(db *sqlite.DB, store lockstore.Store, locks *lock.Manager,
	gate *quiz.Gate, scheduler *sched.Scheduler, eng *redundancy.Engine) *Server {
	return &Server{
		db:    db,
		store: store,
		locks: locks,
		gate:  gate,
		sched: scheduler,
		eng:   eng,
		auth:  OwnerAuthorizer{},
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetAuthorizer replaces the capability check.
func (s *Server) SetAuthorizer(a Authorizer) { s.auth = a }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/project", s.handleCreateProject)
		r.Post("/task", s.handleCreateTask)
		r.Post("/taskrun", s.handleCreateTaskRun)

		r.Get("/project/{projectID}/newtask", s.handleNewTask)
		r.Get("/project/{projectID}/userprogress", s.handleUserProgress)
		r.Post("/project/{projectID}/taskgold", s.handleTaskGold)
		r.Post("/project/{projectID}/quiz/reset", s.handleQuizReset)
		r.Post("/project/{projectID}/tasks/redundancyupdate", s.handleRedundancyUpdate)
		r.Post("/project/{projectID}/tasks/priorityupdate", s.handlePriorityUpdate)

		r.Get("/task/{taskID}/lock", s.handleFetchLock)
		r.Post("/task/{taskID}/canceltask", s.handleCancelTask)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Requester identity ─────────────────────────────────────────────────────

// requester resolves the acting contributor. Authenticated users arrive
// with X-User-ID (set by the surrounding application's auth layer);
// anonymous requesters get a uuid cookie that stands in for their IP
// identity across requests.
func (s *Server) requester(w http.ResponseWriter, r *http.Request) domain.Actor {
	if raw := r.Header.Get("X-User-ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			return domain.Actor{UserID: id}
		}
	}

	if c, err := r.Cookie(anonCookie); err == nil && c.Value != "" {
		return domain.Actor{IP: c.Value}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     anonCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
	})
	return domain.Actor{IP: id}
}

// ─── Response helpers ───────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps the engine's error taxonomy to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrProjectNotFound),
		errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrTaskRunNotFound),
		errors.Is(err, domain.ErrQuizNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrAnonymousBlocked),
		errors.Is(err, domain.ErrTaskProjectMismatch),
		errors.Is(err, domain.ErrQuizFinalized),
		errors.Is(err, domain.ErrTaskNotPresented),
		errors.Is(err, domain.ErrTaskCompleted):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidRedundancy),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, domain.ErrInvalidPolicy):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func urlID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
