package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/baxromumarov/estate-hunter/internal/core"
	"github.com/baxromumarov/estate-hunter/internal/model"
	"github.com/baxromumarov/estate-hunter/internal/store"
)

const (
	headerUserID      = "X-User-ID"
	headerIsAdmin     = "X-User-Admin"
	headerProxySecret = "X-Proxy-Secret"
)

// Store is the slice of the Listing Store the HTTP surface reads and mutates.
type Store interface {
	Ping(ctx context.Context) error
	QueryListings(ctx context.Context, q store.ListingQuery) (*store.ListingPage, error)
	DeleteListingsByIDs(ctx context.Context, ids []string, userID string, isAdmin bool) (int64, error)
	DeleteListingsByJobID(ctx context.Context, jobID string) (int64, error)
	ProviderHashTimeline(ctx context.Context, jobID string) (map[string]map[string]time.Time, error)

	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobsForUser(ctx context.Context, userID string, isAdmin bool) ([]store.JobView, error)
	SetJobStatus(ctx context.Context, jobID string, enabled bool, userID string, isAdmin bool) error
	DeleteJob(ctx context.Context, jobID, userID string, isAdmin bool) error
}

type Runner interface {
	RunJob(ctx context.Context, job model.Job) (*core.RunReport, error)
	RunAll(ctx context.Context) ([]*core.RunReport, error)
}

type Reconciler interface {
	Run(ctx context.Context) (*core.ReconcileReport, error)
}

type Server struct {
	router     *chi.Mux
	store      Store
	runner     Runner
	reconciler Reconciler
	logger     *slog.Logger
	secret     []byte
}

type Option func(*Server)

// WithSharedSecret makes every authenticated request carry secret in
// X-Proxy-Secret. Only then is X-User-Admin honored.
func WithSharedSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.secret = []byte(secret)
		}
	}
}

func NewServer(st Store, runner Runner, reconciler Reconciler, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:     chi.NewRouter(),
		store:      st,
		runner:     runner,
		reconciler: reconciler,
		logger:     logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.secret == nil {
		s.logger.Warn("no shared secret configured, " + headerIsAdmin + " is ignored")
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", headerUserID},
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/stats", s.handleStats)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireUser)

		r.Get("/listings", s.handleQueryListings)
		r.Delete("/listings", s.handleDeleteListings)
		r.Post("/listings/reconcile", s.handleReconcile)

		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs/run-all", s.handleRunAll)
		r.Post("/jobs/{id}/run", s.handleRunJob)
		r.Put("/jobs/{id}/status", s.handleSetJobStatus)
		r.Delete("/jobs/{id}", s.handleDeleteJob)
		r.Get("/jobs/{id}/analytics", s.handleJobAnalytics)
	})
}

func (s *Server) Router() http.Handler {
	return s.router
}

type identity struct {
	UserID  string
	IsAdmin bool
}

type identityKey struct{}

// requireUser reads the caller identity set by the fronting auth layer. With a
// shared secret configured, requests without it are rejected; without one,
// nobody is admin.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret != nil && subtle.ConstantTimeCompare([]byte(r.Header.Get(headerProxySecret)), s.secret) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid "+headerProxySecret+" header")
			return
		}
		userID := r.Header.Get(headerUserID)
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "missing "+headerUserID+" header")
			return
		}
		var isAdmin bool
		if s.secret != nil {
			isAdmin, _ = strconv.ParseBool(r.Header.Get(headerIsAdmin))
		}
		ctx := context.WithValue(r.Context(), identityKey{}, identity{UserID: userID, IsAdmin: isAdmin})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(ctx context.Context) identity {
	id, _ := ctx.Value(identityKey{}).(identity)
	return id
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps store sentinels to status codes.
func (s *Server) respondStoreError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, store.ErrNotOwner):
		respondError(w, http.StatusForbidden, "only the owner may change this job")
	case errors.Is(err, core.ErrJobDisabled):
		respondError(w, http.StatusConflict, "job is disabled")
	default:
		s.logger.Error(action+" failed", "err", err)
		respondError(w, http.StatusInternalServerError, "Failed to "+action+": "+err.Error())
	}
}
