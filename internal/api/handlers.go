package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/baxromumarov/estate-hunter/internal/core"
	"github.com/baxromumarov/estate-hunter/internal/observability"
	"github.com/baxromumarov/estate-hunter/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, observability.Snapshot())
}

func (s *Server) handleQueryListings(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	q := r.URL.Query()

	query := store.ListingQuery{
		Page:        atoiDefault(q.Get("page"), 1),
		PageSize:    atoiDefault(q.Get("pageSize"), 0),
		FreeText:    q.Get("freeTextFilter"),
		JobID:       q.Get("jobId"),
		JobName:     q.Get("jobName"),
		Provider:    q.Get("provider"),
		WatchedOnly: q.Get("watchList") == "true",
		SortField:   q.Get("sortfield"),
		SortDir:     q.Get("sortdir"),
		UserID:      id.UserID,
		IsAdmin:     id.IsAdmin,
	}
	if v := q.Get("activityFilter"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "activityFilter must be true or false")
			return
		}
		query.Active = &active
	}

	page, err := s.store.QueryListings(r.Context(), query)
	if err != nil {
		s.respondStoreError(w, err, "query listings")
		return
	}
	if page.Result == nil {
		page.Result = []store.ListingRow{}
	}
	respondJSON(w, http.StatusOK, page)
}

type deleteListingsRequest struct {
	IDs   []string `json:"ids"`
	JobID string   `json:"jobId"`
}

func (s *Server) handleDeleteListings(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	var req deleteListingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var (
		deleted int64
		err     error
	)
	switch {
	case req.JobID != "":
		job, getErr := s.store.GetJob(r.Context(), req.JobID)
		if getErr != nil {
			s.respondStoreError(w, getErr, "delete listings")
			return
		}
		if !job.CanModify(id.UserID, id.IsAdmin) {
			s.respondStoreError(w, store.ErrNotOwner, "delete listings")
			return
		}
		deleted, err = s.store.DeleteListingsByJobID(r.Context(), req.JobID)
	case len(req.IDs) > 0:
		deleted, err = s.store.DeleteListingsByIDs(r.Context(), req.IDs, id.UserID, id.IsAdmin)
	default:
		respondError(w, http.StatusBadRequest, "ids or jobId is required")
		return
	}
	if err != nil {
		s.respondStoreError(w, err, "delete listings")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	jobs, err := s.store.ListJobsForUser(r.Context(), id.UserID, id.IsAdmin)
	if err != nil {
		s.respondStoreError(w, err, "fetch jobs")
		return
	}
	if jobs == nil {
		jobs = []store.JobView{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": jobs,
		"total": len(jobs),
	})
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err, "run job")
		return
	}
	if !job.CanModify(id.UserID, id.IsAdmin) {
		s.respondStoreError(w, store.ErrNotOwner, "run job")
		return
	}

	report, err := s.runner.RunJob(r.Context(), *job)
	if err != nil {
		s.respondStoreError(w, err, "run job")
		return
	}
	respondJSON(w, http.StatusOK, newRunView(report))
}

func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	if !identityFrom(r.Context()).IsAdmin {
		respondError(w, http.StatusForbidden, "admin only")
		return
	}
	reports, err := s.runner.RunAll(r.Context())
	if err != nil {
		s.respondStoreError(w, err, "run jobs")
		return
	}
	views := make([]runView, 0, len(reports))
	for _, report := range reports {
		views = append(views, newRunView(report))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": views})
}

type setStatusRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSetJobStatus(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		respondError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	jobID := chi.URLParam(r, "id")
	if err := s.store.SetJobStatus(r.Context(), jobID, *req.Enabled, id.UserID, id.IsAdmin); err != nil {
		s.respondStoreError(w, err, "update job status")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	if err := s.store.DeleteJob(r.Context(), chi.URLParam(r, "id"), id.UserID, id.IsAdmin); err != nil {
		s.respondStoreError(w, err, "delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobAnalytics(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, err, "load analytics")
		return
	}
	if !job.VisibleTo(id.UserID, id.IsAdmin) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	timeline, err := s.store.ProviderHashTimeline(r.Context(), job.ID)
	if err != nil {
		s.respondStoreError(w, err, "load analytics")
		return
	}
	respondJSON(w, http.StatusOK, timeline)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if !identityFrom(r.Context()).IsAdmin {
		respondError(w, http.StatusForbidden, "admin only")
		return
	}
	report, err := s.reconciler.Run(r.Context())
	if err != nil {
		s.respondStoreError(w, err, "reconcile listings")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type providerView struct {
	Provider   string `json:"provider"`
	Fetched    int    `json:"fetched"`
	Rejected   int    `json:"rejected"`
	Duplicates int    `json:"duplicates"`
	Known      int    `json:"known"`
	Inserted   int    `json:"inserted"`
	Error      string `json:"error,omitempty"`
}

type runView struct {
	JobID     string         `json:"jobId"`
	StartedAt time.Time      `json:"startedAt"`
	Seconds   float64        `json:"seconds"`
	Providers []providerView `json:"providers"`
}

func newRunView(report *core.RunReport) runView {
	v := runView{
		JobID:     report.JobID,
		StartedAt: report.StartedAt,
		Seconds:   report.Duration.Seconds(),
		Providers: make([]providerView, 0, len(report.Providers)),
	}
	for _, p := range report.Providers {
		pv := providerView{
			Provider:   p.ProviderID,
			Fetched:    p.Fetched,
			Rejected:   p.Rejected,
			Duplicates: p.Duplicates,
			Known:      p.Known,
			Inserted:   len(p.Inserted),
		}
		if p.Err != nil {
			pv.Error = p.Err.Error()
		}
		v.Providers = append(v.Providers, pv)
	}
	return v
}

func atoiDefault(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}
