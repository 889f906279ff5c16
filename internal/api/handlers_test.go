package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/estate-hunter/internal/core"
	"github.com/baxromumarov/estate-hunter/internal/model"
	"github.com/baxromumarov/estate-hunter/internal/store"
)

type fakeStore struct {
	pingErr   error
	jobs      map[string]model.Job
	lastQuery store.ListingQuery
	page      *store.ListingPage

	deletedIDs   []string
	deletedJobID string
	statusSet    map[string]bool
	timeline     map[string]map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs: map[string]model.Job{
			"job-1": {ID: "job-1", UserID: "alice", Enabled: true, Name: "Berlin", SharedWithUsers: []string{"bob"}},
		},
		page:      &store.ListingPage{Total: 1, Page: 1, PageSize: 50, Result: []store.ListingRow{{Listing: model.Listing{ID: "l1", Title: "Altbau"}, JobName: "Berlin"}}},
		statusSet: map[string]bool{},
		timeline: map[string]map[string]time.Time{
			"kleinanzeigen": {"h1": time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) QueryListings(_ context.Context, q store.ListingQuery) (*store.ListingPage, error) {
	f.lastQuery = q
	return f.page, nil
}

func (f *fakeStore) DeleteListingsByIDs(_ context.Context, ids []string, _ string, _ bool) (int64, error) {
	f.deletedIDs = ids
	return int64(len(ids)), nil
}

func (f *fakeStore) DeleteListingsByJobID(_ context.Context, jobID string) (int64, error) {
	f.deletedJobID = jobID
	return 7, nil
}

func (f *fakeStore) ProviderHashTimeline(context.Context, string) (map[string]map[string]time.Time, error) {
	return f.timeline, nil
}

func (f *fakeStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &j, nil
}

func (f *fakeStore) ListJobsForUser(_ context.Context, userID string, isAdmin bool) ([]store.JobView, error) {
	var out []store.JobView
	for _, j := range f.jobs {
		if j.VisibleTo(userID, isAdmin) {
			out = append(out, store.JobView{Job: j, IsOnlyShared: j.UserID != userID})
		}
	}
	return out, nil
}

func (f *fakeStore) SetJobStatus(ctx context.Context, jobID string, enabled bool, userID string, isAdmin bool) error {
	j, err := f.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !j.CanModify(userID, isAdmin) {
		return store.ErrNotOwner
	}
	f.statusSet[jobID] = enabled
	return nil
}

func (f *fakeStore) DeleteJob(ctx context.Context, jobID, userID string, isAdmin bool) error {
	j, err := f.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !j.CanModify(userID, isAdmin) {
		return store.ErrNotOwner
	}
	delete(f.jobs, jobID)
	return nil
}

type fakeRunner struct {
	ran    []string
	runErr error
}

func (f *fakeRunner) RunJob(_ context.Context, job model.Job) (*core.RunReport, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	f.ran = append(f.ran, job.ID)
	return &core.RunReport{
		JobID:    job.ID,
		Duration: 1500 * time.Millisecond,
		Providers: []core.ProviderResult{
			{ProviderID: "immowelt", Fetched: 3, Inserted: []model.Listing{{ID: "a"}, {ID: "b"}}},
			{ProviderID: "immoscout", Err: errors.New("blocked")},
		},
	}, nil
}

func (f *fakeRunner) RunAll(ctx context.Context) ([]*core.RunReport, error) {
	r, err := f.RunJob(ctx, model.Job{ID: "all"})
	if err != nil {
		return nil, err
	}
	return []*core.RunReport{r}, nil
}

type fakeReconciler struct{ runs int }

func (f *fakeReconciler) Run(context.Context) (*core.ReconcileReport, error) {
	f.runs++
	return &core.ReconcileReport{Checked: 4, Inactive: 1, Deactivated: 1}, nil
}

const testSecret = "proxy-secret"

type fixture struct {
	store      *fakeStore
	runner     *fakeRunner
	reconciler *fakeReconciler
	handler    http.Handler
	secret     string
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{store: newFakeStore(), runner: &fakeRunner{}, reconciler: &fakeReconciler{}, secret: testSecret}
	if len(opts) == 0 {
		opts = []Option{WithSharedSecret(testSecret)}
	}
	f.handler = NewServer(f.store, f.runner, f.reconciler, nil, opts...).Router()
	return f
}

func (f *fixture) do(t *testing.T, method, path, user string, admin bool, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set(headerUserID, user)
	}
	if f.secret != "" {
		req.Header.Set(headerProxySecret, f.secret)
	}
	if admin {
		req.Header.Set(headerIsAdmin, "true")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/health", "", false, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	f.store.pingErr = errors.New("down")
	rec = f.do(t, http.MethodGet, "/health", "", false, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStats(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/stats", "", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decode(t, rec, &body)
	assert.Contains(t, body, "listings_inserted")
}

func TestRequiresUser(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/listings", "", false, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminHeaderNeedsSharedSecret(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		secret string
		admin  bool
		want   int
	}{
		{name: "admin with secret", opts: []Option{WithSharedSecret(testSecret)}, secret: testSecret, admin: true, want: http.StatusOK},
		{name: "wrong secret", opts: []Option{WithSharedSecret(testSecret)}, secret: "guess", admin: true, want: http.StatusUnauthorized},
		{name: "missing secret", opts: []Option{WithSharedSecret(testSecret)}, admin: true, want: http.StatusUnauthorized},
		{name: "admin header without configured secret", opts: []Option{WithSharedSecret("")}, admin: true, want: http.StatusForbidden},
		{name: "non-admin with secret", opts: []Option{WithSharedSecret(testSecret)}, secret: testSecret, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.opts...)
			f.secret = tt.secret
			rec := f.do(t, http.MethodPost, "/jobs/run-all", "root", tt.admin, "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCORSDoesNotAllowAdminHeader(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodOptions, "/listings", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", headerIsAdmin)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.NotContains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), strings.ToLower(headerIsAdmin))

	req.Header.Set("Access-Control-Request-Headers", headerUserID)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), strings.ToLower(headerUserID))
}

func TestQueryListingsPassesFilters(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/listings?page=2&pageSize=20&freeTextFilter=altbau&activityFilter=false&sortfield=price&sortdir=asc&watchList=true&provider=immowelt", "bob", false, "")
	require.Equal(t, http.StatusOK, rec.Code)

	q := f.store.lastQuery
	assert.Equal(t, 2, q.Page)
	assert.Equal(t, 20, q.PageSize)
	assert.Equal(t, "altbau", q.FreeText)
	require.NotNil(t, q.Active)
	assert.False(t, *q.Active)
	assert.Equal(t, "price", q.SortField)
	assert.Equal(t, "asc", q.SortDir)
	assert.True(t, q.WatchedOnly)
	assert.Equal(t, "immowelt", q.Provider)
	assert.Equal(t, "bob", q.UserID)
	assert.False(t, q.IsAdmin)

	var page store.ListingPage
	decode(t, rec, &page)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Result, 1)
	assert.Equal(t, "Altbau", page.Result[0].Title)

	rec = f.do(t, http.MethodGet, "/listings?activityFilter=maybe", "bob", false, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteListings(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodDelete, "/listings", "alice", false, `{"ids":["a","b"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a", "b"}, f.store.deletedIDs)

	rec = f.do(t, http.MethodDelete, "/listings", "bob", false, `{"jobId":"job-1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.store.deletedJobID)

	rec = f.do(t, http.MethodDelete, "/listings", "alice", false, `{"jobId":"job-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "job-1", f.store.deletedJobID)
	assert.JSONEq(t, `{"deleted":7}`, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/listings", "alice", false, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobsMarksShared(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/jobs", "bob", false, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items []store.JobView `json:"items"`
		Total int             `json:"total"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Items, 1)
	assert.True(t, body.Items[0].IsOnlyShared)

	rec = f.do(t, http.MethodGet, "/jobs", "carol", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[],"total":0}`, rec.Body.String())
}

func TestRunJob(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/jobs/job-1/run", "alice", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"job-1"}, f.runner.ran)

	var view runView
	decode(t, rec, &view)
	assert.Equal(t, "job-1", view.JobID)
	assert.Equal(t, 1.5, view.Seconds)
	require.Len(t, view.Providers, 2)
	assert.Equal(t, 2, view.Providers[0].Inserted)
	assert.Equal(t, "blocked", view.Providers[1].Error)

	t.Run("shared user cannot run", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/jobs/job-1/run", "bob", false, "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("missing job", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/jobs/nope/run", "alice", false, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("disabled job", func(t *testing.T) {
		f.runner.runErr = core.ErrJobDisabled
		defer func() { f.runner.runErr = nil }()
		rec := f.do(t, http.MethodPost, "/jobs/job-1/run", "alice", false, "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestAdminOnlyEndpoints(t *testing.T) {
	f := newFixture()

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/jobs/run-all", "alice", false, "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/listings/reconcile", "alice", false, "").Code)

	rec := f.do(t, http.MethodPost, "/jobs/run-all", "root", true, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"all"}, f.runner.ran)

	rec = f.do(t, http.MethodPost, "/listings/reconcile", "root", true, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.reconciler.runs)
	var report core.ReconcileReport
	decode(t, rec, &report)
	assert.Equal(t, 4, report.Checked)
	assert.EqualValues(t, 1, report.Deactivated)
}

func TestJobStatusAndDelete(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		want   int
	}{
		{"status missing body", http.MethodPut, "/jobs/job-1/status", "alice", `{}`, http.StatusBadRequest},
		{"status by shared user", http.MethodPut, "/jobs/job-1/status", "bob", `{"enabled":false}`, http.StatusForbidden},
		{"status unknown job", http.MethodPut, "/jobs/nope/status", "alice", `{"enabled":false}`, http.StatusNotFound},
		{"status by owner", http.MethodPut, "/jobs/job-1/status", "alice", `{"enabled":false}`, http.StatusOK},
		{"delete by shared user", http.MethodDelete, "/jobs/job-1", "bob", "", http.StatusForbidden},
		{"delete by owner", http.MethodDelete, "/jobs/job-1", "alice", "", http.StatusNoContent},
		{"delete again", http.MethodDelete, "/jobs/job-1", "alice", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.user, false, tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	enabled, ok := f.store.statusSet["job-1"]
	require.True(t, ok)
	assert.False(t, enabled)
}

func TestJobAnalytics(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/jobs/job-1/analytics", "bob", false, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var timeline map[string]map[string]time.Time
	decode(t, rec, &timeline)
	assert.Contains(t, timeline["kleinanzeigen"], "h1")

	rec = f.do(t, http.MethodGet, "/jobs/job-1/analytics", "carol", false, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
