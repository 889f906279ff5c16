package store

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/baxromumarov/estate-hunter/internal/model"
)

// integrationStore connects to $DATABASE_URL and applies the schema. Tests
// using it are skipped when the variable is unset.
func integrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.RunMigrations(context.Background()))
	return s
}

func testUsers(t *testing.T, s *Store, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = "it-" + uuid.NewString()
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM users WHERE id = ANY($1)`, pq.Array(ids))
	})
	return ids
}

func testListing(jobID, hash string) model.Listing {
	return model.Listing{
		ID:        uuid.NewString(),
		Hash:      hash,
		NativeID:  hash,
		Provider:  "kleinanzeigen",
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
		IsActive:  model.BoolPtr(true),
		Title:     "Altbau " + hash,
		Link:      "https://www.kleinanzeigen.de/s-anzeige/" + hash,
	}
}

func TestIntegrationListingLifecycle(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()
	users := testUsers(t, s, 3)
	owner, shared, stranger := users[0], users[1], users[2]

	for _, u := range users {
		require.NoError(t, s.EnsureUser(ctx, u))
	}
	require.NoError(t, s.EnsureUser(ctx, owner), "second call is a no-op")

	job := model.Job{ID: "it-" + uuid.NewString(), UserID: owner, Enabled: true, Name: "Berlin", SharedWithUsers: []string{shared}}
	other := model.Job{ID: "it-" + uuid.NewString(), UserID: stranger, Enabled: true, Name: "Hamburg"}
	require.NoError(t, s.UpsertJob(ctx, job))
	require.NoError(t, s.UpsertJob(ctx, other))

	t.Run("job owner must exist", func(t *testing.T) {
		err := s.UpsertJob(ctx, model.Job{ID: "it-" + uuid.NewString(), UserID: "it-missing-" + uuid.NewString()})
		assert.Error(t, err)
	})

	t.Run("concurrent inserts of one hash store one row", func(t *testing.T) {
		var inserted atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < 8; i++ {
			g.Go(func() error {
				out, err := s.InsertListings(gctx, []model.Listing{testListing(job.ID, "dup")})
				inserted.Add(int64(len(out)))
				return err
			})
		}
		require.NoError(t, g.Wait())
		assert.EqualValues(t, 1, inserted.Load())

		known, err := s.KnownHashes(ctx, job.ID, "kleinanzeigen")
		require.NoError(t, err)
		assert.Len(t, known, 1)
	})

	second := testListing(job.ID, "second")
	out, err := s.InsertListings(ctx, []model.Listing{second, testListing(job.ID, "dup")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, second.ID, out[0].ID)
	_, err = s.InsertListings(ctx, []model.Listing{testListing(other.ID, "foreign")})
	require.NoError(t, err)

	t.Run("non-admin scope", func(t *testing.T) {
		tests := []struct {
			name    string
			query   ListingQuery
			want    int
			wantJob string
		}{
			{name: "owner", query: ListingQuery{UserID: owner}, want: 2, wantJob: "Berlin"},
			{name: "shared user", query: ListingQuery{UserID: shared}, want: 2, wantJob: "Berlin"},
			{name: "stranger sees only own job", query: ListingQuery{UserID: stranger}, want: 1, wantJob: "Hamburg"},
			{name: "stranger cannot select foreign job", query: ListingQuery{UserID: stranger, JobID: job.ID}, want: 0},
			{name: "admin selects any job", query: ListingQuery{UserID: stranger, IsAdmin: true, JobID: job.ID}, want: 2, wantJob: "Berlin"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				page, err := s.QueryListings(ctx, tt.query)
				require.NoError(t, err)
				assert.Equal(t, tt.want, page.Total)
				require.Len(t, page.Result, tt.want)
				for _, row := range page.Result {
					assert.Equal(t, tt.wantJob, row.JobName)
				}
			})
		}
	})

	t.Run("deactivate", func(t *testing.T) {
		n, err := s.DeactivateListings(ctx, []string{second.ID})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		page, err := s.QueryListings(ctx, ListingQuery{UserID: owner, Active: model.BoolPtr(false)})
		require.NoError(t, err)
		require.Len(t, page.Result, 1)
		assert.Equal(t, second.ID, page.Result[0].ID)

		active, err := s.ActiveOrUnknownListings(ctx)
		require.NoError(t, err)
		for _, l := range active {
			assert.NotEqual(t, second.ID, l.ID)
		}
	})

	t.Run("delete cascades to listings", func(t *testing.T) {
		assert.ErrorIs(t, s.DeleteJob(ctx, job.ID, shared, false), ErrNotOwner)
		require.NoError(t, s.DeleteJob(ctx, job.ID, owner, false))

		known, err := s.KnownHashes(ctx, job.ID, "kleinanzeigen")
		require.NoError(t, err)
		assert.Empty(t, known)
		_, err = s.GetJob(ctx, job.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
