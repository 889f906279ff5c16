package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/baxromumarov/estate-hunter/internal/model"
	"github.com/baxromumarov/estate-hunter/internal/observability"
	"github.com/baxromumarov/estate-hunter/internal/provider"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrJobDisabled     = errors.New("job disabled")
)

// ListingStore is the part of the Listing Store the orchestrator writes to.
type ListingStore interface {
	KnownHashes(ctx context.Context, jobID, providerID string) (map[string]struct{}, error)
	// InsertListings inserts or ignores on (job id, hash) and returns the rows actually inserted.
	InsertListings(ctx context.Context, listings []model.Listing) ([]model.Listing, error)
}

type JobStore interface {
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListEnabledJobs(ctx context.Context) ([]model.Job, error)
}

// Notifier receives the newly inserted listings of one provider run.
type Notifier interface {
	NotifyNewListings(ctx context.Context, job model.Job, providerID string, listings []model.Listing) error
}

type ProviderResult struct {
	ProviderID string          `json:"provider"`
	Fetched    int             `json:"fetched"`
	Rejected   int             `json:"rejected"`
	Duplicates int             `json:"duplicates"`
	Known      int             `json:"known"`
	Inserted   []model.Listing `json:"-"`
	Err        error           `json:"-"`
}

type RunReport struct {
	JobID     string           `json:"jobId"`
	StartedAt time.Time        `json:"startedAt"`
	Duration  time.Duration    `json:"duration"`
	Providers []ProviderResult `json:"providers"`
}

// NewListings returns every listing inserted by the run, in provider order.
func (r *RunReport) NewListings() []model.Listing {
	var out []model.Listing
	for _, p := range r.Providers {
		out = append(out, p.Inserted...)
	}
	return out
}

type Orchestrator struct {
	registry *provider.Registry
	listings ListingStore
	jobs     JobStore
	notifier Notifier
	logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewOrchestrator(registry *provider.Registry, listings ListingStore, jobs JobStore, notifier Notifier, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		listings: listings,
		jobs:     jobs,
		notifier: notifier,
		logger:   logger.With("component", "orchestrator"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (o *Orchestrator) RunJobByID(ctx context.Context, jobID string) (*RunReport, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return o.RunJob(ctx, *job)
}

// RunAll runs every enabled job one after another. A failing job is logged
// and does not stop the remaining ones.
func (o *Orchestrator) RunAll(ctx context.Context) ([]*RunReport, error) {
	jobs, err := o.jobs.ListEnabledJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled jobs: %w", err)
	}
	reports := make([]*RunReport, 0, len(jobs))
	for _, job := range jobs {
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		report, err := o.RunJob(ctx, job)
		if err != nil {
			o.logger.Warn("job run failed", "job_id", job.ID, "err", err)
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// RunJob runs all enabled providers of job concurrently. Provider failures
// are reported per provider and never abort the others.
func (o *Orchestrator) RunJob(ctx context.Context, job model.Job) (*RunReport, error) {
	if !job.Enabled {
		return nil, fmt.Errorf("job %s: %w", job.ID, ErrJobDisabled)
	}
	started := o.now()
	configs := job.EnabledProviders()
	results := make([]ProviderResult, len(configs))

	var g errgroup.Group
	for i, cfg := range configs {
		g.Go(func() error {
			results[i] = o.runProvider(ctx, job, cfg)
			return nil
		})
	}
	_ = g.Wait()

	report := &RunReport{
		JobID:     job.ID,
		StartedAt: started,
		Duration:  o.now().Sub(started),
		Providers: results,
	}
	observability.ObserveRunDuration(report.Duration.Seconds())
	o.logger.Info("job run finished",
		"job_id", job.ID,
		"providers", len(results),
		"new_listings", len(report.NewListings()),
		"duration", report.Duration,
	)
	return report, nil
}

func (o *Orchestrator) runProvider(ctx context.Context, job model.Job, cfg model.ProviderConfig) ProviderResult {
	res := ProviderResult{ProviderID: cfg.ID}
	logger := o.logger.With("job_id", job.ID, "provider", cfg.ID)

	p, ok := o.registry.Get(cfg.ID)
	if !ok {
		res.Err = fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.ID)
		logger.Warn("skipping provider", "err", res.Err)
		return res
	}
	meta := p.Meta()

	searchURL, err := p.SearchURL(cfg)
	if err != nil {
		res.Err = err
		logger.Warn("invalid search url", "err", err)
		return res
	}

	raw, err := p.FetchListings(ctx, searchURL)
	if err != nil {
		res.Err = err
		observability.IncError(observability.ClassifyScrapeError(err), cfg.ID)
		logger.Warn("fetch failed", "err", err)
		return res
	}
	res.Fetched = len(raw)
	observability.AddListingsFetched(cfg.ID, len(raw))

	filter := provider.FilterConfig{
		Blacklist:            job.Blacklist,
		BlacklistedDistricts: cfg.BlacklistedDistricts,
	}
	seen := make(map[string]struct{}, len(raw))
	candidates := make([]model.Listing, 0, len(raw))
	for _, item := range raw {
		l, err := p.Normalize(item)
		if err != nil {
			res.Rejected++
			logger.Debug("normalize failed", "native_id", item.NativeID, "err", err)
			continue
		}
		if !p.Filter(l, filter) {
			res.Rejected++
			continue
		}
		l.Provider = meta.ID
		l.JobID = job.ID
		l.Hash = IdentityHash(meta, l)
		if _, dup := seen[l.Hash]; dup {
			res.Duplicates++
			continue
		}
		seen[l.Hash] = struct{}{}
		candidates = append(candidates, l)
	}

	known, err := o.listings.KnownHashes(ctx, job.ID, meta.ID)
	if err != nil {
		res.Err = fmt.Errorf("known hashes: %w", err)
		observability.IncError(observability.ErrorStore, cfg.ID)
		logger.Error("loading known hashes failed", "err", err)
		return res
	}

	now := o.now().UTC()
	fresh := make([]model.Listing, 0, len(candidates))
	for _, l := range candidates {
		if _, ok := known[l.Hash]; ok {
			res.Known++
			continue
		}
		l.ID = o.newID()
		l.CreatedAt = now
		l.IsActive = model.BoolPtr(true)
		fresh = append(fresh, l)
	}
	if len(fresh) == 0 {
		logger.Debug("no new listings", "fetched", res.Fetched, "known", res.Known)
		return res
	}

	inserted, err := o.listings.InsertListings(ctx, fresh)
	if err != nil {
		res.Err = fmt.Errorf("insert listings: %w", err)
		observability.IncError(observability.ErrorStore, cfg.ID)
		logger.Error("insert failed", "err", err)
		return res
	}
	res.Inserted = inserted
	observability.AddListingsInserted(cfg.ID, len(inserted))
	logger.Info("provider run finished",
		"fetched", res.Fetched,
		"rejected", res.Rejected,
		"known", res.Known,
		"inserted", len(inserted),
	)

	if len(inserted) > 0 && o.notifier != nil {
		if err := o.notifier.NotifyNewListings(ctx, job, meta.ID, inserted); err != nil {
			observability.IncError(observability.ClassifyFetchError(err), "notify")
			logger.Warn("notification failed", "err", err)
		}
	}
	return res
}
