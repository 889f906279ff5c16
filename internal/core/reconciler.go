package core

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/baxromumarov/estate-hunter/internal/model"
	"github.com/baxromumarov/estate-hunter/internal/observability"
	"github.com/baxromumarov/estate-hunter/internal/provider"
)

type ReconcileStore interface {
	// ActiveOrUnknownListings returns every listing whose activity flag is not false.
	ActiveOrUnknownListings(ctx context.Context) ([]model.Listing, error)
	DeactivateListings(ctx context.Context, ids []string) (int64, error)
}

type ReconcileReport struct {
	Checked     int   `json:"checked"`
	Active      int   `json:"active"`
	Inactive    int   `json:"inactive"`
	Unknown     int   `json:"unknown"`
	Skipped     int   `json:"skipped"`
	Deactivated int64 `json:"deactivated"`
}

// Reconciler re-checks stored listings and flips the ones that went offline.
// The transition is one-way: only INACTIVE results change a row.
type Reconciler struct {
	registry    *provider.Registry
	store       ReconcileStore
	concurrency int
	logger      *slog.Logger
}

func NewReconciler(registry *provider.Registry, store ReconcileStore, concurrency int, logger *slog.Logger) *Reconciler {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		registry:    registry,
		store:       store,
		concurrency: concurrency,
		logger:      logger.With("component", "reconciler"),
	}
}

func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	listings, err := r.store.ActiveOrUnknownListings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load listings: %w", err)
	}

	report := &ReconcileReport{}
	byProvider := make(map[string][]model.Listing)
	for _, l := range listings {
		if _, ok := r.registry.Get(l.Provider); !ok {
			report.Skipped++
			continue
		}
		byProvider[l.Provider] = append(byProvider[l.Provider], l)
	}

	var inactive []string
	for providerID, group := range byProvider {
		p, _ := r.registry.Get(providerID)
		statuses := r.checkAll(ctx, p, group)
		for i, status := range statuses {
			report.Checked++
			switch status {
			case model.StatusActive:
				report.Active++
			case model.StatusInactive:
				report.Inactive++
				inactive = append(inactive, group[i].ID)
			default:
				report.Unknown++
			}
		}
		r.logger.Debug("provider checked", "provider", providerID, "listings", len(group))
	}

	if len(inactive) > 0 {
		n, err := r.store.DeactivateListings(ctx, inactive)
		if err != nil {
			observability.IncError(observability.ErrorStore, "reconciler")
			return report, fmt.Errorf("deactivate listings: %w", err)
		}
		report.Deactivated = n
		observability.AddListingsDeactivated(n)
	}

	r.logger.Info("reconcile finished",
		"checked", report.Checked,
		"inactive", report.Inactive,
		"unknown", report.Unknown,
		"skipped", report.Skipped,
	)
	return report, nil
}

func (r *Reconciler) checkAll(ctx context.Context, p provider.Provider, group []model.Listing) []model.ActiveStatus {
	statuses := make([]model.ActiveStatus, len(group))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, l := range group {
		g.Go(func() error {
			if ctx.Err() != nil {
				statuses[i] = model.StatusUnknown
				return nil
			}
			statuses[i] = p.ActiveStatus(ctx, l.Link)
			return nil
		})
	}
	_ = g.Wait()
	return statuses
}
