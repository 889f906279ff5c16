// Package notify hands newly stored listings to the external notification
// dispatcher.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/baxromumarov/estate-hunter/internal/model"
)

const EventNewListings = "EVENT_NEW_LISTINGS"

// NewListingsEvent is the payload consumed by the dispatcher. The job's
// notification adapter configuration is passed through untouched.
type NewListingsEvent struct {
	Type                string          `json:"type"`
	JobID               string          `json:"jobId"`
	JobName             string          `json:"jobName"`
	UserID              string          `json:"userId"`
	Provider            string          `json:"provider"`
	NotificationAdapter json.RawMessage `json:"notificationAdapter,omitempty"`
	Listings            []model.Listing `json:"listings"`
	EmittedAt           time.Time       `json:"emittedAt"`
}

func BuildEvent(job model.Job, providerID string, listings []model.Listing, now time.Time) NewListingsEvent {
	return NewListingsEvent{
		Type:                EventNewListings,
		JobID:               job.ID,
		JobName:             job.Name,
		UserID:              job.UserID,
		Provider:            providerID,
		NotificationAdapter: job.NotificationAdapter,
		Listings:            listings,
		EmittedAt:           now.UTC(),
	}
}

// LogNotifier only logs. It is used when no message bus is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) NotifyNewListings(_ context.Context, job model.Job, providerID string, listings []model.Listing) error {
	n.logger.Info("new listings", "job_id", job.ID, "provider", providerID, "count", len(listings))
	return nil
}
