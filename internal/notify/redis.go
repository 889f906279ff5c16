package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baxromumarov/estate-hunter/internal/model"
)

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Publisher is the subset of *redis.Client used for notifications.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes one NewListingsEvent per provider run.
type RedisNotifier struct {
	pub     Publisher
	channel string
	logger  *slog.Logger
	now     func() time.Time
}

func NewRedisNotifier(pub Publisher, channel string, logger *slog.Logger) *RedisNotifier {
	if channel == "" {
		channel = EventNewListings
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{pub: pub, channel: channel, logger: logger.With("component", "notify"), now: time.Now}
}

func (n *RedisNotifier) NotifyNewListings(ctx context.Context, job model.Job, providerID string, listings []model.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	payload, err := json.Marshal(BuildEvent(job, providerID, listings, n.now()))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	receivers, err := n.pub.Publish(ctx, n.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish %s: %w", n.channel, err)
	}
	n.logger.Debug("event published", "job_id", job.ID, "provider", providerID, "count", len(listings), "receivers", receivers)
	return nil
}
