package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/baxromumarov/estate-hunter/internal/model"
)

// JobView is a job as listed for one user.
type JobView struct {
	model.Job
	IsOnlyShared          bool `json:"isOnlyShared"`
	NumberOfFoundListings int  `json:"numberOfFoundListings"`
}

const jobColumns = `j.id, j.user_id, j.enabled, COALESCE(j.name, ''), j.blacklist, j.provider, j.notification_adapter, j.shared_with_user`

func scanJob(row rowScanner, extra ...any) (model.Job, error) {
	var (
		j                                      model.Job
		blacklist, providers, adapters, shared []byte
	)
	dest := append([]any{&j.ID, &j.UserID, &j.Enabled, &j.Name, &blacklist, &providers, &adapters, &shared}, extra...)
	if err := row.Scan(dest...); err != nil {
		return model.Job{}, err
	}
	if err := unmarshalJSON(blacklist, &j.Blacklist); err != nil {
		return model.Job{}, fmt.Errorf("job %s blacklist: %w", j.ID, err)
	}
	if err := unmarshalJSON(providers, &j.Providers); err != nil {
		return model.Job{}, fmt.Errorf("job %s provider: %w", j.ID, err)
	}
	if err := unmarshalJSON(shared, &j.SharedWithUsers); err != nil {
		return model.Job{}, fmt.Errorf("job %s shared_with_user: %w", j.ID, err)
	}
	if len(adapters) > 0 {
		j.NotificationAdapter = json.RawMessage(adapters)
	}
	return j, nil
}

func unmarshalJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE j.id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) ListEnabledJobs(ctx context.Context) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE j.enabled = TRUE ORDER BY j.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ListJobsForUser returns the jobs owned by or shared with userID; admins see every job.
func (s *Store) ListJobsForUser(ctx context.Context, userID string, isAdmin bool) ([]JobView, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+jobColumns+`,
    (SELECT COUNT(1) FROM listings l WHERE l.job_id = j.id) AS listings
FROM jobs j
WHERE $2 OR j.user_id = $1 OR j.shared_with_user @> jsonb_build_array($1::text)
ORDER BY j.name, j.id
`, userID, isAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []JobView
	for rows.Next() {
		var v JobView
		j, err := scanJob(rows, &v.NumberOfFoundListings)
		if err != nil {
			return nil, err
		}
		v.Job = j
		v.IsOnlyShared = !isAdmin && j.UserID != userID && j.VisibleTo(userID, false)
		jobs = append(jobs, v)
	}
	return jobs, rows.Err()
}

// UpsertJob creates or replaces a job definition.
func (s *Store) UpsertJob(ctx context.Context, j model.Job) error {
	blacklist, err := json.Marshal(nonNil(j.Blacklist))
	if err != nil {
		return err
	}
	providers, err := json.Marshal(j.Providers)
	if err != nil {
		return err
	}
	if j.Providers == nil {
		providers = []byte("[]")
	}
	shared, err := json.Marshal(nonNil(j.SharedWithUsers))
	if err != nil {
		return err
	}
	adapters := []byte(j.NotificationAdapter)
	if len(adapters) == 0 {
		adapters = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO jobs (id, user_id, enabled, name, blacklist, provider, notification_adapter, shared_with_user)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    enabled = EXCLUDED.enabled,
    name = EXCLUDED.name,
    blacklist = EXCLUDED.blacklist,
    provider = EXCLUDED.provider,
    notification_adapter = EXCLUDED.notification_adapter,
    shared_with_user = EXCLUDED.shared_with_user
`, j.ID, j.UserID, j.Enabled, j.Name, string(blacklist), string(providers), string(adapters), string(shared))
	return err
}

func (s *Store) SetJobStatus(ctx context.Context, jobID string, enabled bool, userID string, isAdmin bool) error {
	if err := s.authorize(ctx, jobID, userID, isAdmin); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET enabled = $2 WHERE id = $1`, jobID, enabled)
	return err
}

// DeleteJob removes the job; its listings go with it through the cascade.
func (s *Store) DeleteJob(ctx context.Context, jobID, userID string, isAdmin bool) error {
	if err := s.authorize(ctx, jobID, userID, isAdmin); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	return err
}

func (s *Store) authorize(ctx context.Context, jobID, userID string, isAdmin bool) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.CanModify(userID, isAdmin) {
		return fmt.Errorf("job %s: %w", jobID, ErrNotOwner)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
