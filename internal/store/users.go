package store

import (
	"context"
	"fmt"
)

// EnsureUser creates a non-admin user named after id unless one already
// exists. Jobs reference users, so importing jobs into a fresh database needs
// their owners first.
func (s *Store) EnsureUser(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("ensure user: empty id")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, username) VALUES ($1, $1) ON CONFLICT DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("ensure user %s: %w", id, err)
	}
	return nil
}
