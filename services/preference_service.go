package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PreferenceService persists each user's single preferred festival.
// Implements resolve.PreferenceStore for the server side.
type PreferenceService struct {
	db *pgxpool.Pool
}

func NewPreferenceService(db *pgxpool.Pool) *PreferenceService {
	return &PreferenceService{db: db}
}

// LoadPreferred returns "" when the user never set a preference.
func (s *PreferenceService) LoadPreferred(ctx context.Context, userKey string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx,
		`SELECT preferred_festival_id FROM user_preferences WHERE user_key = $1`,
		userKey,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load preference: %w", err)
	}
	return id, nil
}

func (s *PreferenceService) SavePreferred(ctx context.Context, userKey string, festivalID string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO user_preferences (user_key, preferred_festival_id, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (user_key)
		 DO UPDATE SET preferred_festival_id = EXCLUDED.preferred_festival_id, updated_at = NOW()`,
		userKey, festivalID,
	)
	if err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	return nil
}
