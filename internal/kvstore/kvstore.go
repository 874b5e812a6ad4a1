// Package kvstore is the local durable key-value store backing a single
// device profile: one JSON file per key under a data directory. It fills
// the same role SharedPreferences does on mobile.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"festLogAPI/internal/types/apperr"
	"festLogAPI/internal/types/favorite"
)

const (
	logKeyPrefix = "festival_log_"
	preferredKey = "preferred_festival"

	// legacyFavoritesKey held the old flat list of favorited drink ids
	// before statuses and tries existed.
	legacyFavoritesKey = "favorites"
)

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &apperr.PersistenceError{Op: "init", Key: dir, Err: err}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) write(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &apperr.PersistenceError{Op: "encode", Key: key, Err: err}
	}
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &apperr.PersistenceError{Op: "write", Key: key, Err: err}
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return &apperr.PersistenceError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// read unmarshals the value under key into v. Returns false when the key
// was never written. Corrupted contents are logged and treated as absent
// rather than surfaced to the caller.
func (s *Store) read(key string, v any) bool {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if err != nil {
		log.Printf("kvstore: read of %q failed, treating as absent: %v", key, err)
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Printf("kvstore: stored value for %q is unparseable, treating as absent: %v", key, err)
		return false
	}
	return true
}

func (s *Store) delete(key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &apperr.PersistenceError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// SaveSnapshot persists one festival's log. The store is per-profile, so
// userKey is not part of the on-disk key.
func (s *Store) SaveSnapshot(_ context.Context, _ string, festivalID string, snap favorite.Snapshot) error {
	return s.write(logKeyPrefix+festivalID, snap)
}

// LoadSnapshot returns the stored log for a festival. A nil map means the
// festival was never initialized on this device; an empty map means it was
// initialized and later cleared.
func (s *Store) LoadSnapshot(_ context.Context, _ string, festivalID string) (favorite.Snapshot, error) {
	var snap favorite.Snapshot
	if !s.read(logKeyPrefix+festivalID, &snap) {
		return nil, nil
	}
	for id, item := range snap {
		if item == nil {
			delete(snap, id)
			continue
		}
		item.ID = id
		item.Normalize()
	}
	return snap, nil
}

// SavePreferred stores the user's default festival.
func (s *Store) SavePreferred(_ context.Context, _ string, festivalID string) error {
	return s.write(preferredKey, festivalID)
}

// LoadPreferred returns the stored default festival, or "" when unset.
func (s *Store) LoadPreferred(_ context.Context, _ string) (string, error) {
	var id string
	s.read(preferredKey, &id)
	return id, nil
}

// MigrateLegacyFavorites converts the pre-status flat favorites list into
// want-to-try entries under the given festival and removes the legacy key.
// Safe to run on every startup: a second run finds no legacy key and does
// nothing, and existing entries are never overwritten.
func (s *Store) MigrateLegacyFavorites(ctx context.Context, festivalID string, now time.Time) (int, error) {
	var legacy []string
	if !s.read(legacyFavoritesKey, &legacy) {
		return 0, nil
	}

	snap, err := s.LoadSnapshot(ctx, "", festivalID)
	if err != nil {
		return 0, err
	}
	if snap == nil {
		snap = favorite.Snapshot{}
	}

	migrated := 0
	for _, drinkID := range legacy {
		if drinkID == "" {
			continue
		}
		if _, ok := snap[drinkID]; ok {
			continue
		}
		snap[drinkID] = favorite.New(drinkID, now)
		migrated++
	}

	if err := s.SaveSnapshot(ctx, "", festivalID, snap); err != nil {
		return 0, err
	}
	if err := s.delete(legacyFavoritesKey); err != nil {
		return migrated, fmt.Errorf("legacy favorites migrated but cleanup failed: %w", err)
	}
	log.Printf("kvstore: migrated %d legacy favorites into festival %s", migrated, festivalID)
	return migrated, nil
}
