package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"festLogAPI/internal/merge"
	"festLogAPI/internal/types/device"
	"festLogAPI/internal/types/favorite"
	"festLogAPI/middleware"
)

// SyncService is the remote document store for festival-log snapshots,
// keyed by user key and festival id. It is the only writer of the
// snapshot rows: every device push is merged with the stored snapshot
// under a row lock, so concurrent pushes from any number of devices
// converge without losing tasting history.
type SyncService struct {
	db     *pgxpool.Pool
	fanout *SyncFanout
	sink   SnapshotSink
}

// SnapshotSink is a cached copy of users' logs that must be kept coherent
// with the stored rows. The log service implements it: every committed
// push is folded back in, so a later REST mutation writes through a cache
// that already carries the pushed history.
type SnapshotSink interface {
	ApplyRemote(ctx context.Context, userKey, festivalID string, remote favorite.Snapshot) (favorite.Snapshot, error)
	Forget(userKey, festivalID string)
}

func NewSyncService(db *pgxpool.Pool) *SyncService {
	return &SyncService{db: db}
}

// SetPushProvider enables sync-ping fan-out to the user's other devices.
func (s *SyncService) SetPushProvider(provider SyncPushProvider) {
	s.fanout = NewSyncFanout(provider)
}

// SetSnapshotSink registers the cache to fold committed merges into.
func (s *SyncService) SetSnapshotSink(sink SnapshotSink) {
	s.sink = sink
}

// LoadSnapshot returns the stored snapshot, or nil when the user never
// synced this festival.
func (s *SyncService) LoadSnapshot(ctx context.Context, userKey, festivalID string) (favorite.Snapshot, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT snapshot FROM festival_log_snapshots WHERE user_key = $1 AND festival_id = $2`,
		userKey, festivalID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return decodeSnapshot(raw)
}

// SaveSnapshot overwrites the stored snapshot. Used by the log service's
// write-through, where the in-memory state is already authoritative.
func (s *SyncService) SaveSnapshot(ctx context.Context, userKey, festivalID string, snap favorite.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO festival_log_snapshots (user_key, festival_id, snapshot, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_key, festival_id)
		 DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`,
		userKey, festivalID, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Push merges a device's snapshot with the stored one and returns the
// result. The row lock serializes concurrent pushes; the merge policy
// makes their order irrelevant.
func (s *SyncService) Push(ctx context.Context, userKey, festivalID, deviceID string, snap favorite.Snapshot) (favorite.Snapshot, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	stored := favorite.Snapshot{}
	err = tx.QueryRow(ctx,
		`SELECT snapshot FROM festival_log_snapshots WHERE user_key = $1 AND festival_id = $2 FOR UPDATE`,
		userKey, festivalID,
	).Scan(&raw)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if raw != nil {
		if stored, err = decodeSnapshot(raw); err != nil {
			return nil, err
		}
	}

	merged := merge.Snapshots(stored, snap)

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged snapshot: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO festival_log_snapshots (user_key, festival_id, snapshot, device_id, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_key, festival_id)
		 DO UPDATE SET snapshot = EXCLUDED.snapshot, device_id = EXCLUDED.device_id, updated_at = NOW()`,
		userKey, festivalID, out, deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save merged snapshot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit merge: %w", err)
	}

	if s.sink != nil {
		if _, err := s.sink.ApplyRemote(ctx, userKey, festivalID, merged); err != nil {
			log.Printf("sync: folding push for %s/%s into the log cache failed: %v", userKey, festivalID, err)
		}
	}

	middleware.RecordSyncPush(festivalID)
	s.pingOtherDevices(userKey, festivalID, deviceID)

	return merged, nil
}

func decodeSnapshot(raw []byte) (favorite.Snapshot, error) {
	var snap favorite.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("stored snapshot is unparseable: %w", err)
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

// RegisterDevice stores an FCM token for sync-ping fan-out.
func (s *SyncService) RegisterDevice(ctx context.Context, userKey string, req *device.RegisterRequest) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO sync_devices (user_key, device_id, token, platform, registered_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_key, device_id)
		 DO UPDATE SET token = EXCLUDED.token, platform = EXCLUDED.platform, registered_at = NOW()`,
		userKey, req.DeviceID, req.Token, req.Platform,
	)
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

func (s *SyncService) devicesForUser(ctx context.Context, userKey, excludeDeviceID string) ([]device.Token, error) {
	rows, err := s.db.Query(ctx,
		`SELECT device_id, token, platform, registered_at
		 FROM sync_devices
		 WHERE user_key = $1 AND device_id <> $2`,
		userKey, excludeDeviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var tokens []device.Token
	for rows.Next() {
		var t device.Token
		if err := rows.Scan(&t.DeviceID, &t.Token, &t.Platform, &t.RegisteredAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *SyncService) pingOtherDevices(userKey, festivalID, pushingDeviceID string) {
	if s.fanout == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tokens, err := s.devicesForUser(ctx, userKey, pushingDeviceID)
		if err != nil || len(tokens) == 0 {
			return
		}
		s.fanout.Enqueue(tokens, festivalID)
	}()
}

// ClaimIdentity re-keys all anonymous data to a persistent identity,
// merging with anything the identity already has so neither side loses
// tasting history.
func (s *SyncService) ClaimIdentity(ctx context.Context, anonKey, userKey string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT festival_id, snapshot FROM festival_log_snapshots WHERE user_key = $1 FOR UPDATE`,
		anonKey,
	)
	if err != nil {
		return fmt.Errorf("failed to list anonymous snapshots: %w", err)
	}
	type row struct {
		festivalID string
		raw        []byte
	}
	var anon []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.festivalID, &r.raw); err != nil {
			rows.Close()
			return err
		}
		anon = append(anon, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	claimed := make(map[string]favorite.Snapshot, len(anon))
	for _, r := range anon {
		anonSnap, err := decodeSnapshot(r.raw)
		if err != nil {
			return err
		}

		var existingRaw []byte
		existing := favorite.Snapshot{}
		err = tx.QueryRow(ctx,
			`SELECT snapshot FROM festival_log_snapshots WHERE user_key = $1 AND festival_id = $2 FOR UPDATE`,
			userKey, r.festivalID,
		).Scan(&existingRaw)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to load identity snapshot: %w", err)
		}
		if existingRaw != nil {
			if existing, err = decodeSnapshot(existingRaw); err != nil {
				return err
			}
		}

		mergedSnap := merge.Snapshots(existing, anonSnap)
		merged, err := json.Marshal(mergedSnap)
		if err != nil {
			return fmt.Errorf("failed to encode claimed snapshot: %w", err)
		}
		claimed[r.festivalID] = mergedSnap
		_, err = tx.Exec(ctx,
			`INSERT INTO festival_log_snapshots (user_key, festival_id, snapshot, updated_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (user_key, festival_id)
			 DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`,
			userKey, r.festivalID, merged,
		)
		if err != nil {
			return fmt.Errorf("failed to save claimed snapshot: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM festival_log_snapshots WHERE user_key = $1`, anonKey); err != nil {
		return fmt.Errorf("failed to drop anonymous snapshots: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sync_devices SET user_key = $1 WHERE user_key = $2
		 AND device_id NOT IN (SELECT device_id FROM sync_devices WHERE user_key = $1)`,
		userKey, anonKey,
	); err != nil {
		return fmt.Errorf("failed to move devices: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sync_devices WHERE user_key = $1`, anonKey); err != nil {
		return fmt.Errorf("failed to drop anonymous devices: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO user_preferences (user_key, preferred_festival_id, updated_at)
		 SELECT $1, preferred_festival_id, updated_at FROM user_preferences WHERE user_key = $2
		 ON CONFLICT (user_key) DO NOTHING`,
		userKey, anonKey,
	); err != nil {
		return fmt.Errorf("failed to move preference: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM user_preferences WHERE user_key = $1`, anonKey); err != nil {
		return fmt.Errorf("failed to drop anonymous preference: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit claim: %w", err)
	}

	// The anonymous rows are gone and the identity rows changed under any
	// cached copies.
	if s.sink != nil {
		for festivalID, snap := range claimed {
			s.sink.Forget(anonKey, festivalID)
			if _, err := s.sink.ApplyRemote(ctx, userKey, festivalID, snap); err != nil {
				log.Printf("sync: folding claim for %s/%s into the log cache failed: %v", userKey, festivalID, err)
			}
		}
	}
	return nil
}
