package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"festLogAPI/internal/merge"
	"festLogAPI/internal/types/favorite"
)

// SnapshotStore is the durable home of festival-log snapshots. The server
// wires in the Postgres-backed SyncService; a device profile wires in the
// file-backed kvstore.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, userKey, festivalID string) (favorite.Snapshot, error)
	SaveSnapshot(ctx context.Context, userKey, festivalID string, snap favorite.Snapshot) error
}

// ChangeListener is notified after every committed mutation so observers
// (UI, sync engine) can react.
type ChangeListener func(userKey, festivalID string)

// LogService owns all festival-log state. Every mutation goes through it:
// changes land in the in-memory map synchronously, persistence is queued,
// and listeners are notified afterwards. A failed persist is logged but
// never rolls back the in-memory change. A failed load fails the mutation
// instead, so a transient store outage can never make a near-empty
// snapshot overwrite the user's durable log.
type LogService struct {
	store SnapshotStore

	mu   sync.Mutex
	logs map[string]favorite.Snapshot

	// Queued write-throughs, one pending snapshot per user+festival.
	// A single writer drains them in order, so a slow write can never
	// land after a newer one for the same key.
	persistMu   sync.Mutex
	persistCond *sync.Cond
	pending     map[string]persistJob
	inFlight    bool
	wake        chan struct{}

	listenerMu sync.RWMutex
	listeners  []ChangeListener
}

type persistJob struct {
	userKey    string
	festivalID string
	snap       favorite.Snapshot
}

func NewLogService(store SnapshotStore) *LogService {
	s := &LogService{
		store:   store,
		logs:    make(map[string]favorite.Snapshot),
		pending: make(map[string]persistJob),
		wake:    make(chan struct{}, 1),
	}
	s.persistCond = sync.NewCond(&s.persistMu)
	go s.persistLoop()
	return s
}

// Subscribe registers an observer for log changes.
func (s *LogService) Subscribe(l ChangeListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *LogService) notify(userKey, festivalID string) {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	for _, l := range s.listeners {
		l(userKey, festivalID)
	}
}

func logKey(userKey, festivalID string) string {
	return userKey + "\x00" + festivalID
}

// loadLocked returns the live snapshot for the user's festival, lazily
// loading it from the store on first access. A load failure is returned
// uncached: the caller must not mutate on top of an empty stand-in.
// Caller holds s.mu.
func (s *LogService) loadLocked(ctx context.Context, userKey, festivalID string) (favorite.Snapshot, error) {
	key := logKey(userKey, festivalID)
	if snap, ok := s.logs[key]; ok {
		return snap, nil
	}
	snap, err := s.store.LoadSnapshot(ctx, userKey, festivalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load festival %s log: %w", festivalID, err)
	}
	if snap == nil {
		snap = favorite.Snapshot{}
	}
	s.logs[key] = snap
	return snap, nil
}

// persist queues the snapshot for write-through. Per user+festival only
// the latest snapshot is kept; the writer goroutine drains the queue.
func (s *LogService) persist(userKey, festivalID string, snap favorite.Snapshot) {
	s.persistMu.Lock()
	s.pending[logKey(userKey, festivalID)] = persistJob{userKey: userKey, festivalID: festivalID, snap: snap}
	s.persistMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *LogService) persistLoop() {
	for range s.wake {
		for {
			s.persistMu.Lock()
			var key string
			var job persistJob
			for k, j := range s.pending {
				key, job = k, j
				break
			}
			if key == "" {
				s.inFlight = false
				s.persistCond.Broadcast()
				s.persistMu.Unlock()
				break
			}
			delete(s.pending, key)
			s.inFlight = true
			s.persistMu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.store.SaveSnapshot(ctx, job.userKey, job.festivalID, job.snap); err != nil {
				log.Printf("log: persisting festival %s for %s failed: %v", job.festivalID, job.userKey, err)
			}
			cancel()
		}
	}
}

// Flush blocks until every queued write-through has been attempted.
// Called on shutdown so pending writes are not lost.
func (s *LogService) Flush() {
	s.persistMu.Lock()
	for len(s.pending) > 0 || s.inFlight {
		s.persistCond.Wait()
	}
	s.persistMu.Unlock()
}

// Forget drops the cached snapshot and any queued write for it, so the
// next access reloads from the store. Called when the stored row changes
// ownership.
func (s *LogService) Forget(userKey, festivalID string) {
	key := logKey(userKey, festivalID)
	s.mu.Lock()
	delete(s.logs, key)
	s.mu.Unlock()
	s.persistMu.Lock()
	delete(s.pending, key)
	s.persistMu.Unlock()
}

// AddWantToTry inserts a want-to-try entry for the drink. Adding a drink
// that is already logged is a no-op returning the existing entry.
func (s *LogService) AddWantToTry(ctx context.Context, userKey, festivalID, drinkID string) (*favorite.Item, error) {
	s.mu.Lock()
	snap, err := s.loadLocked(ctx, userKey, festivalID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if existing, ok := snap[drinkID]; ok {
		out := existing.Clone()
		s.mu.Unlock()
		return out, nil
	}
	item := favorite.New(drinkID, time.Now())
	snap[drinkID] = item
	out := item.Clone()
	persisted := snap.Clone()
	s.mu.Unlock()

	s.persist(userKey, festivalID, persisted)
	s.notify(userKey, festivalID)
	return out, nil
}

// MarkTried records a tasting. A zero `at` means now; callers may backdate
// to correct history. The entry is created on the fly when absent.
func (s *LogService) MarkTried(ctx context.Context, userKey, festivalID, drinkID string, at time.Time) (*favorite.Item, error) {
	now := time.Now()
	if at.IsZero() {
		at = now
	}

	s.mu.Lock()
	snap, err := s.loadLocked(ctx, userKey, festivalID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	item, ok := snap[drinkID]
	if !ok {
		item = favorite.New(drinkID, now)
		snap[drinkID] = item
	}
	item.AddTry(at, now)
	out := item.Clone()
	persisted := snap.Clone()
	s.mu.Unlock()

	s.persist(userKey, festivalID, persisted)
	s.notify(userKey, festivalID)
	return out, nil
}

// UpdateTriedAt replaces one recorded try timestamp. Returns false when
// the drink or the old timestamp is not in the log.
func (s *LogService) UpdateTriedAt(ctx context.Context, userKey, festivalID, drinkID string, oldAt, newAt time.Time) (bool, error) {
	s.mu.Lock()
	snap, err := s.loadLocked(ctx, userKey, festivalID)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	item, ok := snap[drinkID]
	if !ok || !item.ReplaceTry(oldAt, newAt, time.Now()) {
		s.mu.Unlock()
		return false, nil
	}
	persisted := snap.Clone()
	s.mu.Unlock()

	s.persist(userKey, festivalID, persisted)
	s.notify(userKey, festivalID)
	return true, nil
}

// RemoveTriedAt deletes one recorded try. Removing the last try reverts
// the entry to want-to-try; it does not delete the entry.
func (s *LogService) RemoveTriedAt(ctx context.Context, userKey, festivalID, drinkID string, at time.Time) (bool, error) {
	s.mu.Lock()
	snap, err := s.loadLocked(ctx, userKey, festivalID)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	item, ok := snap[drinkID]
	if !ok || !item.RemoveTry(at, time.Now()) {
		s.mu.Unlock()
		return false, nil
	}
	persisted := snap.Clone()
	s.mu.Unlock()

	s.persist(userKey, festivalID, persisted)
	s.notify(userKey, festivalID)
	return true, nil
}

// SetNotes replaces the entry's notes. Returns false when the drink is
// not in the log.
func (s *LogService) SetNotes(ctx context.Context, userKey, festivalID, drinkID, notes string) (bool, error) {
	s.mu.Lock()
	snap, err := s.loadLocked(ctx, userKey, festivalID)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	item, ok := snap[drinkID]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	item.Notes = notes
	item.UpdatedAt = time.Now().UTC()
	persisted := snap.Clone()
	s.mu.Unlock()

	s.persist(userKey, festivalID, persisted)
	s.notify(userKey, festivalID)
	return true, nil
}

// RemoveEntry deletes the entry entirely, whatever its status.
func (s *LogService) RemoveEntry(ctx context.Context, userKey, festivalID, drinkID string) (bool, error) {
	s.mu.Lock()
	snap, err := s.loadLocked(ctx, userKey, festivalID)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if _, ok := snap[drinkID]; !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(snap, drinkID)
	persisted := snap.Clone()
	s.mu.Unlock()

	s.persist(userKey, festivalID, persisted)
	s.notify(userKey, festivalID)
	return true, nil
}

// Toggle adds a want-to-try entry when the drink is not logged and removes
// the entry when it is. Removal does not distinguish want-to-try from
// tasted: a tasted entry loses its try history in one tap.
// TODO: product call pending on whether toggling off a tasted entry should
// require confirmation instead.
func (s *LogService) Toggle(ctx context.Context, userKey, festivalID, drinkID string) (added bool, err error) {
	s.mu.Lock()
	snap, err := s.loadLocked(ctx, userKey, festivalID)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	_, present := snap[drinkID]
	s.mu.Unlock()

	if present {
		_, err := s.RemoveEntry(ctx, userKey, festivalID, drinkID)
		return false, err
	}
	_, err = s.AddWantToTry(ctx, userKey, festivalID, drinkID)
	return true, err
}

// Snapshot returns a copy of the festival's log.
func (s *LogService) Snapshot(ctx context.Context, userKey, festivalID string) (favorite.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.loadLocked(ctx, userKey, festivalID)
	if err != nil {
		return nil, err
	}
	return snap.Clone(), nil
}

// GetFavorite returns the entry for a drink, if logged. Pure read: a
// load failure is logged and reported as not-found.
func (s *LogService) GetFavorite(ctx context.Context, userKey, festivalID, drinkID string) (*favorite.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.loadLocked(ctx, userKey, festivalID)
	if err != nil {
		log.Printf("log: lookup in festival %s for %s failed: %v", festivalID, userKey, err)
		return nil, false
	}
	item, ok := snap[drinkID]
	if !ok {
		return nil, false
	}
	return item.Clone(), true
}

func (s *LogService) IsFavorite(ctx context.Context, userKey, festivalID, drinkID string) bool {
	_, ok := s.GetFavorite(ctx, userKey, festivalID, drinkID)
	return ok
}

// Summary aggregates want-to-try/tasted counts and the tasted list sorted
// by most recent try. Pure read.
func (s *LogService) Summary(ctx context.Context, userKey, festivalID string) (*favorite.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.loadLocked(ctx, userKey, festivalID)
	if err != nil {
		return nil, err
	}
	return favorite.Summarize(festivalID, snap), nil
}

// ApplyRemote folds a remote snapshot into the local log using the merge
// policy and persists the result. The sync service calls this after every
// committed push, so the cached log stays coherent with the stored row.
func (s *LogService) ApplyRemote(ctx context.Context, userKey, festivalID string, remote favorite.Snapshot) (favorite.Snapshot, error) {
	s.mu.Lock()
	snap, err := s.loadLocked(ctx, userKey, festivalID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	merged := merge.Snapshots(snap, remote)
	s.logs[logKey(userKey, festivalID)] = merged
	out := merged.Clone()
	persisted := merged.Clone()
	s.mu.Unlock()

	s.persist(userKey, festivalID, persisted)
	s.notify(userKey, festivalID)
	return out, nil
}
