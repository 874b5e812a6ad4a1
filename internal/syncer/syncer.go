// Package syncer is the device-side half of cloud sync: it debounces
// pushes after local mutations, pushes on app resume, and folds remote
// snapshots back into the local log through the merge policy.
package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"festLogAPI/internal/kvstore"
	"festLogAPI/internal/merge"
	"festLogAPI/internal/types/favorite"
)

// DefaultDebounce coalesces bursts of local mutations into one push.
const DefaultDebounce = 30 * time.Second

// LocalLog is the device's festival log as the engine sees it.
type LocalLog interface {
	Snapshot(ctx context.Context, festivalID string) (favorite.Snapshot, error)
	ApplyRemote(ctx context.Context, festivalID string, remote favorite.Snapshot) (favorite.Snapshot, error)
}

// RemoteStore is the user's snapshot store on the backend. Push returns
// the server-side merge result so the device converges in one round trip.
type RemoteStore interface {
	Push(ctx context.Context, festivalID, deviceID string, snap favorite.Snapshot) (favorite.Snapshot, error)
	Pull(ctx context.Context, festivalID string) (favorite.Snapshot, error)
}

type Engine struct {
	local    LocalLog
	remote   RemoteStore
	deviceID string
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewEngine(local LocalLog, remote RemoteStore, deviceID string) *Engine {
	return &Engine{
		local:    local,
		remote:   remote,
		deviceID: deviceID,
		debounce: DefaultDebounce,
		timers:   make(map[string]*time.Timer),
	}
}

// SetDebounce overrides the coalescing window.
func (e *Engine) SetDebounce(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.debounce = d
}

// NoteMutation schedules a push for the festival. Rapid calls reset the
// timer, so a burst of edits goes out as a single sync.
func (e *Engine) NoteMutation(festivalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.timers[festivalID]; ok {
		t.Reset(e.debounce)
		return
	}
	e.timers[festivalID] = time.AfterFunc(e.debounce, func() {
		e.mu.Lock()
		delete(e.timers, festivalID)
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.SyncNow(ctx, festivalID); err != nil {
			log.Printf("syncer: debounced push for %s failed: %v", festivalID, err)
		}
	})
}

// Resume pushes the given festivals immediately, as the app does when it
// returns to the foreground.
func (e *Engine) Resume(ctx context.Context, festivalIDs ...string) {
	for _, id := range festivalIDs {
		if err := e.SyncNow(ctx, id); err != nil {
			log.Printf("syncer: resume sync for %s failed: %v", id, err)
		}
	}
}

// SyncNow pushes the local snapshot and applies the merged result the
// backend returns. A push failure leaves the local log untouched; the
// next debounce window retries with current state.
func (e *Engine) SyncNow(ctx context.Context, festivalID string) error {
	snap, err := e.local.Snapshot(ctx, festivalID)
	if err != nil {
		return err
	}
	if snap == nil {
		snap = favorite.Snapshot{}
	}

	merged, err := e.remote.Push(ctx, festivalID, e.deviceID, snap)
	if err != nil {
		return err
	}
	_, err = e.local.ApplyRemote(ctx, festivalID, merged)
	return err
}

// ApplyRemote folds a remotely delivered snapshot (e.g. after a sync push
// notification) into the local log.
func (e *Engine) ApplyRemote(ctx context.Context, festivalID string, remote favorite.Snapshot) error {
	_, err := e.local.ApplyRemote(ctx, festivalID, remote)
	return err
}

// Stop cancels any pending debounced pushes.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

// FileLog adapts the on-device key-value store to the LocalLog interface.
type FileLog struct {
	store *kvstore.Store
}

func NewFileLog(store *kvstore.Store) *FileLog {
	return &FileLog{store: store}
}

func (f *FileLog) Snapshot(ctx context.Context, festivalID string) (favorite.Snapshot, error) {
	return f.store.LoadSnapshot(ctx, "", festivalID)
}

func (f *FileLog) ApplyRemote(ctx context.Context, festivalID string, remote favorite.Snapshot) (favorite.Snapshot, error) {
	local, err := f.store.LoadSnapshot(ctx, "", festivalID)
	if err != nil {
		return nil, err
	}
	if local == nil {
		local = favorite.Snapshot{}
	}
	merged := merge.Snapshots(local, remote)
	if err := f.store.SaveSnapshot(ctx, "", festivalID, merged); err != nil {
		return nil, err
	}
	return merged, nil
}
