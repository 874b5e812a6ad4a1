package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"festLogAPI/internal/kvstore"
	"festLogAPI/internal/merge"
	"festLogAPI/internal/types/apperr"
	"festLogAPI/internal/types/favorite"
)

// fakeRemote merges pushes server-side, the way the backend does.
type fakeRemote struct {
	mu     sync.Mutex
	snaps  map[string]favorite.Snapshot
	pushes int
	fail   bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{snaps: make(map[string]favorite.Snapshot)}
}

func (r *fakeRemote) Push(_ context.Context, festivalID, _ string, snap favorite.Snapshot) (favorite.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, &apperr.NetworkError{Op: "push", Err: errors.New("offline")}
	}
	r.pushes++
	stored := r.snaps[festivalID]
	if stored == nil {
		stored = favorite.Snapshot{}
	}
	merged := merge.Snapshots(stored, snap)
	r.snaps[festivalID] = merged
	return merged.Clone(), nil
}

func (r *fakeRemote) Pull(_ context.Context, festivalID string) (favorite.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snaps[festivalID]
	if snap == nil {
		return favorite.Snapshot{}, nil
	}
	return snap.Clone(), nil
}

func (r *fakeRemote) pushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushes
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func taste(id string, at time.Time) *favorite.Item {
	item := favorite.New(id, at)
	item.AddTry(at, at)
	return item
}

func deviceLog(t *testing.T) *FileLog {
	t.Helper()
	store, err := kvstore.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return NewFileLog(store)
}

func TestSyncNowConvergesTwoDevices(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()

	phone := deviceLog(t)
	tablet := deviceLog(t)

	// Phone tasted drink1, tablet only wants to try it and tasted drink2.
	phone.ApplyRemote(ctx, "cbf2025", favorite.Snapshot{
		"drink1": taste("drink1", ts("2025-05-20T15:00:00Z")),
	})
	tablet.ApplyRemote(ctx, "cbf2025", favorite.Snapshot{
		"drink1": favorite.New("drink1", ts("2025-05-20T12:00:00Z")),
		"drink2": taste("drink2", ts("2025-05-20T16:00:00Z")),
	})

	phoneEngine := NewEngine(phone, remote, "phone")
	tabletEngine := NewEngine(tablet, remote, "tablet")

	if err := phoneEngine.SyncNow(ctx, "cbf2025"); err != nil {
		t.Fatalf("phone sync failed: %v", err)
	}
	if err := tabletEngine.SyncNow(ctx, "cbf2025"); err != nil {
		t.Fatalf("tablet sync failed: %v", err)
	}
	// Second phone sync picks up the tablet's entries.
	if err := phoneEngine.SyncNow(ctx, "cbf2025"); err != nil {
		t.Fatalf("phone re-sync failed: %v", err)
	}

	phoneSnap, _ := phone.Snapshot(ctx, "cbf2025")
	tabletSnap, _ := tablet.Snapshot(ctx, "cbf2025")
	if !reflect.DeepEqual(phoneSnap, tabletSnap) {
		t.Errorf("Devices did not converge:\nphone:  %+v\ntablet: %+v", phoneSnap, tabletSnap)
	}
	if phoneSnap["drink1"].Status != favorite.StatusTasted {
		t.Error("Tasted must win over want_to_try after sync")
	}
	if len(phoneSnap) != 2 {
		t.Errorf("Expected 2 entries after convergence, got %d", len(phoneSnap))
	}
}

func TestSyncNowPushFailureLeavesLocalUntouched(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.fail = true

	local := deviceLog(t)
	local.ApplyRemote(ctx, "cbf2025", favorite.Snapshot{
		"drink1": taste("drink1", ts("2025-05-20T15:00:00Z")),
	})
	before, _ := local.Snapshot(ctx, "cbf2025")

	engine := NewEngine(local, remote, "phone")
	err := engine.SyncNow(ctx, "cbf2025")
	var netErr *apperr.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Expected NetworkError, got %v", err)
	}

	after, _ := local.Snapshot(ctx, "cbf2025")
	if !reflect.DeepEqual(before, after) {
		t.Error("Failed push must not change the local log")
	}
}

func TestNoteMutationCoalescesBursts(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()

	local := deviceLog(t)
	local.ApplyRemote(ctx, "cbf2025", favorite.Snapshot{
		"drink1": favorite.New("drink1", ts("2025-05-20T12:00:00Z")),
	})

	engine := NewEngine(local, remote, "phone")
	engine.SetDebounce(50 * time.Millisecond)
	defer engine.Stop()

	for i := 0; i < 5; i++ {
		engine.NoteMutation("cbf2025")
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.After(2 * time.Second)
	for remote.pushCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("Debounced push never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}
	// Let any stray timers fire before counting.
	time.Sleep(150 * time.Millisecond)
	if got := remote.pushCount(); got != 1 {
		t.Errorf("Expected burst to coalesce into 1 push, got %d", got)
	}
}

func TestStopCancelsPendingPush(t *testing.T) {
	remote := newFakeRemote()
	engine := NewEngine(deviceLog(t), remote, "phone")
	engine.SetDebounce(50 * time.Millisecond)

	engine.NoteMutation("cbf2025")
	engine.Stop()

	time.Sleep(150 * time.Millisecond)
	if got := remote.pushCount(); got != 0 {
		t.Errorf("Expected no push after Stop, got %d", got)
	}
}

func TestResumeSyncsImmediately(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.snaps["cbf2025"] = favorite.Snapshot{
		"drink1": taste("drink1", ts("2025-05-20T15:00:00Z")),
	}

	local := deviceLog(t)
	engine := NewEngine(local, remote, "phone")
	engine.Resume(ctx, "cbf2025")

	snap, _ := local.Snapshot(ctx, "cbf2025")
	if snap["drink1"] == nil || snap["drink1"].Status != favorite.StatusTasted {
		t.Errorf("Resume did not pull down the remote entry: %+v", snap)
	}
}

func TestHTTPRemotePush(t *testing.T) {
	ctx := context.Background()
	at := ts("2025-05-20T15:00:00Z")

	var gotDeviceKey, gotDeviceID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/sync/cbf2025" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotDeviceKey = r.Header.Get("X-Device-Key")

		var req struct {
			DeviceID string            `json:"device_id"`
			Snapshot favorite.Snapshot `json:"snapshot"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Decoding push body failed: %v", err)
		}
		gotDeviceID = req.DeviceID

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"festival_id": "cbf2025",
			"snapshot":    req.Snapshot,
		})
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "device-key-1")
	merged, err := remote.Push(ctx, "cbf2025", "phone", favorite.Snapshot{
		"drink1": taste("drink1", at),
	})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if gotDeviceKey != "device-key-1" {
		t.Errorf("Expected X-Device-Key header, got %q", gotDeviceKey)
	}
	if gotDeviceID != "phone" {
		t.Errorf("Expected device_id phone, got %q", gotDeviceID)
	}
	if merged["drink1"] == nil || len(merged["drink1"].Tries) != 1 || !merged["drink1"].Tries[0].Equal(at) {
		t.Errorf("Round-tripped snapshot mangled: %+v", merged)
	}
}

func TestHTTPRemoteBearerAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"festival_id": "cbf2025", "snapshot": favorite.Snapshot{}})
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "device-key-1")
	remote.SetBearer("token-abc")
	if _, err := remote.Pull(context.Background(), "cbf2025"); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if gotAuth != "Bearer token-abc" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
}

func TestHTTPRemoteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "device-key-1")
	_, err := remote.Pull(context.Background(), "cbf2025")
	var netErr *apperr.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Expected NetworkError on 500, got %v", err)
	}
}
