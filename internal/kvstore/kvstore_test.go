package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"festLogAPI/internal/types/favorite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestSaveLoadRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := favorite.New("drink456", ts("2025-05-20T14:30:00Z"))
	item.AddTry(ts("2025-05-20T14:30:00Z"), ts("2025-05-20T14:30:00Z"))
	item.Notes = "Hoppy, citrus"
	snap := favorite.Snapshot{"drink456": item}

	if err := s.SaveSnapshot(ctx, "", "cbf2025", snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := s.LoadSnapshot(ctx, "", "cbf2025")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, snap) {
		t.Errorf("Roundtrip mismatch:\ngot  %+v\nwant %+v", loaded, snap)
	}
}

func TestLoadDistinguishesNeverInitializedFromEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loaded, err := s.LoadSnapshot(ctx, "", "cbf2025")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != nil {
		t.Errorf("Never-initialized festival should load as nil, got %+v", loaded)
	}

	if err := s.SaveSnapshot(ctx, "", "cbf2025", favorite.Snapshot{}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err = s.LoadSnapshot(ctx, "", "cbf2025")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Error("Initialized-but-empty festival should load as an empty map, not nil")
	}
}

func TestFestivalLogsAreScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := favorite.Snapshot{"drink1": favorite.New("drink1", ts("2025-05-20T10:00:00Z"))}
	if err := s.SaveSnapshot(ctx, "", "cbf2024", snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	other, err := s.LoadSnapshot(ctx, "", "cbf2025")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if other != nil {
		t.Errorf("Logs must not leak across festival ids, got %+v", other)
	}
}

func TestCorruptedDataTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	path := filepath.Join(dir, "festival_log_cbf2025.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("Failed to plant corrupted file: %v", err)
	}

	loaded, err := s.LoadSnapshot(context.Background(), "", "cbf2025")
	if err != nil {
		t.Fatalf("Corrupted data must not surface an error, got %v", err)
	}
	if loaded != nil {
		t.Errorf("Corrupted data should read as absent, got %+v", loaded)
	}
}

func TestPreferredFestival(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.LoadPreferred(ctx, "")
	if err != nil || id != "" {
		t.Fatalf("Expected empty preference, got %q err %v", id, err)
	}

	if err := s.SavePreferred(ctx, "", "cbf2025"); err != nil {
		t.Fatalf("SavePreferred failed: %v", err)
	}
	id, err = s.LoadPreferred(ctx, "")
	if err != nil || id != "cbf2025" {
		t.Errorf("Expected cbf2025, got %q err %v", id, err)
	}
}

func TestMigrateLegacyFavorites(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	ctx := context.Background()
	now := ts("2025-05-20T10:00:00Z")

	legacy := filepath.Join(dir, "favorites.json")
	if err := os.WriteFile(legacy, []byte(`["drinkA","drinkB"]`), 0o644); err != nil {
		t.Fatalf("Failed to plant legacy file: %v", err)
	}

	migrated, err := s.MigrateLegacyFavorites(ctx, "cbf2025", now)
	if err != nil {
		t.Fatalf("Migration failed: %v", err)
	}
	if migrated != 2 {
		t.Errorf("Expected 2 migrated entries, got %d", migrated)
	}

	snap, err := s.LoadSnapshot(ctx, "", "cbf2025")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	for _, id := range []string{"drinkA", "drinkB"} {
		item, ok := snap[id]
		if !ok {
			t.Fatalf("Missing migrated entry %s", id)
		}
		if item.Status != favorite.StatusWantToTry || len(item.Tries) != 0 {
			t.Errorf("Migrated entry %s should be want_to_try with no tries, got %+v", id, item)
		}
	}

	if _, err := os.Stat(legacy); !os.IsNotExist(err) {
		t.Error("Legacy key should be deleted after migration")
	}

	// Running it again must change nothing.
	migrated, err = s.MigrateLegacyFavorites(ctx, "cbf2025", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Second migration failed: %v", err)
	}
	if migrated != 0 {
		t.Errorf("Second migration should be a no-op, migrated %d", migrated)
	}
	again, err := s.LoadSnapshot(ctx, "", "cbf2025")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(again, snap) {
		t.Errorf("Second migration changed state:\ngot  %+v\nwant %+v", again, snap)
	}
}

func TestMigrationDoesNotOverwriteExistingEntries(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	ctx := context.Background()
	now := ts("2025-05-20T10:00:00Z")

	tasted := favorite.New("drinkA", now)
	tasted.AddTry(now.Add(time.Hour), now.Add(time.Hour))
	if err := s.SaveSnapshot(ctx, "", "cbf2025", favorite.Snapshot{"drinkA": tasted}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	legacy := filepath.Join(dir, "favorites.json")
	if err := os.WriteFile(legacy, []byte(`["drinkA"]`), 0o644); err != nil {
		t.Fatalf("Failed to plant legacy file: %v", err)
	}

	if _, err := s.MigrateLegacyFavorites(ctx, "cbf2025", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("Migration failed: %v", err)
	}

	snap, err := s.LoadSnapshot(ctx, "", "cbf2025")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap["drinkA"].Status != favorite.StatusTasted {
		t.Error("Migration must not downgrade an existing tasted entry")
	}
}
