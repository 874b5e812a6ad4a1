package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"festLogAPI/internal/types/favorite"
	"festLogAPI/services"
	"festLogAPI/tests/helpers"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	at, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return at
}

func tastedItem(id string, at time.Time) *favorite.Item {
	item := favorite.New(id, at)
	item.AddTry(at, at)
	return item
}

// TestTwoDevicePushConvergence drives the server-side merge the way two
// devices of the same user would: each pushes its own snapshot, then
// pushes again to pick up the other's entries.
func TestTwoDevicePushConvergence(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	syncService := services.NewSyncService(pool)
	ctx := context.Background()
	userKey := "test_user_" + time.Now().Format("20060102150405")

	t1 := mustParse(t, "2025-05-20T15:00:00Z")
	t2 := mustParse(t, "2025-05-20T18:30:00Z")

	phoneSnap := favorite.Snapshot{
		"drink1": tastedItem("drink1", t1),
		"drink2": favorite.New("drink2", t1),
	}
	tabletSnap := favorite.Snapshot{
		"drink2": tastedItem("drink2", t2),
		"drink3": favorite.New("drink3", t2),
	}

	merged, err := syncService.Push(ctx, userKey, "cbf2025", "phone", phoneSnap)
	require.NoError(t, err)
	assert.Len(t, merged, 2)

	merged, err = syncService.Push(ctx, userKey, "cbf2025", "tablet", tabletSnap)
	require.NoError(t, err)
	require.Len(t, merged, 3)

	// Tasted wins over want_to_try for drink2.
	assert.Equal(t, favorite.StatusTasted, merged["drink2"].Status)
	assert.Len(t, merged["drink2"].Tries, 1)

	// The phone's next push converges to the same state.
	converged, err := syncService.Push(ctx, userKey, "cbf2025", "phone", merged)
	require.NoError(t, err)
	assert.Equal(t, merged, converged)

	// Pull path sees the same state.
	stored, err := syncService.LoadSnapshot(ctx, userKey, "cbf2025")
	require.NoError(t, err)
	assert.Equal(t, merged, stored)
}

func TestSaveSnapshotOverwrites(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	syncService := services.NewSyncService(pool)
	ctx := context.Background()
	userKey := "test_user_ow_" + time.Now().Format("20060102150405")
	at := mustParse(t, "2025-05-20T15:00:00Z")

	require.NoError(t, syncService.SaveSnapshot(ctx, userKey, "cbf2025", favorite.Snapshot{
		"drink1": tastedItem("drink1", at),
		"drink2": favorite.New("drink2", at),
	}))

	// Write-through after a local removal is an overwrite, not a merge:
	// the deleted entry must not resurrect.
	require.NoError(t, syncService.SaveSnapshot(ctx, userKey, "cbf2025", favorite.Snapshot{
		"drink1": tastedItem("drink1", at),
	}))

	stored, err := syncService.LoadSnapshot(ctx, userKey, "cbf2025")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Contains(t, stored, "drink1")
}

// TestPushKeepsRestLogCoherent interleaves a device push between two REST
// mutations on the same log. The pushed history has to survive the second
// mutation's write-through.
func TestPushKeepsRestLogCoherent(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	syncService := services.NewSyncService(pool)
	logService := services.NewLogService(syncService)
	syncService.SetSnapshotSink(logService)
	ctx := context.Background()
	userKey := "test_user_cohere_" + time.Now().Format("20060102150405")

	_, err := logService.AddWantToTry(ctx, userKey, "cbf2025", "drink1")
	require.NoError(t, err)
	logService.Flush()

	// Device B pushes a tasted drink while the REST cache holds drink1.
	at := mustParse(t, "2025-05-20T18:00:00Z")
	_, err = syncService.Push(ctx, userKey, "cbf2025", "deviceB", favorite.Snapshot{
		"drink2": tastedItem("drink2", at),
	})
	require.NoError(t, err)

	_, err = logService.AddWantToTry(ctx, userKey, "cbf2025", "drink3")
	require.NoError(t, err)
	logService.Flush()

	stored, err := syncService.LoadSnapshot(ctx, userKey, "cbf2025")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	require.Contains(t, stored, "drink2")
	assert.Equal(t, favorite.StatusTasted, stored["drink2"].Status)
	assert.Len(t, stored["drink2"].Tries, 1)
}

func TestLoadSnapshotNeverSynced(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	syncService := services.NewSyncService(pool)
	snap, err := syncService.LoadSnapshot(context.Background(), "test_user_nobody", "cbf2025")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestClaimIdentityMergesAnonymousData(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	syncService := services.NewSyncService(pool)
	prefService := services.NewPreferenceService(pool)
	ctx := context.Background()

	stamp := time.Now().Format("20060102150405")
	anonKey := "anon:test-" + stamp
	userKey := "test_claimed_" + stamp

	t1 := mustParse(t, "2025-05-20T15:00:00Z")
	t2 := mustParse(t, "2025-05-21T12:00:00Z")

	// Anonymous history plus some pre-existing identity history.
	_, err := syncService.Push(ctx, anonKey, "cbf2025", "phone", favorite.Snapshot{
		"drink1": tastedItem("drink1", t1),
	})
	require.NoError(t, err)
	_, err = syncService.Push(ctx, userKey, "cbf2025", "tablet", favorite.Snapshot{
		"drink2": tastedItem("drink2", t2),
	})
	require.NoError(t, err)
	require.NoError(t, prefService.SavePreferred(ctx, anonKey, "cbf2025"))

	require.NoError(t, syncService.ClaimIdentity(ctx, anonKey, userKey))

	// Identity now carries both histories.
	snap, err := syncService.LoadSnapshot(ctx, userKey, "cbf2025")
	require.NoError(t, err)
	assert.Len(t, snap, 2)
	assert.Equal(t, favorite.StatusTasted, snap["drink1"].Status)
	assert.Equal(t, favorite.StatusTasted, snap["drink2"].Status)

	// Anonymous rows are gone.
	gone, err := syncService.LoadSnapshot(ctx, anonKey, "cbf2025")
	require.NoError(t, err)
	assert.Nil(t, gone)

	// The preference moved along.
	pref, err := prefService.LoadPreferred(ctx, userKey)
	require.NoError(t, err)
	assert.Equal(t, "cbf2025", pref)
}

func TestPreferenceRoundTrip(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	prefService := services.NewPreferenceService(pool)
	ctx := context.Background()
	userKey := "test_pref_" + time.Now().Format("20060102150405")

	pref, err := prefService.LoadPreferred(ctx, userKey)
	require.NoError(t, err)
	assert.Empty(t, pref)

	require.NoError(t, prefService.SavePreferred(ctx, userKey, "cbf2025"))
	require.NoError(t, prefService.SavePreferred(ctx, userKey, "gbbf2025"))

	pref, err = prefService.LoadPreferred(ctx, userKey)
	require.NoError(t, err)
	assert.Equal(t, "gbbf2025", pref)
}
