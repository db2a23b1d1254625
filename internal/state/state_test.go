package state

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clinassist/kbpipeline/internal/pipeline"
)

func TestCatalogRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	cat := Catalog{
		Source:       "wikem",
		DiscoveredAt: time.Unix(1000, 0).UTC(),
		IDs:          []string{"Hyponatremia", "Hyperkalemia", "Sepsis"},
	}
	require.NoError(t, store.SaveCatalog(cat))

	loaded, err := store.LoadCatalog("wikem")
	require.NoError(t, err)
	require.Equal(t, cat, loaded)
}

func TestCheckpointOverwrite(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	first := Checkpoint{Source: "wikem", RunID: "run-1", LastID: "Hyponatremia", Counters: pipeline.RunCounters{New: 1}}
	require.NoError(t, store.SaveCheckpoint(first))

	second := first
	second.LastID = "Sepsis"
	second.Counters.New = 2
	require.NoError(t, store.SaveCheckpoint(second))

	loaded, err := store.LoadCheckpoint("wikem")
	require.NoError(t, err)
	require.Equal(t, "Sepsis", loaded.LastID)
	require.Equal(t, 2, loaded.Counters.New)
}

func TestLoadMissingCheckpoint(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.LoadCheckpoint("wikem")
	require.True(t, os.IsNotExist(err))
}

func TestLedgerDefaultsToEmpty(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	require.NoError(t, err)

	ledger, err := store.LoadLedger("litfl")
	require.NoError(t, err)
	require.Empty(t, ledger.Entries)

	ledger.Entries["etomidate"] = LedgerEntry{LastError: "http 503", Retries: 3, FailedAt: time.Unix(2000, 0).UTC()}
	require.NoError(t, store.SaveLedger(ledger))

	loaded, err := store.LoadLedger("litfl")
	require.NoError(t, err)
	require.Equal(t, "http 503", loaded.Entries["etomidate"].LastError)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.SaveCheckpoint(Checkpoint{Source: "wikem", RunID: "run", LastID: "x"}))
	}

	entries, err := os.ReadDir(dir + "/wikem")
	require.NoError(t, err)
	require.Len(t, entries, 1, "only checkpoint.json should remain")
}
