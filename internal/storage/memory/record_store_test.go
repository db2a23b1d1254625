package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clinassist/kbpipeline/internal/pipeline"
)

func TestRecordStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()

	_, err := store.GetRecord(ctx, "wikem", "Hyponatremia")
	require.ErrorIs(t, err, pipeline.ErrNotFound)

	rec := pipeline.CrawlRecord{
		Source:      "wikem",
		ID:          "Hyponatremia",
		Status:      pipeline.StatusIndexed,
		Fingerprint: "abc",
		LastSuccess: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.PutRecord(ctx, rec))

	got, err := store.GetRecord(ctx, "wikem", "Hyponatremia")
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestRecordStoreListFiltersByStatus(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()

	require.NoError(t, store.PutRecord(ctx, pipeline.CrawlRecord{Source: "wikem", ID: "b", Status: pipeline.StatusFailed}))
	require.NoError(t, store.PutRecord(ctx, pipeline.CrawlRecord{Source: "wikem", ID: "a", Status: pipeline.StatusIndexed}))
	require.NoError(t, store.PutRecord(ctx, pipeline.CrawlRecord{Source: "litfl", ID: "c", Status: pipeline.StatusFailed}))

	failed, err := store.ListRecords(ctx, "wikem", pipeline.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "b", failed[0].ID)

	all, err := store.ListRecords(ctx, "wikem", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "a", all[0].ID)
	require.Equal(t, "b", all[1].ID)
}

func TestRecordStoreEntries(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()

	require.NoError(t, store.PutEntries(ctx, []pipeline.IndexEntry{
		{Source: "wikem", DocID: "Hyponatremia", Ordinal: 1, Ref: "r1"},
		{Source: "wikem", DocID: "Hyponatremia", Ordinal: 0, Ref: "r0"},
	}))

	entries, err := store.ListEntries(ctx, "wikem", "Hyponatremia")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "r0", entries[0].Ref)

	require.NoError(t, store.DeleteEntries(ctx, "wikem", "Hyponatremia"))
	entries, err = store.ListEntries(ctx, "wikem", "Hyponatremia")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestBlobStoreCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()

	payload := []byte("content")
	uri, err := store.PutObject(ctx, "raw/wikem/page.html", "text/html", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://raw/wikem/page.html", uri)

	payload[0] = 'C'
	got, err := store.GetObject(ctx, "raw/wikem/page.html")
	require.NoError(t, err)
	require.Equal(t, []byte("content"), got)

	_, err = store.GetObject(ctx, "missing")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}
