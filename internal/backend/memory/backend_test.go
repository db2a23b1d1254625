package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clinassist/kbpipeline/internal/pipeline"
)

func TestSearchRanksByTermOverlap(t *testing.T) {
	t.Parallel()

	b := New()
	ctx := context.Background()

	_, err := b.Submit(ctx, "Hyponatremia", []pipeline.Chunk{
		{DocID: "Hyponatremia", Ordinal: 0, Heading: "Treatment", Text: "Hypertonic saline for severe hyponatremia with seizures."},
		{DocID: "Hyponatremia", Ordinal: 1, Heading: "Background", Text: "Serum sodium below 135."},
	})
	require.NoError(t, err)
	_, err = b.Submit(ctx, "Sepsis", []pipeline.Chunk{
		{DocID: "Sepsis", Ordinal: 0, Heading: "Treatment", Text: "Broad spectrum antibiotics and fluids."},
	})
	require.NoError(t, err)

	results, err := b.Search(ctx, "hypertonic saline seizures", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Hyponatremia", results[0].Entry.DocID)
	require.Equal(t, 0, results[0].Entry.Ordinal)
	require.Equal(t, 1.0, results[0].Score)
	require.Equal(t, "mem://Hyponatremia#0", results[0].Entry.Ref)
}

func TestSearchIsDeterministic(t *testing.T) {
	t.Parallel()

	b := New()
	ctx := context.Background()

	_, err := b.Submit(ctx, "b-doc", []pipeline.Chunk{{DocID: "b-doc", Ordinal: 0, Text: "sodium"}})
	require.NoError(t, err)
	_, err = b.Submit(ctx, "a-doc", []pipeline.Chunk{{DocID: "a-doc", Ordinal: 0, Text: "sodium"}})
	require.NoError(t, err)

	for range 5 {
		results, err := b.Search(ctx, "sodium", 10)
		require.NoError(t, err)
		require.Len(t, results, 2)
		require.Equal(t, "a-doc", results[0].Entry.DocID)
		require.Equal(t, "b-doc", results[1].Entry.DocID)
	}
}

func TestSearchHonorsTopK(t *testing.T) {
	t.Parallel()

	b := New()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := b.Submit(ctx, id, []pipeline.Chunk{{DocID: id, Ordinal: 0, Text: "sodium chloride"}})
		require.NoError(t, err)
	}

	results, err := b.Search(ctx, "sodium", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestRemoveDropsDocument(t *testing.T) {
	t.Parallel()

	b := New()
	ctx := context.Background()
	_, err := b.Submit(ctx, "doc", []pipeline.Chunk{{DocID: "doc", Ordinal: 0, Text: "sodium"}})
	require.NoError(t, err)

	require.NoError(t, b.Remove(ctx, "doc"))
	require.NoError(t, b.Remove(ctx, "doc"))

	results, err := b.Search(ctx, "sodium", 10)
	require.NoError(t, err)
	require.Empty(t, results)
}
