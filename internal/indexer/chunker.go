package indexer

import (
	"fmt"

	"github.com/clinassist/kbpipeline/internal/pipeline"
)

// Chunker splits normalized documents into bounded overlapping chunks.
// Chunks never span section boundaries; oversized sections are split with
// overlap so retrieval context carries across the cut.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker validates the chunk geometry.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0,%d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk splits the document's sections. Offsets are rune offsets into the
// section text, so citations can point back at the exact span.
func (c *Chunker) Chunk(doc pipeline.NormalizedDocument) []pipeline.Chunk {
	var chunks []pipeline.Chunk
	ordinal := 0
	for _, section := range doc.Sections {
		runes := []rune(section.Text)
		if len(runes) == 0 {
			continue
		}
		step := c.size - c.overlap
		for start := 0; start < len(runes); start += step {
			end := start + c.size
			if end > len(runes) {
				end = len(runes)
			}
			chunks = append(chunks, pipeline.Chunk{
				DocID:   doc.ID,
				Ordinal: ordinal,
				Heading: section.Heading,
				Text:    string(runes[start:end]),
				Start:   start,
				End:     end,
			})
			ordinal++
			if end == len(runes) {
				break
			}
		}
	}
	return chunks
}
