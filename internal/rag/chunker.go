package rag

// Chunker splits extracted document text into fixed-size overlapping
// windows. Splitting is pure and deterministic: the same text with the
// same parameters always yields the same chunks, which is what keeps
// chunk IDs stable across repeat ingestion.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker validates the window parameters. Size and overlap are
// measured in runes so multi-byte text never splits mid-character; for
// ASCII input they coincide with byte counts. Overlap must leave a
// positive stride (overlap < size) or the window could not advance.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, Errorf(KindConfiguration, "rag: chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, Errorf(KindConfiguration, "rag: chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, Errorf(KindConfiguration, "rag: chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the configured window size in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured window overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits text into windows of up to size runes, each window starting
// stride (size − overlap) runes after the previous one. Every chunk except
// the last spans exactly size runes; the last spans whatever remains. The
// final window always reaches the end of the text and no window starts at
// or beyond it, so concatenating the chunks minus their overlap regions
// reproduces the input exactly. Empty text yields no chunks.
func (c *Chunker) Chunk(documentID, source, text string) []Chunk {
	if text == "" {
		return nil
	}

	// starts[i] is the byte offset where rune i begins; a final sentinel
	// holds len(text). Chunk text is sliced from the original string by
	// these offsets, so output bytes match input bytes exactly.
	starts := make([]int, 0, len(text)+1)
	for i := range text {
		starts = append(starts, i)
	}
	starts = append(starts, len(text))

	n := len(starts) - 1
	stride := c.size - c.overlap

	chunks := make([]Chunk, 0, (n+stride-1)/stride)
	for start := 0; start < n; start += stride {
		end := start + c.size
		if end > n {
			end = n
		}

		ordinal := len(chunks)
		chunks = append(chunks, Chunk{
			ID:         ChunkID(documentID, ordinal),
			DocumentID: documentID,
			Ordinal:    ordinal,
			Text:       text[starts[start]:starts[end]],
			Start:      starts[start],
			End:        starts[end],
			Source:     source,
		})

		// Once a window reaches the end of the text, any further window
		// would fall entirely inside this one's overlap region and carry
		// no new content.
		if end == n {
			break
		}
	}

	return chunks
}
