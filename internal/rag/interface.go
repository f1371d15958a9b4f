// Package rag implements the retrieval core of the service: document
// chunking, embedding and vector-index ports, similarity retrieval, and
// context assembly. Concrete providers (Qdrant, the embedding backends)
// satisfy the ports defined here so the ingestion and answer pipelines
// never depend on a specific vendor.
package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Document describes one source document admitted for ingestion. The
// service keeps extracted text and derived chunks; raw document bytes are
// never persisted.
type Document struct {
	// ID uniquely identifies the document. Content-addressed by default
	// (see DocumentID), so re-ingesting identical bytes is idempotent.
	ID string

	// Name is the human-readable source name (filename or caller-supplied
	// title). Carried into chunk provenance and citations.
	Name string

	// Format is the declared input format, "pdf" or "text".
	Format string

	// Pages is the page count for paginated formats, 0 otherwise.
	Pages int

	// Metadata holds arbitrary key-value pairs recorded at ingestion.
	Metadata map[string]string
}

// Chunk is one contiguous span of a document's extracted text. Offsets
// index into the extracted text, so adjacent chunks from the same document
// overlap exactly where their spans intersect.
type Chunk struct {
	// ID is the deterministic identifier for this chunk (see ChunkID).
	ID string

	// DocumentID is the owning document's ID.
	DocumentID string

	// Ordinal is the chunk's 0-based position within its document.
	Ordinal int

	// Text is the chunk's text content, never truncated.
	Text string

	// Start and End are the byte offsets of this span in the extracted
	// document text, half-open [Start, End).
	Start int
	End   int

	// Page is the 1-based page the span starts on, 0 when the source has
	// no page structure.
	Page int

	// Source is the owning document's Name, denormalised for citations.
	Source string
}

// EmbeddedChunk pairs a chunk with its embedding vector, ready for
// indexing. The vector length must match the index schema.
type EmbeddedChunk struct {
	Chunk
	Vector []float32
}

// ScoredChunk is a chunk returned from similarity search.
type ScoredChunk struct {
	Chunk

	// Score is the similarity score under the index's configured metric.
	Score float32
}

// CitedChunk is a chunk admitted into assembled context, tagged with the
// citation label the answer model is instructed to reference.
type CitedChunk struct {
	// Label is the 1-based citation marker, sequential in inclusion order.
	Label int

	ScoredChunk
}

// AssembledContext is the bounded, labelled context handed to the answer
// model. Chunks appear in inclusion order (descending relevance).
type AssembledContext struct {
	// Chunks are the admitted chunks with their citation labels.
	Chunks []CitedChunk

	// Cost is the budget consumed, in the assembler's configured unit.
	Cost int
}

// Empty reports whether no chunk survived assembly.
func (c AssembledContext) Empty() bool {
	return len(c.Chunks) == 0
}

// ByLabel returns the chunk carrying the given citation label.
func (c AssembledContext) ByLabel(label int) (CitedChunk, bool) {
	for _, ch := range c.Chunks {
		if ch.Label == label {
			return ch, true
		}
	}
	return CitedChunk{}, false
}

// Embedder converts text into dense vectors. Document and query embedding
// are separate calls because some providers condition the vector on task
// type. Implementations must be safe for concurrent use and must return
// vectors of exactly Dimensions() width.
type Embedder interface {
	// EmbedDocuments embeds a batch of passages for indexing. The returned
	// slice is parallel to texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions reports the vector width this embedder produces.
	Dimensions() int
}

// VectorStore is the port onto the vector index. Implementations must be
// safe for concurrent use.
type VectorStore interface {
	// Upsert writes a batch of embedded chunks in one call. Implementations
	// must not leave a partial batch visible on failure.
	Upsert(ctx context.Context, chunks []EmbeddedChunk) error

	// Search returns up to topK chunks most similar to vector, best first,
	// excluding results scoring below minScore. An empty result is not an
	// error.
	Search(ctx context.Context, vector []float32, topK int, minScore float32) ([]ScoredChunk, error)

	// DeleteByDocument removes every chunk belonging to the document.
	// Deleting an unknown document is a no-op.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Count reports the number of chunks currently indexed.
	Count(ctx context.Context) (uint64, error)

	// Close releases any resources held by the store.
	Close() error
}

// DocumentID derives a content-addressed document identifier in UUID form.
// Identical bytes always map to the same ID, which makes repeat ingestion
// of the same file an upsert rather than a duplicate.
func DocumentID(data []byte) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, append([]byte("clinrag:doc:"), data...)).String()
}

// ChunkID derives the deterministic identifier for a chunk from its
// document and ordinal. UUID form because the index requires UUID point
// IDs.
func ChunkID(documentID string, ordinal int) string {
	name := fmt.Sprintf("clinrag:chunk:%s#%d", documentID, ordinal)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
