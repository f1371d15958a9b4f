package rag

import (
	"context"
	"math"
	"sort"
)

// RetrieverConfig tunes similarity retrieval.
type RetrieverConfig struct {
	// TopK is the number of results requested when the caller passes 0.
	TopK int

	// MinScore excludes matches scoring below this threshold. Zero keeps
	// everything the metric considers non-negative.
	MinScore float32

	// Epsilon is the score distance within which two results count as
	// tied and fall back to identifier ordering.
	Epsilon float32

	// Retry bounds retries of transient index reads.
	Retry RetryPolicy
}

// Retriever answers "which indexed chunks are relevant to this question"
// by embedding the question and delegating similarity search to the
// store. Result order is fully deterministic: descending score, with ties
// inside Epsilon broken by chunk ID.
type Retriever struct {
	embedder Embedder
	store    VectorStore
	cfg      RetrieverConfig
}

// NewRetriever constructs a Retriever over the given Embedder and
// VectorStore.
func NewRetriever(embedder Embedder, store VectorStore, cfg RetrieverConfig) (*Retriever, error) {
	if embedder == nil {
		return nil, Errorf(KindConfiguration, "rag: embedder must not be nil")
	}
	if store == nil {
		return nil, Errorf(KindConfiguration, "rag: store must not be nil")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 1e-6
	}
	return &Retriever{embedder: embedder, store: store, cfg: cfg}, nil
}

// Retrieve embeds the question and returns the top-k most relevant chunks
// above the score threshold, best first. If topK is 0 the configured
// default applies. An empty result means the index holds nothing relevant
// and is not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	vec, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, wrapKind(KindEmbedding, "rag: embedding query: %w", err)
	}
	if want := r.embedder.Dimensions(); len(vec) != want {
		return nil, Errorf(KindEmbedding, "rag: query embedding has %d dimensions, index expects %d", len(vec), want)
	}

	var hits []ScoredChunk
	err = Retry(ctx, r.cfg.Retry, func() error {
		var serr error
		hits, serr = r.store.Search(ctx, vec, topK, r.cfg.MinScore)
		if serr != nil {
			return wrapKind(KindIndexRead, "rag: similarity search: %w", serr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.sortHits(hits)
	return hits, nil
}

// sortHits enforces deterministic ordering regardless of how the store
// orders equal-scored points. Scores are quantised into epsilon-wide bands
// and compared by band, with the chunk ID deciding inside a band. Pairwise
// "within epsilon" comparison would not be transitive over a chain of
// near-ties, and an intransitive comparator lets the final order depend on
// the store's return order; banding keeps the ordering a total order over
// the values alone.
func (r *Retriever) sortHits(hits []ScoredChunk) {
	eps := float64(r.cfg.Epsilon)
	band := func(s float32) int64 {
		return int64(math.Floor(float64(s) / eps))
	}
	sort.Slice(hits, func(i, j int) bool {
		bi, bj := band(hits[i].Score), band(hits[j].Score)
		if bi != bj {
			return bi > bj
		}
		return hits[i].ID < hits[j].ID
	})
}
