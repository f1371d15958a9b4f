// Package ingestion implements the document ingestion pipeline.
// It extracts text from an uploaded document, chunks the text, embeds the
// chunks, and writes the result to the vector store in one atomic step.
// The pipeline is invoked by the `clinrag ingest` CLI command and by the
// server's upload endpoints.
package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/clinrag/clinrag-go/internal/catalog"
	"github.com/clinrag/clinrag-go/internal/extract"
	"github.com/clinrag/clinrag-go/internal/logging"
	"github.com/clinrag/clinrag-go/internal/rag"
)

// Request describes one document to be ingested.
type Request struct {
	// Name is the human-readable source name, typically the file name.
	Name string

	// Data is the raw document payload.
	Data []byte

	// Format is the declared payload format. When empty, the format is
	// detected from the Name extension.
	Format extract.Format
}

// Summary reports the outcome of a completed ingestion.
type Summary struct {
	// DocumentID is the content-addressed identifier assigned to the document.
	DocumentID string

	// Name is the source name the document was ingested under.
	Name string

	// Format is the resolved payload format.
	Format extract.Format

	// Chunks is the number of chunks written to the vector store.
	Chunks int

	// Pages is the page count for paginated formats, 0 otherwise.
	Pages int
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per document chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters to overlap between consecutive
	// chunks. Defaults to 100 if zero.
	ChunkOverlap int

	// EmbedBatchSize is the number of chunks sent per embedding call.
	// Defaults to 16 if zero.
	EmbedBatchSize int

	// EmbedWorkers is the number of embedding calls allowed in flight at
	// once. Defaults to 4 if zero.
	EmbedWorkers int

	// EmbedRPS caps embedding calls per second across all workers.
	// Zero means unpaced.
	EmbedRPS float64

	// EmbedRetry bounds the retry schedule for each embedding batch call.
	EmbedRetry rag.RetryPolicy

	// WriteRetry bounds the retry schedule for the index write.
	WriteRetry rag.RetryPolicy
}

// Pipeline orchestrates the extract → chunk → embed → upsert flow for a
// single document. Embedding calls run concurrently; the index write waits
// for all of them and happens once, so a failed ingestion never leaves a
// partially indexed document behind.
type Pipeline struct {
	// embedder converts chunk text into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// catalog records a summary row per ingested document.
	catalog catalog.Store

	// chunker splits extracted text into overlapping windows.
	chunker *rag.Chunker

	// limiter paces embedding calls when EmbedRPS is set, nil otherwise.
	limiter *rate.Limiter

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, cat catalog.Store, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, rag.Errorf(rag.KindConfiguration, "ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, rag.Errorf(rag.KindConfiguration, "ingestion: store must not be nil")
	}
	if cat == nil {
		return nil, rag.Errorf(rag.KindConfiguration, "ingestion: catalog must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 16
	}
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = 4
	}

	chunker, err := rag.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.EmbedRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EmbedRPS), 1)
	}

	return &Pipeline{
		embedder: embedder,
		store:    store,
		catalog:  cat,
		chunker:  chunker,
		limiter:  limiter,
		cfg:      cfg,
	}, nil
}

// Ingest extracts, chunks, embeds, and indexes a single document, then
// records it in the catalog. The document ID is derived from the payload
// bytes, so ingesting the same content twice overwrites the first copy
// instead of duplicating it. A document whose extracted text is empty is
// recorded with zero chunks and nothing is written to the index.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Summary, error) {
	log := logging.FromContext(ctx)

	format := req.Format
	if format == "" {
		f, err := extract.DetectFormat(req.Name)
		if err != nil {
			return nil, err
		}
		format = f
	}

	res, err := extract.Extract(req.Data, format)
	if err != nil {
		return nil, err
	}

	documentID := rag.DocumentID(req.Data)
	chunks := p.chunker.Chunk(documentID, req.Name, res.Text)
	for i := range chunks {
		chunks[i].Page = res.PageFor(chunks[i].Start)
	}

	log.Info("document chunked",
		"document_id", documentID,
		"name", req.Name,
		"format", string(format),
		"chunks", len(chunks),
		"pages", res.PageCount(),
	)

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}

		vectors, err := p.embedAll(ctx, texts)
		if err != nil {
			return nil, err
		}

		embedded := make([]rag.EmbeddedChunk, len(chunks))
		for i := range chunks {
			embedded[i] = rag.EmbeddedChunk{Chunk: chunks[i], Vector: vectors[i]}
		}

		if err := p.write(ctx, documentID, embedded); err != nil {
			return nil, err
		}
	}

	entry := catalog.Entry{
		DocumentID: documentID,
		Name:       req.Name,
		Format:     string(format),
		Chunks:     len(chunks),
		Pages:      res.PageCount(),
	}
	if err := p.catalog.Record(ctx, entry); err != nil {
		// The catalog must list a document iff its chunks are indexed, so a
		// failed record rolls the index write back.
		p.cleanup(ctx, documentID)
		return nil, fmt.Errorf("ingestion: record %s: %w", documentID, err)
	}

	log.Info("document ingested", "document_id", documentID, "name", req.Name, "chunks", len(chunks))

	return &Summary{
		DocumentID: documentID,
		Name:       req.Name,
		Format:     format,
		Chunks:     len(chunks),
		Pages:      res.PageCount(),
	}, nil
}

// embedAll embeds every chunk text, issuing up to EmbedWorkers batch calls
// concurrently. The returned slice is index-aligned with texts. Transient
// batch failures are retried under EmbedRetry; the first exhausted batch
// cancels the remaining batches and fails the whole document, so a partial
// embedding set is never returned.
func (p *Pipeline) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	sem := make(chan struct{}, p.cfg.EmbedWorkers)
	for start := 0; start < len(texts); start += p.cfg.EmbedBatchSize {
		end := start + p.cfg.EmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		wg.Add(1)
		go func(start int, batch []string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return
				}
			}

			var embs [][]float32
			err := rag.Retry(ctx, p.cfg.EmbedRetry, func() error {
				var embedErr error
				embs, embedErr = p.embedder.EmbedDocuments(ctx, batch)
				return embedErr
			})
			if err != nil {
				fail(fmt.Errorf("ingestion: embedding chunks %d-%d: %w", start, start+len(batch)-1, err))
				return
			}
			copy(vectors[start:], embs)
		}(start, texts[start:end])
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// write replaces the document's chunks in the vector store in one retried
// operation. Deleting before upserting keeps a re-ingest under a changed
// chunking config from leaving stale high-ordinal points behind. If the
// write still fails after retries, any points it managed to place are
// removed so the failed document is absent from the index. For a re-ingest
// this means a permanent write failure also drops the previously indexed
// copy rather than leaving it: the index never mixes two generations of
// the same document, and re-running the ingest restores it.
func (p *Pipeline) write(ctx context.Context, documentID string, embedded []rag.EmbeddedChunk) error {
	err := rag.Retry(ctx, p.cfg.WriteRetry, func() error {
		if err := p.store.DeleteByDocument(ctx, documentID); err != nil {
			return err
		}
		return p.store.Upsert(ctx, embedded)
	})
	if err == nil {
		return nil
	}

	p.cleanup(ctx, documentID)
	return err
}

// cleanup removes a document's points from the index after a failed
// ingestion. It runs on a detached context so a cancelled request can still
// be rolled back.
func (p *Pipeline) cleanup(ctx context.Context, documentID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.store.DeleteByDocument(cleanupCtx, documentID); err != nil {
		logging.FromContext(ctx).Warn("index cleanup after failed ingestion failed",
			"document_id", documentID,
			"error", err,
		)
	}
}
