package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clinrag/clinrag-go/internal/catalog"
	"github.com/clinrag/clinrag-go/internal/extract"
	"github.com/clinrag/clinrag-go/internal/rag"
)

// fakeEmbedder returns per-text vectors of [first byte, length] so tests
// can verify chunk/vector alignment regardless of batch boundaries.
type fakeEmbedder struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
	failCall    int  // 1-based call number to fail on; 0 means never
	transient   bool // failCall fails with a transient error instead of a permanent one
	delay       time.Duration
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failCall != 0 && call == f.failCall {
		if f.transient {
			return nil, rag.Transientf(rag.KindEmbedding, "embedder: unavailable")
		}
		return nil, rag.Errorf(rag.KindEmbedding, "embedder: boom")
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(t[0]), float32(len(t))}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(text[0]), float32(len(text))}, nil
}

func (f *fakeEmbedder) Dimensions() int { return 2 }

type fakeStore struct {
	mu              sync.Mutex
	upserts         [][]rag.EmbeddedChunk
	deletes         []string
	upsertFailTimes int
}

func (f *fakeStore) Upsert(ctx context.Context, chunks []rag.EmbeddedChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertFailTimes > 0 {
		f.upsertFailTimes--
		return rag.Transientf(rag.KindIndexWrite, "qdrant: upsert: unavailable")
	}
	cp := make([]rag.EmbeddedChunk, len(chunks))
	copy(cp, chunks)
	f.upserts = append(f.upserts, cp)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, vector []float32, topK int, minScore float32) ([]rag.ScoredChunk, error) {
	return nil, nil
}

func (f *fakeStore) DeleteByDocument(ctx context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, documentID)
	return nil
}

func (f *fakeStore) Count(ctx context.Context) (uint64, error) { return 0, nil }

func (f *fakeStore) Close() error { return nil }

type fakeCatalog struct {
	mu      sync.Mutex
	entries []catalog.Entry
	err     error
}

func (f *fakeCatalog) Record(ctx context.Context, e catalog.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeCatalog) List(ctx context.Context) ([]catalog.Entry, error) { return nil, nil }

func (f *fakeCatalog) Get(ctx context.Context, documentID string) (catalog.Entry, error) {
	return catalog.Entry{}, catalog.ErrNotFound
}

func (f *fakeCatalog) Remove(ctx context.Context, documentID string) error { return nil }

func (f *fakeCatalog) Ping(ctx context.Context) error { return nil }

func (f *fakeCatalog) Close() error { return nil }

func testConfig() *Config {
	return &Config{
		ChunkSize:      20,
		ChunkOverlap:   5,
		EmbedBatchSize: 2,
		EmbedWorkers:   2,
		WriteRetry:     rag.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}
}

func newTestPipeline(t *testing.T, emb *fakeEmbedder, store *fakeStore, cat *fakeCatalog, cfg *Config) *Pipeline {
	t.Helper()
	p, err := NewPipeline(emb, store, cat, cfg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

// 50 characters; with size 20 / overlap 5 this chunks into [0,20) [15,35) [30,50).
const clinicalNote = "Patient denies chest pain and shortness of breath."

func Test_NewPipeline_Validation(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{}
	store := &fakeStore{}
	cat := &fakeCatalog{}

	cases := []struct {
		name string
		fn   func() (*Pipeline, error)
	}{
		{"nil embedder", func() (*Pipeline, error) { return NewPipeline(nil, store, cat, nil) }},
		{"nil store", func() (*Pipeline, error) { return NewPipeline(emb, nil, cat, nil) }},
		{"nil catalog", func() (*Pipeline, error) { return NewPipeline(emb, store, nil, nil) }},
		{"overlap >= size", func() (*Pipeline, error) {
			return NewPipeline(emb, store, cat, &Config{ChunkSize: 100, ChunkOverlap: 100})
		}},
	}
	for _, tc := range cases {
		_, err := tc.fn()
		if err == nil {
			t.Errorf("%s: want error, got nil", tc.name)
			continue
		}
		if rag.KindOf(err) != rag.KindConfiguration {
			t.Errorf("%s: want configuration error, got %v", tc.name, err)
		}
	}
}

func Test_Ingest_TextDocument(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{}
	store := &fakeStore{}
	cat := &fakeCatalog{}
	p := newTestPipeline(t, emb, store, cat, testConfig())

	sum, err := p.Ingest(context.Background(), Request{Name: "note.txt", Data: []byte(clinicalNote)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if sum.Chunks != 3 {
		t.Errorf("chunks: want 3, got %d", sum.Chunks)
	}
	if sum.Format != extract.FormatText {
		t.Errorf("format: want text, got %s", sum.Format)
	}
	if sum.Pages != 0 {
		t.Errorf("pages: want 0 for plain text, got %d", sum.Pages)
	}
	if sum.DocumentID == "" {
		t.Error("document ID is empty")
	}

	if len(store.upserts) != 1 {
		t.Fatalf("want 1 upsert, got %d", len(store.upserts))
	}
	written := store.upserts[0]
	if len(written) != 3 {
		t.Fatalf("want 3 embedded chunks, got %d", len(written))
	}
	for i, ec := range written {
		if ec.DocumentID != sum.DocumentID {
			t.Errorf("chunk %d: document ID %s, want %s", i, ec.DocumentID, sum.DocumentID)
		}
		if ec.Ordinal != i {
			t.Errorf("chunk %d: ordinal %d", i, ec.Ordinal)
		}
		if ec.Page != 0 {
			t.Errorf("chunk %d: page %d, want 0 for plain text", i, ec.Page)
		}
	}

	if len(cat.entries) != 1 {
		t.Fatalf("want 1 catalog entry, got %d", len(cat.entries))
	}
	e := cat.entries[0]
	if e.DocumentID != sum.DocumentID || e.Chunks != 3 || e.Format != "text" || e.Name != "note.txt" {
		t.Errorf("catalog entry: got %+v", e)
	}
}

func Test_Ingest_VectorsAlignedWithChunks(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{}
	store := &fakeStore{}
	p := newTestPipeline(t, emb, store, &fakeCatalog{}, testConfig())

	// 47 characters makes the final chunk shorter than the rest, so a
	// misaligned copy would show up in the length component.
	text := clinicalNote[:47]
	if _, err := p.Ingest(context.Background(), Request{Name: "note.txt", Data: []byte(text)}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	for i, ec := range store.upserts[0] {
		if len(ec.Vector) != 2 {
			t.Fatalf("chunk %d: vector length %d", i, len(ec.Vector))
		}
		if ec.Vector[0] != float32(ec.Text[0]) || ec.Vector[1] != float32(len(ec.Text)) {
			t.Errorf("chunk %d: vector %v does not match text %q", i, ec.Vector, ec.Text)
		}
	}
}

func Test_Ingest_EmptyTextRecordsZeroChunks(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{}
	store := &fakeStore{}
	cat := &fakeCatalog{}
	p := newTestPipeline(t, emb, store, cat, testConfig())

	sum, err := p.Ingest(context.Background(), Request{Name: "empty.txt", Data: nil})
	if err != nil {
		t.Fatalf("ingest empty: %v", err)
	}
	if sum.Chunks != 0 {
		t.Errorf("chunks: want 0, got %d", sum.Chunks)
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times for empty document", emb.calls)
	}
	if len(store.upserts) != 0 || len(store.deletes) != 0 {
		t.Errorf("index touched for empty document: %d upserts, %d deletes", len(store.upserts), len(store.deletes))
	}
	if len(cat.entries) != 1 || cat.entries[0].Chunks != 0 {
		t.Errorf("catalog entries: got %+v", cat.entries)
	}
}

func Test_Ingest_UnknownExtensionRejected(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, &fakeEmbedder{}, &fakeStore{}, &fakeCatalog{}, testConfig())

	_, err := p.Ingest(context.Background(), Request{Name: "scan.docx", Data: []byte("x")})
	if err == nil {
		t.Fatal("want error for unknown extension, got nil")
	}
	if !errors.Is(err, extract.ErrUnsupportedFormat) {
		t.Errorf("want ErrUnsupportedFormat, got %v", err)
	}
	if rag.KindOf(err) != rag.KindExtraction {
		t.Errorf("want extraction error kind, got %q", rag.KindOf(err))
	}
}

func Test_Ingest_DeclaredFormatOverridesExtension(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	p := newTestPipeline(t, &fakeEmbedder{}, store, &fakeCatalog{}, testConfig())

	sum, err := p.Ingest(context.Background(), Request{
		Name:   "export.bin",
		Data:   []byte(clinicalNote),
		Format: extract.FormatText,
	})
	if err != nil {
		t.Fatalf("ingest with declared format: %v", err)
	}
	if sum.Chunks != 3 {
		t.Errorf("chunks: want 3, got %d", sum.Chunks)
	}
}

func Test_Ingest_SameContentSameDocumentID(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, &fakeEmbedder{}, &fakeStore{}, &fakeCatalog{}, testConfig())
	ctx := context.Background()

	first, err := p.Ingest(ctx, Request{Name: "note.txt", Data: []byte(clinicalNote)})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := p.Ingest(ctx, Request{Name: "renamed.txt", Data: []byte(clinicalNote)})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if first.DocumentID != second.DocumentID {
		t.Errorf("same content produced different IDs: %s vs %s", first.DocumentID, second.DocumentID)
	}
}

func Test_Ingest_EmbedFailureAbortsBeforeWrite(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{failCall: 1}
	store := &fakeStore{}
	cat := &fakeCatalog{}
	p := newTestPipeline(t, emb, store, cat, testConfig())

	_, err := p.Ingest(context.Background(), Request{Name: "note.txt", Data: []byte(clinicalNote)})
	if err == nil {
		t.Fatal("want error when a batch fails, got nil")
	}
	if rag.KindOf(err) != rag.KindEmbedding {
		t.Errorf("want embedding error kind, got %q", rag.KindOf(err))
	}
	if len(store.upserts) != 0 || len(store.deletes) != 0 {
		t.Errorf("index touched after embed failure: %d upserts, %d deletes", len(store.upserts), len(store.deletes))
	}
	if len(cat.entries) != 0 {
		t.Errorf("catalog recorded after embed failure: %+v", cat.entries)
	}
}

func Test_Ingest_TransientEmbedRetried(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{failCall: 1, transient: true}
	store := &fakeStore{}
	cfg := testConfig()
	cfg.EmbedRetry = rag.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	p := newTestPipeline(t, emb, store, &fakeCatalog{}, cfg)

	sum, err := p.Ingest(context.Background(), Request{Name: "note.txt", Data: []byte(clinicalNote)})
	if err != nil {
		t.Fatalf("ingest with one transient embed failure: %v", err)
	}
	if sum.Chunks != 3 {
		t.Errorf("chunks: want 3, got %d", sum.Chunks)
	}
	if len(store.upserts) != 1 {
		t.Fatalf("want 1 upsert, got %d", len(store.upserts))
	}
	for i, ec := range store.upserts[0] {
		if ec.Vector[0] != float32(ec.Text[0]) || ec.Vector[1] != float32(len(ec.Text)) {
			t.Errorf("chunk %d: vector %v does not match text %q after retry", i, ec.Vector, ec.Text)
		}
	}
}

func Test_Ingest_TransientWriteRetried(t *testing.T) {
	t.Parallel()
	store := &fakeStore{upsertFailTimes: 1}
	cat := &fakeCatalog{}
	p := newTestPipeline(t, &fakeEmbedder{}, store, cat, testConfig())

	sum, err := p.Ingest(context.Background(), Request{Name: "note.txt", Data: []byte(clinicalNote)})
	if err != nil {
		t.Fatalf("ingest with one transient write failure: %v", err)
	}
	if sum.Chunks != 3 {
		t.Errorf("chunks: want 3, got %d", sum.Chunks)
	}
	if len(store.upserts) != 1 {
		t.Errorf("want 1 successful upsert, got %d", len(store.upserts))
	}
	if len(cat.entries) != 1 {
		t.Errorf("want 1 catalog entry, got %d", len(cat.entries))
	}
}

func Test_Ingest_ExhaustedWriteCleansUpIndex(t *testing.T) {
	t.Parallel()
	store := &fakeStore{upsertFailTimes: 99}
	cat := &fakeCatalog{}
	p := newTestPipeline(t, &fakeEmbedder{}, store, cat, testConfig())

	_, err := p.Ingest(context.Background(), Request{Name: "note.txt", Data: []byte(clinicalNote)})
	if err == nil {
		t.Fatal("want error after retries exhausted, got nil")
	}
	if rag.KindOf(err) != rag.KindIndexWrite {
		t.Errorf("want index_write error kind, got %q", rag.KindOf(err))
	}
	if len(store.upserts) != 0 {
		t.Errorf("want no surviving upserts, got %d", len(store.upserts))
	}
	// Three attempts each delete-then-write, plus the compensating delete
	// after the final failure.
	if len(store.deletes) != 4 {
		t.Errorf("want 4 deletes (3 attempts + cleanup), got %d", len(store.deletes))
	}
	if len(cat.entries) != 0 {
		t.Errorf("catalog recorded a failed ingestion: %+v", cat.entries)
	}
}

func Test_Ingest_CatalogFailureRollsBackIndex(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	cat := &fakeCatalog{err: errors.New("catalog: disk full")}
	p := newTestPipeline(t, &fakeEmbedder{}, store, cat, testConfig())

	sum, err := p.Ingest(context.Background(), Request{Name: "note.txt", Data: []byte(clinicalNote)})
	if err == nil {
		t.Fatal("want error when catalog record fails, got nil")
	}
	if sum != nil {
		t.Errorf("want nil summary on failure, got %+v", sum)
	}
	// One delete from the write step, one from the rollback.
	if len(store.deletes) != 2 {
		t.Errorf("index not rolled back after catalog failure: %d deletes", len(store.deletes))
	}
}

func Test_Ingest_EmbedConcurrencyBounded(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{delay: 2 * time.Millisecond}
	store := &fakeStore{}
	cfg := testConfig()
	cfg.EmbedBatchSize = 1
	cfg.EmbedWorkers = 2
	p := newTestPipeline(t, emb, store, &fakeCatalog{}, cfg)

	// 185 characters; with size 20 / overlap 5 this yields 12 chunks, so
	// 12 single-chunk embedding calls compete for 2 worker slots.
	text := strings.Repeat("a", 185)
	sum, err := p.Ingest(context.Background(), Request{Name: "note.txt", Data: []byte(text)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if sum.Chunks != 12 {
		t.Fatalf("chunks: want 12, got %d", sum.Chunks)
	}
	if emb.maxInFlight > 2 {
		t.Errorf("embedding concurrency %d exceeded worker limit 2", emb.maxInFlight)
	}
	for i, ec := range store.upserts[0] {
		if len(ec.Vector) == 0 {
			t.Errorf("chunk %d written without a vector", i)
		}
	}
}
