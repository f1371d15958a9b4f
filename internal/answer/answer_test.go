package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/clinrag/clinrag-go/internal/budget"
	"github.com/clinrag/clinrag-go/internal/rag"
)

var fastRetry = rag.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (fakeEmbedder) Dimensions() int { return 2 }

type fakeSearchStore struct {
	hits []rag.ScoredChunk
}

func (f *fakeSearchStore) Upsert(ctx context.Context, chunks []rag.EmbeddedChunk) error { return nil }

func (f *fakeSearchStore) Search(ctx context.Context, vector []float32, topK int, minScore float32) ([]rag.ScoredChunk, error) {
	return f.hits, nil
}

func (f *fakeSearchStore) DeleteByDocument(ctx context.Context, documentID string) error { return nil }

func (f *fakeSearchStore) Count(ctx context.Context) (uint64, error) { return 0, nil }

func (f *fakeSearchStore) Close() error { return nil }

// fakeChatModel replies with a fixed message after draining any queued
// errors, and records every prompt it was given.
type fakeChatModel struct {
	mu      sync.Mutex
	calls   int
	reply   string
	errs    []error
	prompts [][]*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, input)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("fake: streaming not supported")
}

func hit(id, doc string, ordinal int, text string, score float32, page int) rag.ScoredChunk {
	start := ordinal * 1000
	return rag.ScoredChunk{
		Chunk: rag.Chunk{
			ID:         id,
			DocumentID: doc,
			Ordinal:    ordinal,
			Text:       text,
			Start:      start,
			End:        start + len(text),
			Page:       page,
			Source:     "discharge_summary.pdf",
		},
		Score: score,
	}
}

func newTestPipeline(t *testing.T, hits []rag.ScoredChunk, chat *fakeChatModel) *Pipeline {
	t.Helper()
	retriever, err := rag.NewRetriever(fakeEmbedder{}, &fakeSearchStore{hits: hits}, rag.RetrieverConfig{TopK: 3, Retry: fastRetry})
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	assembler, err := rag.NewAssembler(6000, budget.UnitChars)
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}
	p, err := New(&Config{Retriever: retriever, Assembler: assembler, ChatModel: chat, Retry: fastRetry})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func Test_New_Validation(t *testing.T) {
	t.Parallel()

	retriever, _ := rag.NewRetriever(fakeEmbedder{}, &fakeSearchStore{}, rag.RetrieverConfig{})
	assembler, _ := rag.NewAssembler(100, budget.UnitChars)
	chat := &fakeChatModel{}

	cases := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"nil retriever", &Config{Assembler: assembler, ChatModel: chat}},
		{"nil assembler", &Config{Retriever: retriever, ChatModel: chat}},
		{"nil chat model", &Config{Retriever: retriever, Assembler: assembler}},
	}
	for _, tc := range cases {
		_, err := New(tc.cfg)
		if err == nil {
			t.Errorf("%s: want error, got nil", tc.name)
			continue
		}
		if rag.KindOf(err) != rag.KindConfiguration {
			t.Errorf("%s: want configuration error, got %v", tc.name, err)
		}
	}
}

func Test_Answer_GroundedWithCitations(t *testing.T) {
	t.Parallel()
	hits := []rag.ScoredChunk{
		hit("chunk-a", "doc-1", 0, "Diagnosis: NSTEMI, CAD. Troponin peaked at 2.3 ng/mL.", 0.91, 2),
		hit("chunk-b", "doc-1", 1, "Discharged on aspirin 81mg daily and atorvastatin 40mg.", 0.84, 3),
	}
	chat := &fakeChatModel{reply: "The patient was diagnosed with NSTEMI and CAD [1]."}
	p := newTestPipeline(t, hits, chat)

	ans, err := p.Answer(context.Background(), "What is the patient's diagnosis?", 0)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	if ans.Insufficient {
		t.Error("answer marked insufficient despite grounded reply")
	}
	if ans.Retrieved != 2 {
		t.Errorf("retrieved: want 2, got %d", ans.Retrieved)
	}
	if len(ans.Citations) != 1 || ans.Citations[0].ID != "chunk-a" {
		t.Fatalf("citations: want [chunk-a], got %+v", ans.Citations)
	}
	if ans.Citations[0].Label != 1 {
		t.Errorf("citation label: want 1, got %d", ans.Citations[0].Label)
	}

	if chat.calls != 1 {
		t.Fatalf("model calls: want 1, got %d", chat.calls)
	}
	prompt := chat.prompts[0]
	if len(prompt) != 2 {
		t.Fatalf("want system + user message, got %d messages", len(prompt))
	}
	if prompt[0].Role != schema.System {
		t.Errorf("first message role: want system, got %s", prompt[0].Role)
	}
	user := prompt[1].Content
	for _, want := range []string{
		"--- CONTEXT ---",
		"--- END CONTEXT ---",
		"[1] discharge_summary.pdf, page 2:",
		"[2] discharge_summary.pdf, page 3:",
		"Diagnosis: NSTEMI, CAD.",
		"USER QUESTION: What is the patient's diagnosis?",
	} {
		if !strings.Contains(user, want) {
			t.Errorf("user message missing %q:\n%s", want, user)
		}
	}
}

func Test_Answer_AdjacentChunksBothCitable(t *testing.T) {
	t.Parallel()

	// Chunk a short note with a 40/10 sliding window so the two retrieved
	// chunks share the real overlap region, the way indexed neighbours do.
	// Both must survive assembly and both must be citable.
	chunker, err := rag.NewChunker(40, 10)
	if err != nil {
		t.Fatalf("new chunker: %v", err)
	}
	chunks := chunker.Chunk("doc-1", "note.txt", "Patient has stage II diabetes. Follow-up in 3 months.")
	if len(chunks) != 2 {
		t.Fatalf("want 2 chunks, got %d", len(chunks))
	}

	hits := []rag.ScoredChunk{
		{Chunk: chunks[0], Score: 0.92},
		{Chunk: chunks[1], Score: 0.88},
	}
	chat := &fakeChatModel{reply: "Stage II diabetes [1], with follow-up in 3 months [2]."}
	p := newTestPipeline(t, hits, chat)

	ans, err := p.Answer(context.Background(), "What is the follow-up plan?", 0)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	if ans.Retrieved != 2 {
		t.Fatalf("retrieved: want both adjacent chunks in context, got %d", ans.Retrieved)
	}
	if len(ans.Citations) != 2 {
		t.Fatalf("citations: want 2, got %d", len(ans.Citations))
	}
	if ans.Citations[0].Ordinal != 0 || ans.Citations[1].Ordinal != 1 {
		t.Errorf("cited ordinals = %d,%d, want 0,1", ans.Citations[0].Ordinal, ans.Citations[1].Ordinal)
	}

	user := chat.prompts[0][1].Content
	for _, chunk := range chunks {
		if !strings.Contains(user, chunk.Text) {
			t.Errorf("prompt missing chunk %d text %q", chunk.Ordinal, chunk.Text)
		}
	}
}

func Test_Answer_EmptyIndexSkipsGeneration(t *testing.T) {
	t.Parallel()
	chat := &fakeChatModel{reply: "should never be used"}
	p := newTestPipeline(t, nil, chat)

	ans, err := p.Answer(context.Background(), "What medications was the patient discharged on?", 0)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	if !ans.Insufficient {
		t.Error("want insufficient answer for empty index")
	}
	if ans.Text != InsufficientAnswer {
		t.Errorf("text: want %q, got %q", InsufficientAnswer, ans.Text)
	}
	if len(ans.Citations) != 0 {
		t.Errorf("citations: want none, got %+v", ans.Citations)
	}
	if chat.calls != 0 {
		t.Errorf("model invoked %d times for empty retrieval", chat.calls)
	}
}

func Test_Answer_ModelDeclaresNoAnswer(t *testing.T) {
	t.Parallel()
	hits := []rag.ScoredChunk{
		hit("chunk-a", "doc-1", 0, "Vital signs stable throughout admission.", 0.52, 1),
	}
	chat := &fakeChatModel{reply: "I cannot find the answer in the provided documents."}
	p := newTestPipeline(t, hits, chat)

	ans, err := p.Answer(context.Background(), "What is the patient's blood type?", 0)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !ans.Insufficient {
		t.Error("want insufficient when model declares no answer")
	}
	if len(ans.Citations) != 0 {
		t.Errorf("citations: want none for a no-answer reply, got %+v", ans.Citations)
	}
}

func Test_Answer_UncitedReplyFallsBackToFullContext(t *testing.T) {
	t.Parallel()
	hits := []rag.ScoredChunk{
		hit("chunk-a", "doc-1", 0, "Diagnosis: NSTEMI.", 0.9, 1),
		hit("chunk-b", "doc-1", 1, "Discharged on aspirin.", 0.8, 2),
	}
	chat := &fakeChatModel{reply: "The patient has NSTEMI and takes aspirin."}
	p := newTestPipeline(t, hits, chat)

	ans, err := p.Answer(context.Background(), "Summarise the admission.", 0)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if len(ans.Citations) != 2 {
		t.Errorf("citations: want full context fallback of 2, got %d", len(ans.Citations))
	}
}

func Test_Answer_TransientGenerationRetried(t *testing.T) {
	t.Parallel()
	hits := []rag.ScoredChunk{hit("chunk-a", "doc-1", 0, "Diagnosis: NSTEMI.", 0.9, 1)}
	chat := &fakeChatModel{
		reply: "NSTEMI [1].",
		errs:  []error{errors.New("429 too many requests")},
	}
	p := newTestPipeline(t, hits, chat)

	ans, err := p.Answer(context.Background(), "Diagnosis?", 0)
	if err != nil {
		t.Fatalf("answer after transient failure: %v", err)
	}
	if chat.calls != 2 {
		t.Errorf("model calls: want 2 (one retry), got %d", chat.calls)
	}
	if ans.Text != "NSTEMI [1]." {
		t.Errorf("text: got %q", ans.Text)
	}
}

func Test_Answer_PermanentGenerationNotRetried(t *testing.T) {
	t.Parallel()
	hits := []rag.ScoredChunk{hit("chunk-a", "doc-1", 0, "Diagnosis: NSTEMI.", 0.9, 1)}
	chat := &fakeChatModel{
		errs: []error{errors.New("model not found"), errors.New("model not found"), errors.New("model not found")},
	}
	p := newTestPipeline(t, hits, chat)

	_, err := p.Answer(context.Background(), "Diagnosis?", 0)
	if err == nil {
		t.Fatal("want error for permanent failure, got nil")
	}
	if rag.KindOf(err) != rag.KindGeneration {
		t.Errorf("want generation error kind, got %q", rag.KindOf(err))
	}
	if chat.calls != 1 {
		t.Errorf("model calls: want 1 (no retry), got %d", chat.calls)
	}
}

func Test_Answer_ExhaustedRetriesSurfaceError(t *testing.T) {
	t.Parallel()
	hits := []rag.ScoredChunk{hit("chunk-a", "doc-1", 0, "Diagnosis: NSTEMI.", 0.9, 1)}
	rateLimited := errors.New("quota exceeded for model")
	chat := &fakeChatModel{errs: []error{rateLimited, rateLimited, rateLimited}}
	p := newTestPipeline(t, hits, chat)

	_, err := p.Answer(context.Background(), "Diagnosis?", 0)
	if err == nil {
		t.Fatal("want error after exhausted retries, got nil")
	}
	if rag.KindOf(err) != rag.KindGeneration {
		t.Errorf("want generation error kind, got %q", rag.KindOf(err))
	}
	if chat.calls != 3 {
		t.Errorf("model calls: want 3 attempts, got %d", chat.calls)
	}
}

func Test_Answer_EmptyReplyIsError(t *testing.T) {
	t.Parallel()
	hits := []rag.ScoredChunk{hit("chunk-a", "doc-1", 0, "Diagnosis: NSTEMI.", 0.9, 1)}
	chat := &fakeChatModel{reply: "   "}
	p := newTestPipeline(t, hits, chat)

	_, err := p.Answer(context.Background(), "Diagnosis?", 0)
	if err == nil {
		t.Fatal("want error for empty model reply, got nil")
	}
	if rag.KindOf(err) != rag.KindGeneration {
		t.Errorf("want generation error kind, got %q", rag.KindOf(err))
	}
}

func Test_Answer_EmptyQuestionRejected(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, nil, &fakeChatModel{})

	_, err := p.Answer(context.Background(), "   \n", 0)
	if err == nil {
		t.Fatal("want error for empty question, got nil")
	}
	if rag.KindOf(err) != rag.KindConfiguration {
		t.Errorf("want configuration error kind, got %q", rag.KindOf(err))
	}
}

// -----------------------------------------------------------------------------
// citation extraction
// -----------------------------------------------------------------------------

func Test_ExtractCitations(t *testing.T) {
	t.Parallel()

	assembled := rag.AssembledContext{Chunks: []rag.CitedChunk{
		{Label: 1, ScoredChunk: hit("chunk-a", "doc-1", 0, "a", 0.9, 1)},
		{Label: 2, ScoredChunk: hit("chunk-b", "doc-1", 1, "b", 0.8, 2)},
		{Label: 3, ScoredChunk: hit("chunk-c", "doc-2", 0, "c", 0.7, 0)},
	}}

	cases := []struct {
		name string
		text string
		want []string // expected chunk IDs in order
	}{
		{"single", "Diagnosis is NSTEMI [1].", []string{"chunk-a"}},
		{"first mention order", "Aspirin [2] was prescribed for NSTEMI [1].", []string{"chunk-b", "chunk-a"}},
		{"repeat collapsed", "NSTEMI [1] and CAD [1] were noted [2].", []string{"chunk-a", "chunk-b"}},
		{"unknown label ignored", "Per the chart [7], diagnosis unknown [3].", []string{"chunk-c"}},
		{"no citations", "The patient is stable.", nil},
		{"adjacent labels", "Both sources agree [1][3].", []string{"chunk-a", "chunk-c"}},
	}
	for _, tc := range cases {
		got := extractCitations(tc.text, assembled)
		if len(got) != len(tc.want) {
			t.Errorf("%s: want %d citations, got %d", tc.name, len(tc.want), len(got))
			continue
		}
		for i, id := range tc.want {
			if got[i].ID != id {
				t.Errorf("%s: citation %d: want %s, got %s", tc.name, i, id, got[i].ID)
			}
		}
	}
}

// -----------------------------------------------------------------------------
// generation error classification
// -----------------------------------------------------------------------------

func Test_ClassifyGenerationError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		err           error
		wantKind      rag.Kind
		wantTransient bool
	}{
		{"genai rate limit", genai.APIError{Code: 429, Message: "resource exhausted"}, rag.KindGeneration, true},
		{"genai server error", genai.APIError{Code: 503, Message: "overloaded"}, rag.KindGeneration, true},
		{"genai bad request", genai.APIError{Code: 400, Message: "invalid argument"}, rag.KindGeneration, false},
		{"string rate limit", errors.New("openai: rate limit exceeded"), rag.KindGeneration, true},
		{"string server error", errors.New("502 bad gateway"), rag.KindGeneration, true},
		{"string auth failure", errors.New("invalid api key"), rag.KindGeneration, false},
		{"deadline", context.DeadlineExceeded, rag.KindTimeout, false},
	}
	for _, tc := range cases {
		got := classifyGenerationError(tc.err)
		if kind := rag.KindOf(got); kind != tc.wantKind {
			t.Errorf("%s: kind: want %q, got %q", tc.name, tc.wantKind, kind)
		}
		if transient := rag.IsTransient(got); transient != tc.wantTransient {
			t.Errorf("%s: transient: want %v, got %v", tc.name, tc.wantTransient, transient)
		}
	}
}

func Test_ClassifyGenerationError_PreservesClassified(t *testing.T) {
	t.Parallel()

	in := rag.Transientf(rag.KindEmbedding, "upstream transient")
	got := classifyGenerationError(in)
	if rag.KindOf(got) != rag.KindEmbedding {
		t.Errorf("kind: want embedding preserved, got %q", rag.KindOf(got))
	}
	if !rag.IsTransient(got) {
		t.Error("transient flag lost through classification")
	}
}
