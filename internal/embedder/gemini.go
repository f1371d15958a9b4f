package embedder

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"github.com/clinrag/clinrag-go/internal/rag"
)

// Gemini task types. Retrieval quality improves when the model knows
// whether it is embedding an indexed passage or a search query, so the
// two entry points send different task hints.
const (
	geminiTaskDocument = "RETRIEVAL_DOCUMENT"
	geminiTaskQuery    = "RETRIEVAL_QUERY"
)

// GeminiEmbedder implements rag.Embedder using the Gemini embedding API
// via the genai SDK. It is safe for concurrent use.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	// APIKey is the Google AI Studio API key.
	APIKey string
	// Model is the embedding model name (e.g. "text-embedding-004").
	Model string
	// Dimensions is the expected vector length (text-embedding-004: 768).
	Dimensions int
}

// NewGeminiEmbedder constructs a GeminiEmbedder from the given config.
func NewGeminiEmbedder(ctx context.Context, cfg *GeminiConfig) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, rag.Errorf(rag.KindConfiguration, "gemini embedder: create client: %w", err)
	}
	return &GeminiEmbedder{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// EmbedDocuments converts a batch of passages into embeddings. The
// returned slice is parallel to the input slice.
func (e *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, texts, geminiTaskDocument)
}

// EmbedQuery embeds a single search query.
func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, geminiTaskQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimensions reports the configured vector width.
func (e *GeminiEmbedder) Dimensions() int { return e.dimensions }

func (e *GeminiEmbedder) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: t}}})
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: task,
	})
	if err != nil {
		return nil, geminiError(err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, rag.Errorf(rag.KindEmbedding, "gemini embedder: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	embeddings := make([][]float32, 0, len(texts))
	for _, emb := range resp.Embeddings {
		if emb == nil {
			return nil, rag.Errorf(rag.KindEmbedding, "gemini embedder: empty embedding in response")
		}
		embeddings = append(embeddings, emb.Values)
	}

	if err := checkDimensions("gemini embedder", embeddings, e.dimensions); err != nil {
		return nil, err
	}

	return embeddings, nil
}

// geminiError classifies a genai SDK failure. API errors carry an HTTP
// status; anything without one is treated as a network fault and retried.
func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return rag.Transientf(rag.KindEmbedding, "gemini embedder: %w", err)
		}
		return rag.Errorf(rag.KindEmbedding, "gemini embedder: %w", err)
	}
	return rag.Transientf(rag.KindEmbedding, "gemini embedder: %w", err)
}
