// Package answer implements the question-answering pipeline: retrieve
// relevant chunks for a question, assemble them into a bounded context
// block, and generate a grounded answer with citations back to the source
// chunks. When retrieval finds nothing relevant the pipeline answers
// directly and the generation model is never invoked.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/clinrag/clinrag-go/internal/budget"
	"github.com/clinrag/clinrag-go/internal/logging"
	"github.com/clinrag/clinrag-go/internal/rag"
)

// InsufficientAnswer is the fixed reply for questions the knowledge base
// has nothing relevant for.
const InsufficientAnswer = "No relevant information found in the knowledge base."

// Answer is the outcome of one query.
type Answer struct {
	// Question is the question as asked, whitespace-trimmed.
	Question string

	// Text is the generated answer.
	Text string

	// Citations lists the context chunks the answer drew on, in first-mention
	// order. When the model cites nothing explicitly, the full context is
	// surfaced as provenance.
	Citations []rag.CitedChunk

	// Retrieved is the number of chunks placed in the model's context window.
	Retrieved int

	// Insufficient reports that the knowledge base held nothing relevant, or
	// that the model declared the context does not contain the answer.
	Insufficient bool
}

// Config holds the dependencies required to construct a Pipeline.
type Config struct {
	// Retriever fetches scored chunks for the question.
	Retriever *rag.Retriever

	// Assembler packs retrieved chunks into the context budget.
	Assembler *rag.Assembler

	// ChatModel is the generation backend constructed by the provider factory.
	ChatModel model.BaseChatModel

	// Retry bounds the retry schedule for transient generation failures.
	Retry rag.RetryPolicy
}

// Pipeline orchestrates retrieve → assemble → generate → cite for a single
// question.
type Pipeline struct {
	retriever *rag.Retriever
	assembler *rag.Assembler
	chat      model.BaseChatModel
	retry     rag.RetryPolicy
}

// New constructs a Pipeline from the provided Config.
func New(cfg *Config) (*Pipeline, error) {
	if cfg == nil {
		return nil, rag.Errorf(rag.KindConfiguration, "answer: config must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, rag.Errorf(rag.KindConfiguration, "answer: retriever must not be nil")
	}
	if cfg.Assembler == nil {
		return nil, rag.Errorf(rag.KindConfiguration, "answer: assembler must not be nil")
	}
	if cfg.ChatModel == nil {
		return nil, rag.Errorf(rag.KindConfiguration, "answer: chat model must not be nil")
	}
	return &Pipeline{
		retriever: cfg.Retriever,
		assembler: cfg.Assembler,
		chat:      cfg.ChatModel,
		retry:     cfg.Retry,
	}, nil
}

// Answer runs the full pipeline for one question. topK overrides the
// retriever's configured result count when positive. A question the index
// has nothing for yields an Insufficient answer, not an error; provider
// failures and exhausted retries surface as classified errors.
func (p *Pipeline) Answer(ctx context.Context, question string, topK int) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, rag.Errorf(rag.KindConfiguration, "answer: question must not be empty")
	}

	log := logging.FromContext(ctx)

	hits, err := p.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		return nil, err
	}

	assembled := p.assembler.Assemble(hits)
	if assembled.Empty() {
		log.Info("no relevant context found", "question_chars", len(question))
		return &Answer{Question: question, Text: InsufficientAnswer, Insufficient: true}, nil
	}

	log.Debug("context assembled",
		"chunks", len(assembled.Chunks),
		"cost", assembled.Cost,
		"dropped", len(hits)-len(assembled.Chunks),
	)

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(buildPrompt(assembled, question)),
	}
	log.Debug("prompt built", "est_tokens", budget.EstimateMessages(messages))

	var reply *schema.Message
	err = rag.Retry(ctx, p.retry, func() error {
		msg, gerr := p.chat.Generate(ctx, messages)
		if gerr != nil {
			return classifyGenerationError(gerr)
		}
		reply = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reply == nil || strings.TrimSpace(reply.Content) == "" {
		return nil, rag.Errorf(rag.KindGeneration, "answer: model returned an empty response")
	}

	text := strings.TrimSpace(reply.Content)
	insufficient := strings.Contains(text, noAnswerPhrase)

	citations := extractCitations(text, assembled)
	if len(citations) == 0 && !insufficient {
		// The model cited nothing explicitly; surface the whole context so
		// callers can still show where the answer could have come from.
		citations = assembled.Chunks
	}

	return &Answer{
		Question:     question,
		Text:         text,
		Citations:    citations,
		Retrieved:    len(assembled.Chunks),
		Insufficient: insufficient,
	}, nil
}

// classifyGenerationError maps provider failures onto the error taxonomy so
// the retry loop only repeats calls that might succeed. Rate limits and
// server-side failures are transient; quota is not exhausted forever and
// overloaded backends recover. Malformed requests and auth failures are
// permanent. A dead request context is permanent for this request.
func classifyGenerationError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("answer: generation: %w", err)
	}

	var classified *rag.Error
	if errors.As(err, &classified) {
		return fmt.Errorf("answer: generation: %w", err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return rag.Transientf(rag.KindGeneration, "answer: generation: %v", err)
		}
		return rag.Errorf(rag.KindGeneration, "answer: generation: %v", err)
	}

	msg := strings.ToLower(err.Error())
	transientMarkers := []string{
		"rate limit",
		"too many requests",
		"429",
		"quota",
		"resource exhausted",
		"overloaded",
		"unavailable",
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"internal server",
		"500",
		"502",
		"503",
		"504",
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return rag.Transientf(rag.KindGeneration, "answer: generation: %v", err)
		}
	}
	return rag.Errorf(rag.KindGeneration, "answer: generation: %v", err)
}
