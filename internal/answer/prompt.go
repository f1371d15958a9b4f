package answer

import (
	"fmt"
	"strings"

	"github.com/clinrag/clinrag-go/internal/rag"
)

// systemPrompt establishes the assistant persona and the grounding rules.
// The citation instruction must stay in sync with the bracketed labels
// buildPrompt emits and extractCitations parses.
const systemPrompt = `You are an intelligent clinical assistant. Use the provided context
excerpts to answer the user's question.

INSTRUCTIONS:
1. Answer strictly based on the provided context.
2. Reference the excerpts you used with their bracketed labels, e.g. [1] or [2].
3. If the answer is not in the context, state "I cannot find the answer in the provided documents."
4. Keep the answer professional and concise.
5. Never invent clinical facts, medications, dosages, or dates that are not in the context.`

// noAnswerPhrase is the reply the model is instructed to give when the
// context does not contain the answer. Matching it in the output marks the
// answer as insufficient.
const noAnswerPhrase = "I cannot find the answer in the provided documents."

// buildPrompt renders the labelled context block and the question into the
// user message. Each excerpt is introduced by its citation label and source
// so the model's bracketed references map straight back to chunks.
func buildPrompt(assembled rag.AssembledContext, question string) string {
	var sb strings.Builder

	sb.WriteString("--- CONTEXT ---\n")
	for _, c := range assembled.Chunks {
		sb.WriteString(excerptHeader(c))
		sb.WriteString(c.Text)
		sb.WriteString("\n\n")
	}
	sb.WriteString("--- END CONTEXT ---\n\n")
	fmt.Fprintf(&sb, "USER QUESTION: %s", question)

	return sb.String()
}

// excerptHeader formats one chunk's citation label and provenance line.
func excerptHeader(c rag.CitedChunk) string {
	if c.Page > 0 {
		return fmt.Sprintf("[%d] %s, page %d:\n", c.Label, c.Source, c.Page)
	}
	return fmt.Sprintf("[%d] %s:\n", c.Label, c.Source)
}
