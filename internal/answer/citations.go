package answer

import (
	"regexp"
	"strconv"

	"github.com/clinrag/clinrag-go/internal/rag"
)

// citationPattern matches the bracketed labels the system prompt instructs
// the model to emit.
var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// extractCitations returns the context chunks the answer text references,
// in first-mention order. Repeat mentions and labels that do not exist in
// the context are ignored, so a hallucinated [7] can never produce a
// citation. A nil result means the text cited nothing.
func extractCitations(text string, assembled rag.AssembledContext) []rag.CitedChunk {
	seen := make(map[int]bool)

	var cited []rag.CitedChunk
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		label, err := strconv.Atoi(m[1])
		if err != nil || seen[label] {
			continue
		}
		ch, ok := assembled.ByLabel(label)
		if !ok {
			continue
		}
		seen[label] = true
		cited = append(cited, ch)
	}
	return cited
}
