// Package budget provides context budget accounting for prompt assembly.
// The context window handed to the answer model is bounded; chunks are
// admitted against that bound measured either in characters or in
// estimated tokens. Because the service supports multiple LLM backends
// with different tokenizers, token estimation uses a character-based
// heuristic: 1 token ≈ 4 characters of English prose. Budgets should
// leave headroom for the instruction scaffolding around the excerpts.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

// Unit selects how a context budget is measured.
type Unit string

const (
	// UnitChars measures budget in characters of chunk text.
	UnitChars Unit = "chars"

	// UnitTokens measures budget in estimated tokens (see Estimate).
	UnitTokens Unit = "tokens"
)

// Valid reports whether u is a known budget unit.
func (u Unit) Valid() bool {
	return u == UnitChars || u == UnitTokens
}

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	// 4 chars/token is typical for English prose.
	charsPerToken = 4

	// DefaultContextBudget is the default budget in characters. Three
	// full-size chunks at the default chunk size fit with headroom for
	// the instruction scaffolding around them.
	DefaultContextBudget = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Cost returns the budget cost of s in the given unit. Unknown units cost
// as characters, the more conservative of the two.
func Cost(s string, unit Unit) int {
	if unit == UnitTokens {
		return Estimate(s)
	}
	return len(s)
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message. Used to
// log prompt sizes before generation calls.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}
