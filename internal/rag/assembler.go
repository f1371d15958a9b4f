package rag

import (
	"github.com/clinrag/clinrag-go/internal/budget"
)

// Assembler packs retrieved chunks into a bounded context for the answer
// model. Chunks are admitted greedily in the order given (the retriever
// guarantees descending relevance), a chunk is either included whole or
// skipped, and spans that substantially repeat an already-included span of
// the same document are collapsed onto whichever chunk was seen first,
// i.e. the higher-scoring one. Consecutive chunks share a designed overlap
// region from the sliding window; that alone never disqualifies them.
type Assembler struct {
	limit int
	unit  budget.Unit
}

// NewAssembler validates the context budget. The limit is measured in the
// given unit; an empty unit defaults to characters.
func NewAssembler(limit int, unit budget.Unit) (*Assembler, error) {
	if limit <= 0 {
		return nil, Errorf(KindConfiguration, "rag: context budget must be positive, got %d", limit)
	}
	if unit == "" {
		unit = budget.UnitChars
	}
	if !unit.Valid() {
		return nil, Errorf(KindConfiguration, "rag: unknown budget unit %q", unit)
	}
	return &Assembler{limit: limit, unit: unit}, nil
}

// Assemble selects chunks for the model context and assigns citation
// labels. Labels are 1-based and sequential in inclusion order, so the
// prompt builder and the citation extractor agree on numbering without
// further coordination. No chunk text is ever truncated: a chunk that does
// not fit in the remaining budget is skipped and later, cheaper chunks may
// still be admitted. Empty input yields an empty context.
func (a *Assembler) Assemble(hits []ScoredChunk) AssembledContext {
	var out AssembledContext
	for _, h := range hits {
		if redundantWithAny(h.Chunk, out.Chunks) {
			continue
		}

		cost := budget.Cost(h.Text, a.unit)
		if out.Cost+cost > a.limit {
			continue
		}

		out.Chunks = append(out.Chunks, CitedChunk{
			Label:       len(out.Chunks) + 1,
			ScoredChunk: h,
		})
		out.Cost += cost
	}
	return out
}

// redundantWithAny reports whether c's span substantially repeats an
// already-included chunk of the same document: the shared region covers
// more than half of the smaller span. Neighbouring chunks that share only
// the sliding-window overlap stay admissible; a span (near-)contained in
// an included one carries too little new text to spend budget on. Spans
// are half-open, so chunks that merely touch share nothing.
func redundantWithAny(c Chunk, included []CitedChunk) bool {
	for _, in := range included {
		if in.DocumentID != c.DocumentID {
			continue
		}
		shared := min(c.End, in.End) - max(c.Start, in.Start)
		if shared <= 0 {
			continue
		}
		if 2*shared > min(c.End-c.Start, in.End-in.Start) {
			return true
		}
	}
	return false
}
