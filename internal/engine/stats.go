package engine

import (
	"context"
	"fmt"
	"strings"

	"namesub/internal/corpus"
)

// TableStats summarizes the rows a plan would touch.
type TableStats struct {
	// Matching is the number of rows the plan's predicate selects.
	Matching int64

	// ByGender counts matching rows per canonical gender. Rows whose gender
	// value is outside the recognized vocabulary land under "unresolved".
	ByGender map[string]int64
}

// UnresolvedLabel keys the ByGender bucket for values the vocabulary does
// not cover, NULL included.
const UnresolvedLabel = "unresolved"

// Stats reports how many rows the plan matches and how they split by
// gender. Read-only; safe to call before a run.
func (e *Executor) Stats(ctx context.Context, plan Plan) (TableStats, error) {
	n, err := e.st.CountMatching(ctx, plan.Table, plan.Where)
	if err != nil {
		return TableStats{}, fmt.Errorf("count matching rows: %w", err)
	}

	raw, err := e.st.GroupCount(ctx, plan.Table, plan.GenderColumn, plan.Where)
	if err != nil {
		return TableStats{}, fmt.Errorf("count by gender: %w", err)
	}

	by := map[string]int64{}
	for v, c := range raw {
		g, ok := plan.Normalize[corpus.Fold(strings.TrimSpace(v))]
		if !ok {
			by[UnresolvedLabel] += c
			continue
		}
		by[string(g)] += c
	}
	return TableStats{Matching: n, ByGender: by}, nil
}
