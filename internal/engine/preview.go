package engine

import (
	"context"
	"fmt"
)

// PreviewRow is one proposed cell change.
type PreviewRow struct {
	Key    any
	Column string
	Old    any
	New    string
}

// DefaultPreviewSize bounds a preview when the caller does not set one.
const DefaultPreviewSize = 10

// Preview returns the changes the plan would make to the first sampleSize
// matching rows, without writing anything. Rows whose gender does not
// resolve are omitted, mirroring what a run would skip.
//
// Previewed values are fresh draws from the selector, so a subsequent Run
// generates its own values; the preview shows the shape of the change, not
// the exact future values.
func (e *Executor) Preview(ctx context.Context, plan Plan, sampleSize int) ([]PreviewRow, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultPreviewSize
	}

	rows, err := e.st.FetchChunk(ctx, plan.chunkQuery(nil, sampleSize))
	if err != nil {
		return nil, fmt.Errorf("preview fetch: %w", err)
	}

	var out []PreviewRow
	for _, r := range rows {
		g, ok := plan.normalizeGender(r.Gender)
		if !ok {
			continue
		}
		firstName := ""
		for i, col := range plan.NameColumns {
			if plan.PreserveNull && r.Names[i] == nil {
				continue
			}
			name, err := e.pickValue(g, plan)
			if err != nil {
				return nil, err
			}
			if firstName == "" {
				firstName = name
			}
			out = append(out, PreviewRow{Key: r.Key, Column: col, Old: r.Names[i], New: name})
		}
		if plan.EmailColumn != "" && firstName != "" {
			old := r.Names[len(plan.NameColumns)]
			if !(plan.PreserveNull && old == nil) {
				out = append(out, PreviewRow{
					Key:    r.Key,
					Column: plan.EmailColumn,
					Old:    old,
					New:    emailFor(firstName, e.rng),
				})
			}
		}
	}
	return out, nil
}
