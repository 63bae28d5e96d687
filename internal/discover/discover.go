// Package discover implements heuristic identification of gender and name
// columns from table metadata and a bounded sample of rows.
//
// Design constraints:
//   - Sampling is bounded; discovery never reads the full table.
//   - All inference is best-effort and advisory. An empty result is valid;
//     the caller confirms or overrides candidates before anything runs.
//   - Discovery fails only when metadata itself cannot be read (table
//     missing, connection refused), never on absence of candidates.
package discover

import (
	"context"
	"fmt"
	"strings"

	"namesub/internal/corpus"
	"namesub/internal/store"
)

// Error reports an inability to read table metadata. Fatal for the run that
// requested discovery; no partial state is created.
type Error struct {
	Table string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("discover: table %s: %v", e.Table, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result holds the proposed candidates. Both lists preserve the table's
// column order. Either may be empty.
type Result struct {
	GenderCandidates []string
	NameCandidates   []string
}

// genderTokens is the known gender-token vocabulary, folded. A column whose
// observed distinct sample values all fall inside it (covering at least two
// tokens) is a gender candidate.
var genderTokens = map[string]bool{
	"m": true, "f": true,
	"male": true, "female": true,
	"man": true, "woman": true,
	"1": true, "2": true,
}

// nameKeywords are lexical signals that a column holds person names. Best
// effort, not proof; the list mirrors common schema conventions across a few
// languages.
var nameKeywords = []string{
	"name", "first", "last", "fname", "lname",
	"firstname", "lastname", "nombre", "apellido", "nom", "prenom",
}

// genderColumnTypes are declared-type fragments acceptable for a gender
// column: small enumerated/string types and small ints.
var genderColumnTypes = []string{"varchar", "char", "enum", "tinyint", "int", "text"}

// nameColumnTypes are declared-type fragments acceptable for a name column:
// variable-length string types only.
var nameColumnTypes = []string{"varchar", "char", "text", "tinytext", "mediumtext", "nvarchar"}

// MinSampleTokens is the minimum number of distinct in-vocabulary values a
// column must show before it is proposed as a gender candidate. One token is
// indistinguishable from a constant flag column.
const MinSampleTokens = 2

// Inspect fetches a table's column metadata and a bounded row sample from
// the store, then runs Discover on them.
//
// Errors:
//   - Returns a *Error if metadata cannot be read.
//   - A sample fetch failure is also fatal here: without sample values the
//     gender heuristic cannot run, and the caller asked for discovery.
func Inspect(ctx context.Context, st store.Store, table string, sampleLimit int) (Result, error) {
	if sampleLimit <= 0 {
		sampleLimit = 50
	}

	cols, err := st.TableColumns(ctx, table)
	if err != nil {
		return Result{}, &Error{Table: table, Err: err}
	}

	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}

	sample, err := st.SampleRows(ctx, table, names, sampleLimit)
	if err != nil {
		return Result{}, &Error{Table: table, Err: fmt.Errorf("sample rows: %w", err)}
	}

	return Discover(cols, sample), nil
}

// Discover proposes gender and name column candidates from metadata and a
// row sample. Pure; never fails.
func Discover(cols []store.ColumnMeta, sample store.Sample) Result {
	colIx := make(map[string]int, len(sample.Columns))
	for i, c := range sample.Columns {
		colIx[c] = i
	}

	var res Result
	for _, c := range cols {
		declared := strings.ToLower(c.DataType)

		if typeMatches(declared, genderColumnTypes) {
			if ix, ok := colIx[c.Name]; ok && isGenderSample(sample.Rows, ix) {
				res.GenderCandidates = append(res.GenderCandidates, c.Name)
			}
		}

		if typeMatches(declared, nameColumnTypes) && hasNameKeyword(c.Name) {
			res.NameCandidates = append(res.NameCandidates, c.Name)
		}
	}
	return res
}

func typeMatches(declared string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(declared, f) {
			return true
		}
	}
	return false
}

func hasNameKeyword(column string) bool {
	lc := strings.ToLower(column)
	for _, kw := range nameKeywords {
		if strings.Contains(lc, kw) {
			return true
		}
	}
	return false
}

// isGenderSample checks that the column's observed distinct values, folded,
// form a subset of the gender-token vocabulary covering at least
// MinSampleTokens tokens. NULL and empty values are ignored.
func isGenderSample(rows [][]any, ix int) bool {
	distinct := map[string]bool{}
	for _, r := range rows {
		if ix >= len(r) || r[ix] == nil {
			continue
		}
		v := corpus.Fold(strings.TrimSpace(stringify(r[ix])))
		if v == "" {
			continue
		}
		if !genderTokens[v] {
			return false
		}
		distinct[v] = true
	}
	return len(distinct) >= MinSampleTokens
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
