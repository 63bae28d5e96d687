package engine

import (
	"fmt"
	"strings"

	"namesub/internal/corpus"
	"namesub/internal/discover"
	"namesub/internal/store"
)

// genderTokens maps every recognized raw gender cell value, case-folded, to
// its canonical gender. Values outside this vocabulary are never defaulted;
// their rows are skipped and counted.
var genderTokens = map[string]corpus.Gender{
	"m":      corpus.Male,
	"male":   corpus.Male,
	"man":    corpus.Male,
	"1":      corpus.Male,
	"f":      corpus.Female,
	"female": corpus.Female,
	"woman":  corpus.Female,
	"2":      corpus.Female,
}

// tokensFor returns the raw tokens that normalize to the gender, sorted into
// a stable order for deterministic SQL.
func tokensFor(g corpus.Gender) []string {
	switch g {
	case corpus.Male:
		return []string{"1", "m", "male", "man"}
	case corpus.Female:
		return []string{"2", "f", "female", "woman"}
	}
	return nil
}

// Plan is a fully validated, ready-to-execute description of a run. Built
// once by BuildPlan; the executor and previewer consume it read-only.
type Plan struct {
	Table        string
	KeyColumn    string
	GenderColumn string
	NameColumns  []string
	EmailColumn  string

	Target TargetGender
	Groups []string
	Policy corpus.Policy

	FullName     bool
	PreserveNull bool
	DryRun       bool

	Limit     int
	BatchSize int

	// Where is the combined row predicate: the gender token filter when the
	// target is a single gender, ANDed with the user filter when present.
	Where store.Predicate

	// Normalize maps folded raw gender cell values to canonical genders.
	Normalize map[string]corpus.Gender
}

// fetchColumns lists the value columns a chunk fetch must return, name
// columns first, then the email column when the run fills one.
func (p Plan) fetchColumns() []string {
	cols := make([]string, 0, len(p.NameColumns)+1)
	cols = append(cols, p.NameColumns...)
	if p.EmailColumn != "" {
		cols = append(cols, p.EmailColumn)
	}
	return cols
}

// chunkQuery builds the keyset fetch for the rows after the cursor.
func (p Plan) chunkQuery(afterKey any, limit int) store.ChunkQuery {
	return store.ChunkQuery{
		Table:        p.Table,
		KeyColumn:    p.KeyColumn,
		GenderColumn: p.GenderColumn,
		NameColumns:  p.fetchColumns(),
		Where:        p.Where,
		AfterKey:     afterKey,
		Limit:        limit,
	}
}

// BuildPlan validates the config against the corpus, merges in discovery
// results where the config leaves columns unset, and compiles the row
// predicate. Discovery never overrides an explicit config value.
//
// disc may be the zero Result when discovery was not run; the config must
// then name the columns itself.
func BuildPlan(corp *corpus.Corpus, cfg UpdateConfig, disc discover.Result) (Plan, error) {
	if cfg.KeyColumn == "" {
		cfg.KeyColumn = "id"
	}
	if cfg.GenderColumn == "" && len(disc.GenderCandidates) > 0 {
		cfg.GenderColumn = disc.GenderCandidates[0]
	}
	if len(cfg.NameColumns) == 0 && len(disc.NameCandidates) > 0 {
		cfg.NameColumns = append(cfg.NameColumns, disc.NameCandidates...)
	}
	if len(cfg.Groups) == 0 {
		cfg.Groups = []string{corpus.GroupAll}
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	if err := cfg.validate(corp); err != nil {
		return Plan{}, err
	}

	p := Plan{
		Table:        cfg.Table,
		KeyColumn:    cfg.KeyColumn,
		GenderColumn: cfg.GenderColumn,
		NameColumns:  cfg.NameColumns,
		EmailColumn:  cfg.EmailColumn,
		Target:       cfg.TargetGender,
		Groups:       cfg.Groups,
		Policy:       cfg.Policy,
		FullName:     cfg.FullName,
		PreserveNull: cfg.PreserveNull,
		DryRun:       cfg.DryRun,
		Limit:        cfg.Limit,
		BatchSize:    cfg.BatchSize,
		Normalize:    genderTokens,
	}
	p.Where = buildWhere(cfg)
	return p, nil
}

// buildWhere compiles the gender token filter and the user filter into one
// parameterized predicate. Column names were already identifier-checked, so
// embedding them unquoted is portable across backends.
func buildWhere(cfg UpdateConfig) store.Predicate {
	var (
		parts []string
		args  []any
	)

	if cfg.TargetGender != TargetBoth {
		g := corpus.Male
		if cfg.TargetGender == TargetFemale {
			g = corpus.Female
		}
		tokens := tokensFor(g)
		ph := strings.TrimSuffix(strings.Repeat("?, ", len(tokens)), ", ")
		// CAST AS CHAR is the one text cast every backend accepts, and it
		// keeps lower() legal when the gender column is integer-encoded.
		parts = append(parts, fmt.Sprintf("lower(CAST(%s AS CHAR(16))) IN (%s)", cfg.GenderColumn, ph))
		for _, t := range tokens {
			args = append(args, t)
		}
	}

	if cfg.Filter.Expr != "" {
		parts = append(parts, "("+cfg.Filter.Expr+")")
		args = append(args, cfg.Filter.Args...)
	}

	return store.Predicate{Expr: strings.Join(parts, " AND "), Args: args}
}

// normalizeGender resolves a raw gender cell to the canonical domain. The
// second return is false for NULL cells and values outside the vocabulary.
func (p Plan) normalizeGender(raw any) (corpus.Gender, bool) {
	if raw == nil {
		return "", false
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		s = fmt.Sprintf("%d", v)
	default:
		s = fmt.Sprintf("%v", v)
	}
	g, ok := p.Normalize[corpus.Fold(strings.TrimSpace(s))]
	if !ok {
		return "", false
	}
	if p.Target == TargetMale && g != corpus.Male {
		return "", false
	}
	if p.Target == TargetFemale && g != corpus.Female {
		return "", false
	}
	return g, true
}
