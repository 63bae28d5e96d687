// Package engine implements the name substitution engine: planning a run
// from a validated configuration, executing it as chunked transactional
// updates, and previewing it without writes.
package engine

import (
	"fmt"
	"regexp"
	"strings"

	"namesub/internal/corpus"
	"namesub/internal/store"
)

// TargetGender selects which rows a run touches.
type TargetGender string

const (
	TargetMale   TargetGender = "male"
	TargetFemale TargetGender = "female"
	TargetBoth   TargetGender = "both"
)

// ParseTargetGender maps a label (any case) to the TargetGender domain.
func ParseTargetGender(s string) (TargetGender, error) {
	switch corpus.Fold(s) {
	case "male":
		return TargetMale, nil
	case "female":
		return TargetFemale, nil
	case "both":
		return TargetBoth, nil
	}
	return "", fmt.Errorf("unknown target gender %q", s)
}

// DefaultBatchSize is the chunk size used when the config does not set one.
const DefaultBatchSize = 1000

// UpdateConfig describes one run. It is validated once, eagerly, by
// BuildPlan; nothing deeper in the pipeline re-validates it piecemeal.
type UpdateConfig struct {
	Table        string
	KeyColumn    string // primary key; defaults to "id"
	GenderColumn string
	NameColumns  []string
	TargetGender TargetGender
	Groups       []string      // {"all"} or a subset of known group labels
	Policy       corpus.Policy // equal | proportional

	// Filter is an optional additional row predicate. Expr must pass the
	// safety check below; values travel in Args, never in Expr.
	Filter store.Predicate

	Limit     int // 0 = no limit
	BatchSize int // 0 = DefaultBatchSize
	DryRun    bool

	// EmailColumn, when set, also receives an address derived from the
	// row's first generated name.
	EmailColumn string

	// FullName switches generated values to "First Last" form, drawn as two
	// independent picks.
	FullName bool

	// PreserveNull skips cells that are currently NULL instead of filling
	// them. Note this relaxes the exact updated/skipped partition: a row may
	// be updated in some columns and preserved in others.
	PreserveNull bool
}

// ConfigError collects everything wrong with an UpdateConfig. It is fatal
// for the run and is raised before any store access.
type ConfigError struct {
	Issues []string
}

func (e *ConfigError) Error() string {
	return "config: " + strings.Join(e.Issues, "; ")
}

// identRe matches safe SQL identifiers: alphanumeric plus underscore, max 64
// chars. Identifiers passing it are embedded unquoted in generated SQL.
var identRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

// filterDenylist blocks statement-terminator and comment-injection sequences
// in filter predicates. Parameter binding is the primary safety mechanism;
// this is a defense-in-depth secondary layer.
var filterDenylist = []*regexp.Regexp{
	regexp.MustCompile(`;\s*drop\s`),
	regexp.MustCompile(`;\s*delete\s`),
	regexp.MustCompile(`;\s*truncate\s`),
	regexp.MustCompile(`;\s*alter\s`),
	regexp.MustCompile(`;\s*create\s`),
	regexp.MustCompile(`;\s*insert\s`),
	regexp.MustCompile(`;\s*update\s`),
	regexp.MustCompile(`--`),
	regexp.MustCompile(`/\*`),
	regexp.MustCompile(`\*/`),
	regexp.MustCompile(`\bxp_`),
	regexp.MustCompile(`\bsp_`),
}

// ValidIdent reports whether s is a safe SQL identifier.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// SafeFilterExpr reports whether a filter expression passes the denylist.
// An empty expression is trivially safe.
func SafeFilterExpr(expr string) bool {
	lc := strings.ToLower(expr)
	for _, re := range filterDenylist {
		if re.MatchString(lc) {
			return false
		}
	}
	return true
}

// validate checks the config against structural rules and the corpus. A nil
// return means the config is accepted as-is.
func (c UpdateConfig) validate(corp *corpus.Corpus) *ConfigError {
	var issues []string

	if !ValidIdent(c.Table) {
		issues = append(issues, fmt.Sprintf("invalid table name %q", c.Table))
	}
	if !ValidIdent(c.KeyColumn) {
		issues = append(issues, fmt.Sprintf("invalid key column %q", c.KeyColumn))
	}
	if !ValidIdent(c.GenderColumn) {
		issues = append(issues, fmt.Sprintf("invalid gender column %q", c.GenderColumn))
	}
	if len(c.NameColumns) == 0 {
		issues = append(issues, "at least one name column is required")
	}
	for _, col := range c.NameColumns {
		if !ValidIdent(col) {
			issues = append(issues, fmt.Sprintf("invalid name column %q", col))
		}
	}
	if c.EmailColumn != "" && !ValidIdent(c.EmailColumn) {
		issues = append(issues, fmt.Sprintf("invalid email column %q", c.EmailColumn))
	}

	switch c.TargetGender {
	case TargetMale, TargetFemale, TargetBoth:
	default:
		issues = append(issues, fmt.Sprintf("invalid target gender %q", c.TargetGender))
	}

	switch c.Policy {
	case corpus.Equal, corpus.Proportional:
	default:
		issues = append(issues, fmt.Sprintf("invalid distribution policy %q", c.Policy))
	}

	if len(c.Groups) == 0 {
		issues = append(issues, "group selection must not be empty")
	}

	if !SafeFilterExpr(c.Filter.Expr) {
		issues = append(issues, "filter predicate contains a blocked sequence")
	}

	if c.Limit < 0 {
		issues = append(issues, "row limit must not be negative")
	}
	if c.BatchSize < 0 {
		issues = append(issues, "batch size must not be negative")
	}

	// The gender filter and group selection must resolve to a non-empty
	// corpus subset for every gender the run can touch.
	if corp != nil && len(c.Groups) > 0 {
		for _, g := range c.targetGenders() {
			if !groupsHaveCandidates(corp, g, c.Groups) {
				issues = append(issues, fmt.Sprintf("no %s names in selected groups", g))
			}
		}
	}

	if len(issues) > 0 {
		return &ConfigError{Issues: issues}
	}
	return nil
}

// targetGenders lists the canonical genders the run can generate names for.
func (c UpdateConfig) targetGenders() []corpus.Gender {
	switch c.TargetGender {
	case TargetMale:
		return []corpus.Gender{corpus.Male}
	case TargetFemale:
		return []corpus.Gender{corpus.Female}
	default:
		return corpus.Genders
	}
}

func groupsHaveCandidates(corp *corpus.Corpus, gender corpus.Gender, groups []string) bool {
	for _, g := range groups {
		if corpus.Fold(g) == corpus.GroupAll {
			return corp.Len(gender) > 0
		}
	}
	for _, g := range groups {
		if corp.HasGroup(gender, g) {
			return true
		}
	}
	return false
}
