package corpus

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// Policy is the rule governing selection probability across groups.
type Policy string

const (
	// Equal picks a group uniformly among the allowed groups that have at
	// least one entry for the gender, then a name uniformly within that
	// group. Small groups get the same representation as large ones.
	Equal Policy = "equal"

	// Proportional picks uniformly from the flattened pool of all allowed
	// names; groups with more entries are proportionally more likely.
	Proportional Policy = "proportional"
)

// ParsePolicy maps a policy label (any case) to the Policy domain.
func ParsePolicy(s string) (Policy, error) {
	switch Fold(s) {
	case "equal":
		return Equal, nil
	case "proportional":
		return Proportional, nil
	}
	return "", fmt.Errorf("unknown distribution policy %q", s)
}

// GroupAll is the sentinel group selection meaning "every group".
const GroupAll = "all"

// SelectionError reports that a gender/group combination yields no
// candidate names. Fatal for the run that requested it.
type SelectionError struct {
	Gender Gender
	Groups []string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("corpus: no candidate names for gender=%s groups=[%s]",
		e.Gender, strings.Join(e.Groups, ", "))
}

// Selector draws names from a corpus under a distribution policy. It is
// stateless apart from the corpus and safe for sequential reuse; the random
// source is passed per call so selection is reproducible under test.
type Selector struct {
	c *Corpus
}

// NewSelector returns a selector over the corpus.
func NewSelector(c *Corpus) *Selector { return &Selector{c: c} }

// candidateGroups resolves the allowed-group selection to the folded group
// keys that have at least one entry for the gender, sorted so draws under a
// fixed seed are deterministic.
func (s *Selector) candidateGroups(gender Gender, groups []string) []string {
	all := len(groups) == 0
	for _, g := range groups {
		if Fold(g) == GroupAll {
			all = true
			break
		}
	}

	var keys []string
	if all {
		for g, names := range s.c.byGender[gender] {
			if len(names) > 0 {
				keys = append(keys, g)
			}
		}
	} else {
		seen := make(map[string]bool, len(groups))
		for _, g := range groups {
			fg := Fold(g)
			if seen[fg] {
				continue
			}
			seen[fg] = true
			if len(s.c.byGender[gender][fg]) > 0 {
				keys = append(keys, fg)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// Pick returns one name for the gender from the allowed groups under the
// policy, using rng as the only source of randomness.
//
// groups is either {"all"} (or empty, treated the same) or a subset of known
// group labels, case-insensitive. Pick fails with a *SelectionError when the
// resulting candidate set is empty, for example when every requested group
// has no entries for the gender.
func (s *Selector) Pick(gender Gender, groups []string, policy Policy, rng *rand.Rand) (string, error) {
	keys := s.candidateGroups(gender, groups)
	if len(keys) == 0 {
		return "", &SelectionError{Gender: gender, Groups: groups}
	}

	switch policy {
	case Equal:
		g := keys[rng.Intn(len(keys))]
		names := s.c.names(gender, g)
		return names[rng.Intn(len(names))], nil

	case Proportional:
		total := 0
		for _, g := range keys {
			total += len(s.c.names(gender, g))
		}
		n := rng.Intn(total)
		for _, g := range keys {
			names := s.c.names(gender, g)
			if n < len(names) {
				return names[n], nil
			}
			n -= len(names)
		}
		// Unreachable: n < total by construction.
		return "", &SelectionError{Gender: gender, Groups: groups}

	default:
		return "", fmt.Errorf("corpus: unknown policy %q", policy)
	}
}
