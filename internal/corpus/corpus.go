// Package corpus holds the categorized candidate-name collection and the
// distribution selector that draws replacement names from it.
//
// A Corpus is built once at startup from delimited source files and is
// read-only afterwards. All lookups are case-insensitive on group labels;
// labels are case-folded at load time so "Arabic" and "arabic" land in the
// same partition.
package corpus

import (
	"fmt"
	"sort"

	"golang.org/x/text/cases"
)

// Gender is the canonical gender domain of the corpus.
type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// Genders lists the canonical genders in stable order.
var Genders = []Gender{Female, Male}

// Entry is one candidate name. Immutable once loaded. Uniqueness is not
// enforced; the same name may appear under several groups.
type Entry struct {
	Group  string
	Gender Gender
	Name   string
}

// Corpus is the immutable, gender-partitioned, group-tagged name collection.
type Corpus struct {
	// byGender[gender][foldedGroup] -> names in source order.
	byGender map[Gender]map[string][]string

	// groupLabel maps folded group to the first label seen in the sources,
	// preserved for display.
	groupLabel map[string]string
}

// Fold case-normalizes a label for lookups and partitioning.
func Fold(s string) string { return cases.Fold().String(s) }

func newCorpus() *Corpus {
	return &Corpus{
		byGender: map[Gender]map[string][]string{
			Female: {},
			Male:   {},
		},
		groupLabel: map[string]string{},
	}
}

func (c *Corpus) add(e Entry) {
	g := Fold(e.Group)
	if _, seen := c.groupLabel[g]; !seen {
		c.groupLabel[g] = e.Group
	}
	part := c.byGender[e.Gender]
	part[g] = append(part[g], e.Name)
}

// Len returns the number of names loaded for a gender across all groups.
func (c *Corpus) Len(gender Gender) int {
	n := 0
	for _, names := range c.byGender[gender] {
		n += len(names)
	}
	return n
}

// Groups returns the display labels of all groups with at least one entry
// for the gender, sorted for deterministic output.
func (c *Corpus) Groups(gender Gender) []string {
	part := c.byGender[gender]
	out := make([]string, 0, len(part))
	for g := range part {
		out = append(out, c.groupLabel[g])
	}
	sort.Strings(out)
	return out
}

// HasGroup reports whether the group has at least one entry for the gender.
// The lookup is case-insensitive.
func (c *Corpus) HasGroup(gender Gender, group string) bool {
	return len(c.byGender[gender][Fold(group)]) > 0
}

// names returns the name slice for a folded group, or nil.
func (c *Corpus) names(gender Gender, foldedGroup string) []string {
	return c.byGender[gender][foldedGroup]
}

// ParseGender maps a canonical gender label ("male"/"female", any case) to
// the Gender domain.
func ParseGender(s string) (Gender, error) {
	switch Fold(s) {
	case "male":
		return Male, nil
	case "female":
		return Female, nil
	}
	return "", fmt.Errorf("unknown gender %q", s)
}
