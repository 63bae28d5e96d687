package corpus

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadError reports a malformed or unusable name source. It is fatal at
// startup: no run may proceed without a loadable corpus.
type LoadError struct {
	Source string
	Line   int
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("corpus: %s:%d: %s", e.Source, e.Line, e.Reason)
	}
	return fmt.Sprintf("corpus: %s: %s", e.Source, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Source is one tabular name source: delimited group,gender,name records
// with a required header row, UTF-8.
type Source struct {
	// Name identifies the source in errors (usually the file path).
	Name string
	// Reader supplies the records. The loader does not close it.
	Reader io.Reader
}

// FileSource opens a source from a file path. The returned closer must be
// closed by the caller after Load returns.
func FileSource(path string) (Source, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return Source{}, nil, &LoadError{Source: path, Reason: "open source", Err: err}
	}
	return Source{Name: path, Reader: f}, f, nil
}

// Load builds a Corpus from one or more sources.
//
// Each source must carry a header naming (at least) the group, gender, and
// name fields; header matching is case-insensitive and order-independent.
// Records with a missing field or an unrecognized gender token fail loading
// outright: a broken corpus is a configuration fault, not something to skip
// past.
//
// After all sources are read, every canonical gender must have at least one
// name; an empty partition fails with a LoadError.
func Load(sources ...Source) (*Corpus, error) {
	if len(sources) == 0 {
		return nil, &LoadError{Source: "(none)", Reason: "no name sources configured"}
	}

	c := newCorpus()
	for _, src := range sources {
		if err := loadOne(c, src); err != nil {
			return nil, err
		}
	}

	for _, g := range Genders {
		if c.Len(g) == 0 {
			return nil, &LoadError{
				Source: sources[0].Name,
				Reason: fmt.Sprintf("no %s names loaded from any source", g),
			}
		}
	}
	return c, nil
}

func loadOne(c *Corpus, src Source) error {
	cr := csv.NewReader(src.Reader)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	line := 0
	read := func() ([]string, error) {
		line++
		return cr.Read()
	}

	hdr, err := read()
	if err != nil {
		if err == io.EOF {
			return &LoadError{Source: src.Name, Line: line, Reason: "empty source, header row required"}
		}
		return &LoadError{Source: src.Name, Line: line, Reason: "read header", Err: err}
	}

	groupIx, genderIx, nameIx := -1, -1, -1
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		switch Fold(h) {
		case "group":
			groupIx = i
		case "gender":
			genderIx = i
		case "name":
			nameIx = i
		}
	}
	if groupIx < 0 || genderIx < 0 || nameIx < 0 {
		return &LoadError{
			Source: src.Name,
			Line:   line,
			Reason: fmt.Sprintf("header must name group, gender and name fields, got %v", hdr),
		}
	}

	for {
		rec, err := read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &LoadError{Source: src.Name, Line: line, Reason: "read record", Err: err}
		}

		max := groupIx
		if genderIx > max {
			max = genderIx
		}
		if nameIx > max {
			max = nameIx
		}
		if len(rec) <= max {
			return &LoadError{Source: src.Name, Line: line, Reason: fmt.Sprintf("record has %d fields, need %d", len(rec), max+1)}
		}

		group := strings.TrimSpace(rec[groupIx])
		name := strings.TrimSpace(rec[nameIx])
		if group == "" || name == "" {
			return &LoadError{Source: src.Name, Line: line, Reason: "empty group or name field"}
		}

		gender, err := ParseGender(strings.TrimSpace(rec[genderIx]))
		if err != nil {
			return &LoadError{Source: src.Name, Line: line, Reason: err.Error()}
		}

		c.add(Entry{Group: group, Gender: gender, Name: name})
	}
}
