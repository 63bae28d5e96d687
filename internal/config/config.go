// Package config loads the YAML run profile the CLI consumes: store
// connection, corpus sources, and the run description.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"namesub/internal/corpus"
	"namesub/internal/engine"
	"namesub/internal/store"
)

// Profile is the top-level YAML document.
type Profile struct {
	Store  StoreConfig  `yaml:"store"`
	Corpus CorpusConfig `yaml:"corpus"`
	Run    RunConfig    `yaml:"run"`

	// AuditPath, when set, appends one JSON line per committed assignment.
	AuditPath string `yaml:"audit"`
}

// StoreConfig selects and connects the backend.
type StoreConfig struct {
	Kind string `yaml:"kind"`
	DSN  string `yaml:"dsn"`
}

// CorpusConfig lists the delimited name source files.
type CorpusConfig struct {
	Sources []string `yaml:"sources"`
}

// FilterConfig is an optional extra row predicate.
type FilterConfig struct {
	Expr string `yaml:"expr"`
	Args []any  `yaml:"args"`
}

// RunConfig mirrors engine.UpdateConfig in YAML form. Target and policy stay
// strings here and are parsed into their domains by UpdateConfig.
type RunConfig struct {
	Table        string       `yaml:"table"`
	KeyColumn    string       `yaml:"key_column"`
	GenderColumn string       `yaml:"gender_column"`
	NameColumns  []string     `yaml:"name_columns"`
	Target       string       `yaml:"target"`
	Groups       []string     `yaml:"groups"`
	Policy       string       `yaml:"policy"`
	Filter       FilterConfig `yaml:"filter"`
	Limit        int          `yaml:"limit"`
	BatchSize    int          `yaml:"batch_size"`
	EmailColumn  string       `yaml:"email_column"`
	FullName     bool         `yaml:"full_name"`
	PreserveNull bool         `yaml:"preserve_null"`
}

// Load reads and decodes a profile. Strict decoding, so a misspelled key
// fails loudly instead of silently running with a default.
func Load(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, fmt.Errorf("open profile: %w", err)
	}
	defer f.Close()

	var p Profile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode profile %s: %w", path, err)
	}

	if p.Store.Kind == "" {
		return Profile{}, fmt.Errorf("profile %s: store.kind is required", path)
	}
	if p.Run.Table == "" {
		return Profile{}, fmt.Errorf("profile %s: run.table is required", path)
	}
	if len(p.Corpus.Sources) == 0 {
		return Profile{}, fmt.Errorf("profile %s: corpus.sources is required", path)
	}
	return p, nil
}

// StoreConfig converts the connection section to the store contract form.
func (p Profile) StoreConfig() store.Config {
	return store.Config{Kind: p.Store.Kind, DSN: p.Store.DSN}
}

// UpdateConfig converts the run section to the engine's form, parsing the
// target and policy labels. Defaults: target both, policy equal.
func (p Profile) UpdateConfig() (engine.UpdateConfig, error) {
	target := engine.TargetBoth
	if p.Run.Target != "" {
		t, err := engine.ParseTargetGender(p.Run.Target)
		if err != nil {
			return engine.UpdateConfig{}, err
		}
		target = t
	}

	policy := corpus.Equal
	if p.Run.Policy != "" {
		pol, err := corpus.ParsePolicy(p.Run.Policy)
		if err != nil {
			return engine.UpdateConfig{}, err
		}
		policy = pol
	}

	return engine.UpdateConfig{
		Table:        p.Run.Table,
		KeyColumn:    p.Run.KeyColumn,
		GenderColumn: p.Run.GenderColumn,
		NameColumns:  p.Run.NameColumns,
		TargetGender: target,
		Groups:       p.Run.Groups,
		Policy:       policy,
		Filter:       store.Predicate{Expr: p.Run.Filter.Expr, Args: p.Run.Filter.Args},
		Limit:        p.Run.Limit,
		BatchSize:    p.Run.BatchSize,
		EmailColumn:  p.Run.EmailColumn,
		FullName:     p.Run.FullName,
		PreserveNull: p.Run.PreserveNull,
	}, nil
}
