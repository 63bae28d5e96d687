// Package store defines the backend-agnostic data access contract for the
// name substitution engine, plus the factory registry backends attach to.
//
// The interface is intentionally minimal and focused on the operations the
// engine needs. Each backend implements these semantics in its own idiomatic
// way (quoting style, placeholder style, transient-error taxonomy).
package store

import (
	"context"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to open a store.
//
// Kind must match a registered backend kind ("sqlite", "mysql", "postgres",
// "mssql"). DSN is passed through to the backend factory; validation is
// backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// ColumnMeta describes one column of a table, as reported by the backend's
// catalog. DataType is the backend's declared type, lowercased (for example
// "varchar(64)", "enum('m','f')", "text", "tinyint").
type ColumnMeta struct {
	Name     string
	DataType string
	Nullable bool
}

// Sample is a bounded, read-only sample of rows aligned to a column order.
type Sample struct {
	Columns []string
	Rows    [][]any
}

// Predicate is a parameterized row-selection clause. Expr uses '?' style
// placeholders regardless of backend; each backend rewrites them to its
// native form before execution. Expr must never be built from untrusted
// values; values travel in Args.
type Predicate struct {
	Expr string
	Args []any
}

// Empty reports whether the predicate selects all rows.
func (p Predicate) Empty() bool { return p.Expr == "" }

// ChunkQuery selects one bounded chunk of rows for the executor.
//
// Rows are returned ordered by KeyColumn ascending. AfterKey, when non-nil,
// restricts the chunk to rows with a key strictly greater than it, so
// consecutive chunks never overlap or skip rows even when the backend's
// default ordering is undefined.
type ChunkQuery struct {
	Table        string
	KeyColumn    string
	GenderColumn string
	NameColumns  []string
	Where        Predicate
	AfterKey     any
	Limit        int
}

// Row is one fetched row target: its stable key, the raw gender value, and
// the current values of the configured name columns (aligned to
// ChunkQuery.NameColumns).
type Row struct {
	Key    any
	Gender any
	Names  []any
}

// Assignment is one cell write: set Column to Value on the row identified by
// Key. Values are always parameter-bound by the backend, never interpolated.
type Assignment struct {
	Key    any
	Column string
	Value  string
}

// Store is the data access surface consumed by the engine.
//
// IMPORTANT: ApplyAssignments must apply the whole slice as a single
// transaction; a failure must leave none of its writes visible.
type Store interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// TableColumns returns column metadata for a table. It is the only
	// operation expected to fail when the table does not exist.
	TableColumns(ctx context.Context, table string) ([]ColumnMeta, error)

	// SampleRows returns up to limit rows of the named columns, in no
	// particular order. Used by discovery; never used for writes.
	SampleRows(ctx context.Context, table string, columns []string, limit int) (Sample, error)

	// FetchChunk returns the next bounded chunk of matching rows, ordered by
	// the key column ascending.
	FetchChunk(ctx context.Context, q ChunkQuery) ([]Row, error)

	// ApplyAssignments commits a chunk's assignments as one transaction.
	ApplyAssignments(ctx context.Context, table, keyColumn string, assigns []Assignment) error

	// CountMatching returns the number of rows the predicate selects.
	CountMatching(ctx context.Context, table string, where Predicate) (int64, error)

	// GroupCount returns the distribution of values in one column over the
	// rows the predicate selects, keyed by the value's string form.
	GroupCount(ctx context.Context, table, column string, where Predicate) (map[string]int64, error)

	// Transient reports whether an error from this store is worth retrying
	// (lock contention, deadlock victim, busy database).
	Transient(err error) bool
}

// ---- factory registry (one backend kind per driver package) ----

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu     sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind. Called from backend init()
// functions. Registering the same kind twice panics, to fail fast on
// ambiguous backend selection.
func Register(kind string, f factory) {
	regMu.Lock()
	defer regMu.Unlock()

	if kind == "" {
		panic("store: Register called with empty kind")
	}
	if f == nil {
		panic("store: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("store: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Open constructs a Store using the registered backend factory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("store: missing Kind")
	}

	regMu.RLock()
	f := factories[cfg.Kind]
	regMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported store kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
