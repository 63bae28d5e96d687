// Package audit implements the append-only audit trail the executor writes
// committed assignments to.
//
// Old values are intentionally not retained, only the new value and a
// timestamp, to bound audit size. The on-disk format here is JSON lines;
// the engine only depends on the Recorder interface, so the consuming side
// owns the format.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Entry is one committed assignment.
type Entry struct {
	RunID  string    `json:"run_id"`
	Chunk  int       `json:"chunk"`
	Table  string    `json:"table"`
	Key    any       `json:"key"`
	Column string    `json:"column"`
	Value  string    `json:"value"`
	At     time.Time `json:"at"`
}

// Recorder consumes audit entries. Record is called once per committed
// assignment, after the chunk's transaction has committed, in chunk order.
type Recorder interface {
	Record(e Entry) error
}

// Nop discards all entries.
type Nop struct{}

func (Nop) Record(Entry) error { return nil }

// Writer appends entries to w as JSON lines. Safe for use from a single run;
// the mutex guards against an eventual caller sharing one Writer across
// preview and execute paths.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriter returns a Recorder appending JSON lines to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

func (w *Writer) Record(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(e); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	return nil
}
