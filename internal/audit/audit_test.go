package audit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestWriter_AppendsOneJSONLinePerEntry(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)

	entries := []Entry{
		{RunID: "r1", Chunk: 0, Table: "customers", Key: int64(1), Column: "first_name", Value: "Fatima", At: time.Unix(100, 0).UTC()},
		{RunID: "r1", Chunk: 0, Table: "customers", Key: int64(2), Column: "first_name", Value: "James", At: time.Unix(101, 0).UTC()},
	}
	for _, e := range entries {
		if err := w.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var got Entry
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RunID != "r1" || got.Column != "first_name" || got.Value != "James" {
		t.Fatalf("decoded entry = %+v", got)
	}
	if !strings.Contains(lines[0], `"run_id":"r1"`) {
		t.Fatalf("line missing snake_case keys: %s", lines[0])
	}
}

func TestNop_DiscardsSilently(t *testing.T) {
	t.Parallel()

	var r Recorder = Nop{}
	if err := r.Record(Entry{RunID: "x"}); err != nil {
		t.Fatalf("Nop.Record: %v", err)
	}
}
