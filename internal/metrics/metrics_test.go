package metrics

import "testing"

type captureBackend struct {
	counters   map[string]float64
	histograms map[string][]float64
	flushed    int
}

func newCaptureBackend() *captureBackend {
	return &captureBackend{counters: map[string]float64{}, histograms: map[string][]float64{}}
}

func (c *captureBackend) IncCounter(name string, delta float64, _ Labels) {
	c.counters[name] += delta
}

func (c *captureBackend) ObserveHistogram(name string, value float64, _ Labels) {
	c.histograms[name] = append(c.histograms[name], value)
}

func (c *captureBackend) Flush() error {
	c.flushed++
	return nil
}

func TestPackageFunctions_ForwardToBackend(t *testing.T) {
	cb := newCaptureBackend()
	SetBackend(cb)
	t.Cleanup(func() { SetBackend(nil) })

	IncCounter("rows", 3, Labels{"kind": "updated"})
	IncCounter("rows", 2, nil)
	ObserveHistogram("dur", 0.5, nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if cb.counters["rows"] != 5 {
		t.Fatalf("counter = %v, want 5", cb.counters["rows"])
	}
	if len(cb.histograms["dur"]) != 1 {
		t.Fatalf("histogram samples = %d, want 1", len(cb.histograms["dur"]))
	}
	if cb.flushed != 1 {
		t.Fatalf("flushes = %d, want 1", cb.flushed)
	}
}

func TestSetBackendNil_RestoresNop(t *testing.T) {
	SetBackend(nil)
	// Must not panic and must swallow everything.
	IncCounter("rows", 1, nil)
	ObserveHistogram("dur", 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush on nop: %v", err)
	}
}
