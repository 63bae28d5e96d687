// Package metrics is a tiny metrics facade. Engine code records counters and
// histograms against whatever Backend is installed; the default backend is a
// nop, so library code never pays for metrics that nobody is collecting.
package metrics

import "sync/atomic"

// Labels are metric dimension tags.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

// holder gives atomic.Value a single concrete type to store; storing
// backends directly would panic on the first type change.
type holder struct{ b Backend }

var backend atomic.Value // of holder

func init() { backend.Store(holder{nopBackend{}}) }

// SetBackend installs the process-wide backend. Call once at startup.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	backend.Store(holder{b})
}

func current() Backend { return backend.Load().(holder).b }

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush forces the backend to submit buffered observations.
func Flush() error { return current().Flush() }
