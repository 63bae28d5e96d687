package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"namesub/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func newTestBackend(t *testing.T, fake *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:    "namesub_test",
		FlushEvery: time.Hour, // the loop never ticks during a test
		submitter:  fake,
		now:        func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// TestResolveEnvTag verifies environment-tag precedence and defaults.
func TestResolveEnvTag(t *testing.T) {
	oldENV := os.Getenv("ENV")
	oldDDENV := os.Getenv("DD_ENV")
	t.Cleanup(func() {
		_ = os.Setenv("ENV", oldENV)
		_ = os.Setenv("DD_ENV", oldDDENV)
	})

	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_ = os.Setenv("ENV", tc.env)
			_ = os.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestFlush_EmptyBuffersSubmitNothing(t *testing.T) {
	fake := &fakeSubmitter{}
	b := newTestBackend(t, fake)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fake.count() != 0 {
		t.Fatalf("payloads = %d, want 0 for empty buffers", fake.count())
	}
}

func TestFlush_SubmitsAggregatedCounters(t *testing.T) {
	fake := &fakeSubmitter{}
	b := newTestBackend(t, fake)

	b.IncCounter("namesub_rows_total", 4, metrics.Labels{"kind": "updated"})
	b.IncCounter("namesub_rows_total", 2, metrics.Labels{"kind": "updated"})
	b.IncCounter("namesub_rows_total", 1, metrics.Labels{"kind": "skipped"})
	b.IncCounter("namesub_chunks_total", 1, metrics.Labels{"status": "ok"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	payload, ok := fake.last()
	if !ok {
		t.Fatal("no payload submitted")
	}

	byMetric := map[string]datadogV2.MetricSeries{}
	for _, s := range payload.Series {
		byMetric[s.Metric+"|"+strings.Join(s.Tags, ",")] = s
	}

	found := false
	for key, s := range byMetric {
		if strings.HasPrefix(key, "namesub.rows.total|") && strings.Contains(key, "kind:updated") {
			found = true
			if got := *s.Points[0].Value; got != 6 {
				t.Fatalf("updated count = %v, want 6 (aggregated)", got)
			}
			if !tagPresent(s.Tags, "job:namesub_test") {
				t.Fatalf("series missing job tag: %v", s.Tags)
			}
		}
	}
	if !found {
		t.Fatalf("no namesub.rows.total kind:updated series in %v", metricNames(payload))
	}
}

func TestFlush_ResetsBuffers(t *testing.T) {
	fake := &fakeSubmitter{}
	b := newTestBackend(t, fake)

	b.IncCounter("namesub_rows_total", 1, metrics.Labels{"kind": "scanned"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if fake.count() != 1 {
		t.Fatalf("payloads = %d, want 1 (second flush had nothing)", fake.count())
	}
}

func TestBuildSeries_HistogramPercentiles(t *testing.T) {
	fake := &fakeSubmitter{}
	b := newTestBackend(t, fake)

	for _, v := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		b.ObserveHistogram("namesub_chunk_duration_seconds", v, metrics.Labels{"status": "ok"})
	}
	b.ObserveHistogram("namesub_run_duration_seconds", 12.5, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	payload, ok := fake.last()
	if !ok {
		t.Fatal("no payload submitted")
	}

	names := metricNames(payload)
	for _, want := range []string{
		"namesub.chunk.duration_seconds.p50",
		"namesub.chunk.duration_seconds.p90",
		"namesub.chunk.duration_seconds.p99",
		"namesub.chunk.duration_seconds.max",
		"namesub.chunk.duration_seconds.samples",
		"namesub.run.duration_seconds.p50",
	} {
		if !containsString(names, want) {
			t.Fatalf("series %q missing; got %v", want, names)
		}
	}

	for _, s := range payload.Series {
		switch s.Metric {
		case "namesub.chunk.duration_seconds.max":
			if *s.Points[0].Value != 0.5 {
				t.Fatalf("max = %v, want 0.5", *s.Points[0].Value)
			}
		case "namesub.chunk.duration_seconds.samples":
			if *s.Points[0].Value != 5 {
				t.Fatalf("samples = %v, want 5", *s.Points[0].Value)
			}
		}
	}
}

func TestIncCounter_IgnoresUnknownAndNonPositive(t *testing.T) {
	fake := &fakeSubmitter{}
	b := newTestBackend(t, fake)

	b.IncCounter("some_other_metric", 5, nil)
	b.IncCounter("namesub_rows_total", 0, metrics.Labels{"kind": "scanned"})
	b.IncCounter("namesub_rows_total", -3, metrics.Labels{"kind": "scanned"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fake.count() != 0 {
		t.Fatalf("payloads = %d, want 0", fake.count())
	}
}

func TestClose_StopsLoopAndFlushesOnce(t *testing.T) {
	fake := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		JobName:    "namesub_test",
		FlushEvery: time.Hour,
		submitter:  fake,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter("namesub_chunks_total", 1, metrics.Labels{"status": "ok"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fake.count() != 1 {
		t.Fatalf("payloads = %d, want 1 final flush", fake.count())
	}
}

func TestPercentileNearestRank(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	sort.Float64s(s)

	cases := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.5, 6}, // idx = round(0.5*9) = 5 (0-based)
		{1, 10},
	}
	for _, tc := range cases {
		if got := percentileNearestRank(s, tc.p); got != tc.want {
			t.Fatalf("percentile(%v) = %v, want %v", tc.p, got, tc.want)
		}
	}
	if got := percentileNearestRank(nil, 0.5); got != 0 {
		t.Fatalf("percentile(empty) = %v, want 0", got)
	}
}

func TestParseTagsCSV(t *testing.T) {
	got := ParseTagsCSV(" env:prod , service:namesub ,, ")
	if len(got) != 2 || got[0] != "env:prod" || got[1] != "service:namesub" {
		t.Fatalf("ParseTagsCSV = %v", got)
	}
	if got := ParseTagsCSV(""); got != nil {
		t.Fatalf("ParseTagsCSV(\"\") = %v, want nil", got)
	}
}

func metricNames(p datadogV2.MetricPayload) []string {
	out := make([]string, 0, len(p.Series))
	for _, s := range p.Series {
		out = append(out, s.Metric)
	}
	sort.Strings(out)
	return out
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func tagPresent(tags []string, want string) bool {
	return containsString(tags, want)
}
