package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"namesub/internal/audit"
	"namesub/internal/corpus"
	"namesub/internal/metrics"
	"namesub/internal/store"
)

// Logger is the logging surface the executor writes progress to. *log.Logger
// satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// State is the executor's phase within a run.
type State int

const (
	Idle State = iota
	Scanning
	Generating
	Committing
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Generating:
		return "generating"
	case Committing:
		return "committing"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// RowError records a row the run could not process.
type RowError struct {
	Key any
	Err error
}

// Result is the outcome of a run. It is populated on both success and
// failure; on failure it reflects the progress made before the terminal
// error, which stays consistent because chunks commit transactionally.
type Result struct {
	RunID   string
	Scanned int
	Updated int
	Skipped int
	Chunks  int
	Errors  []RowError
	Elapsed time.Duration

	// Canceled is set when the run stopped at a chunk boundary because its
	// context was done. Progress up to that boundary is committed.
	Canceled bool

	DryRun bool
}

// Options configures an Executor. Zero values select reasonable defaults.
type Options struct {
	Store    store.Store
	Selector *corpus.Selector
	Audit    audit.Recorder // nil = discard
	Logger   Logger         // nil = discard
	Rand     *rand.Rand     // nil = time-seeded

	// MaxAttempts bounds tries per store operation: the first attempt plus
	// retries of transient failures. Default 4.
	MaxAttempts int

	// RetryBase is the first backoff delay; it doubles per retry. Default
	// 100ms.
	RetryBase time.Duration

	// Test seams.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Executor runs plans against a store. One Executor serves one run at a
// time; State is only meaningful while Run is on the stack.
type Executor struct {
	st    store.Store
	sel   *corpus.Selector
	aud   audit.Recorder
	log   Logger
	rng   *rand.Rand
	tries int
	base  time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	state State
}

// NewExecutor returns an executor over the store and selector in opts, which
// must both be set.
func NewExecutor(opts Options) (*Executor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: Options.Store is required")
	}
	if opts.Selector == nil {
		return nil, fmt.Errorf("engine: Options.Selector is required")
	}

	e := &Executor{
		st:    opts.Store,
		sel:   opts.Selector,
		aud:   opts.Audit,
		log:   opts.Logger,
		rng:   opts.Rand,
		tries: opts.MaxAttempts,
		base:  opts.RetryBase,
		now:   opts.now,
		sleep: opts.sleep,
		state: Idle,
	}
	if e.aud == nil {
		e.aud = audit.Nop{}
	}
	if e.log == nil {
		e.log = log.New(io.Discard, "", 0)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if e.tries <= 0 {
		e.tries = 4
	}
	if e.base <= 0 {
		e.base = 100 * time.Millisecond
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = sleepCtx
	}
	return e, nil
}

// State returns the executor's current phase.
func (e *Executor) State() State { return e.state }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry runs op, retrying transient failures with bounded exponential
// backoff. The attempt budget is per operation, not per run.
func (e *Executor) withRetry(ctx context.Context, what string, op func() error) error {
	delay := e.base
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if attempt >= e.tries || !e.st.Transient(err) {
			return err
		}
		e.log.Printf("op=%s attempt=%d transient err=%v retry_in=%s", what, attempt, err, delay)
		if serr := e.sleep(ctx, delay); serr != nil {
			return err
		}
		delay *= 2
	}
}

// Run executes the plan to completion, cancellation, or terminal failure.
//
// The returned Result is valid in all three cases. Cancellation is honored
// at chunk boundaries only, so a chunk mid-commit always finishes; Run then
// returns with Canceled set and a nil error, since the committed prefix is a
// consistent partial outcome. A terminal failure returns the Result
// alongside the error.
func (e *Executor) Run(ctx context.Context, plan Plan) (Result, error) {
	start := e.now()
	res := Result{RunID: uuid.NewString(), DryRun: plan.DryRun}
	defer func() { res.Elapsed = e.now().Sub(start) }()

	e.log.Printf("run=%s table=%s target=%s policy=%s batch=%d dry_run=%t start",
		res.RunID, plan.Table, plan.Target, plan.Policy, plan.BatchSize, plan.DryRun)

	var cursor any
	for {
		if ctx.Err() != nil {
			res.Canceled = true
			e.state = Succeeded
			e.finish(&res, start, "canceled")
			return res, nil
		}

		limit := plan.BatchSize
		if plan.Limit > 0 {
			if left := plan.Limit - res.Scanned; left < limit {
				limit = left
			}
		}
		if limit <= 0 {
			break
		}

		e.state = Scanning
		var rows []store.Row
		err := e.withRetry(ctx, "fetch", func() error {
			var ferr error
			rows, ferr = e.st.FetchChunk(ctx, plan.chunkQuery(cursor, limit))
			return ferr
		})
		if err != nil {
			e.state = Failed
			e.finish(&res, start, "failed")
			return res, fmt.Errorf("fetch chunk after key %v: %w", cursor, err)
		}
		if len(rows) == 0 {
			break
		}

		e.state = Generating
		assigns, updated, skipped, rowErrs, genErr := e.generate(plan, rows)
		res.Scanned += len(rows)
		res.Skipped += skipped
		res.Errors = append(res.Errors, rowErrs...)
		if genErr != nil {
			e.state = Failed
			e.finish(&res, start, "failed")
			return res, genErr
		}

		chunkStart := e.now()
		if len(assigns) > 0 && !plan.DryRun {
			e.state = Committing
			// A chunk transaction finishes once started; cancellation is
			// observed at the top of the loop, never mid-commit.
			commitCtx := context.WithoutCancel(ctx)
			err := e.withRetry(commitCtx, "commit", func() error {
				return e.st.ApplyAssignments(commitCtx, plan.Table, plan.KeyColumn, assigns)
			})
			if err != nil {
				res.Errors = append(res.Errors, RowError{Key: assigns[0].Key, Err: err})
				metrics.IncCounter("namesub_chunks_total", 1, metrics.Labels{"status": "failed"})
				metrics.ObserveHistogram("namesub_chunk_duration_seconds",
					e.now().Sub(chunkStart).Seconds(), metrics.Labels{"status": "failed"})
				e.state = Failed
				e.finish(&res, start, "failed")
				return res, fmt.Errorf("apply chunk %d: %w", res.Chunks, err)
			}
			e.record(plan, res.RunID, res.Chunks, assigns)
		}
		res.Updated += updated
		res.Chunks++

		metrics.IncCounter("namesub_rows_total", float64(len(rows)), metrics.Labels{"kind": "scanned"})
		metrics.IncCounter("namesub_rows_total", float64(updated), metrics.Labels{"kind": "updated"})
		metrics.IncCounter("namesub_rows_total", float64(skipped), metrics.Labels{"kind": "skipped"})
		metrics.IncCounter("namesub_chunks_total", 1, metrics.Labels{"status": "ok"})
		metrics.ObserveHistogram("namesub_chunk_duration_seconds",
			e.now().Sub(chunkStart).Seconds(), metrics.Labels{"status": "ok"})

		e.log.Printf("run=%s chunk=%d rows=%d updated=%d skipped=%d duration=%s",
			res.RunID, res.Chunks-1, len(rows), updated, skipped,
			e.now().Sub(chunkStart).Truncate(time.Millisecond))

		cursor = rows[len(rows)-1].Key
		if cursor == nil {
			// Cannot advance the keyset cursor past a NULL key.
			e.state = Failed
			e.finish(&res, start, "failed")
			return res, fmt.Errorf("pagination stalled: %s is NULL", plan.KeyColumn)
		}
		if len(rows) < limit {
			break
		}
	}

	e.state = Succeeded
	e.finish(&res, start, "succeeded")
	return res, nil
}

func (e *Executor) finish(res *Result, start time.Time, outcome string) {
	metrics.ObserveHistogram("namesub_run_duration_seconds", e.now().Sub(start).Seconds(), nil)
	e.log.Printf("run=%s outcome=%s scanned=%d updated=%d skipped=%d chunks=%d",
		res.RunID, outcome, res.Scanned, res.Updated, res.Skipped, res.Chunks)
}

// generate draws replacement values for one chunk. Rows whose gender cell
// does not resolve are skipped, never defaulted; a row with a NULL key
// cannot be addressed and is skipped with a RowError. A row counts as
// updated when at least one of its cells gets an assignment.
//
// An empty candidate set is a configuration-level fault and fails the run.
func (e *Executor) generate(plan Plan, rows []store.Row) (assigns []store.Assignment, updated, skipped int, rowErrs []RowError, err error) {
	emailIx := -1
	if plan.EmailColumn != "" {
		emailIx = len(plan.NameColumns)
	}

	for _, r := range rows {
		if r.Key == nil {
			skipped++
			rowErrs = append(rowErrs, RowError{Err: fmt.Errorf("row with NULL %s skipped", plan.KeyColumn)})
			continue
		}
		g, ok := plan.normalizeGender(r.Gender)
		if !ok {
			skipped++
			continue
		}

		var rowAssigns []store.Assignment
		firstName := ""
		for i, col := range plan.NameColumns {
			if plan.PreserveNull && r.Names[i] == nil {
				continue
			}
			name, perr := e.pickValue(g, plan)
			if perr != nil {
				return assigns, updated, skipped, rowErrs, perr
			}
			if firstName == "" {
				firstName = name
			}
			rowAssigns = append(rowAssigns, store.Assignment{Key: r.Key, Column: col, Value: name})
		}

		if emailIx >= 0 && firstName != "" {
			if !(plan.PreserveNull && r.Names[emailIx] == nil) {
				rowAssigns = append(rowAssigns, store.Assignment{
					Key:    r.Key,
					Column: plan.EmailColumn,
					Value:  emailFor(firstName, e.rng),
				})
			}
		}

		if len(rowAssigns) == 0 {
			skipped++
			continue
		}
		assigns = append(assigns, rowAssigns...)
		updated++
	}
	return assigns, updated, skipped, rowErrs, nil
}

// pickValue draws one cell value: a single name, or "First Last" from two
// independent draws in full-name mode.
func (e *Executor) pickValue(g corpus.Gender, plan Plan) (string, error) {
	first, err := e.sel.Pick(g, plan.Groups, plan.Policy, e.rng)
	if err != nil {
		return "", err
	}
	if !plan.FullName {
		return first, nil
	}
	last, err := e.sel.Pick(g, plan.Groups, plan.Policy, e.rng)
	if err != nil {
		return "", err
	}
	return first + " " + last, nil
}

// record writes one audit entry per committed assignment. Audit failures are
// logged, not fatal; the data change already committed.
func (e *Executor) record(plan Plan, runID string, chunk int, assigns []store.Assignment) {
	at := e.now()
	for _, a := range assigns {
		err := e.aud.Record(audit.Entry{
			RunID:  runID,
			Chunk:  chunk,
			Table:  plan.Table,
			Key:    a.Key,
			Column: a.Column,
			Value:  a.Value,
			At:     at,
		})
		if err != nil {
			e.log.Printf("run=%s audit record failed key=%v err=%v", runID, a.Key, err)
		}
	}
}
