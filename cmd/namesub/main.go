package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"namesub/internal/audit"
	"namesub/internal/config"
	"namesub/internal/corpus"
	"namesub/internal/discover"
	"namesub/internal/engine"
	"namesub/internal/metrics"
	"namesub/internal/metrics/datadog"
	"namesub/internal/store"

	// register all backends with the store factory.
	_ "namesub/internal/store/all"
)

// main is the entry point for the namesub binary. It loads the run profile,
// optionally initializes the metrics backend, then runs the requested mode:
// discover, stats, preview, or execute.
func main() {
	var (
		cfgPath           string
		mode              string
		sampleSize        int
		dryRun            bool
		seed              int64
		metricsBackendFlg string
	)

	flag.StringVar(&cfgPath, "config", "profiles/sample.yaml", "run profile YAML path")
	flag.StringVar(&mode, "mode", "preview", "one of: discover, stats, preview, execute")
	flag.IntVar(&sampleSize, "sample", engine.DefaultPreviewSize, "rows to show in preview / sample in discover")
	flag.BoolVar(&dryRun, "dry-run", false, "execute without writing (counts only)")
	flag.Int64Var(&seed, "seed", 0, "random seed; 0 = time-seeded")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (datadog, none)")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	prof, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	// Decide metrics backend: flag, then env, then disabled.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "datadog":
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName:    "namesub",
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close/flush error: %v", err)
				}
			}()
		}
	case "", "none":
		// metrics disabled; nop backend remains
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	// Stop at the next chunk boundary on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, prof.StoreConfig())
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer st.Close()

	cfg, err := prof.UpdateConfig()
	if err != nil {
		fatalf("%v", err)
	}
	cfg.DryRun = dryRun

	if mode == "discover" {
		if err := runDiscover(ctx, st, cfg.Table, sampleSize); err != nil {
			fatalf("%v", err)
		}
		return
	}

	corp, err := loadCorpus(prof.Corpus.Sources)
	if err != nil {
		fatalf("%v", err)
	}
	if *verbose {
		log.Printf("corpus: female=%d male=%d groups=%v",
			corp.Len(corpus.Female), corp.Len(corpus.Male), corp.Groups(corpus.Female))
	}

	// Discovery fills in columns the profile leaves unset.
	var disc discover.Result
	if cfg.GenderColumn == "" || len(cfg.NameColumns) == 0 {
		disc, err = discover.Inspect(ctx, st, cfg.Table, sampleSize)
		if err != nil {
			fatalf("%v", err)
		}
	}

	plan, err := engine.BuildPlan(corp, cfg, disc)
	if err != nil {
		fatalf("%v", err)
	}

	var rec audit.Recorder = audit.Nop{}
	if prof.AuditPath != "" && mode == "execute" && !dryRun {
		f, err := os.OpenFile(prof.AuditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fatalf("open audit log: %v", err)
		}
		defer f.Close()
		rec = audit.NewWriter(f)
	}

	var rng *rand.Rand
	if seed != 0 {
		rng = rand.New(rand.NewSource(seed))
	}

	var logger engine.Logger
	if *verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	exec, err := engine.NewExecutor(engine.Options{
		Store:    st,
		Selector: corpus.NewSelector(corp),
		Audit:    rec,
		Logger:   logger,
		Rand:     rng,
	})
	if err != nil {
		fatalf("%v", err)
	}

	switch mode {
	case "stats":
		stats, err := exec.Stats(ctx, plan)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("matching rows: %d\n", stats.Matching)
		keys := make([]string, 0, len(stats.ByGender))
		for k := range stats.ByGender {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-10s %d\n", k, stats.ByGender[k])
		}

	case "preview":
		changes, err := exec.Preview(ctx, plan, sampleSize)
		if err != nil {
			fatalf("%v", err)
		}
		for _, c := range changes {
			fmt.Printf("key=%v %s: %v -> %s\n", c.Key, c.Column, c.Old, c.New)
		}
		if len(changes) == 0 {
			fmt.Println("no matching rows")
		}

	case "execute":
		res, err := exec.Run(ctx, plan)
		if err != nil {
			reportResult(res)
			fatalf("%v", err)
		}
		reportResult(res)

	default:
		fatalf("unknown mode %q", mode)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func runDiscover(ctx context.Context, st store.Store, table string, sampleLimit int) error {
	res, err := discover.Inspect(ctx, st, table, sampleLimit)
	if err != nil {
		return err
	}
	fmt.Printf("gender column candidates: %v\n", res.GenderCandidates)
	fmt.Printf("name column candidates:   %v\n", res.NameCandidates)
	return nil
}

func loadCorpus(paths []string) (*corpus.Corpus, error) {
	var (
		sources []corpus.Source
		closers []func()
	)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()
	for _, p := range paths {
		src, closer, err := corpus.FileSource(p)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() { _ = closer.Close() })
		sources = append(sources, src)
	}
	return corpus.Load(sources...)
}

func reportResult(res engine.Result) {
	outcome := "done"
	if res.Canceled {
		outcome = "canceled"
	}
	if res.DryRun {
		outcome += " (dry run)"
	}
	fmt.Printf("%s: scanned=%d updated=%d skipped=%d chunks=%d elapsed=%s\n",
		outcome, res.Scanned, res.Updated, res.Skipped, res.Chunks,
		res.Elapsed.Truncate(time.Millisecond))
	for _, re := range res.Errors {
		fmt.Printf("  row error key=%v: %v\n", re.Key, re.Err)
	}
}
