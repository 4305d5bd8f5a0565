// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// persist-run drives a persistent-mode harness binary over a corpus of
// seed inputs and records every input that kills the process. It is
// the replay/regression half of a fuzzing setup: a coverage-guided
// engine discovers inputs, persist-run proves which of them still
// crash a given build.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/fuzzbed/go-persist/config"
	"github.com/fuzzbed/go-persist/runner"
)

var (
	flagBin       = flag.String("bin", "", "harness binary built around harness.Main")
	flagWorkdir   = flag.String("workdir", "", "dir with corpus/ and crash artifacts")
	flagConfig    = flag.String("config", "", "optional YAML config file")
	flagTransport = flag.String("transport", "", "test case transport: stream or shm")
	flagMaxLen    = flag.Int("maxlen", 0, "max test case length, bytes")
	flagBudget    = flag.Int("budget", 0, "iterations per harness process")
	flagTimeout   = flag.Duration("timeout", 0, "per-iteration hang deadline")
	flagHTTP      = flag.String("http", "", "stats event stream listen address")
	flagWatch     = flag.Bool("watch", false, "keep running, executing seeds as they appear in corpus/")
	flagLogLevel  = flag.String("loglevel", "", "debug, info, warn, or error")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	applyFlags(cfg)

	logger := config.NewLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	runner.LowerProcessPrio()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	corpus := runner.NewArtifactSet(filepath.Join(cfg.Workdir, "corpus"), logger)
	stats := runner.NewBroadcaster(logger)
	d := &driver{
		logger:   logger,
		stats:    stats,
		reporter: runner.NewReporter(cfg.Workdir, logger),
		opts: runner.Options{
			Bin:       cfg.Bin,
			Transport: cfg.Transport,
			MaxLen:    cfg.MaxLen,
			Budget:    cfg.Budget,
			Timeout:   time.Duration(cfg.Timeout),
			ExtraEnv:  cfg.ChildEnv(),
		},
	}

	logger.Info("session starting",
		zap.String("session", stats.Session()),
		zap.String("bin", cfg.Bin),
		zap.String("transport", cfg.Transport),
		zap.Int("corpus", corpus.Len()),
		zap.Bool("msan", cfg.MSan),
	)

	if cfg.HTTP != "" {
		http.HandleFunc("/eventsource", stats.ServeEventSource)
		go func() {
			logger.Info("serving stats", zap.String("addr", cfg.HTTP))
			if err := http.ListenAndServe(cfg.HTTP, nil); err != nil {
				logger.Error("stats server", zap.Error(err))
			}
		}()
	}
	go stats.Run(ctx, 3*time.Second)

	for _, a := range corpus.Artifacts() {
		if ctx.Err() != nil {
			break
		}
		d.execOne(a.Data)
	}

	if *flagWatch && ctx.Err() == nil {
		watchCorpus(ctx, d, corpus, logger)
	}

	d.close()
	stats.Broadcast()
	logger.Sync()
	if d.defects > 0 {
		os.Exit(1)
	}
}

// applyFlags lets explicitly set flags win over file and environment.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bin":
			cfg.Bin = *flagBin
		case "workdir":
			cfg.Workdir = *flagWorkdir
		case "transport":
			cfg.Transport = *flagTransport
		case "maxlen":
			cfg.MaxLen = *flagMaxLen
		case "budget":
			cfg.Budget = *flagBudget
		case "timeout":
			cfg.Timeout = config.Duration(*flagTimeout)
		case "http":
			cfg.HTTP = *flagHTTP
		case "loglevel":
			cfg.LogLevel = *flagLogLevel
		}
	})
}

// watchCorpus executes seeds as the engine deposits them, until
// interrupted.
func watchCorpus(ctx context.Context, d *driver, corpus *runner.ArtifactSet, logger *zap.Logger) {
	seedC := make(chan string, 64)
	w, err := runner.NewWatcher(ctx, seedC, nil, logger)
	if err != nil {
		logger.Fatal("corpus watcher", zap.Error(err))
	}
	if err := w.AddDir(corpus.Dir()); err != nil {
		logger.Fatal("corpus watcher", zap.Error(err))
	}
	logger.Info("watching for new seeds", zap.String("dir", corpus.Dir()))
	for name := range seedC {
		data, err := os.ReadFile(name)
		if err != nil {
			logger.Warn("unreadable seed", zap.String("file", name), zap.Error(err))
			continue
		}
		if corpus.Has(data) {
			continue
		}
		corpus.Add(runner.Artifact{Data: data})
		d.execOne(data)
	}
}

// driver owns the current harness process and replaces it after
// crashes and budget recycles.
type driver struct {
	logger   *zap.Logger
	stats    *runner.Broadcaster
	reporter *runner.Reporter
	opts     runner.Options

	bin     *runner.Binary
	defects int
}

func (d *driver) binary() *runner.Binary {
	if d.bin == nil {
		b, err := runner.NewBinary(d.opts, d.logger)
		if err != nil {
			d.logger.Fatal("spawn harness", zap.Error(err))
		}
		d.bin = b
	}
	return d.bin
}

func (d *driver) recycle() {
	if d.bin != nil {
		d.bin.Shutdown()
		d.bin = nil
	}
	d.stats.AddRestart()
}

func (d *driver) close() {
	if d.bin != nil {
		d.bin.Shutdown()
		d.bin = nil
	}
}

func (d *driver) execOne(data []byte) {
	if len(data) > d.opts.MaxLen {
		d.logger.Warn("seed exceeds max_len, skipped",
			zap.Int("len", len(data)), zap.Int("max", d.opts.MaxLen))
		return
	}
	for attempt := 0; attempt < 3; attempt++ {
		res := d.binary().Exec(data)
		if res.Retry {
			d.recycle()
			continue
		}
		d.stats.AddExecs(1)
		if !res.Crashed {
			return
		}

		output, state := d.bin.Shutdown()
		d.bin = nil
		d.stats.AddRestart()
		outcome, code := runner.Classify(state)
		switch outcome {
		case runner.OutcomeDefect:
			d.defects++
			if d.reporter.Report(data, output, code) {
				d.stats.AddCrasher()
			}
			d.logger.Warn("input crashed the target",
				zap.Int("len", len(data)),
				zap.Int("status", code),
				zap.Bool("hang", res.Hanged),
			)
			return
		case runner.OutcomeClean:
			// Lost the race with the harness's own budget exit.
			continue
		default:
			d.logger.Error("harness failed; not attributing to the target",
				zap.Stringer("outcome", outcome),
				zap.Int("status", code),
				zap.ByteString("output", output),
			)
			return
		}
	}
	d.logger.Error("giving up on input after repeated restarts",
		zap.Int("len", len(data)))
}
