// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"

	"github.com/medkg/ingestcore/internal/adapter"
	"github.com/medkg/ingestcore/internal/adapter/clinicaltrials"
	"github.com/medkg/ingestcore/internal/adapter/genericjson"
	"github.com/medkg/ingestcore/internal/adapter/pubmed"
	"github.com/medkg/ingestcore/internal/config"
	"github.com/medkg/ingestcore/internal/driver"
	"github.com/medkg/ingestcore/internal/httpclient"
	"github.com/medkg/ingestcore/internal/ledger"
	"github.com/medkg/ingestcore/internal/obs"
	"github.com/medkg/ingestcore/internal/pipeline"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)

	var (
		configPath       string
		batchPath        string
		auto             bool
		resume           bool
		limit            int
		dryRun           bool
		output           string
		progress         bool
		quiet            bool
		verbose          bool
		strictValidation bool
		failFast         bool
		logFile          string
		logLevel         string
		startDate        string
		endDate          string
		pageSize         int
		showVersion      bool
	)
	fs.StringVar(&configPath, "config", "config/config.yaml", "path to YAML config")
	fs.StringVar(&batchPath, "batch", "", "NDJSON file of Parameters, one per line")
	fs.BoolVar(&auto, "auto", false, "let the adapter produce its own parameters")
	fs.BoolVar(&resume, "resume", false, "skip doc_ids already COMPLETED in the ledger (alias: --continue)")
	fs.BoolVar(&resume, "continue", false, "alias for --resume")
	fs.IntVar(&limit, "limit", 0, "stop after dispatching this many raw records (0 = unlimited)")
	fs.BoolVar(&dryRun, "dry-run", false, "fetch/parse/validate but never write or record COMPLETED")
	fs.StringVar(&output, "output", "text", "event rendering: text|json|table")
	fs.BoolVar(&progress, "progress", false, "emit a BatchProgress event after every document")
	fs.BoolVar(&quiet, "quiet", false, "suppress event rendering entirely")
	fs.BoolVar(&verbose, "verbose", false, "raise the console log level to debug")
	fs.BoolVar(&strictValidation, "strict-validation", false, "treat soft validation warnings as terminal failures")
	fs.BoolVar(&failFast, "fail-fast", false, "cancel remaining targets after the first terminal failure")
	fs.StringVar(&logFile, "log-file", "", "path to also write structured logs to")
	fs.StringVar(&logLevel, "log-level", "", "overrides observability.log_level: DEBUG|INFO|WARNING|ERROR")
	fs.StringVar(&startDate, "start-date", "", "ISO8601; applied as Since to every target")
	fs.StringVar(&endDate, "end-date", "", "ISO8601; applied as Until to every target")
	fs.IntVar(&pageSize, "page-size", 0, "overrides each target's PageSize when > 0")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := fs.Parse(argv); err != nil {
		return driver.ExitUsage
	}
	if showVersion {
		fmt.Println(version)
		return driver.ExitSuccess
	}

	args := fs.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: ingest <adapter> [flags]")
		return driver.ExitUsage
	}
	adapterName := args[0]

	var outFormat driver.OutputFormat
	switch output {
	case "text", "":
		outFormat = driver.OutputText
	case "json":
		outFormat = driver.OutputJSON
	case "table":
		outFormat = driver.OutputTable
	default:
		fmt.Fprintf(os.Stderr, "invalid --output %q: must be text, json, or table\n", output)
		return driver.ExitUsage
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return driver.ExitUsage
	}
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	} else if verbose {
		cfg.Observability.LogLevel = "debug"
	}
	if logFile != "" {
		cfg.Observability.LogFile = logFile
	}

	logger, err := obs.NewLoggerWithFile(cfg.Observability.LogLevel, cfg.Observability.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		return driver.ExitUsage
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	httpSrv := obs.StartHTTPServer(cfg, func(context.Context) error { return nil })
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	led, err := ledger.New(cfg.Ledger, logger)
	if err != nil {
		logger.Error("failed to open ledger", obs.Err(err))
		return driver.ExitUsage
	}
	defer led.Close()
	if cfg.Ledger.DedupCacheBackend == "redis" {
		led.SetDedupCache(ledger.NewRedisDedupCache(cfg.Ledger.RedisAddr, 24*time.Hour))
	}

	httpClient := httpclient.New(cfg.HTTPClient, logger)

	registry := adapter.NewRegistry()
	registry.Register("clinicaltrials", clinicaltrials.Factory)
	registry.Register("pubmed", pubmed.Factory)
	genericjson.RegisterAll(registry, nil)

	deps := adapter.Dependencies{HTTP: httpClient, Ledger: led, Log: logger}
	pipe := pipeline.New(cfg.Pipeline, cfg.CircuitBreaker, registry, deps, logger)
	drv := driver.New(pipe, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(driver.ExitFailure)
		case <-time.After(5 * time.Second):
		}
	}()

	req := driver.Request{
		AdapterName:      adapterName,
		Auto:             auto,
		Resume:           resume,
		Limit:            limit,
		DryRun:           dryRun,
		Output:           outFormat,
		Progress:         progress,
		Quiet:            quiet,
		Verbose:          verbose,
		StrictValidation: strictValidation,
		FailFast:         failFast,
		StartDate:        startDate,
		EndDate:          endDate,
		PageSize:         pageSize,
	}
	if batchPath != "" {
		f, err := os.Open(batchPath)
		if err != nil {
			logger.Error("failed to open batch file", obs.String("path", batchPath), obs.Err(err))
			return driver.ExitUsage
		}
		defer f.Close()
		batch, err := driver.ReadBatch(f)
		if err != nil {
			logger.Error("failed to parse batch file", obs.String("path", batchPath), obs.Err(err))
			return driver.ExitUsage
		}
		req.Batch = batch
	}

	summary, err := drv.Run(ctx, req, os.Stdout)
	if err != nil {
		logger.Error("ingest run failed", obs.String("adapter", adapterName), obs.Err(err))
		return driver.ExitUsage
	}

	logger.Info("ingest run complete",
		obs.Int("completed", summary.Completed),
		obs.Int("failed", summary.Failed),
		obs.Int("skipped", summary.Skipped),
	)
	return summary.ExitCode
}
