// Package main implements the tracesmith sweep binary.
// For each requested benchmark it builds the workload, searches for the
// base size whose trace crosses the configured threshold, sweeps the
// parameter space, and records every produced trace in the dataset.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/joho/godotenv"

	"github.com/tracesmith/tracesmith/internal/bench"
	"github.com/tracesmith/tracesmith/internal/config"
	"github.com/tracesmith/tracesmith/internal/detect"
	"github.com/tracesmith/tracesmith/internal/journal"
	"github.com/tracesmith/tracesmith/internal/observability"
	"github.com/tracesmith/tracesmith/internal/registry"
	"github.com/tracesmith/tracesmith/internal/sweep"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes: 1 when one or more benchmarks failed, 2 when the whole
// pipeline was halted (bad configuration, corrupted catalog, identifier
// conflict).
const (
	exitBenchmarkFailed = 1
	exitPipelineFatal   = 2
)

func main() {
	var (
		configFile  string
		datasetDir  string
		workDir     string
		rebuild     bool
		timeout     time.Duration
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&datasetDir, "dataset-dir", "", "Base directory for the generated dataset")
	flag.StringVar(&workDir, "work-dir", "", "Directory benchmarks run in and drop traces into")
	flag.BoolVar(&rebuild, "rebuild", false, "Clear each benchmark's recorded traces before sweeping")
	flag.DurationVar(&timeout, "timeout", 0, "Per-run wall-clock limit, e.g. 30m (0 keeps the configured value)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = usage
	flag.Parse()

	if showVersion {
		fmt.Printf("tracesmith version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// A .env in the working directory is a convenience for local runs;
	// its absence is not an error.
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile, datasetDir, workDir, timeout)
	if err != nil {
		log.Printf("invalid configuration: %v", err)
		os.Exit(exitPipelineFatal)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Printf("failed to prepare directories: %v", err)
		os.Exit(exitPipelineFatal)
	}

	names := flag.Args()
	if len(names) == 0 {
		names = promptBenchmarks()
	}
	if len(names) == 0 {
		log.Printf("no benchmarks specified, exiting")
		os.Exit(exitBenchmarkFailed)
	}

	printBanner(cfg)

	reg, err := registry.Open(registry.Options{
		CatalogPath:     cfg.CatalogPath(),
		TracesDir:       cfg.TracesDir(),
		RecordsDir:      cfg.RecordsDir(),
		SimulatorCommit: cfg.SimulatorCommit,
	})
	if err != nil {
		log.Printf("failed to open trace registry: %v", err)
		os.Exit(exitPipelineFatal)
	}
	defer reg.Close()

	jr, err := journal.New(cfg.JournalDir(), journal.DefaultMaxSegmentSize)
	if err != nil {
		log.Printf("failed to open run journal: %v", err)
		os.Exit(exitPipelineFatal)
	}
	defer jr.Close()

	stats := observability.NewSweepStats()
	sweeper := sweep.NewSweeper(cfg, sweep.Deps{
		Executor: bench.NewProcessExecutor(cfg.WorkDir, cfg.LogFile, cfg.Build.Command, cfg.Run.Timeout),
		Detector: detect.New(cfg.WorkDir, cfg.TracePattern),
		Registry: reg,
		Journal:  jr,
		Stats:    stats,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	result, err := sweeper.SweepBatch(ctx, names, rebuild)
	reportStats(stats, time.Since(start))

	switch {
	case err != nil && ctx.Err() != nil:
		log.Printf("sweep interrupted: %v", err)
		os.Exit(exitBenchmarkFailed)
	case err != nil:
		log.Printf("pipeline halted: %v", err)
		os.Exit(exitPipelineFatal)
	case !result.OK():
		os.Exit(exitBenchmarkFailed)
	}
}

// loadConfig layers file, environment, and flag values, highest last.
func loadConfig(configFile, datasetDir, workDir string, timeout time.Duration) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if datasetDir != "" {
		cfg.DatasetDir = datasetDir
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}
	if timeout > 0 {
		cfg.Run.Timeout = timeout
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// promptBenchmarks asks for benchmark names on stdin when none were given
// on the command line. Names may be separated by spaces, commas, or both.
func promptBenchmarks() []string {
	fmt.Print(`Enter benchmark name(s) (e.g., "fir" or "fir,kmeans" or "fir kmeans"): `)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return nil
	}
	return splitNames(line)
}

// splitNames splits a benchmark list on any run of commas and whitespace.
func splitNames(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// printBanner prints the effective configuration before the sweep starts.
func printBanner(cfg *config.Config) {
	log.Printf("tracesmith %s", version)
	log.Printf("  dataset dir:    %s", cfg.DatasetDir)
	log.Printf("  work dir:       %s", cfg.WorkDir)
	log.Printf("  benchmark root: %s", cfg.BenchmarkRoot)
	log.Printf("  trace pattern:  %s", cfg.TracePattern)
	log.Printf("  size threshold: %.1f MB", cfg.MinTraceMB)
	if cfg.Run.Timeout > 0 {
		log.Printf("  run timeout:    %s", cfg.Run.Timeout)
	}
}

// reportStats prints the per-benchmark outcome table after the batch.
func reportStats(stats *observability.SweepStats, elapsed time.Duration) {
	snapshot := stats.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	log.Printf("sweep report (%s elapsed):", elapsed.Round(time.Second))
	for _, bs := range snapshot {
		if bs.Aborted {
			log.Printf("  %-16s aborted (%s) after %d probe(s), %d trace(s) recorded",
				bs.Benchmark, bs.AbortReason, bs.Probes, bs.Recorded)
			continue
		}
		log.Printf("  %-16s %d trace(s), %.2f MB, %d probe(s), %d run(s) failed, %d without artifact, %s",
			bs.Benchmark, bs.Recorded, float64(bs.BytesRecorded)/(1024*1024),
			bs.Probes, bs.RunFailed, bs.NoArtifact, bs.Duration.Round(time.Second))
	}
	recorded, skipped, aborted := stats.Totals()
	log.Printf("  total: %d recorded, %d skipped, %d aborted", recorded, skipped, aborted)
}

func usage() {
	fmt.Fprintf(os.Stderr, "tracesmith - benchmark trace dataset generator\n\n")
	fmt.Fprintf(os.Stderr, "Usage: tracesmith [options] [benchmark ...]\n\n")
	fmt.Fprintf(os.Stderr, "With no benchmark arguments the names are read interactively.\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  tracesmith -config sweep.yaml fir kmeans\n")
	fmt.Fprintf(os.Stderr, "  tracesmith -rebuild fir\n")
	fmt.Fprintf(os.Stderr, "  tracesmith -dataset-dir /data/traces -timeout 30m fir\n")
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  TRACESMITH_DATASET_DIR     Base directory for the generated dataset\n")
	fmt.Fprintf(os.Stderr, "  TRACESMITH_WORK_DIR        Directory benchmarks run in\n")
	fmt.Fprintf(os.Stderr, "  TRACESMITH_BENCHMARK_ROOT  Parent directory of benchmark build dirs\n")
	fmt.Fprintf(os.Stderr, "  TRACESMITH_MIN_TRACE_MB    Minimum accepted trace size in MB\n")
	fmt.Fprintf(os.Stderr, "  TRACESMITH_RUN_TIMEOUT     Per-run wall-clock limit\n")
	fmt.Fprintf(os.Stderr, "  TRACESMITH_STORAGE_TYPE    Publish storage backend (local, s3)\n")
}
