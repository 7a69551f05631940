// Package main implements the tracesmith-publish binary.
// It moves a recorded trace dataset between local disk and the configured
// object store: publishing uploads each benchmark's summary-listed files,
// fetching downloads a published benchmark back into the local layout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tracesmith/tracesmith/internal/config"
	"github.com/tracesmith/tracesmith/internal/publish"
	"github.com/tracesmith/tracesmith/internal/registry"
	"github.com/tracesmith/tracesmith/internal/storage"
)

var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitBenchmarkFailed = 1
	exitPipelineFatal   = 2

	fetchConcurrency = 4
)

func main() {
	var (
		configFile  string
		prefix      string
		overwrite   bool
		compress    bool
		fetch       bool
		dest        string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&prefix, "prefix", "", "Object-key prefix datasets are published under")
	flag.BoolVar(&overwrite, "overwrite", false, "Replace objects that already exist in storage")
	flag.BoolVar(&compress, "compress", false, "Snappy-compress trace payloads before upload")
	flag.BoolVar(&fetch, "fetch", false, "Download published benchmarks instead of uploading")
	flag.StringVar(&dest, "dest", "./fetched", "Destination directory for -fetch")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = usage
	flag.Parse()

	if showVersion {
		fmt.Printf("tracesmith-publish version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	_ = godotenv.Load()

	cfg, err := loadConfig(configFile)
	if err != nil {
		log.Printf("invalid configuration: %v", err)
		os.Exit(exitPipelineFatal)
	}

	// Boolean flags only win when actually passed, so a config file can
	// still turn these on.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "overwrite":
			cfg.Publish.Overwrite = overwrite
		case "compress":
			cfg.Publish.Compress = compress
		}
	})
	if prefix != "" {
		cfg.Publish.Prefix = prefix
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Printf("failed to open storage backend: %v", err)
		os.Exit(exitPipelineFatal)
	}

	if fetch {
		os.Exit(runFetch(ctx, cfg, store, flag.Args(), dest))
	}
	os.Exit(runPublish(ctx, cfg, store, flag.Args()))
}

func runPublish(ctx context.Context, cfg *config.Config, store storage.ObjectStorage, names []string) int {
	reg, err := registry.Open(registry.Options{
		CatalogPath: cfg.CatalogPath(),
		TracesDir:   cfg.TracesDir(),
		RecordsDir:  cfg.RecordsDir(),
	})
	if err != nil {
		log.Printf("failed to open trace registry: %v", err)
		return exitPipelineFatal
	}
	defer reg.Close()

	pub := publish.NewPublisher(reg, store, cfg.TracesDir(), cfg.RecordsDir(), publish.Options{
		Prefix:    cfg.Publish.Prefix,
		Overwrite: cfg.Publish.Overwrite,
		Compress:  cfg.Publish.Compress,
	})

	if len(names) == 0 {
		names, err = pub.Discover(ctx)
		if err != nil {
			log.Printf("failed to discover benchmarks: %v", err)
			return exitPipelineFatal
		}
		if len(names) == 0 {
			log.Printf("nothing to publish: no benchmark summaries recorded")
			return 0
		}
	}

	failed := 0
	for _, name := range names {
		if ctx.Err() != nil {
			log.Printf("publish interrupted")
			return exitBenchmarkFailed
		}
		result, err := pub.Publish(ctx, name)
		if err != nil {
			log.Printf("[%s publish] failed: %v", name, err)
			failed++
			continue
		}
		log.Printf("[%s publish] %d uploaded, %d skipped", name, result.Uploaded, result.Skipped)
	}

	if failed > 0 {
		log.Printf("publish finished with %d of %d benchmark(s) failed", failed, len(names))
		return exitBenchmarkFailed
	}
	return 0
}

func runFetch(ctx context.Context, cfg *config.Config, store storage.ObjectStorage, names []string, dest string) int {
	if len(names) == 0 {
		log.Printf("fetch requires at least one benchmark name")
		return exitBenchmarkFailed
	}

	fetcher := publish.NewFetcher(store, cfg.Publish.Prefix, fetchConcurrency)
	failed := 0
	for _, name := range names {
		if ctx.Err() != nil {
			log.Printf("fetch interrupted")
			return exitBenchmarkFailed
		}
		result, err := fetcher.Fetch(ctx, name, dest)
		if err != nil {
			log.Printf("[%s fetch] failed: %v", name, err)
			failed++
			continue
		}
		log.Printf("[%s fetch] %d downloaded, %d already present", name, result.Downloaded, result.Skipped)
	}

	if failed > 0 {
		log.Printf("fetch finished with %d of %d benchmark(s) failed", failed, len(names))
		return exitBenchmarkFailed
	}
	return 0
}

// loadConfig layers file and environment values. Publishing only needs the
// dataset layout and storage backend, so the sweep profile is not required.
func loadConfig(configFile string) (*config.Config, error) {
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
	cfg.Resolve()

	switch cfg.Storage.Type {
	case "local":
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return nil, fmt.Errorf("storage type s3 requires a bucket")
		}
	default:
		return nil, fmt.Errorf("unknown storage type %q (want local or s3)", cfg.Storage.Type)
	}
	if cfg.Publish.Prefix == "" {
		return nil, fmt.Errorf("publish prefix is required")
	}
	return cfg, nil
}

// openStorage builds the object-storage backend the configuration names.
func openStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Storage.Type {
	case "s3":
		s3cfg := storage.DefaultS3Config()
		if cfg.Storage.S3.Region != "" {
			s3cfg.Region = cfg.Storage.S3.Region
		}
		if cfg.Storage.S3.Endpoint != "" {
			s3cfg.Endpoint = cfg.Storage.S3.Endpoint
			s3cfg.UsePathStyle = true
		}
		return storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, s3cfg)
	default:
		return storage.NewLocalStorage(cfg.Storage.Path)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "tracesmith-publish - move trace datasets in and out of object storage\n\n")
	fmt.Fprintf(os.Stderr, "Usage: tracesmith-publish [options] [benchmark ...]\n\n")
	fmt.Fprintf(os.Stderr, "With no benchmark arguments every benchmark with a recorded summary\n")
	fmt.Fprintf(os.Stderr, "is published. Fetching always needs explicit names.\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  tracesmith-publish -config sweep.yaml\n")
	fmt.Fprintf(os.Stderr, "  tracesmith-publish -compress fir kmeans\n")
	fmt.Fprintf(os.Stderr, "  tracesmith-publish -fetch -dest ./dataset-copy fir\n")
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  TRACESMITH_STORAGE_TYPE       Storage backend (local, s3)\n")
	fmt.Fprintf(os.Stderr, "  TRACESMITH_STORAGE_PATH       Local backend directory\n")
	fmt.Fprintf(os.Stderr, "  TRACESMITH_S3_BUCKET          S3 bucket name\n")
	fmt.Fprintf(os.Stderr, "  TRACESMITH_S3_REGION          AWS region\n")
	fmt.Fprintf(os.Stderr, "  TRACESMITH_S3_ENDPOINT        Custom S3 endpoint (MinIO etc.)\n")
	fmt.Fprintf(os.Stderr, "  TRACESMITH_PUBLISH_PREFIX     Object-key prefix for datasets\n")
	fmt.Fprintf(os.Stderr, "  TRACESMITH_PUBLISH_OVERWRITE  Replace existing objects (true/false)\n")
	fmt.Fprintf(os.Stderr, "  TRACESMITH_PUBLISH_COMPRESS   Compress traces on upload (true/false)\n")
}
