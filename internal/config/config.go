// Package config provides unified configuration for the tracesmith pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the unified configuration for the sweep and publish tools.
type Config struct {
	// DatasetDir is the base directory for the generated dataset
	DatasetDir string `json:"dataset_dir" yaml:"dataset_dir"`

	// WorkDir is the directory benchmarks run in and drop trace files into
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// BenchmarkRoot is the parent directory of the per-benchmark build dirs
	BenchmarkRoot string `json:"benchmark_root" yaml:"benchmark_root"`

	// CommonArgs are appended to every benchmark invocation
	CommonArgs string `json:"common_args" yaml:"common_args"`

	// TracePattern is the glob benchmark trace artifacts match
	TracePattern string `json:"trace_pattern" yaml:"trace_pattern"`

	// MinTraceMB is the minimum accepted trace size in megabytes.
	// Required: there is no default threshold.
	MinTraceMB float64 `json:"min_trace_mb" yaml:"min_trace_mb"`

	// SimulatorCommit pins the simulator revision recorded for provenance
	SimulatorCommit string `json:"simulator_commit" yaml:"simulator_commit"`

	// LogFile is the file benchmark stdout/stderr is appended to
	LogFile string `json:"log_file" yaml:"log_file"`

	// Build configuration
	Build BuildConfig `json:"build" yaml:"build"`

	// Search configuration
	Search SearchConfig `json:"search" yaml:"search"`

	// Run configuration
	Run RunConfig `json:"run" yaml:"run"`

	// Storage configuration (publish backend)
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Publish configuration
	Publish PublishConfig `json:"publish" yaml:"publish"`

	// Benchmarks is the sweep profile, keyed by benchmark name
	Benchmarks map[string]BenchmarkConfig `json:"benchmarks" yaml:"benchmarks"`
}

// BuildConfig holds benchmark build configuration.
type BuildConfig struct {
	// Command is run once in each benchmark's build directory
	Command []string `json:"command" yaml:"command"`
}

// SearchConfig holds base-size search configuration.
type SearchConfig struct {
	// Growth is the factor the candidate value is multiplied by per probe (min 2)
	Growth int64 `json:"growth" yaml:"growth"`
}

// RunConfig holds benchmark run configuration.
type RunConfig struct {
	// Timeout is the per-run wall-clock limit; 0 disables it
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// PublishConfig holds dataset publish configuration.
type PublishConfig struct {
	// Prefix is the object-key prefix datasets are published under
	Prefix string `json:"prefix" yaml:"prefix"`

	// Overwrite replaces objects that already exist in storage
	Overwrite bool `json:"overwrite" yaml:"overwrite"`

	// Compress snappy-compresses trace payloads before upload
	Compress bool `json:"compress" yaml:"compress"`
}

// BenchmarkConfig describes one benchmark's parameter space.
type BenchmarkConfig struct {
	// Dir is the build directory, relative to benchmark_root (default: name)
	Dir string `json:"dir" yaml:"dir"`

	// Exec is the built executable, relative to Dir (default: name)
	Exec string `json:"exec" yaml:"exec"`

	// BaseParam is the size-controlling parameter flag, e.g. "-length"
	BaseParam string `json:"base_param" yaml:"base_param"`

	// BaseStart is the first candidate value for the size search
	BaseStart int64 `json:"base_start" yaml:"base_start"`

	// BaseMax bounds the size search; reaching it without a crossing fails
	BaseMax int64 `json:"base_max" yaml:"base_max"`

	// NormalAxes are swept as a full cross product, in declared order
	NormalAxes []AxisConfig `json:"normal_axes" yaml:"normal_axes"`

	// SpecialFlags each produce one extra run, in declared order
	SpecialFlags []string `json:"special_flags" yaml:"special_flags"`
}

// AxisConfig is one normal parameter axis: a flag and its candidate values.
type AxisConfig struct {
	Param  string  `json:"param" yaml:"param"`
	Values []int64 `json:"values" yaml:"values"`
}

// DefaultConfig returns the default configuration for local development.
// MinTraceMB stays zero: the threshold must come from the profile.
func DefaultConfig() *Config {
	return &Config{
		DatasetDir:    "./dataset",
		WorkDir:       ".",
		BenchmarkRoot: ".",
		CommonArgs:    "-timing -trace-vis",
		TracePattern:  "akita_sim_*.sqlite3",
		LogFile:       "",
		Build: BuildConfig{
			Command: []string{"go", "build"},
		},
		Search: SearchConfig{
			Growth: 2,
		},
		Run: RunConfig{
			Timeout: 0,
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "",
		},
		Publish: PublishConfig{
			Prefix:    "datasets",
			Overwrite: false,
			Compress:  false,
		},
		Benchmarks: map[string]BenchmarkConfig{},
	}
}

// Resolve resolves relative paths and fills per-benchmark defaults.
func (c *Config) Resolve() {
	if c.DatasetDir == "" {
		c.DatasetDir = "./dataset"
	}
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if c.BenchmarkRoot == "" {
		c.BenchmarkRoot = "."
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DatasetDir, "logs.txt")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DatasetDir, "published")
	}

	for name, b := range c.Benchmarks {
		if b.Dir == "" {
			b.Dir = name
		}
		if b.Exec == "" {
			b.Exec = name
		}
		c.Benchmarks[name] = b
	}
}

// TracesDir returns the directory renamed trace files live in.
func (c *Config) TracesDir() string {
	return filepath.Join(c.DatasetDir, "traces")
}

// RecordsDir returns the directory record and summary files live in.
func (c *Config) RecordsDir() string {
	return filepath.Join(c.DatasetDir, "records")
}

// CatalogPath returns the path to the registry catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DatasetDir, "registry.db")
}

// JournalDir returns the directory run-journal segments live in.
func (c *Config) JournalDir() string {
	return filepath.Join(c.DatasetDir, "journal")
}

// MinTraceBytes returns the size threshold in bytes.
func (c *Config) MinTraceBytes() int64 {
	return int64(c.MinTraceMB * 1024 * 1024)
}

// Benchmark looks up one benchmark's profile entry.
func (c *Config) Benchmark(name string) (BenchmarkConfig, bool) {
	b, ok := c.Benchmarks[name]
	return b, ok
}

// BenchmarkNames returns the profiled benchmark names, sorted.
func (c *Config) BenchmarkNames() []string {
	names := make([]string, 0, len(c.Benchmarks))
	for name := range c.Benchmarks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildDir returns a benchmark's build directory.
func (c *Config) BuildDir(b BenchmarkConfig) string {
	return filepath.Join(c.BenchmarkRoot, b.Dir)
}

// ExecPath returns a benchmark's built executable path.
func (c *Config) ExecPath(b BenchmarkConfig) string {
	return filepath.Join(c.BuildDir(b), b.Exec)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DatasetDir == "" {
		return fmt.Errorf("dataset_dir is required")
	}

	if c.MinTraceMB <= 0 {
		return fmt.Errorf("min_trace_mb is required and must be positive (no default threshold)")
	}

	if c.TracePattern == "" {
		return fmt.Errorf("trace_pattern is required")
	}
	if _, err := filepath.Match(c.TracePattern, "probe"); err != nil {
		return fmt.Errorf("invalid trace_pattern %q: %w", c.TracePattern, err)
	}

	if len(c.Build.Command) == 0 {
		return fmt.Errorf("build.command must not be empty")
	}

	if c.Search.Growth < 2 {
		return fmt.Errorf("search.growth must be at least 2, got %d", c.Search.Growth)
	}

	if c.Run.Timeout < 0 {
		return fmt.Errorf("run.timeout must not be negative")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	for name, b := range c.Benchmarks {
		if err := validateBenchmark(name, b); err != nil {
			return err
		}
	}

	return nil
}

func validateBenchmark(name string, b BenchmarkConfig) error {
	if name == "" {
		return fmt.Errorf("benchmark with empty name")
	}
	if b.BaseParam == "" {
		return fmt.Errorf("benchmark %s: base_param is required", name)
	}
	if b.BaseStart < 1 {
		return fmt.Errorf("benchmark %s: base_start must be at least 1, got %d", name, b.BaseStart)
	}
	if b.BaseMax < b.BaseStart {
		return fmt.Errorf("benchmark %s: base_max (%d) must not be below base_start (%d)", name, b.BaseMax, b.BaseStart)
	}
	for _, axis := range b.NormalAxes {
		if axis.Param == "" {
			return fmt.Errorf("benchmark %s: normal axis with empty param", name)
		}
		if len(axis.Values) == 0 {
			return fmt.Errorf("benchmark %s: normal axis %s has no values", name, axis.Param)
		}
	}
	for _, flag := range b.SpecialFlags {
		if strings.TrimSpace(flag) == "" {
			return fmt.Errorf("benchmark %s: empty special flag", name)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the TRACESMITH_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TRACESMITH_DATASET_DIR"); v != "" {
		cfg.DatasetDir = v
	}
	if v := os.Getenv("TRACESMITH_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv("TRACESMITH_BENCHMARK_ROOT"); v != "" {
		cfg.BenchmarkRoot = v
	}
	if v := os.Getenv("TRACESMITH_COMMON_ARGS"); v != "" {
		cfg.CommonArgs = v
	}
	if v := os.Getenv("TRACESMITH_TRACE_PATTERN"); v != "" {
		cfg.TracePattern = v
	}
	if v := os.Getenv("TRACESMITH_MIN_TRACE_MB"); v != "" {
		fmt.Sscanf(v, "%f", &cfg.MinTraceMB)
	}
	if v := os.Getenv("TRACESMITH_SIMULATOR_COMMIT"); v != "" {
		cfg.SimulatorCommit = v
	}
	if v := os.Getenv("TRACESMITH_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	// Search configuration
	if v := os.Getenv("TRACESMITH_SEARCH_GROWTH"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Search.Growth)
	}

	// Run configuration
	if v := os.Getenv("TRACESMITH_RUN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Run.Timeout = d
		}
	}

	// Storage configuration
	if v := os.Getenv("TRACESMITH_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("TRACESMITH_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("TRACESMITH_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("TRACESMITH_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("TRACESMITH_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}

	// Publish configuration
	if v := os.Getenv("TRACESMITH_PUBLISH_PREFIX"); v != "" {
		cfg.Publish.Prefix = v
	}
	if v := os.Getenv("TRACESMITH_PUBLISH_OVERWRITE"); v != "" {
		cfg.Publish.Overwrite = v == "true" || v == "1"
	}
	if v := os.Getenv("TRACESMITH_PUBLISH_COMPRESS"); v != "" {
		cfg.Publish.Compress = v == "true" || v == "1"
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DatasetDir,
		c.TracesDir(),
		c.RecordsDir(),
		c.JournalDir(),
		c.WorkDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
