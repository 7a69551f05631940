package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spaolacci/murmur3"
)

// TraceRecord is the JSON metadata document written beside each trace file.
// It carries full provenance for one trace: the exact command line, which
// session produced it, and the simulator commit it was generated against.
type TraceRecord struct {
	ID              string `json:"id"`
	Benchmark       string `json:"benchmark"`
	Category        string `json:"category"`
	Sequence        int    `json:"sequence"`
	Command         string `json:"command"`
	Fingerprint     string `json:"fingerprint"`
	TraceFile       string `json:"trace_file"`
	SizeBytes       int64  `json:"size_bytes"`
	SessionID       string `json:"session_id"`
	SimulatorCommit string `json:"simulator_commit,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// SummaryTrace is one trace entry in a benchmark summary.
type SummaryTrace struct {
	ID         string `json:"id"`
	Category   string `json:"category"`
	Command    string `json:"command"`
	TraceFile  string `json:"trace_file"`
	RecordFile string `json:"record_file"`
	SizeBytes  int64  `json:"size_bytes"`
}

// BenchmarkSummary is the JSON document summarizing one benchmark's slice of
// the dataset. It is derived solely from catalog rows and carries no
// timestamps or session identity, so sweeps over the same configuration
// produce byte-identical summaries.
type BenchmarkSummary struct {
	Benchmark      string         `json:"benchmark"`
	BenchmarkIndex int            `json:"benchmark_index"`
	BaseValue      *int64         `json:"base_value,omitempty"`
	TraceCount     int            `json:"trace_count"`
	Traces         []SummaryTrace `json:"traces"`
}

// SummaryFile returns the dataset filename of a benchmark's summary.
func SummaryFile(benchmark string) string {
	return benchmark + ".json"
}

// Fingerprint returns the hex-encoded 64-bit murmur3 hash of a command line.
func Fingerprint(command string) string {
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(command)))
}

// recordFromRow builds the external record document for a catalog row.
func recordFromRow(row *TraceRow) *TraceRecord {
	return &TraceRecord{
		ID:              row.TraceID,
		Benchmark:       row.Benchmark,
		Category:        row.Category.String(),
		Sequence:        row.Seq,
		Command:         row.Command,
		Fingerprint:     row.Fingerprint,
		TraceFile:       row.TraceFile,
		SizeBytes:       row.SizeBytes,
		SessionID:       row.SessionID,
		SimulatorCommit: row.SimCommit,
		CreatedAt:       row.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// writeJSONFile marshals v with two-space indentation and a trailing newline.
func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: failed to marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("registry: failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
