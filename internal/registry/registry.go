package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	terrors "github.com/tracesmith/tracesmith/internal/errors"
	"github.com/tracesmith/tracesmith/pkg/traceid"
)

// Options configures a Registry.
type Options struct {
	// CatalogPath is the location of registry.db.
	CatalogPath string
	// TracesDir is where recorded trace files live.
	TracesDir string
	// RecordsDir is where per-trace records and benchmark summaries live.
	RecordsDir string
	// SimulatorCommit pins the simulator revision recorded with each trace.
	SimulatorCommit string
}

// Registry owns the dataset bookkeeping: the SQLite catalog plus the trace
// and record files it points at. Recording a trace moves the artifact into
// the dataset layout, inserts the catalog row, and writes the record
// document, in that order; a crash between steps leaves at worst an orphan
// file that the same identifier overwrites on the next attempt.
type Registry struct {
	catalog    *SQLiteCatalog
	tracesDir  string
	recordsDir string
	sessionID  string
	simCommit  string
}

// RecordInput describes one trace about to enter the dataset.
type RecordInput struct {
	ID         traceid.ID
	Benchmark  string
	Command    string
	SourcePath string // artifact location in the work directory
	SizeBytes  int64
}

// Open opens (creating if needed) the trace registry. Each Open starts a new
// recording session identified by a fresh UUID.
func Open(opts Options) (*Registry, error) {
	catalog, err := NewCatalog(opts.CatalogPath)
	if err != nil {
		return nil, err
	}
	return &Registry{
		catalog:    catalog,
		tracesDir:  opts.TracesDir,
		recordsDir: opts.RecordsDir,
		sessionID:  uuid.New().String(),
		simCommit:  opts.SimulatorCommit,
	}, nil
}

// SessionID returns this registry session's identifier.
func (r *Registry) SessionID() string {
	return r.sessionID
}

// BenchmarkIndex returns the stable index for a benchmark, assigning the
// next free index on first sight.
func (r *Registry) BenchmarkIndex(ctx context.Context, name string) (int, error) {
	idx, err := r.catalog.BenchmarkIndex(ctx, name)
	if err != nil {
		return 0, err
	}
	if idx > traceid.MaxBenchmarkIndex {
		return 0, terrors.NewInternalError(
			fmt.Sprintf("benchmark index space exhausted: %s would get index %d (max %d)",
				name, idx, traceid.MaxBenchmarkIndex), nil)
	}
	return idx, nil
}

// MaxSequence returns the highest recorded sequence for a (benchmark,
// category) pair. ok is false when no trace exists yet.
func (r *Registry) MaxSequence(ctx context.Context, benchmark string, category traceid.Category) (int, bool, error) {
	return r.catalog.MaxSequence(ctx, benchmark, category)
}

// BaseValue returns the base parameter value previously accepted for a
// benchmark. ok is false when no base value is recorded.
func (r *Registry) BaseValue(ctx context.Context, benchmark string) (int64, bool, error) {
	row, err := r.catalog.GetBenchmark(ctx, benchmark)
	if err != nil {
		return 0, false, err
	}
	if row == nil || row.BaseValue == nil {
		return 0, false, nil
	}
	return *row.BaseValue, true, nil
}

// SetBaseValue records the base parameter value the size search accepted.
func (r *Registry) SetBaseValue(ctx context.Context, benchmark string, value int64) error {
	return r.catalog.SetBaseValue(ctx, benchmark, value)
}

// ListTraces returns a benchmark's catalog rows in identifier order.
func (r *Registry) ListTraces(ctx context.Context, benchmark string) ([]*TraceRow, error) {
	return r.catalog.ListTraces(ctx, benchmark)
}

// ListBenchmarks returns all known benchmarks in index order.
func (r *Registry) ListBenchmarks(ctx context.Context) ([]*BenchmarkRow, error) {
	return r.catalog.ListBenchmarks(ctx)
}

// TracePath returns the dataset path a recorded trace file lives at.
func (r *Registry) TracePath(row *TraceRow) string {
	return filepath.Join(r.tracesDir, row.TraceFile)
}

// Record moves an artifact into the dataset and persists its catalog row and
// record document.
//
// Recording is idempotent for exact duplicates: if the identifier already
// exists with the same command line, the artifact replaces the stored trace
// file and the existing row is returned. The same identifier with a
// different command line means sequence counters were corrupted somewhere,
// so that case fails with an identifier conflict, which halts the batch.
func (r *Registry) Record(ctx context.Context, in RecordInput) (*TraceRecord, error) {
	id := in.ID.String()

	existing, err := r.catalog.GetTrace(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if got := Fingerprint(existing.Command); got != existing.Fingerprint {
			return nil, terrors.NewRegistryError(terrors.CodeCatalogCorrupted,
				fmt.Sprintf("trace %s: stored fingerprint %s does not match stored command", id, existing.Fingerprint), nil)
		}
		if existing.Command != in.Command {
			return nil, terrors.NewRegistryError(terrors.CodeIdentifierConflict,
				fmt.Sprintf("trace %s already recorded with a different command line", id), nil).
				WithDetails(map[string]interface{}{
					"existing_command": existing.Command,
					"new_command":      in.Command,
				})
		}
		// Exact duplicate: refresh the trace file and heal a possibly
		// missing record document, keeping the original row.
		if err := moveFile(in.SourcePath, filepath.Join(r.tracesDir, existing.TraceFile)); err != nil {
			return nil, fmt.Errorf("registry: failed to replace trace file for %s: %w", id, err)
		}
		rec := recordFromRow(existing)
		if err := writeJSONFile(filepath.Join(r.recordsDir, in.ID.RecordFile()), rec); err != nil {
			return nil, err
		}
		return rec, nil
	}

	if err := moveFile(in.SourcePath, filepath.Join(r.tracesDir, in.ID.TraceFile())); err != nil {
		return nil, fmt.Errorf("registry: failed to move trace file for %s: %w", id, err)
	}

	row := &TraceRow{
		TraceID:     id,
		Benchmark:   in.Benchmark,
		Category:    in.ID.Category,
		Seq:         in.ID.Sequence,
		Command:     in.Command,
		Fingerprint: Fingerprint(in.Command),
		TraceFile:   in.ID.TraceFile(),
		SizeBytes:   in.SizeBytes,
		SessionID:   r.sessionID,
		SimCommit:   r.simCommit,
		CreatedAt:   time.Now(),
	}
	if err := r.catalog.RegisterTrace(ctx, row); err != nil {
		return nil, err
	}

	rec := recordFromRow(row)
	if err := writeJSONFile(filepath.Join(r.recordsDir, in.ID.RecordFile()), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// WriteSummary derives a benchmark's summary from its catalog rows and
// writes it to the records directory, replacing any previous summary.
func (r *Registry) WriteSummary(ctx context.Context, benchmark string) (*BenchmarkSummary, error) {
	bench, err := r.catalog.GetBenchmark(ctx, benchmark)
	if err != nil {
		return nil, err
	}
	if bench == nil {
		return nil, fmt.Errorf("registry: benchmark %q not in catalog", benchmark)
	}

	rows, err := r.catalog.ListTraces(ctx, benchmark)
	if err != nil {
		return nil, err
	}

	summary := &BenchmarkSummary{
		Benchmark:      bench.Name,
		BenchmarkIndex: bench.Index,
		BaseValue:      bench.BaseValue,
		TraceCount:     len(rows),
		Traces:         make([]SummaryTrace, 0, len(rows)),
	}
	for _, row := range rows {
		summary.Traces = append(summary.Traces, SummaryTrace{
			ID:         row.TraceID,
			Category:   row.Category.String(),
			Command:    row.Command,
			TraceFile:  row.TraceFile,
			RecordFile: row.TraceID + ".json",
			SizeBytes:  row.SizeBytes,
		})
	}

	if err := writeJSONFile(filepath.Join(r.recordsDir, SummaryFile(benchmark)), summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// ReadSummary loads a benchmark's summary document from the records
// directory. Returns nil if no summary has been written.
func (r *Registry) ReadSummary(benchmark string) (*BenchmarkSummary, error) {
	data, err := os.ReadFile(filepath.Join(r.recordsDir, SummaryFile(benchmark)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: failed to read summary for %s: %w", benchmark, err)
	}
	summary := &BenchmarkSummary{}
	if err := json.Unmarshal(data, summary); err != nil {
		return nil, fmt.Errorf("registry: failed to parse summary for %s: %w", benchmark, err)
	}
	return summary, nil
}

// Clean removes a benchmark's traces from the catalog and deletes the files
// they point at, along with the benchmark's summary. The benchmark's index
// assignment is kept so a rebuild reproduces the same identifiers.
func (r *Registry) Clean(ctx context.Context, benchmark string) (int, error) {
	deleted, err := r.catalog.DeleteBenchmarkTraces(ctx, benchmark)
	if err != nil {
		return 0, err
	}

	for _, row := range deleted {
		removeIfPresent(filepath.Join(r.tracesDir, row.TraceFile))
		removeIfPresent(filepath.Join(r.recordsDir, row.TraceID+".json"))
	}
	removeIfPresent(filepath.Join(r.recordsDir, SummaryFile(benchmark)))

	return len(deleted), nil
}

// Close closes the underlying catalog.
func (r *Registry) Close() error {
	return r.catalog.Close()
}

// removeIfPresent deletes a file, tolerating its absence.
func removeIfPresent(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		// Leave the file for the next clean; the catalog row is already gone.
		fmt.Fprintf(os.Stderr, "registry: failed to remove %s: %v\n", path, err)
	}
}

// moveFile renames src to dst, falling back to copy-and-remove when the
// rename crosses filesystems (work and dataset directories may be on
// different mounts).
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
