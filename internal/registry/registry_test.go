package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	terrors "github.com/tracesmith/tracesmith/internal/errors"
	"github.com/tracesmith/tracesmith/pkg/traceid"
)

type testEnv struct {
	reg        *Registry
	workDir    string
	tracesDir  string
	recordsDir string
	dbPath     string
}

func newTestRegistry(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	env := &testEnv{
		workDir:    filepath.Join(root, "work"),
		tracesDir:  filepath.Join(root, "traces"),
		recordsDir: filepath.Join(root, "records"),
		dbPath:     filepath.Join(root, "registry.db"),
	}
	for _, dir := range []string{env.workDir, env.tracesDir, env.recordsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	reg, err := Open(Options{
		CatalogPath:     env.dbPath,
		TracesDir:       env.tracesDir,
		RecordsDir:      env.recordsDir,
		SimulatorCommit: "8ef2478f",
	})
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	env.reg = reg
	return env
}

// reopen closes the current registry and opens a fresh session on the same
// catalog and directories.
func (env *testEnv) reopen(t *testing.T) {
	t.Helper()

	env.reg.Close()
	reg, err := Open(Options{
		CatalogPath:     env.dbPath,
		TracesDir:       env.tracesDir,
		RecordsDir:      env.recordsDir,
		SimulatorCommit: "8ef2478f",
	})
	if err != nil {
		t.Fatalf("failed to reopen registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	env.reg = reg
}

func (env *testEnv) writeArtifact(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(env.workDir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	return path
}

func mustID(t *testing.T, benchmark int, category traceid.Category, seq int) traceid.ID {
	t.Helper()

	id, err := traceid.New(benchmark, category, seq)
	if err != nil {
		t.Fatalf("failed to build id: %v", err)
	}
	return id
}

func TestRegistry_RecordMovesArtifact(t *testing.T) {
	env := newTestRegistry(t)
	ctx := context.Background()

	idx, err := env.reg.BenchmarkIndex(ctx, "fir")
	if err != nil {
		t.Fatalf("failed to assign benchmark index: %v", err)
	}

	src := env.writeArtifact(t, "akita_sim_fir.sqlite3", "trace-bytes")
	id := mustID(t, idx, traceid.CategoryBase, 0)

	rec, err := env.reg.Record(ctx, RecordInput{
		ID:         id,
		Benchmark:  "fir",
		Command:    "fir -timing -length 128",
		SourcePath: src,
		SizeBytes:  11,
	})
	if err != nil {
		t.Fatalf("failed to record trace: %v", err)
	}

	// Artifact moved out of the work directory into the dataset
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("artifact should be gone from the work directory")
	}
	tracePath := filepath.Join(env.tracesDir, "D0100000.sqlite3")
	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("trace file not in dataset: %v", err)
	}
	if string(data) != "trace-bytes" {
		t.Errorf("trace content mismatch: got %q", data)
	}

	// Record document written and consistent
	recPath := filepath.Join(env.recordsDir, "D0100000.json")
	recData, err := os.ReadFile(recPath)
	if err != nil {
		t.Fatalf("record document not written: %v", err)
	}
	var onDisk TraceRecord
	if err := json.Unmarshal(recData, &onDisk); err != nil {
		t.Fatalf("record document not valid JSON: %v", err)
	}
	if onDisk.ID != "D0100000" || onDisk.Command != "fir -timing -length 128" {
		t.Errorf("record document mismatch: %+v", onDisk)
	}
	if onDisk.SimulatorCommit != "8ef2478f" {
		t.Errorf("simulator commit not recorded: %+v", onDisk)
	}
	if onDisk.SessionID != env.reg.SessionID() {
		t.Errorf("session mismatch: got %s, want %s", onDisk.SessionID, env.reg.SessionID())
	}
	if rec.Fingerprint != Fingerprint("fir -timing -length 128") {
		t.Errorf("fingerprint mismatch: %s", rec.Fingerprint)
	}

	// Catalog row present
	rows, err := env.reg.ListTraces(ctx, "fir")
	if err != nil {
		t.Fatalf("failed to list traces: %v", err)
	}
	if len(rows) != 1 || rows[0].TraceID != "D0100000" {
		t.Errorf("catalog rows mismatch: %+v", rows)
	}
}

func TestRegistry_RecordDuplicateIsIdempotent(t *testing.T) {
	env := newTestRegistry(t)
	ctx := context.Background()

	idx, err := env.reg.BenchmarkIndex(ctx, "fir")
	if err != nil {
		t.Fatalf("failed to assign benchmark index: %v", err)
	}
	id := mustID(t, idx, traceid.CategoryNormal, 0)

	src := env.writeArtifact(t, "run1.sqlite3", "first")
	first, err := env.reg.Record(ctx, RecordInput{
		ID: id, Benchmark: "fir", Command: "fir -length 32", SourcePath: src, SizeBytes: 5,
	})
	if err != nil {
		t.Fatalf("failed to record trace: %v", err)
	}

	// Same identifier, same command line: the re-record replaces the trace
	// file and keeps the original row.
	src = env.writeArtifact(t, "run2.sqlite3", "second")
	second, err := env.reg.Record(ctx, RecordInput{
		ID: id, Benchmark: "fir", Command: "fir -length 32", SourcePath: src, SizeBytes: 6,
	})
	if err != nil {
		t.Fatalf("duplicate record should be idempotent: %v", err)
	}
	if second.CreatedAt != first.CreatedAt {
		t.Errorf("duplicate record should keep the original row: %s vs %s", second.CreatedAt, first.CreatedAt)
	}

	data, err := os.ReadFile(filepath.Join(env.tracesDir, id.TraceFile()))
	if err != nil {
		t.Fatalf("trace file missing: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("duplicate record should replace the trace file, got %q", data)
	}

	rows, err := env.reg.ListTraces(ctx, "fir")
	if err != nil {
		t.Fatalf("failed to list traces: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected a single catalog row, got %d", len(rows))
	}
}

func TestRegistry_RecordConflictHaltsBatch(t *testing.T) {
	env := newTestRegistry(t)
	ctx := context.Background()

	idx, err := env.reg.BenchmarkIndex(ctx, "fir")
	if err != nil {
		t.Fatalf("failed to assign benchmark index: %v", err)
	}
	id := mustID(t, idx, traceid.CategoryNormal, 0)

	src := env.writeArtifact(t, "run1.sqlite3", "first")
	if _, err := env.reg.Record(ctx, RecordInput{
		ID: id, Benchmark: "fir", Command: "fir -length 32", SourcePath: src, SizeBytes: 5,
	}); err != nil {
		t.Fatalf("failed to record trace: %v", err)
	}

	src = env.writeArtifact(t, "run2.sqlite3", "second")
	_, err = env.reg.Record(ctx, RecordInput{
		ID: id, Benchmark: "fir", Command: "fir -length 64", SourcePath: src, SizeBytes: 6,
	})
	if err == nil {
		t.Fatal("expected identifier conflict")
	}
	if code := terrors.GetCode(err); code != terrors.CodeIdentifierConflict {
		t.Errorf("code mismatch: got %s, want %s", code, terrors.CodeIdentifierConflict)
	}
	if sev := terrors.SeverityOf(err); sev != terrors.SeverityPipeline {
		t.Errorf("identifier conflicts must halt the batch, got severity %s", sev)
	}

	// The conflicting artifact stays where it was
	if _, statErr := os.Stat(src); statErr != nil {
		t.Errorf("conflicting artifact should not be moved: %v", statErr)
	}
	data, _ := os.ReadFile(filepath.Join(env.tracesDir, id.TraceFile()))
	if string(data) != "first" {
		t.Errorf("recorded trace should be untouched, got %q", data)
	}
}

func TestRegistry_RecordDetectsCorruptedRow(t *testing.T) {
	env := newTestRegistry(t)
	ctx := context.Background()

	idx, err := env.reg.BenchmarkIndex(ctx, "fir")
	if err != nil {
		t.Fatalf("failed to assign benchmark index: %v", err)
	}
	id := mustID(t, idx, traceid.CategoryNormal, 0)

	src := env.writeArtifact(t, "run1.sqlite3", "first")
	if _, err := env.reg.Record(ctx, RecordInput{
		ID: id, Benchmark: "fir", Command: "fir -length 32", SourcePath: src, SizeBytes: 5,
	}); err != nil {
		t.Fatalf("failed to record trace: %v", err)
	}

	// Tamper with the stored fingerprint so it no longer matches the command
	if _, err := env.reg.catalog.db.Exec(
		`UPDATE traces SET cmd_fingerprint = 'deadbeefdeadbeef' WHERE trace_id = ?`, id.String()); err != nil {
		t.Fatalf("failed to tamper with row: %v", err)
	}

	src = env.writeArtifact(t, "run2.sqlite3", "second")
	_, err = env.reg.Record(ctx, RecordInput{
		ID: id, Benchmark: "fir", Command: "fir -length 32", SourcePath: src, SizeBytes: 6,
	})
	if err == nil {
		t.Fatal("expected corruption error")
	}
	if code := terrors.GetCode(err); code != terrors.CodeCatalogCorrupted {
		t.Errorf("code mismatch: got %s, want %s", code, terrors.CodeCatalogCorrupted)
	}
}

func TestRegistry_SummaryDeterministicAcrossSessions(t *testing.T) {
	env := newTestRegistry(t)
	ctx := context.Background()

	idx, err := env.reg.BenchmarkIndex(ctx, "fir")
	if err != nil {
		t.Fatalf("failed to assign benchmark index: %v", err)
	}
	if err := env.reg.SetBaseValue(ctx, "fir", 128); err != nil {
		t.Fatalf("failed to set base value: %v", err)
	}

	inputs := []struct {
		category traceid.Category
		seq      int
		command  string
	}{
		{traceid.CategoryBase, 0, "fir -length 128"},
		{traceid.CategoryNormal, 0, "fir -length 32"},
		{traceid.CategoryNormal, 1, "fir -length 64"},
		{traceid.CategorySpecial, 0, "fir -length 128 -verify"},
	}
	for i, in := range inputs {
		src := env.writeArtifact(t, "run.sqlite3", "data")
		if _, err := env.reg.Record(ctx, RecordInput{
			ID:         mustID(t, idx, in.category, in.seq),
			Benchmark:  "fir",
			Command:    in.command,
			SourcePath: src,
			SizeBytes:  int64(100 + i),
		}); err != nil {
			t.Fatalf("failed to record trace %d: %v", i, err)
		}
	}

	summary, err := env.reg.WriteSummary(ctx, "fir")
	if err != nil {
		t.Fatalf("failed to write summary: %v", err)
	}
	if summary.TraceCount != 4 {
		t.Errorf("trace count mismatch: got %d, want 4", summary.TraceCount)
	}
	if summary.BaseValue == nil || *summary.BaseValue != 128 {
		t.Errorf("base value mismatch: %+v", summary.BaseValue)
	}
	want := []string{"D0100000", "D0110000", "D0110001", "D0120000"}
	for i, id := range want {
		if summary.Traces[i].ID != id {
			t.Errorf("summary position %d: got %s, want %s", i, summary.Traces[i].ID, id)
		}
	}

	summaryPath := filepath.Join(env.recordsDir, "fir.json")
	firstBytes, err := os.ReadFile(summaryPath)
	if err != nil {
		t.Fatalf("failed to read summary: %v", err)
	}

	// A different session over the same catalog rows writes identical bytes
	env.reopen(t)
	if _, err := env.reg.WriteSummary(ctx, "fir"); err != nil {
		t.Fatalf("failed to rewrite summary: %v", err)
	}
	secondBytes, err := os.ReadFile(summaryPath)
	if err != nil {
		t.Fatalf("failed to reread summary: %v", err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Error("summary bytes differ across sessions")
	}

	// ReadSummary round-trips the document
	loaded, err := env.reg.ReadSummary("fir")
	if err != nil {
		t.Fatalf("failed to load summary: %v", err)
	}
	if loaded == nil || loaded.TraceCount != 4 || loaded.Benchmark != "fir" {
		t.Errorf("loaded summary mismatch: %+v", loaded)
	}
}

func TestRegistry_ReadSummaryAbsent(t *testing.T) {
	env := newTestRegistry(t)

	loaded, err := env.reg.ReadSummary("ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil summary, got %+v", loaded)
	}
}

func TestRegistry_CleanRemovesFilesKeepsIndex(t *testing.T) {
	env := newTestRegistry(t)
	ctx := context.Background()

	idx, err := env.reg.BenchmarkIndex(ctx, "fir")
	if err != nil {
		t.Fatalf("failed to assign benchmark index: %v", err)
	}
	if err := env.reg.SetBaseValue(ctx, "fir", 64); err != nil {
		t.Fatalf("failed to set base value: %v", err)
	}

	ids := []traceid.ID{
		mustID(t, idx, traceid.CategoryBase, 0),
		mustID(t, idx, traceid.CategoryNormal, 0),
	}
	for _, id := range ids {
		src := env.writeArtifact(t, "run.sqlite3", "data")
		if _, err := env.reg.Record(ctx, RecordInput{
			ID: id, Benchmark: "fir", Command: "fir " + id.String(), SourcePath: src, SizeBytes: 4,
		}); err != nil {
			t.Fatalf("failed to record %s: %v", id, err)
		}
	}
	if _, err := env.reg.WriteSummary(ctx, "fir"); err != nil {
		t.Fatalf("failed to write summary: %v", err)
	}

	n, err := env.reg.Clean(ctx, "fir")
	if err != nil {
		t.Fatalf("failed to clean benchmark: %v", err)
	}
	if n != 2 {
		t.Errorf("cleaned count mismatch: got %d, want 2", n)
	}

	for _, id := range ids {
		if _, err := os.Stat(filepath.Join(env.tracesDir, id.TraceFile())); !os.IsNotExist(err) {
			t.Errorf("trace file %s should be removed", id.TraceFile())
		}
		if _, err := os.Stat(filepath.Join(env.recordsDir, id.RecordFile())); !os.IsNotExist(err) {
			t.Errorf("record file %s should be removed", id.RecordFile())
		}
	}
	if _, err := os.Stat(filepath.Join(env.recordsDir, "fir.json")); !os.IsNotExist(err) {
		t.Error("summary file should be removed")
	}

	// Index survives so a rebuild reproduces identifiers; base value resets
	again, err := env.reg.BenchmarkIndex(ctx, "fir")
	if err != nil {
		t.Fatalf("failed to look up index: %v", err)
	}
	if again != idx {
		t.Errorf("index changed after clean: got %d, want %d", again, idx)
	}
	if _, ok, _ := env.reg.BaseValue(ctx, "fir"); ok {
		t.Error("base value should be cleared by clean")
	}
}
