// Package registry provides the trace catalog for tracking dataset contents.
package registry

// Schema contains the SQL schema definitions for the trace catalog (registry.db).
// The catalog is a SQLite database that serves as the source of truth for
// benchmark index assignments and for every trace recorded into the dataset.

// CreateBenchmarksTableSQL creates the benchmarks table.
// Each benchmark receives a stable index the first time it is seen. The index
// survives clean rebuilds so identifiers reproduce across sweeps; only the
// discovered base value is cleared when a benchmark is rebuilt.
const CreateBenchmarksTableSQL = `
CREATE TABLE IF NOT EXISTS benchmarks (
    name TEXT PRIMARY KEY,
    bench_index INTEGER NOT NULL UNIQUE,
    base_value INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`

// CreateTracesTableSQL creates the core traces table.
// One row per recorded trace, keyed by the encoded identifier. The command
// fingerprint is the hex-encoded 64-bit murmur3 hash of the command line and
// lets identifier collisions be told apart from duplicate re-records.
const CreateTracesTableSQL = `
CREATE TABLE IF NOT EXISTS traces (
    trace_id TEXT PRIMARY KEY,
    benchmark TEXT NOT NULL,
    category TEXT NOT NULL,
    seq INTEGER NOT NULL,
    command_line TEXT NOT NULL,
    cmd_fingerprint TEXT NOT NULL,
    trace_file TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    session_id TEXT NOT NULL,
    sim_commit TEXT,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (benchmark) REFERENCES benchmarks(name)
)`

// CreateTracesIndexesSQL creates indexes over the traces table.
var CreateTracesIndexesSQL = []string{
	// Sequence counters are scoped per (benchmark, category); the unique
	// index both enforces that and serves the MAX(seq) seeding query.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_traces_bench_cat_seq ON traces(benchmark, category, seq)`,

	// Index for per-session provenance lookups
	`CREATE INDEX IF NOT EXISTS idx_traces_session ON traces(session_id)`,

	// Index for recency listings
	`CREATE INDEX IF NOT EXISTS idx_traces_created ON traces(created_at)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the trace catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateBenchmarksTableSQL,
		CreateTracesTableSQL,
	}
	statements = append(statements, CreateTracesIndexesSQL...)
	return statements
}
