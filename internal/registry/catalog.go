package registry

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tracesmith/tracesmith/pkg/traceid"
)

// Catalog manages benchmark and trace metadata in registry.db.
type Catalog interface {
	// BenchmarkIndex returns the stable index for a benchmark, assigning
	// the next free index on first sight.
	BenchmarkIndex(ctx context.Context, name string) (int, error)

	// GetBenchmark retrieves one benchmark row, or nil if unknown.
	GetBenchmark(ctx context.Context, name string) (*BenchmarkRow, error)

	// ListBenchmarks returns all known benchmarks in index order.
	ListBenchmarks(ctx context.Context) ([]*BenchmarkRow, error)

	// SetBaseValue records the base parameter value the size search accepted.
	SetBaseValue(ctx context.Context, name string, value int64) error

	// RegisterTrace adds a new trace row to the catalog.
	RegisterTrace(ctx context.Context, row *TraceRow) error

	// GetTrace retrieves a single trace by identifier, or nil if absent.
	GetTrace(ctx context.Context, traceID string) (*TraceRow, error)

	// MaxSequence returns the highest recorded sequence number for a
	// (benchmark, category) pair. ok is false when no trace exists yet.
	MaxSequence(ctx context.Context, benchmark string, category traceid.Category) (seq int, ok bool, err error)

	// ListTraces returns a benchmark's traces in identifier order.
	ListTraces(ctx context.Context, benchmark string) ([]*TraceRow, error)

	// DeleteBenchmarkTraces removes all trace rows for a benchmark and
	// clears its base value, returning the deleted rows so callers can
	// remove the files they point at. The benchmark index is kept.
	DeleteBenchmarkTraces(ctx context.Context, benchmark string) ([]*TraceRow, error)

	// Close closes the catalog database connections.
	Close() error
}

// BenchmarkRow represents a benchmark in the catalog.
type BenchmarkRow struct {
	Name      string
	Index     int
	BaseValue *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TraceRow represents a recorded trace in the catalog.
type TraceRow struct {
	TraceID     string
	Benchmark   string
	Category    traceid.Category
	Seq         int
	Command     string
	Fingerprint string
	TraceFile   string
	SizeBytes   int64
	SessionID   string
	SimCommit   string
	CreatedAt   time.Time
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)

	insertTraceStmt *sql.Stmt
}

// NewCatalog opens (creating if needed) a SQLite-based trace catalog.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("registry: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	// Read connection pool: concurrent readers via read-only mode
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	// Enable read_uncommitted on read connections so the publisher can list
	// traces while a sweep's write transaction is open
	if _, err := readDB.Exec("PRAGMA read_uncommitted = true"); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("registry: failed to set read_uncommitted pragma: %w", err)
	}

	catalog := &SQLiteCatalog{
		db:     db,
		readDB: readDB,
		dbPath: dbPath,
	}

	// Initialize schema (uses write connection)
	if err := catalog.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("registry: failed to initialize schema: %w", err)
	}

	// Prepare cached insert statement on write connection
	insertStmt, err := db.Prepare(`
		INSERT INTO traces (
			trace_id, benchmark, category, seq,
			command_line, cmd_fingerprint, trace_file, size_bytes,
			session_id, sim_commit, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("registry: failed to prepare insert statement: %w", err)
	}
	catalog.insertTraceStmt = insertStmt

	return catalog, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// BenchmarkIndex returns the stable index for a benchmark, assigning the
// next free index on first sight. Assignment is transactional so a crash
// between lookup and insert cannot burn an index.
func (c *SQLiteCatalog) BenchmarkIndex(ctx context.Context, name string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("registry: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var idx int
	err = tx.QueryRowContext(ctx, `SELECT bench_index FROM benchmarks WHERE name = ?`, name).Scan(&idx)
	if err == nil {
		return idx, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("registry: failed to look up benchmark index: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(bench_index), 0) + 1 FROM benchmarks`).Scan(&idx); err != nil {
		return 0, fmt.Errorf("registry: failed to compute next benchmark index: %w", err)
	}

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO benchmarks (name, bench_index, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		name, idx, now, now)
	if err != nil {
		return 0, fmt.Errorf("registry: failed to insert benchmark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("registry: failed to commit benchmark index: %w", err)
	}
	return idx, nil
}

// GetBenchmark retrieves one benchmark row, or nil if unknown.
func (c *SQLiteCatalog) GetBenchmark(ctx context.Context, name string) (*BenchmarkRow, error) {
	query := `
		SELECT name, bench_index, base_value, created_at, updated_at
		FROM benchmarks
		WHERE name = ?`

	row, err := scanBenchmarkRow(c.readDB.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

// ListBenchmarks returns all known benchmarks in index order.
func (c *SQLiteCatalog) ListBenchmarks(ctx context.Context) ([]*BenchmarkRow, error) {
	query := `
		SELECT name, bench_index, base_value, created_at, updated_at
		FROM benchmarks
		ORDER BY bench_index`

	rows, err := c.readDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to query benchmarks: %w", err)
	}
	defer rows.Close()

	var records []*BenchmarkRow
	for rows.Next() {
		record, err := scanBenchmarkRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: error iterating benchmarks: %w", err)
	}
	return records, nil
}

// SetBaseValue records the base parameter value the size search accepted.
func (c *SQLiteCatalog) SetBaseValue(ctx context.Context, name string, value int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		`UPDATE benchmarks SET base_value = ?, updated_at = ? WHERE name = ?`,
		value, time.Now().Unix(), name)
	if err != nil {
		return fmt.Errorf("registry: failed to set base value: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: failed to set base value: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("registry: benchmark %q not in catalog", name)
	}
	return nil
}

// RegisterTrace adds a new trace row to the catalog.
func (c *SQLiteCatalog) RegisterTrace(ctx context.Context, row *TraceRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var simCommit *string
	if row.SimCommit != "" {
		simCommit = &row.SimCommit
	}

	_, err := c.insertTraceStmt.ExecContext(ctx,
		row.TraceID, row.Benchmark, row.Category.String(), row.Seq,
		row.Command, row.Fingerprint, row.TraceFile, row.SizeBytes,
		row.SessionID, simCommit, row.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("registry: failed to insert trace %s: %w", row.TraceID, err)
	}
	return nil
}

// GetTrace retrieves a single trace by identifier, or nil if absent.
func (c *SQLiteCatalog) GetTrace(ctx context.Context, traceID string) (*TraceRow, error) {
	query := `
		SELECT trace_id, benchmark, category, seq,
			command_line, cmd_fingerprint, trace_file, size_bytes,
			session_id, sim_commit, created_at
		FROM traces
		WHERE trace_id = ?`

	row, err := scanTraceRow(c.readDB.QueryRowContext(ctx, query, traceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

// MaxSequence returns the highest recorded sequence number for a
// (benchmark, category) pair.
func (c *SQLiteCatalog) MaxSequence(ctx context.Context, benchmark string, category traceid.Category) (int, bool, error) {
	query := `SELECT MAX(seq) FROM traces WHERE benchmark = ? AND category = ?`

	var max sql.NullInt64
	err := c.readDB.QueryRowContext(ctx, query, benchmark, category.String()).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("registry: failed to query max sequence: %w", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return int(max.Int64), true, nil
}

// ListTraces returns a benchmark's traces in identifier order. Identifiers
// are fixed width, so lexicographic trace_id order is assignment order.
func (c *SQLiteCatalog) ListTraces(ctx context.Context, benchmark string) ([]*TraceRow, error) {
	query := `
		SELECT trace_id, benchmark, category, seq,
			command_line, cmd_fingerprint, trace_file, size_bytes,
			session_id, sim_commit, created_at
		FROM traces
		WHERE benchmark = ?
		ORDER BY trace_id`

	rows, err := c.readDB.QueryContext(ctx, query, benchmark)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to query traces: %w", err)
	}
	defer rows.Close()

	var records []*TraceRow
	for rows.Next() {
		record, err := scanTraceRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: error iterating traces: %w", err)
	}
	return records, nil
}

// DeleteBenchmarkTraces removes all trace rows for a benchmark and clears
// its base value. The benchmark's index assignment is kept so a rebuild
// reproduces the same identifiers.
func (c *SQLiteCatalog) DeleteBenchmarkTraces(ctx context.Context, benchmark string) ([]*TraceRow, error) {
	deleted, err := c.ListTraces(ctx, benchmark)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM traces WHERE benchmark = ?`, benchmark); err != nil {
		return nil, fmt.Errorf("registry: failed to delete traces: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE benchmarks SET base_value = NULL, updated_at = ? WHERE name = ?`,
		time.Now().Unix(), benchmark); err != nil {
		return nil, fmt.Errorf("registry: failed to clear base value: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("registry: failed to commit delete: %w", err)
	}
	return deleted, nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	if c.insertTraceStmt != nil {
		c.insertTraceStmt.Close()
	}
	if c.readDB != nil {
		c.readDB.Close()
	}
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanBenchmarkRow scans a row into a BenchmarkRow.
func scanBenchmarkRow(s rowScanner) (*BenchmarkRow, error) {
	var record BenchmarkRow
	var baseValue sql.NullInt64
	var createdAtUnix, updatedAtUnix int64

	err := s.Scan(&record.Name, &record.Index, &baseValue, &createdAtUnix, &updatedAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("registry: failed to scan benchmark: %w", err)
	}

	if baseValue.Valid {
		v := baseValue.Int64
		record.BaseValue = &v
	}
	record.CreatedAt = time.Unix(createdAtUnix, 0)
	record.UpdatedAt = time.Unix(updatedAtUnix, 0)
	return &record, nil
}

// scanTraceRow scans a row into a TraceRow.
func scanTraceRow(s rowScanner) (*TraceRow, error) {
	var record TraceRow
	var category string
	var simCommit sql.NullString
	var createdAtUnix int64

	err := s.Scan(
		&record.TraceID, &record.Benchmark, &category, &record.Seq,
		&record.Command, &record.Fingerprint, &record.TraceFile, &record.SizeBytes,
		&record.SessionID, &simCommit, &createdAtUnix,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("registry: failed to scan trace: %w", err)
	}

	record.Category, err = traceid.ParseCategory(category)
	if err != nil {
		return nil, fmt.Errorf("registry: trace %s has invalid category %q", record.TraceID, category)
	}
	if simCommit.Valid {
		record.SimCommit = simCommit.String
	}
	record.CreatedAt = time.Unix(createdAtUnix, 0)
	return &record, nil
}
