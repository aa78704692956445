package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/proxyprobe/internal/model"
)

// FileName is the SQLite database file created inside the data directory.
const FileName = "proxyprobe.db"

// ErrRunNotFound is returned when a run ID does not exist or the history is empty.
var ErrRunNotFound = errors.New("run not found")

// RunDB provides SQLite-based storage for run summaries.
type RunDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures RunDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	// The history command opens with false so a typo in --db-dir does not
	// silently create an empty database.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a RunDB in dbDir.
func Open(dbDir string, opts Options) (*RunDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?mode=rwc"
	} else if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s: %w", dbPath, err)
		}
		return nil, fmt.Errorf("failed to check database path: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	rdb := &RunDB{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := rdb.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return rdb, nil
}

// Path returns the database file path.
func (r *RunDB) Path() string {
	return r.dbPath
}

// Close closes the database connection.
func (r *RunDB) Close() error {
	return r.db.Close()
}

func (r *RunDB) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		total INTEGER NOT NULL,
		tested INTEGER NOT NULL,
		working INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		success_rate REAL NOT NULL,
		cancelled INTEGER NOT NULL DEFAULT 0,
		target_url TEXT,
		scheme TEXT,
		input_digest TEXT,
		reasons TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_digest ON runs(input_digest);

	-- Working proxies keep the order in which they were confirmed.
	CREATE TABLE IF NOT EXISTS working_proxies (
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		candidate TEXT NOT NULL,
		PRIMARY KEY (run_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_working_candidate ON working_proxies(candidate);
	`

	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// RunInfo describes how a run was performed. It is stored next to the summary
// so that runs against different targets are not compared by mistake.
type RunInfo struct {
	TargetURL   string
	Scheme      string
	InputDigest string
}

// RunRecord is a stored run without its working list.
type RunRecord struct {
	ID          int64
	StartedAt   time.Time
	FinishedAt  time.Time
	Total       int
	Tested      int
	Working     int
	Failed      int
	SuccessRate float64
	Cancelled   bool
	TargetURL   string
	Scheme      string
	InputDigest string
	Reasons     map[string]int
}

// SaveRun stores a summary and its working proxies in one transaction and
// returns the new run ID.
func (r *RunDB) SaveRun(ctx context.Context, summary *model.RunSummary, info RunInfo) (id int64, err error) {
	reasonsJSON, err := json.Marshal(summary.Reasons)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize reasons: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
	INSERT INTO runs (started_at, finished_at, total, tested, working, failed,
		success_rate, cancelled, target_url, scheme, input_digest, reasons)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTimestamp(summary.StartedAt),
		formatTimestamp(summary.FinishedAt),
		summary.Total,
		summary.Tested,
		summary.Working,
		summary.Failed,
		summary.SuccessRate,
		summary.Cancelled,
		info.TargetURL,
		info.Scheme,
		info.InputDigest,
		string(reasonsJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save run: %w", err)
	}

	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO working_proxies (run_id, position, candidate) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range summary.WorkingProxies {
		if _, err = stmt.ExecContext(ctx, id, i, c.String()); err != nil {
			return 0, fmt.Errorf("failed to save working proxy %s: %w", c, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run: %w", err)
	}
	return id, nil
}

const runColumns = `id, started_at, finished_at, total, tested, working, failed,
	success_rate, cancelled, target_url, scheme, input_digest, reasons`

// ListRuns returns stored runs, newest first. A limit of 0 or less returns all runs.
func (r *RunDB) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	return r.listRuns(ctx, "", nil, limit)
}

// ListRunsByInput returns the runs whose candidate list has the given
// InputDigest, newest first. A limit of 0 or less returns all of them.
func (r *RunDB) ListRunsByInput(ctx context.Context, digest string, limit int) ([]RunRecord, error) {
	return r.listRuns(ctx, `WHERE input_digest = ?`, []any{digest}, limit)
}

func (r *RunDB) listRuns(ctx context.Context, where string, args []any, limit int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ` + where + ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *rec)
	}
	return runs, rows.Err()
}

// GetRun returns the run with the given ID, or ErrRunNotFound.
func (r *RunDB) GetRun(ctx context.Context, id int64) (*RunRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrRunNotFound)
	}
	return rec, err
}

// LatestRunID returns the ID of the most recent run, or ErrRunNotFound when
// the history is empty.
func (r *RunDB) LatestRunID(ctx context.Context) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrRunNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get latest run: %w", err)
	}
	return id, nil
}

// WorkingProxies returns the working proxies of a run in confirmation order.
func (r *RunDB) WorkingProxies(ctx context.Context, id int64) ([]model.Candidate, error) {
	if _, err := r.GetRun(ctx, id); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT candidate FROM working_proxies WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get working proxies: %w", err)
	}
	defer rows.Close()

	proxies := []model.Candidate{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan working proxy: %w", err)
		}
		proxies = append(proxies, model.Candidate(s))
	}
	return proxies, rows.Err()
}

// RunDiff lists how the working set changed from one run to another.
type RunDiff struct {
	From, To int64

	// Gained are working in To but not in From.
	Gained []model.Candidate

	// Lost are working in From but not in To.
	Lost []model.Candidate

	// Kept are working in both runs.
	Kept []model.Candidate

	// SameInput is true when both runs probed the same candidate list.
	// Otherwise a lost proxy may simply not have been tested again.
	SameInput bool
}

// Diff compares the working proxies of two runs. Results keep the
// confirmation order of the run they come from.
func (r *RunDB) Diff(ctx context.Context, from, to int64) (*RunDiff, error) {
	fromRun, err := r.GetRun(ctx, from)
	if err != nil {
		return nil, err
	}
	toRun, err := r.GetRun(ctx, to)
	if err != nil {
		return nil, err
	}

	before, err := r.WorkingProxies(ctx, from)
	if err != nil {
		return nil, err
	}
	after, err := r.WorkingProxies(ctx, to)
	if err != nil {
		return nil, err
	}

	inBefore := make(map[model.Candidate]bool, len(before))
	for _, c := range before {
		inBefore[c] = true
	}
	inAfter := make(map[model.Candidate]bool, len(after))
	for _, c := range after {
		inAfter[c] = true
	}

	diff := &RunDiff{
		From:      from,
		To:        to,
		SameInput: fromRun.InputDigest == toRun.InputDigest,
	}
	for _, c := range model.Unique(after) {
		if inBefore[c] {
			diff.Kept = append(diff.Kept, c)
		} else {
			diff.Gained = append(diff.Gained, c)
		}
	}
	for _, c := range model.Unique(before) {
		if !inAfter[c] {
			diff.Lost = append(diff.Lost, c)
		}
	}
	return diff, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		rec                 RunRecord
		started, finished   string
		target, scheme      sql.NullString
		digest, reasonsJSON sql.NullString
	)

	err := row.Scan(&rec.ID, &started, &finished, &rec.Total, &rec.Tested,
		&rec.Working, &rec.Failed, &rec.SuccessRate, &rec.Cancelled,
		&target, &scheme, &digest, &reasonsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	rec.StartedAt = parseTimestamp(started)
	rec.FinishedAt = parseTimestamp(finished)
	rec.TargetURL = target.String
	rec.Scheme = scheme.String
	rec.InputDigest = digest.String

	rec.Reasons = make(map[string]int)
	if reasonsJSON.Valid && reasonsJSON.String != "" && reasonsJSON.String != "null" {
		if err := json.Unmarshal([]byte(reasonsJSON.String), &rec.Reasons); err != nil {
			rec.Reasons = make(map[string]int)
		}
	}
	return &rec, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTimestamp parses a stored timestamp, returning zero time when no
// format matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
