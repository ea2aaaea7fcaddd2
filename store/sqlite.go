package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ci-medic/logger"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite via modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	log logger.Logger
}

// NewSQLiteStore opens a SQLite database and initializes the schema.
func NewSQLiteStore(dbPath string, log logger.Logger) (*SQLiteStore, error) {
	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Info("store.sqlite.opened", logger.String("path", dbPath))
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS tracked_prs (
    id TEXT PRIMARY KEY,
    repo TEXT NOT NULL,
    number INTEGER NOT NULL,
    added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (repo, number)
);
CREATE INDEX IF NOT EXISTS idx_tracked_added_at ON tracked_prs(added_at);

CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    repo TEXT NOT NULL DEFAULT '',
    number INTEGER NOT NULL DEFAULT 0,
    job_name TEXT NOT NULL DEFAULT '',
    job_id INTEGER NOT NULL DEFAULT 0,
    fingerprint TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'completed',
    diagnosis TEXT NOT NULL DEFAULT '',
    failure_type TEXT NOT NULL DEFAULT '',
    root_cause TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    log_chars INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    reused_from_id TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_analyses_pr ON analyses(repo, number);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
CREATE INDEX IF NOT EXISTS idx_analyses_fingerprint ON analyses(fingerprint, created_at);
`
	_, err := s.db.Exec(schema)
	return err
}

// ---------- Tracked PRs ----------

func (s *SQLiteStore) AddTrackedPR(ctx context.Context, repo string, number int64) (*TrackedPR, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tracked_prs (id, repo, number, added_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(repo, number) DO NOTHING`,
		uuid.NewString(), repo, number, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert tracked pr: %w", err)
	}

	var pr TrackedPR
	err = s.db.QueryRowContext(ctx,
		`SELECT id, repo, number, added_at FROM tracked_prs WHERE repo = ? AND number = ?`, repo, number,
	).Scan(&pr.ID, &pr.Repo, &pr.Number, &pr.AddedAt)
	if err != nil {
		return nil, fmt.Errorf("read tracked pr: %w", err)
	}
	return &pr, nil
}

func (s *SQLiteStore) RemoveTrackedPR(ctx context.Context, repo string, number int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tracked_prs WHERE repo = ? AND number = ?`, repo, number)
	if err != nil {
		return fmt.Errorf("delete tracked pr: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTrackedPRs(ctx context.Context) ([]*TrackedPR, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repo, number, added_at FROM tracked_prs ORDER BY added_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tracked prs: %w", err)
	}
	defer rows.Close()

	var prs []*TrackedPR
	for rows.Next() {
		var pr TrackedPR
		if err := rows.Scan(&pr.ID, &pr.Repo, &pr.Number, &pr.AddedAt); err != nil {
			return nil, fmt.Errorf("scan tracked pr: %w", err)
		}
		prs = append(prs, &pr)
	}
	return prs, rows.Err()
}

// ---------- Analyses ----------

const analysisColumns = `id, repo, number, job_name, job_id, fingerprint, model, status, diagnosis, failure_type, root_cause, error, log_chars, duration_ms, reused_from_id, created_at`

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, rec *AnalysisRecord) error {
	prepareAnalysis(rec)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (`+analysisColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, diagnosis=excluded.diagnosis, failure_type=excluded.failure_type,
		   root_cause=excluded.root_cause, error=excluded.error, duration_ms=excluded.duration_ms`,
		analysisArgs(rec)...,
	)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
	rec, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]*AnalysisRecord, error) {
	where, args := analysisWhere(filter)
	query := `SELECT ` + analysisColumns + ` FROM analyses` + where +
		` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, normalizeLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var recs []*AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) FindRecentAnalysis(ctx context.Context, fingerprint string, since time.Time) (*AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses
		 WHERE fingerprint = ? AND status = ? AND created_at >= ? AND reused_from_id = ''
		 ORDER BY created_at DESC LIMIT 1`,
		fingerprint, string(StatusCompleted), since.UTC())
	rec, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) Close() error {
	s.log.Info("store.sqlite.closing")
	return s.db.Close()
}

// ---------- helpers shared by the SQL backends ----------

type scannable interface {
	Scan(dest ...any) error
}

// prepareAnalysis fills id, status and creation time when unset.
func prepareAnalysis(rec *AnalysisRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusCompleted
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
}

func analysisArgs(rec *AnalysisRecord) []any {
	return []any{
		rec.ID, rec.Repo, rec.Number, rec.JobName, rec.JobID, rec.Fingerprint, rec.Model,
		string(rec.Status), rec.Diagnosis, rec.FailureType, rec.RootCause, rec.Error,
		rec.LogChars, rec.DurationMs, rec.ReusedFromID, rec.CreatedAt,
	}
}

func scanAnalysis(row scannable) (*AnalysisRecord, error) {
	var rec AnalysisRecord
	var status string
	err := row.Scan(
		&rec.ID, &rec.Repo, &rec.Number, &rec.JobName, &rec.JobID, &rec.Fingerprint, &rec.Model,
		&status, &rec.Diagnosis, &rec.FailureType, &rec.RootCause, &rec.Error,
		&rec.LogChars, &rec.DurationMs, &rec.ReusedFromID, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = AnalysisStatus(status)
	return &rec, nil
}

func analysisWhere(filter AnalysisFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Repo != "" {
		conds = append(conds, "repo = ?")
		args = append(args, filter.Repo)
	}
	if filter.Number != 0 {
		conds = append(conds, "number = ?")
		args = append(args, filter.Number)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
