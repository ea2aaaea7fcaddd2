package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ci-medic/logger"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MySQLConfig holds connection settings for the MySQL store.
type MySQLConfig struct {
	DSN             string        `json:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// MySQLStore implements Store using MySQL.
type MySQLStore struct {
	db  *sql.DB
	log logger.Logger
}

// NewMySQLStore opens a MySQL database and initializes the schema.
func NewMySQLStore(cfg MySQLConfig, log logger.Logger) (*MySQLStore, error) {
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Info("store.mysql.opened")
	return s, nil
}

// normalizeDSN forces parseTime and UTC so DATETIME columns scan into time.Time.
func normalizeDSN(dsn string) (string, error) {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN(), nil
}

func (s *MySQLStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tracked_prs (
    id VARCHAR(64) PRIMARY KEY,
    repo VARCHAR(255) NOT NULL,
    number BIGINT NOT NULL,
    added_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    seq BIGINT NOT NULL AUTO_INCREMENT UNIQUE,
    UNIQUE KEY uk_tracked_pr (repo, number)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE INDEX idx_tracked_added_at ON tracked_prs(added_at)`,

		`CREATE TABLE IF NOT EXISTS analyses (
    id VARCHAR(64) PRIMARY KEY,
    repo VARCHAR(255) NOT NULL DEFAULT '',
    number BIGINT NOT NULL DEFAULT 0,
    job_name VARCHAR(512) NOT NULL DEFAULT '',
    job_id BIGINT NOT NULL DEFAULT 0,
    fingerprint VARCHAR(64) NOT NULL DEFAULT '',
    model VARCHAR(128) NOT NULL DEFAULT '',
    status VARCHAR(32) NOT NULL DEFAULT 'completed',
    diagnosis LONGTEXT NOT NULL,
    failure_type VARCHAR(64) NOT NULL DEFAULT '',
    root_cause TEXT NOT NULL,
    error TEXT NOT NULL,
    log_chars INT NOT NULL DEFAULT 0,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    reused_from_id VARCHAR(64) NOT NULL DEFAULT '',
    created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    seq BIGINT NOT NULL AUTO_INCREMENT UNIQUE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE INDEX idx_analyses_pr ON analyses(repo, number)`,
		`CREATE INDEX idx_analyses_created_at ON analyses(created_at)`,
		`CREATE INDEX idx_analyses_fingerprint ON analyses(fingerprint, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			if isDuplicateKeyError(err) {
				continue
			}
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

// MySQL error numbers for re-running idempotent DDL.
const (
	erDupFieldName = 1060
	erDupKeyName   = 1061
)

func isDuplicateKeyError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == erDupKeyName || myErr.Number == erDupFieldName
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate key name") ||
		strings.Contains(msg, "Duplicate column name") ||
		strings.Contains(msg, "already exists")
}

// ---------- Tracked PRs ----------

func (s *MySQLStore) AddTrackedPR(ctx context.Context, repo string, number int64) (*TrackedPR, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT IGNORE INTO tracked_prs (id, repo, number, added_at) VALUES (?, ?, ?, ?)`,
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

func (s *MySQLStore) RemoveTrackedPR(ctx context.Context, repo string, number int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tracked_prs WHERE repo = ? AND number = ?`, repo, number)
	if err != nil {
		return fmt.Errorf("delete tracked pr: %w", err)
	}
	return nil
}

func (s *MySQLStore) ListTrackedPRs(ctx context.Context) ([]*TrackedPR, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repo, number, added_at FROM tracked_prs ORDER BY added_at ASC, seq ASC`)
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

func (s *MySQLStore) SaveAnalysis(ctx context.Context, rec *AnalysisRecord) error {
	prepareAnalysis(rec)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (`+analysisColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
		   status=VALUES(status), diagnosis=VALUES(diagnosis), failure_type=VALUES(failure_type),
		   root_cause=VALUES(root_cause), error=VALUES(error), duration_ms=VALUES(duration_ms)`,
		analysisArgs(rec)...,
	)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetAnalysis(ctx context.Context, id string) (*AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
	rec, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *MySQLStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]*AnalysisRecord, error) {
	where, args := analysisWhere(filter)
	query := `SELECT ` + analysisColumns + ` FROM analyses` + where +
		` ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?`
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

func (s *MySQLStore) FindRecentAnalysis(ctx context.Context, fingerprint string, since time.Time) (*AnalysisRecord, error) {
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

func (s *MySQLStore) Close() error {
	s.log.Info("store.mysql.closing")
	return s.db.Close()
}
