package store

import (
	"context"
	"fmt"
	"time"
)

// AnalysisStatus is the outcome of one failure analysis.
type AnalysisStatus string

const (
	StatusCompleted AnalysisStatus = "completed"
	StatusFailed    AnalysisStatus = "failed"
)

// TrackedPR is a pull request the user watches.
type TrackedPR struct {
	ID      string    `json:"id"`
	Repo    string    `json:"repo"`
	Number  int64     `json:"number"`
	AddedAt time.Time `json:"added_at"`
}

// Key identifies a tracked PR independent of its id.
func (p *TrackedPR) Key() string { return prKey(p.Repo, p.Number) }

// AnalysisRecord is one diagnosis of a failed CI job.
type AnalysisRecord struct {
	ID           string         `json:"id"`
	Repo         string         `json:"repo"`
	Number       int64          `json:"number"`
	JobName      string         `json:"job_name"`
	JobID        int64          `json:"job_id"`
	Fingerprint  string         `json:"fingerprint"`
	Model        string         `json:"model"`
	Status       AnalysisStatus `json:"status"`
	Diagnosis    string         `json:"diagnosis"`
	FailureType  string         `json:"failure_type"`
	RootCause    string         `json:"root_cause"`
	Error        string         `json:"error"`
	LogChars     int            `json:"log_chars"`
	DurationMs   int64          `json:"duration_ms"`
	ReusedFromID string         `json:"reused_from_id"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AnalysisFilter specifies criteria for listing analyses.
// Results are newest first.
type AnalysisFilter struct {
	Repo   string         `json:"repo"`
	Number int64          `json:"number"`
	Status AnalysisStatus `json:"status"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// Store persists tracked PRs and analysis history.
// Lookups that find nothing return nil, nil.
type Store interface {
	// AddTrackedPR tracks repo#number. Adding an already tracked PR returns the existing entry.
	AddTrackedPR(ctx context.Context, repo string, number int64) (*TrackedPR, error)
	// RemoveTrackedPR stops tracking repo#number. Removing an untracked PR is not an error.
	RemoveTrackedPR(ctx context.Context, repo string, number int64) error
	// ListTrackedPRs returns tracked PRs oldest first.
	ListTrackedPRs(ctx context.Context) ([]*TrackedPR, error)

	SaveAnalysis(ctx context.Context, rec *AnalysisRecord) error
	GetAnalysis(ctx context.Context, id string) (*AnalysisRecord, error)
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]*AnalysisRecord, error)
	// FindRecentAnalysis returns the newest completed analysis with the given
	// fingerprint created at or after since.
	FindRecentAnalysis(ctx context.Context, fingerprint string, since time.Time) (*AnalysisRecord, error)

	Close() error
}

const defaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func prKey(repo string, number int64) string {
	return fmt.Sprintf("%s#%d", repo, number)
}
