package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ci-medic/analysis"
	"ci-medic/dispatch"
	"ci-medic/github"
	"ci-medic/logger"
	"ci-medic/store"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrGitHubUnavailable is returned by operations that need the GitHub API when no token is configured.
	ErrGitHubUnavailable = errors.New("GitHub token is not configured")
	// ErrInvalidPR wraps malformed repo or PR number arguments.
	ErrInvalidPR = errors.New("invalid pull request")
)

// Analyzer runs the failure analysis pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, jobName, rawLog, apiKey string) (string, error)
	Model() string
}

// Opener hands a rendered CLI command to a terminal.
type Opener interface {
	Open(ctx context.Context, req dispatch.Request) error
}

// Actions are GitHub operations beyond reading PR details.
type Actions interface {
	JobLogs(ctx context.Context, repo string, jobID int64) (string, error)
	FailedWorkflowRunIDs(ctx context.Context, repo string, number int64) ([]int64, error)
	RerunFailedJobs(ctx context.Context, repo string, runID int64) error
}

// Options tunes App behaviour.
type Options struct {
	// APIKey is used when a request carries no key of its own.
	APIKey string
	// ReuseWindow enables returning a stored diagnosis for an identical
	// failure seen within the window. Zero disables reuse.
	ReuseWindow time.Duration
	// FetchConcurrency bounds parallel GitHub fetches (default 4).
	FetchConcurrency int
}

// App is the command set the desktop host invokes. Every call is independent.
type App struct {
	analyzer    Analyzer
	opener      Opener
	source      github.Source
	actions     Actions
	store       store.Store
	log         logger.Logger
	apiKey      string
	reuseWindow time.Duration
	concurrency int
	now         func() time.Time
}

// New creates an App. actions may be nil when no GitHub token is configured.
func New(analyzer Analyzer, opener Opener, source github.Source, actions Actions, st store.Store, log logger.Logger, opts Options) *App {
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 4
	}
	return &App{
		analyzer:    analyzer,
		opener:      opener,
		source:      source,
		actions:     actions,
		store:       st,
		log:         log,
		apiKey:      opts.APIKey,
		reuseWindow: opts.ReuseWindow,
		concurrency: opts.FetchConcurrency,
		now:         time.Now,
	}
}

// AnalyzeRequest identifies the failed job to analyse.
type AnalyzeRequest struct {
	JobName string `json:"job_name"`
	Logs    string `json:"logs"`
	APIKey  string `json:"api_key,omitempty"`

	// Optional PR context, recorded with the analysis. When Logs is empty
	// and JobID is set the log is downloaded from GitHub.
	Repo   string `json:"repo,omitempty"`
	Number int64  `json:"number,omitempty"`
	JobID  int64  `json:"job_id,omitempty"`
}

// AnalyzeResult is a diagnosis plus its history record id.
type AnalyzeResult struct {
	ID         string            `json:"id"`
	Diagnosis  string            `json:"diagnosis"`
	Sections   analysis.Sections `json:"sections"`
	ReusedFrom string            `json:"reused_from,omitempty"`
}

// AnalyzeFailure diagnoses one failed CI job.
func (a *App) AnalyzeFailure(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(a.apiKey)
	}
	if apiKey == "" {
		return nil, analysis.ErrMissingCredential
	}

	log := a.log.WithFields(logger.String("job", req.JobName), logger.String("repo", req.Repo), logger.Int64("pr", req.Number))

	if req.Logs == "" && req.JobID != 0 {
		logs, err := a.JobLogs(ctx, req.Repo, req.JobID)
		if err != nil {
			return nil, fmt.Errorf("download job log: %w", err)
		}
		req.Logs = logs
	}

	fingerprint := analysis.Fingerprint(req.JobName, req.Logs)
	if a.reuseWindow > 0 {
		cached, err := a.store.FindRecentAnalysis(ctx, fingerprint, a.now().Add(-a.reuseWindow))
		if err != nil {
			log.Warn("analysis.reuse_lookup_failed", logger.Err(err))
		} else if cached != nil {
			log.Info("analysis.reused", logger.String("reused_from", cached.ID))
			return a.recordReuse(ctx, req, fingerprint, cached), nil
		}
	}

	start := a.now()
	text, err := a.analyzer.Analyze(ctx, req.JobName, req.Logs, apiKey)
	rec := &store.AnalysisRecord{
		Repo:        req.Repo,
		Number:      req.Number,
		JobName:     req.JobName,
		JobID:       req.JobID,
		Fingerprint: fingerprint,
		Model:       a.analyzer.Model(),
		LogChars:    len([]rune(req.Logs)),
		DurationMs:  a.now().Sub(start).Milliseconds(),
		CreatedAt:   a.now(),
	}
	if err != nil {
		rec.Status = store.StatusFailed
		rec.Error = err.Error()
		a.save(ctx, rec)
		return nil, err
	}

	sections := analysis.ParseSections(text)
	rec.Status = store.StatusCompleted
	rec.Diagnosis = text
	rec.FailureType = sections.FailureType
	rec.RootCause = sections.RootCause
	a.save(ctx, rec)

	return &AnalyzeResult{ID: rec.ID, Diagnosis: text, Sections: sections}, nil
}

func (a *App) recordReuse(ctx context.Context, req AnalyzeRequest, fingerprint string, cached *store.AnalysisRecord) *AnalyzeResult {
	rec := &store.AnalysisRecord{
		Repo:         req.Repo,
		Number:       req.Number,
		JobName:      req.JobName,
		JobID:        req.JobID,
		Fingerprint:  fingerprint,
		Model:        cached.Model,
		Status:       store.StatusCompleted,
		Diagnosis:    cached.Diagnosis,
		FailureType:  cached.FailureType,
		RootCause:    cached.RootCause,
		LogChars:     len([]rune(req.Logs)),
		ReusedFromID: cached.ID,
		CreatedAt:    a.now(),
	}
	a.save(ctx, rec)
	return &AnalyzeResult{
		ID:         rec.ID,
		Diagnosis:  cached.Diagnosis,
		Sections:   analysis.ParseSections(cached.Diagnosis),
		ReusedFrom: cached.ID,
	}
}

// save records history; a storage failure never fails the analysis.
func (a *App) save(ctx context.Context, rec *store.AnalysisRecord) {
	if err := a.store.SaveAnalysis(ctx, rec); err != nil {
		a.log.Error("store.save_analysis_failed", logger.Err(err))
	}
}

// OpenCLI renders the command template and opens it in a terminal.
func (a *App) OpenCLI(ctx context.Context, req dispatch.Request) error {
	if req.PRURL == "" && req.Repo != "" && req.Number > 0 {
		req.PRURL = github.PRURL(req.Repo, req.Number)
	}
	return a.opener.Open(ctx, req)
}

// FetchPRInfo returns a PR with its check runs.
func (a *App) FetchPRInfo(ctx context.Context, repo string, number int64) (*github.PRDetails, error) {
	if err := validatePR(repo, number); err != nil {
		return nil, err
	}
	return a.source.FetchPR(ctx, repo, number)
}

// FetchTrackedPRs fetches every tracked PR, in tracking order.
func (a *App) FetchTrackedPRs(ctx context.Context) ([]*github.PRDetails, error) {
	tracked, err := a.store.ListTrackedPRs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tracked prs: %w", err)
	}

	out := make([]*github.PRDetails, len(tracked))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, pr := range tracked {
		g.Go(func() error {
			d, err := a.source.FetchPR(gctx, pr.Repo, pr.Number)
			if err != nil {
				return fmt.Errorf("%s#%d: %w", pr.Repo, pr.Number, err)
			}
			out[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// AddTrackedPR starts tracking a PR. Tracking one twice is a no-op.
func (a *App) AddTrackedPR(ctx context.Context, repo string, number int64) (*store.TrackedPR, error) {
	repo = strings.TrimSpace(repo)
	if err := validatePR(repo, number); err != nil {
		return nil, err
	}
	pr, err := a.store.AddTrackedPR(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	a.log.Info("tracked.added", logger.String("repo", repo), logger.Int64("pr", number))
	return pr, nil
}

// RemoveTrackedPR stops tracking a PR.
func (a *App) RemoveTrackedPR(ctx context.Context, repo string, number int64) error {
	repo = strings.TrimSpace(repo)
	if err := a.store.RemoveTrackedPR(ctx, repo, number); err != nil {
		return err
	}
	a.log.Info("tracked.removed", logger.String("repo", repo), logger.Int64("pr", number))
	return nil
}

// ListTrackedPRs returns the tracked entries without contacting GitHub.
func (a *App) ListTrackedPRs(ctx context.Context) ([]*store.TrackedPR, error) {
	return a.store.ListTrackedPRs(ctx)
}

// DebugLog records a message from the front end.
func (a *App) DebugLog(message string) {
	a.log.Debug("host.debug", logger.String("message", message))
}

// JobLogs downloads the tail of a job log.
func (a *App) JobLogs(ctx context.Context, repo string, jobID int64) (string, error) {
	if a.actions == nil {
		return "", ErrGitHubUnavailable
	}
	if _, _, err := github.SplitRepo(repo); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPR, err)
	}
	return a.actions.JobLogs(ctx, repo, jobID)
}

// RerunFailedJobs reruns the failed jobs of every failed workflow run on the
// PR head and returns the run ids it triggered.
func (a *App) RerunFailedJobs(ctx context.Context, repo string, number int64) ([]int64, error) {
	if a.actions == nil {
		return nil, ErrGitHubUnavailable
	}
	if err := validatePR(repo, number); err != nil {
		return nil, err
	}
	runIDs, err := a.actions.FailedWorkflowRunIDs(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	var triggered []int64
	for _, id := range runIDs {
		if err := a.actions.RerunFailedJobs(ctx, repo, id); err != nil {
			return triggered, fmt.Errorf("rerun run %d: %w", id, err)
		}
		triggered = append(triggered, id)
	}
	a.log.Info("rerun.triggered", logger.String("repo", repo), logger.Int64("pr", number), logger.Int("runs", len(triggered)))
	return triggered, nil
}

// Analyses lists stored analyses.
func (a *App) Analyses(ctx context.Context, filter store.AnalysisFilter) ([]*store.AnalysisRecord, error) {
	return a.store.ListAnalyses(ctx, filter)
}

// Analysis returns one stored analysis, or nil when absent.
func (a *App) Analysis(ctx context.Context, id string) (*store.AnalysisRecord, error) {
	return a.store.GetAnalysis(ctx, id)
}

func validatePR(repo string, number int64) error {
	if _, _, err := github.SplitRepo(repo); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPR, err)
	}
	if number <= 0 {
		return fmt.Errorf("%w: number must be positive, got %d", ErrInvalidPR, number)
	}
	return nil
}
