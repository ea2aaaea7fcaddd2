package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"ci-medic/logger"
)

const (
	DefaultAPIBase = "https://api.github.com"
	apiVersion     = "2022-11-28"
	// JobLogTailLines is how many trailing lines of a job log JobLogs returns.
	JobLogTailLines = 300
	actionsAppName  = "GitHub Actions"
)

// ErrRunInProgress is returned when a rerun is requested for a workflow run that is still running.
var ErrRunInProgress = errors.New("workflow run is already running, rerun not possible")

// APIError is a non-2xx GitHub response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github: HTTP %d", e.Status)
	}
	return fmt.Sprintf("github: HTTP %d: %s", e.Status, e.Message)
}

// ClientConfig configures the GitHub REST client.
type ClientConfig struct {
	BaseURL string // default DefaultAPIBase
	Token   string
	Timeout time.Duration
}

// Client talks to the GitHub REST API.
type Client struct {
	base  string
	token string
	http  *http.Client
	log   logger.Logger
}

// NewClient creates a GitHub client.
func NewClient(cfg ClientConfig, log logger.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultAPIBase
	}
	return &Client{
		base:  base,
		token: cfg.Token,
		http:  &http.Client{Timeout: cfg.Timeout},
		log:   log,
	}
}

// raw API shapes
type apiPR struct {
	ID       int64   `json:"id"`
	Number   int64   `json:"number"`
	Title    string  `json:"title"`
	State    string  `json:"state"`
	HTMLURL  string  `json:"html_url"`
	MergedAt *string `json:"merged_at"`
	User     struct {
		Login string `json:"login"`
	} `json:"user"`
	Head struct {
		SHA string `json:"sha"`
	} `json:"head"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	UpdatedAt string `json:"updated_at"`
}

type apiCheckRun struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	Conclusion *string `json:"conclusion"`
	DetailsURL *string `json:"details_url"`
	App        *struct {
		Name string `json:"name"`
	} `json:"app"`
}

type apiCheckRuns struct {
	CheckRuns []apiCheckRun `json:"check_runs"`
}

type apiWorkflowRuns struct {
	WorkflowRuns []struct {
		ID         int64   `json:"id"`
		Conclusion *string `json:"conclusion"`
	} `json:"workflow_runs"`
}

// FetchPR loads a PR and the check runs of its head commit.
func (c *Client) FetchPR(ctx context.Context, repo string, number int64) (*PRDetails, error) {
	pr, err := c.pullRequest(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	runs, err := c.checkRuns(ctx, repo, pr.Head.SHA)
	if err != nil {
		return nil, err
	}

	state := pr.State
	if pr.MergedAt != nil {
		state = "merged"
	}
	details := &PRDetails{
		Repo: repo,
		PR: PRInfo{
			ID:        pr.ID,
			Number:    pr.Number,
			Title:     pr.Title,
			State:     state,
			HTMLURL:   pr.HTMLURL,
			HeadSHA:   pr.Head.SHA,
			Author:    pr.User.Login,
			Additions: pr.Additions,
			Deletions: pr.Deletions,
			UpdatedAt: pr.UpdatedAt,
		},
		CheckRuns: make([]CheckRun, 0, len(runs)),
	}
	for _, r := range runs {
		cr := CheckRun{
			ID:         r.ID,
			Name:       r.Name,
			Status:     r.Status,
			Conclusion: r.Conclusion,
			JobStatus:  MapJobStatus(r.Status, r.Conclusion),
		}
		if r.DetailsURL != nil {
			cr.DetailsURL = *r.DetailsURL
			cr.JobID = ExtractJobID(cr.DetailsURL)
			cr.RunID = ExtractRunID(cr.DetailsURL)
		}
		if r.App != nil {
			cr.App = r.App.Name
		}
		details.CheckRuns = append(details.CheckRuns, cr)
	}
	details.CIStatus = DeriveCIStatus(details.CheckRuns)

	c.log.Debug("github.pr_fetched",
		logger.String("repo", repo),
		logger.Int64("pr", number),
		logger.Int("check_runs", len(details.CheckRuns)),
		logger.String("ci_status", string(details.CIStatus)),
	)
	return details, nil
}

var reANSI = regexp.MustCompile(`\x1b\[[0-9;]*[mGKHFABCDJn]`)

// JobLogs downloads an Actions job log, strips ANSI escapes and keeps the last JobLogTailLines lines.
func (c *Client) JobLogs(ctx context.Context, repo string, jobID int64) (string, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return "", err
	}
	path := fmt.Sprintf("/repos/%s/%s/actions/jobs/%d/logs", owner, name, jobID)
	resp, err := c.do(ctx, http.MethodGet, path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read job log: %w", err)
	}
	lines := strings.Split(reANSI.ReplaceAllString(string(raw), ""), "\n")
	if len(lines) > JobLogTailLines {
		lines = lines[len(lines)-JobLogTailLines:]
	}
	c.log.Debug("github.job_logs", logger.String("repo", repo), logger.Int64("job_id", jobID), logger.Int("bytes", len(raw)))
	return strings.Join(lines, "\n"), nil
}

// FailedWorkflowRunIDs lists the workflow runs with failed jobs on the PR head.
// Failed check runs from GitHub Actions are preferred; when none carry a run
// id, workflow runs are listed by head SHA instead.
func (c *Client) FailedWorkflowRunIDs(ctx context.Context, repo string, number int64) ([]int64, error) {
	pr, err := c.pullRequest(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	if pr.Head.SHA == "" {
		return nil, nil
	}

	runs, err := c.checkRuns(ctx, repo, pr.Head.SHA)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool)
	var ids []int64
	add := func(id int64) {
		if id != 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, r := range runs {
		if r.App == nil || r.App.Name != actionsAppName || r.DetailsURL == nil || *r.DetailsURL == "" {
			continue
		}
		if r.Conclusion == nil || !IsFailedConclusion(*r.Conclusion) {
			continue
		}
		add(ExtractRunID(*r.DetailsURL))
	}
	if len(ids) > 0 {
		return ids, nil
	}

	owner, name, _ := SplitRepo(repo)
	var wr apiWorkflowRuns
	path := fmt.Sprintf("/repos/%s/%s/actions/runs?head_sha=%s&per_page=50", owner, name, url.QueryEscape(pr.Head.SHA))
	if err := c.getJSON(ctx, path, &wr); err != nil {
		return nil, err
	}
	for _, r := range wr.WorkflowRuns {
		if r.Conclusion != nil && IsFailedConclusion(*r.Conclusion) {
			add(r.ID)
		}
	}
	return ids, nil
}

// RerunFailedJobs asks GitHub to rerun the failed jobs of a workflow run.
func (c *Client) RerunFailedJobs(ctx context.Context, repo string, runID int64) error {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%d/rerun-failed-jobs", owner, name, runID)
	resp, err := c.do(ctx, http.MethodPost, path)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden && strings.Contains(apiErr.Message, "already running") {
			return ErrRunInProgress
		}
		return err
	}
	resp.Body.Close()
	c.log.Info("github.rerun_requested", logger.String("repo", repo), logger.Int64("run_id", runID))
	return nil
}

func (c *Client) pullRequest(ctx context.Context, repo string, number int64) (*apiPR, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return nil, err
	}
	var pr apiPR
	if err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, name, number), &pr); err != nil {
		return nil, fmt.Errorf("fetch PR %s#%d: %w", repo, number, err)
	}
	return &pr, nil
}

func (c *Client) checkRuns(ctx context.Context, repo, sha string) ([]apiCheckRun, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return nil, err
	}
	var out apiCheckRuns
	path := fmt.Sprintf("/repos/%s/%s/commits/%s/check-runs?per_page=100", owner, name, url.PathEscape(sha))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("fetch check runs for %s@%s: %w", repo, sha, err)
	}
	return out.CheckRuns, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do issues a request and returns the response on 2xx. Any other status is
// turned into an *APIError carrying GitHub's message when it sent one.
func (c *Client) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github request: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
		apiErr.Message = msg.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	c.log.Warn("github.api_error",
		logger.String("method", method),
		logger.String("path", path),
		logger.Int("status", resp.StatusCode),
	)
	return nil, apiErr
}
