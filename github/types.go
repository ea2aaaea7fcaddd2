package github

import "context"

// JobStatus is the simplified state of one CI job.
type JobStatus string

const (
	JobSuccess JobStatus = "success"
	JobFailure JobStatus = "failure"
	JobRunning JobStatus = "running"
	JobSkipped JobStatus = "skipped"
	JobPending JobStatus = "pending"
)

// CIStatus is the overall state of a PR's checks.
type CIStatus string

const (
	CISuccess CIStatus = "success"
	CIFailure CIStatus = "failure"
	CIPending CIStatus = "pending"
	CIRunning CIStatus = "running"
)

// PRInfo describes a pull request.
type PRInfo struct {
	ID      int64  `json:"id"`
	Number  int64  `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"` // open, closed or merged
	HTMLURL string `json:"html_url"`
	HeadSHA string `json:"head_sha"`

	Author    string `json:"author,omitempty"`
	Additions int    `json:"additions,omitempty"`
	Deletions int    `json:"deletions,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// CheckRun is one check on the PR head commit.
type CheckRun struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	Conclusion *string `json:"conclusion"`

	JobStatus  JobStatus `json:"job_status,omitempty"`
	JobID      int64     `json:"job_id,omitempty"`
	RunID      int64     `json:"run_id,omitempty"`
	DetailsURL string    `json:"details_url,omitempty"`
	App        string    `json:"app,omitempty"`
}

// PRDetails is a PR with its check runs.
type PRDetails struct {
	Repo      string     `json:"repo"`
	PR        PRInfo     `json:"pr"`
	CheckRuns []CheckRun `json:"check_runs"`
	CIStatus  CIStatus   `json:"ci_status"`
}

// FailedJobs returns the check runs whose job failed.
func (d *PRDetails) FailedJobs() []CheckRun {
	var out []CheckRun
	for _, cr := range d.CheckRuns {
		if cr.JobStatus == JobFailure {
			out = append(out, cr)
		}
	}
	return out
}

// Source provides PR details.
type Source interface {
	FetchPR(ctx context.Context, repo string, number int64) (*PRDetails, error)
}
