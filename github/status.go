package github

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MapJobStatus folds a check run's status and conclusion into a JobStatus.
func MapJobStatus(status string, conclusion *string) JobStatus {
	if status == "queued" || status == "in_progress" {
		return JobRunning
	}
	if conclusion == nil {
		return JobSkipped
	}
	switch *conclusion {
	case "success", "neutral":
		return JobSuccess
	case "failure", "timed_out":
		return JobFailure
	default:
		return JobSkipped
	}
}

// DeriveCIStatus summarises job states: no jobs is pending, any running job
// wins over any failure, otherwise success.
func DeriveCIStatus(runs []CheckRun) CIStatus {
	if len(runs) == 0 {
		return CIPending
	}
	failed := false
	for _, r := range runs {
		switch r.JobStatus {
		case JobRunning:
			return CIRunning
		case JobFailure:
			failed = true
		}
	}
	if failed {
		return CIFailure
	}
	return CISuccess
}

// IsFailedConclusion reports whether a run conclusion counts as failed for rerun purposes.
func IsFailedConclusion(conclusion string) bool {
	switch conclusion {
	case "failure", "timed_out", "cancelled", "action_required":
		return true
	}
	return false
}

var (
	reJobID = regexp.MustCompile(`/job/(\d+)`)
	reRunID = regexp.MustCompile(`/actions/runs/(\d+)(?:/job/\d+)?(?:[/?]|$)`)
)

// ExtractJobID returns the Actions job id in a check run details URL, or 0.
func ExtractJobID(detailsURL string) int64 {
	return firstID(reJobID, detailsURL)
}

// ExtractRunID returns the workflow run id in a check run details URL, or 0.
func ExtractRunID(detailsURL string) int64 {
	return firstID(reRunID, detailsURL)
}

func firstID(re *regexp.Regexp, s string) int64 {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// FormatTimeAgo renders the age of t relative to now, e.g. "5m ago".
func FormatTimeAgo(t, now time.Time) string {
	s := int64(now.Sub(t) / time.Second)
	if s < 60 {
		return fmt.Sprintf("%ds ago", s)
	}
	m := s / 60
	if m < 60 {
		return fmt.Sprintf("%dm ago", m)
	}
	h := m / 60
	if h < 24 {
		return fmt.Sprintf("%dh ago", h)
	}
	return fmt.Sprintf("%dd ago", h/24)
}

// SplitRepo splits "owner/name".
func SplitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(repo), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repo %q: want owner/name", repo)
	}
	return owner, name, nil
}

// PRURL is the web URL of a pull request.
func PRURL(repo string, number int64) string {
	return fmt.Sprintf("https://github.com/%s/pull/%d", repo, number)
}
