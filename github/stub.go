package github

import (
	"context"
	"fmt"
)

// StubSource returns synthetic details without touching the network.
// It is used when no GitHub token is configured.
type StubSource struct{}

func (StubSource) FetchPR(_ context.Context, repo string, number int64) (*PRDetails, error) {
	if _, _, err := SplitRepo(repo); err != nil {
		return nil, err
	}
	return &PRDetails{
		Repo: repo,
		PR: PRInfo{
			ID:      number,
			Number:  number,
			Title:   fmt.Sprintf("PR #%d from %s", number, repo),
			State:   "open",
			HTMLURL: PRURL(repo, number),
			HeadSHA: "abc123",
		},
		CheckRuns: []CheckRun{},
		CIStatus:  CIPending,
	}, nil
}
