package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ci-medic/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{BaseURL: srv.URL, Token: "ghp_test"}, logger.Nop())
}

const prJSON = `{"id":9001,"number":7,"title":"Fix flaky test","state":"open","html_url":"https://github.com/acme/api/pull/7","merged_at":null,"user":{"login":"octo"},"head":{"sha":"deadbeef"},"additions":10,"deletions":2,"updated_at":"2026-03-10T11:00:00Z"}`

func TestClient_FetchPR(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer ghp_test" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-GitHub-Api-Version"); got != "2022-11-28" {
			t.Errorf("api version = %q", got)
		}
		switch r.URL.Path {
		case "/repos/acme/api/pulls/7":
			fmt.Fprint(w, prJSON)
		case "/repos/acme/api/commits/deadbeef/check-runs":
			fmt.Fprint(w, `{"check_runs":[
				{"id":1,"name":"build","status":"completed","conclusion":"success","details_url":"https://github.com/acme/api/actions/runs/100/job/1000","app":{"name":"GitHub Actions"}},
				{"id":2,"name":"test","status":"completed","conclusion":"failure","details_url":"https://github.com/acme/api/actions/runs/100/job/2000","app":{"name":"GitHub Actions"}}
			]}`)
		default:
			http.NotFound(w, r)
		}
	})

	d, err := c.FetchPR(context.Background(), "acme/api", 7)
	if err != nil {
		t.Fatalf("FetchPR: %v", err)
	}
	if d.PR.Title != "Fix flaky test" || d.PR.HeadSHA != "deadbeef" || d.PR.Author != "octo" {
		t.Errorf("unexpected PR: %+v", d.PR)
	}
	if d.PR.State != "open" {
		t.Errorf("state = %s", d.PR.State)
	}
	if len(d.CheckRuns) != 2 {
		t.Fatalf("check runs = %d", len(d.CheckRuns))
	}
	if d.CIStatus != CIFailure {
		t.Errorf("ci status = %s", d.CIStatus)
	}
	failed := d.FailedJobs()
	if len(failed) != 1 || failed[0].JobID != 2000 || failed[0].RunID != 100 {
		t.Errorf("failed jobs = %+v", failed)
	}
}

func TestClient_FetchPR_Merged(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/check-runs") {
			fmt.Fprint(w, `{"check_runs":[]}`)
			return
		}
		fmt.Fprint(w, strings.Replace(prJSON, `"merged_at":null`, `"merged_at":"2026-03-10T11:30:00Z"`, 1))
	})
	d, err := c.FetchPR(context.Background(), "acme/api", 7)
	if err != nil {
		t.Fatalf("FetchPR: %v", err)
	}
	if d.PR.State != "merged" {
		t.Errorf("state = %s, want merged", d.PR.State)
	}
	if d.CIStatus != CIPending {
		t.Errorf("ci status = %s, want pending", d.CIStatus)
	}
}

func TestClient_APIErrorMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found","documentation_url":"https://docs.github.com"}`)
	})
	_, err := c.FetchPR(context.Background(), "acme/api", 7)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != 404 || apiErr.Message != "Not Found" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestClient_JobLogs(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= 400; i++ {
		fmt.Fprintf(&sb, "\x1b[31mline %d\x1b[0m\n", i)
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/api/actions/jobs/55/logs" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, sb.String())
	})

	logs, err := c.JobLogs(context.Background(), "acme/api", 55)
	if err != nil {
		t.Fatalf("JobLogs: %v", err)
	}
	if strings.Contains(logs, "\x1b") {
		t.Error("ANSI escapes should be stripped")
	}
	lines := strings.Split(logs, "\n")
	if len(lines) != JobLogTailLines {
		t.Fatalf("lines = %d, want %d", len(lines), JobLogTailLines)
	}
	// The body ends with a newline, so the last kept line is empty.
	if lines[len(lines)-2] != "line 400" {
		t.Errorf("last line = %q", lines[len(lines)-2])
	}
	if strings.Contains(logs, "line 100\n") {
		t.Error("head lines should be dropped")
	}
}

func TestClient_FailedWorkflowRunIDs_FromCheckRuns(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/acme/api/pulls/7":
			fmt.Fprint(w, prJSON)
		case strings.HasSuffix(r.URL.Path, "/check-runs"):
			fmt.Fprint(w, `{"check_runs":[
				{"id":1,"name":"a","status":"completed","conclusion":"failure","details_url":"https://github.com/acme/api/actions/runs/100/job/1","app":{"name":"GitHub Actions"}},
				{"id":2,"name":"b","status":"completed","conclusion":"timed_out","details_url":"https://github.com/acme/api/actions/runs/100/job/2","app":{"name":"GitHub Actions"}},
				{"id":3,"name":"c","status":"completed","conclusion":"cancelled","details_url":"https://github.com/acme/api/actions/runs/200/job/3","app":{"name":"GitHub Actions"}},
				{"id":4,"name":"d","status":"completed","conclusion":"failure","details_url":"https://ci.example.com/4","app":{"name":"Buildkite"}},
				{"id":5,"name":"e","status":"completed","conclusion":"success","details_url":"https://github.com/acme/api/actions/runs/300/job/5","app":{"name":"GitHub Actions"}}
			]}`)
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			http.NotFound(w, r)
		}
	})
	ids, err := c.FailedWorkflowRunIDs(context.Background(), "acme/api", 7)
	if err != nil {
		t.Fatalf("FailedWorkflowRunIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != 100 || ids[1] != 200 {
		t.Errorf("ids = %v, want [100 200]", ids)
	}
}

func TestClient_FailedWorkflowRunIDs_Fallback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/acme/api/pulls/7":
			fmt.Fprint(w, prJSON)
		case strings.HasSuffix(r.URL.Path, "/check-runs"):
			fmt.Fprint(w, `{"check_runs":[{"id":1,"name":"a","status":"completed","conclusion":"failure","details_url":null}]}`)
		case r.URL.Path == "/repos/acme/api/actions/runs":
			if got := r.URL.Query().Get("head_sha"); got != "deadbeef" {
				t.Errorf("head_sha = %q", got)
			}
			fmt.Fprint(w, `{"workflow_runs":[{"id":11,"conclusion":"failure"},{"id":12,"conclusion":"success"},{"id":13,"conclusion":null}]}`)
		default:
			http.NotFound(w, r)
		}
	})
	ids, err := c.FailedWorkflowRunIDs(context.Background(), "acme/api", 7)
	if err != nil {
		t.Fatalf("FailedWorkflowRunIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != 11 {
		t.Errorf("ids = %v, want [11]", ids)
	}
}

func TestClient_RerunFailedJobs(t *testing.T) {
	var called bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/acme/api/actions/runs/100/rerun-failed-jobs" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		called = true
		w.WriteHeader(http.StatusCreated)
	})
	if err := c.RerunFailedJobs(context.Background(), "acme/api", 100); err != nil {
		t.Fatalf("RerunFailedJobs: %v", err)
	}
	if !called {
		t.Error("rerun endpoint not called")
	}
}

func TestClient_RerunFailedJobs_AlreadyRunning(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"This workflow is already running"}`)
	})
	err := c.RerunFailedJobs(context.Background(), "acme/api", 100)
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
}

func TestStubSource(t *testing.T) {
	d, err := StubSource{}.FetchPR(context.Background(), "a/b", 42)
	if err != nil {
		t.Fatalf("FetchPR: %v", err)
	}
	if d.PR.Title != "PR #42 from a/b" || d.PR.State != "open" || d.PR.HeadSHA != "abc123" {
		t.Errorf("unexpected stub PR: %+v", d.PR)
	}
	if d.PR.HTMLURL != "https://github.com/a/b/pull/42" {
		t.Errorf("html url = %s", d.PR.HTMLURL)
	}
	if d.CheckRuns == nil || len(d.CheckRuns) != 0 {
		t.Errorf("stub should have an empty check run list")
	}
}
