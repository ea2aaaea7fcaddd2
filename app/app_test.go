package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ci-medic/analysis"
	"ci-medic/dispatch"
	"ci-medic/github"
	"ci-medic/logger"
	"ci-medic/store"
)

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	keys  []string
	text  string
	err   error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, jobName, rawLog, apiKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.keys = append(f.keys, apiKey)
	return f.text, f.err
}

func (f *fakeAnalyzer) Model() string { return "fake-model" }

type fakeOpener struct {
	reqs []dispatch.Request
	err  error
}

func (f *fakeOpener) Open(_ context.Context, req dispatch.Request) error {
	f.reqs = append(f.reqs, req)
	return f.err
}

type fakeActions struct {
	logs     string
	runIDs   []int64
	reruns   []int64
	rerunErr error
}

func (f *fakeActions) JobLogs(context.Context, string, int64) (string, error) { return f.logs, nil }
func (f *fakeActions) FailedWorkflowRunIDs(context.Context, string, int64) ([]int64, error) {
	return f.runIDs, nil
}
func (f *fakeActions) RerunFailedJobs(_ context.Context, _ string, runID int64) error {
	if f.rerunErr != nil {
		return f.rerunErr
	}
	f.reruns = append(f.reruns, runID)
	return nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewJSONStore(filepath.Join(t.TempDir(), "store.json"), time.Hour, logger.Nop())
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

const sampleDiagnosis = "【失败类型】\n测试失败\n【根本原因】\nTestX 断言失败\n【错误详情】\n- 错误信息：x\n【修复建议】\n1. 修复"

func TestAnalyzeFailure_RecordsHistory(t *testing.T) {
	an := &fakeAnalyzer{text: sampleDiagnosis}
	st := newTestStore(t)
	a := New(an, &fakeOpener{}, github.StubSource{}, nil, st, logger.Nop(), Options{})

	res, err := a.AnalyzeFailure(context.Background(), AnalyzeRequest{JobName: "test", Logs: "FAIL", APIKey: "k", Repo: "a/b", Number: 3})
	if err != nil {
		t.Fatalf("AnalyzeFailure: %v", err)
	}
	if res.Diagnosis != sampleDiagnosis || res.Sections.FailureType != "测试失败" {
		t.Errorf("unexpected result: %+v", res)
	}
	rec, _ := st.GetAnalysis(context.Background(), res.ID)
	if rec == nil || rec.Status != store.StatusCompleted || rec.Model != "fake-model" || rec.RootCause != "TestX 断言失败" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestAnalyzeFailure_MissingCredential(t *testing.T) {
	an := &fakeAnalyzer{text: "x"}
	a := New(an, &fakeOpener{}, github.StubSource{}, nil, newTestStore(t), logger.Nop(), Options{})

	_, err := a.AnalyzeFailure(context.Background(), AnalyzeRequest{JobName: "test", Logs: "FAIL", APIKey: "  "})
	if !errors.Is(err, analysis.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if an.calls != 0 {
		t.Error("analyzer should not be called without a key")
	}
}

func TestAnalyzeFailure_ConfiguredKeyFallback(t *testing.T) {
	an := &fakeAnalyzer{text: "x"}
	a := New(an, &fakeOpener{}, github.StubSource{}, nil, newTestStore(t), logger.Nop(), Options{APIKey: "cfg-key"})

	if _, err := a.AnalyzeFailure(context.Background(), AnalyzeRequest{JobName: "test", Logs: "FAIL"}); err != nil {
		t.Fatalf("AnalyzeFailure: %v", err)
	}
	if len(an.keys) != 1 || an.keys[0] != "cfg-key" {
		t.Errorf("keys = %v", an.keys)
	}
}

func TestAnalyzeFailure_ErrorRecorded(t *testing.T) {
	an := &fakeAnalyzer{err: &analysis.HTTPError{Status: 500, Body: "boom"}}
	st := newTestStore(t)
	a := New(an, &fakeOpener{}, github.StubSource{}, nil, st, logger.Nop(), Options{})

	_, err := a.AnalyzeFailure(context.Background(), AnalyzeRequest{JobName: "test", Logs: "FAIL", APIKey: "k"})
	var httpErr *analysis.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	failed, _ := st.ListAnalyses(context.Background(), store.AnalysisFilter{Status: store.StatusFailed})
	if len(failed) != 1 || failed[0].Error == "" {
		t.Errorf("failed analysis not recorded: %+v", failed)
	}
}

func TestAnalyzeFailure_Reuse(t *testing.T) {
	an := &fakeAnalyzer{text: sampleDiagnosis}
	a := New(an, &fakeOpener{}, github.StubSource{}, nil, newTestStore(t), logger.Nop(), Options{ReuseWindow: time.Hour})
	ctx := context.Background()

	first, err := a.AnalyzeFailure(ctx, AnalyzeRequest{JobName: "test", Logs: "2026-03-01T10:00:00Z FAIL TestX", APIKey: "k"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := a.AnalyzeFailure(ctx, AnalyzeRequest{JobName: "test", Logs: "2026-03-02T11:00:00Z FAIL TestX", APIKey: "k"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if an.calls != 1 {
		t.Errorf("analyzer calls = %d, want 1", an.calls)
	}
	if second.ReusedFrom != first.ID || second.Diagnosis != first.Diagnosis {
		t.Errorf("second should reuse first: %+v", second)
	}
}

func TestAnalyzeFailure_NoReuseByDefault(t *testing.T) {
	an := &fakeAnalyzer{text: "x"}
	a := New(an, &fakeOpener{}, github.StubSource{}, nil, newTestStore(t), logger.Nop(), Options{})
	for i := 0; i < 2; i++ {
		if _, err := a.AnalyzeFailure(context.Background(), AnalyzeRequest{JobName: "test", Logs: "same", APIKey: "k"}); err != nil {
			t.Fatal(err)
		}
	}
	if an.calls != 2 {
		t.Errorf("analyzer calls = %d, want 2", an.calls)
	}
}

func TestAnalyzeFailure_DownloadsLog(t *testing.T) {
	an := &fakeAnalyzer{text: "x"}
	act := &fakeActions{logs: "downloaded log"}
	st := newTestStore(t)
	a := New(an, &fakeOpener{}, github.StubSource{}, act, st, logger.Nop(), Options{})

	res, err := a.AnalyzeFailure(context.Background(), AnalyzeRequest{JobName: "test", APIKey: "k", Repo: "a/b", Number: 1, JobID: 99})
	if err != nil {
		t.Fatalf("AnalyzeFailure: %v", err)
	}
	rec, _ := st.GetAnalysis(context.Background(), res.ID)
	if rec.LogChars != len("downloaded log") || rec.JobID != 99 {
		t.Errorf("record = %+v", rec)
	}
}

func TestOpenCLI_FillsPRURL(t *testing.T) {
	op := &fakeOpener{}
	a := New(&fakeAnalyzer{}, op, github.StubSource{}, nil, newTestStore(t), logger.Nop(), Options{})

	if err := a.OpenCLI(context.Background(), dispatch.Request{Template: "claude -p {context}", Repo: "a/b", Number: 42}); err != nil {
		t.Fatalf("OpenCLI: %v", err)
	}
	if len(op.reqs) != 1 || op.reqs[0].PRURL != "https://github.com/a/b/pull/42" {
		t.Errorf("requests = %+v", op.reqs)
	}
}

func TestTrackedPRs(t *testing.T) {
	a := New(&fakeAnalyzer{}, &fakeOpener{}, github.StubSource{}, nil, newTestStore(t), logger.Nop(), Options{FetchConcurrency: 2})
	ctx := context.Background()

	for _, n := range []int64{3, 1, 2} {
		if _, err := a.AddTrackedPR(ctx, "acme/api", n); err != nil {
			t.Fatalf("AddTrackedPR: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := a.AddTrackedPR(ctx, "acme/api", 3); err != nil {
		t.Fatalf("duplicate add: %v", err)
	}
	if _, err := a.AddTrackedPR(ctx, "not-a-repo", 1); err == nil {
		t.Error("invalid repo should be rejected")
	}
	if _, err := a.AddTrackedPR(ctx, "acme/api", 0); err == nil {
		t.Error("invalid number should be rejected")
	}

	details, err := a.FetchTrackedPRs(ctx)
	if err != nil {
		t.Fatalf("FetchTrackedPRs: %v", err)
	}
	if len(details) != 3 {
		t.Fatalf("details = %d, want 3", len(details))
	}
	for i, want := range []int64{3, 1, 2} {
		if details[i].PR.Number != want {
			t.Errorf("details[%d] = #%d, want #%d", i, details[i].PR.Number, want)
		}
	}

	if err := a.RemoveTrackedPR(ctx, "acme/api", 1); err != nil {
		t.Fatalf("RemoveTrackedPR: %v", err)
	}
	if err := a.RemoveTrackedPR(ctx, "acme/api", 1); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	tracked, _ := a.ListTrackedPRs(ctx)
	if len(tracked) != 2 {
		t.Errorf("tracked = %d, want 2", len(tracked))
	}
}

func TestFetchTrackedPRs_Empty(t *testing.T) {
	a := New(&fakeAnalyzer{}, &fakeOpener{}, github.StubSource{}, nil, newTestStore(t), logger.Nop(), Options{})
	details, err := a.FetchTrackedPRs(context.Background())
	if err != nil {
		t.Fatalf("FetchTrackedPRs: %v", err)
	}
	if details == nil || len(details) != 0 {
		t.Errorf("expected empty non-nil list, got %v", details)
	}
}

func TestGitHubActionsRequireToken(t *testing.T) {
	a := New(&fakeAnalyzer{}, &fakeOpener{}, github.StubSource{}, nil, newTestStore(t), logger.Nop(), Options{})
	if _, err := a.JobLogs(context.Background(), "a/b", 1); !errors.Is(err, ErrGitHubUnavailable) {
		t.Errorf("JobLogs err = %v", err)
	}
	if _, err := a.RerunFailedJobs(context.Background(), "a/b", 1); !errors.Is(err, ErrGitHubUnavailable) {
		t.Errorf("RerunFailedJobs err = %v", err)
	}
}

func TestRerunFailedJobs(t *testing.T) {
	act := &fakeActions{runIDs: []int64{10, 20}}
	a := New(&fakeAnalyzer{}, &fakeOpener{}, github.StubSource{}, act, newTestStore(t), logger.Nop(), Options{})

	ids, err := a.RerunFailedJobs(context.Background(), "a/b", 5)
	if err != nil {
		t.Fatalf("RerunFailedJobs: %v", err)
	}
	if len(ids) != 2 || len(act.reruns) != 2 {
		t.Errorf("ids = %v, reruns = %v", ids, act.reruns)
	}

	act2 := &fakeActions{runIDs: []int64{10}, rerunErr: github.ErrRunInProgress}
	a2 := New(&fakeAnalyzer{}, &fakeOpener{}, github.StubSource{}, act2, newTestStore(t), logger.Nop(), Options{})
	if _, err := a2.RerunFailedJobs(context.Background(), "a/b", 5); !errors.Is(err, github.ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}
}
