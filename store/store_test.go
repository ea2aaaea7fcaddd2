package store

import (
	"context"
	"testing"
	"time"
)

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("AddTrackedPRIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.AddTrackedPR(ctx, "acme/api", 7)
		if err != nil {
			t.Fatalf("AddTrackedPR: %v", err)
		}
		if first.ID == "" || first.AddedAt.IsZero() {
			t.Fatalf("expected id and added_at, got %+v", first)
		}
		again, err := s.AddTrackedPR(ctx, "acme/api", 7)
		if err != nil {
			t.Fatalf("AddTrackedPR again: %v", err)
		}
		if again.ID != first.ID {
			t.Errorf("duplicate add created a new entry: %s vs %s", again.ID, first.ID)
		}

		prs, err := s.ListTrackedPRs(ctx)
		if err != nil {
			t.Fatalf("ListTrackedPRs: %v", err)
		}
		if len(prs) != 1 {
			t.Fatalf("tracked = %d, want 1", len(prs))
		}
	})

	t.Run("ListTrackedPRsOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		want := []struct {
			repo   string
			number int64
		}{{"acme/api", 3}, {"acme/web", 1}, {"acme/api", 1}}
		for _, w := range want {
			if _, err := s.AddTrackedPR(ctx, w.repo, w.number); err != nil {
				t.Fatalf("AddTrackedPR: %v", err)
			}
			time.Sleep(2 * time.Millisecond)
		}
		prs, err := s.ListTrackedPRs(ctx)
		if err != nil {
			t.Fatalf("ListTrackedPRs: %v", err)
		}
		if len(prs) != len(want) {
			t.Fatalf("tracked = %d, want %d", len(prs), len(want))
		}
		for i, w := range want {
			if prs[i].Repo != w.repo || prs[i].Number != w.number {
				t.Errorf("prs[%d] = %s#%d, want %s#%d", i, prs[i].Repo, prs[i].Number, w.repo, w.number)
			}
		}
	})

	t.Run("RemoveTrackedPR", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		s.AddTrackedPR(ctx, "acme/api", 1)
		s.AddTrackedPR(ctx, "acme/api", 2)

		if err := s.RemoveTrackedPR(ctx, "acme/api", 1); err != nil {
			t.Fatalf("RemoveTrackedPR: %v", err)
		}
		if err := s.RemoveTrackedPR(ctx, "acme/api", 99); err != nil {
			t.Fatalf("removing an untracked PR should not fail: %v", err)
		}
		prs, _ := s.ListTrackedPRs(ctx)
		if len(prs) != 1 || prs[0].Number != 2 {
			t.Errorf("unexpected tracked list: %+v", prs)
		}
	})

	t.Run("SaveAndGetAnalysis", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := &AnalysisRecord{
			Repo:        "acme/api",
			Number:      7,
			JobName:     "test",
			JobID:       2000,
			Fingerprint: "fp-1",
			Model:       "m",
			Diagnosis:   "【失败类型】\n测试失败",
			FailureType: "测试失败",
			LogChars:    1234,
			DurationMs:  800,
		}
		if err := s.SaveAnalysis(ctx, rec); err != nil {
			t.Fatalf("SaveAnalysis: %v", err)
		}
		if rec.ID == "" || rec.Status != StatusCompleted || rec.CreatedAt.IsZero() {
			t.Fatalf("SaveAnalysis should fill defaults: %+v", rec)
		}

		got, err := s.GetAnalysis(ctx, rec.ID)
		if err != nil {
			t.Fatalf("GetAnalysis: %v", err)
		}
		if got == nil {
			t.Fatal("analysis not found")
		}
		if got.Diagnosis != rec.Diagnosis || got.FailureType != "测试失败" || got.JobID != 2000 || got.LogChars != 1234 {
			t.Errorf("round trip mismatch: %+v", got)
		}

		missing, err := s.GetAnalysis(ctx, "nope")
		if err != nil || missing != nil {
			t.Errorf("missing analysis = %v, %v; want nil, nil", missing, err)
		}
	})

	t.Run("ListAnalysesFilterAndOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
		for i, r := range []struct {
			repo   string
			number int64
			status AnalysisStatus
		}{
			{"acme/api", 1, StatusCompleted},
			{"acme/api", 1, StatusFailed},
			{"acme/api", 2, StatusCompleted},
			{"acme/web", 1, StatusCompleted},
		} {
			rec := &AnalysisRecord{
				ID:        string(rune('a' + i)),
				Repo:      r.repo,
				Number:    r.number,
				Status:    r.status,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}
			if err := s.SaveAnalysis(ctx, rec); err != nil {
				t.Fatalf("SaveAnalysis: %v", err)
			}
		}

		all, err := s.ListAnalyses(ctx, AnalysisFilter{})
		if err != nil {
			t.Fatalf("ListAnalyses: %v", err)
		}
		if len(all) != 4 || all[0].ID != "d" || all[3].ID != "a" {
			t.Errorf("expected newest first, got %v", ids(all))
		}

		pr1, _ := s.ListAnalyses(ctx, AnalysisFilter{Repo: "acme/api", Number: 1})
		if len(pr1) != 2 {
			t.Errorf("acme/api#1 analyses = %v", ids(pr1))
		}
		failed, _ := s.ListAnalyses(ctx, AnalysisFilter{Status: StatusFailed})
		if len(failed) != 1 || failed[0].ID != "b" {
			t.Errorf("failed analyses = %v", ids(failed))
		}
		page, _ := s.ListAnalyses(ctx, AnalysisFilter{Limit: 2, Offset: 1})
		if len(page) != 2 || page[0].ID != "c" || page[1].ID != "b" {
			t.Errorf("page = %v", ids(page))
		}
	})

	t.Run("FindRecentAnalysis", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()
		recs := []*AnalysisRecord{
			{ID: "old", Fingerprint: "fp", CreatedAt: now.Add(-48 * time.Hour)},
			{ID: "fresh", Fingerprint: "fp", CreatedAt: now.Add(-time.Hour)},
			{ID: "newer-failed", Fingerprint: "fp", Status: StatusFailed, CreatedAt: now.Add(-time.Minute)},
			{ID: "newer-reused", Fingerprint: "fp", ReusedFromID: "fresh", CreatedAt: now.Add(-30 * time.Second)},
			{ID: "other", Fingerprint: "fp-other", CreatedAt: now},
		}
		for _, r := range recs {
			if err := s.SaveAnalysis(ctx, r); err != nil {
				t.Fatalf("SaveAnalysis: %v", err)
			}
		}

		got, err := s.FindRecentAnalysis(ctx, "fp", now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("FindRecentAnalysis: %v", err)
		}
		if got == nil || got.ID != "fresh" {
			t.Errorf("got %+v, want fresh", got)
		}

		none, err := s.FindRecentAnalysis(ctx, "fp", now.Add(-10*time.Minute))
		if err != nil || none != nil {
			t.Errorf("expected no match inside window, got %+v, %v", none, err)
		}
	})
}

func ids(recs []*AnalysisRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
