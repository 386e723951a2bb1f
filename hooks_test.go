package main

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"voicebot-qa/logger"
	"voicebot-qa/notify"
	"voicebot-qa/qa"
	"voicebot-qa/runner"
	"voicebot-qa/session"
	"voicebot-qa/store"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sums []notify.RunSummary
}

func (n *recordingNotifier) NotifyRun(_ context.Context, sum notify.RunSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sums = append(n.sums, sum)
	return nil
}

func TestRunSummary(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	report := &qa.RunReport{
		Result: qa.Aggregate([]qa.DetectedIssue{
			{ID: "a-issue-0", CallID: "a", Type: qa.IssueLanguageMismatch, Severity: qa.SeverityHigh},
			{ID: "a-issue-1", CallID: "a", Type: qa.IssueQuality, Severity: qa.SeverityLow},
		}, 3),
		Calls: []qa.CallOutcome{
			{CallID: "a", IssueCount: 2},
			{CallID: "b", Error: "boom"},
			{CallID: "c", Degraded: true},
		},
	}
	job := runner.Job{
		ID:         "job-1",
		SessionID:  "sess-1",
		Kind:       runner.KindAnalyze,
		Status:     runner.StatusCompleted,
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Result:     report,
	}

	sum := runSummary(job, "Weekly review")
	if sum.TotalCalls != 3 || sum.CallsWithIssues != 1 || sum.TotalIssues != 2 {
		t.Errorf("counts = %+v", sum)
	}
	if sum.FailedCalls != 1 || sum.DegradedCalls != 1 {
		t.Errorf("failed=%d degraded=%d", sum.FailedCalls, sum.DegradedCalls)
	}
	if sum.Duration != 90*time.Second || sum.AnalysisName != "Weekly review" {
		t.Errorf("duration=%v name=%q", sum.Duration, sum.AnalysisName)
	}
	if sum.SeverityDistribution["high"] != 1 {
		t.Errorf("severity = %v", sum.SeverityDistribution)
	}
}

func TestRunSummary_Timeout(t *testing.T) {
	sum := runSummary(runner.Job{ID: "job-2", Status: runner.StatusTimeout}, "")
	if sum.Error != "analysis timed out" || sum.TotalCalls != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestJobHooks_AutosaveAndNotify(t *testing.T) {
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "hooks.db"), logger.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer db.Close()

	reg := session.NewRegistry("gpt-4.1-mini", logger.Nop())
	sess := reg.Create()
	n := &recordingNotifier{}
	h := &jobHooks{
		sessions:   reg,
		store:      db,
		notifier:   n,
		storageKey: "k",
		autosave:   true,
		log:        logger.Nop(),
	}

	h.onFinish(runner.Job{ID: "job-1", SessionID: sess.ID(), Kind: runner.KindAnalyze, Status: runner.StatusCompleted})
	h.onFinish(runner.Job{ID: "job-2", SessionID: sess.ID(), Kind: runner.KindFixes, Status: runner.StatusFailed})
	h.onFinish(runner.Job{ID: "job-3", SessionID: "sess-gone", Kind: runner.KindAnalyze, Status: runner.StatusCompleted})

	if len(n.sums) != 1 || n.sums[0].JobID != "job-1" {
		t.Fatalf("notifications = %+v", n.sums)
	}
	list, err := db.ListAnalyses(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "Untitled analysis" {
		t.Errorf("autosaved = %+v", list)
	}
	if sess.View().AnalysisID != list[0].ID {
		t.Errorf("session not bound to saved analysis: %q vs %q", sess.View().AnalysisID, list[0].ID)
	}
}
