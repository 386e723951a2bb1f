package main

import (
	"context"
	"time"

	"voicebot-qa/logger"
	"voicebot-qa/notify"
	"voicebot-qa/qa"
	"voicebot-qa/runner"
	"voicebot-qa/session"
	"voicebot-qa/store"
)

// jobHooks runs after every terminal job: it autosaves the session and
// sends the run notification for analysis jobs.
type jobHooks struct {
	sessions   *session.Registry
	store      store.Store
	notifier   notify.Notifier
	storageKey string
	autosave   bool
	log        logger.Logger
}

func (h *jobHooks) onFinish(job runner.Job) {
	sess, err := h.sessions.Lookup(job.SessionID)
	if err != nil {
		// Deleted while the job ran.
		return
	}

	if h.autosave && h.store != nil && job.Status == runner.StatusCompleted {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := sess.Save(ctx, h.store, h.storageKey, ""); err != nil {
			h.log.Error("session.autosave_failed",
				logger.String("session_id", job.SessionID),
				logger.Err(err),
			)
		}
		cancel()
	}

	if job.Kind != runner.KindAnalyze {
		return
	}
	sum := runSummary(job, sess.View().AnalysisName)

	// Separate context so the notification is not cut short by shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.notifier.NotifyRun(ctx, sum); err != nil {
		h.log.Error("feishu.failed", logger.String("job_id", job.ID), logger.Err(err))
	}
}

// runSummary flattens a finished analysis job into a notification.
func runSummary(job runner.Job, analysisName string) notify.RunSummary {
	sum := notify.RunSummary{
		JobID:        job.ID,
		SessionID:    job.SessionID,
		AnalysisName: analysisName,
		Error:        job.Error,
	}
	if !job.StartedAt.IsZero() && !job.FinishedAt.IsZero() {
		sum.Duration = job.FinishedAt.Sub(job.StartedAt)
	}
	if job.Status == runner.StatusTimeout && sum.Error == "" {
		sum.Error = "analysis timed out"
	}

	report, ok := job.Result.(*qa.RunReport)
	if !ok || report == nil {
		return sum
	}
	res := report.Result
	sum.TotalCalls = res.TotalCalls
	sum.CallsWithIssues = res.CallsWithIssues
	sum.TotalIssues = len(res.Issues)
	sum.FailedCalls = report.Failed()
	sum.DegradedCalls = report.Degraded()
	sum.IssuesByType = res.IssuesByType
	sum.SeverityDistribution = res.SeverityDistribution
	sum.LanguageMismatchRate = res.LanguageMismatchRate
	return sum
}
