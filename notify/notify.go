package notify

import (
	"context"
	"sort"
	"time"
)

// RunSummary describes a finished analysis job.
type RunSummary struct {
	JobID                string
	SessionID            string
	AnalysisName         string
	TotalCalls           int
	CallsWithIssues      int
	TotalIssues          int
	FailedCalls          int
	DegradedCalls        int
	IssuesByType         map[string]int
	SeverityDistribution map[string]int
	LanguageMismatchRate float64
	Duration             time.Duration
	Error                string
}

// Notifier delivers run summaries to an external channel.
type Notifier interface {
	NotifyRun(ctx context.Context, sum RunSummary) error
}

// Nop returns a Notifier that discards every summary.
func Nop() Notifier { return nopNotifier{} }

type nopNotifier struct{}

func (nopNotifier) NotifyRun(context.Context, RunSummary) error { return nil }

type countEntry struct {
	key   string
	count int
}

// sortedCounts orders non-zero counts by descending count, then key.
func sortedCounts(m map[string]int) []countEntry {
	out := make([]countEntry, 0, len(m))
	for k, v := range m {
		if v > 0 {
			out = append(out, countEntry{k, v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	return out
}
