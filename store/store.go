package store

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"
)

// ErrNotFound is returned by updates that target a missing record.
var ErrNotFound = errors.New("record not found")

// Analysis is a saved analysis session. State is an opaque JSON document
// holding the inputs, results and fixes of the session.
type Analysis struct {
	ID         string          `json:"id"`
	StorageKey string          `json:"storageKey"`
	Name       string          `json:"name"`
	State      json.RawMessage `json:"state"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// AnalysisStats are derived from an analysis state for list views.
type AnalysisStats struct {
	TotalCalls       int     `json:"totalCalls"`
	TotalIssues      int     `json:"totalIssues"`
	AvgIssuesPerCall float64 `json:"avgIssuesPerCall"`
}

// AnalysisSummary is an Analysis without its state.
type AnalysisSummary struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Stats     AnalysisStats `json:"stats"`
}

// Template is a named reference script.
type Template struct {
	ID         string    `json:"id"`
	StorageKey string    `json:"storageKey"`
	Name       string    `json:"name"`
	Content    string    `json:"content"`
	IsDefault  bool      `json:"isDefault"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store is the persistence boundary for saved analyses and templates.
// Records are partitioned by storage key. Get methods return nil, nil
// when the record does not exist.
type Store interface {
	SaveAnalysis(ctx context.Context, a *Analysis) error
	GetAnalysis(ctx context.Context, storageKey, id string) (*Analysis, error)
	ListAnalyses(ctx context.Context, storageKey string) ([]*AnalysisSummary, error)
	DeleteAnalysis(ctx context.Context, id string) error

	CreateTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, storageKey, id string) (*Template, error)
	ListTemplates(ctx context.Context, storageKey string) ([]*Template, error)
	UpdateTemplate(ctx context.Context, t *Template) error
	DeleteTemplate(ctx context.Context, id string) error
	SetDefaultTemplate(ctx context.Context, storageKey, id string) error

	Close() error
}

// ComputeStats reads results.totalCalls and results.issues from a state
// document. Malformed or result-less states yield zero stats.
func ComputeStats(state json.RawMessage) AnalysisStats {
	var doc struct {
		Results *struct {
			TotalCalls int               `json:"totalCalls"`
			Issues     []json.RawMessage `json:"issues"`
		} `json:"results"`
	}
	var stats AnalysisStats
	if err := json.Unmarshal(state, &doc); err != nil || doc.Results == nil {
		return stats
	}
	stats.TotalCalls = doc.Results.TotalCalls
	stats.TotalIssues = len(doc.Results.Issues)
	if stats.TotalCalls > 0 {
		stats.AvgIssuesPerCall = math.Round(float64(stats.TotalIssues)/float64(stats.TotalCalls)*10) / 10
	}
	return stats
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
