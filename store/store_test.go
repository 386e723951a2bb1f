package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

const testKey = "voicebot-qa-storage-v1"

func makeAnalysis(id, name string, calls, issues int) *Analysis {
	list := make([]map[string]any, issues)
	for i := range list {
		list[i] = map[string]any{"id": id}
	}
	state, _ := json.Marshal(map[string]any{
		"results": map[string]any{"totalCalls": calls, "issues": list},
	})
	return &Analysis{ID: id, StorageKey: testKey, Name: name, State: state}
}

// runStoreContract exercises the behaviour every Store backend must share.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("analysis upsert and list", func(t *testing.T) {
		a := makeAnalysis("analysis_1", "First", 3, 4)
		if err := s.SaveAnalysis(ctx, a); err != nil {
			t.Fatalf("SaveAnalysis: %v", err)
		}
		created := a.CreatedAt
		time.Sleep(5 * time.Millisecond)

		if err := s.SaveAnalysis(ctx, makeAnalysis("analysis_2", "Second", 0, 0)); err != nil {
			t.Fatalf("SaveAnalysis: %v", err)
		}
		time.Sleep(5 * time.Millisecond)

		list, err := s.ListAnalyses(ctx, testKey)
		if err != nil {
			t.Fatalf("ListAnalyses: %v", err)
		}
		if len(list) != 2 || list[0].ID != "analysis_2" {
			t.Fatalf("want analysis_2 first, got %+v", list)
		}
		if got := list[1].Stats; got.TotalCalls != 3 || got.TotalIssues != 4 || got.AvgIssuesPerCall != 1.3 {
			t.Errorf("stats = %+v", got)
		}
		if got := list[0].Stats; got.AvgIssuesPerCall != 0 {
			t.Errorf("zero-call stats = %+v", got)
		}

		renamed := makeAnalysis("analysis_1", "Renamed", 3, 4)
		if err := s.SaveAnalysis(ctx, renamed); err != nil {
			t.Fatalf("SaveAnalysis update: %v", err)
		}
		if !renamed.CreatedAt.Equal(created) {
			t.Errorf("created_at changed on upsert: %v != %v", renamed.CreatedAt, created)
		}

		list, _ = s.ListAnalyses(ctx, testKey)
		if list[0].ID != "analysis_1" || list[0].Name != "Renamed" {
			t.Errorf("updated analysis should sort first, got %+v", list[0])
		}

		got, err := s.GetAnalysis(ctx, testKey, "analysis_1")
		if err != nil || got == nil {
			t.Fatalf("GetAnalysis: %v %v", got, err)
		}
		if ComputeStats(got.State).TotalIssues != 4 {
			t.Errorf("state not round-tripped: %s", got.State)
		}

		if other, _ := s.GetAnalysis(ctx, "other-key", "analysis_1"); other != nil {
			t.Error("analysis visible under a different storage key")
		}
		if missing, err := s.GetAnalysis(ctx, testKey, "nope"); missing != nil || err != nil {
			t.Errorf("missing analysis = %v, %v", missing, err)
		}

		if err := s.DeleteAnalysis(ctx, "analysis_1"); err != nil {
			t.Fatalf("DeleteAnalysis: %v", err)
		}
		list, _ = s.ListAnalyses(ctx, testKey)
		if len(list) != 1 {
			t.Errorf("after delete: %d analyses", len(list))
		}
	})

	t.Run("templates", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Second)
		for i, id := range []string{"tpl_a", "tpl_b"} {
			tpl := &Template{ID: id, StorageKey: testKey, Name: id, Content: "BOT: hi", CreatedAt: base.Add(time.Duration(i) * time.Second)}
			if err := s.CreateTemplate(ctx, tpl); err != nil {
				t.Fatalf("CreateTemplate: %v", err)
			}
		}

		list, err := s.ListTemplates(ctx, testKey)
		if err != nil {
			t.Fatalf("ListTemplates: %v", err)
		}
		if len(list) != 2 || list[0].ID != "tpl_b" {
			t.Fatalf("want newest first, got %+v", list)
		}

		if err := s.SetDefaultTemplate(ctx, testKey, "tpl_a"); err != nil {
			t.Fatalf("SetDefaultTemplate: %v", err)
		}
		if err := s.SetDefaultTemplate(ctx, testKey, "tpl_b"); err != nil {
			t.Fatalf("SetDefaultTemplate: %v", err)
		}
		list, _ = s.ListTemplates(ctx, testKey)
		defaults := 0
		for _, tpl := range list {
			if tpl.IsDefault {
				defaults++
				if tpl.ID != "tpl_b" {
					t.Errorf("wrong default %s", tpl.ID)
				}
			}
		}
		if defaults != 1 {
			t.Errorf("want exactly one default, got %d", defaults)
		}

		if err := s.SetDefaultTemplate(ctx, "other-key", "tpl_a"); !errors.Is(err, ErrNotFound) {
			t.Errorf("cross-key default: err = %v", err)
		}

		if err := s.UpdateTemplate(ctx, &Template{ID: "tpl_a", StorageKey: testKey, Name: "Renamed", Content: "BOT: hello"}); err != nil {
			t.Fatalf("UpdateTemplate: %v", err)
		}
		got, _ := s.GetTemplate(ctx, testKey, "tpl_a")
		if got == nil || got.Name != "Renamed" || got.Content != "BOT: hello" {
			t.Errorf("updated template = %+v", got)
		}
		if err := s.UpdateTemplate(ctx, &Template{ID: "ghost", StorageKey: testKey}); !errors.Is(err, ErrNotFound) {
			t.Errorf("update missing: err = %v", err)
		}

		if err := s.DeleteTemplate(ctx, "tpl_a"); err != nil {
			t.Fatalf("DeleteTemplate: %v", err)
		}
		list, _ = s.ListTemplates(ctx, testKey)
		if len(list) != 1 {
			t.Errorf("after delete: %d templates", len(list))
		}
	})
}

func TestComputeStats(t *testing.T) {
	cases := []struct {
		name  string
		state string
		want  AnalysisStats
	}{
		{"no results", `{"transcripts":[]}`, AnalysisStats{}},
		{"null results", `{"results":null}`, AnalysisStats{}},
		{"malformed", `not json`, AnalysisStats{}},
		{"rounded", `{"results":{"totalCalls":3,"issues":[{},{}]}}`, AnalysisStats{TotalCalls: 3, TotalIssues: 2, AvgIssuesPerCall: 0.7}},
		{"zero calls", `{"results":{"totalCalls":0,"issues":[{}]}}`, AnalysisStats{TotalIssues: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComputeStats(json.RawMessage(tc.state)); got != tc.want {
				t.Errorf("ComputeStats = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestRebindNumbered(t *testing.T) {
	s := &sqlStore{dialect: postgresDialect}
	got := s.q(`SELECT 1 FROM t WHERE a = ? AND b = ?`)
	if want := `SELECT 1 FROM t WHERE a = $1 AND b = $2`; got != want {
		t.Errorf("q = %q, want %q", got, want)
	}
	s.dialect = sqliteDialect
	if got := s.q(`a = ?`); got != `a = ?` {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}
