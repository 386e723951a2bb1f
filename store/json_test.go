package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"voicebot-qa/logger"
)

func TestJSONStore_Contract(t *testing.T) {
	s, err := NewJSONStore(filepath.Join(t.TempDir(), "store.json"), time.Hour, logger.Nop())
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	defer s.Close()
	runStoreContract(t, s)
}

func TestJSONStore_PersistsOnClose(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	s, err := NewJSONStore(path, time.Hour, logger.Nop())
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	if err := s.SaveAnalysis(ctx, makeAnalysis("analysis_x", "Saved", 2, 1)); err != nil {
		t.Fatalf("SaveAnalysis: %v", err)
	}
	if err := s.CreateTemplate(ctx, &Template{ID: "tpl", StorageKey: testKey, Name: "T", Content: "c"}); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// second Close is a no-op
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	reopened, err := NewJSONStore(path, time.Hour, logger.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, _ := reopened.GetAnalysis(ctx, testKey, "analysis_x")
	if got == nil || got.Name != "Saved" {
		t.Fatalf("analysis not persisted: %+v", got)
	}
	if st := ComputeStats(got.State); st.TotalCalls != 2 || st.TotalIssues != 1 {
		t.Errorf("state not persisted: %+v", st)
	}
	tpls, _ := reopened.ListTemplates(ctx, testKey)
	if len(tpls) != 1 {
		t.Errorf("templates not persisted: %d", len(tpls))
	}
}

func TestJSONStore_ReturnsClones(t *testing.T) {
	ctx := context.Background()
	s, _ := NewJSONStore(filepath.Join(t.TempDir(), "store.json"), time.Hour, logger.Nop())
	defer s.Close()

	a := makeAnalysis("analysis_c", "Clone", 1, 0)
	s.SaveAnalysis(ctx, a)
	a.Name = "mutated"
	a.State[0] = 'X'

	got, _ := s.GetAnalysis(ctx, testKey, "analysis_c")
	if got.Name != "Clone" || got.State[0] != '{' {
		t.Errorf("store shares memory with caller: %+v", got)
	}
}
