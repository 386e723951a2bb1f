package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"voicebot-qa/logger"
)

// JSONStore implements Store using an in-memory map backed by a JSON file.
type JSONStore struct {
	path          string
	mu            sync.RWMutex
	data          jsonData
	log           logger.Logger
	flushInterval time.Duration
	stopFlush     chan struct{}
	closeOnce     sync.Once
}

type jsonData struct {
	Analyses  map[string]*Analysis `json:"analyses"`
	Templates map[string]*Template `json:"templates"`
}

// NewJSONStore creates a new JSONStore. If the file at path exists it is loaded.
// A background goroutine flushes to disk at the given interval.
func NewJSONStore(path string, flushInterval time.Duration, log logger.Logger) (*JSONStore, error) {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	s := &JSONStore{
		path:          path,
		log:           log,
		flushInterval: flushInterval,
		stopFlush:     make(chan struct{}),
		data: jsonData{
			Analyses:  make(map[string]*Analysis),
			Templates: make(map[string]*Template),
		},
	}

	if err := s.loadFromFile(); err != nil {
		return nil, err
	}

	go s.flushLoop()

	log.Info("store.json.opened", logger.String("path", path))
	return s, nil
}

func (s *JSONStore) loadFromFile() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read json store: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var d jsonData
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("unmarshal json store: %w", err)
	}
	if d.Analyses == nil {
		d.Analyses = make(map[string]*Analysis)
	}
	if d.Templates == nil {
		d.Templates = make(map[string]*Template)
	}
	s.data = d
	return nil
}

func (s *JSONStore) flush() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal json store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write json store: %w", err)
	}
	return nil
}

func (s *JSONStore) flushLoop() {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.flush(); err != nil {
				s.log.Error("store.json.flush_failed", logger.Err(err))
			}
		case <-s.stopFlush:
			return
		}
	}
}

func cloneAnalysis(a *Analysis) *Analysis {
	c := *a
	c.State = append(json.RawMessage(nil), a.State...)
	return &c
}

// ---------- Analyses ----------

func (s *JSONStore) SaveAnalysis(_ context.Context, a *Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	clone := cloneAnalysis(a)
	clone.UpdatedAt = ts
	if existing, ok := s.data.Analyses[a.ID]; ok {
		clone.CreatedAt = existing.CreatedAt
		clone.StorageKey = existing.StorageKey
	} else {
		clone.CreatedAt = ts
	}
	s.data.Analyses[a.ID] = clone

	a.CreatedAt = clone.CreatedAt
	a.UpdatedAt = ts
	return nil
}

func (s *JSONStore) GetAnalysis(_ context.Context, storageKey, id string) (*Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.data.Analyses[id]
	if !ok || a.StorageKey != storageKey {
		return nil, nil
	}
	return cloneAnalysis(a), nil
}

func (s *JSONStore) ListAnalyses(_ context.Context, storageKey string) ([]*AnalysisSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*AnalysisSummary{}
	for _, a := range s.data.Analyses {
		if a.StorageKey != storageKey {
			continue
		}
		out = append(out, &AnalysisSummary{
			ID:        a.ID,
			Name:      a.Name,
			CreatedAt: a.CreatedAt,
			UpdatedAt: a.UpdatedAt,
			Stats:     ComputeStats(a.State),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *JSONStore) DeleteAnalysis(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.Analyses, id)
	return nil
}

// ---------- Templates ----------

func (s *JSONStore) CreateTemplate(_ context.Context, t *Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data.Templates[t.ID]; exists {
		return fmt.Errorf("template %s already exists", t.ID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now()
	}
	clone := *t
	s.data.Templates[t.ID] = &clone
	return nil
}

func (s *JSONStore) GetTemplate(_ context.Context, storageKey, id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.data.Templates[id]
	if !ok || t.StorageKey != storageKey {
		return nil, nil
	}
	clone := *t
	return &clone, nil
}

func (s *JSONStore) ListTemplates(_ context.Context, storageKey string) ([]*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Template{}
	for _, t := range s.data.Templates {
		if t.StorageKey != storageKey {
			continue
		}
		clone := *t
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *JSONStore) UpdateTemplate(_ context.Context, t *Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.data.Templates[t.ID]
	if !ok || existing.StorageKey != t.StorageKey {
		return ErrNotFound
	}
	existing.Name = t.Name
	existing.Content = t.Content
	return nil
}

func (s *JSONStore) DeleteTemplate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.Templates, id)
	return nil
}

func (s *JSONStore) SetDefaultTemplate(_ context.Context, storageKey, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.data.Templates[id]
	if !ok || target.StorageKey != storageKey {
		return ErrNotFound
	}
	for _, t := range s.data.Templates {
		if t.StorageKey == storageKey {
			t.IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}

// Close stops the flush loop and writes the final state to disk.
func (s *JSONStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.log.Info("store.json.closing")
		close(s.stopFlush)
		err = s.flush()
	})
	return err
}
