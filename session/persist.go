package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"voicebot-qa/logger"
	"voicebot-qa/store"

	"github.com/google/uuid"
)

// NewAnalysisID returns an id of the form analysis_<unix-ms>_<9 chars>.
func NewAnalysisID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("analysis_%d_%s", time.Now().UnixMilli(), suffix)
}

// Save writes the session state to the analyses library under storageKey.
// The first save assigns an analysis id; later saves update that record.
// An empty name keeps the previously saved name.
func (s *Session) Save(ctx context.Context, st store.Store, storageKey, name string) (*store.Analysis, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if s.analysisID == "" {
		s.analysisID = NewAnalysisID()
	}
	if name == "" {
		name = s.analysisName
	}
	if name == "" {
		name = "Untitled analysis"
	}
	id := s.analysisID
	data, err := json.Marshal(s.state)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("marshal session state: %w", err)
	}

	a := &store.Analysis{ID: id, StorageKey: storageKey, Name: name, State: data}
	if err := st.SaveAnalysis(ctx, a); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.analysisName = name
	s.mu.Unlock()

	s.log.Info("session.saved", logger.String("analysis_id", id), logger.String("name", name))
	return a, nil
}

// Load creates a session from a saved analysis. It returns store.ErrNotFound
// when no analysis with id exists under storageKey.
func (r *Registry) Load(ctx context.Context, st store.Store, storageKey, id string) (*Session, error) {
	a, err := st.GetAnalysis(ctx, storageKey, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, store.ErrNotFound
	}

	var state State
	if err := json.Unmarshal(a.State, &state); err != nil {
		return nil, fmt.Errorf("decode analysis state: %w", err)
	}

	s := r.add(InitialState(r.model))
	if err := s.Restore(state); err != nil {
		r.Delete(s.id)
		return nil, err
	}
	s.mu.Lock()
	s.analysisID = a.ID
	s.analysisName = a.Name
	s.mu.Unlock()

	r.log.Info("session.loaded",
		logger.String("session_id", s.id),
		logger.String("analysis_id", a.ID),
	)
	return s, nil
}
