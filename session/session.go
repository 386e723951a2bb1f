package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"voicebot-qa/logger"
	"voicebot-qa/qa"
	"voicebot-qa/transcript"
)

var (
	ErrBusy              = errors.New("session is busy")
	ErrNoResults         = errors.New("no analysis results")
	ErrNoFixes           = errors.New("no fixes generated")
	ErrNoFixesSelected   = errors.New("no matching fixes selected")
	ErrCheckNotFound     = errors.New("check not found")
	ErrNotCustom         = errors.New("only custom checks can be deleted")
	ErrReferenceRequired = errors.New("check requires the reference script to be enabled")
	ErrCallNotFound      = errors.New("call not found")
)

// Engine is the analysis collaborator. *qa.Engine satisfies it.
type Engine interface {
	Analyze(ctx context.Context, in qa.AnalyzeInput, progress func(int)) (*qa.RunReport, error)
	GenerateFixes(ctx context.Context, in qa.FixInput) (qa.FixSuggestions, error)
	PlanPlacements(ctx context.Context, in qa.PlacementInput) (qa.Outcome[[]qa.FixPlacement], error)
}

// Session is one user's analysis workspace. All methods are safe for
// concurrent use; mutations are refused with ErrBusy while a model call
// is in flight.
type Session struct {
	mu sync.RWMutex

	id           string
	seq          uint64
	analysisID   string
	analysisName string
	state        State
	step         Step
	running      bool
	progress     int
	lastErr      string
	createdAt    time.Time
	updatedAt    time.Time

	log logger.Logger
}

// View is a read-only copy of a session.
type View struct {
	ID           string    `json:"id"`
	AnalysisID   string    `json:"analysisId,omitempty"`
	AnalysisName string    `json:"analysisName,omitempty"`
	Step         Step      `json:"step"`
	Running      bool      `json:"running"`
	Progress     int       `json:"progress"`
	LastError    string    `json:"lastError,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	State        State     `json:"state"`
}

func newSession(id string, st State, log logger.Logger) *Session {
	now := time.Now()
	return &Session{
		id:        id,
		state:     st,
		step:      st.step(),
		createdAt: now,
		updatedAt: now,
		log:       log.WithFields(logger.String("session_id", id)),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// View returns a snapshot of the session including its workflow status.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		ID:           s.id,
		AnalysisID:   s.analysisID,
		AnalysisName: s.analysisName,
		Step:         s.step,
		Running:      s.running,
		Progress:     s.progress,
		LastError:    s.lastErr,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
		State:        s.state.clone(),
	}
}

// Snapshot returns a copy of the persistable state.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Restore replaces the state and derives the step from the data present.
func (s *Session) Restore(st State) error {
	return s.mutate(func() error {
		if len(st.Checks) == 0 {
			st.Checks = qa.DefaultChecks()
		}
		if st.OpenAIConfig.Model == "" {
			st.OpenAIConfig.Model = s.state.OpenAIConfig.Model
		}
		s.state = st.clone()
		s.step = s.state.step()
		s.progress = 0
		s.lastErr = ""
		return nil
	})
}

func (s *Session) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrBusy
	}
	if err := fn(); err != nil {
		return err
	}
	s.updatedAt = time.Now()
	return nil
}

// ---------- Inputs ----------

// SetTranscripts replaces the transcripts after validating each one.
func (s *Session) SetTranscripts(ts []transcript.Transcript) error {
	for i := range ts {
		if err := ts[i].Validate(); err != nil {
			return err
		}
	}
	return s.mutate(func() error {
		s.state.Transcripts = append([]transcript.Transcript(nil), ts...)
		s.state.SelectedCallID = ""
		return nil
	})
}

func (s *Session) SetReferenceScript(script string) error {
	return s.mutate(func() error {
		s.state.ReferenceScript = script
		return nil
	})
}

// SetReferenceEnabled toggles the reference script. Disabling it also
// disables every check that requires it.
func (s *Session) SetReferenceEnabled(enabled bool) error {
	return s.mutate(func() error {
		s.state.ReferenceEnabled = enabled
		if !enabled {
			for i := range s.state.Checks {
				if s.state.Checks[i].RequiresReference {
					s.state.Checks[i].Enabled = false
				}
			}
		}
		return nil
	})
}

func (s *Session) SetKnowledgeBase(kb string) error {
	return s.mutate(func() error {
		s.state.KnowledgeBase = kb
		return nil
	})
}

func (s *Session) SetKnowledgeBaseEnabled(enabled bool) error {
	return s.mutate(func() error {
		s.state.KnowledgeBaseEnabled = enabled
		return nil
	})
}

func (s *Session) SetModel(model string) error {
	return s.mutate(func() error {
		s.state.OpenAIConfig.Model = model
		return nil
	})
}

// SelectCall marks a call for detailed viewing. An empty id clears it.
func (s *Session) SelectCall(callID string) error {
	return s.mutate(func() error {
		if callID != "" {
			found := false
			for _, t := range s.state.Transcripts {
				if t.ID == callID {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
			}
		}
		s.state.SelectedCallID = callID
		return nil
	})
}

// ---------- Checks ----------

// ToggleCheck flips a check's enabled flag. Enabling a check that needs the
// reference script while the reference is disabled fails.
func (s *Session) ToggleCheck(id string) error {
	return s.mutate(func() error {
		c, ok := s.state.check(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrCheckNotFound, id)
		}
		if !c.Enabled && c.RequiresReference && !s.state.ReferenceEnabled {
			return ErrReferenceRequired
		}
		c.Enabled = !c.Enabled
		return nil
	})
}

func (s *Session) UpdateCheckInstructions(id, instructions string) error {
	return s.mutate(func() error {
		c, ok := s.state.check(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrCheckNotFound, id)
		}
		c.Instructions = instructions
		return nil
	})
}

func (s *Session) UpdateCheckName(id, name string) error {
	return s.mutate(func() error {
		c, ok := s.state.check(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrCheckNotFound, id)
		}
		c.Name = name
		return nil
	})
}

// ResetCheckInstructions restores a check's default instructions.
func (s *Session) ResetCheckInstructions(id string) error {
	return s.mutate(func() error {
		c, ok := s.state.check(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrCheckNotFound, id)
		}
		c.Instructions = c.DefaultInstructions
		return nil
	})
}

// AddCustomCheck appends a new enabled custom check and returns it.
func (s *Session) AddCustomCheck(name, description, instructions string) (qa.Check, error) {
	c := qa.NewCustomCheck(name, description, instructions)
	err := s.mutate(func() error {
		s.state.Checks = append(s.state.Checks, c)
		return nil
	})
	return c, err
}

// DeleteCustomCheck removes a custom check. Built-in checks cannot be removed.
func (s *Session) DeleteCustomCheck(id string) error {
	return s.mutate(func() error {
		for i, c := range s.state.Checks {
			if c.ID != id {
				continue
			}
			if !c.Custom {
				return ErrNotCustom
			}
			s.state.Checks = append(s.state.Checks[:i:i], s.state.Checks[i+1:]...)
			return nil
		}
		return fmt.Errorf("%w: %s", ErrCheckNotFound, id)
	})
}

// ResetAll returns the session to its seeded state. The model selection
// and any saved-analysis binding are kept.
func (s *Session) ResetAll() error {
	return s.mutate(func() error {
		s.state = InitialState(s.state.OpenAIConfig.Model)
		s.step = StepInput
		s.progress = 0
		s.lastErr = ""
		return nil
	})
}

// ---------- Model-backed operations ----------

// begin marks the session running and returns a snapshot of its state.
func (s *Session) begin() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return State{}, ErrBusy
	}
	s.running = true
	s.lastErr = ""
	return s.state.clone(), nil
}

func (s *Session) finish(err error, apply func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.updatedAt = time.Now()
	if err != nil {
		s.lastErr = err.Error()
		return
	}
	apply()
}

func (s *Session) setProgress(p int) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
}

// RunAnalysis analyzes every transcript with the active checks. Per-call
// failures are recorded in the returned report; the run itself only fails
// on missing inputs or cancellation. Results replace any previous results
// and fixes.
func (s *Session) RunAnalysis(ctx context.Context, eng Engine) (*qa.RunReport, error) {
	st, err := s.begin()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	prevStep := s.step
	s.step = StepRunning
	s.progress = 0
	s.mu.Unlock()

	in := qa.AnalyzeInput{
		Transcripts:          st.Transcripts,
		Checks:               st.Checks,
		ReferenceScript:      st.ReferenceScript,
		ReferenceEnabled:     st.ReferenceEnabled,
		KnowledgeBase:        st.KnowledgeBase,
		KnowledgeBaseEnabled: st.KnowledgeBaseEnabled,
		Model:                st.OpenAIConfig.Model,
	}
	report, err := eng.Analyze(ctx, in, s.setProgress)
	if err != nil {
		s.log.Error("session.analysis_failed", logger.Err(err))
		s.finish(err, nil)
		s.mu.Lock()
		s.step = prevStep
		s.progress = 0
		s.mu.Unlock()
		return nil, err
	}

	s.finish(nil, func() {
		result := report.Result
		s.state.Results = &result
		s.state.Calls = report.Calls
		s.state.Fixes = nil
		s.state.Placements = nil
		s.state.ScriptSections = nil
		s.step = StepResults
		s.progress = 100
	})
	s.log.Info("session.analysis_completed",
		logger.Int("calls", report.Result.TotalCalls),
		logger.Int("issues", len(report.Result.Issues)),
	)
	return report, nil
}

// GenerateFixes proposes fixes for the current results.
func (s *Session) GenerateFixes(ctx context.Context, eng Engine) (qa.FixSuggestions, error) {
	st, err := s.begin()
	if err != nil {
		return qa.FixSuggestions{}, err
	}
	if st.Results == nil {
		s.finish(ErrNoResults, nil)
		return qa.FixSuggestions{}, ErrNoResults
	}

	in := qa.FixInput{Issues: st.Results.Issues, Model: st.OpenAIConfig.Model}
	if st.ReferenceEnabled {
		in.ReferenceScript = st.ReferenceScript
	}
	if st.KnowledgeBaseEnabled {
		in.KnowledgeBase = st.KnowledgeBase
	}
	fixes, err := eng.GenerateFixes(ctx, in)
	if err != nil {
		s.log.Error("session.fixes_failed", logger.Err(err))
		s.finish(err, nil)
		return qa.FixSuggestions{}, err
	}

	s.finish(nil, func() {
		f := fixes
		s.state.Fixes = &f
		s.state.Placements = nil
		s.state.ScriptSections = nil
		s.step = StepFixes
	})
	return fixes, nil
}

// ScriptPlan is the result of PlanScript.
type ScriptPlan struct {
	Placements []qa.FixPlacement  `json:"placements"`
	Sections   []qa.ScriptSection `json:"sections"`
	Degraded   bool               `json:"degraded"`
	Diagnostic string             `json:"diagnostic,omitempty"`
}

// PlanScript places the selected fixes into the reference script and
// assembles the updated script. Empty fixIDs selects every script fix.
func (s *Session) PlanScript(ctx context.Context, eng Engine, fixIDs []string) (*ScriptPlan, error) {
	st, err := s.begin()
	if err != nil {
		return nil, err
	}
	if st.Fixes == nil {
		s.finish(ErrNoFixes, nil)
		return nil, ErrNoFixes
	}
	selected := st.Fixes.Select(fixIDs)
	if len(selected) == 0 {
		s.finish(ErrNoFixesSelected, nil)
		return nil, ErrNoFixesSelected
	}

	out, err := eng.PlanPlacements(ctx, qa.PlacementInput{
		Script: st.ReferenceScript,
		Fixes:  selected,
		Model:  st.OpenAIConfig.Model,
	})
	if err != nil {
		s.log.Error("session.placement_failed", logger.Err(err))
		s.finish(err, nil)
		return nil, err
	}

	plan := &ScriptPlan{
		Placements: out.Value,
		Sections:   qa.Assemble(st.ReferenceScript, selected, out.Value),
		Degraded:   out.Degraded,
		Diagnostic: out.Diagnostic,
	}
	s.finish(nil, func() {
		s.state.Placements = plan.Placements
		s.state.ScriptSections = plan.Sections
	})
	return plan, nil
}
