package session

import (
	"voicebot-qa/qa"
	"voicebot-qa/transcript"
)

// Step is the workflow position of a session.
type Step string

const (
	StepInput   Step = "input"
	StepRunning Step = "running"
	StepResults Step = "results"
	StepFixes   Step = "fixes"
)

// ModelConfig selects the chat model. The API key is server configuration
// and never part of a session.
type ModelConfig struct {
	Model string `json:"model"`
}

// State is the persisted bundle of a session: inputs, results and fixes.
// It is stored as one opaque JSON document in the analyses library.
type State struct {
	Transcripts          []transcript.Transcript `json:"transcripts"`
	ReferenceScript      string                  `json:"referenceScript"`
	ReferenceEnabled     bool                    `json:"referenceEnabled"`
	KnowledgeBase        string                  `json:"knowledgeBase"`
	KnowledgeBaseEnabled bool                    `json:"knowledgeBaseEnabled"`
	Checks               []qa.Check              `json:"checks"`
	OpenAIConfig         ModelConfig             `json:"openaiConfig"`
	Results              *qa.AnalysisResult      `json:"results"`
	Fixes                *qa.FixSuggestions      `json:"fixes"`
	SelectedCallID       string                  `json:"selectedCallId,omitempty"`
	Calls                []qa.CallOutcome        `json:"calls,omitempty"`
	Placements           []qa.FixPlacement       `json:"placements,omitempty"`
	ScriptSections       []qa.ScriptSection      `json:"scriptSections,omitempty"`
}

// InitialState returns the seeded state of a new session: the first demo
// call, the default reference script and every built-in check.
func InitialState(model string) State {
	return State{
		Transcripts:      []transcript.Transcript{transcript.DemoTranscript()},
		ReferenceScript:  transcript.DefaultReferenceScript(),
		ReferenceEnabled: true,
		Checks:           qa.DefaultChecks(),
		OpenAIConfig:     ModelConfig{Model: model},
	}
}

// step derives the workflow position from the data present.
func (s *State) step() Step {
	switch {
	case s.Fixes != nil:
		return StepFixes
	case s.Results != nil:
		return StepResults
	default:
		return StepInput
	}
}

func (s State) clone() State {
	c := s
	c.Transcripts = append([]transcript.Transcript(nil), s.Transcripts...)
	c.Checks = append([]qa.Check(nil), s.Checks...)
	c.Calls = append([]qa.CallOutcome(nil), s.Calls...)
	c.Placements = append([]qa.FixPlacement(nil), s.Placements...)
	c.ScriptSections = append([]qa.ScriptSection(nil), s.ScriptSections...)
	return c
}

func (s *State) check(id string) (*qa.Check, bool) {
	for i := range s.Checks {
		if s.Checks[i].ID == id {
			return &s.Checks[i], true
		}
	}
	return nil, false
}
