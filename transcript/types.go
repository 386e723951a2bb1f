package transcript

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is wrapped by Validate failures.
var ErrInvalid = errors.New("invalid transcript")

// Speaker identifies who said a line.
type Speaker string

const (
	SpeakerBot      Speaker = "bot"
	SpeakerCustomer Speaker = "customer"
)

// Line is one conversational turn.
type Line struct {
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp string  `json:"timestamp,omitempty"`
	Language  string  `json:"language,omitempty"`
}

// Metadata carries optional descriptive fields about a call.
type Metadata struct {
	Duration string `json:"duration,omitempty"`
	Date     string `json:"date,omitempty"`
	AgentID  string `json:"agentId,omitempty"`
}

// Transcript is an ordered call conversation. It is treated as read-only once loaded.
type Transcript struct {
	ID       string    `json:"id"`
	Lines    []Line    `json:"lines"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Validate checks the minimal shape needed for analysis.
func (t *Transcript) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if len(t.Lines) == 0 {
		return fmt.Errorf("%w: %s has no lines", ErrInvalid, t.ID)
	}
	for i, l := range t.Lines {
		if l.Speaker != SpeakerBot && l.Speaker != SpeakerCustomer {
			return fmt.Errorf("%w: %s line %d: unknown speaker %q", ErrInvalid, t.ID, i+1, l.Speaker)
		}
	}
	return nil
}

// Render formats the transcript as "[n] SPEAKER: text" lines, numbered from 1.
// Non-English lines are annotated with their language code.
func (t *Transcript) Render() string {
	var b strings.Builder
	for i, l := range t.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] %s: %s", i+1, strings.ToUpper(string(l.Speaker)), l.Text)
		if l.Language != "" && l.Language != "en" {
			fmt.Fprintf(&b, " (%s)", l.Language)
		}
	}
	return b.String()
}

// ParseSpeaker maps free-form speaker labels onto a Speaker.
func ParseSpeaker(s string) (Speaker, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bot", "agent", "assistant", "ai":
		return SpeakerBot, true
	case "customer", "user", "caller", "human":
		return SpeakerCustomer, true
	}
	return "", false
}
