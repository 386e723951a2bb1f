package qa

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Built-in check ids.
const (
	CheckFlowCompliance    = "flow_compliance"
	CheckRepetition        = "repetition"
	CheckLanguageAlignment = "language_alignment"
	CheckRestartReset      = "restart_reset"
	CheckGeneralQuality    = "general_quality"
)

// Check is a named natural-language instruction describing what to detect.
type Check struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	Enabled             bool   `json:"enabled"`
	RequiresReference   bool   `json:"requiresReference"`
	Instructions        string `json:"instructions"`
	DefaultInstructions string `json:"defaultInstructions"`
	Custom              bool   `json:"custom,omitempty"`
	Icon                string `json:"icon,omitempty"`
}

var checkIssueTypes = map[string]IssueType{
	CheckFlowCompliance:    IssueFlowDeviation,
	CheckRepetition:        IssueRepetitionLoop,
	CheckLanguageAlignment: IssueLanguageMismatch,
	CheckRestartReset:      IssueMidCallRestart,
	CheckGeneralQuality:    IssueQuality,
}

// IssueTypeFor maps a check id to the issue type it produces.
func IssueTypeFor(checkID string) IssueType {
	if t, ok := checkIssueTypes[checkID]; ok {
		return t
	}
	return IssueType(checkID)
}

func builtin(id, name, desc, instructions string, requiresRef bool) Check {
	return Check{
		ID:                  id,
		Name:                name,
		Description:         desc,
		Enabled:             true,
		RequiresReference:   requiresRef,
		Instructions:        instructions,
		DefaultInstructions: instructions,
	}
}

// DefaultChecks returns a fresh copy of the built-in checks, all enabled.
func DefaultChecks() []Check {
	return []Check{
		builtin(CheckFlowCompliance, "Flow Compliance (Script Adherence)",
			"Detects where bot deviated from the reference script/flow. Only runs when reference script is enabled.",
			"Check if the bot follows the expected conversation flow defined in the reference script. Flag any skipped steps, out-of-order actions, or missing verifications.",
			true),
		builtin(CheckRepetition, "Repetition / Looping",
			"Detects repeated phrases and conversation loops where the bot says the same thing multiple times.",
			"Identify instances where the bot repeats the same or very similar responses multiple times. Flag loops where the bot seems stuck suggesting the same solution.",
			false),
		builtin(CheckLanguageAlignment, "Language Alignment",
			"Detects language mismatch when customer switches to a different language but bot continues in the original language.",
			"Detect when the customer switches to a different language (e.g., Hindi, Spanish) and the bot fails to acknowledge or adapt. Flag continued responses in the wrong language.",
			false),
		builtin(CheckRestartReset, "Restart / Reset Detection",
			"Detects when bot suddenly starts greeting again mid-call or loses context.",
			"Identify instances where the bot unexpectedly restarts the conversation, repeats the initial greeting mid-call, or appears to lose all prior context.",
			false),
		builtin(CheckGeneralQuality, "General Quality (Transcript-only)",
			"Analyzes transcript for general quality issues and suggests improvements. No reference script or knowledge base applied.",
			"Review the transcript for general quality issues: unclear responses, poor tone, missed opportunities to help, abrupt transitions, or unhelpful answers. Suggest improvements based solely on the conversation.",
			false),
	}
}

// NewCustomCheck creates an enabled user-defined check with a generated id.
func NewCustomCheck(name, description, instructions string) Check {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return Check{
		ID:                  fmt.Sprintf("custom_%d_%s", time.Now().UnixMilli(), suffix),
		Name:                name,
		Description:         description,
		Enabled:             true,
		Instructions:        instructions,
		DefaultInstructions: instructions,
		Custom:              true,
	}
}

// ActiveChecks returns the checks that will run: enabled, and with their
// reference requirement satisfied.
func ActiveChecks(checks []Check, referenceEnabled bool) []Check {
	var out []Check
	for _, c := range checks {
		if !c.Enabled {
			continue
		}
		if c.RequiresReference && !referenceEnabled {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ValidIssueTypes returns the built-in taxonomy plus the ids of the given custom checks.
func ValidIssueTypes(active []Check) map[IssueType]bool {
	valid := make(map[IssueType]bool, len(Taxonomy)+len(active))
	for _, t := range Taxonomy {
		valid[t] = true
	}
	for _, c := range active {
		if c.Custom {
			valid[IssueType(c.ID)] = true
		}
	}
	return valid
}
