package qa

import "errors"

var (
	// ErrInvalidJSON means a model reply could not be recovered into JSON.
	ErrInvalidJSON = errors.New("model response was not valid JSON")
	// ErrNoTranscripts is returned when an analysis run has nothing to analyze.
	ErrNoTranscripts = errors.New("no transcripts provided")
	// ErrNoEnabledChecks is returned when every check is disabled.
	ErrNoEnabledChecks = errors.New("no checks enabled")
)

// IssueType classifies a detected issue. Custom checks use their own id.
type IssueType string

const (
	IssueFlowDeviation    IssueType = "flow_deviation"
	IssueRepetitionLoop   IssueType = "repetition_loop"
	IssueLanguageMismatch IssueType = "language_mismatch"
	IssueMidCallRestart   IssueType = "mid_call_restart"
	IssueQuality          IssueType = "quality_issue"
)

// Taxonomy lists the built-in issue types in display order.
var Taxonomy = []IssueType{
	IssueFlowDeviation,
	IssueRepetitionLoop,
	IssueLanguageMismatch,
	IssueMidCallRestart,
	IssueQuality,
}

// InTaxonomy reports whether t is one of the built-in issue types.
func (t IssueType) InTaxonomy() bool {
	for _, v := range Taxonomy {
		if v == t {
			return true
		}
	}
	return false
}

// Severity grades an issue.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists the valid severities from least to most severe.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// OtherBucket collects aggregate counts for values outside the known enumerations.
const OtherBucket = "other"

// DetectedIssue is one model-reported problem in a transcript.
type DetectedIssue struct {
	ID              string    `json:"id"`
	CallID          string    `json:"callId"`
	Type            IssueType `json:"type"`
	Severity        Severity  `json:"severity"`
	Confidence      int       `json:"confidence"`
	EvidenceSnippet string    `json:"evidenceSnippet"`
	LineNumbers     []int     `json:"lineNumbers"`
	Explanation     string    `json:"explanation"`
	SuggestedFix    string    `json:"suggestedFix,omitempty"`
}

// Fix is a proposed remediation. IDs are bucket-local and zero-based:
// "script-fix-N" for script fixes and "general-fix-N" for general fixes.
type Fix struct {
	ID              string   `json:"id"`
	IssueType       string   `json:"issueType"`
	Problem         string   `json:"problem"`
	Suggestion      string   `json:"suggestion"`
	PlacementHint   string   `json:"placementHint"`
	ExampleResponse string   `json:"exampleResponse"`
	RelatedIssueIDs []string `json:"relatedIssueIds"`
}

// FixSuggestions holds the two disjoint fix buckets.
type FixSuggestions struct {
	ScriptFixes  []Fix `json:"scriptFixes"`
	GeneralFixes []Fix `json:"generalFixes"`
}

// All returns script fixes followed by general fixes.
func (f FixSuggestions) All() []Fix {
	out := make([]Fix, 0, len(f.ScriptFixes)+len(f.GeneralFixes))
	out = append(out, f.ScriptFixes...)
	return append(out, f.GeneralFixes...)
}

// Select returns the fixes whose ids are in ids, preserving bucket order.
// An empty ids list selects every script fix.
func (f FixSuggestions) Select(ids []string) []Fix {
	if len(ids) == 0 {
		return append([]Fix(nil), f.ScriptFixes...)
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []Fix
	for _, fix := range f.All() {
		if want[fix.ID] {
			out = append(out, fix)
		}
	}
	return out
}

// FixPlacement says where a fix goes: after 1-based line LineNumber, 0 meaning before everything.
type FixPlacement struct {
	FixID      string `json:"fixId"`
	LineNumber int    `json:"lineNumber"`
	Reasoning  string `json:"reasoning,omitempty"`
}

// ScriptSection is one block of a reconstructed script.
type ScriptSection struct {
	Text      string `json:"text"`
	IsNew     bool   `json:"isNew"`
	FixID     string `json:"fixId,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// AnalysisResult summarises issues across a run.
type AnalysisResult struct {
	TotalCalls           int             `json:"totalCalls"`
	CallsWithIssues      int             `json:"callsWithIssues"`
	Issues               []DetectedIssue `json:"issues"`
	IssuesByType         map[string]int  `json:"issuesByType"`
	SeverityDistribution map[string]int  `json:"severityDistribution"`
	LanguageMismatchRate float64         `json:"languageMismatchRate"`
	CustomIssuesByType   map[string]int  `json:"customIssuesByType,omitempty"`
}

// Outcome wraps a normalized value with how it was obtained.
// Degraded means Value is a fallback and not what the model intended.
// Repaired means a cleanup tier was needed before parsing succeeded.
type Outcome[T any] struct {
	Value      T
	Degraded   bool
	Repaired   bool
	Diagnostic string
}
