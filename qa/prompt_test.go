package qa

import (
	"strings"
	"testing"

	"voicebot-qa/llm"
	"voicebot-qa/transcript"
)

func TestBuildAnalysisPrompt(t *testing.T) {
	custom := NewCustomCheck("Upsell", "", "Flag pushy upsells")
	checks := append(DefaultChecks()[1:3], custom)
	tr := transcript.Transcript{ID: "c1", Lines: []transcript.Line{
		{Speaker: transcript.SpeakerBot, Text: "Hello"},
		{Speaker: transcript.SpeakerCustomer, Text: "Namaste", Language: "hi"},
	}}

	p := BuildAnalysisPrompt(AnalysisPromptInput{
		Transcript:      tr,
		Checks:          checks,
		ReferenceScript: "# Flow",
		KnowledgeBase:   "Plans cost $10",
	})

	for _, want := range []string{
		"- Repetition / Looping: Identify instances",
		"- Upsell: Flag pushy upsells",
		"Reference Script/Flow:\n# Flow",
		"Plans cost $10",
		"quality_issue, " + custom.ID + "]",
		"- Upsell -> " + custom.ID,
		"- Language Alignment -> language_mismatch",
		"return an empty array [].",
	} {
		if !strings.Contains(p.System, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if p.User != "Transcript to analyze:\n[1] BOT: Hello\n[2] CUSTOMER: Namaste (hi)" {
		t.Errorf("user prompt = %q", p.User)
	}

	noRef := BuildAnalysisPrompt(AnalysisPromptInput{Transcript: tr, Checks: checks})
	if strings.Contains(noRef.System, "Reference Script") || strings.Contains(noRef.System, "Knowledge Base") {
		t.Error("optional blocks should be omitted")
	}

	msgs := p.Messages()
	if len(msgs) != 2 || msgs[0].Role != llm.RoleSystem || msgs[1].Role != llm.RoleUser {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestBuildFixPrompt(t *testing.T) {
	issues := []DetectedIssue{
		{ID: "a-issue-0", Type: IssueRepetitionLoop, Severity: SeverityHigh, Explanation: "loops", EvidenceSnippet: "restart"},
		{ID: "a-issue-1", Type: IssueQuality, Severity: SeverityLow, Explanation: "tone", EvidenceSnippet: "ok"},
	}
	p := BuildFixPrompt(FixPromptInput{Issues: issues, ReferenceScript: "# Flow"})
	want := "Issues detected:\n\nIssue ID: a-issue-0\nType: repetition_loop\nSeverity: high\nExplanation: loops\nEvidence: restart" +
		"\n\n---\n\nIssue ID: a-issue-1\nType: quality_issue\nSeverity: low\nExplanation: tone\nEvidence: ok" +
		"\n\nCurrent Reference Script:\n# Flow\n\nGenerate fix suggestions for these issues."
	if p.User != want {
		t.Errorf("user prompt =\n%s", p.User)
	}
	if !strings.Contains(p.System, `"scriptFixes" and "generalFixes"`) {
		t.Error("system prompt missing bucket instructions")
	}
}

func TestBuildPlacementPrompt(t *testing.T) {
	p := BuildPlacementPrompt("A\nB", []Fix{{ID: "script-fix-0", Problem: "p", Suggestion: "s", PlacementHint: "h"}})
	if !strings.Contains(p.User, "1: A\n2: B\n") {
		t.Errorf("script not numbered: %q", p.User)
	}
	if !strings.Contains(p.User, "Fix ID: script-fix-0") {
		t.Error("fix id missing")
	}
	if !strings.Contains(p.System, "use 0 to insert before the first line") {
		t.Error("system prompt missing line semantics")
	}
}
