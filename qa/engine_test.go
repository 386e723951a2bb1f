package qa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"voicebot-qa/llm"
	"voicebot-qa/logger"
	"voicebot-qa/transcript"
)

// fakeGateway replays scripted replies in order.
type fakeGateway struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []llm.Request
}

func (f *fakeGateway) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.requests)
	f.requests = append(f.requests, req)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "[]", nil
}

func testTranscripts(ids ...string) []transcript.Transcript {
	out := make([]transcript.Transcript, len(ids))
	for i, id := range ids {
		out[i] = transcript.Transcript{ID: id, Lines: []transcript.Line{
			{Speaker: transcript.SpeakerBot, Text: "Hello"},
			{Speaker: transcript.SpeakerCustomer, Text: "Hola"},
			{Speaker: transcript.SpeakerBot, Text: "Hello"},
		}}
	}
	return out
}

func TestEngine_Analyze_ContinuesAfterFailure(t *testing.T) {
	gw := &fakeGateway{
		replies: []string{
			`[{"type":"language_mismatch","severity":"high","confidence":90,"lineNumbers":[2],"explanation":"x"}]`,
			"",
			"Sorry, I cannot comply.",
			`[{"type":"repetition_loop","severity":"medium","confidence":70,"lineNumbers":[1,3]},{"type":"bogus","severity":"low"}]`,
		},
		errs: []error{nil, errors.New("connection reset")},
	}
	eng := NewEngine(gw, logger.Nop(), EngineConfig{Model: "gpt-4.1-mini"})

	var progress []int
	run, err := eng.Analyze(context.Background(), AnalyzeInput{
		Transcripts:      testTranscripts("c1", "c2", "c3", "c4"),
		Checks:           DefaultChecks(),
		ReferenceScript:  "# Flow",
		ReferenceEnabled: true,
	}, func(p int) { progress = append(progress, p) })
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(gw.requests) != 4 {
		t.Fatalf("expected 4 model calls, got %d", len(gw.requests))
	}
	if gw.requests[0].Model != "gpt-4.1-mini" {
		t.Errorf("model = %q", gw.requests[0].Model)
	}
	if len(run.Calls) != 4 {
		t.Fatalf("calls = %d", len(run.Calls))
	}
	if run.Calls[1].Error == "" || run.Failed() != 1 {
		t.Errorf("c2 failure not recorded: %+v", run.Calls[1])
	}
	if !run.Calls[2].Degraded || run.Degraded() != 1 {
		t.Errorf("c3 should be degraded: %+v", run.Calls[2])
	}
	if len(run.Calls[3].Rejected) != 1 || run.Calls[3].IssueCount != 1 {
		t.Errorf("c4 = %+v", run.Calls[3])
	}

	r := run.Result
	if r.TotalCalls != 4 || len(r.Issues) != 2 || r.CallsWithIssues != 2 {
		t.Errorf("result = %+v", r)
	}
	if r.LanguageMismatchRate != 25 {
		t.Errorf("rate = %v", r.LanguageMismatchRate)
	}
	if r.Issues[1].ID != "c4-issue-0" {
		t.Errorf("issue id = %s", r.Issues[1].ID)
	}

	want := []int{0, 22, 45, 67, 90, 95, 100}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v", progress)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress = %v, want %v", progress, want)
			break
		}
	}
}

func TestEngine_Analyze_ReferenceDisabledSkipsFlowCompliance(t *testing.T) {
	gw := &fakeGateway{}
	eng := NewEngine(gw, logger.Nop(), EngineConfig{})
	_, err := eng.Analyze(context.Background(), AnalyzeInput{
		Transcripts:     testTranscripts("c1"),
		Checks:          DefaultChecks(),
		ReferenceScript: "# Secret flow",
	}, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	system := gw.requests[0].Messages[0].Content
	if strings.Contains(system, "Flow Compliance") || strings.Contains(system, "# Secret flow") {
		t.Error("reference-only content leaked into the prompt")
	}
}

func TestEngine_Analyze_InputErrors(t *testing.T) {
	eng := NewEngine(&fakeGateway{}, logger.Nop(), EngineConfig{})
	if _, err := eng.Analyze(context.Background(), AnalyzeInput{Checks: DefaultChecks()}, nil); !errors.Is(err, ErrNoTranscripts) {
		t.Errorf("err = %v", err)
	}
	checks := DefaultChecks()
	for i := range checks {
		checks[i].Enabled = false
	}
	_, err := eng.Analyze(context.Background(), AnalyzeInput{Transcripts: testTranscripts("a"), Checks: checks}, nil)
	if !errors.Is(err, ErrNoEnabledChecks) {
		t.Errorf("err = %v", err)
	}
}

func TestEngine_Analyze_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := NewEngine(&fakeGateway{}, logger.Nop(), EngineConfig{})
	_, err := eng.Analyze(ctx, AnalyzeInput{Transcripts: testTranscripts("a"), Checks: DefaultChecks()}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestEngine_GenerateFixes(t *testing.T) {
	issues := []DetectedIssue{
		{ID: "c1-issue-0", Type: IssueRepetitionLoop, Severity: SeverityHigh},
		{ID: "c2-issue-0", Type: IssueRepetitionLoop, Severity: SeverityLow},
		{ID: "c2-issue-1", Type: IssueQuality, Severity: SeverityLow},
	}
	gw := &fakeGateway{replies: []string{`{"scriptFixes":[{"issueType":"repetition_loop","suggestion":"Track tried steps"}],
		"generalFixes":[{"issueType":"quality_issue","suggestion":"Be warm","relatedIssueIds":["c2-issue-1"]}]}`}}
	eng := NewEngine(gw, logger.Nop(), EngineConfig{})

	fixes, err := eng.GenerateFixes(context.Background(), FixInput{Issues: issues})
	if err != nil {
		t.Fatalf("GenerateFixes: %v", err)
	}
	related := fixes.ScriptFixes[0].RelatedIssueIDs
	if len(related) != 2 || related[0] != "c1-issue-0" || related[1] != "c2-issue-0" {
		t.Errorf("related = %v", related)
	}
	if got := fixes.GeneralFixes[0].RelatedIssueIDs; len(got) != 1 || got[0] != "c2-issue-1" {
		t.Errorf("explicit related ids overwritten: %v", got)
	}
}

func TestEngine_GenerateFixes_NoIssuesSkipsModel(t *testing.T) {
	gw := &fakeGateway{}
	fixes, err := NewEngine(gw, logger.Nop(), EngineConfig{}).GenerateFixes(context.Background(), FixInput{})
	if err != nil || len(fixes.All()) != 0 || len(gw.requests) != 0 {
		t.Errorf("fixes=%+v err=%v calls=%d", fixes, err, len(gw.requests))
	}
}

func TestEngine_GenerateFixes_Errors(t *testing.T) {
	issues := []DetectedIssue{{ID: "c-issue-0", Type: IssueQuality}}

	transport := errors.New("dial tcp: timeout")
	eng := NewEngine(&fakeGateway{errs: []error{transport}}, logger.Nop(), EngineConfig{})
	if _, err := eng.GenerateFixes(context.Background(), FixInput{Issues: issues}); !errors.Is(err, transport) {
		t.Errorf("transport err = %v", err)
	}

	eng = NewEngine(&fakeGateway{replies: []string{"no json here"}}, logger.Nop(), EngineConfig{})
	if _, err := eng.GenerateFixes(context.Background(), FixInput{Issues: issues}); !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("parse err = %v", err)
	}
}

func TestEngine_GenerateFixes_JSONFixerRecovers(t *testing.T) {
	gw := &fakeGateway{replies: []string{
		"scriptFixes: none, generalFixes: one",
		"```json\n{\"scriptFixes\": [], \"generalFixes\": [{\"suggestion\": \"Be brief\"}]}\n```",
	}}
	eng := NewEngine(gw, logger.Nop(), EngineConfig{JSONFixerEnabled: true})
	fixes, err := eng.GenerateFixes(context.Background(), FixInput{Issues: []DetectedIssue{{ID: "i", Type: IssueQuality}}})
	if err != nil {
		t.Fatalf("GenerateFixes: %v", err)
	}
	if len(gw.requests) != 2 {
		t.Errorf("expected fixer call, got %d requests", len(gw.requests))
	}
	if len(fixes.GeneralFixes) != 1 || fixes.GeneralFixes[0].ID != "general-fix-0" {
		t.Errorf("fixes = %+v", fixes)
	}
	if got := fixes.GeneralFixes[0].RelatedIssueIDs; len(got) != 1 || got[0] != "i" {
		t.Errorf("related = %v", got)
	}
}

func TestEngine_PlanPlacements(t *testing.T) {
	fixes := []Fix{{ID: "script-fix-0", Suggestion: "Verify"}, {ID: "script-fix-1", Suggestion: "Switch language"}}
	gw := &fakeGateway{replies: []string{`[{"fixId":"script-fix-0","lineNumber":1,"reasoning":"before help"}]`}}
	eng := NewEngine(gw, logger.Nop(), EngineConfig{})

	out, err := eng.PlanPlacements(context.Background(), PlacementInput{Script: "Greet\nHelp\nClose", Fixes: fixes})
	if err != nil {
		t.Fatalf("PlanPlacements: %v", err)
	}
	if len(out.Value) != 2 || out.Value[1].FixID != "script-fix-1" || out.Value[1].LineNumber != 3 {
		t.Errorf("placements = %+v", out.Value)
	}
	clean := CleanText(Assemble("Greet\nHelp\nClose", fixes, out.Value))
	if clean != "Greet\nVerify\nHelp\nClose\nSwitch language" {
		t.Errorf("clean = %q", clean)
	}
}

func TestEngine_PlanPlacements_TransportErrorPropagates(t *testing.T) {
	boom := errors.New("502")
	eng := NewEngine(&fakeGateway{errs: []error{boom}}, logger.Nop(), EngineConfig{})
	_, err := eng.PlanPlacements(context.Background(), PlacementInput{Script: "A", Fixes: []Fix{{ID: "f"}}})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}
