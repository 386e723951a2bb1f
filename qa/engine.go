package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voicebot-qa/llm"
	"voicebot-qa/logger"
	"voicebot-qa/transcript"
)

// Gateway is the chat-completion collaborator. *llm.Client satisfies it.
type Gateway interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// EngineConfig holds engine options.
type EngineConfig struct {
	Model            string
	JSONFixerEnabled bool
	JSONFixer        JSONFixerConfig
}

// Engine drives analysis, fix generation and placement planning.
// All model calls are sequential.
type Engine struct {
	gw  Gateway
	log logger.Logger
	cfg EngineConfig
}

// NewEngine creates an Engine.
func NewEngine(gw Gateway, log logger.Logger, cfg EngineConfig) *Engine {
	return &Engine{gw: gw, log: log, cfg: cfg}
}

// AnalyzeInput is the input to one analysis run.
type AnalyzeInput struct {
	Transcripts          []transcript.Transcript
	Checks               []Check
	ReferenceScript      string
	ReferenceEnabled     bool
	KnowledgeBase        string
	KnowledgeBaseEnabled bool
	Model                string
}

// CallOutcome records what happened to one transcript in a run.
type CallOutcome struct {
	CallID     string      `json:"callId"`
	IssueCount int         `json:"issueCount"`
	Rejected   []Rejection `json:"rejected,omitempty"`
	Notes      []string    `json:"notes,omitempty"`
	Degraded   bool        `json:"degraded,omitempty"`
	Repaired   bool        `json:"repaired,omitempty"`
	Diagnostic string      `json:"diagnostic,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// RunReport is the result of Analyze.
type RunReport struct {
	Result     AnalysisResult `json:"result"`
	Calls      []CallOutcome  `json:"calls"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// Failed returns the number of transcripts whose model call failed.
func (r *RunReport) Failed() int {
	n := 0
	for _, c := range r.Calls {
		if c.Error != "" {
			n++
		}
	}
	return n
}

// Degraded returns the number of transcripts whose reply could not be parsed.
func (r *RunReport) Degraded() int {
	n := 0
	for _, c := range r.Calls {
		if c.Degraded {
			n++
		}
	}
	return n
}

func (e *Engine) model(override string) string {
	if override != "" {
		return override
	}
	return e.cfg.Model
}

// Analyze runs the active checks over each transcript in turn. A failure on
// one transcript is recorded in its CallOutcome and the loop continues; only
// context cancellation aborts the run. progress, if non-nil, receives
// percentages: up to 90 while transcripts are processed, 95 before
// aggregation and 100 at the end.
func (e *Engine) Analyze(ctx context.Context, in AnalyzeInput, progress func(int)) (*RunReport, error) {
	if len(in.Transcripts) == 0 {
		return nil, ErrNoTranscripts
	}
	active := ActiveChecks(in.Checks, in.ReferenceEnabled)
	if len(active) == 0 {
		return nil, ErrNoEnabledChecks
	}
	report := func(p int) {
		if progress != nil {
			progress(p)
		}
	}

	ref := ""
	if in.ReferenceEnabled {
		ref = in.ReferenceScript
	}
	kb := ""
	if in.KnowledgeBaseEnabled {
		kb = in.KnowledgeBase
	}
	valid := ValidIssueTypes(active)
	model := e.model(in.Model)

	run := &RunReport{StartedAt: time.Now()}
	var issues []DetectedIssue
	n := len(in.Transcripts)
	report(0)

	for i, t := range in.Transcripts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome, found, err := e.analyzeOne(ctx, t, active, ref, kb, valid, model)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			outcome.Error = err.Error()
			e.log.Error("qa.call_failed",
				logger.String("call_id", t.ID),
				logger.Err(err),
			)
		}
		issues = append(issues, found...)
		run.Calls = append(run.Calls, outcome)
		report((i + 1) * 90 / n)
	}

	report(95)
	run.Result = Aggregate(issues, n)
	run.FinishedAt = time.Now()
	report(100)

	e.log.Info("qa.run_completed",
		logger.Int("calls", n),
		logger.Int("issues", len(run.Result.Issues)),
		logger.Int("failed", run.Failed()),
		logger.Int("degraded", run.Degraded()),
		logger.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run, nil
}

func (e *Engine) analyzeOne(ctx context.Context, t transcript.Transcript, checks []Check, ref, kb string,
	valid map[IssueType]bool, model string) (CallOutcome, []DetectedIssue, error) {
	outcome := CallOutcome{CallID: t.ID}

	p := BuildAnalysisPrompt(AnalysisPromptInput{
		Transcript:      t,
		Checks:          checks,
		ReferenceScript: ref,
		KnowledgeBase:   kb,
	})
	raw, err := e.gw.Complete(ctx, llm.Request{Model: model, Messages: p.Messages()})
	if err != nil {
		return outcome, nil, err
	}

	parsed := ParseIssues(raw, t.ID)
	outcome.Degraded = parsed.Degraded
	outcome.Repaired = parsed.Repaired
	outcome.Diagnostic = parsed.Diagnostic
	if parsed.Degraded {
		e.log.Warn("qa.issues_unparseable",
			logger.String("call_id", t.ID),
			logger.String("diagnostic", parsed.Diagnostic),
			logger.Int("raw_len", len(raw)),
		)
	}

	accepted, rejected, notes := ValidateIssues(parsed.Value, valid, len(t.Lines))
	outcome.Rejected = rejected
	outcome.Notes = notes
	outcome.IssueCount = len(accepted)
	if len(rejected) > 0 {
		e.log.Warn("qa.issues_rejected",
			logger.String("call_id", t.ID),
			logger.Int("rejected", len(rejected)),
		)
	}
	e.log.Debug("qa.call_analyzed",
		logger.String("call_id", t.ID),
		logger.Int("issues", len(accepted)),
		logger.Bool("repaired", parsed.Repaired),
	)
	return outcome, accepted, nil
}

// FixInput is the input to GenerateFixes.
type FixInput struct {
	Issues          []DetectedIssue
	ReferenceScript string
	KnowledgeBase   string
	Model           string
}

// GenerateFixes asks the model for fixes addressing issues. Transport errors
// and unrecoverable replies are returned as errors. Fixes that arrive without
// related issue ids are linked to every issue of the same type.
func (e *Engine) GenerateFixes(ctx context.Context, in FixInput) (FixSuggestions, error) {
	if len(in.Issues) == 0 {
		return FixSuggestions{ScriptFixes: []Fix{}, GeneralFixes: []Fix{}}, nil
	}
	model := e.model(in.Model)

	p := BuildFixPrompt(FixPromptInput{
		Issues:          in.Issues,
		ReferenceScript: in.ReferenceScript,
		KnowledgeBase:   in.KnowledgeBase,
	})
	raw, err := e.gw.Complete(ctx, llm.Request{Model: model, Messages: p.Messages()})
	if err != nil {
		return FixSuggestions{}, fmt.Errorf("generate fixes: %w", err)
	}

	fixes, err := NormalizeFixResponse(raw)
	if err != nil && e.cfg.JSONFixerEnabled {
		e.log.Warn("qa.fixes_json_fixer", logger.Err(err))
		var fixErr error
		fixes, fixErr = RunJSONFixer(ctx, e.gw, model, raw, e.cfg.JSONFixer)
		if fixErr != nil {
			err = errors.Join(err, fixErr)
		} else {
			err = nil
		}
	}
	if err != nil {
		e.log.Error("qa.fixes_unparseable", logger.Err(err), logger.Int("raw_len", len(raw)))
		return FixSuggestions{}, err
	}

	linkRelated(fixes.ScriptFixes, in.Issues)
	linkRelated(fixes.GeneralFixes, in.Issues)
	e.log.Info("qa.fixes_generated",
		logger.Int("issues", len(in.Issues)),
		logger.Int("script_fixes", len(fixes.ScriptFixes)),
		logger.Int("general_fixes", len(fixes.GeneralFixes)),
	)
	return fixes, nil
}

func linkRelated(fixes []Fix, issues []DetectedIssue) {
	for i := range fixes {
		if len(fixes[i].RelatedIssueIDs) > 0 {
			continue
		}
		ids := []string{}
		for _, issue := range issues {
			if strings.EqualFold(string(issue.Type), fixes[i].IssueType) {
				ids = append(ids, issue.ID)
			}
		}
		fixes[i].RelatedIssueIDs = ids
	}
}

// PlacementInput is the input to PlanPlacements.
type PlacementInput struct {
	Script string
	Fixes  []Fix
	Model  string
}

// PlanPlacements asks the model where each fix belongs in the script.
// Transport errors are returned; unusable replies degrade to appending
// every fix at the end, so no fix is lost.
func (e *Engine) PlanPlacements(ctx context.Context, in PlacementInput) (Outcome[[]FixPlacement], error) {
	if len(in.Fixes) == 0 {
		return Outcome[[]FixPlacement]{Value: []FixPlacement{}}, nil
	}
	totalLines := len(SplitLines(in.Script))
	if strings.TrimSpace(in.Script) == "" {
		out := ParsePlacements("", in.Fixes, totalLines)
		out.Degraded = false
		out.Diagnostic = "empty script; fixes appended"
		return out, nil
	}

	p := BuildPlacementPrompt(in.Script, in.Fixes)
	raw, err := e.gw.Complete(ctx, llm.Request{Model: e.model(in.Model), Messages: p.Messages()})
	if err != nil {
		return Outcome[[]FixPlacement]{}, fmt.Errorf("plan placements: %w", err)
	}

	out := ParsePlacements(raw, in.Fixes, totalLines)
	if out.Degraded {
		e.log.Warn("qa.placements_degraded",
			logger.String("diagnostic", out.Diagnostic),
			logger.Int("fixes", len(in.Fixes)),
		)
	}
	return out, nil
}
