package qa

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"voicebot-qa/llm"
	"voicebot-qa/transcript"
)

// Prompt is a system/user message pair.
type Prompt struct {
	System string
	User   string
}

// Messages converts the prompt into chat messages.
func (p Prompt) Messages() []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: p.System},
		{Role: llm.RoleUser, Content: p.User},
	}
}

// AnalysisPromptInput is everything needed to analyze one transcript.
type AnalysisPromptInput struct {
	Transcript      transcript.Transcript
	Checks          []Check
	ReferenceScript string
	KnowledgeBase   string
}

// BuildAnalysisPrompt renders the per-transcript detection prompt. Checks
// should already be filtered to the active set.
func BuildAnalysisPrompt(in AnalysisPromptInput) Prompt {
	var b strings.Builder
	b.WriteString("You are an expert AI voice bot quality analyst. Your task is to analyze call transcripts and detect issues based on specific checks.\n\n")
	b.WriteString("Analyze the following transcript and identify issues based on these enabled checks:\n")
	for _, c := range in.Checks {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Instructions)
	}
	b.WriteString("\n")

	if strings.TrimSpace(in.ReferenceScript) != "" {
		fmt.Fprintf(&b, "Reference Script/Flow:\n%s\n\n", in.ReferenceScript)
	}
	if strings.TrimSpace(in.KnowledgeBase) != "" {
		fmt.Fprintf(&b, "Knowledge Base (facts the bot is expected to know):\n%s\n\n", in.KnowledgeBase)
	}

	types := make([]string, 0, len(Taxonomy)+len(in.Checks))
	for _, t := range Taxonomy {
		types = append(types, string(t))
	}
	var mapping []string
	for _, c := range in.Checks {
		t := IssueTypeFor(c.ID)
		if c.Custom {
			types = append(types, c.ID)
		}
		mapping = append(mapping, fmt.Sprintf("- %s -> %s", c.Name, t))
	}

	b.WriteString("For each issue found, provide a JSON object with:\n")
	fmt.Fprintf(&b, "- type: one of [%s]\n", strings.Join(types, ", "))
	b.WriteString("- severity: one of [low, medium, high, critical]\n")
	b.WriteString("- confidence: number between 0-100\n")
	b.WriteString("- evidenceSnippet: the exact text from the transcript that demonstrates the issue\n")
	b.WriteString("- lineNumbers: array of line numbers where the issue occurs\n")
	b.WriteString("- explanation: detailed explanation of why this is an issue\n")
	b.WriteString("- suggestedFix: optional short suggestion for improvement\n\n")
	b.WriteString("Use these types for each check:\n")
	b.WriteString(strings.Join(mapping, "\n"))
	b.WriteString("\n\nReturn ONLY a JSON array of issues. If no issues are found, return an empty array [].")

	return Prompt{
		System: b.String(),
		User:   "Transcript to analyze:\n" + in.Transcript.Render(),
	}
}

// FixPromptInput is everything needed to request fix suggestions.
type FixPromptInput struct {
	Issues          []DetectedIssue
	ReferenceScript string
	KnowledgeBase   string
}

const fixSystemPrompt = `You are an expert AI voice bot developer and prompt engineer. Your task is to generate actionable fix suggestions for detected issues in voice bot call transcripts.

Based on the issues found, generate specific, actionable fixes. Consider:
1. Script/Flow fixes - Changes to the reference script or conversation flow
2. Prompt/Instruction fixes - Improvements to the bot's system prompts or instructions

For each fix suggestion, provide a JSON object with:
- issueType: the type of issue this fix addresses
- problem: concise description of the problem
- suggestion: specific, actionable fix suggestion, written so it can be pasted into the script as-is
- placementHint: where in the script/prompt this should be applied
- exampleResponse: an example of how the bot should respond after the fix
- relatedIssueIds: array of issue IDs this fix addresses

Separate fixes into:
- scriptFixes: Changes to the conversation flow or reference script
- generalFixes: Changes to bot prompts, instructions, or behavior

Return a JSON object with "scriptFixes" and "generalFixes" arrays.`

// BuildFixPrompt renders the fix-generation prompt for a set of issues.
func BuildFixPrompt(in FixPromptInput) Prompt {
	entries := make([]string, len(in.Issues))
	for i, issue := range in.Issues {
		entries[i] = fmt.Sprintf("Issue ID: %s\nType: %s\nSeverity: %s\nExplanation: %s\nEvidence: %s",
			issue.ID, issue.Type, issue.Severity, issue.Explanation, issue.EvidenceSnippet)
	}

	var b strings.Builder
	b.WriteString("Issues detected:\n\n")
	b.WriteString(strings.Join(entries, "\n\n---\n\n"))
	b.WriteString("\n\n")
	if strings.TrimSpace(in.ReferenceScript) != "" {
		fmt.Fprintf(&b, "Current Reference Script:\n%s\n\n", in.ReferenceScript)
	}
	if strings.TrimSpace(in.KnowledgeBase) != "" {
		fmt.Fprintf(&b, "Knowledge Base:\n%s\n\n", in.KnowledgeBase)
	}
	b.WriteString("Generate fix suggestions for these issues.")

	return Prompt{System: fixSystemPrompt, User: b.String()}
}

const placementSystemPrompt = `You are an expert conversation designer. You will receive a reference script with numbered lines and a list of fixes. Decide where each fix should be inserted into the script so the flow stays logical.

For each fix, return a JSON object with:
- fixId: the id of the fix exactly as given
- lineNumber: insert the fix after this line number; use 0 to insert before the first line
- reasoning: one sentence explaining the choice

Every fix must appear exactly once. Return ONLY a JSON array of placements.`

// BuildPlacementPrompt renders the prompt asking where fixes belong in script.
func BuildPlacementPrompt(script string, fixes []Fix) Prompt {
	var b strings.Builder
	b.WriteString("Reference script (numbered lines):\n")
	for i, line := range SplitLines(script) {
		fmt.Fprintf(&b, "%d: %s\n", i+1, line)
	}
	b.WriteString("\nFixes to place:\n")
	for _, f := range fixes {
		fmt.Fprintf(&b, "\nFix ID: %s\nProblem: %s\nSuggestion: %s\nPlacement hint: %s\n",
			f.ID, f.Problem, f.Suggestion, f.PlacementHint)
	}
	b.WriteString("\nReturn the placements as a JSON array.")
	return Prompt{System: placementSystemPrompt, User: b.String()}
}

func buildFixerPrompt(malformed string, maxChars int) Prompt {
	if maxChars > 0 && len(malformed) > maxChars {
		truncated := malformed[:maxChars]
		for i := 0; i < 3 && !utf8.ValidString(truncated); i++ {
			truncated = truncated[:len(truncated)-1]
		}
		malformed = truncated
	}
	return Prompt{
		System: `You are a JSON repair tool. Fix the syntax of the malformed JSON you are given and output the corrected JSON.

Rules:
1. Only fix syntax errors (missing quotes, extra commas, unclosed brackets and so on)
2. Do not change the content
3. Output must be valid JSON
4. Do not add any explanation`,
		User: "Malformed JSON:\n" + malformed,
	}
}
