package qa

import (
	"fmt"
	"strings"
)

// ParseIssues extracts the issue array from a model reply for transcriptID.
// It never fails: unrecoverable output yields an empty, degraded outcome.
// Field values are passed through as the model sent them; see ValidateIssues.
func ParseIssues(raw, transcriptID string) Outcome[[]DetectedIssue] {
	out := Outcome[[]DetectedIssue]{Value: []DetectedIssue{}}

	text := stripFences(raw)
	span, ok := sliceSpan(text, '[', ']')
	if !ok {
		out.Degraded = true
		out.Diagnostic = "no JSON array found in response"
		return out
	}

	var items []any
	repairs, err := decodeCascade(span, &items, basicRepair)
	if err != nil {
		out.Degraded = true
		out.Diagnostic = fmt.Sprintf("issue array unparseable after repair: %v", err)
		return out
	}
	out.Repaired = repairs > 0

	skipped := 0
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		sev, _ := getString(m, "severity")
		typ, _ := getString(m, "type")
		issue := DetectedIssue{
			ID:          fmt.Sprintf("%s-issue-%d", transcriptID, i),
			CallID:      transcriptID,
			Type:        IssueType(typ),
			Severity:    Severity(sev),
			Confidence:  getInt(m, "confidence"),
			LineNumbers: getIntSlice(m, "lineNumbers", "line_numbers"),
		}
		issue.EvidenceSnippet, _ = getString(m, "evidenceSnippet", "evidence_snippet", "evidence")
		issue.Explanation, _ = getString(m, "explanation")
		issue.SuggestedFix, _ = getString(m, "suggestedFix", "suggested_fix")
		out.Value = append(out.Value, issue)
	}
	if skipped > 0 {
		out.Diagnostic = fmt.Sprintf("skipped %d non-object array elements", skipped)
	}
	return out
}

// NormalizeIssues returns the issues in a model reply, or an empty list
// when nothing usable can be recovered.
func NormalizeIssues(raw, transcriptID string) []DetectedIssue {
	return ParseIssues(raw, transcriptID).Value
}

// ParseFixes extracts the scriptFixes/generalFixes object from a model reply,
// running a two-tier repair cascade. A degraded outcome means no JSON object
// could be recovered at all.
func ParseFixes(raw string) Outcome[FixSuggestions] {
	out := Outcome[FixSuggestions]{Value: FixSuggestions{ScriptFixes: []Fix{}, GeneralFixes: []Fix{}}}

	text := stripFences(raw)
	span, ok := sliceSpan(text, '{', '}')
	if !ok {
		out.Degraded = true
		out.Diagnostic = "no JSON object found in response"
		return out
	}

	var obj map[string]any
	repairs, err := decodeCascade(span, &obj, basicRepair, aggressiveRepair)
	if err != nil {
		out.Degraded = true
		out.Diagnostic = fmt.Sprintf("fix object unparseable after %d repair tiers: %v", repairs, err)
		return out
	}
	out.Repaired = repairs > 0

	out.Value.ScriptFixes = fixBucket(obj, "script", "scriptFixes", "script_fixes")
	out.Value.GeneralFixes = fixBucket(obj, "general", "generalFixes", "general_fixes")
	return out
}

// NormalizeFixResponse is ParseFixes with loud failure: an unrecoverable
// reply is an error wrapping ErrInvalidJSON, never an empty result.
func NormalizeFixResponse(raw string) (FixSuggestions, error) {
	out := ParseFixes(raw)
	if out.Degraded {
		return FixSuggestions{}, fmt.Errorf("%w: %s", ErrInvalidJSON, out.Diagnostic)
	}
	return out.Value, nil
}

func fixBucket(obj map[string]any, bucket string, keys ...string) []Fix {
	fixes := []Fix{}
	for _, k := range keys {
		arr, ok := obj[k].([]any)
		if !ok {
			continue
		}
		for _, item := range arr {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			fixes = append(fixes, fixFromMap(m, fmt.Sprintf("%s-fix-%d", bucket, len(fixes))))
		}
		break
	}
	return fixes
}

func fixFromMap(m map[string]any, id string) Fix {
	return Fix{
		ID:              id,
		IssueType:       stringOr(m, string(IssueQuality), "issueType", "issue_type", "type"),
		Problem:         stringOr(m, "Issue detected", "problem"),
		Suggestion:      stringOr(m, "", "suggestion"),
		PlacementHint:   stringOr(m, "Add to system prompt", "placementHint", "placement_hint"),
		ExampleResponse: stringOr(m, "", "exampleResponse", "example_response"),
		RelatedIssueIDs: getStringSlice(m, "relatedIssueIds", "related_issue_ids"),
	}
}

// ParsePlacements extracts a placement array for fixes inside a script of
// totalLines lines. Line numbers are clamped to [0, totalLines], placements
// for unknown fixes are dropped, and every fix the model left out is
// appended at totalLines. If nothing can be parsed every fix goes at the end.
func ParsePlacements(raw string, fixes []Fix, totalLines int) Outcome[[]FixPlacement] {
	out := Outcome[[]FixPlacement]{Value: []FixPlacement{}}

	known := make(map[string]bool, len(fixes))
	for _, f := range fixes {
		known[f.ID] = true
	}

	var notes []string
	text := stripFences(raw)
	span, ok := sliceSpan(text, '[', ']')
	var items []any
	if !ok {
		out.Degraded = true
		notes = append(notes, "no JSON array found in response")
	} else if repairs, err := decodeCascade(span, &items, basicRepair, aggressiveRepair); err != nil {
		out.Degraded = true
		notes = append(notes, fmt.Sprintf("placement array unparseable: %v", err))
	} else {
		out.Repaired = repairs > 0
	}

	placed := make(map[string]bool, len(fixes))
	stale, dup := 0, 0
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := getString(m, "fixId", "fix_id", "id")
		if !known[id] {
			stale++
			continue
		}
		if placed[id] {
			dup++
			continue
		}
		line := getInt(m, "lineNumber", "line_number", "line", "insertAfterLine")
		if line < 0 {
			line = 0
		}
		if line > totalLines {
			line = totalLines
		}
		reasoning, _ := getString(m, "reasoning")
		out.Value = append(out.Value, FixPlacement{FixID: id, LineNumber: line, Reasoning: reasoning})
		placed[id] = true
	}
	if stale > 0 {
		notes = append(notes, fmt.Sprintf("ignored %d placements for unknown fixes", stale))
	}
	if dup > 0 {
		notes = append(notes, fmt.Sprintf("ignored %d duplicate placements", dup))
	}

	appended := 0
	for _, f := range fixes {
		if placed[f.ID] {
			continue
		}
		out.Value = append(out.Value, FixPlacement{
			FixID:      f.ID,
			LineNumber: totalLines,
			Reasoning:  "Appended at end of script",
		})
		appended++
	}
	if appended > 0 && !out.Degraded {
		notes = append(notes, fmt.Sprintf("appended %d unplaced fixes at end", appended))
	}
	out.Diagnostic = strings.Join(notes, "; ")
	return out
}
