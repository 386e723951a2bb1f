package qa

import (
	"fmt"
	"strings"
)

// Rejection records an issue dropped by ValidateIssues.
type Rejection struct {
	IssueID string `json:"issueId"`
	Type    string `json:"type"`
	Reason  string `json:"reason"`
}

// ValidateIssues splits issues into accepted and rejected.
//
// Issues are rejected when their type is not in validTypes or their severity is
// not a known level after case folding. Accepted issues have confidence clamped
// to 0..100 and line numbers outside 1..lineCount removed; lineCount <= 0
// disables the line check. Adjustments are returned as notes.
func ValidateIssues(issues []DetectedIssue, validTypes map[IssueType]bool, lineCount int) (accepted []DetectedIssue, rejected []Rejection, notes []string) {
	accepted = make([]DetectedIssue, 0, len(issues))
	for _, issue := range issues {
		issue.Type = IssueType(strings.TrimSpace(string(issue.Type)))
		if !validTypes[issue.Type] {
			rejected = append(rejected, Rejection{
				IssueID: issue.ID,
				Type:    string(issue.Type),
				Reason:  fmt.Sprintf("unknown issue type %q", issue.Type),
			})
			continue
		}

		sev := Severity(strings.ToLower(strings.TrimSpace(string(issue.Severity))))
		if !sev.Valid() {
			rejected = append(rejected, Rejection{
				IssueID: issue.ID,
				Type:    string(issue.Type),
				Reason:  fmt.Sprintf("unknown severity %q", issue.Severity),
			})
			continue
		}
		issue.Severity = sev

		if issue.Confidence < 0 || issue.Confidence > 100 {
			notes = append(notes, fmt.Sprintf("%s: confidence %d clamped", issue.ID, issue.Confidence))
			issue.Confidence = min(max(issue.Confidence, 0), 100)
		}

		if lineCount > 0 {
			kept := make([]int, 0, len(issue.LineNumbers))
			for _, n := range issue.LineNumbers {
				if n >= 1 && n <= lineCount {
					kept = append(kept, n)
				}
			}
			if dropped := len(issue.LineNumbers) - len(kept); dropped > 0 {
				notes = append(notes, fmt.Sprintf("%s: dropped %d out-of-range line numbers", issue.ID, dropped))
			}
			issue.LineNumbers = kept
		}

		accepted = append(accepted, issue)
	}
	return accepted, rejected, notes
}
