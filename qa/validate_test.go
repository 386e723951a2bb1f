package qa

import "testing"

func TestValidateIssues(t *testing.T) {
	custom := NewCustomCheck("Upsell", "", "Flag pushy upsells")
	valid := ValidIssueTypes(append(DefaultChecks(), custom))

	issues := []DetectedIssue{
		{ID: "c-issue-0", Type: IssueQuality, Severity: " HIGH ", Confidence: 150, LineNumbers: []int{0, 2, 9}},
		{ID: "c-issue-1", Type: "hallucinated_type", Severity: SeverityLow},
		{ID: "c-issue-2", Type: IssueRepetitionLoop, Severity: "severe"},
		{ID: "c-issue-3", Type: IssueType(custom.ID), Severity: SeverityMedium, Confidence: -3},
	}
	accepted, rejected, notes := ValidateIssues(issues, valid, 5)

	if len(accepted) != 2 {
		t.Fatalf("accepted = %+v", accepted)
	}
	if accepted[0].Severity != SeverityHigh || accepted[0].Confidence != 100 {
		t.Errorf("first = %+v", accepted[0])
	}
	if len(accepted[0].LineNumbers) != 1 || accepted[0].LineNumbers[0] != 2 {
		t.Errorf("lineNumbers = %v", accepted[0].LineNumbers)
	}
	if accepted[1].Confidence != 0 {
		t.Errorf("custom confidence = %d", accepted[1].Confidence)
	}

	if len(rejected) != 2 || rejected[0].IssueID != "c-issue-1" || rejected[1].IssueID != "c-issue-2" {
		t.Errorf("rejected = %+v", rejected)
	}
	if len(notes) != 3 {
		t.Errorf("notes = %v", notes)
	}
}

func TestValidIssueTypes_OnlyActiveCustomChecks(t *testing.T) {
	custom := NewCustomCheck("Compliance", "", "x")
	builtinOnly := ValidIssueTypes(DefaultChecks())
	if builtinOnly[IssueType(custom.ID)] {
		t.Error("inactive custom check should not be valid")
	}
	if len(builtinOnly) != len(Taxonomy) {
		t.Errorf("got %d types", len(builtinOnly))
	}
	if !ValidIssueTypes([]Check{custom})[IssueType(custom.ID)] {
		t.Error("custom check id should be valid")
	}
}
