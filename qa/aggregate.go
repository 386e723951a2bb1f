package qa

// Aggregate folds issues into run-level counters. Taxonomy and severity keys
// are always present. Types outside the taxonomy are counted under "other"
// and, by raw type, in CustomIssuesByType; unknown severities go to "other".
func Aggregate(issues []DetectedIssue, totalCalls int) AnalysisResult {
	byType := make(map[string]int, len(Taxonomy)+1)
	for _, t := range Taxonomy {
		byType[string(t)] = 0
	}
	bySeverity := make(map[string]int, len(Severities)+1)
	for _, s := range Severities {
		bySeverity[string(s)] = 0
	}

	var custom map[string]int
	calls := make(map[string]struct{})
	for _, issue := range issues {
		calls[issue.CallID] = struct{}{}

		if issue.Type.InTaxonomy() {
			byType[string(issue.Type)]++
		} else {
			byType[OtherBucket]++
			if custom == nil {
				custom = make(map[string]int)
			}
			custom[string(issue.Type)]++
		}

		if issue.Severity.Valid() {
			bySeverity[string(issue.Severity)]++
		} else {
			bySeverity[OtherBucket]++
		}
	}

	rate := 0.0
	if totalCalls > 0 {
		rate = float64(byType[string(IssueLanguageMismatch)]) / float64(totalCalls) * 100
	}

	list := issues
	if list == nil {
		list = []DetectedIssue{}
	}
	return AnalysisResult{
		TotalCalls:           totalCalls,
		CallsWithIssues:      len(calls),
		Issues:               list,
		IssuesByType:         byType,
		SeverityDistribution: bySeverity,
		LanguageMismatchRate: rate,
		CustomIssuesByType:   custom,
	}
}
