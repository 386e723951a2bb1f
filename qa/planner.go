package qa

import (
	"sort"
	"strings"
)

// SplitLines splits a script into lines. Line N in a FixPlacement refers to
// element N-1 of the result.
func SplitLines(script string) []string {
	if script == "" {
		return nil
	}
	return strings.Split(script, "\n")
}

// Assemble rebuilds script with the placed fixes' suggestions inserted.
//
// Placements are applied in ascending line order; ties keep their input order.
// A placement naming a fix that is not in fixes is skipped without moving the
// cursor, and each fix is inserted at most once. Original text between
// insertion points is emitted verbatim unless it is blank. When nothing is
// inserted the result is the whole script as a single original section.
func Assemble(script string, fixes []Fix, placements []FixPlacement) []ScriptSection {
	lines := SplitLines(script)
	total := len(lines)

	byID := make(map[string]Fix, len(fixes))
	for _, f := range fixes {
		byID[f.ID] = f
	}

	sorted := make([]FixPlacement, len(placements))
	copy(sorted, placements)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LineNumber < sorted[j].LineNumber
	})

	var sections []ScriptSection
	emitted := make(map[string]bool, len(fixes))
	cursor := 0
	for _, p := range sorted {
		fix, ok := byID[p.FixID]
		if !ok || emitted[p.FixID] {
			continue
		}
		line := min(max(p.LineNumber, 0), total)
		if cursor < line {
			sections = appendOriginal(sections, lines[cursor:line])
			cursor = line
		}
		sections = append(sections, ScriptSection{
			Text:      fix.Suggestion,
			IsNew:     true,
			FixID:     fix.ID,
			Reasoning: p.Reasoning,
		})
		emitted[p.FixID] = true
	}

	if len(emitted) == 0 {
		if script == "" {
			return []ScriptSection{}
		}
		return []ScriptSection{{Text: script}}
	}
	if cursor < total {
		sections = appendOriginal(sections, lines[cursor:])
	}
	return sections
}

func appendOriginal(sections []ScriptSection, lines []string) []ScriptSection {
	chunk := strings.Join(lines, "\n")
	if strings.TrimSpace(chunk) == "" {
		return sections
	}
	return append(sections, ScriptSection{Text: chunk})
}

// CleanText joins section texts with newlines, ignoring the IsNew flag.
func CleanText(sections []ScriptSection) string {
	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = s.Text
	}
	return strings.Join(parts, "\n")
}
