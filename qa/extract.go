package qa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	reOpenFence  = regexp.MustCompile("^```[A-Za-z0-9_-]*[ \t]*\r?\n?")
	reCloseFence = regexp.MustCompile("\r?\n?```\\s*$")
	reWhitespace = regexp.MustCompile(`\s+`)
)

// stripFences trims s and removes a surrounding Markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = reOpenFence.ReplaceAllString(s, "")
	s = reCloseFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// sliceSpan returns the text from the first open byte to the last close byte inclusive.
func sliceSpan(s string, open, close byte) (string, bool) {
	first := strings.IndexByte(s, open)
	last := strings.LastIndexByte(s, close)
	if first < 0 || last <= first {
		return "", false
	}
	return s[first : last+1], true
}

// fixTrailingComma removes trailing commas before } and ],
// respecting string boundaries so commas inside strings are untouched.
func fixTrailingComma(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			b.WriteByte(c)
			continue
		}
		if c == '\\' && inString {
			escaped = true
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = !inString
			b.WriteByte(c)
			continue
		}
		if !inString && c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

var controlWhitespace = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ")

// basicRepair drops trailing commas and flattens raw line breaks and tabs,
// which are illegal inside JSON strings.
func basicRepair(s string) string {
	return controlWhitespace.Replace(fixTrailingComma(s))
}

// aggressiveRepair additionally un-doubles single quotes and collapses whitespace runs.
func aggressiveRepair(s string) string {
	s = strings.ReplaceAll(basicRepair(s), "''", "'")
	return reWhitespace.ReplaceAllString(s, " ")
}

// decodeJSON unmarshals with json.Number so integer and float fields
// can be told apart later.
func decodeJSON(s string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after top-level value")
	}
	return nil
}

// decodeCascade tries span as-is, then through each repair in order.
// It returns how many repairs were applied before decoding succeeded.
func decodeCascade(span string, v any, repairs ...func(string) string) (int, error) {
	err := decodeJSON(span, v)
	if err == nil {
		return 0, nil
	}
	for i, repair := range repairs {
		if err = decodeJSON(repair(span), v); err == nil {
			return i + 1, nil
		}
	}
	return len(repairs), err
}
