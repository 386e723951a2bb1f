package transcript

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrUnsupportedFormat is returned by Parse for unknown file extensions.
var ErrUnsupportedFormat = errors.New("unsupported transcript format")

var reTextLine = regexp.MustCompile(`(?i)^\[?(BOT|CUSTOMER)\]?:?\s*(.+)$`)

// ParseText parses pasted transcript text such as "[BOT]: hello".
// Lines without a recognised speaker prefix are attributed to the customer.
func ParseText(id, text string) *Transcript {
	t := &Transcript{
		ID:       id,
		Metadata: &Metadata{Date: time.Now().Format("2006-01-02")},
	}
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := reTextLine.FindStringSubmatch(line); m != nil {
			t.Lines = append(t.Lines, Line{
				Speaker: Speaker(strings.ToLower(m[1])),
				Text:    strings.TrimSpace(m[2]),
			})
			continue
		}
		t.Lines = append(t.Lines, Line{Speaker: SpeakerCustomer, Text: line})
	}
	return t
}

// columns maps logical fields to header indexes; -1 means absent.
type columns struct {
	callID, timestamp, speaker, text, language int
}

func detectColumns(header []string) (columns, error) {
	c := columns{callID: -1, timestamp: -1, speaker: -1, text: -1, language: -1}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "call") || l == "id" || strings.Contains(l, "conversation"):
			if c.callID == -1 {
				c.callID = i
			}
		case strings.Contains(l, "time"):
			if c.timestamp == -1 {
				c.timestamp = i
			}
		case strings.Contains(l, "speaker") || strings.Contains(l, "role"):
			if c.speaker == -1 {
				c.speaker = i
			}
		case strings.Contains(l, "text") || strings.Contains(l, "message") || strings.Contains(l, "utterance"):
			if c.text == -1 {
				c.text = i
			}
		case strings.Contains(l, "lang"):
			if c.language == -1 {
				c.language = i
			}
		}
	}
	if c.callID == -1 || c.speaker == -1 || c.text == -1 {
		return c, fmt.Errorf("header must contain call id, speaker and text columns, got %v", header)
	}
	return c, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// fromRows groups tabular rows into transcripts by call id, keeping first-seen order.
func fromRows(rows [][]string) ([]Transcript, error) {
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}
	cols, err := detectColumns(rows[0])
	if err != nil {
		return nil, err
	}

	var out []Transcript
	index := make(map[string]int)
	for i, row := range rows[1:] {
		callID := cell(row, cols.callID)
		text := cell(row, cols.text)
		if callID == "" && text == "" {
			continue
		}
		if callID == "" {
			return nil, fmt.Errorf("row %d: missing call id", i+2)
		}
		speaker, ok := ParseSpeaker(cell(row, cols.speaker))
		if !ok {
			return nil, fmt.Errorf("row %d: unknown speaker %q", i+2, cell(row, cols.speaker))
		}
		pos, seen := index[callID]
		if !seen {
			pos = len(out)
			index[callID] = pos
			out = append(out, Transcript{ID: callID})
		}
		out[pos].Lines = append(out[pos].Lines, Line{
			Speaker:   speaker,
			Text:      text,
			Timestamp: cell(row, cols.timestamp),
			Language:  cell(row, cols.language),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no data rows")
	}
	return out, nil
}

// ParseCSV reads call_id,timestamp,speaker,text,language rows.
func ParseCSV(r io.Reader) ([]Transcript, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromRows(rows)
}

// ParseJSON accepts either a single transcript object or an array of them.
func ParseJSON(data []byte) ([]Transcript, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty json document")
	}
	var out []Transcript
	if data[0] == '[' {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parse transcripts: %w", err)
		}
	} else {
		var t Transcript
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parse transcript: %w", err)
		}
		out = []Transcript{t}
	}
	for i := range out {
		if err := out[i].Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Parse dispatches on the file extension of filename.
func Parse(filename string, data []byte) ([]Transcript, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return ParseCSV(bytes.NewReader(data))
	case ".xlsx", ".xlsm":
		return ParseXLSX(bytes.NewReader(data))
	case ".json":
		return ParseJSON(data)
	case ".txt", "":
		id := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
		if id == "" || id == "." {
			id = "user-input"
		}
		t := ParseText(id, string(data))
		if len(t.Lines) == 0 {
			return nil, fmt.Errorf("no transcript lines found")
		}
		return []Transcript{*t}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}
