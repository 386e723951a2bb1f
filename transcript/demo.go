package transcript

import (
	"bytes"
	_ "embed"
	"strings"
)

var (
	//go:embed demo/calls.csv
	demoCSV []byte

	//go:embed demo/reference_script.md
	referenceScript string
)

var demoMetadata = map[string]Metadata{
	"demo-001": {Duration: "01:45", Date: "2024-01-15", AgentID: "BOT-001"},
	"demo-002": {Duration: "00:35", Date: "2024-01-15", AgentID: "BOT-002"},
	"demo-003": {Duration: "00:40", Date: "2024-01-15", AgentID: "BOT-001"},
	"demo-004": {Duration: "00:45", Date: "2024-01-15", AgentID: "BOT-003"},
	"demo-005": {Duration: "00:35", Date: "2024-01-15", AgentID: "BOT-002"},
}

// DemoCSV returns the raw demo batch file.
func DemoCSV() []byte {
	return bytes.Clone(demoCSV)
}

// DemoTranscripts returns the five bundled demo calls.
func DemoTranscripts() []Transcript {
	out, err := ParseCSV(bytes.NewReader(demoCSV))
	if err != nil {
		panic("transcript: bundled demo data is invalid: " + err.Error())
	}
	for i := range out {
		if md, ok := demoMetadata[out[i].ID]; ok {
			out[i].Metadata = &md
		}
	}
	return out
}

// DemoTranscript returns demo-001, the call exhibiting every built-in issue type.
func DemoTranscript() Transcript {
	return DemoTranscripts()[0]
}

// DefaultReferenceScript returns the bundled customer-support call flow.
func DefaultReferenceScript() string {
	return strings.TrimRight(referenceScript, "\n")
}
