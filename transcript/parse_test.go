package transcript

import (
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestParseText_SpeakerPrefixes(t *testing.T) {
	text := "[BOT]: Hello there\ncustomer: hi\n\n  I have a problem  \nBOT hello again"
	tr := ParseText("user-input", text)

	if len(tr.Lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(tr.Lines))
	}
	want := []Line{
		{Speaker: SpeakerBot, Text: "Hello there"},
		{Speaker: SpeakerCustomer, Text: "hi"},
		{Speaker: SpeakerCustomer, Text: "I have a problem"},
		{Speaker: SpeakerBot, Text: "hello again"},
	}
	for i, w := range want {
		if tr.Lines[i] != w {
			t.Errorf("line %d = %+v, want %+v", i, tr.Lines[i], w)
		}
	}
	if tr.Metadata == nil || tr.Metadata.Date == "" {
		t.Error("expected date metadata")
	}
}

func TestParseCSV_GroupsByCallInFirstSeenOrder(t *testing.T) {
	csvData := "call_id,timestamp,speaker,text,language\n" +
		"b,00:00,bot,\"Hi, welcome\",en\n" +
		"a,00:00,bot,Hello,en\n" +
		"b,00:05,customer,Namaste,hi\n"

	got, err := ParseCSV(strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("unexpected grouping: %+v", got)
	}
	if len(got[0].Lines) != 2 {
		t.Fatalf("expected 2 lines for b, got %d", len(got[0].Lines))
	}
	if got[0].Lines[0].Text != "Hi, welcome" {
		t.Errorf("quoted text = %q", got[0].Lines[0].Text)
	}
	if got[0].Lines[1].Language != "hi" || got[0].Lines[1].Speaker != SpeakerCustomer {
		t.Errorf("line = %+v", got[0].Lines[1])
	}
}

func TestParseCSV_Errors(t *testing.T) {
	cases := map[string]string{
		"missing columns": "foo,bar\n1,2\n",
		"no rows":         "call_id,speaker,text\n",
		"bad speaker":     "call_id,speaker,text\nc1,robot,hi\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCSV(strings.NewReader(data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	rows := [][]any{
		{"Call ID", "Timestamp", "Speaker", "Text", "Language"},
		{"x1", "00:00", "BOT", "Hello!", "en"},
		{"x1", "00:03", "Customer", "Hola", "es"},
	}
	for i, r := range rows {
		cellName, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cellName, &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	got, err := ParseXLSX(buf)
	if err != nil {
		t.Fatalf("ParseXLSX: %v", err)
	}
	if len(got) != 1 || len(got[0].Lines) != 2 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got[0].Lines[1].Speaker != SpeakerCustomer || got[0].Lines[1].Language != "es" {
		t.Errorf("line = %+v", got[0].Lines[1])
	}
}

func TestParseJSON_ObjectAndArray(t *testing.T) {
	one := `{"id":"c1","lines":[{"speaker":"bot","text":"hi"}]}`
	got, err := ParseJSON([]byte(one))
	if err != nil || len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("object: %v %+v", err, got)
	}

	many := `[{"id":"c1","lines":[{"speaker":"bot","text":"hi"}]},{"id":"c2","lines":[{"speaker":"customer","text":"yo"}]}]`
	got, err = ParseJSON([]byte(many))
	if err != nil || len(got) != 2 {
		t.Fatalf("array: %v %+v", err, got)
	}

	if _, err := ParseJSON([]byte(`{"id":"c1","lines":[]}`)); err == nil {
		t.Error("expected error for empty lines")
	}
}

func TestParse_DispatchesOnExtension(t *testing.T) {
	got, err := Parse("call-7.txt", []byte("[BOT]: hi\n[CUSTOMER]: hello"))
	if err != nil {
		t.Fatalf("Parse txt: %v", err)
	}
	if got[0].ID != "call-7" || len(got[0].Lines) != 2 {
		t.Errorf("unexpected: %+v", got[0])
	}

	if _, err := Parse("calls.pdf", nil); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestTranscript_Render(t *testing.T) {
	tr := Transcript{ID: "t", Lines: []Line{
		{Speaker: SpeakerBot, Text: "Hello"},
		{Speaker: SpeakerCustomer, Text: "Namaste", Language: "hi"},
		{Speaker: SpeakerCustomer, Text: "Thanks", Language: "en"},
	}}
	want := "[1] BOT: Hello\n[2] CUSTOMER: Namaste (hi)\n[3] CUSTOMER: Thanks"
	if got := tr.Render(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}
