package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"voicebot-qa/logger"
)

func newTestNotifier(webhook, dashboardURL string) *FeishuNotifier {
	return NewFeishuNotifier(FeishuConfig{
		Webhook:      webhook,
		SignKey:      "test-sign-key",
		DashboardURL: dashboardURL,
		RetryDelay:   time.Millisecond,
	}, logger.Nop())
}

func baseSummary() RunSummary {
	return RunSummary{
		JobID:           "job-1",
		SessionID:       "sess-1",
		AnalysisName:    "Weekly review",
		TotalCalls:      5,
		CallsWithIssues: 2,
		TotalIssues:     3,
		IssuesByType:    map[string]int{"repetition_loop": 2, "language_mismatch": 1, "flow_deviation": 0},
		SeverityDistribution: map[string]int{
			"low": 0, "medium": 2, "high": 1, "critical": 0,
		},
		LanguageMismatchRate: 20,
		Duration:             12 * time.Second,
	}
}

func cardJSON(card map[string]any) string {
	b, _ := json.Marshal(card)
	return string(b)
}

func TestGenSign(t *testing.T) {
	n := newTestNotifier("", "")
	ts := "1700000000"
	sign := n.genSign(ts)
	if sign == "" {
		t.Fatal("genSign returned empty string")
	}
	if strings.ContainsAny(sign, " \t\n") {
		t.Fatalf("genSign result contains whitespace: %q", sign)
	}
	if sign2 := n.genSign(ts); sign2 != sign {
		t.Fatalf("genSign not deterministic: %q != %q", sign, sign2)
	}
	if sign3 := n.genSign("1700000001"); sign3 == sign {
		t.Fatal("genSign returned same result for different timestamps")
	}
}

func TestBuildCard_HighSeverity(t *testing.T) {
	n := newTestNotifier("", "")
	card := n.buildCard(baseSummary())
	s := cardJSON(card)

	header := card["header"].(map[string]any)
	if header["template"] != "red" {
		t.Errorf("template = %v, want red", header["template"])
	}
	for _, want := range []string{"Weekly review", "**Calls analyzed**: 5", "MEDIUM 2 | HIGH 1", "- repetition_loop: 2"} {
		if !strings.Contains(s, want) {
			t.Errorf("card missing %q", want)
		}
	}
	if strings.Contains(s, "flow_deviation") {
		t.Error("zero counts should be omitted")
	}
	if strings.Contains(s, "View session") {
		t.Error("button rendered without dashboard URL")
	}
}

func TestBuildCard_Variants(t *testing.T) {
	n := newTestNotifier("", "https://qa.example.com/")

	clean := RunSummary{SessionID: "sess-2", TotalCalls: 2}
	card := n.buildCard(clean)
	if card["header"].(map[string]any)["template"] != "green" {
		t.Error("clean run should be green")
	}
	if !strings.Contains(cardJSON(card), "https://qa.example.com/api/v1/sessions/sess-2") {
		t.Error("dashboard link missing")
	}

	failed := baseSummary()
	failed.Error = "context deadline exceeded"
	failed.FailedCalls = 1
	s := cardJSON(n.buildCard(failed))
	if !strings.Contains(s, "purple") || !strings.Contains(s, "context deadline exceeded") {
		t.Error("failed run not rendered")
	}
	if !strings.Contains(s, "could not be parsed") {
		t.Error("failed-call warning missing")
	}

	medium := baseSummary()
	medium.SeverityDistribution = map[string]int{"low": 3}
	if n.buildCard(medium)["header"].(map[string]any)["template"] != "orange" {
		t.Error("low-severity issues should be orange")
	}
}

func TestNotifyRun_SignedPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"code":0,"msg":"ok"}`))
	}))
	defer srv.Close()

	n := newTestNotifier(srv.URL, "")
	if err := n.NotifyRun(context.Background(), baseSummary()); err != nil {
		t.Fatalf("NotifyRun: %v", err)
	}
	if got["msg_type"] != "interactive" {
		t.Errorf("msg_type = %v", got["msg_type"])
	}
	ts, _ := got["timestamp"].(string)
	if ts == "" || got["sign"] != n.genSign(ts) {
		t.Errorf("bad signature: %v", got)
	}
}

func TestNotifyRun_RetriesOnLogicalError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"code":19021,"msg":"sign match fail"}`))
			return
		}
		w.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	n := newTestNotifier(srv.URL, "")
	if err := n.NotifyRun(context.Background(), baseSummary()); err != nil {
		t.Fatalf("NotifyRun: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestNotifyRun_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := newTestNotifier(srv.URL, "")
	err := n.NotifyRun(context.Background(), baseSummary())
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestNotifyRun_NoWebhook(t *testing.T) {
	if err := newTestNotifier("", "").NotifyRun(context.Background(), baseSummary()); err == nil {
		t.Fatal("expected error without webhook")
	}
}
