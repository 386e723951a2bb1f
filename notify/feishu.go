package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voicebot-qa/logger"

	"github.com/cenkalti/backoff/v4"
)

// FeishuNotifier sends run summaries to Feishu (Lark) via webhook.
type FeishuNotifier struct {
	webhook      string
	signKey      string
	dashboardURL string
	httpClient   *http.Client
	log          logger.Logger
	retryCount   int
	retryDelay   time.Duration
}

// FeishuConfig holds Feishu webhook configuration.
type FeishuConfig struct {
	Webhook      string
	SignKey      string
	DashboardURL string
	Timeout      time.Duration
	RetryCount   int
	RetryDelay   time.Duration
}

// NewFeishuNotifier creates a Feishu notifier.
func NewFeishuNotifier(cfg FeishuConfig, log logger.Logger) *FeishuNotifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	retryCount := cfg.RetryCount
	if retryCount == 0 {
		retryCount = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}
	return &FeishuNotifier{
		webhook:      cfg.Webhook,
		signKey:      cfg.SignKey,
		dashboardURL: cfg.DashboardURL,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log,
		retryCount:   retryCount,
		retryDelay:   retryDelay,
	}
}

// NotifyRun posts an interactive card summarising a finished run.
func (f *FeishuNotifier) NotifyRun(ctx context.Context, sum RunSummary) error {
	if f.webhook == "" {
		return fmt.Errorf("no feishu webhook configured")
	}

	payload := map[string]any{
		"msg_type": "interactive",
		"card":     f.buildCard(sum),
	}
	if f.signKey != "" {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		payload["timestamp"] = ts
		payload["sign"] = f.genSign(ts)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		err := f.post(ctx, body)
		if err != nil {
			f.log.Warn("feishu.retry", logger.Int("attempt", attempt), logger.Err(err))
		}
		return err
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(f.retryDelay), uint64(f.retryCount-1)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("feishu notification failed after %d attempts: %w", attempt, err)
	}

	f.log.Info("feishu.sent",
		logger.String("job_id", sum.JobID),
		logger.String("session_id", sum.SessionID),
	)
	return nil
}

func (f *FeishuNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhook, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feishu returned status %d: %s", resp.StatusCode, string(respBody))
	}

	// Feishu returns 200 even on logical errors; check the body
	var feishuResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if jsonErr := json.Unmarshal(respBody, &feishuResp); jsonErr == nil && feishuResp.Code != 0 {
		f.log.Warn("feishu.api_error", logger.Int("code", feishuResp.Code), logger.String("msg", feishuResp.Msg))
		return fmt.Errorf("feishu error code %d: %s", feishuResp.Code, feishuResp.Msg)
	}
	return nil
}

func (f *FeishuNotifier) buildCard(sum RunSummary) map[string]any {
	var template, titlePrefix string
	switch {
	case sum.Error != "":
		template = "purple"
		titlePrefix = "🟣 Voice bot QA run failed"
	case sum.SeverityDistribution["critical"] > 0 || sum.SeverityDistribution["high"] > 0:
		template = "red"
		titlePrefix = "🔴 Voice bot QA: high-severity issues"
	case sum.TotalIssues > 0:
		template = "orange"
		titlePrefix = "🟠 Voice bot QA: issues found"
	default:
		template = "green"
		titlePrefix = "🟢 Voice bot QA: no issues"
	}

	name := sum.AnalysisName
	if name == "" {
		name = sum.SessionID
	}
	title := fmt.Sprintf("%s (%s)", titlePrefix, name)

	elements := []map[string]any{
		{
			"tag": "div",
			"text": map[string]any{
				"tag": "lark_md",
				"content": fmt.Sprintf(
					"**Calls analyzed**: %d\n**Calls with issues**: %d\n**Total issues**: %d\n**Language mismatch rate**: %.1f%%\n**Duration**: %.1fs",
					sum.TotalCalls, sum.CallsWithIssues, sum.TotalIssues,
					sum.LanguageMismatchRate, sum.Duration.Seconds(),
				),
			},
		},
	}

	if sum.Error != "" {
		elements = append(elements, map[string]any{
			"tag": "div",
			"text": map[string]any{
				"tag":     "lark_md",
				"content": "**Error**: " + truncate(sum.Error, 200),
			},
		})
	}

	if sev := sortedCounts(sum.SeverityDistribution); len(sev) > 0 {
		parts := make([]string, len(sev))
		for i, e := range sev {
			parts[i] = fmt.Sprintf("%s %d", strings.ToUpper(e.key), e.count)
		}
		elements = append(elements, map[string]any{"tag": "hr"}, map[string]any{
			"tag": "div",
			"text": map[string]any{
				"tag":     "lark_md",
				"content": "**Severity**: " + strings.Join(parts, " | "),
			},
		})
	}

	if types := sortedCounts(sum.IssuesByType); len(types) > 0 {
		lines := make([]string, len(types))
		for i, e := range types {
			lines[i] = fmt.Sprintf("- %s: %d", e.key, e.count)
		}
		elements = append(elements, map[string]any{
			"tag": "div",
			"text": map[string]any{
				"tag":     "lark_md",
				"content": "**Issues by type**\n" + strings.Join(lines, "\n"),
			},
		})
	}

	if sum.FailedCalls > 0 || sum.DegradedCalls > 0 {
		elements = append(elements, map[string]any{
			"tag": "div",
			"text": map[string]any{
				"tag": "lark_md",
				"content": fmt.Sprintf("⚠️ **%d** call(s) failed and **%d** reply(ies) could not be parsed; their issues are missing from this report.",
					sum.FailedCalls, sum.DegradedCalls),
			},
		})
	}

	if f.dashboardURL != "" {
		detailURL := fmt.Sprintf("%s/api/v1/sessions/%s", strings.TrimRight(f.dashboardURL, "/"), sum.SessionID)
		elements = append(elements,
			map[string]any{"tag": "hr"},
			map[string]any{
				"tag": "action",
				"actions": []map[string]any{
					{
						"tag":  "button",
						"text": map[string]any{"tag": "plain_text", "content": "📋 View session"},
						"type": "primary",
						"url":  detailURL,
					},
				},
			},
		)
	}

	return map[string]any{
		"header": map[string]any{
			"title":    map[string]any{"tag": "plain_text", "content": title},
			"template": template,
		},
		"elements": elements,
	}
}

func truncate(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return s
}

func (f *FeishuNotifier) genSign(timestamp string) string {
	stringToSign := timestamp + "\n" + f.signKey
	h := hmac.New(sha256.New, []byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
