package qa

import (
	"context"
	"fmt"
	"time"

	"voicebot-qa/llm"
)

// JSONFixerConfig configures the LLM-based JSON fixer.
type JSONFixerConfig struct {
	Timeout       time.Duration
	MaxInputChars int
}

// RunJSONFixer asks the model to repair a malformed fix response. It is the
// last resort after the local repair tiers fail.
func RunJSONFixer(ctx context.Context, gw Gateway, model, raw string, cfg JSONFixerConfig) (FixSuggestions, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxInputChars == 0 {
		cfg.MaxInputChars = 16000
	}

	fixCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	zero := 0.0
	p := buildFixerPrompt(raw, cfg.MaxInputChars)
	out, err := gw.Complete(fixCtx, llm.Request{Model: model, Messages: p.Messages(), Temperature: &zero})
	if err != nil {
		return FixSuggestions{}, fmt.Errorf("json fixer execution: %w", err)
	}

	fixes, err := NormalizeFixResponse(out)
	if err != nil {
		return FixSuggestions{}, fmt.Errorf("json fixer output unparseable: %w", err)
	}
	return fixes, nil
}
