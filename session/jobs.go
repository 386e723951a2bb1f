package session

import (
	"context"
	"errors"
	"fmt"

	"voicebot-qa/qa"
	"voicebot-qa/runner"

	"github.com/cenkalti/backoff/v4"
)

// JobExec returns a runner.ExecFunc that runs analyze and fixes jobs on the
// sessions in r. Errors that a retry cannot fix are marked permanent.
func (r *Registry) JobExec(eng Engine) runner.ExecFunc {
	return func(ctx context.Context, job runner.Job) (any, error) {
		s, err := r.Lookup(job.SessionID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		var result any
		switch job.Kind {
		case runner.KindAnalyze:
			result, err = s.RunAnalysis(ctx, eng)
		case runner.KindFixes:
			result, err = s.GenerateFixes(ctx, eng)
		default:
			return nil, backoff.Permanent(fmt.Errorf("unknown job kind %q", job.Kind))
		}
		if err != nil && isPermanent(err) {
			return nil, backoff.Permanent(err)
		}
		return result, err
	}
}

func isPermanent(err error) bool {
	for _, target := range []error{
		ErrBusy, ErrNoResults,
		qa.ErrNoTranscripts, qa.ErrNoEnabledChecks,
		context.Canceled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
