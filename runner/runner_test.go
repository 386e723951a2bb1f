package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voicebot-qa/logger"

	"github.com/cenkalti/backoff/v4"
)

func waitFinished(t *testing.T, r *Runner, id string) Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := r.Get(id); ok && job.Status.Finished() {
			return job
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return Job{}
}

func TestRunner_CompletesJob(t *testing.T) {
	var finished []Job
	var mu sync.Mutex
	r := New(Config{MaxConcurrency: 1}, func(_ context.Context, job Job) (any, error) {
		return map[string]string{"session": job.SessionID}, nil
	}, logger.Nop())
	r.OnFinish(func(job Job) {
		mu.Lock()
		finished = append(finished, job)
		mu.Unlock()
	})
	r.Start()
	defer r.Stop()

	job, err := r.Submit(KindAnalyze, "sess-1", 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != StatusPending || job.ID == "" {
		t.Errorf("submitted job = %+v", job)
	}

	got := waitFinished(t, r, job.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", got.Status, got.Error)
	}
	if res, ok := got.Result.(map[string]string); !ok || res["session"] != "sess-1" {
		t.Errorf("result = %#v", got.Result)
	}

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(finished) != 1 || finished[0].ID != job.ID {
		t.Errorf("OnFinish calls = %+v", finished)
	}
}

func TestRunner_RetriesThenSucceeds(t *testing.T) {
	var calls int
	r := New(Config{MaxConcurrency: 1, RetryCount: 2, RetryDelay: time.Millisecond},
		func(context.Context, Job) (any, error) {
			calls++
			if calls < 2 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		}, logger.Nop())
	r.Start()
	defer r.Stop()

	job, _ := r.Submit(KindFixes, "sess-1", 0)
	got := waitFinished(t, r, job.ID)
	if got.Status != StatusCompleted || got.RetryCount != 1 {
		t.Errorf("job = %+v", got)
	}
}

func TestRunner_PermanentErrorSkipsRetries(t *testing.T) {
	var calls int
	r := New(Config{MaxConcurrency: 1, RetryCount: 3, RetryDelay: time.Millisecond},
		func(context.Context, Job) (any, error) {
			calls++
			return nil, backoff.Permanent(errors.New("no analysis results"))
		}, logger.Nop())
	r.Start()
	defer r.Stop()

	job, _ := r.Submit(KindFixes, "sess-1", 0)
	got := waitFinished(t, r, job.ID)
	if got.Status != StatusFailed || got.Error != "no analysis results" {
		t.Errorf("job = %+v", got)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := New(Config{MaxConcurrency: 1, DefaultTimeout: 20 * time.Millisecond},
		func(ctx context.Context, _ Job) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, logger.Nop())
	r.Start()
	defer r.Stop()

	job, _ := r.Submit(KindAnalyze, "sess-1", 0)
	if got := waitFinished(t, r, job.ID); got.Status != StatusTimeout {
		t.Errorf("status = %s", got.Status)
	}
}

func TestRunner_PriorityOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	gate := make(chan struct{})
	r := New(Config{MaxConcurrency: 1}, func(_ context.Context, job Job) (any, error) {
		if job.SessionID == "blocker" {
			<-gate
		}
		mu.Lock()
		order = append(order, job.SessionID)
		mu.Unlock()
		return nil, nil
	}, logger.Nop())
	r.Start()
	defer r.Stop()

	blocker, _ := r.Submit(KindAnalyze, "blocker", 0)
	for r.Stats()["running"].(int32) == 0 {
		time.Sleep(time.Millisecond)
	}
	r.Submit(KindAnalyze, "low-1", 0)
	r.Submit(KindAnalyze, "high", 5)
	last, _ := r.Submit(KindAnalyze, "low-2", 0)
	close(gate)

	waitFinished(t, r, blocker.ID)
	waitFinished(t, r, last.ID)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"blocker", "high", "low-1", "low-2"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRunner_QueueFullAndStopped(t *testing.T) {
	r := New(Config{MaxConcurrency: 1, QueueSize: 1}, func(context.Context, Job) (any, error) {
		return nil, nil
	}, logger.Nop())

	// not started: the single slot fills up
	if _, err := r.Submit(KindAnalyze, "a", 0); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := r.Submit(KindAnalyze, "b", 0); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second submit: err = %v", err)
	}

	r.Start()
	r.Stop()
	if _, err := r.Submit(KindAnalyze, "c", 0); !errors.Is(err, ErrStopped) {
		t.Errorf("submit after stop: err = %v", err)
	}
}

func TestRunner_Get_Unknown(t *testing.T) {
	r := New(Config{}, nil, logger.Nop())
	if _, ok := r.Get("job-missing"); ok {
		t.Error("unknown job found")
	}
}
