package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"voicebot-qa/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("runner is stopped")
)

// ExecFunc runs one job. The returned value is stored as the job result.
// Wrap an error with backoff.Permanent to skip the remaining retries.
type ExecFunc func(ctx context.Context, job Job) (any, error)

// FinishFunc is called once a job reaches a terminal status.
type FinishFunc func(job Job)

// Config holds runner configuration.
type Config struct {
	MaxConcurrency int
	QueueSize      int
	DefaultTimeout time.Duration
	RetryCount     int
	RetryDelay     time.Duration
	HistorySize    int
}

// Runner executes session jobs on a bounded worker pool fed by a priority
// queue. Work inside a single job is not parallelised.
type Runner struct {
	cfg      Config
	exec     ExecFunc
	onFinish FinishFunc
	log      logger.Logger
	pq       *priorityQueue
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	stopMu  sync.Mutex // guards stopped + pq.close() atomically
	stopped bool

	jobsMu sync.RWMutex
	jobs   map[string]*Job
	order  []string
	seq    uint64

	running   atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64
}

// New creates a runner with the given config and exec function.
func New(cfg Config, exec ExecFunc, log logger.Logger) *Runner {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 50
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Minute
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 500
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:    cfg,
		exec:   exec,
		log:    log,
		pq:     newPriorityQueue(cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*Job),
	}
}

// OnFinish registers a callback for terminal jobs. Call before Start.
func (r *Runner) OnFinish(fn FinishFunc) {
	r.onFinish = fn
}

// Start launches the worker goroutines. Call Stop to shut down.
func (r *Runner) Start() {
	r.log.Info("runner.started",
		logger.Int("max_concurrency", r.cfg.MaxConcurrency),
		logger.Int("queue_size", r.cfg.QueueSize),
	)
	for i := 0; i < r.cfg.MaxConcurrency; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Submit enqueues a job for sessionID and returns a copy of it.
func (r *Runner) Submit(kind Kind, sessionID string, priority int) (Job, error) {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()

	if r.stopped {
		return Job{}, ErrStopped
	}

	r.jobsMu.Lock()
	r.seq++
	job := &Job{
		ID:         "job-" + uuid.New().String()[:8],
		Kind:       kind,
		SessionID:  sessionID,
		Priority:   priority,
		Status:     StatusPending,
		MaxRetries: r.cfg.RetryCount,
		CreatedAt:  time.Now(),
		seq:        r.seq,
	}
	r.jobsMu.Unlock()

	r.track(job)
	if !r.pq.push(job) {
		r.untrack(job.ID)
		return Job{}, fmt.Errorf("%w (capacity: %d)", ErrQueueFull, r.cfg.QueueSize)
	}

	r.log.Info("job.submitted",
		logger.String("job_id", job.ID),
		logger.String("kind", string(kind)),
		logger.String("session_id", sessionID),
		logger.Int("priority", priority),
	)
	return r.snapshot(job), nil
}

func (r *Runner) track(job *Job) {
	r.jobsMu.Lock()
	defer r.jobsMu.Unlock()
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)

	// forget the oldest finished jobs once history is full
	for i := 0; len(r.jobs) > r.cfg.HistorySize && i < len(r.order); {
		old := r.jobs[r.order[i]]
		if old == nil || old.Status.Finished() {
			delete(r.jobs, r.order[i])
			r.order = append(r.order[:i], r.order[i+1:]...)
			continue
		}
		i++
	}
}

func (r *Runner) untrack(id string) {
	r.jobsMu.Lock()
	defer r.jobsMu.Unlock()
	delete(r.jobs, id)
	if n := len(r.order); n > 0 && r.order[n-1] == id {
		r.order = r.order[:n-1]
	}
}

// Get returns a copy of the job with id.
func (r *Runner) Get(id string) (Job, bool) {
	r.jobsMu.RLock()
	defer r.jobsMu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func (r *Runner) snapshot(job *Job) Job {
	r.jobsMu.RLock()
	defer r.jobsMu.RUnlock()
	return *job
}

func (r *Runner) update(job *Job, fn func(j *Job)) {
	r.jobsMu.Lock()
	fn(job)
	r.jobsMu.Unlock()
}

// Stop gracefully shuts down the runner: no new jobs are accepted,
// in-flight jobs are cancelled and queued jobs fail fast.
func (r *Runner) Stop() {
	r.log.Info("runner.stopping")

	r.stopMu.Lock()
	r.stopped = true
	r.pq.close()
	r.stopMu.Unlock()

	r.cancel()
	r.wg.Wait()

	r.log.Info("runner.stopped")
}

// Stats returns current runner statistics.
func (r *Runner) Stats() map[string]any {
	return map[string]any{
		"queue_length": r.pq.len(),
		"running":      r.running.Load(),
		"completed":    r.completed.Load(),
		"failed":       r.failed.Load(),
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		job := r.pq.pop()
		if job == nil {
			return
		}
		r.running.Add(1)
		r.safeProcess(job)
		r.running.Add(-1)

		if r.onFinish != nil {
			r.onFinish(r.snapshot(job))
		}
	}
}

func (r *Runner) safeProcess(job *Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.update(job, func(j *Job) {
				j.Status = StatusFailed
				j.Error = fmt.Sprintf("panic: %v", rec)
				j.FinishedAt = time.Now()
			})
			r.failed.Add(1)
			r.log.Error("job.panic",
				logger.String("job_id", job.ID),
				logger.Any("panic", rec),
			)
		}
	}()
	r.process(job)
}

func (r *Runner) fail(job *Job, status Status, msg string) {
	r.update(job, func(j *Job) {
		j.Status = status
		if msg != "" {
			j.Error = msg
		}
		j.FinishedAt = time.Now()
	})
	r.failed.Add(1)
}

func (r *Runner) process(job *Job) {
	log := r.log.WithFields(
		logger.String("job_id", job.ID),
		logger.String("kind", string(job.Kind)),
		logger.String("session_id", job.SessionID),
	)

	for attempt := 0; attempt <= job.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn("job.retrying",
				logger.Int("attempt", attempt),
				logger.Int("max_retries", job.MaxRetries),
			)
			select {
			case <-r.ctx.Done():
				r.fail(job, StatusFailed, "runner shutting down")
				log.Warn("job.cancelled_during_retry")
				return
			case <-time.After(r.cfg.RetryDelay):
			}
		}
		if r.ctx.Err() != nil {
			r.fail(job, StatusFailed, "runner shutting down")
			return
		}

		r.update(job, func(j *Job) {
			j.Status = StatusRunning
			j.StartedAt = time.Now()
		})

		jobCtx, cancel := context.WithTimeout(r.ctx, r.cfg.DefaultTimeout)
		result, err := r.exec(jobCtx, r.snapshot(job))
		timedOut := errors.Is(jobCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			r.update(job, func(j *Job) {
				j.Status = StatusCompleted
				j.Result = result
				j.Error = ""
				j.FinishedAt = time.Now()
			})
			r.completed.Add(1)
			log.Info("job.completed",
				logger.Int64("duration_ms", time.Since(job.StartedAt).Milliseconds()),
			)
			return
		}

		r.update(job, func(j *Job) {
			j.Error = err.Error()
			j.RetryCount = attempt + 1
		})

		if r.ctx.Err() != nil {
			r.fail(job, StatusFailed, "")
			log.Warn("job.cancelled", logger.Err(err))
			return
		}
		if timedOut {
			r.fail(job, StatusTimeout, "")
			log.Error("job.timeout", logger.Duration("timeout", r.cfg.DefaultTimeout))
			return
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			r.fail(job, StatusFailed, perm.Err.Error())
			log.Error("job.failed", logger.Err(perm.Err))
			return
		}

		log.Error("job.attempt_failed", logger.Int("attempt", attempt), logger.Err(err))
	}

	r.fail(job, StatusFailed, "")
	log.Error("job.failed", logger.String("error", job.Error))
}
