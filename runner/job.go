package runner

import (
	"container/heap"
	"sync"
	"time"
)

// Kind names the work a job performs.
type Kind string

const (
	KindAnalyze Kind = "analyze"
	KindFixes   Kind = "fixes"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// Job is a unit of session work executed by the runner.
type Job struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	SessionID  string    `json:"sessionId"`
	Priority   int       `json:"priority"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retryCount"`
	MaxRetries int       `json:"maxRetries"`
	CreatedAt  time.Time `json:"createdAt"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
	Error      string    `json:"error,omitempty"`
	Result     any       `json:"result,omitempty"`

	seq   uint64
	index int // position in heap, managed by container/heap
}

// jobHeap implements heap.Interface. Higher Priority values are dequeued
// first; ties are FIFO by submission order.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*Job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

// priorityQueue is a thread-safe bounded priority queue for jobs.
type priorityQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    jobHeap
	maxSize int
	closed  bool
}

func newPriorityQueue(maxSize int) *priorityQueue {
	pq := &priorityQueue{
		heap:    make(jobHeap, 0, maxSize),
		maxSize: maxSize,
	}
	pq.cond = sync.NewCond(&pq.mu)
	heap.Init(&pq.heap)
	return pq
}

// push adds a job to the queue. Returns false if the queue is full or closed.
func (pq *priorityQueue) push(j *Job) bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.closed || pq.heap.Len() >= pq.maxSize {
		return false
	}
	heap.Push(&pq.heap, j)
	pq.cond.Signal()
	return true
}

// pop removes and returns the highest-priority job, blocking until one is
// available. Returns nil when the queue is closed and drained.
func (pq *priorityQueue) pop() *Job {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	for pq.heap.Len() == 0 && !pq.closed {
		pq.cond.Wait()
	}
	if pq.heap.Len() == 0 {
		return nil
	}
	return heap.Pop(&pq.heap).(*Job)
}

func (pq *priorityQueue) close() {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.closed = true
	pq.cond.Broadcast()
}

func (pq *priorityQueue) len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.heap.Len()
}
