// Package queue runs triggered builds on a fixed worker pool. Retryable
// failures (a version already being built) are re-attempted with a
// fixed backoff instead of being dropped.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	buildErrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/logfields"
	"github.com/docharbor/docharbor/internal/metrics"
	"github.com/docharbor/docharbor/internal/retry"
)

// Trigger records what caused a build to be enqueued.
type Trigger string

const (
	TriggerWebhook   Trigger = "webhook"
	TriggerManual    Trigger = "manual"
	TriggerAPI       Trigger = "api"
	TriggerScheduled Trigger = "scheduled"
)

// JobStatus is the queue-side lifecycle of a job, distinct from the
// persisted build state.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is a single queued build.
type Job struct {
	BuildID     string     `json:"build_id"`
	Trigger     Trigger    `json:"trigger"`
	ProjectSlug string     `json:"project"`
	VersionSlug string     `json:"version"`
	Commit      string     `json:"commit,omitempty"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`

	cancel context.CancelFunc
}

// Runner executes one build end to end.
type Runner interface {
	Run(ctx context.Context, job *Job) error
}

// Queue is a bounded worker-pool build queue.
type Queue struct {
	jobs        chan *Job
	workers     int
	runner      Runner
	policy      retry.Policy
	recorder    metrics.Recorder
	mu          sync.RWMutex
	active      map[string]*Job
	history     []*Job
	historySize int
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// New creates a queue with the given capacity and worker count.
func New(maxSize, workers int, runner Runner, recorder metrics.Recorder) *Queue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 2
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Queue{
		jobs:        make(chan *Job, maxSize),
		workers:     workers,
		runner:      runner,
		policy:      retry.DefaultPolicy(),
		recorder:    recorder,
		active:      make(map[string]*Job),
		historySize: 50,
		stopChan:    make(chan struct{}),
	}
}

// Start launches the worker pool.
func (q *Queue) Start(ctx context.Context) {
	slog.Info("Starting build queue", "workers", q.workers, "max_size", cap(q.jobs))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop cancels active jobs and waits for the workers to drain.
func (q *Queue) Stop(ctx context.Context) {
	slog.Info("Stopping build queue")
	q.stopOnce.Do(func() { close(q.stopChan) })

	q.mu.Lock()
	for _, job := range q.active {
		if job.cancel != nil {
			job.cancel()
		}
	}
	q.mu.Unlock()

	q.wg.Wait()
	slog.Info("Build queue stopped")
}

// Enqueue adds a job without blocking. A full queue is an error the
// caller surfaces to the trigger source.
func (q *Queue) Enqueue(job *Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if job.BuildID == "" {
		return fmt.Errorf("job build id is required")
	}
	job.Status = JobStatusQueued
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	select {
	case q.jobs <- job:
		q.recorder.SetQueueDepth(len(q.jobs))
		slog.Info("Build job enqueued",
			logfields.BuildID(job.BuildID),
			logfields.Project(job.ProjectSlug),
			logfields.Version(job.VersionSlug),
			slog.String("trigger", string(job.Trigger)))
		return nil
	default:
		return fmt.Errorf("build queue is full")
	}
}

// Length returns the number of queued jobs.
func (q *Queue) Length() int { return len(q.jobs) }

// ActiveJobs returns a snapshot of the running jobs. Copies are returned
// because the workers keep mutating the originals.
func (q *Queue) ActiveJobs() []Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Job, 0, len(q.active))
	for _, job := range q.active {
		out = append(out, *job)
	}
	return out
}

// History returns copies of recently finished jobs, oldest first.
func (q *Queue) History() []Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Job, len(q.history))
	for i, job := range q.history {
		out[i] = *job
	}
	return out
}

func (q *Queue) worker(ctx context.Context, workerID string) {
	defer q.wg.Done()
	slog.Debug("Build worker started", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopChan:
			return
		case job := <-q.jobs:
			if job != nil {
				q.recorder.SetQueueDepth(len(q.jobs))
				q.processJob(ctx, job, workerID)
			}
		}
	}
}

func (q *Queue) processJob(ctx context.Context, job *Job, workerID string) {
	jobCtx, cancel := context.WithCancel(ctx)
	job.cancel = cancel
	defer cancel()

	// Every job mutation happens under the lock: ActiveJobs and History
	// snapshot concurrently.
	start := time.Now()
	q.mu.Lock()
	job.StartedAt = &start
	job.Status = JobStatusRunning
	q.active[job.BuildID] = job
	q.mu.Unlock()

	slog.Info("Build job started",
		logfields.BuildID(job.BuildID),
		logfields.Project(job.ProjectSlug),
		slog.String("worker", workerID))

	err := q.runWithRetry(jobCtx, job)

	end := time.Now()
	q.mu.Lock()
	job.CompletedAt = &end
	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = JobStatusCompleted
	}
	delete(q.active, job.BuildID)
	q.addToHistory(job)
	q.mu.Unlock()

	if err != nil {
		slog.Error("Build job failed",
			logfields.BuildID(job.BuildID),
			logfields.DurationMS(float64(end.Sub(start).Milliseconds())),
			logfields.Error(err))
		return
	}
	slog.Info("Build job completed",
		logfields.BuildID(job.BuildID),
		logfields.DurationMS(float64(end.Sub(start).Milliseconds())))
}

// runWithRetry re-attempts only retryable failures, which in practice
// means the target version was locked by a concurrent build.
func (q *Queue) runWithRetry(ctx context.Context, job *Job) error {
	for attempts := 1; ; attempts++ {
		q.mu.Lock()
		job.Attempts = attempts
		q.mu.Unlock()

		err := q.runner.Run(ctx, job)
		if err == nil {
			return nil
		}
		if !buildErrors.IsRetryable(err) || !q.policy.ShouldRetry(attempts) {
			return err
		}
		delay := q.policy.Delay(attempts)
		slog.Warn("Build retryable, backing off",
			logfields.BuildID(job.BuildID),
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
			logfields.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.stopChan:
			return err
		case <-time.After(delay):
		}
	}
}

func (q *Queue) addToHistory(job *Job) {
	q.history = append(q.history, job)
	if len(q.history) > q.historySize {
		copy(q.history, q.history[len(q.history)-q.historySize:])
		q.history = q.history[:q.historySize]
	}
}
