package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	buildErrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/retry"
)

type fakeRunner struct {
	mu    sync.Mutex
	runs  []string
	errs  map[string][]error
	calls atomic.Int32
	block chan struct{} // when set, Run waits here before returning
}

func (f *fakeRunner) Run(_ context.Context, job *Job) error {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, job.BuildID)
	if errs := f.errs[job.BuildID]; len(errs) > 0 {
		err := errs[0]
		f.errs[job.BuildID] = errs[1:]
		return err
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// finished scans the history snapshot for a build. Tests observe job
// state exclusively through snapshots, the way API callers do.
func finished(q *Queue, buildID string) (Job, bool) {
	for _, job := range q.History() {
		if job.BuildID == buildID {
			return job, true
		}
	}
	return Job{}, false
}

func waitFinished(t *testing.T, q *Queue, buildID string) Job {
	t.Helper()
	waitFor(t, func() bool {
		_, ok := finished(q, buildID)
		return ok
	})
	job, _ := finished(q, buildID)
	return job
}

func TestEnqueueAndRun(t *testing.T) {
	runner := &fakeRunner{}
	q := New(10, 1, runner, nil)
	q.Start(context.Background())
	defer q.Stop(context.Background())

	require.NoError(t, q.Enqueue(&Job{
		BuildID: "b1", Trigger: TriggerWebhook, ProjectSlug: "demo", VersionSlug: "latest",
	}))

	job := waitFinished(t, q, "b1")
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.NotNil(t, job.CompletedAt)
}

func TestEnqueueValidation(t *testing.T) {
	q := New(1, 1, &fakeRunner{}, nil)
	assert.Error(t, q.Enqueue(nil))
	assert.Error(t, q.Enqueue(&Job{}))
}

func TestQueueFull(t *testing.T) {
	// Queue never started, so nothing drains it.
	q := New(1, 1, &fakeRunner{}, nil)
	require.NoError(t, q.Enqueue(&Job{BuildID: "b1"}))
	err := q.Enqueue(&Job{BuildID: "b2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full")
}

func TestRetryOnRetryableError(t *testing.T) {
	lockedErr := buildErrors.VersionLockedError("latest")
	runner := &fakeRunner{errs: map[string][]error{
		"b1": {lockedErr, lockedErr},
	}}
	q := New(10, 1, runner, nil)
	q.policy = retry.NewPolicy(time.Millisecond, 3)
	q.Start(context.Background())
	defer q.Stop(context.Background())

	require.NoError(t, q.Enqueue(&Job{BuildID: "b1"}))

	job := waitFinished(t, q, "b1")
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.Attempts)
}

func TestRetryExhaustion(t *testing.T) {
	lockedErr := buildErrors.VersionLockedError("latest")
	runner := &fakeRunner{errs: map[string][]error{
		"b1": {lockedErr, lockedErr, lockedErr, lockedErr, lockedErr},
	}}
	q := New(10, 1, runner, nil)
	q.policy = retry.NewPolicy(time.Millisecond, 2)
	q.Start(context.Background())
	defer q.Stop(context.Background())

	require.NoError(t, q.Enqueue(&Job{BuildID: "b1"}))

	job := waitFinished(t, q, "b1")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
}

func TestNoRetryOnPermanentError(t *testing.T) {
	runner := &fakeRunner{errs: map[string][]error{
		"b1": {errors.New("boom")},
	}}
	q := New(10, 1, runner, nil)
	q.policy = retry.NewPolicy(time.Millisecond, 3)
	q.Start(context.Background())
	defer q.Stop(context.Background())

	require.NoError(t, q.Enqueue(&Job{BuildID: "b1"}))

	job := waitFinished(t, q, "b1")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "boom", job.Error)
}

// ActiveJobs and History hand out copies: mutating a snapshot must never
// leak back into the queue's bookkeeping.
func TestSnapshotsAreCopies(t *testing.T) {
	release := make(chan struct{})
	runner := &fakeRunner{block: release}
	q := New(10, 1, runner, nil)
	q.Start(context.Background())
	defer q.Stop(context.Background())

	require.NoError(t, q.Enqueue(&Job{BuildID: "b1"}))
	waitFor(t, func() bool { return len(q.ActiveJobs()) == 1 })

	active := q.ActiveJobs()
	active[0].Status = JobStatusFailed
	active[0].Error = "mutated by caller"
	assert.Equal(t, JobStatusRunning, q.ActiveJobs()[0].Status)

	close(release)
	job := waitFinished(t, q, "b1")
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.Error)

	history := q.History()
	history[0].Status = JobStatusQueued
	assert.Equal(t, JobStatusCompleted, q.History()[0].Status)
}
