package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftecnologia/mailgenius/internal/store"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(store.NewMemory())
	t.Cleanup(func() { e.Stop(250 * time.Millisecond) })
	return e
}

func fastOpts() Options {
	return Options{Attempts: 3, Backoff: Backoff{Kind: "exponential", BaseMs: 1}}
}

func TestPriorityDispatchOrder(t *testing.T) {
	e := testEngine(t)
	q := e.Queue("orders", Config{Concurrency: 1, DefaultOptions: fastOpts()})
	e.Start()

	q.Pause()

	var mu sync.Mutex
	var ran []string
	done := make(chan struct{})

	q.Process(func(ctx context.Context, job *Job, progress ProgressFunc) error {
		mu.Lock()
		ran = append(ran, job.Name)
		finished := len(ran) == 4
		mu.Unlock()
		if finished {
			close(done)
		}
		return nil
	})

	for _, item := range []struct {
		name string
		prio int
	}{
		{"p5", 5}, {"p1-first", 1}, {"p3", 3}, {"p1-second", 1},
	} {
		opts := fastOpts()
		opts.Priority = item.prio
		_, err := q.Add(item.name, map[string]string{"n": item.name}, &opts)
		require.NoError(t, err)
	}

	q.Resume()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"p1-first", "p1-second", "p3", "p5"}, ran)
}

func TestRetryWithBackoffEventuallyCompletes(t *testing.T) {
	e := testEngine(t)
	q := e.Queue("flaky", Config{Concurrency: 1, DefaultOptions: fastOpts()})
	e.Start()

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})

	q.Process(func(ctx context.Context, job *Job, progress ProgressFunc) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			return errors.New("transient smtp failure")
		}
		close(done)
		return nil
	})

	job, err := q.Add("send", nil, nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never completed")
	}

	require.Eventually(t, func() bool {
		j, ok := q.GetJob(job.ID)
		return ok && j.State == StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	j, _ := q.GetJob(job.ID)
	assert.Equal(t, 3, j.Attempts)
	assert.Equal(t, 100, j.Progress)
}

func TestExhaustedAttemptsFail(t *testing.T) {
	e := testEngine(t)
	q := e.Queue("doomed", Config{Concurrency: 1, DefaultOptions: fastOpts()})
	e.Start()

	q.Process(func(ctx context.Context, job *Job, progress ProgressFunc) error {
		return errors.New("permanent rejection")
	})

	job, err := q.Add("send", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, ok := q.GetJob(job.ID)
		return ok && j.State == StateFailed
	}, 5*time.Second, 10*time.Millisecond)

	j, _ := q.GetJob(job.ID)
	assert.Equal(t, 3, j.Attempts)
	assert.Contains(t, j.LastError, "permanent rejection")
	assert.Equal(t, 1, q.Stats().Failed)
}

func TestDelayedJobWaitsForDueTime(t *testing.T) {
	e := testEngine(t)
	q := e.Queue("scheduled", Config{Concurrency: 1, DefaultOptions: fastOpts()})
	e.Start()

	var started time.Time
	var mu sync.Mutex
	done := make(chan struct{})

	q.Process(func(ctx context.Context, job *Job, progress ProgressFunc) error {
		mu.Lock()
		started = time.Now()
		mu.Unlock()
		close(done)
		return nil
	})

	opts := fastOpts()
	opts.Delay = 150 * time.Millisecond
	enqueued := time.Now()
	job, err := q.Add("later", nil, &opts)
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, job.State)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("delayed job never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, started.Sub(enqueued), 150*time.Millisecond)
}

func TestPauseBlocksDispatch(t *testing.T) {
	e := testEngine(t)
	q := e.Queue("held", Config{Concurrency: 2, DefaultOptions: fastOpts()})
	e.Start()

	ran := make(chan struct{}, 8)
	q.Process(func(ctx context.Context, job *Job, progress ProgressFunc) error {
		ran <- struct{}{}
		return nil
	})

	q.Pause()
	_, err := q.Add("one", nil, nil)
	require.NoError(t, err)

	select {
	case <-ran:
		t.Fatal("paused queue dispatched a job")
	case <-time.After(150 * time.Millisecond):
	}
	assert.Equal(t, 1, q.Stats().Waiting)

	q.Resume()
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("resumed queue never dispatched")
	}
}

func TestMaxQueueSizeRejects(t *testing.T) {
	e := testEngine(t)
	q := e.Queue("bounded", Config{Concurrency: 1, MaxQueueSize: 2, DefaultOptions: fastOpts()})

	_, err := q.Add("a", nil, nil)
	require.NoError(t, err)
	_, err = q.Add("b", nil, nil)
	require.NoError(t, err)

	_, err = q.Add("c", nil, nil)
	require.ErrorIs(t, err, ErrQueueFull)

	// Bulk adds are all-or-nothing.
	q2 := e.Queue("bounded2", Config{Concurrency: 1, MaxQueueSize: 1, DefaultOptions: fastOpts()})
	_, err = q2.AddBulk([]BulkItem{{Name: "x"}, {Name: "y"}})
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 0, q2.Stats().Waiting)
}

func TestRetryFailedJob(t *testing.T) {
	e := testEngine(t)
	q := e.Queue("retryable", Config{Concurrency: 1, DefaultOptions: fastOpts()})
	e.Start()

	var mu sync.Mutex
	fail := true
	q.Process(func(ctx context.Context, job *Job, progress ProgressFunc) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("upstream down")
		}
		return nil
	})

	opts := fastOpts()
	opts.Attempts = 1
	job, err := q.Add("once", nil, &opts)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, _ := q.GetJob(job.ID)
		return j != nil && j.State == StateFailed
	}, 5*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, q.Retry("nope"), ErrJobNotFound)

	mu.Lock()
	fail = false
	mu.Unlock()
	require.NoError(t, q.Retry(job.ID))

	require.Eventually(t, func() bool {
		j, _ := q.GetJob(job.ID)
		return j != nil && j.State == StateCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRemoveGroupCancelsRun(t *testing.T) {
	e := testEngine(t)
	q := e.Queue("grouped", Config{Concurrency: 1, DefaultOptions: fastOpts()})
	e.Start()

	running := make(chan struct{}, 4)
	q.Process(func(ctx context.Context, job *Job, progress ProgressFunc) error {
		running <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})

	opts := fastOpts()
	opts.GroupID = "import-run-1"
	active, err := q.Add("batch-0", nil, &opts)
	require.NoError(t, err)
	waiting, err := q.Add("batch-1", nil, &opts)
	require.NoError(t, err)

	other := fastOpts()
	other.GroupID = "import-run-2"
	survivor, err := q.Add("other-batch", nil, &other)
	require.NoError(t, err)

	select {
	case <-running:
	case <-time.After(5 * time.Second):
		t.Fatal("first group job never started")
	}

	removed := q.RemoveGroup("import-run-1")
	assert.Equal(t, 2, removed)

	require.Eventually(t, func() bool {
		_, activeOK := q.GetJob(active.ID)
		_, waitingOK := q.GetJob(waiting.ID)
		return !activeOK && !waitingOK
	}, 5*time.Second, 10*time.Millisecond)

	_, ok := q.GetJob(survivor.ID)
	assert.True(t, ok)
}

func TestRemoveRules(t *testing.T) {
	e := testEngine(t)
	q := e.Queue("removal", Config{Concurrency: 1, DefaultOptions: fastOpts()})

	job, err := q.Add("idle", nil, nil)
	require.NoError(t, err)

	require.ErrorIs(t, q.Remove("missing"), ErrJobNotFound)
	require.NoError(t, q.Remove(job.ID))
	_, ok := q.GetJob(job.ID)
	assert.False(t, ok)
}

func TestStallReclaim(t *testing.T) {
	e := testEngine(t)
	q := e.Queue("stally", Config{
		Concurrency:    1,
		StallTimeout:   50 * time.Millisecond,
		DefaultOptions: fastOpts(),
	})
	e.Start()

	running := make(chan struct{}, 4)
	release := make(chan struct{})
	q.Process(func(ctx context.Context, job *Job, progress ProgressFunc) error {
		running <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	job, err := q.Add("wedged", nil, nil)
	require.NoError(t, err)

	select {
	case <-running:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	// Simulate a dead worker: silence the heartbeat behind the renewal
	// goroutine's back, then sweep.
	e.mu.Lock()
	raw := q.jobs[job.ID]
	raw.heartbeat = time.Now().Add(-time.Minute)
	e.mu.Unlock()
	e.reclaimStalled()

	j, ok := q.GetJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, StateWaiting, j.State)
	assert.Equal(t, 1, j.Attempts)
	assert.Equal(t, "stalled", j.LastError)

	close(release)

	require.Eventually(t, func() bool {
		j, _ := q.GetJob(job.ID)
		return j != nil && j.State == StateCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCleanRemovesOldTerminalJobs(t *testing.T) {
	e := testEngine(t)
	q := e.Queue("janitor", Config{Concurrency: 1, DefaultOptions: fastOpts()})
	e.Start()

	q.Process(func(ctx context.Context, job *Job, progress ProgressFunc) error { return nil })

	job, err := q.Add("quick", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, _ := q.GetJob(job.ID)
		return j != nil && j.State == StateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	// Too young to clean.
	assert.Equal(t, 0, q.Clean(time.Hour, StateCompleted))

	assert.Equal(t, 1, q.Clean(0, StateCompleted))
	_, ok := q.GetJob(job.ID)
	assert.False(t, ok)
}

func TestRemoveOnCompleteCap(t *testing.T) {
	e := testEngine(t)
	q := e.Queue("capped", Config{Concurrency: 1, RemoveOnComplete: 2, DefaultOptions: fastOpts()})
	e.Start()

	var mu sync.Mutex
	doneCount := 0
	q.Process(func(ctx context.Context, job *Job, progress ProgressFunc) error {
		mu.Lock()
		doneCount++
		mu.Unlock()
		return nil
	})

	var ids []string
	for i := 0; i < 4; i++ {
		job, err := q.Add("n", nil, nil)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return doneCount == 4
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, first := q.GetJob(ids[0])
		_, second := q.GetJob(ids[1])
		return !first && !second
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := q.GetJob(ids[3])
	assert.True(t, ok)
	assert.Equal(t, 4, q.Stats().Completed)
}

func TestStatsCensus(t *testing.T) {
	e := testEngine(t)
	q := e.Queue("census", Config{Concurrency: 1, DefaultOptions: fastOpts()})

	_, err := q.Add("w1", nil, nil)
	require.NoError(t, err)
	opts := fastOpts()
	opts.Delay = time.Hour
	_, err = q.Add("d1", nil, &opts)
	require.NoError(t, err)

	s := q.Stats()
	assert.Equal(t, 1, s.Waiting)
	assert.Equal(t, 1, s.Delayed)
	assert.Equal(t, 0, s.Active)

	all := e.AllStats()
	assert.Equal(t, s, all["census"])
}

func TestProgressUpdates(t *testing.T) {
	e := testEngine(t)
	q := e.Queue("progressive", Config{Concurrency: 1, DefaultOptions: fastOpts()})
	e.Start()

	reported := make(chan struct{})
	release := make(chan struct{})
	q.Process(func(ctx context.Context, job *Job, progress ProgressFunc) error {
		progress(40, "processed 400/1000", nil)
		close(reported)
		<-release
		return nil
	})

	job, err := q.Add("long", nil, nil)
	require.NoError(t, err)

	select {
	case <-reported:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never reported progress")
	}

	j, ok := q.GetJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, 40, j.Progress)
	assert.Equal(t, "processed 400/1000", j.ProgressMsg)

	close(release)
}
