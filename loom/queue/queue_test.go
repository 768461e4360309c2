package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunsJobs(t *testing.T) {
	q := NewQueue(10, 2)
	q.Start()
	defer q.Stop()

	done := make(chan struct{})
	ok := q.Enqueue(Job{
		Group: "a",
		Run: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestEnqueueFullQueue(t *testing.T) {
	q := NewQueue(1, 1)
	// workers not started: the buffer is all there is

	require.True(t, q.Enqueue(Job{Group: "a", Run: func(ctx context.Context) error { return nil }}))
	assert.False(t, q.Enqueue(Job{Group: "b", Run: func(ctx context.Context) error { return nil }}))
}

func TestShedRunLeavesPredecessorAlone(t *testing.T) {
	q := NewQueue(1, 1)
	// workers not started yet: the buffer is all there is

	aDone := make(chan struct{})
	require.True(t, q.Enqueue(Job{
		Group: "acme/core@refs/heads/main",
		Run: func(ctx context.Context) error {
			close(aDone)
			return nil
		},
		OnCancel: func() { t.Error("run A was cancelled by a shed run") },
	}))

	// buffer full: the superseding run is shed, run A keeps its slot
	assert.False(t, q.Enqueue(Job{
		Group: "acme/core@refs/heads/main",
		Run:   func(ctx context.Context) error { return nil },
	}))

	q.Start()
	defer q.Stop()

	select {
	case <-aDone:
	case <-time.After(2 * time.Second):
		t.Fatal("run A never ran")
	}
}

func TestNewRunCancelsInFlightGroup(t *testing.T) {
	q := NewQueue(10, 1)
	q.Start()
	defer q.Stop()

	started := make(chan struct{})
	cancelled := make(chan struct{})
	bDone := make(chan struct{})

	require.True(t, q.Enqueue(Job{
		Group: "acme/core@refs/heads/main",
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
		OnCancel: func() { close(cancelled) },
	}))

	<-started

	// run B in the same group supersedes run A
	require.True(t, q.Enqueue(Job{
		Group: "acme/core@refs/heads/main",
		Run: func(ctx context.Context) error {
			close(bDone)
			return nil
		},
	}))

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("run A was not cancelled")
	}

	select {
	case <-bDone:
	case <-time.After(2 * time.Second):
		t.Fatal("run B never ran")
	}
}

func TestQueuedRunSupersededNeverStarts(t *testing.T) {
	q := NewQueue(10, 1)

	var mu sync.Mutex
	var ran []string
	var cancelled []string

	block := make(chan struct{})
	bDone := make(chan struct{})

	// occupies the single worker once started
	require.True(t, q.Enqueue(Job{
		Group: "other",
		Run: func(ctx context.Context) error {
			<-block
			return nil
		},
	}))

	record := func(name string, done chan struct{}) Job {
		return Job{
			Group: "g",
			Run: func(ctx context.Context) error {
				mu.Lock()
				ran = append(ran, name)
				mu.Unlock()
				if done != nil {
					close(done)
				}
				return nil
			},
			OnCancel: func() {
				mu.Lock()
				cancelled = append(cancelled, name)
				mu.Unlock()
			},
		}
	}

	// both queued behind the blocker; A is superseded before it starts
	require.True(t, q.Enqueue(record("A", nil)))
	require.True(t, q.Enqueue(record("B", bDone)))

	q.Start()
	close(block)

	select {
	case <-bDone:
	case <-time.After(2 * time.Second):
		t.Fatal("run B never ran")
	}
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"B"}, ran, "only the superseding run executes")
	assert.Equal(t, []string{"A"}, cancelled)
}

func TestDistinctGroupsDoNotInterfere(t *testing.T) {
	q := NewQueue(10, 2)
	q.Start()
	defer q.Stop()

	aDone := make(chan struct{})
	bDone := make(chan struct{})

	require.True(t, q.Enqueue(Job{
		Group: "acme/core@refs/heads/main",
		Run: func(ctx context.Context) error {
			close(aDone)
			return nil
		},
		OnCancel: func() { t.Error("run A should not be cancelled") },
	}))
	require.True(t, q.Enqueue(Job{
		Group: "acme/core@refs/heads/develop",
		Run: func(ctx context.Context) error {
			close(bDone)
			return nil
		},
	}))

	for _, ch := range []chan struct{}{aDone, bDone} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("job never ran")
		}
	}
}

func TestOnFailForRealErrors(t *testing.T) {
	q := NewQueue(10, 1)
	q.Start()
	defer q.Stop()

	failed := make(chan error, 1)
	require.True(t, q.Enqueue(Job{
		Group: "g",
		Run: func(ctx context.Context) error {
			return assert.AnError
		},
		OnFail: func(err error) { failed <- err },
	}))

	select {
	case err := <-failed:
		assert.ErrorIs(t, err, assert.AnError)
	case <-time.After(2 * time.Second):
		t.Fatal("OnFail never called")
	}
}
