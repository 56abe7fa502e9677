package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/draftflow/internal/model"
)

// collect returns an OnDone func and a channel receiving its error.
func collect() (func(error), chan error) {
	ch := make(chan error, 1)
	return func(err error) { ch <- err }, ch
}

func waitErr(t *testing.T, ch chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("job did not complete")
		return nil
	}
}

func TestSubmit_ReturnsBeforeJobRuns(t *testing.T) {
	p := New()
	release := make(chan struct{})
	onDone, done := collect()

	ticket, err := p.Submit(Job{Key: "a:post", Kind: "render", Run: func(ctx context.Context) error {
		<-release
		return nil
	}, OnDone: onDone})
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.ID)
	assert.True(t, p.InFlight("a:post"))
	assert.Equal(t, 1, p.Stats().Active)

	close(release)
	assert.NoError(t, waitErr(t, done))
	require.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.InFlight("a:post"))
	assert.Equal(t, 1, p.Stats().Completed)
}

func TestSubmit_RejectsSameKeyInFlight(t *testing.T) {
	p := New()
	release := make(chan struct{})
	_, err := p.Submit(Job{Key: "a:post", Run: func(ctx context.Context) error { <-release; return nil }})
	require.NoError(t, err)

	_, err = p.Submit(Job{Key: "a:post", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrJobInFlight)
	assert.ErrorIs(t, err, model.ErrConflict)

	_, err = p.Submit(Job{Key: "b:post", Run: func(ctx context.Context) error { return nil }})
	assert.NoError(t, err)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestJobFailureReachesCallback(t *testing.T) {
	p := New()
	onDone, done := collect()
	boom := errors.New("render failed")

	_, err := p.Submit(Job{Key: "a:post", Run: func(ctx context.Context) error { return boom }, OnDone: onDone})
	require.NoError(t, err)
	assert.ErrorIs(t, waitErr(t, done), boom)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, 1, p.Stats().Failed)
}

func TestPanicIsContained(t *testing.T) {
	p := New()
	onDone, done := collect()

	_, err := p.Submit(Job{Key: "a:post", Run: func(ctx context.Context) error { panic("nil map") }, OnDone: onDone})
	require.NoError(t, err)

	got := waitErr(t, done)
	var pe *PanicError
	require.ErrorAs(t, got, &pe)
	assert.Equal(t, "nil map", pe.Value)

	// The pool keeps serving after a panic.
	onDone2, done2 := collect()
	_, err = p.Submit(Job{Key: "a:post", Run: func(ctx context.Context) error { return nil }, OnDone: onDone2})
	require.NoError(t, err)
	assert.NoError(t, waitErr(t, done2))
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, 1, p.Stats().Panicked)
}

func TestCallbackPanicIsContained(t *testing.T) {
	p := New()
	_, err := p.Submit(Job{Key: "a", Run: func(ctx context.Context) error { return nil }, OnDone: func(error) { panic("callback") }})
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdown_WaitsAndRefuses(t *testing.T) {
	p := New()
	var mu sync.Mutex
	finished := false
	_, err := p.Submit(Job{Key: "a", Run: func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
		return nil
	}})
	require.NoError(t, err)

	require.NoError(t, p.Shutdown(context.Background()))
	mu.Lock()
	assert.True(t, finished)
	mu.Unlock()

	_, err = p.Submit(Job{Key: "b", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdown_ContextExpires(t *testing.T) {
	p := New()
	release := make(chan struct{})
	defer close(release)
	_, err := p.Submit(Job{Key: "a", Run: func(ctx context.Context) error { <-release; return nil }})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
}

func TestMaxConcurrent(t *testing.T) {
	p := New(WithMaxConcurrent(2))
	var mu sync.Mutex
	running, peak := 0, 0
	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		wg.Add(1)
		_, err := p.Submit(Job{Key: key, Run: func(ctx context.Context) error {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil
		}, OnDone: func(error) { wg.Done() }})
		require.NoError(t, err)
	}
	wg.Wait()
	require.NoError(t, p.Shutdown(context.Background()))
	assert.LessOrEqual(t, peak, 2)
}

func TestJobTimeout(t *testing.T) {
	p := New(WithJobTimeout(10 * time.Millisecond))
	onDone, done := collect()
	_, err := p.Submit(Job{Key: "a", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, OnDone: onDone})
	require.NoError(t, err)
	assert.ErrorIs(t, waitErr(t, done), context.DeadlineExceeded)
	require.NoError(t, p.Shutdown(context.Background()))
}

type stepErr struct{}

func (stepErr) Error() string    { return "judge down" }
func (stepErr) StepName() string { return "generate" }

func TestErrorInfo(t *testing.T) {
	info := ErrorInfo(stepErr{}, "refine")
	assert.Equal(t, "generate", info.FailedStep)
	assert.Equal(t, "judge down", info.Message)
	assert.True(t, info.Retryable)

	info = ErrorInfo(&PanicError{Value: "x"}, "render")
	assert.Equal(t, "render", info.FailedStep)
	assert.False(t, info.Retryable)
}
