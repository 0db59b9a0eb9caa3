package async_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/pkg/async"
)

func TestExecute(t *testing.T) {
	failed := errors.New("failed")
	tasks := []async.Task[int]{
		{Name: "one", Execute: func(context.Context) (int, error) { return 1, nil }},
		{Name: "two", Execute: func(context.Context) (int, error) { return 2, nil }},
		{Name: "error", Execute: func(context.Context) (int, error) { return 0, failed }},
		{Name: "panic", Execute: func(context.Context) (int, error) { panic("oops") }},
	}

	results := async.Execute(context.Background(), async.NewPool(2), tasks)
	require.Len(t, results, 4)
	assert.Equal(t, 1, results["one"].Data)
	assert.Equal(t, 2, results["two"].Data)
	assert.ErrorIs(t, results["error"].Err, failed)
	assert.EqualError(t, results["panic"].Err, "task panic panicked: oops")
}

func TestExecuteBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	task := func(context.Context) (struct{}, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return struct{}{}, nil
	}

	var tasks []async.Task[struct{}]
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		tasks = append(tasks, async.Task[struct{}]{Name: name, Execute: task})
	}

	results := async.Execute(context.Background(), async.NewPool(2), tasks)
	assert.Len(t, results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecuteCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	tasks := []async.Task[int]{
		{Name: "a", Execute: func(ctx context.Context) (int, error) { ran.Add(1); return 0, ctx.Err() }},
		{Name: "b", Execute: func(ctx context.Context) (int, error) { ran.Add(1); return 0, ctx.Err() }},
	}

	results := async.Execute(ctx, async.NewPool(1), tasks)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}
