// Package async runs independent named tasks on a fixed number of workers.
package async

import (
	"context"
	"fmt"
	"sync"
)

// Task is a named unit of work.
type Task[T any] struct {
	Name    string
	Execute func(ctx context.Context) (T, error)
}

// Result is the outcome of one task.
type Result[T any] struct {
	Name string
	Data T
	Err  error
}

// Pool bounds how many tasks run at once.
type Pool struct {
	workerCount int
}

// NewPool creates a pool with workerCount workers (at least one).
func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{workerCount: workerCount}
}

// Execute runs tasks on p and returns their results keyed by task name.
// Tasks not started before ctx is done report ctx's error; a panicking task
// reports it as an error.
func Execute[T any](ctx context.Context, p *Pool, tasks []Task[T]) map[string]Result[T] {
	queue := make(chan Task[T])
	out := make(chan Result[T], len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < min(p.workerCount, len(tasks)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				out <- run(ctx, task)
			}
		}()
	}

	results := make(map[string]Result[T], len(tasks))
	pending := tasks
send:
	for len(pending) > 0 {
		select {
		case queue <- pending[0]:
			pending = pending[1:]
		case <-ctx.Done():
			break send
		}
	}
	close(queue)
	wg.Wait()
	close(out)

	for r := range out {
		results[r.Name] = r
	}
	for _, task := range pending {
		results[task.Name] = Result[T]{Name: task.Name, Err: ctx.Err()}
	}
	return results
}

func run[T any](ctx context.Context, task Task[T]) (result Result[T]) {
	result.Name = task.Name
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	result.Data, result.Err = task.Execute(ctx)
	return result
}
