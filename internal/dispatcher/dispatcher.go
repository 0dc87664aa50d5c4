// Package dispatcher manages executor fan-out over the run queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"sitechat/internal/pipeline"
	"sitechat/internal/rag"
)

// Dispatcher fans out queued runs to a pool of pipeline executors.
type Dispatcher struct {
	queue     rag.Queue
	executors []*pipeline.Executor
}

// New creates a Dispatcher.
func New(queue rag.Queue, executors []*pipeline.Executor) *Dispatcher {
	return &Dispatcher{
		queue:     queue,
		executors: executors,
	}
}

// Run starts all executors and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ex := range d.executors {
		wg.Add(1)
		go func(ex *pipeline.Executor) {
			defer wg.Done()
			ex.Run(ctx)
		}(ex)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item rag.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
