package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	queueMemory "sitechat/internal/queue/memory"
	"sitechat/internal/rag"
)

func TestEnqueueProxiesToQueue(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(1)
	d := New(q, nil)

	require.NoError(t, d.Enqueue(context.Background(), rag.QueueItem{RunID: "r1"}))
	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "r1", item.RunID)
}

func TestRunReturnsWhenContextEnds(t *testing.T) {
	t.Parallel()

	d := New(queueMemory.NewQueue(1), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
