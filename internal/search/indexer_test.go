package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
)

type fakeQueue struct {
	mu     sync.Mutex
	pushed []string
	err    error
}

func (q *fakeQueue) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmd := redis.NewIntCmd(ctx, append([]interface{}{"lpush", key}, values...)...)
	if q.err != nil {
		cmd.SetErr(q.err)
		return cmd
	}
	for _, v := range values {
		q.pushed = append(q.pushed, v.(string))
	}
	cmd.SetVal(int64(len(q.pushed)))
	return cmd
}

func (q *fakeQueue) all() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.pushed))
	copy(out, q.pushed)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIndexerEnqueue(t *testing.T) {
	t.Run("pushed ids reach the queue in order", func(t *testing.T) {
		queue := &fakeQueue{}
		idx := NewIndexer(queue, testLogger())

		idx.Enqueue("ord_1")
		idx.Enqueue("ord_2")
		idx.Enqueue("ord_3")
		idx.Close()

		got := queue.all()
		want := []string{"ord_1", "ord_2", "ord_3"}
		if len(got) != len(want) {
			t.Fatalf("pushed %d ids, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("pushed[%d] = %s, want %s", i, got[i], want[i])
			}
		}
	})

	t.Run("queue errors are swallowed", func(t *testing.T) {
		queue := &fakeQueue{err: errors.New("connection refused")}
		idx := NewIndexer(queue, testLogger())

		idx.Enqueue("ord_1")
		idx.Close()
	})

	t.Run("close is idempotent", func(t *testing.T) {
		idx := NewIndexer(&fakeQueue{}, testLogger())
		idx.Close()
		idx.Close()
	})

	t.Run("enqueue never blocks when the buffer is full", func(t *testing.T) {
		// A queue that blocks until released keeps the dispatcher busy while
		// the buffer fills up.
		release := make(chan struct{})
		queue := &blockingQueue{release: release}
		idx := NewIndexer(queue, testLogger())

		for i := 0; i < defaultBufferSize+10; i++ {
			idx.Enqueue("ord_overflow")
		}

		close(release)
		idx.Close()
	})
}

type blockingQueue struct {
	release chan struct{}
}

func (q *blockingQueue) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	<-q.release
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}
