package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultQueueKey   = "search:reindex:orders"
	defaultBufferSize = 256
	pushTimeout       = 5 * time.Second
)

// Queue is the subset of the Redis client the indexer needs.
type Queue interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Indexer queues orders for re-indexing by the shopping-assistant search
// subsystem. Enqueue never blocks the caller and never surfaces failures:
// a full buffer drops the id with a log line, a Redis error is logged and
// forgotten. The consumer side of the queue lives in the search service.
type Indexer struct {
	queue    Queue
	queueKey string
	logger   *slog.Logger

	ch   chan string
	wg   sync.WaitGroup
	once sync.Once
}

// NewIndexer starts the background dispatcher.
func NewIndexer(queue Queue, logger *slog.Logger) *Indexer {
	idx := &Indexer{
		queue:    queue,
		queueKey: defaultQueueKey,
		logger:   logger,
		ch:       make(chan string, defaultBufferSize),
	}
	idx.wg.Add(1)
	go idx.dispatch()
	return idx
}

// Enqueue schedules an order for re-indexing, best effort.
func (i *Indexer) Enqueue(orderID string) {
	select {
	case i.ch <- orderID:
	default:
		i.logger.Warn("reindex buffer full, dropping order", "order_id", orderID)
	}
}

// Close drains pending ids and stops the dispatcher.
func (i *Indexer) Close() {
	i.once.Do(func() { close(i.ch) })
	i.wg.Wait()
}

func (i *Indexer) dispatch() {
	defer i.wg.Done()
	for orderID := range i.ch {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		err := i.queue.LPush(ctx, i.queueKey, orderID).Err()
		cancel()
		if err != nil {
			i.logger.Error("failed to queue order for reindexing",
				"order_id", orderID, "error", err)
		}
	}
}

// NoopIndexer satisfies the port without a Redis connection, for local dev.
type NoopIndexer struct{}

func (NoopIndexer) Enqueue(orderID string) {
	slog.Debug("reindex::skipped", "order_id", orderID)
}
