package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/omnisource/ingest/pkg/kafka"
)

// Collector decouples request handling from event publishing: Track is fire
// and forget into a bounded buffer, and a background goroutine drains the
// buffer into Kafka. Events are dropped, not blocked on, when the buffer is
// full.
type Collector struct {
	producer *kafka.Producer
	eventCh  chan IngestEvent
	logger   *slog.Logger
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewCollector creates a Collector with the given buffer size.
func NewCollector(producer *kafka.Producer, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan IngestEvent, bufferSize),
		logger:   slog.Default().With("component", "analytics-collector"),
		done:     make(chan struct{}),
	}
}

// Start launches the publishing loop. It runs until Close is called or ctx
// is cancelled, draining buffered events on shutdown.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				if err := c.producer.Publish(ctx, kafka.Event{
					Key:   string(event.Type),
					Value: event,
				}); err != nil {
					c.logger.Error("failed to publish ingest event", "error", err)
				}
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
}

// Track enqueues an event without blocking. Events arriving after Close are
// dropped; the read lock keeps the channel open for the duration of the send.
func (c *Collector) Track(event IngestEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.logger.Warn("ingest event dropped (collector closed)")
		return
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("ingest event dropped (buffer full)")
	}
}

// Close stops the publishing loop after the buffer is drained. Safe to call
// more than once and safe against concurrent Track.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.eventCh)
	<-c.done
}

// drainRemaining flushes whatever is still buffered in one batch write.
func (c *Collector) drainRemaining() {
	var remaining []kafka.Event
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			remaining = append(remaining, kafka.Event{
				Key:   string(event.Type),
				Value: event,
			})
		default:
			if len(remaining) == 0 {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.producer.PublishBatch(ctx, remaining); err != nil {
				c.logger.Error("failed to flush remaining events", "count", len(remaining), "error", err)
			}
			return
		}
	}
}
