// Package redis mirrors the event hub onto Redis Streams, so events
// published by this process can be read by external consumers and survive
// within the stream's bounded length.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aestiv/flowd/internal/domain"
	"github.com/aestiv/flowd/internal/ports"
)

const (
	globalStream = "flowd:events"

	// doneField marks the sentinel entry Complete appends so readers know
	// the execution finished.
	doneField = "done"
	dataField = "data"
)

// Hub implements ports.EventHub on Redis Streams. Each execution gets its
// own stream capped at the backlog size; XRANGE provides the late-subscriber
// replay and blocking XREAD provides the live tail.
type Hub struct {
	client      *redis.Client
	backlogSize int
	queueSize   int
	metrics     ports.MetricsCollector
	logger      *zap.Logger
}

// NewHub creates a Redis Streams hub.
func NewHub(client *redis.Client, backlogSize, queueSize int, metrics ports.MetricsCollector, logger *zap.Logger) *Hub {
	if backlogSize <= 0 {
		backlogSize = 50
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		client:      client,
		backlogSize: backlogSize,
		queueSize:   queueSize,
		metrics:     metrics,
		logger:      logger,
	}
}

// Publish appends the event to the execution's stream and to the global
// stream, both capped approximately at the backlog size.
func (h *Hub) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey(event.ExecutionID),
		MaxLen: int64(h.backlogSize),
		Approx: true,
		Values: map[string]interface{}{dataField: string(data)},
	}
	if _, err := h.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	global := &redis.XAddArgs{
		Stream: globalStream,
		MaxLen: int64(h.backlogSize),
		Approx: true,
		Values: map[string]interface{}{dataField: string(data)},
	}
	if _, err := h.client.XAdd(ctx, global).Result(); err != nil {
		return fmt.Errorf("failed to add to global stream: %w", err)
	}

	return nil
}

// Subscribe replays the execution's stream from the beginning, then tails
// it until the completion sentinel, the context ends, or the subscriber
// falls behind.
func (h *Hub) Subscribe(ctx context.Context, executionID string) (ports.Subscription, error) {
	sub := newSubscription(h.queueSize + h.backlogSize)
	go h.readStream(ctx, streamKey(executionID), sub, true)
	return sub, nil
}

// SubscribeAll tails the global stream from now on. There is no replay.
func (h *Hub) SubscribeAll(ctx context.Context) (ports.Subscription, error) {
	sub := newSubscription(h.queueSize)
	go h.tailFrom(ctx, globalStream, "$", sub, false)
	return sub, nil
}

// Complete appends the sentinel entry that tells readers the execution
// finished. The stream itself stays behind for late subscribers until Redis
// trims it.
func (h *Hub) Complete(executionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: streamKey(executionID),
		Values: map[string]interface{}{doneField: "1"},
	}
	if _, err := h.client.XAdd(ctx, args).Result(); err != nil {
		h.logger.Error("failed to append completion sentinel",
			zap.String("execution_id", executionID),
			zap.Error(err))
	}
}

// Close releases nothing: the Redis client is owned by the caller.
func (h *Hub) Close() error {
	return nil
}

// readStream replays the stream from the start, then keeps tailing.
func (h *Hub) readStream(ctx context.Context, streamKey string, sub *subscription, stopAtSentinel bool) {
	messages, err := h.client.XRange(ctx, streamKey, "-", "+").Result()
	if err != nil {
		h.logger.Error("failed to read stream backlog",
			zap.String("stream", streamKey),
			zap.Error(err))
		sub.finish(fmt.Errorf("failed to read stream backlog: %w", err))
		return
	}

	lastID := "0"
	for _, message := range messages {
		if !h.deliver(streamKey, message, sub, stopAtSentinel) {
			return
		}
		lastID = message.ID
	}

	h.tailFrom(ctx, streamKey, lastID, sub, stopAtSentinel)
}

// tailFrom blocks on new entries after lastID and forwards them.
func (h *Hub) tailFrom(ctx context.Context, streamKey, lastID string, sub *subscription, stopAtSentinel bool) {
	for {
		select {
		case <-ctx.Done():
			sub.finish(nil)
			return
		case <-sub.cancel:
			sub.finish(nil)
			return
		default:
			streams, err := h.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{streamKey, lastID},
				Count:   10,
				Block:   time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					// No new messages
					continue
				}
				if ctx.Err() != nil {
					sub.finish(nil)
					return
				}
				h.logger.Error("failed to read from stream",
					zap.String("stream", streamKey),
					zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					if !h.deliver(streamKey, message, sub, stopAtSentinel) {
						return
					}
					lastID = message.ID
				}
			}
		}
	}
}

// deliver decodes one stream entry and offers it to the subscriber. It
// returns false when reading should stop: completion sentinel reached or
// the subscriber overflowed.
func (h *Hub) deliver(streamKey string, message redis.XMessage, sub *subscription, stopAtSentinel bool) bool {
	if _, done := message.Values[doneField]; done {
		if stopAtSentinel {
			sub.finish(nil)
			return false
		}
		return true
	}

	data, ok := message.Values[dataField].(string)
	if !ok {
		h.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return true
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		h.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return true
	}

	if !sub.offer(event) {
		if sub.cancelled() {
			sub.finish(nil)
			return false
		}
		sub.finish(ports.ErrSlowSubscriber)
		h.metrics.RecordSubscriberDropped()
		h.logger.Warn("subscriber dropped for falling behind",
			zap.String("stream", streamKey))
		return false
	}
	return true
}

// streamKey returns the Redis stream key for an execution.
func streamKey(executionID string) string {
	return fmt.Sprintf("flowd:events:%s", executionID)
}

// subscription is one attached consumer. The channel is written and closed
// only by the owning reader goroutine.
type subscription struct {
	ch chan domain.Event

	mu     sync.Mutex
	closed bool
	err    error
	cancel chan struct{}
}

func newSubscription(queueSize int) *subscription {
	return &subscription{
		ch:     make(chan domain.Event, queueSize),
		cancel: make(chan struct{}),
	}
}

func (s *subscription) offer(event domain.Event) bool {
	select {
	case <-s.cancel:
		return false
	default:
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

func (s *subscription) cancelled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

func (s *subscription) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

// Events returns the delivery channel.
func (s *subscription) Events() <-chan domain.Event {
	return s.ch
}

// Err reports why the channel closed.
func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close asks the reader to stop; the channel closes once it notices.
func (s *subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.cancel:
	default:
		close(s.cancel)
	}
}
