package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// DeadLetter is a message the queue gave up on.
type DeadLetter struct {
	Message *job.ExecutionMessage
	Attempt int
	Reason  string
	At      time.Time
}

type memoryItem struct {
	msg         *job.ExecutionMessage
	attempt     int
	availableAt time.Time
}

// MemoryQueue is an in-process go-job queue for single node deployments.
// Messages with the drop dedup policy are ignored while another message with
// the same idempotency key is pending or in flight.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []*memoryItem
	keys    map[string]struct{}
	dead    []DeadLetter
	now     func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		keys: map[string]struct{}{},
		now:  time.Now,
	}
}

// WithClock overrides the time source used for delayed redelivery.
func (q *MemoryQueue) WithClock(now func() time.Time) *MemoryQueue {
	if q != nil && now != nil {
		q.now = now
	}
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if q == nil {
		return fmt.Errorf("gojob: memory queue is nil")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" && string(msg.DedupPolicy) == DedupPolicyDrop {
		if _, exists := q.keys[key]; exists {
			return nil
		}
		q.keys[key] = struct{}{}
	}
	q.pending = append(q.pending, &memoryItem{msg: msg, availableAt: q.now()})
	return nil
}

// Dequeue returns the oldest available message, or nil when nothing is due.
func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q == nil {
		return nil, fmt.Errorf("gojob: memory queue is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for i, item := range q.pending {
		if item.availableAt.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		item.attempt++
		return &memoryDelivery{queue: q, item: item}, nil
	}
	return nil, nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

func (q *MemoryQueue) release(item *memoryItem) {
	if key := strings.TrimSpace(item.msg.IdempotencyKey); key != "" {
		delete(q.keys, key)
	}
}

type memoryDelivery struct {
	queue   *MemoryQueue
	item    *memoryItem
	settled bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.item.msg
}

// Attempt is the 1-based delivery count of the message.
func (d *memoryDelivery) Attempt() int {
	return d.item.attempt
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	if d.settled {
		return fmt.Errorf("gojob: delivery already settled")
	}
	d.settled = true
	d.queue.release(d.item)
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	if d.settled {
		return fmt.Errorf("gojob: delivery already settled")
	}
	d.settled = true
	now := d.queue.now()
	switch {
	case opts.DeadLetter:
		d.queue.release(d.item)
		d.queue.dead = append(d.queue.dead, DeadLetter{
			Message: d.item.msg,
			Attempt: d.item.attempt,
			Reason:  opts.Reason,
			At:      now,
		})
	case opts.Requeue:
		delay := opts.Delay
		if delay < 0 {
			delay = 0
		}
		d.item.availableAt = now.Add(delay)
		d.queue.pending = append(d.queue.pending, d.item)
	default:
		d.queue.release(d.item)
	}
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
