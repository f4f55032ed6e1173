package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-mantis/core"
)

// RetryPolicy bounds retries of the job envelope. Webhook delivery attempts
// are counted by the dispatcher and never reach this policy.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// resolve turns the runner's nack request into what the queue should do for
// the given 1-based attempt. A message is always either requeued or dead
// lettered, never silently dropped.
func (p RetryPolicy) resolve(opts core.JobNackOptions, attempt int) queue.NackOptions {
	out := queue.NackOptions{
		Delay:      max(opts.Delay, 0),
		Requeue:    opts.Requeue && !opts.DeadLetter,
		DeadLetter: opts.DeadLetter,
		Reason:     strings.TrimSpace(opts.Reason),
	}
	if p.MaxDelay > 0 {
		out.Delay = min(out.Delay, p.MaxDelay)
	}
	if exhausted := p.MaxAttempts > 0 && attempt >= p.MaxAttempts; exhausted {
		out.Requeue = false
		out.DeadLetter = out.DeadLetter || p.DeadLetterOnMax
	}
	if !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// Enqueuer publishes mantis job messages on a go-job queue.
type Enqueuer struct {
	queue queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *Enqueuer {
	return &Enqueuer{queue: enqueuer}
}

func (e *Enqueuer) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if e == nil || e.queue == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		return fmt.Errorf("gojob: job message with a job id is required")
	}
	return e.queue.Enqueue(ctx, toQueueMessage(msg))
}

// Dequeuer pulls go-job deliveries and applies policy when they are nacked.
type Dequeuer struct {
	queue  queue.Dequeuer
	policy RetryPolicy
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *Dequeuer {
	return &Dequeuer{queue: dequeuer, policy: policy}
}

func (d *Dequeuer) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if d == nil || d.queue == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := d.queue.Dequeue(ctx)
	if err != nil || delivery == nil {
		return nil, err
	}
	return &jobDelivery{raw: delivery, policy: d.policy}, nil
}

type jobDelivery struct {
	raw    queue.Delivery
	policy RetryPolicy
}

func (d *jobDelivery) Message() *core.JobExecutionMessage {
	return fromQueueMessage(d.raw.Message())
}

func (d *jobDelivery) Ack(ctx context.Context) error {
	return d.raw.Ack(ctx)
}

// Nack uses the queue's attempt count when the delivery reports one.
// Deliveries without it are treated as first attempts.
func (d *jobDelivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	attempt := 1
	if counted, ok := d.raw.(interface{ Attempt() int }); ok {
		attempt = counted.Attempt()
	}
	return d.raw.Nack(ctx, d.policy.resolve(opts, attempt))
}

var (
	_ core.JobEnqueuer = (*Enqueuer)(nil)
	_ core.JobDequeuer = (*Dequeuer)(nil)
	_ core.JobDelivery = (*jobDelivery)(nil)
)
