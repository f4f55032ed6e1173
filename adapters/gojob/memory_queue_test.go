package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-mantis/core"
)

func TestMemoryQueue_DropsDuplicateDispatchWithinSlot(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryQueue()
	enqueuer := NewEnqueuerAdapter(queue)
	now := time.Date(2024, 5, 14, 10, 0, 5, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := enqueuer.Enqueue(ctx, DispatchWebhooksMessage(now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if queue.Len() != 1 {
		t.Fatalf("expected duplicate dispatches dropped, got %d pending", queue.Len())
	}

	delivery, err := queue.Dequeue(ctx)
	if err != nil || delivery == nil {
		t.Fatalf("dequeue: %v %v", delivery, err)
	}
	if err := enqueuer.Enqueue(ctx, DispatchWebhooksMessage(now)); err != nil {
		t.Fatalf("enqueue in flight: %v", err)
	}
	if queue.Len() != 0 {
		t.Fatalf("expected in-flight key to block duplicates")
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := enqueuer.Enqueue(ctx, DispatchWebhooksMessage(now)); err != nil {
		t.Fatalf("enqueue after ack: %v", err)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected key released after ack")
	}
}

func TestMemoryQueue_RequeueHonoursDelay(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)
	queue := NewMemoryQueue().WithClock(func() time.Time { return now })
	if err := NewEnqueuerAdapter(queue).Enqueue(ctx, CalculateReconciliationMessage("rec_1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	dequeuer := NewDequeuerAdapter(queue, RetryPolicy{MaxAttempts: 2, DeadLetterOnMax: true})
	delivery, _ := dequeuer.Dequeue(ctx)
	if err := delivery.Nack(ctx, core.JobNackOptions{Requeue: true, Delay: time.Minute}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if next, _ := dequeuer.Dequeue(ctx); next != nil {
		t.Fatalf("expected message hidden until delay elapses")
	}

	now = now.Add(time.Minute)
	delivery, _ = dequeuer.Dequeue(ctx)
	if delivery == nil {
		t.Fatalf("expected message available after delay")
	}
	if err := delivery.Nack(ctx, core.JobNackOptions{Requeue: true, Delay: time.Minute, Reason: "store offline"}); err != nil {
		t.Fatalf("second nack: %v", err)
	}

	dead := queue.DeadLetters()
	if len(dead) != 1 || dead[0].Attempt != 2 || dead[0].Reason != "store offline" {
		t.Fatalf("expected dead letter at max attempts, got %+v", dead)
	}
	if queue.Len() != 0 {
		t.Fatalf("expected nothing pending after dead letter")
	}
}

func TestMemoryQueue_RunnerDeadLettersPermanentErrors(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryQueue()
	service := &stubJobService{calculateErr: core.ReconciliationNotFoundError("rec_missing")}
	runner, err := NewRunner(service, NewDequeuerAdapter(queue, RetryPolicy{MaxAttempts: 5}))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if err := NewEnqueuerAdapter(queue).Enqueue(ctx, CalculateReconciliationMessage("rec_missing")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	handled, err := runner.RunOnce(ctx)
	if !handled || err == nil {
		t.Fatalf("expected handled failure, got handled=%v err=%v", handled, err)
	}
	if len(queue.DeadLetters()) != 1 {
		t.Fatalf("expected not-found reconciliation dead lettered")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := queue.Dequeue(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled dequeue, got %v", err)
	}
}
