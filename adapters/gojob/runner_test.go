package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-mantis/core"
)

func TestRunner_ExecutesDispatchAndAcks(t *testing.T) {
	svc := &stubJobService{}
	delivery := &stubCoreDelivery{msg: DispatchWebhooksMessage(time.Now())}
	hook := &countingHook{}
	runner, err := NewRunner(svc, &stubCoreDequeuer{deliveries: []core.JobDelivery{delivery}}, WithRunnerHook(hook))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	handled, err := runner.RunOnce(context.Background())
	if err != nil || !handled {
		t.Fatalf("expected handled delivery, got handled=%v err=%v", handled, err)
	}
	if svc.processCalls != 1 {
		t.Fatalf("expected one dispatcher pass, got %d", svc.processCalls)
	}
	if !delivery.acked {
		t.Fatalf("expected ack")
	}
	if hook.starts != 1 || hook.successes != 1 {
		t.Fatalf("unexpected hook calls: %+v", hook)
	}
}

func TestRunner_CalculateReconciliationUsesParameter(t *testing.T) {
	svc := &stubJobService{}
	runner, err := NewRunner(svc, &stubCoreDequeuer{})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if err := runner.Execute(context.Background(), CalculateReconciliationMessage("rec_9")); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if svc.calculated != "rec_9" {
		t.Fatalf("expected rec_9 to be calculated, got %q", svc.calculated)
	}
}

func TestRunner_PermanentFailureDeadLetters(t *testing.T) {
	svc := &stubJobService{calculateErr: core.ReconciliationNotFoundError("rec_missing")}
	delivery := &stubCoreDelivery{msg: CalculateReconciliationMessage("rec_missing")}
	hook := &countingHook{}
	runner, _ := NewRunner(svc, &stubCoreDequeuer{deliveries: []core.JobDelivery{delivery}}, WithRunnerHook(hook))

	handled, err := runner.RunOnce(context.Background())
	if !handled || err == nil {
		t.Fatalf("expected handled failure, got handled=%v err=%v", handled, err)
	}
	if !delivery.nacked || !delivery.nackOpts.DeadLetter || delivery.nackOpts.Requeue {
		t.Fatalf("expected dead letter nack, got %+v", delivery.nackOpts)
	}
	if hook.failures != 1 {
		t.Fatalf("expected failure hook, got %+v", hook)
	}
}

func TestRunner_TransientFailureRequeuesWithDelay(t *testing.T) {
	svc := &stubJobService{processErr: errors.New("database is locked")}
	delivery := &stubCoreDelivery{msg: DispatchWebhooksMessage(time.Now())}
	hook := &countingHook{}
	runner, _ := NewRunner(svc, &stubCoreDequeuer{deliveries: []core.JobDelivery{delivery}},
		WithRunnerHook(hook),
		WithRetryDelay(5*time.Second),
	)

	if _, err := runner.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected execution error")
	}
	if !delivery.nackOpts.Requeue || delivery.nackOpts.Delay != 5*time.Second {
		t.Fatalf("expected delayed requeue, got %+v", delivery.nackOpts)
	}
	if hook.retries != 1 {
		t.Fatalf("expected retry hook, got %+v", hook)
	}
}

func TestRunner_UnknownJobIsBadInput(t *testing.T) {
	runner, _ := NewRunner(&stubJobService{}, &stubCoreDequeuer{})
	err := runner.Execute(context.Background(), &core.JobExecutionMessage{JobID: "mantis.unknown"})
	if !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input, got %v", err)
	}
	err = runner.Execute(context.Background(), &core.JobExecutionMessage{JobID: JobIDReconciliationCalculate})
	if !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input for missing parameter, got %v", err)
	}
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &stubJobService{}
	dequeuer := &stubCoreDequeuer{deliveries: []core.JobDelivery{
		&stubCoreDelivery{msg: DispatchWebhooksMessage(time.Now())},
	}}
	dequeuer.onEmpty = cancel
	runner, _ := NewRunner(svc, dequeuer, WithPollInterval(time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop after cancel")
	}
	if svc.processCalls != 1 {
		t.Fatalf("expected queued dispatch to run before shutdown, got %d", svc.processCalls)
	}
}

func TestNewRunner_RequiresDependencies(t *testing.T) {
	if _, err := NewRunner(nil, &stubCoreDequeuer{}); err == nil {
		t.Fatalf("expected error for missing service")
	}
	if _, err := NewRunner(&stubJobService{}, nil); err == nil {
		t.Fatalf("expected error for missing dequeuer")
	}
}

type stubJobService struct {
	processCalls int
	processErr   error
	calculated   string
	calculateErr error
}

func (s *stubJobService) ProcessPendingWebhooks(context.Context) (core.ProcessResult, error) {
	s.processCalls++
	return core.ProcessResult{}, s.processErr
}

func (s *stubJobService) CalculateReconciliation(_ context.Context, id string) (core.ReconciliationTotals, error) {
	s.calculated = id
	return core.ReconciliationTotals{}, s.calculateErr
}

type stubCoreDequeuer struct {
	deliveries []core.JobDelivery
	onEmpty    func()
}

func (s *stubCoreDequeuer) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.deliveries) == 0 {
		if s.onEmpty != nil {
			s.onEmpty()
		}
		return nil, nil
	}
	next := s.deliveries[0]
	s.deliveries = s.deliveries[1:]
	return next, nil
}

type stubCoreDelivery struct {
	msg      *core.JobExecutionMessage
	acked    bool
	nacked   bool
	nackOpts core.JobNackOptions
}

func (s *stubCoreDelivery) Message() *core.JobExecutionMessage { return s.msg }

func (s *stubCoreDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubCoreDelivery) Nack(_ context.Context, opts core.JobNackOptions) error {
	s.nacked = true
	s.nackOpts = opts
	return nil
}

type countingHook struct {
	starts    int
	successes int
	failures  int
	retries   int
}

func (h *countingHook) OnStart(context.Context, core.JobWorkerEvent)   { h.starts++ }
func (h *countingHook) OnSuccess(context.Context, core.JobWorkerEvent) { h.successes++ }
func (h *countingHook) OnFailure(context.Context, core.JobWorkerEvent) { h.failures++ }
func (h *countingHook) OnRetry(context.Context, core.JobWorkerEvent)   { h.retries++ }
