package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-mantis/core"
)

const (
	defaultPollInterval = time.Second
	defaultRetryDelay   = 30 * time.Second
)

// JobService is the slice of the mantis service the queue worker drives.
type JobService interface {
	ProcessPendingWebhooks(ctx context.Context) (core.ProcessResult, error)
	CalculateReconciliation(ctx context.Context, reconciliationID string) (core.ReconciliationTotals, error)
}

type RunnerOption func(*Runner)

func WithRunnerHook(hook core.JobWorkerHook) RunnerOption {
	return func(r *Runner) {
		r.hook = hook
	}
}

func WithRunnerLogger(logger core.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithPollInterval(interval time.Duration) RunnerOption {
	return func(r *Runner) {
		if interval > 0 {
			r.pollInterval = interval
		}
	}
}

func WithRetryDelay(delay time.Duration) RunnerOption {
	return func(r *Runner) {
		if delay >= 0 {
			r.retryDelay = delay
		}
	}
}

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// Runner pulls job messages from a queue and executes them against the
// mantis service. Permanent failures are dead lettered, everything else is
// requeued with the configured delay.
type Runner struct {
	service      JobService
	dequeuer     core.JobDequeuer
	hook         core.JobWorkerHook
	logger       core.Logger
	pollInterval time.Duration
	retryDelay   time.Duration
	now          func() time.Time
}

func NewRunner(service JobService, dequeuer core.JobDequeuer, opts ...RunnerOption) (*Runner, error) {
	if service == nil {
		return nil, fmt.Errorf("gojob: job service is required")
	}
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	runner := &Runner{
		service:      service,
		dequeuer:     dequeuer,
		pollInterval: defaultPollInterval,
		retryDelay:   defaultRetryDelay,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}
	return runner, nil
}

// Run processes deliveries until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("gojob: runner is not configured")
	}
	for {
		handled, err := r.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			r.warn("job delivery failed", "error", err.Error())
		}
		if handled {
			continue
		}
		timer := time.NewTimer(r.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce dequeues and settles at most one delivery. It reports whether a
// delivery was handled.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	if r == nil || r.dequeuer == nil {
		return false, fmt.Errorf("gojob: runner is not configured")
	}
	delivery, err := r.dequeuer.Dequeue(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, nil
		}
		return false, err
	}
	if delivery == nil {
		return false, nil
	}

	msg := delivery.Message()
	startedAt := r.now()
	if r.hook != nil {
		r.hook.OnStart(ctx, core.JobWorkerEvent{Message: msg, StartedAt: startedAt})
	}

	execErr := r.Execute(ctx, msg)
	event := core.JobWorkerEvent{
		Message:   msg,
		Err:       execErr,
		StartedAt: startedAt,
		Duration:  r.now().Sub(startedAt),
	}
	if execErr == nil {
		if r.hook != nil {
			r.hook.OnSuccess(ctx, event)
		}
		return true, delivery.Ack(ctx)
	}

	opts := core.JobNackOptions{Reason: execErr.Error()}
	if permanentJobError(execErr) {
		opts.DeadLetter = true
		if r.hook != nil {
			r.hook.OnFailure(ctx, event)
		}
	} else {
		opts.Requeue = true
		opts.Delay = r.retryDelay
		event.Delay = r.retryDelay
		if r.hook != nil {
			r.hook.OnRetry(ctx, event)
		}
	}
	if err := delivery.Nack(ctx, opts); err != nil {
		return true, errors.Join(execErr, err)
	}
	return true, execErr
}

// Execute runs a single job message.
func (r *Runner) Execute(ctx context.Context, msg *core.JobExecutionMessage) error {
	if r == nil || r.service == nil {
		return fmt.Errorf("gojob: job service is required")
	}
	if msg == nil {
		return core.BadInputError("gojob: execution message is required")
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDWebhooksDispatch:
		result, err := r.service.ProcessPendingWebhooks(ctx)
		if err != nil {
			return err
		}
		r.debug("webhook dispatch pass finished", "processed", result.Processed, "failed", result.Failed())
		return nil
	case JobIDReconciliationCalculate:
		reconciliationID := strings.TrimSpace(fmt.Sprint(msg.Parameters[ParamReconciliationID]))
		if reconciliationID == "" || reconciliationID == "<nil>" {
			return core.BadInputError("gojob: reconciliation_id parameter is required")
		}
		_, err := r.service.CalculateReconciliation(ctx, reconciliationID)
		return err
	default:
		return core.BadInputError(fmt.Sprintf("gojob: unknown job id %q", msg.JobID))
	}
}

func (r *Runner) warn(message string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(message, args...)
	}
}

func (r *Runner) debug(message string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(message, args...)
	}
}

func permanentJobError(err error) bool {
	return core.HasTextCode(err, core.ErrorBadInput) ||
		core.HasTextCode(err, core.ErrorReconciliationNotFound) ||
		core.HasTextCode(err, core.ErrorNotFound)
}
