package gocommand

import (
	"context"
	"fmt"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

const queueResolverKey = "queue"

// registrar subscribes mantis handlers on the global dispatcher and mirrors
// each one into a go-command registry, so registry resolvers see the same
// handler set the dispatcher routes to.
type registrar struct {
	registry      *command.Registry
	runnerOpts    []runner.Option
	subscriptions []commanddispatcher.Subscription
}

func newRegistrar(registry *command.Registry, runnerOpts []runner.Option) *registrar {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &registrar{registry: registry, runnerOpts: runnerOpts}
}

// mirrorToQueue makes every handler registered afterwards schedulable as a
// go-job task once the registry is initialized.
func (r *registrar) mirrorToQueue(queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return r.registry.AddResolver(queueResolverKey, jobqueuecommand.QueueResolver(queueRegistry))
}

func handleCommand[T any](r *registrar, cmd command.Commander[T]) error {
	if cmd == nil {
		return fmt.Errorf("gocommand: command handler for %T is nil", *new(T))
	}
	return r.track(commanddispatcher.SubscribeCommand(cmd, r.runnerOpts...), cmd)
}

func handleQuery[T any, R any](r *registrar, qry command.Querier[T, R]) error {
	if qry == nil {
		return fmt.Errorf("gocommand: query handler for %T is nil", *new(T))
	}
	return r.track(commanddispatcher.SubscribeQuery(qry, r.runnerOpts...), qry)
}

func (r *registrar) track(subscription commanddispatcher.Subscription, handler any) error {
	if err := r.registry.RegisterCommand(handler); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return fmt.Errorf("gocommand: register %T: %w", handler, err)
	}
	r.subscriptions = append(r.subscriptions, subscription)
	return nil
}

func (r *registrar) initialize() error {
	return r.registry.Initialize()
}

func (r *registrar) close() {
	for _, subscription := range r.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	r.subscriptions = nil
}

// dispatchResult sends msg through the dispatcher and returns what the
// handler stored in the context result collector. Handlers that store
// nothing are an error: every mantis command reports an outcome.
func dispatchResult[T any, R any](ctx context.Context, msg T) (R, error) {
	var zero R
	collector := command.NewResult[R]()
	if err := commanddispatcher.Dispatch(command.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	value, ok := collector.Load()
	if !ok {
		return zero, fmt.Errorf("gocommand: %T produced no result", msg)
	}
	return value, nil
}
