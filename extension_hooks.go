package mantis

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-mantis/core"
	"github.com/goliatone/go-mantis/transport"
	"github.com/goliatone/go-mantis/webhooks"
)

// EventPack declares webhook event types a downstream module publishes.
type EventPack struct {
	Name       string
	EventTypes []string
}

// InterceptorPack decorates outbound webhook deliveries.
type InterceptorPack struct {
	Name         string
	Interceptors []transport.Interceptor
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	eventPacks       map[string]EventPack
	interceptorPacks map[string]InterceptorPack
	bundles          map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		eventPacks:       map[string]EventPack{},
		interceptorPacks: map[string]InterceptorPack{},
		bundles:          map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterEventPack(pack EventPack) error {
	if h == nil {
		return fmt.Errorf("mantis: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("mantis: event pack name is required")
	}
	normalized := EventPack{Name: name}
	for _, eventType := range pack.EventTypes {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" {
			return fmt.Errorf("mantis: event pack %q contains an empty event type", name)
		}
		normalized.EventTypes = append(normalized.EventTypes, eventType)
	}
	if len(normalized.EventTypes) == 0 {
		return fmt.Errorf("mantis: event pack %q has no event types", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.eventPacks[name]; exists {
		return fmt.Errorf("mantis: event pack %q already registered", name)
	}
	h.eventPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterInterceptorPack(pack InterceptorPack) error {
	if h == nil {
		return fmt.Errorf("mantis: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("mantis: interceptor pack name is required")
	}
	if len(pack.Interceptors) == 0 {
		return fmt.Errorf("mantis: interceptor pack %q has no interceptors", name)
	}
	for _, interceptor := range pack.Interceptors {
		if interceptor == nil {
			return fmt.Errorf("mantis: interceptor pack %q contains nil interceptor", name)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.interceptorPacks[name]; exists {
		return fmt.Errorf("mantis: interceptor pack %q already registered", name)
	}
	h.interceptorPacks[name] = InterceptorPack{
		Name:         name,
		Interceptors: append([]transport.Interceptor(nil), pack.Interceptors...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("mantis: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("mantis: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("mantis: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("mantis: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// EventTypes lists the built-in settlement events plus every registered pack,
// sorted and de-duplicated.
func (h *ExtensionHooks) EventTypes() []string {
	seen := map[string]bool{
		webhooks.EventPaymentCompleted:         true,
		webhooks.EventRefundCompleted:          true,
		webhooks.EventReconciliationCalculated: true,
	}
	if h != nil {
		h.mu.RLock()
		for _, pack := range h.eventPacks {
			for _, eventType := range pack.EventTypes {
				seen[eventType] = true
			}
		}
		h.mu.RUnlock()
	}
	out := make([]string, 0, len(seen))
	for eventType := range seen {
		out = append(out, eventType)
	}
	sort.Strings(out)
	return out
}

// ValidateEventTypes rejects subscription events nothing publishes.
func (h *ExtensionHooks) ValidateEventTypes(events []string) error {
	known := map[string]bool{}
	for _, eventType := range h.EventTypes() {
		known[eventType] = true
	}
	for _, eventType := range events {
		eventType = strings.TrimSpace(eventType)
		if eventType == core.WildcardEvent {
			continue
		}
		if !known[eventType] {
			return core.BadInputError(fmt.Sprintf("mantis: unknown webhook event type %q", eventType))
		}
	}
	return nil
}

// DeliverySender wraps base with the registered interceptor packs in pack
// name order.
func (h *ExtensionHooks) DeliverySender(base core.DeliverySender) core.DeliverySender {
	if h == nil {
		return base
	}
	h.mu.RLock()
	names := make([]string, 0, len(h.interceptorPacks))
	for name := range h.interceptorPacks {
		names = append(names, name)
	}
	sort.Strings(names)
	interceptors := []transport.Interceptor{}
	for _, name := range names {
		interceptors = append(interceptors, h.interceptorPacks[name].Interceptors...)
	}
	h.mu.RUnlock()
	return transport.Chain(base, interceptors...)
}

// Options returns the service options the hooks contribute.
func (h *ExtensionHooks) Options() []Option {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	hasInterceptors := len(h.interceptorPacks) > 0
	h.mu.RUnlock()
	if !hasInterceptors {
		return nil
	}
	return []Option{WithDeliverySender(h.DeliverySender(transport.NewHTTPSender(nil)))}
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("mantis: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
