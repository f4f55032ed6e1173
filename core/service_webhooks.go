package core

import (
	"context"
	"strings"
	"time"
)

const (
	defaultDeliveryPage    = 1
	defaultDeliveryPerPage = 50
	maxDeliveryPerPage     = 500
)

func (s *Service) ProcessPendingWebhooks(ctx context.Context) (result ProcessResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["processed"] = result.Processed
		fields["failed"] = result.Failed()
		s.observeOperation(ctx, startedAt, "webhooks_process", err, fields)
	}()

	if s == nil || s.dispatcher == nil {
		err = s.notConfigured("webhook dispatcher")
		return ProcessResult{}, err
	}
	result, err = s.dispatcher.ProcessPending(ctx)
	if err != nil {
		err = s.mapError(err)
		return ProcessResult{}, err
	}
	return result, nil
}

// PublishWebhookEvent fans an event out to every active subscription that lists
// the event type, creating one pending delivery per subscription.
func (s *Service) PublishWebhookEvent(ctx context.Context, eventType string, payload []byte) (result PublishResult, err error) {
	startedAt := time.Now().UTC()
	eventType = strings.TrimSpace(eventType)
	fields := map[string]any{"webhook_event": eventType}
	defer func() {
		fields["deliveries"] = len(result.Deliveries)
		s.observeOperation(ctx, startedAt, "webhooks_publish", err, fields)
	}()

	if s == nil || s.subscriptionStore == nil || s.deliveryStore == nil {
		err = s.notConfigured("webhook stores")
		return PublishResult{}, err
	}
	if eventType == "" {
		err = BadInputError("core: webhook event type is required")
		return PublishResult{}, err
	}
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		err = BadInputError(err.Error())
		return PublishResult{}, err
	}

	subscriptions, err := s.subscriptionStore.ListActive(ctx)
	if err != nil {
		err = s.mapError(err)
		return PublishResult{}, err
	}
	inputs := []EnqueueDeliveryInput{}
	for _, subscription := range subscriptions {
		if !subscription.Active || !subscription.Subscribed(eventType) {
			continue
		}
		inputs = append(inputs, EnqueueDeliveryInput{
			WebhookID: subscription.ID,
			EventType: eventType,
			Payload:   canonical,
		})
	}
	deliveries, err := s.deliveryStore.EnqueueBatch(ctx, inputs)
	if err != nil {
		err = s.mapError(err)
		return PublishResult{}, err
	}
	result = PublishResult{EventType: eventType, Deliveries: make([]string, 0, len(deliveries))}
	for _, delivery := range deliveries {
		result.Deliveries = append(result.Deliveries, delivery.ID)
	}
	return result, nil
}

// RedeliverWebhook moves a failed delivery back to pending. The attempt count is
// kept, so a delivery whose budget is spent only goes out again once the
// subscription retry count has been raised.
func (s *Service) RedeliverWebhook(ctx context.Context, deliveryID string) (delivery WebhookDelivery, err error) {
	startedAt := time.Now().UTC()
	deliveryID = strings.TrimSpace(deliveryID)
	fields := map[string]any{"delivery_id": deliveryID}
	defer func() {
		s.observeOperation(ctx, startedAt, "webhooks_redeliver", err, fields)
	}()

	if s == nil || s.deliveryStore == nil {
		err = s.notConfigured("webhook delivery store")
		return WebhookDelivery{}, err
	}
	if deliveryID == "" {
		err = BadInputError("core: delivery id is required")
		return WebhookDelivery{}, err
	}
	current, err := s.deliveryStore.Get(ctx, deliveryID)
	if err != nil {
		err = s.mapError(err)
		return WebhookDelivery{}, err
	}
	if current.Status != DeliveryStatusFailed {
		err = DeliveryNotRedeliverableError(deliveryID, current.Status)
		return WebhookDelivery{}, err
	}
	delivery, err = s.deliveryStore.Requeue(ctx, deliveryID, s.now())
	if err != nil {
		err = s.mapError(err)
		return WebhookDelivery{}, err
	}
	return delivery, nil
}

func (s *Service) GetWebhookDelivery(ctx context.Context, deliveryID string) (delivery WebhookDelivery, err error) {
	startedAt := time.Now().UTC()
	deliveryID = strings.TrimSpace(deliveryID)
	fields := map[string]any{"delivery_id": deliveryID}
	defer func() {
		s.observeOperation(ctx, startedAt, "webhooks_delivery_get", err, fields)
	}()

	if s == nil || s.deliveryStore == nil {
		err = s.notConfigured("webhook delivery store")
		return WebhookDelivery{}, err
	}
	if deliveryID == "" {
		err = BadInputError("core: delivery id is required")
		return WebhookDelivery{}, err
	}
	delivery, err = s.deliveryStore.Get(ctx, deliveryID)
	if err != nil {
		err = s.mapError(err)
		return WebhookDelivery{}, err
	}
	return delivery, nil
}

func (s *Service) ListWebhookDeliveries(ctx context.Context, filter DeliveryFilter) (page DeliveryPage, err error) {
	startedAt := time.Now().UTC()
	filter = NormalizeDeliveryFilter(filter)
	fields := map[string]any{
		"webhook_id": filter.WebhookID,
		"status":     string(filter.Status),
		"page":       filter.Page,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "webhooks_delivery_list", err, fields)
	}()

	if s == nil || s.deliveryStore == nil {
		err = s.notConfigured("webhook delivery store")
		return DeliveryPage{}, err
	}
	if filter.Status != "" {
		if _, err = ParseDeliveryStatus(string(filter.Status)); err != nil {
			err = s.mapError(err)
			return DeliveryPage{}, err
		}
	}
	page, err = s.deliveryStore.List(ctx, filter)
	if err != nil {
		err = s.mapError(err)
		return DeliveryPage{}, err
	}
	return page, nil
}

func (s *Service) CreateWebhookSubscription(ctx context.Context, in CreateWebhookInput) (subscription WebhookSubscription, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"webhook_name": in.Name}
	defer func() {
		if err == nil {
			fields["webhook_id"] = subscription.ID
		}
		s.observeOperation(ctx, startedAt, "webhooks_subscription_create", err, fields)
	}()

	if s == nil || s.subscriptionStore == nil {
		err = s.notConfigured("webhook subscription store")
		return WebhookSubscription{}, err
	}
	if err = in.Validate(); err != nil {
		err = s.mapError(err)
		return WebhookSubscription{}, err
	}
	subscription, err = s.subscriptionStore.Create(ctx, in)
	if err != nil {
		err = s.mapError(err)
		return WebhookSubscription{}, err
	}
	return subscription, nil
}

func NormalizeDeliveryFilter(filter DeliveryFilter) DeliveryFilter {
	filter.WebhookID = strings.TrimSpace(filter.WebhookID)
	filter.Status = DeliveryStatus(strings.TrimSpace(strings.ToLower(string(filter.Status))))
	if filter.Page <= 0 {
		filter.Page = defaultDeliveryPage
	}
	if filter.PerPage <= 0 {
		filter.PerPage = defaultDeliveryPerPage
	}
	if filter.PerPage > maxDeliveryPerPage {
		filter.PerPage = maxDeliveryPerPage
	}
	return filter
}
