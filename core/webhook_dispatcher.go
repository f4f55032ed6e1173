package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

const (
	HeaderEventType  = "X-Mantis-Event"
	HeaderDeliveryID = "X-Mantis-Delivery"
)

// WebhookDispatcher claims due webhook deliveries and performs one signed POST
// attempt for each, recording the outcome back onto the delivery.
type WebhookDispatcher struct {
	deliveries    WebhookDeliveryStore
	subscriptions WebhookSubscriptionReader
	sender        DeliverySender
	signer        PayloadSigner
	logger        Logger
	metrics       MetricsRecorder
	now           func() time.Time

	mu     sync.RWMutex
	config WebhookConfig
}

type WebhookDispatcherOption func(*WebhookDispatcher)

func WithDispatcherSigner(signer PayloadSigner) WebhookDispatcherOption {
	return func(d *WebhookDispatcher) {
		if signer != nil {
			d.signer = signer
		}
	}
}

func WithDispatcherLogger(logger Logger) WebhookDispatcherOption {
	return func(d *WebhookDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithDispatcherMetrics(metrics MetricsRecorder) WebhookDispatcherOption {
	return func(d *WebhookDispatcher) {
		if metrics != nil {
			d.metrics = metrics
		}
	}
}

func WithDispatcherClock(now func() time.Time) WebhookDispatcherOption {
	return func(d *WebhookDispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewWebhookDispatcher(
	deliveries WebhookDeliveryStore,
	subscriptions WebhookSubscriptionReader,
	sender DeliverySender,
	config WebhookConfig,
	opts ...WebhookDispatcherOption,
) (*WebhookDispatcher, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("core: webhook delivery store is required")
	}
	if subscriptions == nil {
		return nil, fmt.Errorf("core: webhook subscription store is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("core: webhook sender is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	dispatcher := &WebhookDispatcher{
		deliveries:    deliveries,
		subscriptions: subscriptions,
		sender:        sender,
		signer:        HMACSigner{},
		metrics:       NopMetricsRecorder{},
		config:        config.Normalized(),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(dispatcher)
		}
	}
	return dispatcher, nil
}

// Config returns the settings the next batch will run with.
func (d *WebhookDispatcher) Config() WebhookConfig {
	if d == nil {
		return DefaultWebhookConfig()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// UpdateConfig swaps dispatcher settings; batches already running keep theirs.
func (d *WebhookDispatcher) UpdateConfig(config WebhookConfig) error {
	if d == nil {
		return fmt.Errorf("core: webhook dispatcher is nil")
	}
	if err := config.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.config = config.Normalized()
	d.mu.Unlock()
	return nil
}

// ProcessPending runs one dispatch cycle. Only a failure to select the batch is
// returned as an error; every per-delivery failure is reported in the results.
func (d *WebhookDispatcher) ProcessPending(ctx context.Context) (ProcessResult, error) {
	if d == nil || d.deliveries == nil {
		return ProcessResult{}, fmt.Errorf("core: webhook dispatcher is not configured")
	}
	config := d.Config()
	now := d.now()

	expired, err := d.deliveries.ExpireExhausted(ctx, now)
	if err != nil {
		return ProcessResult{}, err
	}
	if expired > 0 {
		d.log(ctx, "warn", "expired exhausted webhook deliveries", map[string]any{"count": expired})
	}

	claimed, err := d.deliveries.ClaimBatch(ctx, config.BatchSize, now, config.ClaimLease())
	if err != nil {
		return ProcessResult{}, err
	}

	results := make([]DeliveryResult, len(claimed))
	if config.Concurrency <= 1 || len(claimed) <= 1 {
		for i, delivery := range claimed {
			results[i] = d.deliver(ctx, config, delivery)
		}
	} else {
		var group errgroup.Group
		group.SetLimit(config.Concurrency)
		for i, delivery := range claimed {
			group.Go(func() error {
				results[i] = d.deliver(ctx, config, delivery)
				return nil
			})
		}
		_ = group.Wait()
	}

	return ProcessResult{Processed: len(results), Results: results}, nil
}

func (d *WebhookDispatcher) deliver(ctx context.Context, config WebhookConfig, delivery WebhookDelivery) DeliveryResult {
	startedAt := time.Now()
	subscription, err := d.subscriptions.Get(ctx, delivery.WebhookID)
	if err != nil {
		return d.releaseUnattempted(ctx, config, delivery, err, config.BackoffBase())
	}

	// The lease must outlive this send or another dispatcher may reclaim the
	// delivery while it is in flight.
	until := d.now().Add(subscription.Timeout(config.DefaultTimeout()) + config.ClaimLease())
	if err := d.deliveries.RenewClaim(ctx, delivery.ID, delivery.ClaimID, until); err != nil {
		d.log(ctx, "warn", "webhook delivery skipped, claim not renewed", map[string]any{
			"delivery_id": delivery.ID,
			"claim_id":    delivery.ClaimID,
			"error":       err.Error(),
		})
		return DeliveryResult{
			ID:           delivery.ID,
			Status:       ResultStatusFailed,
			AttemptCount: delivery.AttemptCount,
			Error:        resolveErrorText(err),
		}
	}

	outcome := d.attempt(ctx, config, subscription, delivery)
	var throttled *DeliveryThrottledError
	if errors.As(outcome.err, &throttled) {
		return d.releaseUnattempted(ctx, config, delivery, throttled, max(throttled.RetryAfter, config.BackoffBase()))
	}
	transition, cause := d.transitionFor(config, subscription, delivery, outcome)

	result := DeliveryResult{
		ID:             delivery.ID,
		Status:         ResultStatusFailed,
		DeliveryStatus: transition.Status,
		AttemptCount:   transition.AttemptCount,
	}
	if transition.Status == DeliveryStatusSuccess {
		result.Status = ResultStatusSuccess
	} else if cause != nil {
		result.Error = cause.Error()
	}

	if err := d.deliveries.Resolve(ctx, transition); err != nil {
		result.Status = ResultStatusFailed
		result.DeliveryStatus = ""
		result.AttemptCount = delivery.AttemptCount
		result.Error = resolveErrorText(err)
		d.log(ctx, "error", "webhook delivery transition rejected", map[string]any{
			"delivery_id": delivery.ID,
			"claim_id":    delivery.ClaimID,
			"error":       err.Error(),
		})
	}

	tags := map[string]string{
		"status":          result.Status,
		"delivery_status": string(result.DeliveryStatus),
	}
	d.metrics.IncCounter(ctx, "mantis.webhooks.delivery.total", 1, tags)
	d.metrics.ObserveHistogram(ctx, "mantis.webhooks.delivery.duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)

	d.log(ctx, "debug", "webhook delivery attempted", map[string]any{
		"delivery_id":     delivery.ID,
		"webhook_id":      delivery.WebhookID,
		"event_type":      delivery.EventType,
		"attempt_count":   transition.AttemptCount,
		"delivery_status": string(result.DeliveryStatus),
		"response_code":   outcome.statusCode,
	})
	return result
}

type attemptOutcome struct {
	statusCode int
	body       []byte
	err        error
}

func (o attemptOutcome) succeeded() bool {
	return o.err == nil && o.statusCode >= http.StatusOK && o.statusCode < http.StatusMultipleChoices
}

func (d *WebhookDispatcher) attempt(
	ctx context.Context,
	config WebhookConfig,
	subscription WebhookSubscription,
	delivery WebhookDelivery,
) attemptOutcome {
	body, err := CanonicalJSON(delivery.Payload)
	if err != nil {
		return attemptOutcome{err: BadInputError(err.Error())}
	}
	signature, err := d.signer.Sign(subscription.Secret, body)
	if err != nil {
		return attemptOutcome{err: BadInputError(err.Error())}
	}

	headers := make(map[string]string, len(subscription.Headers)+5)
	for key, value := range subscription.Headers {
		if reservedDeliveryHeader(key) {
			continue
		}
		headers[key] = value
	}
	headers["Content-Type"] = "application/json"
	headers["User-Agent"] = config.UserAgent
	headers[SignatureHeader] = SignatureHeaderValue(signature)
	headers[HeaderEventType] = delivery.EventType
	headers[HeaderDeliveryID] = delivery.ID

	response, err := d.sender.Do(ctx, TransportRequest{
		Method:               http.MethodPost,
		URL:                  subscription.URL,
		Headers:              headers,
		Body:                 body,
		Timeout:              subscription.Timeout(config.DefaultTimeout()),
		Idempotency:          delivery.ID,
		MaxResponseBodyBytes: config.MaxResponseBodyBytes,
		Metadata: map[string]any{
			"delivery_id": delivery.ID,
			"webhook_id":  subscription.ID,
		},
	})
	outcome := attemptOutcome{statusCode: response.StatusCode, body: response.Body}
	var throttled *DeliveryThrottledError
	switch {
	case errors.As(err, &throttled):
		outcome.err = throttled
	case err != nil:
		outcome.err = DeliveryNetworkError(err, delivery.ID)
	case !outcome.succeeded():
		outcome.err = DeliveryRejectedError(response.StatusCode, delivery.ID)
	}
	return outcome
}

func (d *WebhookDispatcher) transitionFor(
	config WebhookConfig,
	subscription WebhookSubscription,
	delivery WebhookDelivery,
	outcome attemptOutcome,
) (DeliveryTransition, error) {
	now := d.now()
	transition := DeliveryTransition{
		DeliveryID:   delivery.ID,
		ClaimID:      delivery.ClaimID,
		AttemptCount: delivery.AttemptCount + 1,
	}
	if outcome.statusCode > 0 {
		code := outcome.statusCode
		transition.ResponseCode = &code
	}

	if outcome.succeeded() {
		transition.Status = DeliveryStatusSuccess
		transition.DeliveredAt = &now
		transition.ResponseBody = truncateBody(string(outcome.body), config.MaxResponseBodyBytes)
		return transition, nil
	}

	diagnostic := outcome.err.Error()
	if len(outcome.body) > 0 {
		diagnostic += ": " + string(outcome.body)
	}
	transition.ResponseBody = truncateBody(diagnostic, config.MaxResponseBodyBytes)

	if transition.AttemptCount >= subscription.RetryCount {
		transition.Status = DeliveryStatusFailed
		return transition, DeliveryExhaustedError(outcome.err, delivery.ID, transition.AttemptCount)
	}
	next := now.Add(BackoffDelay(config, transition.AttemptCount))
	transition.Status = DeliveryStatusRetrying
	transition.NextRetryAt = &next
	return transition, outcome.err
}

// releaseUnattempted hands a claimed delivery back when its subscription cannot
// be loaded or its receiver is throttled. No request was sent so the attempt
// count is kept.
func (d *WebhookDispatcher) releaseUnattempted(
	ctx context.Context,
	config WebhookConfig,
	delivery WebhookDelivery,
	cause error,
	retryAfter time.Duration,
) DeliveryResult {
	transition := DeliveryTransition{
		DeliveryID:   delivery.ID,
		ClaimID:      delivery.ClaimID,
		AttemptCount: delivery.AttemptCount,
		ResponseBody: truncateBody(cause.Error(), config.MaxResponseBodyBytes),
	}
	if errors.Is(cause, ErrWebhookNotFound) {
		transition.Status = DeliveryStatusFailed
	} else {
		next := d.now().Add(retryAfter)
		transition.Status = DeliveryStatusRetrying
		transition.NextRetryAt = &next
	}
	result := DeliveryResult{
		ID:             delivery.ID,
		Status:         ResultStatusFailed,
		DeliveryStatus: transition.Status,
		AttemptCount:   transition.AttemptCount,
		Error:          cause.Error(),
	}
	if err := d.deliveries.Resolve(ctx, transition); err != nil {
		result.Error = resolveErrorText(err)
	}
	return result
}

// BackoffDelay returns base * 2^attempt, capped at the configured maximum.
func BackoffDelay(config WebhookConfig, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(config.BackoffBase())
	maxDelay := config.MaxBackoff()
	next := time.Duration(base * math.Pow(2, float64(attempt)))
	if next <= 0 || next > maxDelay {
		return maxDelay
	}
	return next
}

func reservedDeliveryHeader(key string) bool {
	key = strings.TrimSpace(key)
	for _, reserved := range []string{"Content-Type", "User-Agent", SignatureHeader, HeaderEventType, HeaderDeliveryID} {
		if strings.EqualFold(key, reserved) {
			return true
		}
	}
	return key == ""
}

// truncateBody returns valid UTF-8 without NUL bytes, cut to at most limit
// bytes on a rune boundary.
func truncateBody(body string, limit int64) string {
	body = strings.ToValidUTF8(body, string(utf8.RuneError))
	body = strings.ReplaceAll(body, "\x00", "")
	if limit <= 0 || int64(len(body)) <= limit {
		return body
	}
	cut := int(limit)
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}

func resolveErrorText(err error) string {
	if errors.Is(err, ErrDeliveryClaimLost) {
		return ErrDeliveryClaimLost.Error()
	}
	return err.Error()
}

func (d *WebhookDispatcher) log(ctx context.Context, level string, message string, fields map[string]any) {
	if d == nil {
		return
	}
	logWithFields(ctx, d.logger, level, message, fields)
}
