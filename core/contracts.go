package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type ReconciliationStore interface {
	Create(ctx context.Context, in CreateReconciliationInput) (ReconciliationRecord, error)
	Get(ctx context.Context, id string) (ReconciliationRecord, error)
	// ApplyTotals overwrites every derived field in a single statement.
	ApplyTotals(ctx context.Context, id string, totals ReconciliationTotals, updatedAt time.Time) error
}

type PaymentLedger interface {
	CompletedPayments(ctx context.Context, window LedgerWindow) ([]LedgerEntry, error)
	// CompletedRefunds returns refunds in window; when the window is scoped only
	// refunds of payments CompletedPayments would return are included.
	CompletedRefunds(ctx context.Context, window LedgerWindow) ([]LedgerEntry, error)
}

type WebhookSubscriptionReader interface {
	Get(ctx context.Context, id string) (WebhookSubscription, error)
}

type WebhookSubscriptionStore interface {
	WebhookSubscriptionReader
	Create(ctx context.Context, in CreateWebhookInput) (WebhookSubscription, error)
	ListActive(ctx context.Context) ([]WebhookSubscription, error)
}

type WebhookDeliveryStore interface {
	Enqueue(ctx context.Context, in EnqueueDeliveryInput) (WebhookDelivery, error)
	// EnqueueBatch creates all deliveries or none of them.
	EnqueueBatch(ctx context.Context, inputs []EnqueueDeliveryInput) ([]WebhookDelivery, error)
	Get(ctx context.Context, id string) (WebhookDelivery, error)
	List(ctx context.Context, filter DeliveryFilter) (DeliveryPage, error)
	// ExpireExhausted moves non-terminal deliveries that already spent their
	// subscription's retry budget to failed.
	ExpireExhausted(ctx context.Context, now time.Time) (int, error)
	// ClaimBatch atomically moves up to limit due deliveries to in_progress.
	ClaimBatch(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]WebhookDelivery, error)
	// RenewClaim pushes the claim lease of one in_progress delivery out to
	// until. It returns ErrDeliveryClaimLost when the claim is no longer held.
	RenewClaim(ctx context.Context, deliveryID string, claimID string, until time.Time) error
	// Resolve applies a transition only while the claim is still held.
	Resolve(ctx context.Context, transition DeliveryTransition) error
	Requeue(ctx context.Context, id string, now time.Time) (WebhookDelivery, error)
}

// SecretProvider seals subscription secrets at rest. Decrypt returns values it
// did not seal unchanged so rows written by other tools stay readable.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type DeliverySender interface {
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type TransportRequest struct {
	Method      string
	URL         string
	Headers     map[string]string
	Query       map[string]string
	Body        []byte
	Metadata    map[string]any
	Timeout     time.Duration
	Idempotency string
	// MaxResponseBodyBytes overrides the adapter response limit when positive.
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type PayloadSigner interface {
	Sign(secret string, payload []byte) (string, error)
}

type StoreProvider interface {
	ReconciliationStore() ReconciliationStore
	PaymentLedger() PaymentLedger
	WebhookSubscriptionStore() WebhookSubscriptionStore
	WebhookDeliveryStore() WebhookDeliveryStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type ReconciliationService interface {
	CalculateReconciliation(ctx context.Context, reconciliationID string) (ReconciliationTotals, error)
	GetReconciliation(ctx context.Context, reconciliationID string) (ReconciliationRecord, error)
	CreateReconciliation(ctx context.Context, in CreateReconciliationInput) (ReconciliationRecord, error)
}

type WebhookService interface {
	ProcessPendingWebhooks(ctx context.Context) (ProcessResult, error)
	PublishWebhookEvent(ctx context.Context, eventType string, payload []byte) (PublishResult, error)
	RedeliverWebhook(ctx context.Context, deliveryID string) (WebhookDelivery, error)
	GetWebhookDelivery(ctx context.Context, deliveryID string) (WebhookDelivery, error)
	ListWebhookDeliveries(ctx context.Context, filter DeliveryFilter) (DeliveryPage, error)
}

type SettlementService interface {
	ReconciliationService
	WebhookService
}
