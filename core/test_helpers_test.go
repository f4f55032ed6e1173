package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type memoryReconciliationStore struct {
	mu         sync.Mutex
	nextID     int
	records    map[string]ReconciliationRecord
	applyCalls int
	getErr     error
	applyErr   error
}

func newMemoryReconciliationStore() *memoryReconciliationStore {
	return &memoryReconciliationStore{records: map[string]ReconciliationRecord{}}
}

func (s *memoryReconciliationStore) Create(_ context.Context, in CreateReconciliationInput) (ReconciliationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := time.Now().UTC()
	record := ReconciliationRecord{
		ID:            fmt.Sprintf("rec_%d", s.nextID),
		Date:          in.Date,
		AgencyID:      in.AgencyID,
		Notes:         in.Notes,
		Status:        ReconciliationStatusOpen,
		TotalPayments: decimal.Zero,
		TotalRefunds:  decimal.Zero,
		NetAmount:     decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.records[record.ID] = record
	return record, nil
}

func (s *memoryReconciliationStore) Get(_ context.Context, id string) (ReconciliationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return ReconciliationRecord{}, s.getErr
	}
	record, ok := s.records[id]
	if !ok {
		return ReconciliationRecord{}, ErrReconciliationNotFound
	}
	return record, nil
}

func (s *memoryReconciliationStore) ApplyTotals(_ context.Context, id string, totals ReconciliationTotals, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCalls++
	if s.applyErr != nil {
		return s.applyErr
	}
	record, ok := s.records[id]
	if !ok {
		return ErrReconciliationNotFound
	}
	record.TotalPayments = totals.TotalPayments
	record.TotalRefunds = totals.TotalRefunds
	record.NetAmount = totals.NetAmount
	record.PaymentCount = totals.PaymentCount
	record.RefundCount = totals.RefundCount
	record.Status = ReconciliationStatusCalculated
	record.UpdatedAt = updatedAt
	s.records[id] = record
	return nil
}

type ledgerPayment struct {
	id       string
	agencyID string
	amount   string
	status   string
	paidAt   time.Time
}

type ledgerRefund struct {
	id          string
	paymentID   string
	amount      string
	status      string
	processedAt time.Time
}

// memoryLedger mirrors the window and scoping rules of the SQL ledger.
type memoryLedger struct {
	payments   []ledgerPayment
	refunds    []ledgerRefund
	paymentErr error
	refundErr  error
}

func (l *memoryLedger) CompletedPayments(_ context.Context, window LedgerWindow) ([]LedgerEntry, error) {
	if l.paymentErr != nil {
		return nil, l.paymentErr
	}
	entries := []LedgerEntry{}
	for _, payment := range l.matchingPayments(window) {
		entries = append(entries, LedgerEntry{ID: payment.id, Amount: decimal.RequireFromString(payment.amount)})
	}
	return entries, nil
}

func (l *memoryLedger) CompletedRefunds(_ context.Context, window LedgerWindow) ([]LedgerEntry, error) {
	if l.refundErr != nil {
		return nil, l.refundErr
	}
	counted := map[string]bool{}
	for _, payment := range l.matchingPayments(window) {
		counted[payment.id] = true
	}
	entries := []LedgerEntry{}
	for _, refund := range l.refunds {
		if refund.status != RefundStatusCompleted || !inWindow(refund.processedAt, window) {
			continue
		}
		if window.Scoped() && !counted[refund.paymentID] {
			continue
		}
		entries = append(entries, LedgerEntry{ID: refund.id, Amount: decimal.RequireFromString(refund.amount)})
	}
	return entries, nil
}

func (l *memoryLedger) matchingPayments(window LedgerWindow) []ledgerPayment {
	out := []ledgerPayment{}
	for _, payment := range l.payments {
		if payment.status != PaymentStatusCompleted || !inWindow(payment.paidAt, window) {
			continue
		}
		if window.Scoped() && payment.agencyID != window.AgencyID {
			continue
		}
		out = append(out, payment)
	}
	return out
}

func inWindow(at time.Time, window LedgerWindow) bool {
	return !at.Before(window.Start) && at.Before(window.End)
}

type memorySubscriptionStore struct {
	mu      sync.Mutex
	nextID  int
	records map[string]WebhookSubscription
	getErr  error
}

func newMemorySubscriptionStore(subscriptions ...WebhookSubscription) *memorySubscriptionStore {
	store := &memorySubscriptionStore{records: map[string]WebhookSubscription{}}
	for _, subscription := range subscriptions {
		store.records[subscription.ID] = subscription
	}
	return store
}

func (s *memorySubscriptionStore) Create(_ context.Context, in CreateWebhookInput) (WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	subscription := WebhookSubscription{
		ID:             fmt.Sprintf("wh_%d", s.nextID),
		Name:           in.Name,
		URL:            in.URL,
		Secret:         in.Secret,
		Headers:        in.Headers,
		Events:         in.Events,
		TimeoutSeconds: in.TimeoutSeconds,
		RetryCount:     in.RetryCount,
		Active:         in.Active,
	}
	s.records[subscription.ID] = subscription
	return subscription, nil
}

func (s *memorySubscriptionStore) Get(_ context.Context, id string) (WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return WebhookSubscription{}, s.getErr
	}
	subscription, ok := s.records[id]
	if !ok {
		return WebhookSubscription{}, ErrWebhookNotFound
	}
	return subscription, nil
}

func (s *memorySubscriptionStore) ListActive(context.Context) ([]WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []WebhookSubscription{}
	for _, subscription := range s.records {
		if subscription.Active {
			out = append(out, subscription)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memoryDeliveryStore struct {
	mu            sync.Mutex
	nextID        int
	nextClaim     int
	subscriptions *memorySubscriptionStore
	records       map[string]WebhookDelivery
	resolved      []DeliveryTransition
	claimErr      error
	stealClaims   bool
	renewed       int
	failEnqueueAt int
}

func newMemoryDeliveryStore(subscriptions *memorySubscriptionStore) *memoryDeliveryStore {
	return &memoryDeliveryStore{subscriptions: subscriptions, records: map[string]WebhookDelivery{}}
}

func (s *memoryDeliveryStore) seed(delivery WebhookDelivery) WebhookDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	if delivery.Status == "" {
		delivery.Status = DeliveryStatusPending
	}
	if delivery.CreatedAt.IsZero() {
		delivery.CreatedAt = time.Date(2024, 3, 1, 0, 0, len(s.records), 0, time.UTC)
	}
	if len(delivery.Payload) == 0 {
		delivery.Payload = []byte(`{"id":"evt"}`)
	}
	s.records[delivery.ID] = delivery
	return delivery
}

func (s *memoryDeliveryStore) get(id string) WebhookDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

// steal hands the delivery's claim to another dispatcher.
func (s *memoryDeliveryStore) steal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivery := s.records[id]
	delivery.ClaimID = "claim_other"
	s.records[id] = delivery
}

func (s *memoryDeliveryStore) Enqueue(_ context.Context, in EnqueueDeliveryInput) (WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivery := s.newDelivery(in)
	s.records[delivery.ID] = delivery
	return delivery, nil
}

// EnqueueBatch stages every delivery and commits only when all of them could
// be created; failEnqueueAt makes the n-th insert fail.
func (s *memoryDeliveryStore) EnqueueBatch(_ context.Context, inputs []EnqueueDeliveryInput) ([]WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := make([]WebhookDelivery, 0, len(inputs))
	for i, in := range inputs {
		if s.failEnqueueAt == i+1 {
			return nil, fmt.Errorf("sqlstore: enqueue delivery for webhook %q: database is locked", in.WebhookID)
		}
		staged = append(staged, s.newDelivery(in))
	}
	for _, delivery := range staged {
		s.records[delivery.ID] = delivery
	}
	return staged, nil
}

func (s *memoryDeliveryStore) newDelivery(in EnqueueDeliveryInput) WebhookDelivery {
	s.nextID++
	now := time.Now().UTC()
	return WebhookDelivery{
		ID:        fmt.Sprintf("del_%d", s.nextID),
		WebhookID: in.WebhookID,
		EventType: in.EventType,
		Payload:   append([]byte(nil), in.Payload...),
		Status:    DeliveryStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *memoryDeliveryStore) Get(_ context.Context, id string) (WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivery, ok := s.records[id]
	if !ok {
		return WebhookDelivery{}, ErrWebhookDeliveryNotFound
	}
	return delivery, nil
}

func (s *memoryDeliveryStore) List(_ context.Context, filter DeliveryFilter) (DeliveryPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := []WebhookDelivery{}
	for _, delivery := range s.records {
		if filter.WebhookID != "" && delivery.WebhookID != filter.WebhookID {
			continue
		}
		if filter.Status != "" && delivery.Status != filter.Status {
			continue
		}
		items = append(items, delivery)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return DeliveryPage{Items: items, Total: len(items), Page: filter.Page, PerPage: filter.PerPage}, nil
}

func (s *memoryDeliveryStore) ExpireExhausted(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, delivery := range s.records {
		if delivery.Status.Terminal() {
			continue
		}
		if delivery.Status == DeliveryStatusInProgress && delivery.ClaimExpiresAt != nil && delivery.ClaimExpiresAt.After(now) {
			continue
		}
		subscription := s.subscriptions.records[delivery.WebhookID]
		if delivery.AttemptCount < subscription.RetryCount {
			continue
		}
		delivery.Status = DeliveryStatusFailed
		delivery.NextRetryAt = nil
		delivery.ClaimID = ""
		delivery.ClaimExpiresAt = nil
		delivery.UpdatedAt = now
		s.records[id] = delivery
		count++
	}
	return count, nil
}

func (s *memoryDeliveryStore) ClaimBatch(_ context.Context, limit int, now time.Time, lease time.Duration) ([]WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	candidates := []WebhookDelivery{}
	for _, delivery := range s.records {
		if !claimable(delivery, now) {
			continue
		}
		subscription, ok := s.subscriptions.records[delivery.WebhookID]
		if !ok || !subscription.Active || delivery.AttemptCount >= subscription.RetryCount {
			continue
		}
		candidates = append(candidates, delivery)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	expiresAt := now.Add(lease)
	for i := range candidates {
		s.nextClaim++
		candidates[i].Status = DeliveryStatusInProgress
		candidates[i].ClaimID = fmt.Sprintf("claim_%d", s.nextClaim)
		candidates[i].ClaimExpiresAt = &expiresAt
		candidates[i].UpdatedAt = now
		s.records[candidates[i].ID] = candidates[i]
		if s.stealClaims {
			stolen := candidates[i]
			stolen.ClaimID = "claim_other"
			s.records[stolen.ID] = stolen
		}
	}
	return candidates, nil
}

func claimable(delivery WebhookDelivery, now time.Time) bool {
	switch delivery.Status {
	case DeliveryStatusPending, DeliveryStatusRetrying:
		return delivery.NextRetryAt == nil || !delivery.NextRetryAt.After(now)
	case DeliveryStatusInProgress:
		return delivery.ClaimExpiresAt == nil || !delivery.ClaimExpiresAt.After(now)
	}
	return false
}

func (s *memoryDeliveryStore) RenewClaim(_ context.Context, id string, claimID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivery, ok := s.records[id]
	if !ok || delivery.Status != DeliveryStatusInProgress || delivery.ClaimID != claimID {
		return ErrDeliveryClaimLost
	}
	delivery.ClaimExpiresAt = &until
	s.records[id] = delivery
	s.renewed++
	return nil
}

func (s *memoryDeliveryStore) Resolve(_ context.Context, transition DeliveryTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivery, ok := s.records[transition.DeliveryID]
	if !ok {
		return ErrWebhookDeliveryNotFound
	}
	if delivery.Status != DeliveryStatusInProgress || delivery.ClaimID != transition.ClaimID {
		return ErrDeliveryClaimLost
	}
	delivery.Status = transition.Status
	delivery.AttemptCount = transition.AttemptCount
	delivery.ResponseCode = transition.ResponseCode
	delivery.ResponseBody = transition.ResponseBody
	delivery.NextRetryAt = transition.NextRetryAt
	delivery.DeliveredAt = transition.DeliveredAt
	delivery.ClaimID = ""
	delivery.ClaimExpiresAt = nil
	s.records[delivery.ID] = delivery
	s.resolved = append(s.resolved, transition)
	return nil
}

func (s *memoryDeliveryStore) Requeue(_ context.Context, id string, now time.Time) (WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivery, ok := s.records[id]
	if !ok {
		return WebhookDelivery{}, ErrWebhookDeliveryNotFound
	}
	if delivery.Status != DeliveryStatusFailed {
		return WebhookDelivery{}, ErrDeliveryNotRedeliverable
	}
	delivery.Status = DeliveryStatusPending
	delivery.NextRetryAt = nil
	delivery.UpdatedAt = now
	s.records[id] = delivery
	return delivery, nil
}

type senderFunc func(ctx context.Context, req TransportRequest) (TransportResponse, error)

type recordingSender struct {
	mu       sync.Mutex
	requests []TransportRequest
	handle   senderFunc
}

func (s *recordingSender) Do(ctx context.Context, req TransportRequest) (TransportResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return TransportResponse{StatusCode: 200, Body: []byte("ok")}, nil
	}
	return handle(ctx, req)
}

func (s *recordingSender) snapshot() []TransportRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TransportRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func respondWith(status int, body string) *recordingSender {
	return &recordingSender{handle: func(context.Context, TransportRequest) (TransportResponse, error) {
		return TransportResponse{StatusCode: status, Body: []byte(body)}, nil
	}}
}

func failWith(err error) *recordingSender {
	return &recordingSender{handle: func(context.Context, TransportRequest) (TransportResponse, error) {
		return TransportResponse{}, err
	}}
}

var errTimeout = errors.New("context deadline exceeded (Client.Timeout exceeded while awaiting headers)")

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testSubscription(id string, retryCount int) WebhookSubscription {
	return WebhookSubscription{
		ID:         id,
		Name:       strings.ToUpper(id),
		URL:        "https://hooks.example/" + id,
		Secret:     "secret-" + id,
		Events:     []string{"payment.completed"},
		RetryCount: retryCount,
		Active:     true,
	}
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}
