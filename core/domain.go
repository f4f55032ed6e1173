package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrReconciliationNotFound   = errors.New("core: reconciliation not found")
	ErrWebhookDeliveryNotFound  = errors.New("core: webhook delivery not found")
	ErrWebhookNotFound          = errors.New("core: webhook subscription not found")
	ErrDeliveryClaimLost        = errors.New("core: webhook delivery claim lost")
	ErrInvalidDeliveryStatus    = errors.New("core: invalid webhook delivery status")
	ErrInvalidReconciliationDay = errors.New("core: invalid reconciliation date")
	ErrDeliveryNotRedeliverable = errors.New("core: only failed webhook deliveries can be redelivered")
)

const ReconciliationDateLayout = "2006-01-02"

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"

	RefundStatusPending   = "pending"
	RefundStatusCompleted = "completed"
	RefundStatusRejected  = "rejected"
)

type ReconciliationStatus string

const (
	ReconciliationStatusOpen       ReconciliationStatus = "open"
	ReconciliationStatusCalculated ReconciliationStatus = "calculated"
)

type ReconciliationRecord struct {
	ID            string
	Date          string
	AgencyID      string
	TotalPayments decimal.Decimal
	TotalRefunds  decimal.Decimal
	NetAmount     decimal.Decimal
	PaymentCount  int
	RefundCount   int
	Status        ReconciliationStatus
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Scoped reports whether the record aggregates a single agency.
func (r ReconciliationRecord) Scoped() bool {
	return strings.TrimSpace(r.AgencyID) != ""
}

func (r ReconciliationRecord) Totals() ReconciliationTotals {
	return ReconciliationTotals{
		TotalPayments: r.TotalPayments,
		TotalRefunds:  r.TotalRefunds,
		NetAmount:     r.NetAmount,
		PaymentCount:  r.PaymentCount,
		RefundCount:   r.RefundCount,
	}
}

type ReconciliationTotals struct {
	TotalPayments decimal.Decimal `json:"totalPayments"`
	TotalRefunds  decimal.Decimal `json:"totalRefunds"`
	NetAmount     decimal.Decimal `json:"netAmount"`
	PaymentCount  int             `json:"paymentCount"`
	RefundCount   int             `json:"refundCount"`
}

// Balanced reports whether the net amount equals payments minus refunds.
func (t ReconciliationTotals) Balanced() bool {
	return t.NetAmount.Equal(t.TotalPayments.Sub(t.TotalRefunds))
}

type CreateReconciliationInput struct {
	Date     string
	AgencyID string
	Notes    string
}

func (in CreateReconciliationInput) Validate() error {
	if _, err := time.Parse(ReconciliationDateLayout, strings.TrimSpace(in.Date)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidReconciliationDay, in.Date)
	}
	return nil
}

// LedgerWindow bounds a reconciliation read: Start inclusive, End exclusive.
type LedgerWindow struct {
	Start    time.Time
	End      time.Time
	AgencyID string
}

func (w LedgerWindow) Scoped() bool {
	return strings.TrimSpace(w.AgencyID) != ""
}

type LedgerEntry struct {
	ID     string
	Amount decimal.Decimal
}

type Infringement struct {
	ID          string
	AgencyID    string
	Reference   string
	OffenceCode string
	Amount      decimal.Decimal
	Status      string
	IssuedAt    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Payment struct {
	ID             string
	InfringementID string
	Amount         decimal.Decimal
	Method         string
	Status         string
	PaidAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Refund struct {
	ID          string
	PaymentID   string
	Amount      decimal.Decimal
	Reason      string
	Status      string
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type WebhookSubscription struct {
	ID             string
	Name           string
	URL            string
	Secret         string
	Headers        map[string]string
	Events         []string
	TimeoutSeconds int
	RetryCount     int
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Timeout resolves the per-request timeout, falling back when unset.
func (s WebhookSubscription) Timeout(fallback time.Duration) time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	if fallback > 0 {
		return fallback
	}
	return defaultWebhookTimeout
}

// WildcardEvent subscribes to every event type.
const WildcardEvent = "*"

// Subscribed reports whether the subscription wants eventType.
func (s WebhookSubscription) Subscribed(eventType string) bool {
	eventType = strings.TrimSpace(eventType)
	for _, candidate := range s.Events {
		candidate = strings.TrimSpace(candidate)
		if candidate == WildcardEvent || strings.EqualFold(candidate, eventType) {
			return true
		}
	}
	return false
}

type CreateWebhookInput struct {
	Name           string
	URL            string
	Secret         string
	Headers        map[string]string
	Events         []string
	TimeoutSeconds int
	RetryCount     int
	Active         bool
}

func (in CreateWebhookInput) Validate() error {
	target := strings.TrimSpace(in.URL)
	if target == "" {
		return fmt.Errorf("core: webhook url is required")
	}
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("core: invalid webhook url %q", in.URL)
	}
	if strings.TrimSpace(in.Secret) == "" {
		return fmt.Errorf("core: webhook secret is required")
	}
	if len(in.Events) == 0 {
		return fmt.Errorf("core: webhook events are required")
	}
	if in.RetryCount < 0 || in.TimeoutSeconds < 0 {
		return fmt.Errorf("core: invalid webhook retry_count or timeout_seconds")
	}
	return nil
}

type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusRetrying   DeliveryStatus = "retrying"
	DeliveryStatusInProgress DeliveryStatus = "in_progress"
	DeliveryStatusSuccess    DeliveryStatus = "success"
	DeliveryStatusFailed     DeliveryStatus = "failed"
)

func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSuccess || s == DeliveryStatusFailed
}

func ParseDeliveryStatus(raw string) (DeliveryStatus, error) {
	status := DeliveryStatus(strings.TrimSpace(strings.ToLower(raw)))
	switch status {
	case DeliveryStatusPending,
		DeliveryStatusRetrying,
		DeliveryStatusInProgress,
		DeliveryStatusSuccess,
		DeliveryStatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDeliveryStatus, raw)
}

type WebhookDelivery struct {
	ID             string
	WebhookID      string
	EventType      string
	Payload        []byte
	Status         DeliveryStatus
	AttemptCount   int
	ResponseCode   *int
	ResponseBody   string
	NextRetryAt    *time.Time
	DeliveredAt    *time.Time
	ClaimID        string
	ClaimExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type EnqueueDeliveryInput struct {
	WebhookID string
	EventType string
	Payload   []byte
}

// DeliveryTransition is the outcome of one attempt, applied against an active claim.
type DeliveryTransition struct {
	DeliveryID   string
	ClaimID      string
	Status       DeliveryStatus
	AttemptCount int
	ResponseCode *int
	ResponseBody string
	NextRetryAt  *time.Time
	DeliveredAt  *time.Time
}

type DeliveryFilter struct {
	WebhookID string
	Status    DeliveryStatus
	Page      int
	PerPage   int
}

type DeliveryPage struct {
	Items   []WebhookDelivery
	Total   int
	Page    int
	PerPage int
}

const (
	ResultStatusSuccess = "success"
	ResultStatusFailed  = "failed"
)

type DeliveryResult struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	DeliveryStatus DeliveryStatus `json:"delivery_status,omitempty"`
	AttemptCount   int            `json:"attempt_count"`
	Error          string         `json:"error,omitempty"`
}

type ProcessResult struct {
	Processed int              `json:"processed"`
	Results   []DeliveryResult `json:"results"`
}

// Failed counts results that did not reach success.
func (r ProcessResult) Failed() int {
	count := 0
	for _, item := range r.Results {
		if item.Status != ResultStatusSuccess {
			count++
		}
	}
	return count
}

type PublishResult struct {
	EventType  string   `json:"event_type"`
	Deliveries []string `json:"deliveries"`
}
