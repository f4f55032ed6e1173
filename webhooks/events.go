package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-mantis/core"
	"github.com/shopspring/decimal"
)

const (
	EventPaymentCompleted         = "payment.completed"
	EventRefundCompleted          = "refund.completed"
	EventReconciliationCalculated = "reconciliation.calculated"
)

// Event is a payload that knows its webhook event type.
type Event interface {
	EventType() string
}

type PaymentCompleted struct {
	PaymentID      string          `json:"payment_id"`
	InfringementID string          `json:"infringement_id"`
	AgencyID       string          `json:"agency_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method,omitempty"`
	PaidAt         time.Time       `json:"paid_at"`
}

func (PaymentCompleted) EventType() string { return EventPaymentCompleted }

type RefundCompleted struct {
	RefundID    string          `json:"refund_id"`
	PaymentID   string          `json:"payment_id"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason,omitempty"`
	ProcessedAt time.Time       `json:"processed_at"`
}

func (RefundCompleted) EventType() string { return EventRefundCompleted }

type ReconciliationCalculated struct {
	ReconciliationID string                    `json:"reconciliation_id"`
	Date             string                    `json:"date"`
	AgencyID         string                    `json:"agency_id,omitempty"`
	Totals           core.ReconciliationTotals `json:"totals"`
}

func (ReconciliationCalculated) EventType() string { return EventReconciliationCalculated }

// NewReconciliationCalculated builds the event for a freshly calculated record.
func NewReconciliationCalculated(record core.ReconciliationRecord, totals core.ReconciliationTotals) ReconciliationCalculated {
	return ReconciliationCalculated{
		ReconciliationID: record.ID,
		Date:             record.Date,
		AgencyID:         record.AgencyID,
		Totals:           totals,
	}
}

type EventSink interface {
	PublishWebhookEvent(ctx context.Context, eventType string, payload []byte) (core.PublishResult, error)
}

// Publisher encodes typed events and hands them to the settlement service for
// fan-out to subscriptions.
type Publisher struct {
	sink EventSink
}

func NewPublisher(sink EventSink) (*Publisher, error) {
	if sink == nil {
		return nil, fmt.Errorf("webhooks: event sink is required")
	}
	return &Publisher{sink: sink}, nil
}

func (p *Publisher) Publish(ctx context.Context, event Event) (core.PublishResult, error) {
	if p == nil || p.sink == nil {
		return core.PublishResult{}, fmt.Errorf("webhooks: publisher is not configured")
	}
	if event == nil {
		return core.PublishResult{}, fmt.Errorf("webhooks: event is required")
	}
	eventType := strings.TrimSpace(event.EventType())
	if eventType == "" {
		return core.PublishResult{}, fmt.Errorf("webhooks: event type is required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return core.PublishResult{}, fmt.Errorf("webhooks: encode %s payload: %w", eventType, err)
	}
	return p.sink.PublishWebhookEvent(ctx, eventType, payload)
}
