package sqlstore

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type infringementRecord struct {
	bun.BaseModel `bun:"table:infringements,alias:inf"`

	ID          string          `bun:"id,pk"`
	AgencyID    string          `bun:"agency_id,notnull"`
	Reference   string          `bun:"reference,notnull"`
	OffenceCode string          `bun:"offence_code,notnull"`
	Amount      decimal.Decimal `bun:"amount,notnull"`
	Status      string          `bun:"status,notnull"`
	IssuedAt    time.Time       `bun:"issued_at,notnull"`
	CreatedAt   time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type paymentRecord struct {
	bun.BaseModel `bun:"table:payments,alias:pay"`

	ID             string          `bun:"id,pk"`
	InfringementID string          `bun:"infringement_id,notnull"`
	Amount         decimal.Decimal `bun:"amount,notnull"`
	Method         string          `bun:"method,notnull"`
	Status         string          `bun:"status,notnull"`
	PaidAt         *time.Time      `bun:"paid_at,nullzero"`
	CreatedAt      time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type refundRecord struct {
	bun.BaseModel `bun:"table:refunds,alias:ref"`

	ID          string          `bun:"id,pk"`
	PaymentID   string          `bun:"payment_id,notnull"`
	Amount      decimal.Decimal `bun:"amount,notnull"`
	Reason      string          `bun:"reason,notnull"`
	Status      string          `bun:"status,notnull"`
	ProcessedAt *time.Time      `bun:"processed_at,nullzero"`
	CreatedAt   time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// ledgerEntryRow is the projection used by the ledger reads.
type ledgerEntryRow struct {
	ID     string          `bun:"id"`
	Amount decimal.Decimal `bun:"amount"`
}

type reconciliationRecord struct {
	bun.BaseModel `bun:"table:payment_reconciliations,alias:prc"`

	ID            string          `bun:"id,pk"`
	Date          string          `bun:"reconciliation_date,notnull"`
	AgencyID      string          `bun:"agency_id,notnull"`
	TotalPayments decimal.Decimal `bun:"total_payments,notnull"`
	TotalRefunds  decimal.Decimal `bun:"total_refunds,notnull"`
	NetAmount     decimal.Decimal `bun:"net_amount,notnull"`
	PaymentCount  int             `bun:"payment_count,notnull"`
	RefundCount   int             `bun:"refund_count,notnull"`
	Status        string          `bun:"status,notnull"`
	Notes         string          `bun:"notes,notnull"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookRecord struct {
	bun.BaseModel `bun:"table:webhooks,alias:wh"`

	ID             string            `bun:"id,pk"`
	Name           string            `bun:"name,notnull"`
	URL            string            `bun:"url,notnull"`
	Secret         string            `bun:"secret,notnull"`
	Headers        map[string]string `bun:"headers,type:jsonb,notnull"`
	Events         []string          `bun:"events,type:jsonb,notnull"`
	TimeoutSeconds int               `bun:"timeout_seconds,notnull"`
	RetryCount     int               `bun:"retry_count,notnull"`
	Active         bool              `bun:"active,notnull"`
	CreatedAt      time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:webhook_deliveries,alias:wd"`

	ID             string     `bun:"id,pk"`
	WebhookID      string     `bun:"webhook_id,notnull"`
	EventType      string     `bun:"event_type,notnull"`
	Payload        string     `bun:"payload,notnull"`
	Status         string     `bun:"status,notnull"`
	AttemptCount   int        `bun:"attempt_count,notnull"`
	ResponseCode   *int       `bun:"response_code"`
	ResponseBody   string     `bun:"response_body,notnull"`
	NextRetryAt    *time.Time `bun:"next_retry_at,nullzero"`
	DeliveredAt    *time.Time `bun:"delivered_at,nullzero"`
	ClaimID        *string    `bun:"claim_id"`
	ClaimExpiresAt *time.Time `bun:"claim_expires_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
