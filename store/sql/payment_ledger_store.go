package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-mantis/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PaymentLedgerStore reads completed payments and refunds for reconciliation
// and records ledger rows written by the payment intake.
type PaymentLedgerStore struct {
	db            *bun.DB
	infringements repository.Repository[*infringementRecord]
	payments      repository.Repository[*paymentRecord]
	refunds       repository.Repository[*refundRecord]
}

func NewPaymentLedgerStore(db *bun.DB) (*PaymentLedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	infringements := repository.NewRepository[*infringementRecord](db, infringementHandlers())
	payments := repository.NewRepository[*paymentRecord](db, paymentHandlers())
	refunds := repository.NewRepository[*refundRecord](db, refundHandlers())
	for name, repo := range map[string]any{
		"infringement": infringements,
		"payment":      payments,
		"refund":       refunds,
	} {
		if validator, ok := repo.(repository.Validator); ok {
			if err := validator.Validate(); err != nil {
				return nil, fmt.Errorf("sqlstore: invalid %s repository wiring: %w", name, err)
			}
		}
	}
	return &PaymentLedgerStore{
		db:            db,
		infringements: infringements,
		payments:      payments,
		refunds:       refunds,
	}, nil
}

func (s *PaymentLedgerStore) CompletedPayments(ctx context.Context, window core.LedgerWindow) ([]core.LedgerEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: payment ledger store is not configured")
	}
	if err := validateWindow(window); err != nil {
		return nil, err
	}
	var rows []ledgerEntryRow
	query := s.db.NewSelect().
		TableExpr("payments AS p").
		ColumnExpr("p.id, p.amount").
		Where("p.status = ?", core.PaymentStatusCompleted).
		Where("p.paid_at >= ?", window.Start.UTC()).
		Where("p.paid_at < ?", window.End.UTC())
	if window.Scoped() {
		query = query.Where(
			"p.infringement_id IN (SELECT i.id FROM infringements AS i WHERE i.agency_id = ?)",
			strings.TrimSpace(window.AgencyID),
		)
	}
	if err := query.OrderExpr("p.paid_at ASC, p.id ASC").Scan(ctx, &rows); err != nil {
		return nil, err
	}
	return toLedgerEntries(rows), nil
}

func (s *PaymentLedgerStore) CompletedRefunds(ctx context.Context, window core.LedgerWindow) ([]core.LedgerEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: payment ledger store is not configured")
	}
	if err := validateWindow(window); err != nil {
		return nil, err
	}
	var rows []ledgerEntryRow
	query := s.db.NewSelect().
		TableExpr("refunds AS r").
		ColumnExpr("r.id, r.amount").
		Where("r.status = ?", core.RefundStatusCompleted).
		Where("r.processed_at >= ?", window.Start.UTC()).
		Where("r.processed_at < ?", window.End.UTC())
	if window.Scoped() {
		query = query.Where(`r.payment_id IN (
	SELECT p.id
	FROM payments AS p
	JOIN infringements AS i ON i.id = p.infringement_id
	WHERE i.agency_id = ?
	  AND p.status = ?
	  AND p.paid_at >= ?
	  AND p.paid_at < ?
)`,
			strings.TrimSpace(window.AgencyID),
			core.PaymentStatusCompleted,
			window.Start.UTC(),
			window.End.UTC(),
		)
	}
	if err := query.OrderExpr("r.processed_at ASC, r.id ASC").Scan(ctx, &rows); err != nil {
		return nil, err
	}
	return toLedgerEntries(rows), nil
}

func (s *PaymentLedgerStore) RecordInfringement(ctx context.Context, in core.Infringement) (core.Infringement, error) {
	if s == nil || s.infringements == nil {
		return core.Infringement{}, fmt.Errorf("sqlstore: payment ledger store is not configured")
	}
	if strings.TrimSpace(in.AgencyID) == "" || strings.TrimSpace(in.Reference) == "" {
		return core.Infringement{}, fmt.Errorf("sqlstore: infringement agency id and reference are required")
	}
	now := time.Now().UTC()
	issuedAt := in.IssuedAt.UTC()
	if issuedAt.IsZero() {
		issuedAt = now
	}
	status := strings.TrimSpace(in.Status)
	if status == "" {
		status = "issued"
	}
	created, err := s.infringements.Create(ctx, &infringementRecord{
		ID:          recordIDOrNew(in.ID),
		AgencyID:    strings.TrimSpace(in.AgencyID),
		Reference:   strings.TrimSpace(in.Reference),
		OffenceCode: strings.TrimSpace(in.OffenceCode),
		Amount:      in.Amount,
		Status:      status,
		IssuedAt:    issuedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return core.Infringement{}, err
	}
	return created.toDomain(), nil
}

func (s *PaymentLedgerStore) RecordPayment(ctx context.Context, in core.Payment) (core.Payment, error) {
	if s == nil || s.payments == nil {
		return core.Payment{}, fmt.Errorf("sqlstore: payment ledger store is not configured")
	}
	if strings.TrimSpace(in.InfringementID) == "" {
		return core.Payment{}, fmt.Errorf("sqlstore: payment infringement id is required")
	}
	if strings.TrimSpace(in.Status) == "" {
		return core.Payment{}, fmt.Errorf("sqlstore: payment status is required")
	}
	now := time.Now().UTC()
	created, err := s.payments.Create(ctx, &paymentRecord{
		ID:             recordIDOrNew(in.ID),
		InfringementID: strings.TrimSpace(in.InfringementID),
		Amount:         in.Amount,
		Method:         strings.TrimSpace(in.Method),
		Status:         strings.TrimSpace(in.Status),
		PaidAt:         utcPointer(in.PaidAt),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return core.Payment{}, err
	}
	return created.toDomain(), nil
}

func (s *PaymentLedgerStore) RecordRefund(ctx context.Context, in core.Refund) (core.Refund, error) {
	if s == nil || s.refunds == nil {
		return core.Refund{}, fmt.Errorf("sqlstore: payment ledger store is not configured")
	}
	if strings.TrimSpace(in.PaymentID) == "" {
		return core.Refund{}, fmt.Errorf("sqlstore: refund payment id is required")
	}
	if strings.TrimSpace(in.Status) == "" {
		return core.Refund{}, fmt.Errorf("sqlstore: refund status is required")
	}
	now := time.Now().UTC()
	created, err := s.refunds.Create(ctx, &refundRecord{
		ID:          recordIDOrNew(in.ID),
		PaymentID:   strings.TrimSpace(in.PaymentID),
		Amount:      in.Amount,
		Reason:      strings.TrimSpace(in.Reason),
		Status:      strings.TrimSpace(in.Status),
		ProcessedAt: utcPointer(in.ProcessedAt),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return core.Refund{}, err
	}
	return created.toDomain(), nil
}

func validateWindow(window core.LedgerWindow) error {
	if window.Start.IsZero() || window.End.IsZero() || !window.End.After(window.Start) {
		return fmt.Errorf("sqlstore: invalid ledger window [%s, %s)", window.Start, window.End)
	}
	return nil
}

func toLedgerEntries(rows []ledgerEntryRow) []core.LedgerEntry {
	entries := make([]core.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, core.LedgerEntry{ID: row.ID, Amount: row.Amount})
	}
	return entries
}

func recordIDOrNew(id string) string {
	if trimmed := strings.TrimSpace(id); trimmed != "" {
		return trimmed
	}
	return uuid.NewString()
}
