package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReconciliationCalculator derives the daily settlement totals of a
// reconciliation record from completed payments and refunds.
type ReconciliationCalculator struct {
	store    ReconciliationStore
	ledger   PaymentLedger
	location *time.Location
	now      func() time.Time
}

func NewReconciliationCalculator(
	store ReconciliationStore,
	ledger PaymentLedger,
	config ReconciliationConfig,
) (*ReconciliationCalculator, error) {
	if store == nil {
		return nil, fmt.Errorf("core: reconciliation store is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("core: payment ledger is required")
	}
	location, err := config.Location()
	if err != nil {
		return nil, err
	}
	return &ReconciliationCalculator{
		store:    store,
		ledger:   ledger,
		location: location,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (c *ReconciliationCalculator) Calculate(ctx context.Context, reconciliationID string) (ReconciliationTotals, error) {
	if c == nil || c.store == nil || c.ledger == nil {
		return ReconciliationTotals{}, fmt.Errorf("core: reconciliation calculator is not configured")
	}
	reconciliationID = strings.TrimSpace(reconciliationID)
	if reconciliationID == "" {
		return ReconciliationTotals{}, BadInputError("core: reconciliation id is required")
	}

	record, err := c.Get(ctx, reconciliationID)
	if err != nil {
		return ReconciliationTotals{}, err
	}
	window, err := c.Window(record)
	if err != nil {
		return ReconciliationTotals{}, CalculationFailedError(err, reconciliationID)
	}

	payments, err := c.ledger.CompletedPayments(ctx, window)
	if err != nil {
		return ReconciliationTotals{}, CalculationFailedError(err, reconciliationID)
	}
	refunds, err := c.ledger.CompletedRefunds(ctx, window)
	if err != nil {
		return ReconciliationTotals{}, CalculationFailedError(err, reconciliationID)
	}

	totals := SumTotals(payments, refunds)
	if err := c.store.ApplyTotals(ctx, reconciliationID, totals, c.now()); err != nil {
		if errors.Is(err, ErrReconciliationNotFound) {
			return ReconciliationTotals{}, ReconciliationNotFoundError(reconciliationID)
		}
		return ReconciliationTotals{}, CalculationFailedError(err, reconciliationID)
	}
	return totals, nil
}

func (c *ReconciliationCalculator) Get(ctx context.Context, reconciliationID string) (ReconciliationRecord, error) {
	if c == nil || c.store == nil {
		return ReconciliationRecord{}, fmt.Errorf("core: reconciliation calculator is not configured")
	}
	reconciliationID = strings.TrimSpace(reconciliationID)
	if reconciliationID == "" {
		return ReconciliationRecord{}, BadInputError("core: reconciliation id is required")
	}
	record, err := c.store.Get(ctx, reconciliationID)
	if err != nil {
		if errors.Is(err, ErrReconciliationNotFound) {
			return ReconciliationRecord{}, ReconciliationNotFoundError(reconciliationID)
		}
		return ReconciliationRecord{}, CalculationFailedError(err, reconciliationID)
	}
	return record, nil
}

// Window resolves the half-open day range covered by record in the calculator
// location. AddDate keeps the bound on local midnight across DST shifts.
func (c *ReconciliationCalculator) Window(record ReconciliationRecord) (LedgerWindow, error) {
	location := time.UTC
	if c != nil && c.location != nil {
		location = c.location
	}
	day, err := time.ParseInLocation(ReconciliationDateLayout, strings.TrimSpace(record.Date), location)
	if err != nil {
		return LedgerWindow{}, fmt.Errorf("%w: %q", ErrInvalidReconciliationDay, record.Date)
	}
	return LedgerWindow{
		Start:    day,
		End:      day.AddDate(0, 0, 1),
		AgencyID: strings.TrimSpace(record.AgencyID),
	}, nil
}

// SumTotals aggregates ledger entries with exact decimal arithmetic.
func SumTotals(payments []LedgerEntry, refunds []LedgerEntry) ReconciliationTotals {
	totalPayments := decimal.Zero
	for _, entry := range payments {
		totalPayments = totalPayments.Add(entry.Amount)
	}
	totalRefunds := decimal.Zero
	for _, entry := range refunds {
		totalRefunds = totalRefunds.Add(entry.Amount)
	}
	return ReconciliationTotals{
		TotalPayments: totalPayments,
		TotalRefunds:  totalRefunds,
		NetAmount:     totalPayments.Sub(totalRefunds),
		PaymentCount:  len(payments),
		RefundCount:   len(refunds),
	}
}
