package core

import (
	"context"
	"strings"
	"time"
)

func (s *Service) CalculateReconciliation(ctx context.Context, reconciliationID string) (totals ReconciliationTotals, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"reconciliation_id": strings.TrimSpace(reconciliationID)}
	defer func() {
		if err == nil {
			fields["payment_count"] = totals.PaymentCount
			fields["refund_count"] = totals.RefundCount
			fields["net_amount"] = totals.NetAmount.String()
		}
		s.observeOperation(ctx, startedAt, "reconciliation_calculate", err, fields)
	}()

	if s == nil || s.calculator == nil {
		err = s.notConfigured("reconciliation calculator")
		return ReconciliationTotals{}, err
	}
	totals, err = s.calculator.Calculate(ctx, reconciliationID)
	if err != nil {
		err = s.mapError(err)
		return ReconciliationTotals{}, err
	}
	return totals, nil
}

func (s *Service) GetReconciliation(ctx context.Context, reconciliationID string) (record ReconciliationRecord, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"reconciliation_id": strings.TrimSpace(reconciliationID)}
	defer func() {
		s.observeOperation(ctx, startedAt, "reconciliation_get", err, fields)
	}()

	if s == nil || s.calculator == nil {
		err = s.notConfigured("reconciliation calculator")
		return ReconciliationRecord{}, err
	}
	record, err = s.calculator.Get(ctx, reconciliationID)
	if err != nil {
		err = s.mapError(err)
		return ReconciliationRecord{}, err
	}
	return record, nil
}

func (s *Service) CreateReconciliation(ctx context.Context, in CreateReconciliationInput) (record ReconciliationRecord, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"date": in.Date, "agency_id": in.AgencyID}
	defer func() {
		if err == nil {
			fields["reconciliation_id"] = record.ID
		}
		s.observeOperation(ctx, startedAt, "reconciliation_create", err, fields)
	}()

	if s == nil || s.reconciliationStore == nil {
		err = s.notConfigured("reconciliation store")
		return ReconciliationRecord{}, err
	}
	if err = in.Validate(); err != nil {
		err = s.mapError(err)
		return ReconciliationRecord{}, err
	}
	in.Date = strings.TrimSpace(in.Date)
	in.AgencyID = strings.TrimSpace(in.AgencyID)
	record, err = s.reconciliationStore.Create(ctx, in)
	if err != nil {
		err = s.mapError(err)
		return ReconciliationRecord{}, err
	}
	return record, nil
}
