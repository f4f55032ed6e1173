package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-mantis/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ReconciliationStore struct {
	db   *bun.DB
	repo repository.Repository[*reconciliationRecord]
}

func NewReconciliationStore(db *bun.DB) (*ReconciliationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*reconciliationRecord](db, reconciliationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid reconciliation repository wiring: %w", err)
		}
	}
	return &ReconciliationStore{db: db, repo: repo}, nil
}

func (s *ReconciliationStore) Create(ctx context.Context, in core.CreateReconciliationInput) (core.ReconciliationRecord, error) {
	if s == nil || s.repo == nil {
		return core.ReconciliationRecord{}, fmt.Errorf("sqlstore: reconciliation store is not configured")
	}
	if err := in.Validate(); err != nil {
		return core.ReconciliationRecord{}, err
	}
	record := newReconciliationRecord(uuid.NewString(), in, time.Now().UTC())
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.ReconciliationRecord{}, err
	}
	return created.toDomain(), nil
}

func (s *ReconciliationStore) Get(ctx context.Context, id string) (core.ReconciliationRecord, error) {
	if s == nil || s.db == nil {
		return core.ReconciliationRecord{}, fmt.Errorf("sqlstore: reconciliation store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.ReconciliationRecord{}, fmt.Errorf("sqlstore: reconciliation id is required")
	}
	record := &reconciliationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ReconciliationRecord{}, fmt.Errorf("%w: id %q", core.ErrReconciliationNotFound, id)
		}
		return core.ReconciliationRecord{}, err
	}
	return record.toDomain(), nil
}

// ApplyTotals overwrites the derived columns in one UPDATE so readers never
// observe a partially applied calculation.
func (s *ReconciliationStore) ApplyTotals(
	ctx context.Context,
	id string,
	totals core.ReconciliationTotals,
	updatedAt time.Time,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: reconciliation store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: reconciliation id is required")
	}
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	result, err := s.db.NewUpdate().
		Model((*reconciliationRecord)(nil)).
		Set("total_payments = ?", totals.TotalPayments).
		Set("total_refunds = ?", totals.TotalRefunds).
		Set("net_amount = ?", totals.NetAmount).
		Set("payment_count = ?", totals.PaymentCount).
		Set("refund_count = ?", totals.RefundCount).
		Set("status = ?", string(core.ReconciliationStatusCalculated)).
		Set("updated_at = ?", updatedAt.UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %q", core.ErrReconciliationNotFound, id)
	}
	return nil
}
