package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-mantis/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const webhookDeliveryColumns = `
	id,
	webhook_id,
	event_type,
	payload,
	status,
	attempt_count,
	response_code,
	response_body,
	next_retry_at,
	delivered_at,
	claim_id,
	claim_expires_at,
	created_at,
	updated_at`

type WebhookDeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookDeliveryRecord]
}

func NewWebhookDeliveryStore(db *bun.DB) (*WebhookDeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookDeliveryRecord](db, webhookDeliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook delivery repository wiring: %w", err)
		}
	}
	return &WebhookDeliveryStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *WebhookDeliveryStore) Enqueue(ctx context.Context, in core.EnqueueDeliveryInput) (core.WebhookDelivery, error) {
	if s == nil || s.repo == nil {
		return core.WebhookDelivery{}, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	record, err := newDeliveryRecord(in, time.Now().UTC())
	if err != nil {
		return core.WebhookDelivery{}, err
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.WebhookDelivery{}, err
	}
	return created.toDomain(), nil
}

// EnqueueBatch inserts every delivery in one transaction, so a failed insert
// leaves none of them behind.
func (s *WebhookDeliveryStore) EnqueueBatch(ctx context.Context, inputs []core.EnqueueDeliveryInput) ([]core.WebhookDelivery, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	now := time.Now().UTC()
	records := make([]*webhookDeliveryRecord, 0, len(inputs))
	for _, in := range inputs {
		record, err := newDeliveryRecord(in, now)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	out := make([]core.WebhookDelivery, 0, len(records))
	if len(records) == 0 {
		return out, nil
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, record := range records {
			created, err := s.repo.CreateTx(ctx, tx, record)
			if err != nil {
				return fmt.Errorf("sqlstore: enqueue delivery for webhook %q: %w", record.WebhookID, err)
			}
			out = append(out, created.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func newDeliveryRecord(in core.EnqueueDeliveryInput, now time.Time) (*webhookDeliveryRecord, error) {
	webhookID := strings.TrimSpace(in.WebhookID)
	eventType := strings.TrimSpace(in.EventType)
	if webhookID == "" || eventType == "" {
		return nil, fmt.Errorf("sqlstore: webhook id and event type are required")
	}
	return &webhookDeliveryRecord{
		ID:           uuid.NewString(),
		WebhookID:    webhookID,
		EventType:    eventType,
		Payload:      string(in.Payload),
		Status:       string(core.DeliveryStatusPending),
		AttemptCount: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *WebhookDeliveryStore) Get(ctx context.Context, id string) (core.WebhookDelivery, error) {
	if s == nil || s.db == nil {
		return core.WebhookDelivery{}, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	record, err := s.find(ctx, s.db, id)
	if err != nil {
		return core.WebhookDelivery{}, err
	}
	return record.toDomain(), nil
}

func (s *WebhookDeliveryStore) find(ctx context.Context, db bun.IDB, id string) (*webhookDeliveryRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("sqlstore: delivery id is required")
	}
	record := &webhookDeliveryRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %q", core.ErrWebhookDeliveryNotFound, id)
		}
		return nil, err
	}
	return record, nil
}

// List returns deliveries newest first.
func (s *WebhookDeliveryStore) List(ctx context.Context, filter core.DeliveryFilter) (core.DeliveryPage, error) {
	if s == nil || s.db == nil {
		return core.DeliveryPage{}, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	filter = core.NormalizeDeliveryFilter(filter)
	var records []webhookDeliveryRecord
	query := s.db.NewSelect().Model(&records)
	if filter.WebhookID != "" {
		query = query.Where("?TableAlias.webhook_id = ?", filter.WebhookID)
	}
	if filter.Status != "" {
		query = query.Where("?TableAlias.status = ?", string(filter.Status))
	}
	total, err := query.
		OrderExpr("?TableAlias.created_at DESC, ?TableAlias.id DESC").
		Limit(filter.PerPage).
		Offset((filter.Page - 1) * filter.PerPage).
		ScanAndCount(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return core.DeliveryPage{}, err
	}
	items := make([]core.WebhookDelivery, 0, len(records))
	for i := range records {
		items = append(items, records[i].toDomain())
	}
	return core.DeliveryPage{
		Items:   items,
		Total:   total,
		Page:    filter.Page,
		PerPage: filter.PerPage,
	}, nil
}

func (s *WebhookDeliveryStore) ExpireExhausted(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	now = now.UTC()
	result, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", string(core.DeliveryStatusFailed)).
		Set("next_retry_at = NULL").
		Set("claim_id = NULL").
		Set("claim_expires_at = NULL").
		Set("updated_at = ?", now).
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.
				Where("?TableAlias.status IN (?)", bun.In([]string{
					string(core.DeliveryStatusPending),
					string(core.DeliveryStatusRetrying),
				})).
				WhereOr("?TableAlias.status = ? AND (?TableAlias.claim_expires_at IS NULL OR ?TableAlias.claim_expires_at <= ?)",
					string(core.DeliveryStatusInProgress), now)
		}).
		Where("?TableAlias.attempt_count >= (SELECT w.retry_count FROM webhooks AS w WHERE w.id = ?TableAlias.webhook_id)").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// ClaimBatch moves up to limit due deliveries to in_progress under a fresh
// claim id. A delivery is due when it is pending or retrying with next_retry_at
// unset or in the past, or when a previous claim lease has lapsed. The status
// guard on the UPDATE keeps concurrent claimers from taking the same row.
func (s *WebhookDeliveryStore) ClaimBatch(
	ctx context.Context,
	limit int,
	now time.Time,
	lease time.Duration,
) ([]core.WebhookDelivery, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	if lease <= 0 {
		lease = time.Minute
	}
	now = now.UTC()
	claimID := uuid.NewString()
	expiresAt := now.Add(lease)

	var records []webhookDeliveryRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT d.id
	FROM webhook_deliveries AS d
	JOIN webhooks AS w ON w.id = d.webhook_id
	WHERE w.active = ?
	  AND d.attempt_count < w.retry_count
	  AND (
		(d.status IN (?, ?) AND (d.next_retry_at IS NULL OR d.next_retry_at <= ?))
		OR (d.status = ? AND (d.claim_expires_at IS NULL OR d.claim_expires_at <= ?))
	  )
	ORDER BY d.created_at ASC, d.id ASC
	LIMIT ?
)
UPDATE webhook_deliveries
SET status = ?, claim_id = ?, claim_expires_at = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND (
	status IN (?, ?)
	OR (status = ? AND (claim_expires_at IS NULL OR claim_expires_at <= ?))
  )
RETURNING` + webhookDeliveryColumns + `
`
		return tx.NewRaw(
			query,
			true,
			string(core.DeliveryStatusPending),
			string(core.DeliveryStatusRetrying),
			now,
			string(core.DeliveryStatusInProgress),
			now,
			limit,
			string(core.DeliveryStatusInProgress),
			claimID,
			expiresAt,
			now,
			string(core.DeliveryStatusPending),
			string(core.DeliveryStatusRetrying),
			string(core.DeliveryStatusInProgress),
			now,
		).Scan(ctx, &records)
	})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	out := make([]core.WebhookDelivery, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

// RenewClaim extends the lease of a claim that is still held. A lapsed lease
// can be renewed as long as no other claimer has taken the row.
func (s *WebhookDeliveryStore) RenewClaim(ctx context.Context, deliveryID string, claimID string, until time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	id := strings.TrimSpace(deliveryID)
	claimID = strings.TrimSpace(claimID)
	if id == "" || claimID == "" {
		return fmt.Errorf("sqlstore: delivery id and claim id are required")
	}
	result, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("claim_expires_at = ?", until.UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.status = ?", string(core.DeliveryStatusInProgress)).
		Where("?TableAlias.claim_id = ?", claimID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %q", core.ErrDeliveryClaimLost, id)
	}
	return nil
}

// Resolve writes the attempt outcome only while the row is still in_progress
// under the caller's claim.
func (s *WebhookDeliveryStore) Resolve(ctx context.Context, transition core.DeliveryTransition) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	id := strings.TrimSpace(transition.DeliveryID)
	claimID := strings.TrimSpace(transition.ClaimID)
	if id == "" || claimID == "" {
		return fmt.Errorf("sqlstore: delivery id and claim id are required")
	}
	switch transition.Status {
	case core.DeliveryStatusSuccess, core.DeliveryStatusFailed, core.DeliveryStatusRetrying:
	default:
		return fmt.Errorf("%w: cannot resolve to %q", core.ErrInvalidDeliveryStatus, transition.Status)
	}

	result, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", string(transition.Status)).
		Set("attempt_count = ?", transition.AttemptCount).
		Set("response_code = ?", transition.ResponseCode).
		Set("response_body = ?", transition.ResponseBody).
		Set("next_retry_at = ?", utcPointer(transition.NextRetryAt)).
		Set("delivered_at = ?", utcPointer(transition.DeliveredAt)).
		Set("claim_id = NULL").
		Set("claim_expires_at = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.status = ?", string(core.DeliveryStatusInProgress)).
		Where("?TableAlias.claim_id = ?", claimID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.find(ctx, s.db, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: id %q", core.ErrDeliveryClaimLost, id)
}

// Requeue moves a failed delivery back to pending. The attempt count is kept.
func (s *WebhookDeliveryStore) Requeue(ctx context.Context, id string, now time.Time) (core.WebhookDelivery, error) {
	if s == nil || s.db == nil {
		return core.WebhookDelivery{}, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	id = strings.TrimSpace(id)
	var requeued *webhookDeliveryRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewUpdate().
			Model((*webhookDeliveryRecord)(nil)).
			Set("status = ?", string(core.DeliveryStatusPending)).
			Set("next_retry_at = NULL").
			Set("updated_at = ?", now.UTC()).
			Where("?TableAlias.id = ?", id).
			Where("?TableAlias.status = ?", string(core.DeliveryStatusFailed)).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		record, err := s.find(ctx, tx, id)
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: id %q status %q", core.ErrDeliveryNotRedeliverable, id, record.Status)
		}
		requeued = record
		return nil
	})
	if err != nil {
		return core.WebhookDelivery{}, err
	}
	return requeued.toDomain(), nil
}
