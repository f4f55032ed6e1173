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

type WebhookSubscriptionStore struct {
	db      *bun.DB
	repo    repository.Repository[*webhookRecord]
	secrets core.SecretProvider
}

// NewWebhookSubscriptionStore builds the store; secrets may be nil, in which
// case signing secrets are stored as given.
func NewWebhookSubscriptionStore(db *bun.DB, secrets core.SecretProvider) (*WebhookSubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookRecord](db, webhookHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook repository wiring: %w", err)
		}
	}
	return &WebhookSubscriptionStore{db: db, repo: repo, secrets: secrets}, nil
}

func (s *WebhookSubscriptionStore) Create(ctx context.Context, in core.CreateWebhookInput) (core.WebhookSubscription, error) {
	if s == nil || s.repo == nil {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: webhook subscription store is not configured")
	}
	if err := in.Validate(); err != nil {
		return core.WebhookSubscription{}, err
	}
	plainSecret := in.Secret
	if s.secrets != nil {
		sealed, err := s.secrets.Encrypt(ctx, []byte(in.Secret))
		if err != nil {
			return core.WebhookSubscription{}, fmt.Errorf("sqlstore: seal webhook secret: %w", err)
		}
		in.Secret = string(sealed)
	}
	created, err := s.repo.Create(ctx, newWebhookRecord(uuid.NewString(), in, time.Now().UTC()))
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	subscription := created.toDomain()
	subscription.Secret = plainSecret
	return subscription, nil
}

func (s *WebhookSubscriptionStore) Get(ctx context.Context, id string) (core.WebhookSubscription, error) {
	if s == nil || s.db == nil {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: webhook subscription store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: webhook id is required")
	}
	record := &webhookRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WebhookSubscription{}, fmt.Errorf("%w: id %q", core.ErrWebhookNotFound, id)
		}
		return core.WebhookSubscription{}, err
	}
	return s.open(ctx, record)
}

func (s *WebhookSubscriptionStore) ListActive(ctx context.Context) ([]core.WebhookSubscription, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook subscription store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		selectActive,
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.WebhookSubscription, 0, len(records))
	for _, record := range records {
		subscription, err := s.open(ctx, record)
		if err != nil {
			return nil, err
		}
		out = append(out, subscription)
	}
	return out, nil
}

// selectActive binds the flag as a bool so each dialect stores its own
// representation (INTEGER 1 on sqlite, boolean on postgres).
func selectActive(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Where("?TableAlias.active = ?", true)
}

func (s *WebhookSubscriptionStore) open(ctx context.Context, record *webhookRecord) (core.WebhookSubscription, error) {
	subscription := record.toDomain()
	if s.secrets == nil || subscription.Secret == "" {
		return subscription, nil
	}
	secret, err := s.secrets.Decrypt(ctx, []byte(subscription.Secret))
	if err != nil {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: open secret of webhook %s: %w", record.ID, err)
	}
	subscription.Secret = string(secret)
	return subscription, nil
}

// SetActive toggles a subscription. Inactive subscriptions keep their
// deliveries but are skipped by the claim query.
func (s *WebhookSubscriptionStore) SetActive(ctx context.Context, id string, active bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook subscription store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*webhookRecord)(nil)).
		Set("active = ?", active).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: id %q", core.ErrWebhookNotFound, id)
	}
	return nil
}
