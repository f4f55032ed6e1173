package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-mantis/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db                *bun.DB
	subscriptionCache repositorycache.CacheService
	secrets           core.SecretProvider

	reconciliationStore *ReconciliationStore
	paymentLedgerStore  *PaymentLedgerStore
	subscriptionStore   *WebhookSubscriptionStore
	cachedSubscriptions *CachedWebhookSubscriptionStore
	deliveryStore       *WebhookDeliveryStore
}

type FactoryOption func(*RepositoryFactory)

// WithSubscriptionCache serves webhook subscription reads through cacheService.
func WithSubscriptionCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.subscriptionCache = cacheService
	}
}

// WithSecretProvider seals webhook signing secrets before they are stored.
func WithSecretProvider(provider core.SecretProvider) FactoryOption {
	return func(f *RepositoryFactory) {
		f.secrets = provider
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.reconciliationStore != nil && f.deliveryStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) ReconciliationStore() core.ReconciliationStore {
	if f == nil || f.reconciliationStore == nil {
		return nil
	}
	return f.reconciliationStore
}

func (f *RepositoryFactory) PaymentLedger() core.PaymentLedger {
	if f == nil || f.paymentLedgerStore == nil {
		return nil
	}
	return f.paymentLedgerStore
}

// PaymentLedgerStore exposes the concrete ledger for intake writes.
func (f *RepositoryFactory) PaymentLedgerStore() *PaymentLedgerStore {
	if f == nil {
		return nil
	}
	return f.paymentLedgerStore
}

func (f *RepositoryFactory) WebhookSubscriptionStore() core.WebhookSubscriptionStore {
	if f == nil {
		return nil
	}
	if f.cachedSubscriptions != nil {
		return f.cachedSubscriptions
	}
	if f.subscriptionStore == nil {
		return nil
	}
	return f.subscriptionStore
}

func (f *RepositoryFactory) WebhookDeliveryStore() core.WebhookDeliveryStore {
	if f == nil || f.deliveryStore == nil {
		return nil
	}
	return f.deliveryStore
}

func (f *RepositoryFactory) initStores() error {
	reconciliationStore, err := NewReconciliationStore(f.db)
	if err != nil {
		return err
	}
	f.reconciliationStore = reconciliationStore
	paymentLedgerStore, err := NewPaymentLedgerStore(f.db)
	if err != nil {
		return err
	}
	f.paymentLedgerStore = paymentLedgerStore
	subscriptionStore, err := NewWebhookSubscriptionStore(f.db, f.secrets)
	if err != nil {
		return err
	}
	f.subscriptionStore = subscriptionStore
	if f.subscriptionCache != nil {
		cached, err := NewCachedWebhookSubscriptionStore(subscriptionStore, f.subscriptionCache)
		if err != nil {
			return err
		}
		f.cachedSubscriptions = cached
	}
	deliveryStore, err := NewWebhookDeliveryStore(f.db)
	if err != nil {
		return err
	}
	f.deliveryStore = deliveryStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
