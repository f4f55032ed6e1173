package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-mantis/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const webhookSubscriptionCacheKeyPrefix = "mantis::webhook_subscription::v1"

// CachedWebhookSubscriptionStore serves subscription reads from a
// go-repository-cache service. Writes go to the base store and evict the key.
type CachedWebhookSubscriptionStore struct {
	base  core.WebhookSubscriptionStore
	cache repositorycache.CacheService
}

func NewCachedWebhookSubscriptionStore(
	base core.WebhookSubscriptionStore,
	cacheService repositorycache.CacheService,
) (*CachedWebhookSubscriptionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base webhook subscription store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: webhook subscription cache service is required")
	}
	return &CachedWebhookSubscriptionStore{base: base, cache: cacheService}, nil
}

// WebhookSubscriptionCacheKey returns mantis::webhook_subscription::v1::<id>
// with the id URL-path escaped.
func WebhookSubscriptionCacheKey(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("sqlstore: webhook id is required")
	}
	return webhookSubscriptionCacheKeyPrefix + "::" + url.PathEscape(id), nil
}

func (s *CachedWebhookSubscriptionStore) Get(ctx context.Context, id string) (core.WebhookSubscription, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: cached webhook subscription store is not configured")
	}
	cacheKey, err := WebhookSubscriptionCacheKey(id)
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	subscription, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.WebhookSubscription, error) {
		return s.base.Get(ctx, strings.TrimSpace(id))
	})
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	return cloneSubscription(subscription), nil
}

func (s *CachedWebhookSubscriptionStore) Create(ctx context.Context, in core.CreateWebhookInput) (core.WebhookSubscription, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: cached webhook subscription store is not configured")
	}
	created, err := s.base.Create(ctx, in)
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	if err := s.Invalidate(ctx, created.ID); err != nil {
		return core.WebhookSubscription{}, err
	}
	return created, nil
}

// ListActive is not cached; publishing needs the current subscriber set.
func (s *CachedWebhookSubscriptionStore) ListActive(ctx context.Context) ([]core.WebhookSubscription, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached webhook subscription store is not configured")
	}
	return s.base.ListActive(ctx)
}

func (s *CachedWebhookSubscriptionStore) Invalidate(ctx context.Context, id string) error {
	cacheKey, err := WebhookSubscriptionCacheKey(id)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneSubscription(subscription core.WebhookSubscription) core.WebhookSubscription {
	cloned := subscription
	cloned.Headers = copyStringMap(subscription.Headers)
	cloned.Events = append([]string(nil), subscription.Events...)
	return cloned
}
