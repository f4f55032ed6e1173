package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/goliatone/go-mantis/core"
	mantismigrations "github.com/goliatone/go-mantis/migrations"
	"github.com/goliatone/go-mantis/security"
	sqlstore "github.com/goliatone/go-mantis/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "mantis-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"webhook_deliveries",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "webhook_deliveries" {
		t.Fatalf("expected webhook_deliveries table, got %q", tableName)
	}
}

func TestReconciliationStore_ApplyTotalsOverwrites(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.ReconciliationStore()

	record, err := store.Create(ctx, core.CreateReconciliationInput{Date: "2024-05-14", AgencyID: "agency_a"})
	if err != nil {
		t.Fatalf("create reconciliation: %v", err)
	}
	if record.Status != core.ReconciliationStatusOpen || !record.NetAmount.IsZero() {
		t.Fatalf("unexpected new record: %+v", record)
	}

	first := core.ReconciliationTotals{
		TotalPayments: decimal.RequireFromString("60.00"),
		TotalRefunds:  decimal.RequireFromString("5.00"),
		NetAmount:     decimal.RequireFromString("55.00"),
		PaymentCount:  3,
		RefundCount:   1,
	}
	if err := store.ApplyTotals(ctx, record.ID, first, time.Now()); err != nil {
		t.Fatalf("apply first totals: %v", err)
	}
	second := core.ReconciliationTotals{
		TotalPayments: decimal.RequireFromString("12.34"),
		TotalRefunds:  decimal.Zero,
		NetAmount:     decimal.RequireFromString("12.34"),
		PaymentCount:  1,
	}
	if err := store.ApplyTotals(ctx, record.ID, second, time.Now()); err != nil {
		t.Fatalf("apply second totals: %v", err)
	}

	stored, err := store.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("get reconciliation: %v", err)
	}
	if !stored.TotalPayments.Equal(second.TotalPayments) || !stored.NetAmount.Equal(second.NetAmount) {
		t.Fatalf("expected second totals to replace first, got %+v", stored)
	}
	if stored.PaymentCount != 1 || stored.RefundCount != 0 || !stored.TotalRefunds.IsZero() {
		t.Fatalf("expected counts overwritten, got %+v", stored)
	}
	if stored.Status != core.ReconciliationStatusCalculated {
		t.Fatalf("expected calculated status, got %q", stored.Status)
	}

	err = store.ApplyTotals(ctx, "00000000-0000-0000-0000-000000000000", first, time.Now())
	if !errors.Is(err, core.ErrReconciliationNotFound) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrReconciliationNotFound) {
		t.Fatalf("expected not found on get, got %v", err)
	}
}

func TestPaymentLedgerStore_WindowAndAgencyScope(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	ledger := factory.PaymentLedgerStore()

	day := time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC)
	infringementA := recordInfringement(t, ledger, "agency_a", "INF-A")
	infringementB := recordInfringement(t, ledger, "agency_b", "INF-B")

	p1 := recordPayment(t, ledger, infringementA.ID, "10.00", core.PaymentStatusCompleted, day.Add(8*time.Hour))
	p2 := recordPayment(t, ledger, infringementA.ID, "20.00", core.PaymentStatusCompleted, day.Add(12*time.Hour))
	recordPayment(t, ledger, infringementA.ID, "30.00", core.PaymentStatusCompleted, day.Add(24*time.Hour-time.Millisecond))
	recordPayment(t, ledger, infringementA.ID, "99.00", core.PaymentStatusPending, day.Add(9*time.Hour))
	recordPayment(t, ledger, infringementA.ID, "7.00", core.PaymentStatusCompleted, day.Add(24*time.Hour))
	pb := recordPayment(t, ledger, infringementB.ID, "50.00", core.PaymentStatusCompleted, day.Add(10*time.Hour))

	recordRefund(t, ledger, p2.ID, "5.00", core.RefundStatusCompleted, day.Add(15*time.Hour))
	recordRefund(t, ledger, p1.ID, "1.00", core.RefundStatusRejected, day.Add(15*time.Hour))
	recordRefund(t, ledger, pb.ID, "4.00", core.RefundStatusCompleted, day.Add(16*time.Hour))

	window := core.LedgerWindow{Start: day, End: day.AddDate(0, 0, 1), AgencyID: "agency_a"}
	payments, err := ledger.CompletedPayments(ctx, window)
	if err != nil {
		t.Fatalf("completed payments: %v", err)
	}
	refunds, err := ledger.CompletedRefunds(ctx, window)
	if err != nil {
		t.Fatalf("completed refunds: %v", err)
	}
	totals := core.SumTotals(payments, refunds)
	if !totals.TotalPayments.Equal(decimal.NewFromInt(60)) || totals.PaymentCount != 3 {
		t.Fatalf("unexpected scoped payments: %+v", totals)
	}
	if !totals.TotalRefunds.Equal(decimal.NewFromInt(5)) || totals.RefundCount != 1 {
		t.Fatalf("unexpected scoped refunds: %+v", totals)
	}
	if !totals.NetAmount.Equal(decimal.NewFromInt(55)) {
		t.Fatalf("unexpected net amount: %s", totals.NetAmount)
	}

	window.AgencyID = ""
	payments, err = ledger.CompletedPayments(ctx, window)
	if err != nil {
		t.Fatalf("unscoped payments: %v", err)
	}
	refunds, err = ledger.CompletedRefunds(ctx, window)
	if err != nil {
		t.Fatalf("unscoped refunds: %v", err)
	}
	totals = core.SumTotals(payments, refunds)
	if totals.PaymentCount != 4 || totals.RefundCount != 2 {
		t.Fatalf("expected all agencies when unscoped, got %+v", totals)
	}
}

func TestReconciliationCalculator_PersistsAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	ledger := factory.PaymentLedgerStore()

	day := time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC)
	infringement := recordInfringement(t, ledger, "agency_a", "INF-CALC")
	recordPayment(t, ledger, infringement.ID, "10.00", core.PaymentStatusCompleted, day.Add(time.Hour))
	p2 := recordPayment(t, ledger, infringement.ID, "20.00", core.PaymentStatusCompleted, day.Add(2*time.Hour))
	recordPayment(t, ledger, infringement.ID, "30.00", core.PaymentStatusCompleted, day.Add(3*time.Hour))
	recordRefund(t, ledger, p2.ID, "5.00", core.RefundStatusCompleted, day.Add(4*time.Hour))

	record, err := factory.ReconciliationStore().Create(ctx, core.CreateReconciliationInput{Date: "2024-05-14", AgencyID: "agency_a"})
	if err != nil {
		t.Fatalf("create reconciliation: %v", err)
	}
	calculator, err := core.NewReconciliationCalculator(factory.ReconciliationStore(), factory.PaymentLedger(), core.ReconciliationConfig{})
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	for i := 0; i < 2; i++ {
		totals, err := calculator.Calculate(ctx, record.ID)
		if err != nil {
			t.Fatalf("calculate %d: %v", i, err)
		}
		if !totals.NetAmount.Equal(decimal.NewFromInt(55)) || totals.PaymentCount != 3 || totals.RefundCount != 1 {
			t.Fatalf("unexpected totals on run %d: %+v", i, totals)
		}
	}
	stored, err := factory.ReconciliationStore().Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("get reconciliation: %v", err)
	}
	if !stored.TotalPayments.Equal(decimal.NewFromInt(60)) || !stored.TotalRefunds.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected persisted totals, got %+v", stored)
	}
}

func TestWebhookDeliveryStore_ClaimBatchOrdersAndBounds(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	webhook := createWebhook(t, factory, 3, true)
	deliveries := factory.WebhookDeliveryStore()

	var ids []string
	for i := 0; i < 12; i++ {
		delivery, err := deliveries.Enqueue(ctx, core.EnqueueDeliveryInput{
			WebhookID: webhook.ID,
			EventType: "payment.completed",
			Payload:   []byte(fmt.Sprintf(`{"seq":%d}`, i)),
		})
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		ids = append(ids, delivery.ID)
		time.Sleep(time.Millisecond)
	}

	now := time.Now().UTC()
	claimed, err := deliveries.ClaimBatch(ctx, 10, now, time.Minute)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(claimed) != 10 {
		t.Fatalf("expected 10 claimed deliveries, got %d", len(claimed))
	}
	for i, delivery := range claimed {
		if delivery.ID != ids[i] {
			t.Fatalf("expected FIFO order at %d: want %s got %s", i, ids[i], delivery.ID)
		}
		if delivery.Status != core.DeliveryStatusInProgress || delivery.ClaimID == "" || delivery.ClaimExpiresAt == nil {
			t.Fatalf("expected claimed delivery, got %+v", delivery)
		}
	}

	again, err := deliveries.ClaimBatch(ctx, 10, now, time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 2 {
		t.Fatalf("expected remaining 2 deliveries, got %d", len(again))
	}

	afterLease, err := deliveries.ClaimBatch(ctx, 20, now.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("claim after lease: %v", err)
	}
	if len(afterLease) != 12 {
		t.Fatalf("expected lapsed claims to be reclaimable, got %d", len(afterLease))
	}
}

func TestWebhookDeliveryStore_ClaimSkipsInactiveExhaustedAndFuture(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	active := createWebhook(t, factory, 3, true)
	inactive := createWebhook(t, factory, 3, false)
	deliveries := factory.WebhookDeliveryStore()
	now := time.Now().UTC()

	due := enqueue(t, deliveries, active.ID)
	enqueue(t, deliveries, inactive.ID)

	future := enqueue(t, deliveries, active.ID)
	resolveAs(t, deliveries, future.ID, now, core.DeliveryTransition{
		Status:       core.DeliveryStatusRetrying,
		AttemptCount: 1,
		NextRetryAt:  timePtr(now.Add(time.Hour)),
	})

	exhausted := enqueue(t, deliveries, active.ID)
	resolveAs(t, deliveries, exhausted.ID, now, core.DeliveryTransition{
		Status:       core.DeliveryStatusRetrying,
		AttemptCount: 3,
		NextRetryAt:  timePtr(now.Add(-time.Minute)),
	})

	claimed, err := deliveries.ClaimBatch(ctx, 10, now, time.Minute)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != due.ID {
		t.Fatalf("expected only the due delivery, got %+v", claimed)
	}

	expired, err := deliveries.ExpireExhausted(ctx, now)
	if err != nil {
		t.Fatalf("expire exhausted: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected one exhausted delivery, got %d", expired)
	}
	stored, err := deliveries.Get(ctx, exhausted.ID)
	if err != nil {
		t.Fatalf("get exhausted: %v", err)
	}
	if stored.Status != core.DeliveryStatusFailed || stored.NextRetryAt != nil {
		t.Fatalf("expected exhausted delivery failed, got %+v", stored)
	}
}

func TestWebhookDeliveryStore_EnqueueBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	webhook := createWebhook(t, factory, 3, true)
	deliveries := factory.WebhookDeliveryStore()

	_, err := deliveries.EnqueueBatch(ctx, []core.EnqueueDeliveryInput{
		{WebhookID: webhook.ID, EventType: "payment.completed", Payload: []byte(`{"id":"p1"}`)},
		{WebhookID: "missing-webhook", EventType: "payment.completed", Payload: []byte(`{"id":"p1"}`)},
	})
	if err == nil {
		t.Fatalf("expected foreign key failure on the second delivery")
	}
	page, err := deliveries.List(ctx, core.DeliveryFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("expected rolled back batch, found %d deliveries", page.Total)
	}

	created, err := deliveries.EnqueueBatch(ctx, []core.EnqueueDeliveryInput{
		{WebhookID: webhook.ID, EventType: "payment.completed", Payload: []byte(`{"id":"p1"}`)},
		{WebhookID: webhook.ID, EventType: "refund.completed", Payload: []byte(`{"id":"r1"}`)},
	})
	if err != nil {
		t.Fatalf("enqueue batch: %v", err)
	}
	if len(created) != 2 || created[0].Status != core.DeliveryStatusPending || created[1].EventType != "refund.completed" {
		t.Fatalf("unexpected batch result: %+v", created)
	}
	empty, err := deliveries.EnqueueBatch(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty batch to be a no-op, got %v (%d)", err, len(empty))
	}
}

func TestWebhookDeliveryStore_RenewClaimBlocksReclaim(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	webhook := createWebhook(t, factory, 3, true)
	deliveries := factory.WebhookDeliveryStore()
	delivery := enqueue(t, deliveries, webhook.ID)
	now := time.Now().UTC()

	claimed, err := deliveries.ClaimBatch(ctx, 1, now, time.Second)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}
	if err := deliveries.RenewClaim(ctx, delivery.ID, claimed[0].ClaimID, now.Add(time.Minute)); err != nil {
		t.Fatalf("renew: %v", err)
	}

	again, err := deliveries.ClaimBatch(ctx, 1, now.Add(2*time.Second), time.Second)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected renewed lease to block a second claimer, got %d", len(again))
	}

	reclaimed, err := deliveries.ClaimBatch(ctx, 1, now.Add(2*time.Minute), time.Second)
	if err != nil || len(reclaimed) != 1 {
		t.Fatalf("reclaim after lease: %v (%d)", err, len(reclaimed))
	}
	err = deliveries.RenewClaim(ctx, delivery.ID, claimed[0].ClaimID, now.Add(3*time.Minute))
	if !errors.Is(err, core.ErrDeliveryClaimLost) {
		t.Fatalf("expected stale claim to be refused, got %v", err)
	}
}

func TestWebhookDeliveryStore_ResolveRequiresClaim(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	webhook := createWebhook(t, factory, 3, true)
	deliveries := factory.WebhookDeliveryStore()
	delivery := enqueue(t, deliveries, webhook.ID)
	now := time.Now().UTC()

	claimed, err := deliveries.ClaimBatch(ctx, 1, now, time.Minute)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}

	err = deliveries.Resolve(ctx, core.DeliveryTransition{
		DeliveryID:   delivery.ID,
		ClaimID:      "someone-else",
		Status:       core.DeliveryStatusSuccess,
		AttemptCount: 1,
	})
	if !errors.Is(err, core.ErrDeliveryClaimLost) {
		t.Fatalf("expected claim lost, got %v", err)
	}

	code := 200
	err = deliveries.Resolve(ctx, core.DeliveryTransition{
		DeliveryID:   delivery.ID,
		ClaimID:      claimed[0].ClaimID,
		Status:       core.DeliveryStatusSuccess,
		AttemptCount: 1,
		ResponseCode: &code,
		ResponseBody: "ok",
		DeliveredAt:  timePtr(now),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	stored, err := deliveries.Get(ctx, delivery.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != core.DeliveryStatusSuccess || stored.AttemptCount != 1 || stored.DeliveredAt == nil {
		t.Fatalf("unexpected resolved delivery: %+v", stored)
	}
	if stored.ResponseCode == nil || *stored.ResponseCode != 200 || stored.ClaimID != "" {
		t.Fatalf("expected response code and released claim, got %+v", stored)
	}

	err = deliveries.Resolve(ctx, core.DeliveryTransition{
		DeliveryID:   delivery.ID,
		ClaimID:      claimed[0].ClaimID,
		Status:       core.DeliveryStatusFailed,
		AttemptCount: 2,
	})
	if !errors.Is(err, core.ErrDeliveryClaimLost) {
		t.Fatalf("expected terminal delivery to refuse a second resolve, got %v", err)
	}

	err = deliveries.Resolve(ctx, core.DeliveryTransition{DeliveryID: "missing", ClaimID: "c", Status: core.DeliveryStatusFailed})
	if !errors.Is(err, core.ErrWebhookDeliveryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWebhookDeliveryStore_RequeueAndList(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	webhook := createWebhook(t, factory, 3, true)
	deliveries := factory.WebhookDeliveryStore()
	now := time.Now().UTC()

	failed := enqueue(t, deliveries, webhook.ID)
	resolveAs(t, deliveries, failed.ID, now, core.DeliveryTransition{
		Status:       core.DeliveryStatusFailed,
		AttemptCount: 2,
	})
	pending := enqueue(t, deliveries, webhook.ID)

	if _, err := deliveries.Requeue(ctx, pending.ID, now); !errors.Is(err, core.ErrDeliveryNotRedeliverable) {
		t.Fatalf("expected pending delivery to be refused, got %v", err)
	}
	requeued, err := deliveries.Requeue(ctx, failed.ID, now)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued.Status != core.DeliveryStatusPending || requeued.AttemptCount != 2 {
		t.Fatalf("expected pending with attempts kept, got %+v", requeued)
	}

	page, err := deliveries.List(ctx, core.DeliveryFilter{WebhookID: webhook.ID, PerPage: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 1 || page.Page != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Items[0].ID != pending.ID {
		t.Fatalf("expected newest delivery first, got %s", page.Items[0].ID)
	}

	page, err = deliveries.List(ctx, core.DeliveryFilter{Status: core.DeliveryStatusSuccess})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if page.Total != 0 || len(page.Items) != 0 {
		t.Fatalf("expected empty page, got %+v", page)
	}
}

func TestCachedWebhookSubscriptionStore_ServesRepeatReadsFromCache(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithSubscriptionCache(cacheService))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.WebhookSubscriptionStore()
	if _, ok := store.(*sqlstore.CachedWebhookSubscriptionStore); !ok {
		t.Fatalf("expected cached subscription store, got %T", store)
	}

	created, err := store.Create(ctx, core.CreateWebhookInput{
		URL:        "https://hooks.example.test/mantis",
		Secret:     "s3cret",
		Events:     []string{"payment.completed"},
		RetryCount: 3,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	first, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}

	if _, err := client.DB().NewRaw("UPDATE webhooks SET url = ? WHERE id = ?", "https://changed.example.test", created.ID).Exec(ctx); err != nil {
		t.Fatalf("update webhook: %v", err)
	}
	cached, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if cached.URL != first.URL {
		t.Fatalf("expected cached url %q, got %q", first.URL, cached.URL)
	}

	if err := store.(*sqlstore.CachedWebhookSubscriptionStore).Invalidate(ctx, created.ID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	fresh, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("fresh get: %v", err)
	}
	if fresh.URL != "https://changed.example.test" {
		t.Fatalf("expected invalidated read to hit the database, got %q", fresh.URL)
	}
}

func TestWebhookSubscriptionStore_ListActive(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	active := createWebhook(t, factory, 3, true)
	createWebhook(t, factory, 3, false)

	subscriptions, err := factory.WebhookSubscriptionStore().ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(subscriptions) != 1 || subscriptions[0].ID != active.ID {
		t.Fatalf("expected only the active subscription, got %+v", subscriptions)
	}
	if subscriptions[0].Headers["X-Tenant"] != "mantis" || len(subscriptions[0].Events) != 1 {
		t.Fatalf("expected json columns round-tripped, got %+v", subscriptions[0])
	}
	if _, err := factory.WebhookSubscriptionStore().Get(ctx, "missing"); !errors.Is(err, core.ErrWebhookNotFound) {
		t.Fatalf("expected webhook not found, got %v", err)
	}
}

func TestWebhookSubscriptionStore_SealsSecretsAtRest(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)
	secrets, err := security.NewAppKeySecretProviderFromString("test-app-key")
	if err != nil {
		t.Fatalf("new secret provider: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithSecretProvider(secrets))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}

	created := createWebhook(t, factory, 3, true)
	if created.Secret != "s3cret" {
		t.Fatalf("expected create to return the plain secret, got %q", created.Secret)
	}

	var stored string
	if err := client.DB().NewRaw("SELECT secret FROM webhooks WHERE id = ?", created.ID).Scan(ctx, &stored); err != nil {
		t.Fatalf("read raw secret: %v", err)
	}
	if stored == "s3cret" || !security.IsSealed([]byte(stored)) {
		t.Fatalf("expected sealed secret column, got %q", stored)
	}

	loaded, err := factory.WebhookSubscriptionStore().Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get webhook: %v", err)
	}
	if loaded.Secret != "s3cret" {
		t.Fatalf("expected opened secret, got %q", loaded.Secret)
	}

	if _, err := client.DB().NewRaw("UPDATE webhooks SET secret = ? WHERE id = ?", "platform-plain", created.ID).Exec(ctx); err != nil {
		t.Fatalf("write plain secret: %v", err)
	}
	active, err := factory.WebhookSubscriptionStore().ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].Secret != "platform-plain" {
		t.Fatalf("expected plain rows to pass through, got %+v", active)
	}
}

func newFactory(t *testing.T) *sqlstore.RepositoryFactory {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return factory
}

func createWebhook(t *testing.T, factory *sqlstore.RepositoryFactory, retryCount int, active bool) core.WebhookSubscription {
	t.Helper()
	webhook, err := factory.WebhookSubscriptionStore().Create(context.Background(), core.CreateWebhookInput{
		Name:       "audit sink",
		URL:        "https://hooks.example.test/mantis",
		Secret:     "s3cret",
		Headers:    map[string]string{"X-Tenant": "mantis"},
		Events:     []string{"payment.completed"},
		RetryCount: retryCount,
		Active:     active,
	})
	if err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	return webhook
}

func enqueue(t *testing.T, store core.WebhookDeliveryStore, webhookID string) core.WebhookDelivery {
	t.Helper()
	delivery, err := store.Enqueue(context.Background(), core.EnqueueDeliveryInput{
		WebhookID: webhookID,
		EventType: "payment.completed",
		Payload:   []byte(`{"payment_id":"p1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	time.Sleep(time.Millisecond)
	return delivery
}

// resolveAs drives a single delivery into a target state through a real claim.
func resolveAs(t *testing.T, store core.WebhookDeliveryStore, id string, now time.Time, transition core.DeliveryTransition) {
	t.Helper()
	ctx := context.Background()
	var claimID string
	for attempt := 0; attempt < 50 && claimID == ""; attempt++ {
		claimed, err := store.ClaimBatch(ctx, 50, now, time.Minute)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		for _, delivery := range claimed {
			if delivery.ID == id {
				claimID = delivery.ClaimID
				continue
			}
			release(t, store, delivery)
		}
	}
	if claimID == "" {
		t.Fatalf("delivery %s was never claimable", id)
	}
	transition.DeliveryID = id
	transition.ClaimID = claimID
	if err := store.Resolve(ctx, transition); err != nil {
		t.Fatalf("resolve %s: %v", id, err)
	}
}

func release(t *testing.T, store core.WebhookDeliveryStore, delivery core.WebhookDelivery) {
	t.Helper()
	if err := store.Resolve(context.Background(), core.DeliveryTransition{
		DeliveryID:   delivery.ID,
		ClaimID:      delivery.ClaimID,
		Status:       core.DeliveryStatusRetrying,
		AttemptCount: delivery.AttemptCount,
		NextRetryAt:  delivery.NextRetryAt,
	}); err != nil {
		t.Fatalf("release %s: %v", delivery.ID, err)
	}
}

func recordInfringement(t *testing.T, ledger *sqlstore.PaymentLedgerStore, agencyID string, reference string) core.Infringement {
	t.Helper()
	infringement, err := ledger.RecordInfringement(context.Background(), core.Infringement{
		AgencyID:  agencyID,
		Reference: reference,
		Amount:    decimal.RequireFromString("100.00"),
	})
	if err != nil {
		t.Fatalf("record infringement: %v", err)
	}
	return infringement
}

func recordPayment(t *testing.T, ledger *sqlstore.PaymentLedgerStore, infringementID string, amount string, status string, paidAt time.Time) core.Payment {
	t.Helper()
	payment, err := ledger.RecordPayment(context.Background(), core.Payment{
		InfringementID: infringementID,
		Amount:         decimal.RequireFromString(amount),
		Method:         "card",
		Status:         status,
		PaidAt:         &paidAt,
	})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	return payment
}

func recordRefund(t *testing.T, ledger *sqlstore.PaymentLedgerStore, paymentID string, amount string, status string, processedAt time.Time) core.Refund {
	t.Helper()
	refund, err := ledger.RecordRefund(context.Background(), core.Refund{
		PaymentID:   paymentID,
		Amount:      decimal.RequireFromString(amount),
		Status:      status,
		ProcessedAt: &processedAt,
	})
	if err != nil {
		t.Fatalf("record refund: %v", err)
	}
	return refund
}

func timePtr(value time.Time) *time.Time {
	return &value
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:mantis-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = mantismigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != mantismigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, mantismigrations.WithValidationTargets(mantismigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
