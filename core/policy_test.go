package core

import (
	"context"
	"testing"
)

func TestRolePolicy_DefaultGrants(t *testing.T) {
	policy := DefaultRolePolicy()
	ctx := context.Background()
	agencyRecord := Resource{Kind: ResourceReconciliation, ID: "rec_1", AgencyID: "agency_a"}
	globalRecord := Resource{Kind: ResourceReconciliation, ID: "rec_2"}
	deliveries := Resource{Kind: ResourceWebhookDelivery}

	cases := []struct {
		name     string
		actor    Actor
		action   Action
		resource Resource
		allowed  bool
	}{
		{"super admin calculates any record", Actor{ID: "u1", Role: RoleSuperAdmin}, ActionReconciliationCalculate, globalRecord, true},
		{"super admin redelivers", Actor{ID: "u1", Role: "SUPER_ADMIN"}, ActionWebhooksRedeliver, deliveries, true},
		{"agency admin calculates own agency", Actor{ID: "u2", Role: RoleAgencyAdmin, AgencyID: "agency_a"}, ActionReconciliationCalculate, agencyRecord, true},
		{"agency admin denied other agency", Actor{ID: "u3", Role: RoleAgencyAdmin, AgencyID: "agency_b"}, ActionReconciliationCalculate, agencyRecord, false},
		{"agency admin denied unscoped record", Actor{ID: "u2", Role: RoleAgencyAdmin, AgencyID: "agency_a"}, ActionReconciliationRead, globalRecord, false},
		{"agency admin cannot process webhooks", Actor{ID: "u2", Role: RoleAgencyAdmin, AgencyID: "agency_a"}, ActionWebhooksProcess, deliveries, false},
		{"auditor reads records", Actor{ID: "u4", Role: RoleAuditor}, ActionReconciliationRead, globalRecord, true},
		{"auditor cannot calculate", Actor{ID: "u4", Role: RoleAuditor}, ActionReconciliationCalculate, globalRecord, false},
		{"system processes webhooks", Actor{ID: "scheduler", Role: RoleSystem}, ActionWebhooksProcess, deliveries, true},
		{"system cannot redeliver", Actor{ID: "scheduler", Role: RoleSystem}, ActionWebhooksRedeliver, deliveries, false},
		{"anonymous denied", Actor{}, ActionReconciliationRead, globalRecord, false},
		{"unknown role denied", Actor{ID: "u5", Role: "viewer"}, ActionReconciliationRead, globalRecord, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := policy.Can(ctx, tc.actor, tc.action, tc.resource); got != tc.allowed {
				t.Fatalf("expected allowed=%v, got %v", tc.allowed, got)
			}
		})
	}
}

func TestRolePolicy_CustomGrant(t *testing.T) {
	policy := NewRolePolicy().Grant("operator", RoleGrant{Actions: []Action{ActionWebhooksRedeliver}})
	if !policy.Can(context.Background(), Actor{ID: "ops", Role: "operator"}, ActionWebhooksRedeliver, Resource{}) {
		t.Fatalf("expected custom grant to allow redeliver")
	}
	if policy.Can(context.Background(), Actor{ID: "ops", Role: "operator"}, ActionWebhooksProcess, Resource{}) {
		t.Fatalf("expected ungranted action to be denied")
	}
}

func TestService_AuthorizeReturnsPermissionError(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	err = svc.Authorize(context.Background(), Actor{ID: "u4", Role: RoleAuditor}, ActionWebhooksProcess, Resource{Kind: ResourceWebhooks})
	if !HasTextCode(err, ErrorPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if HTTPStatus(err) != 403 {
		t.Fatalf("expected 403, got %d", HTTPStatus(err))
	}

	svc, err = NewService(Config{}, WithPolicy(PolicyFunc(func(context.Context, Actor, Action, Resource) bool { return true })))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Authorize(context.Background(), Actor{}, ActionWebhooksProcess, Resource{}); err != nil {
		t.Fatalf("expected custom policy to allow, got %v", err)
	}
}
