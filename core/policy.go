package core

import (
	"context"
	"strings"
)

type Action string

const (
	ActionReconciliationCalculate Action = "reconciliation.calculate"
	ActionReconciliationRead      Action = "reconciliation.read"
	ActionWebhooksProcess         Action = "webhooks.process"
	ActionWebhooksPublish         Action = "webhooks.publish"
	ActionWebhooksRedeliver       Action = "webhooks.redeliver"
	ActionWebhookDeliveriesRead   Action = "webhooks.deliveries.read"
)

const (
	RoleSuperAdmin  = "super_admin"
	RoleAgencyAdmin = "agency_admin"
	RoleAuditor     = "auditor"
	RoleSystem      = "system"
)

const (
	ResourceReconciliation  = "reconciliation"
	ResourceWebhookDelivery = "webhook_delivery"
	ResourceWebhooks        = "webhooks"
)

type Actor struct {
	ID       string
	Role     string
	AgencyID string
}

func (a Actor) Anonymous() bool {
	return strings.TrimSpace(a.ID) == "" && strings.TrimSpace(a.Role) == ""
}

type Resource struct {
	Kind     string
	ID       string
	AgencyID string
}

type PolicyEvaluator interface {
	Can(ctx context.Context, actor Actor, action Action, resource Resource) bool
}

type PolicyFunc func(ctx context.Context, actor Actor, action Action, resource Resource) bool

func (f PolicyFunc) Can(ctx context.Context, actor Actor, action Action, resource Resource) bool {
	if f == nil {
		return false
	}
	return f(ctx, actor, action, resource)
}

// RoleGrant allows a set of actions for a role. AgencyBound grants only apply
// to resources owned by the actor's agency.
type RoleGrant struct {
	Actions     []Action
	AgencyBound bool
	All         bool
}

// RolePolicy is the single place role checks are evaluated.
type RolePolicy struct {
	grants map[string][]RoleGrant
}

func NewRolePolicy() *RolePolicy {
	return &RolePolicy{grants: map[string][]RoleGrant{}}
}

func DefaultRolePolicy() *RolePolicy {
	policy := NewRolePolicy()
	policy.Grant(RoleSuperAdmin, RoleGrant{All: true})
	policy.Grant(RoleAgencyAdmin, RoleGrant{
		Actions:     []Action{ActionReconciliationCalculate, ActionReconciliationRead},
		AgencyBound: true,
	})
	policy.Grant(RoleAuditor, RoleGrant{
		Actions: []Action{ActionReconciliationRead, ActionWebhookDeliveriesRead},
	})
	policy.Grant(RoleSystem, RoleGrant{
		Actions: []Action{
			ActionReconciliationCalculate,
			ActionWebhooksProcess,
			ActionWebhooksPublish,
			ActionWebhookDeliveriesRead,
		},
	})
	return policy
}

func (p *RolePolicy) Grant(role string, grant RoleGrant) *RolePolicy {
	if p == nil {
		return nil
	}
	role = normalizeRole(role)
	if role == "" {
		return p
	}
	if p.grants == nil {
		p.grants = map[string][]RoleGrant{}
	}
	copied := RoleGrant{
		Actions:     append([]Action(nil), grant.Actions...),
		AgencyBound: grant.AgencyBound,
		All:         grant.All,
	}
	p.grants[role] = append(p.grants[role], copied)
	return p
}

func (p *RolePolicy) Can(_ context.Context, actor Actor, action Action, resource Resource) bool {
	if p == nil || actor.Anonymous() {
		return false
	}
	for _, grant := range p.grants[normalizeRole(actor.Role)] {
		if !grant.allows(action) {
			continue
		}
		if grant.AgencyBound && !sameAgency(actor, resource) {
			continue
		}
		return true
	}
	return false
}

func (g RoleGrant) allows(action Action) bool {
	if g.All {
		return true
	}
	for _, candidate := range g.Actions {
		if candidate == action {
			return true
		}
	}
	return false
}

// sameAgency refuses unscoped resources: an agency-bound actor may not act on
// cross-agency aggregates.
func sameAgency(actor Actor, resource Resource) bool {
	agency := strings.TrimSpace(actor.AgencyID)
	if agency == "" {
		return false
	}
	return strings.EqualFold(agency, strings.TrimSpace(resource.AgencyID))
}

func normalizeRole(role string) string {
	return strings.TrimSpace(strings.ToLower(role))
}

var (
	_ PolicyEvaluator = (*RolePolicy)(nil)
	_ PolicyEvaluator = PolicyFunc(nil)
)
