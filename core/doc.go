// Package core holds the settlement domain: reconciliation records and their
// calculator, webhook subscriptions and deliveries, the delivery dispatcher,
// and the role policy consulted by outer surfaces. Storage, transport and
// HTTP adapters depend on this package; core depends on none of them.
package core
