// Package webhooks holds both ends of MANTIS outbound webhooks: the typed
// event catalog used to publish deliveries, and a receiver that subscribers
// mount to verify X-Mantis-Signature and drop repeated delivery ids.
package webhooks
