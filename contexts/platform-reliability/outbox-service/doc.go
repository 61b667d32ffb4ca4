// Package outboxservice owns the transactional outbox: durable event records
// written in the same unit of work as business state, relayed to the event
// bus at least once, and purged after a retention window.
package outboxservice
