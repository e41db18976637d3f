// Package metrics defines Prometheus metrics for snupsd, covering dispatched
// events, MX lookups, mail delivery attempts and outcomes, delivery workers,
// and shutdown triggers.
package metrics
