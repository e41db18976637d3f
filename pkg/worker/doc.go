// Package worker runs notification deliveries.
//
// Manager gives every delivery its own goroutine and tracks it by id until
// the dispatcher reaps it after the worker posted its completion event.
// Inline runs deliveries on the caller's goroutine for hosts where that is
// preferred.
package worker
