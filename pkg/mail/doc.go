// Package mail provides email notification delivery for snupsd: message
// composition, an SMTP transport with per-phase error classification, and a
// delivery engine that fails over across mail exchanges with retry passes.
package mail
