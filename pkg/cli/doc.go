// Package cli defines the snupsd command line: the run command that starts
// the monitor, the mx and send-test helpers for checking mail delivery, and
// version. Flags fall back to SNUPS_* environment variables.
package cli
