// Package system builds the zap loggers of snupsd, including the optional
// syslog sink used when the daemon runs without a journal.
package system
