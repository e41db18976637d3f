// SPDX-FileCopyrightText: 2026 snupsd authors
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"fmt"
	"log/syslog"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerName is the source prefix of every log line.
const LoggerName = "SN UPS"

// syslogTag identifies the daemon in the system log.
const syslogTag = "snupsd"

// syslogPriority is the facility and default severity of the syslog
// connection. Per-entry severities are chosen by the syslog core.
const syslogPriority = syslog.LOG_USER | syslog.LOG_NOTICE

// NewLogger builds the process logger: production JSON on stderr, or the
// development console format with debug set. With useSyslog every entry is
// also written to the local syslog daemon.
func NewLogger(debug, useSyslog bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	// Disable automatic stacktraces for non-fatal levels to avoid noisy traces in WARN/INFO logs
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	if useSyslog {
		w, err := syslog.New(syslogPriority, syslogTag)
		if err != nil {
			return nil, fmt.Errorf("connecting to syslog: %w", err)
		}
		sc := NewSyslogCore(w, cfg.Level)
		logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, sc)
		}))
	}
	return logger.Named(LoggerName), nil
}
