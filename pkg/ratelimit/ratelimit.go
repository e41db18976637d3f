package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Config holds notification limiter configuration
type Config struct {
	// PerMinute is the sustained number of notifications allowed per minute.
	// Zero disables limiting.
	PerMinute float64
	// Burst is the maximum number of notifications allowed back to back
	Burst int
}

// Limiter bounds how many notifications leave the host. A nil *Limiter
// allows everything.
type Limiter struct {
	limiter *rate.Limiter
	config  Config
}

// New creates a limiter, or returns nil when cfg disables limiting
func New(cfg Config) *Limiter {
	if cfg.PerMinute <= 0 {
		return nil
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.PerMinute/60), cfg.Burst),
		config:  cfg,
	}
}

// Allow reports whether a notification may be sent now
func (l *Limiter) Allow() bool {
	return l.AllowAt(time.Now())
}

// AllowAt reports whether a notification may be sent at t
func (l *Limiter) AllowAt(t time.Time) bool {
	if l == nil {
		return true
	}
	return l.limiter.AllowN(t, 1)
}

// Config returns a copy of the effective configuration (for testing)
func (l *Limiter) Config() Config {
	if l == nil {
		return Config{}
	}
	return l.config
}
