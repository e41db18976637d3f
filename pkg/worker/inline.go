package worker

import (
	"go.uber.org/zap"

	"github.com/snups/snupsd/pkg/config"
	"github.com/snups/snupsd/pkg/mail"
	"github.com/snups/snupsd/pkg/metrics"
	"github.com/snups/snupsd/pkg/ratelimit"
)

// Inline delivers on the caller's goroutine. The dispatcher does not handle
// any hardware event while a delivery is in progress.
type Inline struct {
	deliverer Deliverer
	cfg       config.Mail
	limiter   *ratelimit.Limiter
	log       *zap.SugaredLogger
}

// NewInline creates a synchronous notifier. A nil limiter disables rate
// limiting.
func NewInline(deliverer Deliverer, cfg config.Mail, limiter *ratelimit.Limiter, log *zap.SugaredLogger) *Inline {
	return &Inline{deliverer: deliverer, cfg: cfg, limiter: limiter, log: log.Named("worker")}
}

// Submit delivers req and returns when the delivery has finished.
func (i *Inline) Submit(req mail.Request) {
	if !i.limiter.Allow() {
		i.log.Warnw("Notification rate limit reached, dropping notification", "message", req.Body)
		metrics.MailDropped.Inc()
		return
	}
	outcome := deliver(i.deliverer, i.cfg, req, i.log)
	i.log.Debugw("Synchronous delivery finished", "outcome", outcome.String())
}

// Reap is a no-op: inline deliveries never post completion events.
func (i *Inline) Reap(string) {}
