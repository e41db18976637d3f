/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/snups/snupsd/pkg/config"
	"github.com/snups/snupsd/pkg/metrics"
	"github.com/snups/snupsd/pkg/mx"
)

// Status is the final state of a delivery.
type Status int

const (
	// StatusSuccess means a mail exchange accepted the message.
	StatusSuccess Status = iota
	// StatusFailed means delivery stopped on a terminal condition.
	StatusFailed
	// StatusExhausted means every pass over every candidate failed transiently.
	StatusExhausted
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal failure reasons.
const (
	ReasonNXDomain          = "domain does not exist"
	ReasonNoMailServer      = "no mail server found"
	ReasonInvalidAddress    = "invalid recipient address"
	ReasonAuthRefused       = "authentication refused"
	ReasonSenderRefused     = "sender refused"
	ReasonRecipientRefused  = "recipient refused"
	ReasonAttemptsExhausted = "attempts exhausted"
	ReasonPanic             = "delivery panicked"
)

// Outcome reports how a delivery ended. Host is set on success, Reason on
// failure or exhaustion.
type Outcome struct {
	Status Status
	Host   string
	Reason string
}

func (o Outcome) String() string {
	if o.Status == StatusSuccess {
		return "success via " + o.Host
	}
	return fmt.Sprintf("%s: %s", o.Status, o.Reason)
}

// Success returns a successful outcome via host.
func Success(host string) Outcome { return Outcome{Status: StatusSuccess, Host: host} }

// Failed returns a terminal failure outcome.
func Failed(reason string) Outcome { return Outcome{Status: StatusFailed, Reason: reason} }

// Exhausted returns the outcome of running out of attempts.
func Exhausted() Outcome {
	return Outcome{Status: StatusExhausted, Reason: ReasonAttemptsExhausted}
}

// CandidateResolver finds the mail exchanges for a recipient.
type CandidateResolver interface {
	ResolveWithRetry(ctx context.Context, address string) ([]mx.Candidate, error)
}

// errPassFailed ends a pass in which no candidate took the message.
var errPassFailed = errors.New("no mail server accepted the message")

// TracerName names the tracer used for delivery spans.
const TracerName = "github.com/snups/snupsd/pkg/mail"

// Engine delivers a single notification, failing over across mail exchanges.
type Engine struct {
	resolver  CandidateResolver
	transport Transport
	log       *zap.SugaredLogger
	timer     backoff.Timer
	tracer    trace.Tracer
}

// NewEngine creates a delivery engine.
func NewEngine(resolver CandidateResolver, transport Transport, log *zap.SugaredLogger) *Engine {
	return &Engine{
		resolver:  resolver,
		transport: transport,
		log:       log.Named("mail"),
		tracer:    otel.Tracer(TracerName),
	}
}

// WithTracerProvider traces deliveries with tp instead of the global provider.
func (e *Engine) WithTracerProvider(tp trace.TracerProvider) *Engine {
	e.tracer = tp.Tracer(TracerName)
	return e
}

// WithTimer replaces the timer used between delivery passes.
func (e *Engine) WithTimer(t backoff.Timer) *Engine {
	e.timer = t
	return e
}

// Deliver sends req according to cfg.
//
// Candidates come from cfg.Server when set, otherwise from MX resolution.
// Up to cfg.Attempts passes run over the whole candidate list with cfg.Sleep
// between passes. Within a pass a failed connection, TLS negotiation, login
// or submission moves on to the next candidate, except for explicit
// authentication, sender or recipient refusals which end the delivery.
func (e *Engine) Deliver(ctx context.Context, cfg config.Mail, req Request) Outcome {
	ctx, span := e.tracer.Start(ctx, "mail.Deliver", trace.WithAttributes(attribute.String("mail.to", req.To)))
	defer span.End()

	outcome := e.deliver(ctx, cfg, req)
	span.SetAttributes(attribute.String("mail.status", outcome.Status.String()))
	if outcome.Status == StatusSuccess {
		span.SetAttributes(attribute.String("smtp.host", outcome.Host))
	} else {
		span.SetStatus(codes.Error, outcome.Reason)
	}
	return outcome
}

func (e *Engine) deliver(ctx context.Context, cfg config.Mail, req Request) Outcome {
	log := e.log.With("to", req.To)

	candidates, outcome, ok := e.candidates(ctx, cfg, req, log)
	if !ok {
		metrics.MailFailed.WithLabelValues(outcome.Reason).Inc()
		return outcome
	}

	msg := Compose(req)
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		pass   int
		result Outcome
	)
	operation := func() error {
		pass++
		for _, host := range candidates {
			err := e.attempt(ctx, cfg, host, req, msg, log)
			if err == nil {
				result = Success(host)
				return nil
			}
			if reason := terminalReason(err); reason != "" {
				result = Failed(reason)
				return backoff.Permanent(err)
			}
		}
		return errPassFailed
	}
	notify := func(_ error, wait time.Duration) {
		log.Infow("No mail server accepted the message, retrying",
			"pass", pass,
			"maxPasses", attempts,
			"retryIn", wait.String())
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.Sleep), uint64(attempts-1)), ctx)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, e.timer)

	switch {
	case err == nil:
		log.Infow("Mail sent successfully", "host", result.Host, "pass", pass)
		metrics.MailSent.WithLabelValues(result.Host).Inc()
		return result
	case result.Status == StatusFailed:
		log.Warnw("Sending mail failed", "reason", result.Reason, "error", err)
		metrics.MailFailed.WithLabelValues(result.Reason).Inc()
		return result
	default:
		log.Warnw("Sending mail failed after all attempts",
			"passes", pass,
			"candidates", candidates,
			"error", err)
		metrics.MailFailed.WithLabelValues(ReasonAttemptsExhausted).Inc()
		return Exhausted()
	}
}

// candidates returns the hosts to try, or the terminal outcome when there
// are none.
func (e *Engine) candidates(ctx context.Context, cfg config.Mail, req Request, log *zap.SugaredLogger) ([]string, Outcome, bool) {
	if cfg.Server != "" {
		return []string{cfg.Server}, Outcome{}, true
	}

	found, err := e.resolver.ResolveWithRetry(ctx, req.To)
	switch {
	case err == nil && len(found) > 0:
		return mx.Hosts(found), Outcome{}, true
	case errors.Is(err, mx.ErrNXDomain):
		log.Warnw("Sending mail failed: domain does not exist", "error", err)
		return nil, Failed(ReasonNXDomain), false
	case errors.Is(err, mx.ErrInvalidAddress):
		log.Warnw("Sending mail failed: invalid recipient address", "error", err)
		return nil, Failed(ReasonInvalidAddress), false
	default:
		log.Warnw("Sending mail failed: error finding mail server", "error", err)
		return nil, Failed(ReasonNoMailServer), false
	}
}

// attempt runs one SMTP session against host. The connection is closed on
// every path out of the attempt.
func (e *Engine) attempt(ctx context.Context, cfg config.Mail, host string, req Request, msg io.WriterTo, log *zap.SugaredLogger) error {
	log = log.With("host", host)
	ctx, span := e.tracer.Start(ctx, "mail.Attempt", trace.WithAttributes(attribute.String("smtp.host", host)))
	defer span.End()

	fail := func(phase string, err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, phase)
		metrics.MailAttemptFailures.WithLabelValues(phase).Inc()
		return err
	}

	conn, err := e.transport.Dial(ctx, host, cfg)
	if err != nil {
		log.Infow("Opening SMTP connection failed", "error", err)
		return fail("dial", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if err := conn.StartTLS(); err != nil {
		log.Infow("Starting TLS failed", "error", err)
		return fail("starttls", err)
	}

	if cfg.Auth {
		if err := conn.Auth(cfg.Username, cfg.Secret); err != nil {
			if errors.Is(err, ErrAuthRefused) {
				log.Warnw("Login refused", "username", cfg.Username, "error", err)
			} else {
				log.Infow("Error during login", "error", err)
			}
			return fail("auth", err)
		}
	}

	if err := conn.Send(req.From, req.To, msg); err != nil {
		switch {
		case errors.Is(err, ErrRecipientRefused):
			log.Warnw("Recipient refused", "recipient", req.To, "error", err)
		case errors.Is(err, ErrSenderRefused):
			log.Warnw("Sender refused", "sender", req.From, "error", err)
		default:
			log.Infow("Sending mail failed", "error", err)
		}
		return fail("send", err)
	}
	return nil
}

// terminalReason maps errors that must stop all further attempts to their
// outcome reason, and returns "" for errors worth trying elsewhere.
func terminalReason(err error) string {
	switch {
	case errors.Is(err, ErrAuthRefused):
		return ReasonAuthRefused
	case errors.Is(err, ErrRecipientRefused):
		return ReasonRecipientRefused
	case errors.Is(err, ErrSenderRefused):
		return ReasonSenderRefused
	default:
		return ""
	}
}
