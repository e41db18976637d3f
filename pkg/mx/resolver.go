package mx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/snups/snupsd/pkg/config"
	"github.com/snups/snupsd/pkg/metrics"
	"github.com/snups/snupsd/pkg/utils"
)

var (
	// ErrInvalidAddress is returned for addresses without a usable domain part.
	ErrInvalidAddress = errors.New("invalid email address")
	// ErrNXDomain is returned when the recipient domain does not exist.
	ErrNXDomain = errors.New("domain does not exist")
	// ErrNoCandidates is returned when every lookup came back empty.
	ErrNoCandidates = errors.New("no mail server found")
)

// Lookup queries MX records for a domain and returns the raw lookup output.
type Lookup interface {
	LookupMX(ctx context.Context, domain string) (string, error)
}

// HostLookup runs the `host` utility: `<command> -t mx -W <secs> <domain>`.
type HostLookup struct {
	Runner  utils.CommandRunner
	Command string
	Timeout time.Duration
}

func (h HostLookup) LookupMX(ctx context.Context, domain string) (string, error) {
	name, args, err := utils.SplitCommand(h.Command)
	if err != nil {
		return "", fmt.Errorf("dns command: %w", err)
	}
	wait := int(h.Timeout / time.Second)
	if wait < 1 {
		wait = 1
	}
	args = append(args, "-t", "mx", "-W", strconv.Itoa(wait), domain)

	// host may retry internally, leave it some room past its own timeout.
	ctx, cancel := context.WithTimeout(ctx, 2*time.Duration(wait)*time.Second)
	defer cancel()

	out, err := h.Runner.Run(ctx, name, args...)
	return string(out), err
}

// Domain returns the domain part of address.
func Domain(address string) (string, error) {
	at := strings.LastIndex(address, "@")
	if at < 1 || at == len(address)-1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return address[at+1:], nil
}

// Resolver turns recipient addresses into ordered mail exchange candidates.
type Resolver struct {
	lookup        Lookup
	log           *zap.SugaredLogger
	maxCandidates int
	retries       int
	sleep         time.Duration
	timer         backoff.Timer
}

// NewResolver creates a resolver using cfg for truncation and retry policy.
func NewResolver(cfg config.DNS, lookup Lookup, log *zap.SugaredLogger) *Resolver {
	return &Resolver{
		lookup:        lookup,
		log:           log.Named("mx"),
		maxCandidates: cfg.MaxCandidates,
		retries:       cfg.Retries,
		sleep:         cfg.Sleep,
	}
}

// WithTimer replaces the timer used between lookup retries.
func (r *Resolver) WithTimer(t backoff.Timer) *Resolver {
	r.timer = t
	return r
}

// Resolve performs a single lookup for the domain of address. nx is true when
// the domain is known not to exist. A failed lookup without usable output is
// transient and yields no candidates and no error; the error return is
// reserved for addresses that can never resolve.
func (r *Resolver) Resolve(ctx context.Context, address string) (nx bool, candidates []Candidate, err error) {
	domain, err := Domain(address)
	if err != nil {
		return false, nil, err
	}

	out, lookupErr := r.lookup.LookupMX(ctx, domain)
	nx, candidates = Parse(domain, out, r.maxCandidates)

	switch {
	case nx:
		metrics.MXLookups.WithLabelValues("nxdomain").Inc()
	case len(candidates) > 0:
		metrics.MXLookups.WithLabelValues("found").Inc()
	case lookupErr != nil:
		metrics.MXLookups.WithLabelValues("error").Inc()
		r.log.Infow("MX lookup failed", "domain", domain, "error", lookupErr)
	default:
		metrics.MXLookups.WithLabelValues("empty").Inc()
		r.log.Infow("MX lookup returned no usable records", "domain", domain)
	}
	return nx, candidates, nil
}

// ResolveWithRetry repeats Resolve while it yields neither candidates nor a
// definite answer, up to the configured number of retries with a fixed sleep
// in between. A non-existent domain or an invalid address stops immediately.
func (r *Resolver) ResolveWithRetry(ctx context.Context, address string) ([]Candidate, error) {
	var (
		result  []Candidate
		attempt int
	)

	operation := func() error {
		attempt++
		nx, candidates, err := r.Resolve(ctx, address)
		if err != nil {
			return backoff.Permanent(err)
		}
		if nx {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrNXDomain, address))
		}
		if len(candidates) == 0 {
			return ErrNoCandidates
		}
		result = candidates
		return nil
	}

	notify := func(_ error, wait time.Duration) {
		r.log.Infow("No mail server found, retrying MX lookup",
			"address", address,
			"attempt", attempt,
			"retryIn", wait.String())
	}

	retries := r.retries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.sleep), uint64(retries)), ctx)
	if err := backoff.RetryNotifyWithTimer(operation, b, notify, r.timer); err != nil {
		return nil, err
	}

	r.log.Debugw("Resolved mail exchanges",
		"address", address,
		"hosts", Hosts(result),
		"attempts", attempt)
	return result, nil
}
