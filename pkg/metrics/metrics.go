package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// Dispatcher metrics
	EventsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snups_events_dispatched_total",
		Help: "Total number of events handled by the dispatcher",
	}, []string{"kind"})
	ShutdownTriggered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snups_shutdown_triggered_total",
		Help: "Total number of shutdown sequences started",
	}, []string{"reason"})

	// MX metrics
	MXLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snups_mx_lookups_total",
		Help: "Total number of MX lookups by result (found, empty, nxdomain, error)",
	}, []string{"result"})

	// Mail metrics
	MailSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snups_mail_sent_total",
		Help: "Total number of notifications accepted by a mail server",
	}, []string{"host"})
	MailFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snups_mail_failed_total",
		Help: "Total number of notifications that were given up on",
	}, []string{"reason"})
	MailAttemptFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snups_mail_attempt_failures_total",
		Help: "Total number of failed delivery attempts against a single mail server by stage",
	}, []string{"stage"})
	MailDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "snups_mail_dropped_total",
		Help: "Total number of notifications dropped by the rate limiter",
	})

	// Worker metrics
	WorkersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snups_delivery_workers_active",
		Help: "Number of delivery workers spawned and not yet reaped",
	})
	WorkerPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "snups_delivery_worker_panics_total",
		Help: "Total number of recovered panics in delivery workers",
	})
)

func init() {
	prometheus.MustRegister(EventsDispatched)
	prometheus.MustRegister(ShutdownTriggered)
	prometheus.MustRegister(MXLookups)
	prometheus.MustRegister(MailSent)
	prometheus.MustRegister(MailFailed)
	prometheus.MustRegister(MailAttemptFailures)
	prometheus.MustRegister(MailDropped)
	prometheus.MustRegister(WorkersActive)
	prometheus.MustRegister(WorkerPanics)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done. It returns immediately
// when addr is empty.
func Serve(ctx context.Context, addr string, log *zap.SugaredLogger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Infow("Metrics listener started", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnw("Metrics listener stopped", "address", addr, "error", err)
		}
	}()
}
