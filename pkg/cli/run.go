package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/snups/snupsd/pkg/event"
	"github.com/snups/snupsd/pkg/mail"
	"github.com/snups/snupsd/pkg/metrics"
	"github.com/snups/snupsd/pkg/mx"
	"github.com/snups/snupsd/pkg/ratelimit"
	"github.com/snups/snupsd/pkg/shutdown"
	"github.com/snups/snupsd/pkg/telemetry"
	"github.com/snups/snupsd/pkg/version"
	"github.com/snups/snupsd/pkg/worker"
)

func newRunCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Monitor the UPS lines until terminated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.run(cmd.Context())
		},
	}
}

// newEngine wires the delivery engine with MX resolution through the
// configured lookup command.
func (rt *runtimeState) newEngine() *mail.Engine {
	lookup := mx.HostLookup{Runner: rt.opts.Runner, Command: rt.cfg.DNS.Command, Timeout: rt.cfg.DNS.Timeout}
	resolver := mx.NewResolver(rt.cfg.DNS, lookup, rt.log)
	return mail.NewEngine(resolver, rt.opts.Transport, rt.log)
}

func (rt *runtimeState) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, log := rt.cfg, rt.log
	info := version.GetBuildInfo()
	log.Infow("Starting", "version", info.String())
	Print(cfg, log)

	_, stopTracing, err := telemetry.Init(ctx, telemetry.FromConfig(cfg.Tracing, info.Version, log))
	if err != nil {
		return err
	}
	flushTraces := func() {
		if err := stopTracing(context.Background()); err != nil {
			log.Warnw("Flushing traces failed", "error", err)
		}
	}
	defer flushTraces()

	events := event.NewStream(cfg.Notify)
	engine := rt.newEngine()
	limiter := ratelimit.New(ratelimit.Config{PerMinute: cfg.Notify.RateLimitPerMinute, Burst: cfg.Notify.RateBurst})

	var (
		notifier event.Notifier
		manager  *worker.Manager
	)
	if cfg.Notify.IsParallel() {
		manager = worker.NewManager(engine, cfg.Mail, events, limiter, log)
		notifier = manager
	} else {
		log.Warnw("Synchronous notifications enabled, hardware events wait while mail is sent")
		notifier = worker.NewInline(engine, cfg.Mail, limiter, log)
	}

	controller := shutdown.New(cfg.Shutdown, rt.opts.Runner, log,
		shutdown.WithExit(rt.opts.Exit),
		shutdown.WithSleep(rt.opts.ShutdownSleep))

	lines, err := rt.opts.OpenLines(cfg.GPIO, events, log)
	if err != nil {
		return err
	}
	stopSignals := event.RelaySignals(events)
	release := func() {
		stopSignals()
		if err := lines.Close(); err != nil {
			log.Warnw("Releasing GPIO lines failed", "error", err)
		}
	}
	controller.OnShutdown(release)
	controller.OnShutdown(flushTraces)

	dispatcher := event.NewDispatcher(cfg, events, lines, controller, notifier, log)
	if dispatcher.CheckLowBattery() {
		return nil
	}

	metrics.Serve(ctx, cfg.Metrics.BindAddress, log)
	dispatcher.Notify(cfg.Notify.StartupMessage)
	log.Infow("Installed handlers on GPIO",
		"chip", cfg.GPIO.Chip,
		"button", cfg.GPIO.Button,
		"lowBattery", cfg.GPIO.LowBattery,
		"power", cfg.GPIO.Power)

	err = dispatcher.Run(ctx)
	if controller.State() == shutdown.StateIdle {
		release()
	}

	if manager != nil && cfg.Notify.DrainTimeout > 0 {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Notify.DrainTimeout)
		defer drainCancel()
		if derr := manager.Drain(drainCtx); derr != nil {
			log.Warnw("Exiting with notifications still in flight", "error", derr)
		}
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
