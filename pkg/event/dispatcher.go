package event

import (
	"context"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/snups/snupsd/pkg/config"
	"github.com/snups/snupsd/pkg/mail"
	"github.com/snups/snupsd/pkg/metrics"
)

// Power notification texts.
const (
	TextPowerFailure  = "Power failure"
	TextPowerRestored = "Power restored"
)

// Shutdown reasons.
const (
	ReasonButton            = "button"
	ReasonLowBattery        = "low battery"
	ReasonLowBatteryAtStart = "low battery detected at start"
)

// Notifier hands notifications to delivery workers and reaps them.
type Notifier interface {
	Submit(req mail.Request)
	Reap(id string)
}

// LineReader reads the current level of a monitored line.
type LineReader interface {
	Asserted(pin int) (bool, error)
}

// Shutdowner starts the host shutdown sequence.
type Shutdowner interface {
	Trigger(reason string)
}

// Dispatcher is the single consumer of the event stream.
type Dispatcher struct {
	events   chan Event
	gpio     config.GPIO
	mail     config.Mail
	lines    LineReader
	shutdown Shutdowner
	notifier Notifier
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewStream creates the event stream sized by cfg.EventBuffer.
func NewStream(cfg config.Notify) chan Event {
	buffer := cfg.EventBuffer
	if buffer < 1 {
		buffer = config.DefaultEventBuffer
	}
	return make(chan Event, buffer)
}

// NewDispatcher creates the consumer of events. Producers, including the
// notifier's workers, only ever send on events.
func NewDispatcher(cfg config.Config, events chan Event, lines LineReader, shutdown Shutdowner, notifier Notifier, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		events:   events,
		gpio:     cfg.GPIO,
		mail:     cfg.Mail,
		lines:    lines,
		shutdown: shutdown,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Events returns the send end of the event stream for producers.
func (d *Dispatcher) Events() chan<- Event {
	return d.events
}

// Notify builds a notification for text stamped with the current time and
// submits it. Nothing is sent when no recipient is configured.
func (d *Dispatcher) Notify(text string) {
	if d.mail.To == "" {
		d.log.Infow("Notifications disabled, no recipient configured", "message", text)
		return
	}
	d.notifier.Submit(mail.NewRequest(d.mail, text, d.now()))
}

// CheckLowBattery triggers the shutdown when the low battery line is already
// asserted. It reports whether the shutdown was triggered.
func (d *Dispatcher) CheckLowBattery() bool {
	asserted, err := d.lines.Asserted(d.gpio.LowBattery)
	if err != nil {
		d.log.Warnw("Reading low battery line failed", "pin", d.gpio.LowBattery, "error", err)
		return false
	}
	if !asserted {
		return false
	}
	d.log.Warnw("Low battery detected at start", "pin", d.gpio.LowBattery)
	d.shutdown.Trigger(ReasonLowBatteryAtStart)
	return true
}

// Run handles events until a terminating signal arrives, the shutdown
// sequence was triggered, the stream is closed or ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.log.Infow("Event loop cancelled", "error", ctx.Err())
			return ctx.Err()
		case ev, ok := <-d.events:
			if !ok {
				d.log.Infow("Event stream closed")
				return nil
			}
			metrics.EventsDispatched.WithLabelValues(ev.Kind.String()).Inc()
			if done := d.handle(ev); done {
				return nil
			}
		}
	}
}

// handle routes a single event and reports whether the loop must end.
func (d *Dispatcher) handle(ev Event) bool {
	switch ev.Kind {
	case KindHardwareEdge:
		return d.handleEdge(ev.Pin)
	case KindWorkerDone:
		d.log.Debugw("Reaping delivery worker", "worker", ev.WorkerID)
		d.notifier.Reap(ev.WorkerID)
		return false
	case KindSignal:
		return d.handleSignal(ev.Signal)
	default:
		d.log.Warnw("Dropping event of unknown kind", "event", ev.String())
		return false
	}
}

func (d *Dispatcher) handleEdge(pin int) bool {
	switch pin {
	case d.gpio.Button:
		d.log.Warnw("Shutdown button pressed", "pin", pin)
		d.shutdown.Trigger(ReasonButton)
		return true

	case d.gpio.LowBattery:
		asserted, err := d.lines.Asserted(pin)
		if err != nil {
			d.log.Warnw("Reading low battery line failed, ignoring edge", "pin", pin, "error", err)
			return false
		}
		if !asserted {
			d.log.Infow("Low battery edge cleared before it was handled, ignoring", "pin", pin)
			return false
		}
		d.log.Warnw("Low battery", "pin", pin)
		d.shutdown.Trigger(ReasonLowBattery)
		return true

	case d.gpio.Power:
		asserted, err := d.lines.Asserted(pin)
		if err != nil {
			d.log.Warnw("Reading power line failed, ignoring edge", "pin", pin, "error", err)
			return false
		}
		text := TextPowerRestored
		if asserted {
			text = TextPowerFailure
		}
		d.log.Warnw(text, "pin", pin)
		d.Notify(text)
		return false

	default:
		d.log.Warnw("Edge on unexpected pin", "pin", pin)
		return false
	}
}

func (d *Dispatcher) handleSignal(sig os.Signal) bool {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		d.log.Infow("Terminating on signal", "signal", sig.String())
		return true
	case syscall.SIGHUP:
		d.log.Infow("Ignoring signal", "signal", sig.String())
		return false
	default:
		d.log.Warnw("Unknown signal", "signal", sig)
		return false
	}
}
