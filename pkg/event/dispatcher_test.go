package event_test

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/snups/snupsd/pkg/config"
	"github.com/snups/snupsd/pkg/event"
	"github.com/snups/snupsd/pkg/gpio"
	"github.com/snups/snupsd/pkg/mail"
	"github.com/snups/snupsd/pkg/worker"
)

const (
	pinButton = 4
	pinLBO    = 22
	pinPower  = 23
)

type fakeShutdown struct {
	mu      sync.Mutex
	reasons []string
}

func (s *fakeShutdown) Trigger(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
}

func (s *fakeShutdown) triggered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reasons...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	requests []mail.Request
	reaped   []string
}

func (n *fakeNotifier) Submit(req mail.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
}

func (n *fakeNotifier) Reap(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reaped = append(n.reaped, id)
}

func (n *fakeNotifier) submitted() []mail.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]mail.Request(nil), n.requests...)
}

func testConfig() config.Config {
	cfg := config.Config{
		Mail: config.Mail{To: "admin@example.org", From: "ups@example.com"},
		GPIO: config.GPIO{Button: pinButton, LowBattery: pinLBO, Power: pinPower},
	}
	cfg.Defaults()
	return cfg
}

type harness struct {
	dispatcher *event.Dispatcher
	lines      *gpio.Fake
	shutdown   *fakeShutdown
	notifier   *fakeNotifier
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	h := &harness{lines: gpio.NewFake(), shutdown: &fakeShutdown{}, notifier: &fakeNotifier{}}
	h.dispatcher = event.NewDispatcher(cfg, event.NewStream(cfg.Notify), h.lines, h.shutdown, h.notifier, zaptest.NewLogger(t).Sugar())
	return h
}

// runUntilClosed posts evs, closes the stream and runs the loop to completion.
func (h *harness) runUntilClosed(t *testing.T, evs ...event.Event) error {
	t.Helper()
	for _, ev := range evs {
		h.dispatcher.Events() <- ev
	}
	close(h.dispatcher.Events())
	return h.dispatcher.Run(context.Background())
}

func TestDispatcher_ButtonTriggersShutdown(t *testing.T) {
	h := newHarness(t, testConfig())

	err := h.runUntilClosed(t, event.HardwareEdge(pinButton), event.HardwareEdge(pinPower))

	require.NoError(t, err)
	assert.Equal(t, []string{event.ReasonButton}, h.shutdown.triggered())
	assert.Empty(t, h.notifier.submitted(), "loop ends once the shutdown sequence ran")
}

func TestDispatcher_LowBattery(t *testing.T) {
	t.Run("still asserted triggers shutdown", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.lines.Set(pinLBO, true)

		require.NoError(t, h.runUntilClosed(t, event.HardwareEdge(pinLBO)))

		assert.Equal(t, []string{event.ReasonLowBattery}, h.shutdown.triggered())
	})

	t.Run("edge followed by de-assertion is ignored", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.lines.Set(pinLBO, true)
		h.dispatcher.Events() <- event.HardwareEdge(pinLBO)
		h.lines.Set(pinLBO, false)

		require.NoError(t, h.runUntilClosed(t))

		assert.Empty(t, h.shutdown.triggered())
		assert.Equal(t, 1, h.lines.Reads(pinLBO), "line is re-read when the event is handled")
	})

	t.Run("read error is treated as not asserted", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.lines.Set(pinLBO, true)
		h.lines.FailWith(pinLBO, errors.New("bad file descriptor"))

		require.NoError(t, h.runUntilClosed(t, event.HardwareEdge(pinLBO)))

		assert.Empty(t, h.shutdown.triggered())
	})
}

func TestDispatcher_PowerLine(t *testing.T) {
	h := newHarness(t, testConfig())
	fixed := time.Date(2026, 3, 14, 15, 9, 26, 0, time.Local)
	event.SetClock(h.dispatcher, func() time.Time { return fixed })

	h.lines.Set(pinPower, true)
	h.dispatcher.Events() <- event.HardwareEdge(pinPower)
	h.dispatcher.Events() <- event.Signal(syscall.SIGINT)
	require.NoError(t, h.dispatcher.Run(context.Background()))

	h.lines.Set(pinPower, false)
	require.NoError(t, h.runUntilClosed(t, event.HardwareEdge(pinPower)))

	reqs := h.notifier.submitted()
	require.Len(t, reqs, 2)
	assert.Equal(t, event.TextPowerFailure, reqs[0].Body)
	assert.Equal(t, event.TextPowerRestored, reqs[1].Body)
	assert.Equal(t, "admin@example.org", reqs[0].To)
	assert.Equal(t, fixed, reqs[0].Timestamp)
	assert.Empty(t, h.shutdown.triggered())
}

func TestDispatcher_NotificationsDisabledWithoutRecipient(t *testing.T) {
	cfg := testConfig()
	cfg.Mail.To = ""
	h := newHarness(t, cfg)
	h.lines.Set(pinPower, true)

	require.NoError(t, h.runUntilClosed(t, event.HardwareEdge(pinPower)))

	assert.Empty(t, h.notifier.submitted())
}

func TestDispatcher_IgnoresUnexpectedInput(t *testing.T) {
	h := newHarness(t, testConfig())

	require.NoError(t, h.runUntilClosed(t,
		event.HardwareEdge(17),
		event.Signal(syscall.SIGHUP),
		event.Signal(syscall.SIGUSR1),
		event.Event{Kind: event.Kind(42)},
		event.WorkerDone("w-1"),
	))

	assert.Empty(t, h.shutdown.triggered())
	assert.Empty(t, h.notifier.submitted())
	assert.Equal(t, []string{"w-1"}, h.notifier.reaped)
}

func TestDispatcher_TerminatingSignals(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		t.Run(sig.String(), func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.lines.Set(pinPower, true)

			err := h.runUntilClosed(t, event.Signal(sig), event.HardwareEdge(pinPower))

			require.NoError(t, err)
			assert.Empty(t, h.notifier.submitted(), "events after the signal are not handled")
			assert.Empty(t, h.shutdown.triggered())
		})
	}
}

func TestDispatcher_ContextCancellation(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.dispatcher.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcher_CheckLowBattery(t *testing.T) {
	h := newHarness(t, testConfig())
	assert.False(t, h.dispatcher.CheckLowBattery())
	assert.Empty(t, h.shutdown.triggered())

	h.lines.Set(pinLBO, true)
	assert.True(t, h.dispatcher.CheckLowBattery())
	assert.Equal(t, []string{event.ReasonLowBatteryAtStart}, h.shutdown.triggered())
}

// recordingDeliverer stands in for the delivery engine.
type recordingDeliverer struct {
	mu    sync.Mutex
	texts []string
}

func (d *recordingDeliverer) Deliver(_ context.Context, _ config.Mail, req mail.Request) mail.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = append(d.texts, req.Body)
	return mail.Success("mx.example.org")
}

func (d *recordingDeliverer) delivered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.texts...)
}

func TestDispatcher_PowerRestoredEndToEnd(t *testing.T) {
	cfg := testConfig()
	lines := gpio.NewFake()
	shutdown := &fakeShutdown{}
	deliverer := &recordingDeliverer{}
	log := zaptest.NewLogger(t).Sugar()

	events := event.NewStream(cfg.Notify)
	manager := worker.NewManager(deliverer, cfg.Mail, events, nil, log)
	dispatcher := event.NewDispatcher(cfg, events, lines, shutdown, manager, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- dispatcher.Run(ctx) }()

	lines.Set(pinPower, false)
	dispatcher.Events() <- event.HardwareEdge(pinPower)

	require.Eventually(t, func() bool {
		return len(deliverer.delivered()) == 1 && manager.Active() == 0
	}, 5*time.Second, 5*time.Millisecond, "worker delivered and was reaped")
	assert.Equal(t, []string{event.TextPowerRestored}, deliverer.delivered())

	dispatcher.Events() <- event.Signal(syscall.SIGTERM)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.Empty(t, shutdown.triggered())
}
