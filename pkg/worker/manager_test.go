package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/snups/snupsd/pkg/config"
	"github.com/snups/snupsd/pkg/event"
	"github.com/snups/snupsd/pkg/mail"
	"github.com/snups/snupsd/pkg/metrics"
	"github.com/snups/snupsd/pkg/ratelimit"
)

// blockingDeliverer records requests and blocks each delivery until release
// is closed. A nil release never blocks.
type blockingDeliverer struct {
	mu      sync.Mutex
	release chan struct{}
	panics  bool
	seen    []mail.Request
}

func (d *blockingDeliverer) Deliver(_ context.Context, _ config.Mail, req mail.Request) mail.Outcome {
	d.mu.Lock()
	d.seen = append(d.seen, req)
	release := d.release
	d.mu.Unlock()

	if release != nil {
		<-release
	}
	if d.panics {
		panic("smtp client exploded")
	}
	return mail.Success("mx.example.org")
}

func (d *blockingDeliverer) requests() []mail.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]mail.Request(nil), d.seen...)
}

func request(text string) mail.Request {
	return mail.Request{From: "ups@example.com", To: "admin@example.org", Body: text, Timestamp: time.Now()}
}

func receiveDone(t *testing.T, events <-chan event.Event) event.Event {
	t.Helper()
	select {
	case ev := <-events:
		require.Equal(t, event.KindWorkerDone, ev.Kind)
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no completion event")
		return event.Event{}
	}
}

func TestManager_SubmitDoesNotBlock(t *testing.T) {
	events := make(chan event.Event, 4)
	d := &blockingDeliverer{release: make(chan struct{})}
	m := NewManager(d, config.Mail{}, events, nil, zaptest.NewLogger(t).Sugar())

	m.Submit(request("Power failure"))
	assert.Equal(t, 1, m.Active(), "worker is tracked while delivering")

	close(d.release)
	done := receiveDone(t, events)

	assert.Equal(t, 1, m.Active(), "worker is tracked until reaped")
	m.Reap(done.WorkerID)
	assert.Equal(t, 0, m.Active())
	require.Len(t, d.requests(), 1)
	assert.Equal(t, "Power failure", d.requests()[0].Body)
}

func TestManager_UniqueWorkerIDs(t *testing.T) {
	events := make(chan event.Event, 8)
	m := NewManager(&blockingDeliverer{}, config.Mail{}, events, nil, zaptest.NewLogger(t).Sugar())

	for i := 0; i < 5; i++ {
		m.Submit(request("Power failure"))
	}
	ids := map[string]bool{}
	for i := 0; i < 5; i++ {
		ev := receiveDone(t, events)
		ids[ev.WorkerID] = true
		m.Reap(ev.WorkerID)
	}

	assert.Len(t, ids, 5)
	assert.Equal(t, 0, m.Active())
}

func TestManager_ReapUnknownIsNoop(t *testing.T) {
	m := NewManager(&blockingDeliverer{}, config.Mail{}, make(chan event.Event, 1), nil, zaptest.NewLogger(t).Sugar())

	assert.NotPanics(t, func() { m.Reap("does-not-exist") })
	assert.Equal(t, 0, m.Active())
}

func TestManager_PanicIsRecovered(t *testing.T) {
	events := make(chan event.Event, 1)
	m := NewManager(&blockingDeliverer{panics: true}, config.Mail{}, events, nil, zaptest.NewLogger(t).Sugar())
	before := testutil.ToFloat64(metrics.WorkerPanics)

	m.Submit(request("Power failure"))
	done := receiveDone(t, events)
	m.Reap(done.WorkerID)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.WorkerPanics))
	assert.Equal(t, 0, m.Active())
}

func TestManager_RateLimit(t *testing.T) {
	events := make(chan event.Event, 4)
	d := &blockingDeliverer{}
	limiter := ratelimit.New(ratelimit.Config{PerMinute: 1, Burst: 1})
	m := NewManager(d, config.Mail{}, events, limiter, zaptest.NewLogger(t).Sugar())
	before := testutil.ToFloat64(metrics.MailDropped)

	m.Submit(request("Power failure"))
	m.Submit(request("Power restored"))
	m.Reap(receiveDone(t, events).WorkerID)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.MailDropped))
	require.Len(t, d.requests(), 1)
	assert.Equal(t, "Power failure", d.requests()[0].Body)
	assert.Equal(t, 0, m.Active())
}

func TestManager_Drain(t *testing.T) {
	events := make(chan event.Event, 4)
	d := &blockingDeliverer{release: make(chan struct{})}
	m := NewManager(d, config.Mail{}, events, nil, zaptest.NewLogger(t).Sugar())

	require.NoError(t, m.Drain(context.Background()), "nothing to wait for")

	m.Submit(request("Power failure"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Drain(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(d.release)
	require.NoError(t, m.Drain(context.Background()))
	m.Reap(receiveDone(t, events).WorkerID)
}

func TestInline_SubmitIsSynchronous(t *testing.T) {
	d := &blockingDeliverer{}
	i := NewInline(d, config.Mail{}, nil, zaptest.NewLogger(t).Sugar())

	i.Submit(request("Power restored"))

	require.Len(t, d.requests(), 1, "delivery finished before Submit returned")
	assert.NotPanics(t, func() { i.Reap("anything") })
}

func TestInline_PanicIsRecovered(t *testing.T) {
	i := NewInline(&blockingDeliverer{panics: true}, config.Mail{}, nil, zaptest.NewLogger(t).Sugar())

	assert.NotPanics(t, func() { i.Submit(request("Power failure")) })
}

func TestInline_RateLimit(t *testing.T) {
	d := &blockingDeliverer{}
	i := NewInline(d, config.Mail{}, ratelimit.New(ratelimit.Config{PerMinute: 1, Burst: 2}), zaptest.NewLogger(t).Sugar())

	for n := 0; n < 4; n++ {
		i.Submit(request("Power failure"))
	}

	assert.Len(t, d.requests(), 2)
}
