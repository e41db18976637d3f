package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/zap"

	"github.com/snups/snupsd/pkg/config"
	"github.com/snups/snupsd/pkg/event"
)

// consumer is the label shown for requested lines by gpioinfo.
const consumer = "snupsd"

// line is the part of *gpiocdev.Line used by Chip.
type line interface {
	Value() (int, error)
	Close() error
}

var requestLine = func(chip string, offset int, opts ...gpiocdev.LineReqOption) (line, error) {
	return gpiocdev.RequestLine(chip, offset, opts...)
}

// Chip owns the requested input lines. All lines are pulled up and active
// low: a pressed button or an asserted UPS output reads as 1.
type Chip struct {
	events chan<- event.Event
	log    *zap.SugaredLogger

	mu     sync.Mutex
	lines  map[int]line
	done   chan struct{}
	closed bool
}

// Open requests the lines named in cfg and posts an event for every
// debounced edge. The button and low battery lines report assertion only,
// the power line reports both directions.
func Open(cfg config.GPIO, events chan<- event.Event, log *zap.SugaredLogger) (*Chip, error) {
	c := &Chip{
		events: events,
		log:    log.Named("gpio"),
		lines:  make(map[int]line),
		done:   make(chan struct{}),
	}

	requests := []struct {
		name   string
		offset int
		edge   gpiocdev.LineReqOption
	}{
		{name: "button", offset: cfg.Button, edge: gpiocdev.WithRisingEdge},
		{name: "lowBattery", offset: cfg.LowBattery, edge: gpiocdev.WithRisingEdge},
		{name: "power", offset: cfg.Power, edge: gpiocdev.WithBothEdges},
	}
	for _, r := range requests {
		l, err := requestLine(cfg.Chip, r.offset,
			gpiocdev.WithConsumer(consumer),
			gpiocdev.AsInput,
			gpiocdev.AsActiveLow,
			gpiocdev.WithPullUp,
			gpiocdev.WithDebounce(cfg.Debounce),
			r.edge,
			gpiocdev.WithEventHandler(c.handleEvent),
		)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("requesting %s line %d on %s: %w", r.name, r.offset, cfg.Chip, err)
		}
		c.lines[r.offset] = l
	}
	return c, nil
}

// handleEvent runs on the gpiocdev watcher goroutine.
func (c *Chip) handleEvent(evt gpiocdev.LineEvent) {
	select {
	case c.events <- event.HardwareEdge(evt.Offset):
	case <-c.done:
	}
}

// Asserted reads the current logical level of pin.
func (c *Chip) Asserted(pin int) (bool, error) {
	c.mu.Lock()
	l, ok := c.lines[pin]
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false, errors.New("gpio lines already released")
	}
	if !ok {
		return false, fmt.Errorf("line %d is not monitored", pin)
	}
	v, err := l.Value()
	if err != nil {
		return false, fmt.Errorf("reading line %d: %w", pin, err)
	}
	return v == 1, nil
}

// Close releases every requested line. It is safe to call more than once.
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	var errs []error
	for offset, l := range c.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("releasing line %d: %w", offset, err))
		}
	}
	c.log.Infow("Released GPIO lines", "count", len(c.lines))
	return errors.Join(errs...)
}
