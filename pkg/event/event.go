package event

import (
	"fmt"
	"os"
)

// Kind tells the dispatcher which source produced an event.
type Kind int

const (
	// KindHardwareEdge is a debounced transition on a monitored line.
	KindHardwareEdge Kind = iota
	// KindWorkerDone is posted by a delivery worker right before it exits.
	KindWorkerDone
	// KindSignal carries an operating system signal.
	KindSignal
)

func (k Kind) String() string {
	switch k {
	case KindHardwareEdge:
		return "hardware_edge"
	case KindWorkerDone:
		return "worker_done"
	case KindSignal:
		return "signal"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is the single message type consumed by the dispatcher. Only the
// field matching Kind is meaningful.
type Event struct {
	Kind     Kind
	Pin      int
	WorkerID string
	Signal   os.Signal
}

// HardwareEdge returns the event for a transition on pin.
func HardwareEdge(pin int) Event {
	return Event{Kind: KindHardwareEdge, Pin: pin}
}

// WorkerDone returns the completion event of worker id.
func WorkerDone(id string) Event {
	return Event{Kind: KindWorkerDone, WorkerID: id}
}

// Signal returns the event for a received signal.
func Signal(sig os.Signal) Event {
	return Event{Kind: KindSignal, Signal: sig}
}

func (e Event) String() string {
	switch e.Kind {
	case KindHardwareEdge:
		return fmt.Sprintf("%s pin=%d", e.Kind, e.Pin)
	case KindWorkerDone:
		return fmt.Sprintf("%s worker=%s", e.Kind, e.WorkerID)
	case KindSignal:
		return fmt.Sprintf("%s %v", e.Kind, e.Signal)
	default:
		return e.Kind.String()
	}
}
