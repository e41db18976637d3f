package gpio

import (
	"fmt"
	"sync"
)

// Fake is an in-memory LineReader for tests and dry runs.
type Fake struct {
	mu     sync.Mutex
	levels map[int]bool
	errs   map[int]error
	reads  map[int]int
}

// NewFake returns a Fake with every line de-asserted.
func NewFake() *Fake {
	return &Fake{levels: map[int]bool{}, errs: map[int]error{}, reads: map[int]int{}}
}

// Set changes the level of pin.
func (f *Fake) Set(pin int, asserted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels[pin] = asserted
}

// FailWith makes reads of pin return err; nil clears it.
func (f *Fake) FailWith(pin int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, pin)
		return
	}
	f.errs[pin] = err
}

// Reads returns how often pin was read.
func (f *Fake) Reads(pin int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[pin]
}

func (f *Fake) Asserted(pin int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[pin]++
	if err := f.errs[pin]; err != nil {
		return false, fmt.Errorf("reading line %d: %w", pin, err)
	}
	return f.levels[pin], nil
}
