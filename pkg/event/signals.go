package event

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// RelaySignals forwards SIGINT, SIGTERM and SIGHUP, or the given signals,
// onto events until the returned stop function is called. Stop is safe to
// call more than once.
func RelaySignals(events chan<- Event, sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
	}
	incoming := make(chan os.Signal, 1)
	signal.Notify(incoming, sigs...)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case sig := <-incoming:
				select {
				case events <- Signal(sig):
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(incoming)
			close(done)
			wg.Wait()
		})
	}
}
