/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package shutdown runs the warn, wait and power-off sequence of the host.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/snups/snupsd/pkg/config"
	"github.com/snups/snupsd/pkg/metrics"
	"github.com/snups/snupsd/pkg/utils"
)

// commandTimeout bounds the broadcast and power-off commands.
const commandTimeout = 30 * time.Second

// State of the shutdown sequence.
type State int32

const (
	// StateIdle means no shutdown was requested yet.
	StateIdle State = iota
	// StateInProgress means the sequence is running.
	StateInProgress
	// StateTerminated means the power-off command was invoked.
	StateTerminated
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInProgress:
		return "in-progress"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithSleep replaces the wait between broadcast and power-off.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// WithExit replaces the process exit called at the end of the sequence.
func WithExit(exit func(code int)) Option {
	return func(c *Controller) { c.exit = exit }
}

// Controller executes the shutdown sequence at most once per process.
type Controller struct {
	cfg    config.Shutdown
	runner utils.CommandRunner
	log    *zap.SugaredLogger
	sleep  func(time.Duration)
	exit   func(int)

	state atomic.Int32

	mu    sync.Mutex
	hooks []func()
}

// New creates a shutdown controller.
func New(cfg config.Shutdown, runner utils.CommandRunner, log *zap.SugaredLogger, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg,
		runner: runner,
		log:    log.Named("shutdown"),
		sleep:  time.Sleep,
		exit:   os.Exit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnShutdown registers fn to run before the wait, in registration order.
func (c *Controller) OnShutdown(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// State returns the current state of the sequence.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Trigger runs the shutdown sequence: broadcast a warning, log the reason,
// run the cleanup hooks, wait cfg.Wait, power off and exit. Only the first
// call does anything; the wait cannot be cancelled.
func (c *Controller) Trigger(reason string) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateInProgress)) {
		c.log.Infow("Shutdown already in progress, ignoring trigger", "reason", reason)
		return
	}
	metrics.ShutdownTriggered.WithLabelValues(reason).Inc()

	warning := fmt.Sprintf("System shutting down in %d seconds", int(c.cfg.Wait/time.Second))
	if err := c.run(c.cfg.BroadcastCommand, warning); err != nil {
		c.log.Warnw("Broadcasting shutdown warning failed", "error", err)
	}
	c.log.Warnw("Shutting down", "reason", reason, "wait", c.cfg.Wait.String())

	c.mu.Lock()
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()
	for _, hook := range hooks {
		hook()
	}

	c.sleep(c.cfg.Wait)

	if err := c.run(c.cfg.PowerOffCommand); err != nil {
		c.log.Errorw("Power-off command failed", "error", err)
	}
	c.state.Store(int32(StateTerminated))
	c.exit(0)
}

func (c *Controller) run(command string, extra ...string) error {
	name, args, err := utils.SplitCommand(command)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	_, err = c.runner.Run(ctx, name, append(args, extra...)...)
	return err
}
