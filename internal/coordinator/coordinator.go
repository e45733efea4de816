package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/stacklok/cadence-sync/internal/connectivity"
	"github.com/stacklok/cadence-sync/internal/queue"
)

// Observer is the connectivity view the coordinator consumes
type Observer interface {
	IsReachable() bool
	OnChange(l connectivity.Listener)
}

// Drainer is the part of the queue the coordinator drives
//
//go:generate mockgen -destination=mocks/mock_drainer.go -package=mocks -source=coordinator.go Drainer
type Drainer interface {
	Drain(ctx context.Context) (queue.DrainResult, error)
	NextAttemptDelay(ctx context.Context) (time.Duration, bool, error)
}

// Coordinator drains the offline queue whenever connectivity allows
type Coordinator interface {
	// Start drains once if the network is already reachable, then drains on
	// every transition to reachable. Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop stops the coordinator and waits for a running drain to return
	Stop() error

	// RequestDrain asks for a drain, e.g. after an enqueue. It is a no-op
	// while the network is unreachable.
	RequestDrain()
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	observer Observer
	drainer  Drainer
	clock    clock.WithDelayedExecution

	// requests holds at most one pending drain request
	requests chan struct{}

	started    atomic.Bool
	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
	retry      clock.Timer
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithClock sets the clock used to schedule follow-up drains
func WithClock(clk clock.WithDelayedExecution) Option {
	return func(c *defaultCoordinator) {
		c.clock = clk
	}
}

// New creates a coordinator and registers it with the observer
func New(observer Observer, drainer Drainer, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		observer: observer,
		drainer:  drainer,
		clock:    clock.RealClock{},
		requests: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	observer.OnChange(func(s connectivity.Snapshot) {
		if s.Reachable {
			slog.Debug("Connectivity restored, requesting drain", "version", s.Version)
			c.request()
		}
	})
	return c
}

// ErrAlreadyStarted is returned by a second call to Start
var ErrAlreadyStarted = errors.New("sync coordinator already started")

// Start runs the drain loop. A coordinator runs at most once.
func (c *defaultCoordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	coordCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.stopRetry()
		close(c.done)
		slog.Info("Sync coordinator stopped")
	}()

	slog.Info("Starting sync coordinator", "reachable", c.observer.IsReachable())
	if c.observer.IsReachable() {
		c.request()
	}

	for {
		select {
		case <-c.requests:
			c.drain(coordCtx)
		case <-coordCtx.Done():
			return nil
		}
	}
}

// Stop cancels the drain loop and waits for it to exit
func (c *defaultCoordinator) Stop() error {
	c.mu.Lock()
	cancel := c.cancelFunc
	c.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping sync coordinator")
		cancel()
		<-c.done
	}
	return nil
}

// RequestDrain implements Coordinator
func (c *defaultCoordinator) RequestDrain() {
	if !c.observer.IsReachable() {
		slog.Debug("Drain request ignored while offline")
		return
	}
	c.request()
}

// request queues a drain without blocking; requests made while one is
// already queued are merged
func (c *defaultCoordinator) request() {
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

func (c *defaultCoordinator) drain(ctx context.Context) {
	// The request may have been queued before the network dropped
	if !c.observer.IsReachable() {
		slog.Debug("Skipping drain while offline")
		return
	}

	result, err := c.drainer.Drain(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Queue drain failed", "error", err)
		}
		return
	}
	if result.Skipped || (result.Retrying == "" && !result.Deferred) {
		return
	}

	delay, ok, err := c.drainer.NextAttemptDelay(ctx)
	if err != nil {
		slog.Error("Failed to compute next drain time", "error", err)
		return
	}
	if ok {
		c.scheduleRetry(delay)
	}
}

// scheduleRetry replaces any pending follow-up drain with one after delay
func (c *defaultCoordinator) scheduleRetry(delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retry != nil {
		c.retry.Stop()
	}
	slog.Debug("Scheduling follow-up drain", "delay", delay)
	c.retry = c.clock.AfterFunc(delay, c.RequestDrain)
}

func (c *defaultCoordinator) stopRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}
