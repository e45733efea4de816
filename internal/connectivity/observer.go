package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Snapshot is a point-in-time view of reachability.
// Version increases by one with every accepted change.
type Snapshot struct {
	Reachable bool
	Version   uint64
}

// Source is the upstream push-based connectivity signal.
//
//go:generate mockgen -destination=mocks/mock_source.go -package=mocks -source=observer.go Source
type Source interface {
	// Subscribe starts delivering reachability values on the returned channel.
	// The channel is closed when ctx is done or the source shuts down.
	Subscribe(ctx context.Context) (<-chan bool, error)
}

// Listener is notified of reachability changes
type Listener func(Snapshot)

// Observer exposes a synchronous, lock-free view of an upstream Source
type Observer struct {
	source   Source
	snapshot atomic.Pointer[Snapshot]

	subscribeOnce sync.Once
	cancel        context.CancelFunc
	done          chan struct{}

	settleOnce sync.Once
	settled    chan struct{}

	listenersMu sync.Mutex
	listeners   []Listener
}

// NewObserver creates an observer for src. Until the first upstream value
// arrives the observer reports reachable.
func NewObserver(src Source) *Observer {
	o := &Observer{
		source:  src,
		done:    make(chan struct{}),
		settled: make(chan struct{}),
	}
	o.snapshot.Store(&Snapshot{Reachable: true})
	return o
}

// Subscribe begins observing the source. Only the first call has any effect.
// If the source cannot be subscribed to, the observer keeps its optimistic
// default and logs a warning.
func (o *Observer) Subscribe(ctx context.Context) {
	o.subscribeOnce.Do(func() {
		obsCtx, cancel := context.WithCancel(ctx)
		o.cancel = cancel

		events, err := o.source.Subscribe(obsCtx)
		if err != nil {
			slog.Warn("Connectivity source unavailable, assuming reachable", "error", err)
			o.settle()
			close(o.done)
			return
		}

		go o.run(obsCtx, events)
	})
}

// IsReachable returns the last observed reachability without blocking
func (o *Observer) IsReachable() bool {
	return o.snapshot.Load().Reachable
}

// Snapshot returns the current snapshot
func (o *Observer) Snapshot() Snapshot {
	return *o.snapshot.Load()
}

// Settled is closed once the first upstream value has been applied, or once
// it is known that none will arrive (source unavailable, closed, or the
// observer stopped). Duplicate first values settle the observer too.
func (o *Observer) Settled() <-chan struct{} {
	return o.settled
}

func (o *Observer) settle() {
	o.settleOnce.Do(func() { close(o.settled) })
}

// OnChange registers a listener that is called after every accepted change
func (o *Observer) OnChange(l Listener) {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()
	o.listeners = append(o.listeners, l)
}

// Close stops observing and waits for pending listener calls to return.
// Close on an observer that was never subscribed is a no-op.
func (o *Observer) Close() {
	// An observer that was never subscribed has nothing to wait for.
	o.subscribeOnce.Do(func() { close(o.done) })
	if o.cancel != nil {
		o.cancel()
	}
	<-o.done
	o.settle()
}

func (o *Observer) run(ctx context.Context, events <-chan bool) {
	defer close(o.done)
	defer o.settle()

	for {
		select {
		case <-ctx.Done():
			return
		case reachable, ok := <-events:
			if !ok {
				slog.Debug("Connectivity source closed")
				return
			}
			o.accept(reachable)
			o.settle()
		}
	}
}

// accept stores reachable if it differs from the current value and notifies
// listeners. It only ever runs on the observer goroutine.
func (o *Observer) accept(reachable bool) {
	current := o.snapshot.Load()
	if current.Reachable == reachable {
		return
	}

	next := &Snapshot{Reachable: reachable, Version: current.Version + 1}
	o.snapshot.Store(next)
	slog.Info("Connectivity changed", "reachable", reachable, "version", next.Version)

	o.listenersMu.Lock()
	listeners := make([]Listener, len(o.listeners))
	copy(listeners, o.listeners)
	o.listenersMu.Unlock()

	for _, l := range listeners {
		l(*next)
	}
}
