package connectivity

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrAlreadySubscribed is returned when a Publisher is subscribed to twice
	ErrAlreadySubscribed = errors.New("publisher already has a subscriber")

	// ErrNotHostManaged is returned when the host tries to set reachability
	// while it is determined by a probe
	ErrNotHostManaged = errors.New("reachability is probed, not host-managed")
)

// Publisher is a Source fed by the host, typically from the platform's
// network path monitor. Only the most recent unread value is retained.
type Publisher struct {
	mu         sync.Mutex
	ch         chan bool
	subscribed bool
	closed     bool
}

// NewPublisher creates a publisher with no value pending
func NewPublisher() *Publisher {
	return &Publisher{ch: make(chan bool, 1)}
}

// Publish records the latest reachability value. It never blocks; a value
// that has not been read yet is replaced.
func (p *Publisher) Publish(reachable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	select {
	case <-p.ch:
	default:
	}
	p.ch <- reachable
}

// Subscribe returns the publisher's channel. Values published before the
// call are delivered too.
func (p *Publisher) Subscribe(_ context.Context) (<-chan bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscribed {
		return nil, ErrAlreadySubscribed
	}
	p.subscribed = true
	return p.ch, nil
}

// Close closes the channel; later Publish calls are ignored
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.ch)
}
