package connectivity

import (
	"context"
	"log/slog"
	"net"
	"time"

	"k8s.io/utils/clock"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// Dialer opens network connections; *net.Dialer satisfies it
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ProbeSource derives reachability from periodic TCP dials to a single address
type ProbeSource struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	dialer   Dialer
	clock    clock.WithTicker
}

// ProbeOption configures a ProbeSource
type ProbeOption func(*ProbeSource)

// WithProbeInterval sets the time between probes
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(p *ProbeSource) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeTimeout bounds a single dial
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *ProbeSource) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDialer replaces the dialer used for probes
func WithDialer(d Dialer) ProbeOption {
	return func(p *ProbeSource) {
		p.dialer = d
	}
}

// WithProbeClock replaces the clock driving the probe ticker
func WithProbeClock(c clock.WithTicker) ProbeOption {
	return func(p *ProbeSource) {
		p.clock = c
	}
}

// NewProbeSource creates a source that dials address ("host:port")
func NewProbeSource(address string, opts ...ProbeOption) *ProbeSource {
	p := &ProbeSource{
		address:  address,
		interval: defaultProbeInterval,
		timeout:  defaultProbeTimeout,
		dialer:   &net.Dialer{},
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Timeout bounds a single probe
func (p *ProbeSource) Timeout() time.Duration {
	return p.timeout
}

// Subscribe probes immediately and then once per interval until ctx is done
func (p *ProbeSource) Subscribe(ctx context.Context) (<-chan bool, error) {
	ch := make(chan bool, 1)

	go func() {
		defer close(ch)

		ticker := p.clock.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case ch <- p.probe(ctx):
			case <-ctx.Done():
				return
			}

			select {
			case <-ticker.C():
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func (p *ProbeSource) probe(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(dialCtx, "tcp", p.address)
	if err != nil {
		slog.Debug("Connectivity probe failed", "address", p.address, "error", err)
		return false
	}
	_ = conn.Close()
	return true
}
