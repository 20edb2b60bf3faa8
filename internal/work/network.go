package work

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// NetworkMonitor reports network readiness.
type NetworkMonitor interface {
	// Online reports the last known state.
	Online() bool

	// Changed is signalled after the state flips. Signals coalesce, so a
	// reader must re-check Online. It is meant for a single reader.
	Changed() <-chan struct{}
}

type changeSignal struct {
	ch chan struct{}
}

// newChangeSignal creates a signal holding at most one pending change.
func newChangeSignal() changeSignal {
	return changeSignal{ch: make(chan struct{}, 1)}
}

// notify records a change without blocking.
func (c changeSignal) notify() {
	select {
	case c.ch <- struct{}{}:
	default:
	}
}

// StaticMonitor is a NetworkMonitor whose state is set by hand.
type StaticMonitor struct {
	online  atomic.Bool
	changed changeSignal
}

// NewStaticMonitor creates a monitor in the given state.
func NewStaticMonitor(online bool) *StaticMonitor {
	m := &StaticMonitor{changed: newChangeSignal()}
	m.online.Store(online)

	return m
}

// Online implements NetworkMonitor.
func (m *StaticMonitor) Online() bool {
	return m.online.Load()
}

// Changed implements NetworkMonitor.
func (m *StaticMonitor) Changed() <-chan struct{} {
	return m.changed.ch
}

// SetOnline changes the state.
func (m *StaticMonitor) SetOnline(online bool) {
	if m.online.Swap(online) != online {
		m.changed.notify()
	}
}

// ProbeConfig holds the parameters of a ProbeMonitor.
type ProbeConfig struct {
	// Addr is the host:port dialed by each probe.
	Addr string

	Interval time.Duration
	Timeout  time.Duration
}

// ProbeMonitor decides readiness by periodically opening a TCP connection.
// It reports offline until the first probe completes.
type ProbeMonitor struct {
	cfg ProbeConfig

	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	online  atomic.Bool
	changed changeSignal

	runOnce sync.Once
}

// NewProbeMonitor creates a monitor. Run starts the probing.
func NewProbeMonitor(cfg ProbeConfig) *ProbeMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}

	var d net.Dialer

	return &ProbeMonitor{
		cfg:     cfg,
		dial:    d.DialContext,
		changed: newChangeSignal(),
	}
}

// Online implements NetworkMonitor.
func (m *ProbeMonitor) Online() bool {
	return m.online.Load()
}

// Changed implements NetworkMonitor.
func (m *ProbeMonitor) Changed() <-chan struct{} {
	return m.changed.ch
}

// Run probes until ctx is done. Only the first call probes; later calls
// return immediately.
func (m *ProbeMonitor) Run(ctx context.Context) error {
	first := false
	m.runOnce.Do(func() { first = true })
	if !first {
		return nil
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.probe(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// probe runs one check and records its result.
func (m *ProbeMonitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	conn, err := m.dial(probeCtx, "tcp", m.cfg.Addr)
	online := err == nil
	if conn != nil {
		_ = conn.Close()
	}

	if ctx.Err() != nil {
		return
	}

	if m.online.Swap(online) == online {
		return
	}

	if online {
		log.InfoS(ctx, "Network is up", "probe_addr", m.cfg.Addr)
	} else {
		log.WarnS(ctx, "Network is down", err,
			"probe_addr", m.cfg.Addr)
	}

	m.changed.notify()
}

var (
	_ NetworkMonitor = (*StaticMonitor)(nil)
	_ NetworkMonitor = (*ProbeMonitor)(nil)
)
