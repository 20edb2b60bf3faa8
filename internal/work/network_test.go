package work

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStaticMonitor(t *testing.T) {
	m := NewStaticMonitor(false)
	require.False(t, m.Online())

	m.SetOnline(true)
	require.True(t, m.Online())

	// Repeated sets coalesce into one signal.
	m.SetOnline(true)
	select {
	case <-m.Changed():
	default:
		t.Fatal("change not signalled")
	}
	select {
	case <-m.Changed():
		t.Fatal("unexpected second signal")
	default:
	}
}

// TestProbeMonitor checks that the probe follows a local listener going up
// and down.
func TestProbeMonitor(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	m := NewProbeMonitor(ProbeConfig{
		Addr:     ln.Addr().String(),
		Interval: 10 * time.Millisecond,
		Timeout:  100 * time.Millisecond,
	})
	require.False(t, m.Online())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	require.Eventually(t, m.Online, time.Second, 5*time.Millisecond)

	require.NoError(t, ln.Close())
	require.Eventually(t, func() bool {
		return !m.Online()
	}, time.Second, 5*time.Millisecond)

	// A second Run is a no-op.
	require.NoError(t, m.Run(ctx))

	cancel()
	require.NoError(t, <-done)
}
