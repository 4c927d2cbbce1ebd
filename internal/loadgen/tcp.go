package loadgen

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/stats"
)

// tcpWorkload repeats a bare TCP dial/close cycle against a fixed address,
// recording connect latency in milliseconds — the "tcp" job class's
// deliberately minimal counterpart to httpWorkload (spec.md Non-goal (a)).
type tcpWorkload struct {
	dialer *net.Dialer
}

// NewTCPWorkload builds the "tcp" job class's Workload. Recognized
// parameters: "addr" (required, host:port).
func NewTCPWorkload() tcpWorkload {
	return tcpWorkload{dialer: &net.Dialer{Timeout: 5 * time.Second}}
}

func (w tcpWorkload) Run(ctx context.Context, params []protocol.Parameter, tracker *stats.Tracker) error {
	addr, ok := paramValue(params, "addr")
	if !ok || addr == "" {
		return fmt.Errorf("loadgen: tcp job class requires an %q parameter", "addr")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		start := time.Now()
		conn, err := w.dialer.DialContext(ctx, "tcp", addr)
		now := time.Now()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			tracker.AddValue(now, float64(now.Sub(start).Milliseconds()))
			continue
		}
		conn.Close()
		tracker.AddValue(now, float64(now.Sub(start).Milliseconds()))
	}
}
