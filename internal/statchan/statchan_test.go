package statchan

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/stats"
)

type capturingSink struct {
	ch chan []stats.IntervalSample
}

func (s *capturingSink) Publish(samples []stats.IntervalSample) {
	s.ch <- samples
}

func TestClientServerRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sink := &capturingSink{ch: make(chan []stats.IntervalSample, 4)}
	srv := NewServer(sink, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.handle(ctx, serverConn)

	c := &Client{clientID: "worker-1", log: zap.NewNop(), seen: make(map[string]bool)}
	c.conn = newConn(clientConn, protocol.RoleWorker)

	c.Publish([]stats.IntervalSample{
		{JobID: "job-1", DisplayName: "requests", Owner: stats.Owner{ClientID: "worker-1"}, Interval: 0, Value: 42, Count: 3},
	})

	select {
	case got := <-sink.ch:
		if len(got) != 1 {
			t.Fatalf("expected 1 sample, got %d", len(got))
		}
		if got[0].JobID != "job-1" || got[0].DisplayName != "requests" || got[0].Value != 42 {
			t.Fatalf("unexpected sample: %+v", got[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published sample")
	}

	if c.DroppedCount() != 0 {
		t.Fatalf("expected no drops, got %d", c.DroppedCount())
	}
}

func TestClientDegradesToNoopOnDialFailure(t *testing.T) {
	c := Dial("127.0.0.1:0", "worker-1", zap.NewNop())
	c.Publish([]stats.IntervalSample{{JobID: "job-1", DisplayName: "x", Value: 1}})
	if c.DroppedCount() != 1 {
		t.Fatalf("expected dropped sample to be counted, got %d", c.DroppedCount())
	}
}
