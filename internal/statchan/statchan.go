// Package statchan implements the real-time stat channel (spec.md §4.5.3,
// §2 "coordinator listens on two ports — a control port ... and a stat
// port"): a second, optional connection per worker carrying Register-Stat
// and Report-Stat traffic, independent of the control channel's ordering
// guarantees and write mutex (spec.md §5 "The real-time stat channel, if
// present, has its own writer mutex independent of the control channel").
//
// Framing is the same envelope internal/session uses (message-ID parity,
// TLV bodies), but this channel defines no handshake of its own — spec.md
// §4.5.3 describes it as "a separate, optional outbound connection", never
// a second Client-Hello/Hello-Response exchange — so conn is a thinner
// wrapper than Session, reused here rather than duplicated.
package statchan

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/stats"
	"github.com/loadfabric/loadfabric/internal/wire"
)

// DefaultReadTimeout bounds Server-side reads on a stat connection.
const DefaultReadTimeout = 30 * time.Second

// conn is the shared framed-I/O primitive for both ends of the stat
// channel (spec.md §4.1 TLV envelope, §3 message-ID parity).
type conn struct {
	nc  net.Conn
	r   *wire.Reader
	w   *wire.Writer
	ids *protocol.IDAllocator

	wmu sync.Mutex
}

func newConn(nc net.Conn, role protocol.Role) *conn {
	return &conn{
		nc:  nc,
		r:   wire.NewReader(nc, 0),
		w:   wire.NewWriter(nc),
		ids: protocol.NewIDAllocator(role),
	}
}

func (c *conn) send(msg protocol.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("statchan: refusing to send invalid message: %w", err)
	}
	env := protocol.Envelope{MessageID: c.ids.Next(), Body: msg.Encode()}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.w.WriteElement(env.Encode())
}

func (c *conn) readNext(timeout time.Duration) (protocol.Message, bool, error) {
	el, err := c.r.ReadElement(time.Now().Add(timeout))
	if err != nil {
		if wire.IsTimeout(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	env, err := protocol.DecodeEnvelope(el)
	if err != nil {
		return nil, false, err
	}
	body, err := protocol.DecodeBody(env.Body)
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func (c *conn) Close() error { return c.nc.Close() }

// Client is the worker-side stat.Sink implementation: it dials the
// coordinator's stat port once, sends Register-Stat the first time a
// (jobID, displayName) pair is published, then ships Report-Stat batches
// grouped by job (spec.md §4.5.3 "carry Register-Stat (once per
// (job, client, thread, displayName)) and Report-Stat"). A dial or write
// failure degrades to a no-op sink — the job keeps running either way
// (spec.md §4.3 "a stat channel failure logs and continues; it never fails
// the job").
type Client struct {
	clientID string
	log      *zap.Logger

	mu      sync.Mutex
	conn    *conn
	seen    map[string]bool
	dropped int64
}

// Dial opens the worker side of the stat channel. Failure to connect is
// logged, not returned: the caller gets a Client that silently drops every
// Publish, which is the correct degraded behavior for a best-effort channel.
func Dial(addr, clientID string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{clientID: clientID, log: log.Named("statchan"), seen: make(map[string]bool)}
	nc, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		c.log.Warn("stat channel dial failed, real-time stats disabled", zap.String("addr", addr), zap.Error(err))
		return c
	}
	c.conn = newConn(nc, protocol.RoleWorker)
	return c
}

// Publish implements stats.Sink (internal/worker.Reporter streams completed
// intervals here directly from the owning worker task).
func (c *Client) Publish(samples []stats.IntervalSample) {
	if len(samples) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.dropped += int64(len(samples))
		return
	}

	byJob := make(map[string][]protocol.StatValue)
	var order []string
	for _, s := range samples {
		key := s.JobID + "\x00" + s.DisplayName
		if !c.seen[key] {
			reg := protocol.RegisterStat{
				JobID:       s.JobID,
				ClientID:    c.clientID,
				ThreadID:    s.Owner.ThreadID,
				DisplayName: s.DisplayName,
			}
			if err := c.conn.send(reg); err != nil {
				c.log.Warn("register-stat send failed, dropping channel", zap.Error(err))
				c.dropped += int64(len(samples))
				c.conn = nil
				return
			}
			c.seen[key] = true
		}
		if _, ok := byJob[s.JobID]; !ok {
			order = append(order, s.JobID)
		}
		byJob[s.JobID] = append(byJob[s.JobID], protocol.StatValue{
			DisplayName: s.DisplayName,
			Interval:    s.Interval,
			Value:       s.Value,
			Count:       s.Count,
		})
	}

	for _, jobID := range order {
		report := protocol.ReportStat{JobID: jobID, ClientID: c.clientID, Values: byJob[jobID]}
		if err := c.conn.send(report); err != nil {
			c.log.Warn("report-stat send failed, dropping channel", zap.Error(err))
			c.dropped += int64(len(byJob[jobID]))
			c.conn = nil
			return
		}
	}
}

// DroppedCount returns the number of samples lost to a failed or absent
// stat channel since this Client was built.
func (c *Client) DroppedCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close releases the underlying connection, if one was established.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

var _ stats.Sink = (*Client)(nil)

// Server accepts stat-port connections on the coordinator side and
// republishes decoded Report-Stat batches to Sink — typically a
// *internal/wsfeed.Hub, so external observers see the same interval data the
// workers ship over this channel (spec.md §4.6 "aggregates completions and
// real-time streams").
type Server struct {
	sink stats.Sink
	log  *zap.Logger
}

// NewServer builds a Server that republishes every accepted connection's
// Report-Stat traffic to sink.
func NewServer(sink stats.Sink, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{sink: sink, log: log.Named("statchan.server")}
}

// Serve runs the accept loop until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("stat channel accept failed", zap.Error(err))
			continue
		}
		go s.handle(ctx, nc)
	}
}

func (s *Server) handle(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	c := newConn(nc, protocol.RoleCoordinator)

	for {
		if ctx.Err() != nil {
			return
		}
		msg, ok, err := c.readNext(DefaultReadTimeout)
		if err != nil {
			s.log.Warn("stat channel read failed", zap.String("remote_addr", nc.RemoteAddr().String()), zap.Error(err))
			return
		}
		if !ok {
			continue
		}
		report, isReport := msg.(protocol.ReportStat)
		if !isReport {
			continue // Register-Stat carries no data this server needs to act on
		}
		samples := make([]stats.IntervalSample, len(report.Values))
		for i, v := range report.Values {
			samples[i] = stats.IntervalSample{
				JobID:       report.JobID,
				DisplayName: v.DisplayName,
				Owner:       stats.Owner{ClientID: report.ClientID},
				Interval:    v.Interval,
				Value:       v.Value,
				Count:       v.Count,
			}
		}
		s.sink.Publish(samples)
	}
}
