// Package session implements the per-connection state machine shared by
// every control-channel participant: framed I/O over internal/wire, the
// handshake (with optional mutual authentication and clock-skew
// correction), keepalive, read timeouts, and message-ID allocation
// (spec.md §4.4). Grounded on the teacher's agent/internal/connection's
// dial/register/reconnect loop (adapted here into DialWorker) and
// server/internal/grpc/server.go's accept-and-authenticate shape (adapted
// into AcceptCoordinator).
package session

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/wire"
)

// State is one node of the connection state machine in spec.md §4.4.
type State int32

const (
	StateDisconnected State = iota
	StateHelloSent
	StateHelloAcked
	StateReady
	StateDraining
	StateClosed
	StateRejected
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateHelloSent:
		return "HELLO_SENT"
	case StateHelloAcked:
		return "HELLO_ACKED"
	case StateReady:
		return "READY"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	case StateRejected:
		return "REJECTED"
	case StateFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN_STATE"
	}
}

// DefaultReadTimeout bounds each ReadElement call while READY (spec.md §4.4
// step 4, §5 "Read deadline defaults to several seconds").
const DefaultReadTimeout = 5 * time.Second

// MaxSkewMillis is the clock-skew magnitude beyond which a warning is
// surfaced (spec.md §4.4 step 3, §8 boundary behavior "exactly ±2000ms is
// tolerated").
const MaxSkewMillis = 2000

// Session is one connection's framed-I/O and lifecycle state. Exactly one
// reader task and one writer-mutex-holder use a Session at a time
// (spec.md §5).
type Session struct {
	conn net.Conn
	r    *wire.Reader
	w    *wire.Writer
	ids  *protocol.IDAllocator
	log  *zap.Logger

	state State // written only via setState (atomic)

	mu                      sync.Mutex
	skewMillis              int64
	consecutiveDecodeErrors int
	peerEpochSent           bool

	ReadTimeout time.Duration
}

// newSession wraps an already-dialed/accepted net.Conn. Unexported — callers
// go through DialWorker/AcceptCoordinator so a Session is never observable
// before its handshake completes.
func newSession(conn net.Conn, role protocol.Role, log *zap.Logger) *Session {
	return &Session{
		conn:        conn,
		r:           wire.NewReader(conn, 0),
		w:           wire.NewWriter(conn),
		ids:         protocol.NewIDAllocator(role),
		log:         log,
		state:       StateDisconnected,
		ReadTimeout: DefaultReadTimeout,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(atomic.LoadInt32((*int32)(&s.state)))
}

func (s *Session) setState(st State) {
	atomic.StoreInt32((*int32)(&s.state), int32(st))
}

// Close closes the underlying connection. Safe to call more than once.
func (s *Session) Close() error {
	s.setState(StateClosed)
	return s.conn.Close()
}

// SkewMillis returns the signed clock-skew fixed at handshake: peerEpoch -
// localEpoch (spec.md §4.4 step 3).
func (s *Session) SkewMillis() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skewMillis
}

// CorrectInbound converts a timestamp embedded in a received message (the
// sender's clock frame) to local time (spec.md §3 invariant: "Timestamps
// embedded in a message are always in the sender's clock frame; the
// receiver corrects with the skew established at handshake").
func (s *Session) CorrectInbound(peerMillis int64) int64 {
	return peerMillis - s.SkewMillis()
}

// CorrectOutbound converts a local timestamp to the peer's clock frame
// before it is placed on the wire.
func (s *Session) CorrectOutbound(localMillis int64) int64 {
	return localMillis + s.SkewMillis()
}

// Send encodes and writes one message, allocating the next message ID for
// this connection. It returns the ID used, so callers correlating a request
// with its eventual response can remember it.
func (s *Session) Send(msg protocol.Message) (int64, error) {
	if err := msg.Validate(); err != nil {
		return 0, fmt.Errorf("session: refusing to send invalid message: %w", err)
	}
	id := s.ids.Next()
	env := protocol.Envelope{MessageID: id, Body: msg.Encode()}
	if err := s.w.WriteElement(env.Encode()); err != nil {
		return id, fmt.Errorf("session: write failed: %w", err)
	}
	return id, nil
}

// Reply encodes and writes msg reusing an existing request's message ID,
// per spec.md §3 "responses reuse the request's ID".
func (s *Session) Reply(messageID int64, msg protocol.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("session: refusing to send invalid reply: %w", err)
	}
	env := protocol.Envelope{MessageID: messageID, Body: msg.Encode()}
	if err := s.w.WriteElement(env.Encode()); err != nil {
		return fmt.Errorf("session: reply write failed: %w", err)
	}
	return nil
}

// Received is one fully decoded inbound envelope.
type Received struct {
	MessageID int64
	Body      protocol.Message
}

// ReadNext blocks for up to s.ReadTimeout for the next frame. A timeout
// returns (Received{}, false, nil) — not an error, and it does not count
// toward the two-consecutive-decode-failure DRAINING trigger (spec.md §4.4
// step 4/5). Any other decode failure increments the consecutive-error
// counter and, on the second in a row, transitions to DRAINING and returns
// the error so the caller can act on it (send Server-Shutdown, stop local
// jobs, close).
func (s *Session) ReadNext() (Received, bool, error) {
	el, err := s.r.ReadElement(time.Now().Add(s.ReadTimeout))
	if err != nil {
		if wire.IsTimeout(err) {
			return Received{}, false, nil
		}
		s.recordDecodeError()
		return Received{}, false, fmt.Errorf("session: read failed: %w", err)
	}

	env, err := protocol.DecodeEnvelope(el)
	if err != nil {
		s.recordDecodeError()
		return Received{}, false, fmt.Errorf("session: envelope decode failed: %w", err)
	}

	body, err := protocol.DecodeBody(env.Body)
	if err != nil {
		s.recordDecodeError()
		return Received{}, false, fmt.Errorf("session: body decode failed: %w", err)
	}

	s.mu.Lock()
	s.consecutiveDecodeErrors = 0
	s.mu.Unlock()

	return Received{MessageID: env.MessageID, Body: body}, true, nil
}

// recordDecodeError increments the consecutive-failure counter and, on the
// second in a row, transitions the session to DRAINING (spec.md §4.4 step
// 5, §7 kind 1 "two consecutive on the same connection trigger DRAINING").
func (s *Session) recordDecodeError() {
	s.mu.Lock()
	s.consecutiveDecodeErrors++
	faulted := s.consecutiveDecodeErrors >= 2
	s.mu.Unlock()

	if faulted {
		s.log.Warn("two consecutive decode failures, draining connection")
		s.setState(StateDraining)
	}
}

// ShouldDrain reports whether the session has crossed into DRAINING and the
// caller should stop local jobs and close (spec.md §4.4 step 5).
func (s *Session) ShouldDrain() bool {
	return s.State() == StateDraining
}
