package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/session/auth"
)

// Identity carries the static configuration a worker presents during dial
// (spec.md §6 Configuration surface client_id, supports_time_sync,
// restricted_mode, auth_type/auth_id/auth_credentials).
type Identity struct {
	Version           string
	ID                string
	Auth              *protocol.AuthCredentials
	RequestServerAuth bool
	RestrictedMode    bool
	SupportsTimeSync  bool
}

// DialWorker performs the worker side of the handshake (spec.md §4.4 steps
// 1-3) over an already-connected net.Conn. On success it returns a Session
// in StateReady and the HelloResponse the coordinator sent. A response code
// in HelloResponse.TerminatesSession() ends the session without retry; the
// returned Session is in StateRejected and must not be reused.
func DialWorker(ctx context.Context, conn net.Conn, id Identity, handshakeTimeout time.Duration, log *zap.Logger) (*Session, protocol.HelloResponse, error) {
	s := newSession(conn, protocol.RoleWorker, log.Named("session"))

	hello := protocol.ClientHello{
		ClientVersion:     id.Version,
		ClientID:          id.ID,
		Auth:              id.Auth,
		RequestServerAuth: id.RequestServerAuth,
		RestrictedMode:    id.RestrictedMode,
		SupportsTimeSync:  id.SupportsTimeSync,
	}
	s.ReadTimeout = handshakeTimeout
	if _, err := s.Send(hello); err != nil {
		s.setState(StateFaulted)
		return s, protocol.HelloResponse{}, fmt.Errorf("session: dial: send Client-Hello: %w", err)
	}
	s.setState(StateHelloSent)

	deadline := time.Now().Add(handshakeTimeout)
	var resp protocol.HelloResponse
	for {
		if time.Now().After(deadline) {
			s.setState(StateFaulted)
			return s, protocol.HelloResponse{}, fmt.Errorf("session: dial: handshake timed out waiting for Hello-Response")
		}
		rcv, ok, err := s.ReadNext()
		if err != nil {
			s.setState(StateFaulted)
			return s, protocol.HelloResponse{}, fmt.Errorf("session: dial: read Hello-Response: %w", err)
		}
		if !ok {
			continue
		}
		hr, isHello := rcv.Body.(protocol.HelloResponse)
		if !isHello {
			continue // ignore anything out of order before the handshake completes
		}
		resp = hr
		break
	}

	localNow := time.Now().UnixMilli()
	if resp.ServerEpochMillis != nil {
		s.mu.Lock()
		s.skewMillis = *resp.ServerEpochMillis - localNow
		skew := s.skewMillis
		s.mu.Unlock()
		if skew > MaxSkewMillis || skew < -MaxSkewMillis {
			log.Warn("clock skew exceeds tolerance",
				zap.Int64("skew_ms", skew), zap.String("peer", conn.RemoteAddr().String()))
		}
	}

	if resp.ResponseCode.TerminatesSession() {
		s.setState(StateRejected)
		return s, resp, fmt.Errorf("session: dial: rejected: %s: %s", resp.ResponseCode, resp.Message)
	}
	if resp.ResponseCode != protocol.Success {
		// Non-fatal non-success: reported to the caller, but the connection
		// remains usable for retry (spec.md §4.4 step 2).
		s.setState(StateHelloAcked)
		return s, resp, nil
	}

	s.setState(StateReady)
	return s, resp, nil
}

// AcceptConfig configures the coordinator side of the handshake.
type AcceptConfig struct {
	ServerVersion    string
	ServerID         string
	Auth             *protocol.AuthCredentials // sent back only if RequestServerAuth was set
	Verifier         *auth.Registry
	HandshakeTimeout time.Duration
}

// AcceptCoordinator performs the coordinator side of the handshake
// (spec.md §4.4 steps 1-3) over an already-accepted net.Conn. It reads the
// Client-Hello, verifies auth via cfg.Verifier, and replies with
// Hello-Response. On success it returns a Session in StateReady and the
// decoded ClientHello so the caller can record the worker's identity.
func AcceptCoordinator(ctx context.Context, conn net.Conn, cfg AcceptConfig, log *zap.Logger) (*Session, protocol.ClientHello, error) {
	s := newSession(conn, protocol.RoleCoordinator, log.Named("session"))
	s.ReadTimeout = cfg.HandshakeTimeout

	deadline := time.Now().Add(cfg.HandshakeTimeout)
	var hello protocol.ClientHello
	var helloID int64
	for {
		if time.Now().After(deadline) {
			s.setState(StateFaulted)
			return s, protocol.ClientHello{}, fmt.Errorf("session: accept: handshake timed out waiting for Client-Hello")
		}
		rcv, ok, err := s.ReadNext()
		if err != nil {
			s.setState(StateFaulted)
			return s, protocol.ClientHello{}, fmt.Errorf("session: accept: read Client-Hello: %w", err)
		}
		if !ok {
			continue
		}
		ch, isHello := rcv.Body.(protocol.ClientHello)
		if !isHello {
			continue
		}
		hello = ch
		helloID = rcv.MessageID
		break
	}

	code := protocol.Success
	msg := "ok"
	if err := cfg.Verifier.Verify(ctx, hello.Auth); err != nil {
		code = classifyAuthError(err)
		msg = err.Error()
	}

	resp := protocol.HelloResponse{ResponseCode: code, Message: msg}
	if hello.SupportsTimeSync {
		now := time.Now().UnixMilli()
		resp.ServerEpochMillis = &now
	}
	if err := s.Reply(helloID, resp); err != nil {
		s.setState(StateFaulted)
		return s, hello, fmt.Errorf("session: accept: send Hello-Response: %w", err)
	}

	if resp.ResponseCode.TerminatesSession() {
		s.setState(StateRejected)
		return s, hello, fmt.Errorf("session: accept: rejected %s: %s", code, msg)
	}

	s.setState(StateReady)
	return s, hello, nil
}

// AcceptFleet performs the fleet-control counterpart to AcceptCoordinator
// (spec.md §3/§6 Client-Manager-Hello): it waits for the supervisor's
// opening ClientManagerHello, with no handshake response defined for this
// variant (the catalogue pairs it with no Hello-Response), and returns a
// ready Session the caller can keep dispatching Start/Stop-Client messages
// over. Separated from AcceptCoordinator rather than folded into it because
// that function's read loop discards any message it does not recognize as
// ClientHello — a fleet connection would stall it forever.
func AcceptFleet(ctx context.Context, conn net.Conn, handshakeTimeout time.Duration, log *zap.Logger) (*Session, protocol.ClientManagerHello, error) {
	s := newSession(conn, protocol.RoleCoordinator, log.Named("session"))
	s.ReadTimeout = handshakeTimeout

	deadline := time.Now().Add(handshakeTimeout)
	for {
		if time.Now().After(deadline) {
			s.setState(StateFaulted)
			return s, protocol.ClientManagerHello{}, fmt.Errorf("session: accept fleet: handshake timed out waiting for Client-Manager-Hello")
		}
		rcv, ok, err := s.ReadNext()
		if err != nil {
			s.setState(StateFaulted)
			return s, protocol.ClientManagerHello{}, fmt.Errorf("session: accept fleet: read Client-Manager-Hello: %w", err)
		}
		if !ok {
			continue
		}
		hello, isHello := rcv.Body.(protocol.ClientManagerHello)
		if !isHello {
			continue
		}
		s.setState(StateReady)
		return s, hello, nil
	}
}

func classifyAuthError(err error) protocol.ResponseCode {
	switch {
	case err == nil:
		return protocol.Success
	case errors.Is(err, auth.ErrUnknownID):
		return protocol.UnknownAuthID
	default:
		return protocol.InvalidCredentials
	}
}
