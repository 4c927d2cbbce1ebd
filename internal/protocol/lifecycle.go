package protocol

import "github.com/loadfabric/loadfabric/internal/wire"

// Keepalive is an empty message sent by an idle connection to keep a
// middlebox or peer timeout from firing (spec.md §3, §4.4 step 4).
type Keepalive struct{}

func (m Keepalive) Tag() byte      { return wire.TagKeepalive }
func (m Keepalive) Validate() error { return nil }
func (m Keepalive) Encode() wire.Element {
	return wire.NewComposite(wire.ApplicationTag(m.Tag()))
}
func decodeKeepalive(el wire.Element) (Keepalive, error) { return Keepalive{}, nil }

// ServerShutdown is an empty best-effort notice a coordinator sends before
// closing a connection it is draining (spec.md §4.4 step 5, §4.6 failure
// semantics table "Server-Shutdown received by worker").
type ServerShutdown struct{}

func (m ServerShutdown) Tag() byte      { return wire.TagServerShutdown }
func (m ServerShutdown) Validate() error { return nil }
func (m ServerShutdown) Encode() wire.Element {
	return wire.NewComposite(wire.ApplicationTag(m.Tag()))
}
func decodeServerShutdown(el wire.Element) (ServerShutdown, error) { return ServerShutdown{}, nil }
