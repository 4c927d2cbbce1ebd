// Package protocol implements the typed message catalogue that rides the
// Tag/Length/Value codec: the envelope that correlates requests with
// responses, and one encode/decode/validate triad per message kind named in
// the wire protocol's application tag table.
package protocol

import (
	"fmt"
	"sync/atomic"

	"github.com/loadfabric/loadfabric/internal/wire"
)

// Role selects which half of the even/odd messageID parity a connection
// endpoint owns — worker issues even IDs, coordinator issues odd
// (spec.md §3 Message envelope, §4.4 ID allocation).
type Role int

const (
	RoleWorker Role = iota
	RoleCoordinator
)

// IDAllocator hands out monotonically increasing message IDs of the correct
// parity for one connection's lifetime. Stepping by 2 keeps the sequence's
// parity fixed without needing a branch on every allocation.
type IDAllocator struct {
	next int64
}

// NewIDAllocator returns an allocator whose first Next() call yields 0 (for
// RoleWorker) or 1 (for RoleCoordinator).
func NewIDAllocator(role Role) *IDAllocator {
	a := &IDAllocator{}
	if role == RoleCoordinator {
		a.next = -1 // first Next() add(2) yields 1
	} else {
		a.next = -2 // first Next() add(2) yields 0
	}
	return a
}

// Next atomically returns the next message ID for this connection.
func (a *IDAllocator) Next() int64 {
	return atomic.AddInt64(&a.next, 2)
}

// Envelope is the two-element composite every control-channel message rides
// in: {messageID, body}. body is itself an application-tagged composite
// element produced by a message's Encode method.
type Envelope struct {
	MessageID int64
	Body      wire.Element
}

// envelopeTag wraps an Envelope as a universal sequence — the envelope
// itself does not need an application tag because its Body element already
// carries one, and decoders dispatch on that inner tag.
var envelopeTag = wire.UniversalComposite(wire.TypeSequence)

// Encode serializes the envelope for the writer.
func (e Envelope) Encode() wire.Element {
	return wire.NewComposite(envelopeTag, wire.NewInteger(e.MessageID), e.Body)
}

// DecodeEnvelope reconstructs an Envelope from a top-level element read off
// the wire.
func DecodeEnvelope(el wire.Element) (Envelope, error) {
	if !el.Tag.Composite || len(el.Children) != 2 {
		return Envelope{}, fmt.Errorf("protocol: envelope must be a 2-child composite, got %d children", len(el.Children))
	}
	id, err := el.Children[0].Int()
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: envelope messageID: %w", err)
	}
	return Envelope{MessageID: id, Body: el.Children[1]}, nil
}
