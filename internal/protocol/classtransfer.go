package protocol

import (
	"fmt"

	"github.com/loadfabric/loadfabric/internal/wire"
)

// ClassTransferRequest asks the peer to ship the code for a pluggable
// workload or probe class the requester does not yet have locally
// (spec.md §3 Class-Transfer-Request, §6 "Class-Transfer (code
// distribution)"). The transferred bytes are opaque to the core — only the
// class name and a content checksum are interpreted here; how the bytes are
// unpacked into a worker-local directory is left to the caller
// (spec.md §6 Persisted state: "the layout of that directory is opaque to
// the core").
type ClassTransferRequest struct {
	ClassName string
}

func (m ClassTransferRequest) Tag() byte { return wire.TagClassTransferRequest }

func (m ClassTransferRequest) Validate() error {
	if m.ClassName == "" {
		return fmt.Errorf("protocol: ClassTransferRequest.ClassName must not be empty")
	}
	return nil
}

func (m ClassTransferRequest) Encode() wire.Element {
	return wire.NewComposite(wire.ApplicationTag(m.Tag()), wire.NewOctets([]byte(m.ClassName)))
}

func decodeClassTransferRequest(el wire.Element) (ClassTransferRequest, error) {
	if len(el.Children) != 1 {
		return ClassTransferRequest{}, fmt.Errorf("protocol: ClassTransferRequest expects 1 field, got %d", len(el.Children))
	}
	return ClassTransferRequest{ClassName: el.Children[0].String()}, nil
}

// ClassTransferResponse carries the class bytes (or a failure code) answering
// a ClassTransferRequest. Checksum is a SHA-256 digest of Payload, verified
// by the receiver before it is written to disk.
type ClassTransferResponse struct {
	ClassName    string
	ResponseCode ResponseCode
	Payload      []byte
	Checksum     []byte
}

func (m ClassTransferResponse) Tag() byte { return wire.TagClassTransferResponse }

func (m ClassTransferResponse) Validate() error {
	if m.ClassName == "" {
		return fmt.Errorf("protocol: ClassTransferResponse.ClassName must not be empty")
	}
	return nil
}

func (m ClassTransferResponse) Encode() wire.Element {
	return wire.NewComposite(wire.ApplicationTag(m.Tag()),
		wire.NewOctets([]byte(m.ClassName)),
		wire.NewEnum(int64(m.ResponseCode)),
		wire.NewOctets(m.Payload),
		wire.NewOctets(m.Checksum),
	)
}

func decodeClassTransferResponse(el wire.Element) (ClassTransferResponse, error) {
	if len(el.Children) != 4 {
		return ClassTransferResponse{}, fmt.Errorf("protocol: ClassTransferResponse expects 4 fields, got %d", len(el.Children))
	}
	code, err := el.Children[1].Int()
	if err != nil {
		return ClassTransferResponse{}, fmt.Errorf("protocol: ClassTransferResponse.ResponseCode: %w", err)
	}
	return ClassTransferResponse{
		ClassName:    el.Children[0].String(),
		ResponseCode: ResponseCode(code),
		Payload:      el.Children[2].Octets(),
		Checksum:     el.Children[3].Octets(),
	}, nil
}
