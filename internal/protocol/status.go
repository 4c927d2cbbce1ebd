package protocol

import (
	"fmt"

	"github.com/loadfabric/loadfabric/internal/wire"
)

// StatusRequest asks a peer for a health snapshot, optionally scoped to one
// job (spec.md §3 Status-Request/Response).
type StatusRequest struct {
	JobID string // empty means "overall health only"
}

func (m StatusRequest) Tag() byte { return wire.TagStatusRequest }

func (m StatusRequest) Validate() error { return nil }

func (m StatusRequest) Encode() wire.Element {
	return wire.NewComposite(wire.ApplicationTag(m.Tag()), wire.NewOctets([]byte(m.JobID)))
}

func decodeStatusRequest(el wire.Element) (StatusRequest, error) {
	if len(el.Children) != 1 {
		return StatusRequest{}, fmt.Errorf("protocol: StatusRequest expects 1 field, got %d", len(el.Children))
	}
	return StatusRequest{JobID: el.Children[0].String()}, nil
}

// StatusResponse answers a StatusRequest. Field layout is explicit and
// positional per spec.md §9's first Open Question: the source's decoder
// appears to index the same element twice when reading client state (likely
// a bug in the implementation this was distilled from). This implementation
// preserves four distinct slots instead of copying that ambiguity:
// [0]=ResponseCode, [1]=ClientState, [2]=ClientMessage, [3]?=JobStatus.
type StatusResponse struct {
	ResponseCode  ResponseCode
	ClientState   string
	ClientMessage string
	JobStatus     *JobState // present only when the request named a JobID
}

func (m StatusResponse) Tag() byte { return wire.TagStatusResponse }

func (m StatusResponse) Validate() error { return nil }

func (m StatusResponse) Encode() wire.Element {
	children := []wire.Element{
		wire.NewEnum(int64(m.ResponseCode)),
		wire.NewOctets([]byte(m.ClientState)),
		wire.NewOctets([]byte(m.ClientMessage)),
	}
	if m.JobStatus != nil {
		children = append(children, wire.NewEnum(int64(*m.JobStatus)))
	}
	return wire.NewComposite(wire.ApplicationTag(m.Tag()), children...)
}

func decodeStatusResponse(el wire.Element) (StatusResponse, error) {
	n := len(el.Children)
	if n < 3 || n > 4 {
		return StatusResponse{}, fmt.Errorf("protocol: StatusResponse arity %d out of range [3,4]", n)
	}
	code, err := el.Children[0].Int()
	if err != nil {
		return StatusResponse{}, fmt.Errorf("protocol: StatusResponse.ResponseCode: %w", err)
	}
	m := StatusResponse{
		ResponseCode:  ResponseCode(code),
		ClientState:   el.Children[1].String(),
		ClientMessage: el.Children[2].String(),
	}
	if n == 4 {
		js, err := el.Children[3].Int()
		if err != nil {
			return StatusResponse{}, fmt.Errorf("protocol: StatusResponse.JobStatus: %w", err)
		}
		v := JobState(js)
		m.JobStatus = &v
	}
	return m, nil
}
