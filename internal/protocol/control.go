package protocol

import (
	"fmt"

	"github.com/loadfabric/loadfabric/internal/wire"
)

// JobControlRequest drives a job through START/STOP transitions
// (spec.md §3 Job-Control-Request, §4.5.1).
type JobControlRequest struct {
	JobID string
	Op    ControlOp
}

func (m JobControlRequest) Tag() byte { return wire.TagJobControlRequest }

func (m JobControlRequest) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("protocol: JobControlRequest.JobID must not be empty")
	}
	if m.Op < OpStart || m.Op > OpStopDueToShutdown {
		return fmt.Errorf("protocol: JobControlRequest.Op %d out of range", m.Op)
	}
	return nil
}

func (m JobControlRequest) Encode() wire.Element {
	return wire.NewComposite(wire.ApplicationTag(m.Tag()),
		wire.NewOctets([]byte(m.JobID)),
		wire.NewEnum(int64(m.Op)),
	)
}

func decodeJobControlRequest(el wire.Element) (JobControlRequest, error) {
	if len(el.Children) != 2 {
		return JobControlRequest{}, fmt.Errorf("protocol: JobControlRequest expects 2 fields, got %d", len(el.Children))
	}
	op, err := el.Children[1].Int()
	if err != nil {
		return JobControlRequest{}, fmt.Errorf("protocol: JobControlRequest.Op: %w", err)
	}
	return JobControlRequest{JobID: el.Children[0].String(), Op: ControlOp(op)}, nil
}

// JobControlResponse answers a Job-Control-Request
// (spec.md §3 Job-Control-Response).
type JobControlResponse struct {
	JobID        string
	ResponseCode ResponseCode
	Message      string
}

func (m JobControlResponse) Tag() byte { return wire.TagJobControlResponse }

func (m JobControlResponse) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("protocol: JobControlResponse.JobID must not be empty")
	}
	return nil
}

func (m JobControlResponse) Encode() wire.Element {
	return wire.NewComposite(wire.ApplicationTag(m.Tag()),
		wire.NewOctets([]byte(m.JobID)),
		wire.NewEnum(int64(m.ResponseCode)),
		wire.NewOctets([]byte(m.Message)),
	)
}

func decodeJobControlResponse(el wire.Element) (JobControlResponse, error) {
	if len(el.Children) != 3 {
		return JobControlResponse{}, fmt.Errorf("protocol: JobControlResponse expects 3 fields, got %d", len(el.Children))
	}
	code, err := el.Children[1].Int()
	if err != nil {
		return JobControlResponse{}, fmt.Errorf("protocol: JobControlResponse.ResponseCode: %w", err)
	}
	return JobControlResponse{
		JobID:        el.Children[0].String(),
		ResponseCode: ResponseCode(code),
		Message:      el.Children[2].String(),
	}, nil
}
