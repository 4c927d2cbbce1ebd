package protocol

import (
	"fmt"

	"github.com/loadfabric/loadfabric/internal/wire"
)

// ClientManagerHello is the opening message of a per-host supervisor
// connection — a fleet-level control plane distinct from the per-job worker
// connections, used to start/stop load or monitor client subprocesses on a
// host without SSH access (spec.md §3, §6 "Fleet-level lifecycle used by a
// per-host supervisor"; SPEC_FULL.md supplemented feature: these message
// variants are named in the catalogue but not worked through a session by
// spec.md itself).
type ClientManagerHello struct {
	ManagerVersion string
	HostID         string
}

func (m ClientManagerHello) Tag() byte { return wire.TagClientManagerHello }

func (m ClientManagerHello) Validate() error {
	if m.HostID == "" {
		return fmt.Errorf("protocol: ClientManagerHello.HostID must not be empty")
	}
	return nil
}

func (m ClientManagerHello) Encode() wire.Element {
	return wire.NewComposite(wire.ApplicationTag(m.Tag()),
		wire.NewOctets([]byte(m.ManagerVersion)),
		wire.NewOctets([]byte(m.HostID)),
	)
}

func decodeClientManagerHello(el wire.Element) (ClientManagerHello, error) {
	if len(el.Children) != 2 {
		return ClientManagerHello{}, fmt.Errorf("protocol: ClientManagerHello expects 2 fields, got %d", len(el.Children))
	}
	return ClientManagerHello{
		ManagerVersion: el.Children[0].String(),
		HostID:         el.Children[1].String(),
	}, nil
}

// ClientKind selects which binary a Start-Client-Request should launch.
type ClientKind int

const (
	ClientKindLoad ClientKind = iota
	ClientKindMonitor
)

// StartClientRequest asks the supervisor to launch a load or monitor client
// subprocess configured to dial a given coordinator endpoint.
type StartClientRequest struct {
	Kind             ClientKind
	CoordinatorAddr  string
	ClientID         string
	ExtraArgs        []string
}

func (m StartClientRequest) Tag() byte { return wire.TagStartClientRequest }

func (m StartClientRequest) Validate() error {
	if m.CoordinatorAddr == "" {
		return fmt.Errorf("protocol: StartClientRequest.CoordinatorAddr must not be empty")
	}
	if m.ClientID == "" {
		return fmt.Errorf("protocol: StartClientRequest.ClientID must not be empty")
	}
	return nil
}

func (m StartClientRequest) Encode() wire.Element {
	args := make([]wire.Element, len(m.ExtraArgs))
	for i, a := range m.ExtraArgs {
		args[i] = wire.NewOctets([]byte(a))
	}
	return wire.NewComposite(wire.ApplicationTag(m.Tag()),
		wire.NewEnum(int64(m.Kind)),
		wire.NewOctets([]byte(m.CoordinatorAddr)),
		wire.NewOctets([]byte(m.ClientID)),
		wire.NewComposite(wire.UniversalComposite(wire.TypeSequence), args...),
	)
}

func decodeStartClientRequest(el wire.Element) (StartClientRequest, error) {
	if len(el.Children) != 4 {
		return StartClientRequest{}, fmt.Errorf("protocol: StartClientRequest expects 4 fields, got %d", len(el.Children))
	}
	kind, err := el.Children[0].Int()
	if err != nil {
		return StartClientRequest{}, fmt.Errorf("protocol: StartClientRequest.Kind: %w", err)
	}
	var args []string
	for _, a := range el.Children[3].Children {
		args = append(args, a.String())
	}
	return StartClientRequest{
		Kind:            ClientKind(kind),
		CoordinatorAddr: el.Children[1].String(),
		ClientID:        el.Children[2].String(),
		ExtraArgs:       args,
	}, nil
}

// StartClientResponse answers a StartClientRequest.
type StartClientResponse struct {
	ResponseCode ResponseCode
	PID          int
	Message      string
}

func (m StartClientResponse) Tag() byte { return wire.TagStartClientResponse }

func (m StartClientResponse) Validate() error { return nil }

func (m StartClientResponse) Encode() wire.Element {
	return wire.NewComposite(wire.ApplicationTag(m.Tag()),
		wire.NewEnum(int64(m.ResponseCode)),
		wire.NewInteger(int64(m.PID)),
		wire.NewOctets([]byte(m.Message)),
	)
}

func decodeStartClientResponse(el wire.Element) (StartClientResponse, error) {
	if len(el.Children) != 3 {
		return StartClientResponse{}, fmt.Errorf("protocol: StartClientResponse expects 3 fields, got %d", len(el.Children))
	}
	code, err := el.Children[0].Int()
	if err != nil {
		return StartClientResponse{}, fmt.Errorf("protocol: StartClientResponse.ResponseCode: %w", err)
	}
	pid, err := el.Children[1].Int()
	if err != nil {
		return StartClientResponse{}, fmt.Errorf("protocol: StartClientResponse.PID: %w", err)
	}
	return StartClientResponse{
		ResponseCode: ResponseCode(code),
		PID:          int(pid),
		Message:      el.Children[2].String(),
	}, nil
}

// StopClientRequest asks the supervisor to terminate a previously started
// client subprocess by PID.
type StopClientRequest struct {
	PID int
}

func (m StopClientRequest) Tag() byte { return wire.TagStopClientRequest }

func (m StopClientRequest) Validate() error {
	if m.PID <= 0 {
		return fmt.Errorf("protocol: StopClientRequest.PID must be > 0")
	}
	return nil
}

func (m StopClientRequest) Encode() wire.Element {
	return wire.NewComposite(wire.ApplicationTag(m.Tag()), wire.NewInteger(int64(m.PID)))
}

func decodeStopClientRequest(el wire.Element) (StopClientRequest, error) {
	if len(el.Children) != 1 {
		return StopClientRequest{}, fmt.Errorf("protocol: StopClientRequest expects 1 field, got %d", len(el.Children))
	}
	pid, err := el.Children[0].Int()
	if err != nil {
		return StopClientRequest{}, fmt.Errorf("protocol: StopClientRequest.PID: %w", err)
	}
	return StopClientRequest{PID: int(pid)}, nil
}

// StopClientResponse answers a StopClientRequest.
type StopClientResponse struct {
	ResponseCode ResponseCode
	Message      string
}

func (m StopClientResponse) Tag() byte { return wire.TagStopClientResponse }

func (m StopClientResponse) Validate() error { return nil }

func (m StopClientResponse) Encode() wire.Element {
	return wire.NewComposite(wire.ApplicationTag(m.Tag()),
		wire.NewEnum(int64(m.ResponseCode)),
		wire.NewOctets([]byte(m.Message)),
	)
}

func decodeStopClientResponse(el wire.Element) (StopClientResponse, error) {
	if len(el.Children) != 2 {
		return StopClientResponse{}, fmt.Errorf("protocol: StopClientResponse expects 2 fields, got %d", len(el.Children))
	}
	code, err := el.Children[0].Int()
	if err != nil {
		return StopClientResponse{}, fmt.Errorf("protocol: StopClientResponse.ResponseCode: %w", err)
	}
	return StopClientResponse{ResponseCode: ResponseCode(code), Message: el.Children[1].String()}, nil
}
