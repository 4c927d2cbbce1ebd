package protocol

import (
	"fmt"

	"github.com/loadfabric/loadfabric/internal/wire"
)

// Message is satisfied by every message variant in the catalogue: a stable
// application tag, a validator for field counts/ranges/cross-field
// constraints, and an encoder over the TLV codec (spec.md §4.2).
type Message interface {
	Tag() byte
	Validate() error
	Encode() wire.Element
}

// DecodeBody dispatches on el's application tag number and returns the
// concrete typed Message it decodes to. An unknown tag produces an
// "unknown message type" error with the offending tag preserved for logging
// (spec.md §4.2).
func DecodeBody(el wire.Element) (Message, error) {
	if el.Tag.Class != wire.ClassApplication {
		return nil, fmt.Errorf("protocol: unknown message type: tag 0x%02x is not application-class", el.Tag.Byte())
	}

	switch el.Tag.Byte() {
	case wire.TagClientHello:
		return decodeClientHello(el)
	case wire.TagServerHello:
		return decodeServerHello(el)
	case wire.TagHelloResponse:
		return decodeHelloResponse(el)
	case wire.TagJobRequest:
		return decodeJobRequest(el)
	case wire.TagJobResponse:
		return decodeJobResponse(el)
	case wire.TagJobControlRequest:
		return decodeJobControlRequest(el)
	case wire.TagJobControlResponse:
		return decodeJobControlResponse(el)
	case wire.TagJobCompleted:
		return decodeJobCompleted(el)
	case wire.TagStatusRequest:
		return decodeStatusRequest(el)
	case wire.TagStatusResponse:
		return decodeStatusResponse(el)
	case wire.TagServerShutdown:
		return decodeServerShutdown(el)
	case wire.TagKeepalive:
		return decodeKeepalive(el)
	case wire.TagClassTransferRequest:
		return decodeClassTransferRequest(el)
	case wire.TagClassTransferResponse:
		return decodeClassTransferResponse(el)
	case wire.TagClientManagerHello:
		return decodeClientManagerHello(el)
	case wire.TagStartClientRequest:
		return decodeStartClientRequest(el)
	case wire.TagStartClientResponse:
		return decodeStartClientResponse(el)
	case wire.TagStopClientRequest:
		return decodeStopClientRequest(el)
	case wire.TagStopClientResponse:
		return decodeStopClientResponse(el)
	case wire.TagRegisterStat:
		return decodeRegisterStat(el)
	case wire.TagReportStat:
		return decodeReportStat(el)
	default:
		return nil, fmt.Errorf("protocol: unknown message type: tag 0x%02x", el.Tag.Byte())
	}
}

// decodeClientHello etc. return (ConcreteType, error); Go's interface
// satisfaction lets each flow straight into the (Message, error) return
// above without an explicit conversion at each case — the named return
// types already implement Message by value.
var (
	_ Message = ClientHello{}
	_ Message = ServerHello{}
	_ Message = HelloResponse{}
	_ Message = JobRequest{}
	_ Message = JobResponse{}
	_ Message = JobControlRequest{}
	_ Message = JobControlResponse{}
	_ Message = JobCompleted{}
	_ Message = StatusRequest{}
	_ Message = StatusResponse{}
	_ Message = ServerShutdown{}
	_ Message = Keepalive{}
	_ Message = ClassTransferRequest{}
	_ Message = ClassTransferResponse{}
	_ Message = ClientManagerHello{}
	_ Message = StartClientRequest{}
	_ Message = StartClientResponse{}
	_ Message = StopClientRequest{}
	_ Message = StopClientResponse{}
	_ Message = RegisterStat{}
	_ Message = ReportStat{}
)
