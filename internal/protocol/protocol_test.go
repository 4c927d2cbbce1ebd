package protocol

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/loadfabric/loadfabric/internal/stats"
	"github.com/loadfabric/loadfabric/internal/wire"
)

// bufConn adapts a bytes.Reader to the deadlineConn interface wire.Reader
// expects, mirroring internal/wire's own test helper.
type bufConn struct {
	*bytes.Reader
}

func (b *bufConn) SetReadDeadline(time.Time) error { return nil }

// roundTrip encodes m, decodes it back through DecodeBody, and returns the
// reconstructed Message — exercising the universal invariant from spec.md
// §8: decode(encode(m)) == m.
func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	var buf bytes.Buffer
	if err := wire.NewWriter(&buf).WriteElement(m.Encode()); err != nil {
		t.Fatalf("WriteElement: %v", err)
	}
	r := wire.NewReader(&bufConn{bytes.NewReader(buf.Bytes())}, 0)
	el, err := r.ReadElement(time.Time{})
	if err != nil {
		t.Fatalf("ReadElement: %v", err)
	}
	got, err := DecodeBody(el)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	return got
}

func TestMessageCatalogueRoundTrip(t *testing.T) {
	epoch := int64(1700000000000)
	jobState := Running

	tracker := stats.New(stats.KindInteger, "throughput", stats.Owner{ClientID: "c0", ThreadID: 0}, 1)
	if err := tracker.SetIntervalData([]float64{1, 2, 3}, []int64{1, 1, 1}); err != nil {
		t.Fatalf("SetIntervalData: %v", err)
	}

	cases := []Message{
		ClientHello{ClientVersion: "1.0", ClientID: "worker-a"},
		ClientHello{
			ClientVersion:     "1.0",
			ClientID:          "worker-a",
			Auth:              &AuthCredentials{Type: AuthSimple, ID: "u", Credentials: []byte("pw")},
			RequestServerAuth: true,
			RestrictedMode:    true,
			SupportsTimeSync:  true,
		},
		ServerHello{ServerVersion: "1.0", ServerID: "coord-1"},
		ServerHello{ServerVersion: "1.0", ServerID: "coord-1", Auth: &AuthCredentials{Type: AuthToken, ID: "svc", Credentials: []byte("tok")}},
		HelloResponse{ResponseCode: Success, Message: "ok"},
		HelloResponse{ResponseCode: Success, Message: "ok", ServerEpochMillis: &epoch},
		JobRequest{
			JobID: "J1", JobClass: "http-get", StartMillis: 1000, StopMillis: 6000,
			ClientNumber: 0, DurationSec: 5, ThreadsPerClient: 4, ThreadStartupDelayMs: 100,
			CollectionIntervalSec: 1,
			Parameters:            []Parameter{{Key: "url", Value: "http://x"}},
		},
		JobResponse{JobID: "J1", ResponseCode: Success, Message: "accepted"},
		JobControlRequest{JobID: "J1", Op: OpStart},
		JobControlResponse{JobID: "J1", ResponseCode: Success, Message: "started"},
		JobCompleted{
			JobID: "J1", JobState: jobState,
			ActualStartMillis: 1000, ActualStopMillis: 6000, ActualDurationSec: 5,
			StatTrackers: []*stats.Tracker{tracker},
			LogMessages:  []string{"thread 0 clean exit"},
		},
		StatusRequest{},
		StatusRequest{JobID: "J1"},
		StatusResponse{ResponseCode: Success, ClientState: "READY", ClientMessage: "idle"},
		StatusResponse{ResponseCode: Success, ClientState: "READY", ClientMessage: "running", JobStatus: &jobState},
		Keepalive{},
		ServerShutdown{},
		ClassTransferRequest{ClassName: "ldap-search"},
		ClassTransferResponse{ClassName: "ldap-search", ResponseCode: Success, Payload: []byte{1, 2, 3}, Checksum: []byte{4, 5}},
		ClientManagerHello{ManagerVersion: "1.0", HostID: "host-a"},
		StartClientRequest{Kind: ClientKindLoad, CoordinatorAddr: "10.0.0.1:7001", ClientID: "worker-a", ExtraArgs: []string{"--verbose"}},
		StartClientResponse{ResponseCode: Success, PID: 4242, Message: "launched"},
		StopClientRequest{PID: 4242},
		StopClientResponse{ResponseCode: Success, Message: "stopped"},
		RegisterStat{JobID: "J1", ClientID: "c0", ThreadID: 0, DisplayName: "throughput", Kind: int(stats.KindInteger)},
		ReportStat{
			JobID: "J1", ClientID: "c0",
			Values: []StatValue{{DisplayName: "throughput", Interval: 0, Value: 12.5, Count: 3}},
		},
	}

	for _, m := range cases {
		if err := m.Validate(); err != nil {
			t.Fatalf("%T: Validate() of a well-formed message failed: %v", m, err)
		}
		got := roundTrip(t, m)
		if reflect.TypeOf(got) != reflect.TypeOf(m) {
			t.Fatalf("%T round-tripped as %T", m, got)
		}
		if !reflect.DeepEqual(got, m) {
			t.Errorf("%T round-trip mismatch:\n  sent: %#v\n  got:  %#v", m, m, got)
		}
	}
}

func TestDecodeBodyUnknownTag(t *testing.T) {
	el := wire.NewComposite(wire.ApplicationTag(0x7E))
	_, err := DecodeBody(el)
	if err == nil {
		t.Fatal("expected an error for an unknown application tag")
	}
}

func TestDecodeBodyRejectsNonApplicationClass(t *testing.T) {
	el := wire.NewComposite(wire.UniversalComposite(wire.TypeSequence))
	_, err := DecodeBody(el)
	if err == nil {
		t.Fatal("expected an error for a universal-class top-level element")
	}
}

func TestEnvelopeParityAndCorrelation(t *testing.T) {
	worker := NewIDAllocator(RoleWorker)
	coord := NewIDAllocator(RoleCoordinator)

	for i := 0; i < 5; i++ {
		id := worker.Next()
		if id%2 != 0 {
			t.Fatalf("worker allocator produced odd id %d", id)
		}
	}
	for i := 0; i < 5; i++ {
		id := coord.Next()
		if id%2 == 0 {
			t.Fatalf("coordinator allocator produced even id %d", id)
		}
	}

	req := Envelope{MessageID: coord.Next(), Body: JobRequest{
		JobID: "J1", JobClass: "http-get", ThreadsPerClient: 1, CollectionIntervalSec: 1,
	}.Encode()}
	resp := Envelope{MessageID: req.MessageID, Body: JobResponse{JobID: "J1", ResponseCode: Success}.Encode()}

	if resp.MessageID != req.MessageID {
		t.Fatalf("response messageID %d does not correlate with request %d", resp.MessageID, req.MessageID)
	}

	var buf bytes.Buffer
	if err := wire.NewWriter(&buf).WriteElement(req.Encode()); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
	r := wire.NewReader(&bufConn{bytes.NewReader(buf.Bytes())}, 0)
	el, err := r.ReadElement(time.Time{})
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	decoded, err := DecodeEnvelope(el)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if decoded.MessageID != req.MessageID {
		t.Errorf("decoded envelope messageID %d != %d", decoded.MessageID, req.MessageID)
	}
	msg, err := DecodeBody(decoded.Body)
	if err != nil {
		t.Fatalf("DecodeBody(envelope.Body): %v", err)
	}
	if _, ok := msg.(JobRequest); !ok {
		t.Errorf("expected JobRequest body, got %T", msg)
	}
}

func TestJobRequestValidateCrossFieldConstraints(t *testing.T) {
	base := JobRequest{JobID: "J1", JobClass: "http-get", ThreadsPerClient: 1, CollectionIntervalSec: 1, StartMillis: 100, StopMillis: 200}
	if err := base.Validate(); err != nil {
		t.Fatalf("well-formed JobRequest failed validation: %v", err)
	}

	tooFewThreads := base
	tooFewThreads.ThreadsPerClient = 0
	if err := tooFewThreads.Validate(); err == nil {
		t.Error("expected error for ThreadsPerClient < 1")
	}

	badInterval := base
	badInterval.CollectionIntervalSec = 0
	if err := badInterval.Validate(); err == nil {
		t.Error("expected error for CollectionIntervalSec < 1")
	}

	badWindow := base
	badWindow.StopMillis = 50
	if err := badWindow.Validate(); err == nil {
		t.Error("expected error for StopMillis < StartMillis")
	}

	noID := base
	noID.JobID = ""
	if err := noID.Validate(); err == nil {
		t.Error("expected error for empty JobID")
	}
}

func TestJobCompletedValidateDurationRelation(t *testing.T) {
	ok := JobCompleted{JobID: "J1", ActualStartMillis: 1000, ActualStopMillis: 6000, ActualDurationSec: 5}
	if err := ok.Validate(); err != nil {
		t.Fatalf("correct duration failed validation: %v", err)
	}

	wrong := JobCompleted{JobID: "J1", ActualStartMillis: 1000, ActualStopMillis: 6000, ActualDurationSec: 4}
	if err := wrong.Validate(); err == nil {
		t.Error("expected error for ActualDurationSec mismatching floor((stop-start)/1000)")
	}

	backwards := JobCompleted{JobID: "J1", ActualStartMillis: 6000, ActualStopMillis: 1000}
	if err := backwards.Validate(); err == nil {
		t.Error("expected error for ActualStopMillis < ActualStartMillis")
	}
}

func TestStatusResponseFourSlotLayout(t *testing.T) {
	// spec.md §9's first Open Question: verify the four positions are
	// distinct and none is read twice.
	js := Stopping
	m := StatusResponse{ResponseCode: LocalError, ClientState: "BUSY", ClientMessage: "running 2 jobs", JobStatus: &js}
	got := roundTrip(t, m).(StatusResponse)
	if got.ClientState == got.ClientMessage {
		t.Fatalf("ClientState and ClientMessage collapsed to the same value: %q", got.ClientState)
	}
	if got.JobStatus == nil || *got.JobStatus != Stopping {
		t.Errorf("JobStatus slot not round-tripped correctly: %+v", got.JobStatus)
	}
}

func TestHelloResponseServerEpochIsDigitString(t *testing.T) {
	epoch := int64(1700000000123)
	m := HelloResponse{ResponseCode: Success, ServerEpochMillis: &epoch}
	el := m.Encode()
	if len(el.Children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(el.Children))
	}
	raw := el.Children[2].Octets()
	if string(raw) != "1700000000123" {
		t.Errorf("serverEpochMillis not encoded as decimal ASCII text: %q", raw)
	}
}
