package wire

import (
	"bytes"
	"net"
	"testing"
	"time"
)

// bufConn adapts a bytes.Reader to the deadlineConn interface used by
// Reader, so tests can drive ReadElement directly off an in-memory buffer
// when a real deadline isn't exercised.
type bufConn struct {
	*bytes.Reader
}

func (b *bufConn) SetReadDeadline(time.Time) error { return nil }

func roundTrip(t *testing.T, el Element) Element {
	t.Helper()
	var buf bytes.Buffer
	if err := NewWriter(&buf).WriteElement(el); err != nil {
		t.Fatalf("WriteElement: %v", err)
	}
	r := NewReader(&bufConn{bytes.NewReader(buf.Bytes())}, 0)
	got, err := r.ReadElement(time.Time{})
	if err != nil {
		t.Fatalf("ReadElement: %v", err)
	}
	return got
}

func TestIntegerRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 127, 128, -128, -129, 1 << 20, -(1 << 20), 9223372036854775807, -9223372036854775808} {
		got := roundTrip(t, NewInteger(v))
		n, err := got.Int()
		if err != nil {
			t.Fatalf("Int(): %v", err)
		}
		if n != v {
			t.Errorf("integer %d round-tripped as %d", v, n)
		}
	}
}

func TestBooleanRoundTrip(t *testing.T) {
	for _, v := range []bool{true, false} {
		got := roundTrip(t, NewBoolean(v))
		if got.Bool() != v {
			t.Errorf("boolean %v round-tripped as %v", v, got.Bool())
		}
	}
}

func TestOctetStringLengthBoundary(t *testing.T) {
	// 127 bytes uses short-form length; 128 bytes must use long-form
	// (0x81 0x80) and still round-trip (spec.md §8 boundary behaviors).
	short := bytes.Repeat([]byte{0xAB}, 127)
	long := bytes.Repeat([]byte{0xCD}, 128)

	var buf bytes.Buffer
	if err := NewWriter(&buf).WriteElement(NewOctets(long)); err != nil {
		t.Fatalf("write: %v", err)
	}
	encoded := buf.Bytes()
	if encoded[1] != 0x81 || encoded[2] != 0x80 {
		t.Fatalf("expected long-form length header 0x81 0x80, got % x", encoded[1:3])
	}

	gotShort := roundTrip(t, NewOctets(short))
	if !bytes.Equal(gotShort.Octets(), short) {
		t.Errorf("127-byte octet string did not round-trip")
	}

	r := NewReader(&bufConn{bytes.NewReader(encoded)}, 0)
	gotLong, err := r.ReadElement(time.Time{})
	if err != nil {
		t.Fatalf("ReadElement: %v", err)
	}
	if !bytes.Equal(gotLong.Octets(), long) {
		t.Errorf("128-byte octet string did not round-trip")
	}
}

func TestZeroLengthOctetStringDistinctFromAbsent(t *testing.T) {
	empty := roundTrip(t, NewOctets(nil))
	if len(empty.Octets()) != 0 {
		t.Fatalf("expected zero-length octets, got %d bytes", len(empty.Octets()))
	}

	composite := NewComposite(ApplicationTag(0x01), NewInteger(1))
	got := roundTrip(t, composite)
	if len(got.Children) != 1 {
		t.Fatalf("expected exactly 1 child (optional field absent), got %d", len(got.Children))
	}
}

func TestCompositeRoundTrip(t *testing.T) {
	el := NewComposite(ApplicationTag(0x63),
		NewInteger(42),
		NewOctets([]byte("job-class")),
		NewBoolean(true),
	)
	got := roundTrip(t, el)
	if len(got.Children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(got.Children))
	}
	n, _ := got.Children[0].Int()
	if n != 42 {
		t.Errorf("child 0 = %d, want 42", n)
	}
	if got.Children[1].String() != "job-class" {
		t.Errorf("child 1 = %q, want job-class", got.Children[1].String())
	}
	if !got.Children[2].Bool() {
		t.Errorf("child 2 = false, want true")
	}
}

func TestLengthOverflowRejectedWithoutReadingBody(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(ApplicationTag(0x01).Byte())
	// Long-form length declaring far more than DefaultMaxElementBytes, with
	// no actual body bytes present — decode must fail before attempting to
	// read DefaultMaxElementBytes+1 bytes that don't exist.
	buf.WriteByte(0x84) // 4 following length bytes
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF})

	r := NewReader(&bufConn{bytes.NewReader(buf.Bytes())}, 0)
	_, err := r.ReadElement(time.Time{})
	we, ok := err.(*Error)
	if !ok || we.Kind != KindLengthOverflow {
		t.Fatalf("expected KindLengthOverflow, got %v", err)
	}
}

func TestReadTimeoutIsNotProtocolError(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	r := NewReader(c1, 0)
	_, err := r.ReadElement(time.Now().Add(10 * time.Millisecond))
	if !IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
