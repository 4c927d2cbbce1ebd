package wire

import (
	"fmt"
	"math"
	"math/big"
)

// Element is one fully decoded TLV frame. Composite elements carry their
// decoded Children; primitive elements carry raw Value bytes.
type Element struct {
	Tag      Tag
	Value    []byte
	Children []Element
}

// NewInteger builds a primitive universal Integer element holding v, encoded
// as a minimum-length two's-complement big-endian byte string.
func NewInteger(v int64) Element {
	return Element{Tag: UniversalPrimitive(TypeInteger), Value: encodeInt(v)}
}

// NewBoolean builds a primitive universal Boolean element.
func NewBoolean(v bool) Element {
	b := byte(0x00)
	if v {
		b = 0xFF
	}
	return Element{Tag: UniversalPrimitive(TypeBoolean), Value: []byte{b}}
}

// NewOctets builds a primitive universal octet-string element. A nil slice
// and an empty non-nil slice both round-trip as a zero-length value — the
// distinction between "absent" and "present but empty" is made by whether
// the element appears in the parent composite at all, not by this value.
func NewOctets(v []byte) Element {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Element{Tag: UniversalPrimitive(TypeOctets), Value: cp}
}

// NewNull builds a zero-length Null element, used for optional fields whose
// presence itself is a positional placeholder without carrying data (e.g.
// an empty Server-Shutdown/Keepalive body).
func NewNull() Element {
	return Element{Tag: UniversalPrimitive(TypeNull)}
}

// NewEnum builds a primitive universal Enum element — encoded identically
// to Integer but tagged distinctly so decoders can validate enum ranges.
func NewEnum(v int64) Element {
	return Element{Tag: UniversalPrimitive(TypeEnum), Value: encodeInt(v)}
}

// NewFloat builds a primitive universal Float element holding v, encoded as
// the 8 big-endian bytes of its IEEE 754 binary64 representation.
func NewFloat(v float64) Element {
	bits := math.Float64bits(v)
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(bits)
		bits >>= 8
	}
	return Element{Tag: UniversalPrimitive(TypeFloat), Value: b}
}

// Float decodes a primitive Float element back to float64.
func (e Element) Float() (float64, error) {
	if e.Tag.Composite {
		return 0, fmt.Errorf("wire: Float() called on composite element")
	}
	if len(e.Value) != 8 {
		return 0, fmt.Errorf("wire: Float() value must be 8 bytes, got %d", len(e.Value))
	}
	var bits uint64
	for _, c := range e.Value {
		bits = bits<<8 | uint64(c)
	}
	return math.Float64frombits(bits), nil
}

// NewComposite builds a composite element (universal "sequence" or an
// application-tagged message body) from its ordered children.
func NewComposite(tag Tag, children ...Element) Element {
	return Element{Tag: tag, Children: children}
}

// Int decodes a primitive Integer/Enum element back to int64.
func (e Element) Int() (int64, error) {
	if e.Tag.Composite {
		return 0, fmt.Errorf("wire: Int() called on composite element")
	}
	return decodeInt(e.Value), nil
}

// Bool decodes a primitive Boolean element.
func (e Element) Bool() bool {
	return len(e.Value) > 0 && e.Value[0] != 0x00
}

// Octets returns the raw octet-string content.
func (e Element) Octets() []byte {
	return e.Value
}

// String decodes the octet-string content as UTF-8 text.
func (e Element) String() string {
	return string(e.Value)
}

// encodeInt produces the minimum-length two's-complement big-endian
// encoding of v, mirroring how signed DER integers are minimised: the
// shortest byte string whose sign bit matches v's sign.
func encodeInt(v int64) []byte {
	if v == 0 {
		return []byte{0x00}
	}
	bi := big.NewInt(v)
	neg := v < 0
	var bytesOut []byte
	if neg {
		// Two's complement of a negative number: invert magnitude bytes via
		// big.Int arithmetic rather than bit tricks, to stay correct at the
		// int64 boundary.
		mag := new(big.Int).Abs(bi)
		nbytes := mag.BitLen()/8 + 1
		full := new(big.Int).Lsh(big.NewInt(1), uint(nbytes)*8)
		twos := new(big.Int).Sub(full, mag)
		bytesOut = twos.Bytes()
		for len(bytesOut) < nbytes {
			bytesOut = append([]byte{0x00}, bytesOut...)
		}
		// Trim redundant leading 0xFF bytes while preserving the sign bit.
		for len(bytesOut) > 1 && bytesOut[0] == 0xFF && bytesOut[1]&0x80 != 0 {
			bytesOut = bytesOut[1:]
		}
		return bytesOut
	}

	bytesOut = bi.Bytes()
	if bytesOut[0]&0x80 != 0 {
		bytesOut = append([]byte{0x00}, bytesOut...)
	}
	return bytesOut
}

// decodeInt decodes a minimum-length two's-complement big-endian integer.
func decodeInt(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	neg := b[0]&0x80 != 0
	if !neg {
		bi := new(big.Int).SetBytes(b)
		return bi.Int64()
	}
	full := new(big.Int).Lsh(big.NewInt(1), uint(len(b))*8)
	mag := new(big.Int).SetBytes(b)
	v := new(big.Int).Sub(mag, full)
	return v.Int64()
}
