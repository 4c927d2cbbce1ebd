package wire

import (
	"bytes"
	"io"
	"sync"
)

// Writer serializes and flushes TLV frames to a connection. Writes are
// guarded by an internal mutex so a single connection's writer task (and, in
// practice, anything else that races to send — e.g. a keepalive ticker) can
// never interleave partial frames (spec.md §4.4 step 6 / §5 write mutex).
type Writer struct {
	mu   sync.Mutex
	conn io.Writer
}

// NewWriter wraps conn in a TLV Writer.
func NewWriter(conn io.Writer) *Writer {
	return &Writer{conn: conn}
}

// WriteElement serializes el and writes it to the connection atomically from
// the receiver's perspective: the full encoded frame is built in memory
// first, then written in one Write call while holding the mutex, so a
// partial write failure never leaves a half-frame visible to the next
// writer — it surfaces as an error instead.
func (w *Writer) WriteElement(el Element) error {
	buf := encodeElement(el)

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.conn.Write(buf)
	return err
}

func encodeElement(el Element) []byte {
	var body []byte
	if el.Tag.Composite {
		var b bytes.Buffer
		for _, c := range el.Children {
			b.Write(encodeElement(c))
		}
		body = b.Bytes()
	} else {
		body = el.Value
	}

	var out bytes.Buffer
	out.WriteByte(el.Tag.Byte())
	out.Write(encodeLength(len(body)))
	out.Write(body)
	return out.Bytes()
}
