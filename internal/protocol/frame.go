// Package protocol implements the wire format spoken between clients, the
// master and workers.
//
// Every message travels as its envelope followed by Sentinel on a single
// continuous byte stream. The envelope is a MessagePack array (type tag plus
// ordered scalar fields); job payloads ride inside it as opaque blobs (see
// EncodeBlob) so the master forwards them without decoding.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultPort is the TCP port the master listens on unless configured.
const DefaultPort = 5494

// Sentinel terminates every frame. It is a fixed random constant shared by
// all participants.
var Sentinel = []byte{
	0x8d, 0xa9, 0x20, 0xee, 0x01, 0xe6, 0x42, 0xec,
	0xaa, 0x0a, 0xe1, 0x41, 0x3a, 0x15, 0x8d, 0x1b,
}

// ErrClosed is returned by Reader.ReadMessage when the stream ends before a
// complete frame. It signals a normal end of the connection.
var ErrClosed = errors.New("connection closed")

// Frame returns the bytes written to the wire for msg.
func Frame(msg Message) ([]byte, error) {
	data, err := Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, Sentinel...), nil
}

// WriteMessage frames msg and writes it to w with a single Write call.
func WriteMessage(w io.Writer, msg Message) error {
	data, err := Frame(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", msg.Tag(), err)
	}
	return nil
}

// Reader splits a byte stream into messages.
type Reader struct {
	r   *bufio.Reader
	buf []byte
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadFrame returns the next envelope with the sentinel stripped. A frame
// boundary requires all sixteen sentinel bytes; a partial match inside a
// payload is kept as data.
//
// Bytes of an incomplete frame survive a failed read (for instance a read
// deadline), so ReadFrame may be called again on the same stream.
func (r *Reader) ReadFrame() ([]byte, error) {
	last := Sentinel[len(Sentinel)-1]
	for {
		chunk, err := r.r.ReadSlice(last)
		r.buf = append(r.buf, chunk...)
		if err == nil {
			if bytes.HasSuffix(r.buf, Sentinel) {
				frame := make([]byte, len(r.buf)-len(Sentinel))
				copy(frame, r.buf)
				r.buf = r.buf[:0]
				return frame, nil
			}
			continue
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil, ErrClosed
		}
		return nil, err
	}
}

// ReadMessage reads and decodes the next message. It returns ErrClosed when
// the peer has gone away.
func (r *Reader) ReadMessage() (Message, error) {
	frame, err := r.ReadFrame()
	if err != nil {
		return nil, err
	}
	return Unmarshal(frame)
}
