package protocol

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal serializes msg into its envelope: a MessagePack array holding the
// tag followed by the message fields in wire order. The sentinel is not
// appended; see Frame.
func Marshal(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	var err error
	switch m := msg.(type) {
	case *WorkerRegisterMessage, *WorkerDepartMessage:
		if err = enc.EncodeArrayLen(1); err == nil {
			err = enc.EncodeString(m.Tag())
		}
	case *TaskMessage:
		err = encodeTask(enc, m)
	case *ResultMessage:
		err = encodeResult(enc, m)
	default:
		return nil, fmt.Errorf("cannot marshal message of type %T", msg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Tag(), err)
	}
	return buf.Bytes(), nil
}

func encodeTask(enc *msgpack.Encoder, m *TaskMessage) error {
	if err := enc.EncodeArrayLen(7); err != nil {
		return err
	}
	if err := enc.EncodeString(TagTask); err != nil {
		return err
	}
	if err := enc.EncodeString(m.JobID); err != nil {
		return err
	}
	for _, blob := range [][]byte{m.Func, m.Args, m.Kwargs} {
		if err := enc.EncodeBytes(blob); err != nil {
			return err
		}
	}
	if err := enc.EncodeString(m.Dir); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(m.SearchPath)); err != nil {
		return err
	}
	for _, p := range m.SearchPath {
		if err := enc.EncodeString(p); err != nil {
			return err
		}
	}
	return nil
}

func encodeResult(enc *msgpack.Encoder, m *ResultMessage) error {
	if err := enc.EncodeArrayLen(4); err != nil {
		return err
	}
	if err := enc.EncodeString(TagResult); err != nil {
		return err
	}
	if err := enc.EncodeString(m.JobID); err != nil {
		return err
	}
	if err := enc.EncodeBool(m.Success); err != nil {
		return err
	}
	return enc.EncodeBytes(m.Payload)
}

// Unmarshal decodes an envelope produced by Marshal. It dispatches on the
// leading tag; an unknown tag, a wrong field count or trailing bytes yield
// *ProtocolError.
func Unmarshal(data []byte) (Message, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, &ProtocolError{Reason: "envelope is not an array", Err: err}
	}
	if n < 1 {
		return nil, &ProtocolError{Reason: "empty envelope"}
	}
	tag, err := dec.DecodeString()
	if err != nil {
		return nil, &ProtocolError{Reason: "missing type tag", Err: err}
	}

	msg, err := decodeBody(dec, tag, n-1)
	if err != nil {
		return nil, err
	}
	// bytes.Reader is an io.ByteScanner, so the decoder reads it unbuffered.
	if r.Len() > 0 {
		return nil, &ProtocolError{Tag: tag, Reason: fmt.Sprintf("%d trailing bytes", r.Len())}
	}
	return msg, nil
}

func decodeBody(dec *msgpack.Decoder, tag string, fields int) (Message, error) {
	var want int
	switch tag {
	case TagWorkerRegister, TagWorkerDepart:
		want = 0
	case TagTask:
		want = 6
	case TagResult:
		want = 3
	default:
		return nil, &ProtocolError{Tag: tag, Reason: "unknown message tag"}
	}
	if fields != want {
		return nil, &ProtocolError{Tag: tag, Reason: fmt.Sprintf("want %d fields, got %d", want, fields)}
	}

	var (
		msg Message
		err error
	)
	switch tag {
	case TagWorkerRegister:
		msg = &WorkerRegisterMessage{}
	case TagWorkerDepart:
		msg = &WorkerDepartMessage{}
	case TagTask:
		msg, err = decodeTask(dec)
	case TagResult:
		msg, err = decodeResult(dec)
	}
	if err != nil {
		return nil, &ProtocolError{Tag: tag, Reason: "malformed field", Err: err}
	}
	return msg, nil
}

func decodeTask(dec *msgpack.Decoder) (*TaskMessage, error) {
	var (
		m   TaskMessage
		err error
	)
	if m.JobID, err = dec.DecodeString(); err != nil {
		return nil, err
	}
	if m.Func, err = decodeBlob(dec); err != nil {
		return nil, err
	}
	if m.Args, err = decodeBlob(dec); err != nil {
		return nil, err
	}
	if m.Kwargs, err = decodeBlob(dec); err != nil {
		return nil, err
	}
	if m.Dir, err = dec.DecodeString(); err != nil {
		return nil, err
	}
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n > 0 {
		m.SearchPath = make([]string, n)
		for i := range m.SearchPath {
			if m.SearchPath[i], err = dec.DecodeString(); err != nil {
				return nil, err
			}
		}
	}
	return &m, nil
}

func decodeResult(dec *msgpack.Decoder) (*ResultMessage, error) {
	var (
		m   ResultMessage
		err error
	)
	if m.JobID, err = dec.DecodeString(); err != nil {
		return nil, err
	}
	if m.Success, err = dec.DecodeBool(); err != nil {
		return nil, err
	}
	if m.Payload, err = decodeBlob(dec); err != nil {
		return nil, err
	}
	return &m, nil
}

// decodeBlob normalizes empty byte strings to nil.
func decodeBlob(dec *msgpack.Decoder) ([]byte, error) {
	b, err := dec.DecodeBytes()
	if err != nil || len(b) == 0 {
		return nil, err
	}
	return b, nil
}
