package protocol

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// blob is the gob envelope around every payload value. Wrapping lets nil and
// interface-typed values travel without special cases.
type blob struct {
	Value any
}

func init() {
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// EncodeBlob serializes v into an opaque payload. Concrete types carried
// inside interfaces (beyond the basic kinds) must be registered with
// gob.Register by both peers.
func EncodeBlob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&blob{Value: v}); err != nil {
		return nil, fmt.Errorf("failed to encode blob: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBlob reverses EncodeBlob.
func DecodeBlob(data []byte) (any, error) {
	var b blob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode blob: %w", err)
	}
	return b.Value, nil
}

// DecodeArgs decodes a positional argument blob. A nil value decodes to an
// empty list.
func DecodeArgs(data []byte) ([]any, error) {
	v, err := DecodeBlob(data)
	if err != nil || v == nil {
		return nil, err
	}
	args, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("argument blob holds %T, want []any", v)
	}
	return args, nil
}

// DecodeKwargs decodes a keyword argument blob.
func DecodeKwargs(data []byte) (map[string]any, error) {
	v, err := DecodeBlob(data)
	if err != nil || v == nil {
		return nil, err
	}
	kwargs, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("keyword blob holds %T, want map[string]any", v)
	}
	return kwargs, nil
}
