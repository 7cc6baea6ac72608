package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"pgregory.net/rapid"
)

func TestMarshalUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "task",
			msg: &TaskMessage{
				JobID:      "job-1",
				Func:       []byte{1, 2, 3},
				Args:       []byte("args"),
				Kwargs:     []byte("kwargs"),
				Dir:        "/tmp/work",
				SearchPath: []string{"/opt/bin", "/usr/local/bin"},
			},
		},
		{
			name: "task without search path",
			msg:  &TaskMessage{JobID: "job-2", Func: []byte{9}, Dir: "/"},
		},
		{
			name: "successful result",
			msg:  &ResultMessage{JobID: "job-1", Success: true, Payload: []byte{0xff}},
		},
		{
			name: "failed result",
			msg:  &ResultMessage{JobID: "job-1", Success: false, Payload: []byte("boom")},
		},
		{name: "register", msg: &WorkerRegisterMessage{}},
		{name: "depart", msg: &WorkerDepartMessage{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.msg)
			require.NoError(t, err)

			got, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestUnmarshalUnknownTag(t *testing.T) {
	data, err := msgpack.Marshal([]any{"ShutdownMessage"})
	require.NoError(t, err)

	_, err = Unmarshal(data)
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "ShutdownMessage", perr.Tag)
}

func TestUnmarshalMalformed(t *testing.T) {
	tests := []struct {
		name string
		data func(t *testing.T) []byte
	}{
		{
			name: "not an array",
			data: func(t *testing.T) []byte {
				b, err := msgpack.Marshal("TaskMessage")
				require.NoError(t, err)
				return b
			},
		},
		{
			name: "empty array",
			data: func(t *testing.T) []byte {
				b, err := msgpack.Marshal([]any{})
				require.NoError(t, err)
				return b
			},
		},
		{
			name: "short task",
			data: func(t *testing.T) []byte {
				b, err := msgpack.Marshal([]any{TagTask, "job"})
				require.NoError(t, err)
				return b
			},
		},
		{
			name: "result with wrong field type",
			data: func(t *testing.T) []byte {
				b, err := msgpack.Marshal([]any{TagResult, "job", "yes", []byte{}})
				require.NoError(t, err)
				return b
			},
		},
		{
			name: "register with extra field",
			data: func(t *testing.T) []byte {
				b, err := msgpack.Marshal([]any{TagWorkerRegister, "extra"})
				require.NoError(t, err)
				return b
			},
		},
		{
			name: "depart with extra field",
			data: func(t *testing.T) []byte {
				b, err := msgpack.Marshal([]any{TagWorkerDepart, 1})
				require.NoError(t, err)
				return b
			},
		},
		{
			name: "trailing bytes after register",
			data: func(t *testing.T) []byte {
				b, err := Marshal(&WorkerRegisterMessage{})
				require.NoError(t, err)
				return append(b, 0x01)
			},
		},
		{
			name: "trailing bytes after result",
			data: func(t *testing.T) []byte {
				b, err := Marshal(&ResultMessage{JobID: "job", Success: true})
				require.NoError(t, err)
				return append(b, 0x90)
			},
		},
		{
			name: "garbage",
			data: func(t *testing.T) []byte { return []byte{0xc1} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data(t))
			var perr *ProtocolError
			assert.True(t, errors.As(err, &perr), "want *ProtocolError, got %v", err)
		})
	}
}

func drawBytes(t *rapid.T, label string) []byte {
	b := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, label)
	if len(b) == 0 {
		return nil
	}
	return b
}

func drawMessage(t *rapid.T) Message {
	switch rapid.IntRange(0, 3).Draw(t, "kind") {
	case 0:
		m := &TaskMessage{
			JobID:  rapid.String().Draw(t, "job_id"),
			Func:   drawBytes(t, "func"),
			Args:   drawBytes(t, "args"),
			Kwargs: drawBytes(t, "kwargs"),
			Dir:    rapid.String().Draw(t, "dir"),
		}
		if path := rapid.SliceOfN(rapid.String(), 0, 5).Draw(t, "search_path"); len(path) > 0 {
			m.SearchPath = path
		}
		return m
	case 1:
		return &ResultMessage{
			JobID:   rapid.String().Draw(t, "job_id"),
			Success: rapid.Bool().Draw(t, "success"),
			Payload: drawBytes(t, "payload"),
		}
	case 2:
		return &WorkerRegisterMessage{}
	default:
		return &WorkerDepartMessage{}
	}
}

func TestProperty_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msg := drawMessage(t)

		data, err := Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		got, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !assert.ObjectsAreEqual(msg, got) {
			t.Fatalf("round trip mismatch: sent %#v, got %#v", msg, got)
		}
	})
}

func TestBlobRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{name: "int", value: 49},
		{name: "string", value: "hello"},
		{name: "nil", value: nil},
		{name: "list", value: []any{1, "two", 3.5}},
		{name: "map", value: map[string]any{"n": 7, "s": "x"}},
		{name: "bytes", value: []byte{0, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeBlob(tt.value)
			require.NoError(t, err)

			got, err := DecodeBlob(data)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestDecodeArgs(t *testing.T) {
	data, err := EncodeBlob([]any{7, "x"})
	require.NoError(t, err)
	args, err := DecodeArgs(data)
	require.NoError(t, err)
	assert.Equal(t, []any{7, "x"}, args)

	data, err = EncodeBlob(nil)
	require.NoError(t, err)
	args, err = DecodeArgs(data)
	require.NoError(t, err)
	assert.Empty(t, args)

	data, err = EncodeBlob("not a list")
	require.NoError(t, err)
	_, err = DecodeArgs(data)
	assert.Error(t, err)
}

func TestDecodeKwargs(t *testing.T) {
	data, err := EncodeBlob(map[string]any{"verbose": true})
	require.NoError(t, err)
	kwargs, err := DecodeKwargs(data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"verbose": true}, kwargs)

	_, err = DecodeKwargs([]byte("junk"))
	assert.Error(t, err)
}
