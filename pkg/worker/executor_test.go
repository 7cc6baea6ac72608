package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sampsyo/cluster-workers/internal/protocol"
	"github.com/sampsyo/cluster-workers/pkg/funcs"
)

const testPathEnv = "CW_TEST_SEARCH_PATH"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func square(_ context.Context, args []any, _ map[string]any) (any, error) {
	x := args[0].(int)
	return x * x, nil
}

func fail(context.Context, []any, map[string]any) (any, error) {
	return nil, errors.New("boom")
}

func panicBoom(context.Context, []any, map[string]any) (any, error) {
	panic("boom")
}

func panicNilMap(context.Context, []any, map[string]any) (any, error) {
	var m map[string]int
	m["x"] = 1
	return m, nil
}

func cwd(context.Context, []any, map[string]any) (any, error) {
	return os.Getwd()
}

func searchPath(context.Context, []any, map[string]any) (any, error) {
	return os.Getenv(testPathEnv), nil
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	r := funcs.NewRegistry()
	r.MustRegister("square", square)
	r.MustRegister("fail", fail)
	r.MustRegister("panic", panicBoom)
	r.MustRegister("nilmap", panicNilMap)
	r.MustRegister("cwd", cwd)
	r.MustRegister("searchpath", searchPath)
	return NewExecutor(r, testPathEnv, testLogger())
}

func newTask(t *testing.T, id, name string, args []any, kwargs map[string]any) *protocol.TaskMessage {
	t.Helper()
	fn, err := funcs.EncodeRef(name)
	require.NoError(t, err)
	task := &protocol.TaskMessage{JobID: id, Func: fn}
	if args != nil {
		task.Args, err = protocol.EncodeBlob(args)
		require.NoError(t, err)
	}
	if kwargs != nil {
		task.Kwargs, err = protocol.EncodeBlob(kwargs)
		require.NoError(t, err)
	}
	task.Dir, err = os.Getwd()
	require.NoError(t, err)
	return task
}

func decode(t *testing.T, res *protocol.ResultMessage) any {
	t.Helper()
	v, err := protocol.DecodeBlob(res.Payload)
	require.NoError(t, err)
	return v
}

func TestExecuteSuccess(t *testing.T) {
	e := newTestExecutor(t)
	res := e.Execute(context.Background(), newTask(t, "j1", "square", []any{7}, nil))

	assert.Equal(t, "j1", res.JobID)
	require.True(t, res.Success)
	assert.Equal(t, 49, decode(t, res))
}

func TestExecuteFailures(t *testing.T) {
	tests := []struct {
		name     string
		fn       string
		contains []string
	}{
		{"returned error", "fail", []string{"boom"}},
		{"unknown function", "missing", []string{"function not registered", "missing"}},
		{"panic", "panic", []string{"panic: boom", "panicBoom"}},
		{"runtime panic", "nilmap", []string{"assignment to entry in nil map", "panicNilMap"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExecutor(t)
			res := e.Execute(context.Background(), newTask(t, "j", tt.fn, nil, nil))

			require.False(t, res.Success)
			text, ok := decode(t, res).(string)
			require.True(t, ok)
			for _, want := range tt.contains {
				assert.Contains(t, text, want)
			}
		})
	}
}

func TestPanicTraceStartsInJob(t *testing.T) {
	e := newTestExecutor(t)
	res := e.Execute(context.Background(), newTask(t, "j", "panic", nil, nil))
	require.False(t, res.Success)

	text := decode(t, res).(string)
	_, stack, ok := strings.Cut(text, "\n\n")
	require.True(t, ok, text)

	first, _, _ := strings.Cut(stack, "\n")
	assert.Contains(t, first, "panicBoom")
	assert.NotContains(t, stack, "runtime.gopanic")
	assert.NotContains(t, stack, "invoke")
	assert.NotContains(t, stack, "Execute")
}

func TestExecuteBadBlobs(t *testing.T) {
	e := newTestExecutor(t)

	task := newTask(t, "j", "square", []any{3}, nil)
	task.Func = []byte("garbage")
	res := e.Execute(context.Background(), task)
	assert.False(t, res.Success)

	task = newTask(t, "j", "square", []any{3}, nil)
	task.Args = []byte("garbage")
	res = e.Execute(context.Background(), task)
	assert.False(t, res.Success)
}

func TestExecuteSandbox(t *testing.T) {
	t.Setenv(testPathEnv, "/usr/bin")
	before, err := os.Getwd()
	require.NoError(t, err)

	dir := t.TempDir()
	e := newTestExecutor(t)

	task := newTask(t, "j", "cwd", nil, nil)
	task.Dir = dir
	res := e.Execute(context.Background(), task)
	require.True(t, res.Success)
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(decode(t, res).(string))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	task = newTask(t, "j", "searchpath", nil, nil)
	task.SearchPath = []string{"/opt/a", "/usr/bin", "/opt/b"}
	res = e.Execute(context.Background(), task)
	require.True(t, res.Success)
	sep := string(os.PathListSeparator)
	assert.Equal(t, "/opt/a"+sep+"/opt/b"+sep+"/usr/bin", decode(t, res))

	after, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, "/usr/bin", os.Getenv(testPathEnv))
}

func TestExecuteSandboxRestoredAfterPanic(t *testing.T) {
	t.Setenv(testPathEnv, "")
	os.Unsetenv(testPathEnv)
	before, err := os.Getwd()
	require.NoError(t, err)

	e := newTestExecutor(t)
	task := newTask(t, "j", "panic", nil, nil)
	task.Dir = t.TempDir()
	task.SearchPath = []string{"/opt/x"}

	res := e.Execute(context.Background(), task)
	require.False(t, res.Success)

	after, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, set := os.LookupEnv(testPathEnv)
	assert.False(t, set)
}

func TestExecuteMissingDirectory(t *testing.T) {
	e := newTestExecutor(t)
	task := newTask(t, "j", "square", []any{2}, nil)
	task.Dir = filepath.Join(t.TempDir(), "does-not-exist")

	res := e.Execute(context.Background(), task)
	require.False(t, res.Success)
	assert.Contains(t, decode(t, res), "job directory")
}
