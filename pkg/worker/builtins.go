package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/sampsyo/cluster-workers/pkg/funcs"
)

// Names of the built-in functions.
const (
	ShellFunc = "cw.shell"
	HTTPFunc  = "cw.http"
)

const (
	defaultShellTimeout = 30 * time.Second
	httpBodyLimit       = 1024
)

// RegisterBuiltins adds the built-in functions to r.
func RegisterBuiltins(r *funcs.Registry) error {
	if err := r.Register(ShellFunc, shell); err != nil {
		return err
	}
	client := &http.Client{Timeout: 15 * time.Second}
	return r.Register(HTTPFunc, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return httpRequest(ctx, client, args, kwargs)
	})
}

// shell runs args[0] (or kwargs["command"]) through bash -c in the job's
// directory and returns its stdout. kwargs["timeout"] is in seconds.
func shell(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	command, err := stringArg(args, kwargs, 0, "command")
	if err != nil {
		return nil, err
	}

	timeout := defaultShellTimeout
	if secs, ok := kwargs["timeout"]; ok {
		switch v := secs.(type) {
		case int:
			timeout = time.Duration(v) * time.Second
		case int64:
			timeout = time.Duration(v) * time.Second
		case float64:
			timeout = time.Duration(v * float64(time.Second))
		default:
			return nil, fmt.Errorf("timeout must be a number, got %T", secs)
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "bash", "-c", command)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errOutput := strings.TrimSpace(stderr.String()); errOutput != "" {
			return stdout.String(), fmt.Errorf("shell command failed: %w: %s", err, errOutput)
		}
		return stdout.String(), fmt.Errorf("shell command failed: %w", err)
	}
	return stdout.String(), nil
}

// httpRequest fetches args[0] (or kwargs["url"]) with kwargs["method"],
// GET by default, and returns the first KiB of the body.
func httpRequest(ctx context.Context, client *http.Client, args []any, kwargs map[string]any) (any, error) {
	url, err := stringArg(args, kwargs, 0, "url")
	if err != nil {
		return nil, err
	}
	method := http.MethodGet
	if m, ok := kwargs["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, httpBodyLimit))

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("http request returned 5xx server error: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http request returned 4xx client error: %s", resp.Status)
	}
	return string(body), nil
}

func stringArg(args []any, kwargs map[string]any, pos int, key string) (string, error) {
	var v any
	if len(args) > pos {
		v = args[pos]
	} else if kv, ok := kwargs[key]; ok {
		v = kv
	} else {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", key, v)
	}
	return s, nil
}
