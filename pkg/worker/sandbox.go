package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// sandbox is the process state a job may see changed: the working directory
// and the search path variable. Both are process-wide, so only one job runs
// at a time.
type sandbox struct {
	env string

	oldDir  string
	oldPath string
	hadPath bool
}

// enter switches to dir and prepends the entries of searchPath that the
// variable env does not already list. On error nothing is changed.
func enter(env, dir string, searchPath []string) (*sandbox, error) {
	oldDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to read working directory: %w", err)
	}
	s := &sandbox{env: env, oldDir: oldDir}
	s.oldPath, s.hadPath = os.LookupEnv(env)

	if dir != "" {
		if err := os.Chdir(dir); err != nil {
			return nil, fmt.Errorf("failed to enter job directory: %w", err)
		}
	}

	if path := prependPath(s.oldPath, searchPath); path != s.oldPath {
		if err := os.Setenv(env, path); err != nil {
			_ = os.Chdir(oldDir)
			return nil, fmt.Errorf("failed to set %s: %w", env, err)
		}
	}
	return s, nil
}

// restore puts back the working directory and search path.
func (s *sandbox) restore() error {
	var err error
	if s.hadPath {
		err = os.Setenv(s.env, s.oldPath)
	} else {
		err = os.Unsetenv(s.env)
	}
	if cerr := os.Chdir(s.oldDir); cerr != nil {
		err = cerr
	}
	return err
}

// prependPath returns current with the missing entries of extra placed in
// front, in their given order.
func prependPath(current string, extra []string) string {
	existing := filepath.SplitList(current)
	var add []string
	for _, p := range extra {
		if p == "" || slices.Contains(existing, p) || slices.Contains(add, p) {
			continue
		}
		add = append(add, p)
	}
	if len(add) == 0 {
		return current
	}
	if current != "" {
		add = append(add, current)
	}
	return strings.Join(add, string(os.PathListSeparator))
}

