package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sampsyo/cluster-workers/internal/domain"
)

// Spawner starts a background process and returns its pid.
type Spawner func(name string, args ...string) (int, error)

// ExecSpawner starts the process detached from the caller, sharing its
// standard output and error.
func ExecSpawner(name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", name, err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

// Process is one line of ps output.
type Process struct {
	PID  int
	Args string
}

// ParsePS parses the output of ps -o pid= -o args=.
func ParsePS(out []byte) ([]Process, error) {
	var procs []Process
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("malformed ps line %q: %w", line, err)
		}
		procs = append(procs, Process{PID: pid, Args: strings.Join(fields[1:], " ")})
	}
	return procs, nil
}

// MatchProcesses returns the pids whose arguments contain pattern, ignoring
// case.
func MatchProcesses(procs []Process, pattern string) []int {
	pattern = strings.ToLower(pattern)
	var pids []int
	for _, p := range procs {
		if strings.Contains(strings.ToLower(p.Args), pattern) {
			pids = append(pids, p.PID)
		}
	}
	return pids
}

// LocalLauncher runs the master and workers as processes on this machine.
type LocalLauncher struct {
	MasterCommand []string
	WorkerCommand []string
	Spawn         Spawner
	Run           Runner
	User          string
	// StartupWait is the pause between starting the master and the
	// workers.
	StartupWait time.Duration
	Logger      *slog.Logger
}

// NewLocalLauncher creates a launcher for the given commands owned by the
// current user.
func NewLocalLauncher(masterCmd, workerCmd []string, logger *slog.Logger) (*LocalLauncher, error) {
	name, err := currentUser()
	if err != nil {
		return nil, err
	}
	return &LocalLauncher{
		MasterCommand: masterCmd,
		WorkerCommand: workerCmd,
		Spawn:         ExecSpawner,
		Run:           ExecRunner,
		User:          name,
		StartupWait:   time.Second,
		Logger:        logger,
	}, nil
}

// Start implements domain.Launcher.
func (l *LocalLauncher) Start(ctx context.Context, opts domain.LaunchOptions) error {
	logger := l.Logger.With("component", "local-launcher")

	if opts.Master {
		if len(l.MasterCommand) == 0 {
			return fmt.Errorf("master: %w", errNoCommand)
		}
		pid, err := l.Spawn(l.MasterCommand[0], l.MasterCommand[1:]...)
		if err != nil {
			return err
		}
		logger.Info("master started", "pid", pid)
		if err := sleep(ctx, l.StartupWait); err != nil {
			return err
		}
	}

	if opts.WorkerProcs {
		if len(l.WorkerCommand) == 0 {
			return fmt.Errorf("workers: %w", errNoCommand)
		}
		for i := 0; i < opts.Workers; i++ {
			if _, err := l.Spawn(l.WorkerCommand[0], l.WorkerCommand[1:]...); err != nil {
				return err
			}
		}
		logger.Info("workers started", "count", opts.Workers)
	}
	return nil
}

// Stop implements domain.Launcher. Processes are found by their command
// line.
func (l *LocalLauncher) Stop(ctx context.Context, opts domain.LaunchOptions) error {
	logger := l.Logger.With("component", "local-launcher")

	out, err := l.Run(ctx, "ps", "-u", l.User, "-o", "pid=", "-o", "args=")
	if err != nil {
		return err
	}
	procs, err := ParsePS(out)
	if err != nil {
		return err
	}

	if opts.WorkerProcs && len(l.WorkerCommand) > 0 {
		if pids := MatchProcesses(procs, strings.Join(l.WorkerCommand, " ")); len(pids) > 0 {
			logger.Info("killing workers", "count", len(pids))
			if err := l.kill(ctx, pids); err != nil {
				return err
			}
		}
	}
	if opts.Master && len(l.MasterCommand) > 0 {
		if pids := MatchProcesses(procs, strings.Join(l.MasterCommand, " ")); len(pids) > 0 {
			logger.Info("killing master", "count", len(pids))
			if err := l.kill(ctx, pids); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *LocalLauncher) kill(ctx context.Context, pids []int) error {
	args := make([]string, len(pids))
	for i, pid := range pids {
		args[i] = strconv.Itoa(pid)
	}
	_, err := l.Run(ctx, "kill", args...)
	return err
}
