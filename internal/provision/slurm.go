package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sampsyo/cluster-workers/internal/domain"
)

// SlurmJob is one line of squeue output.
type SlurmJob struct {
	ID       int
	Name     string
	User     string
	NodeList string
}

// ParseSqueue parses the output of squeue -o "%i %j %u %N" -h.
func ParseSqueue(out []byte) ([]SlurmJob, error) {
	var jobs []SlurmJob
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 4)
		if len(fields) != 4 {
			return nil, fmt.Errorf("malformed squeue line %q", line)
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("malformed squeue job id %q: %w", fields[0], err)
		}
		jobs = append(jobs, SlurmJob{ID: id, Name: fields[1], User: fields[2], NodeList: fields[3]})
	}
	return jobs, nil
}

// Slurm talks to the Slurm command line tools on behalf of the current
// user.
type Slurm struct {
	Run  Runner
	User string
}

// NewSlurm creates a Slurm helper for the current user.
func NewSlurm() (*Slurm, error) {
	name, err := currentUser()
	if err != nil {
		return nil, err
	}
	return &Slurm{Run: ExecRunner, User: name}, nil
}

// Jobs lists the queued and running jobs.
func (s *Slurm) Jobs(ctx context.Context) ([]SlurmJob, error) {
	out, err := s.Run(ctx, "squeue", "-o", "%i %j %u %N", "-h")
	if err != nil {
		return nil, err
	}
	return ParseSqueue(out)
}

// Find returns the first job of the current user called name.
func (s *Slurm) Find(ctx context.Context, name string) (SlurmJob, bool, error) {
	jobs, err := s.Jobs(ctx)
	if err != nil {
		return SlurmJob{}, false, err
	}
	for _, j := range jobs {
		if j.Name == name && j.User == s.User {
			return j, true, nil
		}
	}
	return SlurmJob{}, false, nil
}

var sbatchJobID = regexp.MustCompile(`job (\d+)`)

// Submit runs script through sbatch and returns the job id.
func (s *Slurm) Submit(ctx context.Context, script string) (int, error) {
	f, err := os.CreateTemp("", "cw-sbatch-*.sh")
	if err != nil {
		return 0, fmt.Errorf("failed to create job script: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return 0, fmt.Errorf("failed to write job script: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to write job script: %w", err)
	}

	out, err := s.Run(ctx, "sbatch", f.Name())
	if err != nil {
		return 0, err
	}
	m := sbatchJobID.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("unexpected sbatch output %q", strings.TrimSpace(string(out)))
	}
	return strconv.Atoi(string(m[1]))
}

// Cancel sends signal to job id.
func (s *Slurm) Cancel(ctx context.Context, id int, signal string) error {
	_, err := s.Run(ctx, "scancel", "-s", signal, strconv.Itoa(id))
	return err
}

// JobScript builds an sbatch script that runs command through srun. A
// non-empty name also sets the job name and its output file.
func JobScript(command, name string, options []string) string {
	opts := append([]string(nil), options...)
	if name != "" {
		opts = append(opts,
			"--job-name="+name,
			"--output="+name+".out",
			"--error="+name+".out",
		)
	}

	lines := []string{"#!/bin/sh"}
	if len(opts) > 0 {
		lines = append(lines, "#SBATCH "+strings.Join(opts, " "))
	}
	lines = append(lines, "srun "+command)
	return strings.Join(lines, "\n") + "\n"
}

// SlurmResolver finds the node running the master job of the current user.
type SlurmResolver struct {
	Slurm         *Slurm
	MasterJobName string
}

// ResolveMaster implements domain.HostResolver.
func (r *SlurmResolver) ResolveMaster(ctx context.Context) (string, error) {
	job, ok, err := r.Slurm.Find(ctx, r.MasterJobName)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrMasterNotFound
	}
	if strings.Contains(job.NodeList, "[") {
		return "", fmt.Errorf("master job %d spans several nodes (%s)", job.ID, job.NodeList)
	}
	return job.NodeList, nil
}

// SlurmLauncher runs the master and the workers as Slurm jobs.
type SlurmLauncher struct {
	Slurm         *Slurm
	MasterJobName string
	WorkerJobName string
	// MasterCommand and WorkerCommand are run by srun. WorkerCommand
	// should locate the master through Slurm itself.
	MasterCommand string
	WorkerCommand string
	// DockerWorkerCommand is run inside the image when a docker image is
	// requested. The master host is passed in as CW_HOST.
	DockerWorkerCommand string
	StartupWait         time.Duration
	Logger              *slog.Logger
}

func (l *SlurmLauncher) resolver() *SlurmResolver {
	return &SlurmResolver{Slurm: l.Slurm, MasterJobName: l.MasterJobName}
}

// Start implements domain.Launcher.
func (l *SlurmLauncher) Start(ctx context.Context, opts domain.LaunchOptions) error {
	logger := l.Logger.With("component", "slurm-launcher")

	if opts.Master {
		if l.MasterCommand == "" {
			return fmt.Errorf("master: %w", errNoCommand)
		}
		logger.Info("starting master")
		id, err := l.Slurm.Submit(ctx, JobScript(l.MasterCommand, l.MasterJobName, opts.MasterArgs))
		if err != nil {
			return fmt.Errorf("failed to start master: %w", err)
		}
		logger.Info("master job started", "job_id", id)

		if err := sleep(ctx, l.StartupWait); err != nil {
			return err
		}
		host, err := l.resolver().ResolveMaster(ctx)
		if err != nil {
			return fmt.Errorf("master job %d not running: %w", id, err)
		}
		logger.Info("master running", "host", host)
	}

	if opts.WorkerProcs {
		command, err := l.workerCommand(ctx, opts)
		if err != nil {
			return err
		}
		logger.Info("starting workers", "count", opts.Workers)
		options := append([]string{"--ntasks=" + strconv.Itoa(opts.Workers)}, opts.WorkerArgs...)
		id, err := l.Slurm.Submit(ctx, JobScript(command, l.WorkerJobName, options))
		if err != nil {
			return fmt.Errorf("failed to start workers: %w", err)
		}
		logger.Info("worker job started", "job_id", id)
	}
	return nil
}

func (l *SlurmLauncher) workerCommand(ctx context.Context, opts domain.LaunchOptions) (string, error) {
	if opts.DockerImage == "" {
		if l.WorkerCommand == "" {
			return "", fmt.Errorf("workers: %w", errNoCommand)
		}
		return l.WorkerCommand, nil
	}

	host, err := l.resolver().ResolveMaster(ctx)
	if err != nil {
		return "", fmt.Errorf("docker workers need a running master: %w", err)
	}
	parts := []string{"docker run -i --rm --net=host", "-e CW_HOST=" + host}
	if opts.DockerArgs != "" {
		parts = append(parts, opts.DockerArgs)
	}
	parts = append(parts, opts.DockerImage, l.DockerWorkerCommand)
	return strings.Join(parts, " "), nil
}

// Stop implements domain.Launcher. Jobs are interrupted rather than killed
// so workers can depart cleanly.
func (l *SlurmLauncher) Stop(ctx context.Context, opts domain.LaunchOptions) error {
	logger := l.Logger.With("component", "slurm-launcher")

	if opts.WorkerProcs {
		job, ok, err := l.Slurm.Find(ctx, l.WorkerJobName)
		if err != nil {
			return err
		}
		if ok {
			logger.Info("stopping workers", "job_id", job.ID)
			if err := l.Slurm.Cancel(ctx, job.ID, "INT"); err != nil {
				return fmt.Errorf("failed to stop workers: %w", err)
			}
			if opts.Master {
				if err := sleep(ctx, l.StartupWait); err != nil {
					return err
				}
			}
		}
	}

	if opts.Master {
		job, ok, err := l.Slurm.Find(ctx, l.MasterJobName)
		if err != nil {
			return err
		}
		if ok {
			logger.Info("stopping master", "job_id", job.ID)
			if err := l.Slurm.Cancel(ctx, job.ID, "INT"); err != nil {
				return fmt.Errorf("failed to stop master: %w", err)
			}
		}
	}
	return nil
}
