package domain

import "context"

// HostResolver locates the host running the master.
type HostResolver interface {
	// ResolveMaster returns the master's hostname, or ErrMasterNotFound.
	ResolveMaster(ctx context.Context) (string, error)
}

// Launcher starts and stops master and worker processes. The core never
// calls it; it only requires that the master and workers are reachable
// before use.
type Launcher interface {
	Start(ctx context.Context, opts LaunchOptions) error
	Stop(ctx context.Context, opts LaunchOptions) error
}

// LaunchOptions selects what a Launcher starts or stops.
type LaunchOptions struct {
	Workers     int
	Master      bool
	WorkerProcs bool

	// MasterArgs and WorkerArgs are extra scheduler options (for example
	// sbatch flags).
	MasterArgs []string
	WorkerArgs []string

	// DockerImage, when set, runs workers inside this image.
	DockerImage string
	DockerArgs  string
}
