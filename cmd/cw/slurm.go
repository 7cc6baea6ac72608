package main

import (
	"github.com/spf13/cobra"

	"github.com/sampsyo/cluster-workers/internal/domain"
	"github.com/sampsyo/cluster-workers/internal/provision"
)

const defaultSlurmWorkers = 32

var (
	slurmFlags       launchFlags
	slurmMasterArgs  []string
	slurmWorkerArgs  []string
	slurmDockerImage string
	slurmDockerArgs  string
	slurmMasterCmd   string
	slurmWorkerCmd   string
)

var slurmCmd = &cobra.Command{
	Use:   "slurm",
	Short: "Run the master and workers as Slurm jobs",
	Long: `Run the master and workers as Slurm jobs. Only one cluster per user
should run at a time: the master is found by its job name.`,
}

var slurmStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Submit the master and worker jobs",
	Example: `  cw slurm start -n 64
  cw slurm start -n 16 --docker-image lab/cw:latest --docker-args "-v /data:/data"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := slurmLauncher(cmd)
		if err != nil {
			return err
		}
		return l.Start(cmd.Context(), slurmOptions())
	},
}

var slurmStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Cancel the master and worker jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := slurmLauncher(cmd)
		if err != nil {
			return err
		}
		return l.Stop(cmd.Context(), slurmOptions())
	},
}

func init() {
	rootCmd.AddCommand(slurmCmd)
	slurmCmd.AddCommand(slurmStartCmd, slurmStopCmd)

	slurmFlags.register(slurmStartCmd, defaultSlurmWorkers)
	slurmStopCmd.Flags().BoolVarP(&slurmFlags.noMaster, "no-master", "M", false, "do not stop the master")
	slurmStopCmd.Flags().BoolVarP(&slurmFlags.noWorkers, "no-workers", "W", false, "do not stop the workers")

	f := slurmStartCmd.Flags()
	f.StringSliceVar(&slurmMasterArgs, "master-option", nil, "extra sbatch option for the master job")
	f.StringSliceVar(&slurmWorkerArgs, "worker-option", nil, "extra sbatch option for the worker job")
	f.StringVar(&slurmDockerImage, "docker-image", "", "run workers inside this docker image")
	f.StringVar(&slurmDockerArgs, "docker-args", "", "extra docker run arguments")
	f.StringVar(&slurmMasterCmd, "master-cmd", "cw-master", "master command run by srun")
	f.StringVar(&slurmWorkerCmd, "worker-cmd", "cw-worker", "worker command run by srun")
}

func slurmOptions() domain.LaunchOptions {
	return domain.LaunchOptions{
		Workers:     slurmFlags.workers,
		Master:      !slurmFlags.noMaster,
		WorkerProcs: !slurmFlags.noWorkers,
		MasterArgs:  slurmMasterArgs,
		WorkerArgs:  slurmWorkerArgs,
		DockerImage: slurmDockerImage,
		DockerArgs:  slurmDockerArgs,
	}
}

func slurmLauncher(cmd *cobra.Command) (*provision.SlurmLauncher, error) {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return nil, err
	}
	s, err := provision.NewSlurm()
	if err != nil {
		return nil, err
	}
	return &provision.SlurmLauncher{
		Slurm:               s,
		MasterJobName:       cfg.Slurm.MasterJobName,
		WorkerJobName:       cfg.Slurm.WorkerJobName,
		MasterCommand:       slurmMasterCmd,
		WorkerCommand:       "env CW_HOST_RESOLVER=slurm " + slurmWorkerCmd,
		DockerWorkerCommand: slurmWorkerCmd,
		StartupWait:         cfg.Slurm.StartupWait,
		Logger:              logger,
	}, nil
}
