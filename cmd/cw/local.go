package main

import (
	"github.com/spf13/cobra"

	"github.com/sampsyo/cluster-workers/internal/domain"
	"github.com/sampsyo/cluster-workers/internal/provision"
)

const defaultLocalWorkers = 8

var (
	localFlags     launchFlags
	localMasterCmd []string
	localWorkerCmd []string
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Run the master and workers on this machine",
}

var localStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a master and workers as local processes",
	Example: `  cw local start -n 4
  cw local start -M -n 2   # add two workers to a running master`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := localLauncher(cmd)
		if err != nil {
			return err
		}
		return l.Start(cmd.Context(), localOptions())
	},
}

var localStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Kill the local master and workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := localLauncher(cmd)
		if err != nil {
			return err
		}
		return l.Stop(cmd.Context(), localOptions())
	},
}

func init() {
	rootCmd.AddCommand(localCmd)
	localCmd.AddCommand(localStartCmd, localStopCmd)

	for _, c := range []*cobra.Command{localStartCmd, localStopCmd} {
		c.Flags().StringSliceVar(&localMasterCmd, "master-cmd", []string{"cw-master"}, "master command line")
		c.Flags().StringSliceVar(&localWorkerCmd, "worker-cmd", []string{"cw-worker"}, "worker command line")
	}
	localFlags.register(localStartCmd, defaultLocalWorkers)
	localStopCmd.Flags().BoolVarP(&localFlags.noMaster, "no-master", "M", false, "do not stop the master")
	localStopCmd.Flags().BoolVarP(&localFlags.noWorkers, "no-workers", "W", false, "do not stop the workers")
}

func localOptions() domain.LaunchOptions {
	return domain.LaunchOptions{
		Workers:     localFlags.workers,
		Master:      !localFlags.noMaster,
		WorkerProcs: !localFlags.noWorkers,
	}
}

func localLauncher(cmd *cobra.Command) (*provision.LocalLauncher, error) {
	_, logger, err := setup(cmd)
	if err != nil {
		return nil, err
	}
	return provision.NewLocalLauncher(localMasterCmd, localWorkerCmd, logger)
}
