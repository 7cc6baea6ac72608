package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sampsyo/cluster-workers/internal/config"
	"github.com/sampsyo/cluster-workers/internal/logging"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:          "cw",
	Short:        "Start, stop and locate cluster-workers masters and workers",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./configs/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// setup loads the configuration and builds the logger for a command.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if debug {
		level = "DEBUG"
	}
	return cfg, logging.New(cmd.ErrOrStderr(), level), nil
}

// launchFlags are the flags shared by the start and stop commands.
type launchFlags struct {
	workers   int
	noMaster  bool
	noWorkers bool
}

func (f *launchFlags) register(cmd *cobra.Command, defaultWorkers int) {
	cmd.Flags().IntVarP(&f.workers, "workers", "n", defaultWorkers, "number of workers to start")
	cmd.Flags().BoolVarP(&f.noMaster, "no-master", "M", false, "do not start/stop the master")
	cmd.Flags().BoolVarP(&f.noWorkers, "no-workers", "W", false, "do not start/stop the workers")
}
