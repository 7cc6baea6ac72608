package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sampsyo/cluster-workers/internal/provision"
)

var masterHostCmd = &cobra.Command{
	Use:   "master-host",
	Short: "Print the host running the master",
	Long: `Print the host running the master, as found by the configured
host resolver (static, slurm or etcd).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup(cmd)
		if err != nil {
			return err
		}
		r, closeFn, err := provision.NewResolver(cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		host, err := r.ResolveMaster(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), host)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(masterHostCmd)
}
