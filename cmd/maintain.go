package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run store maintenance once (cache sweep, retention pruning, vacuum)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.RunMaintenance(ctx); err != nil {
			return eris.Wrap(err, "run maintenance")
		}

		zap.L().Info("maintenance complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(maintainCmd)
}
