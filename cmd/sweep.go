package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired postback records from the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		removed, err := env.Ingest.SweepExpired(cmd.Context())
		if err != nil {
			return err
		}
		zap.L().Info("sweep complete", zap.Int("removed", removed))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
