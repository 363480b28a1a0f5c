package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired jobs and their artifacts now",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer env.Close()

		removed, sweepErrs := env.Sweeper.Sweep(cmd.Context(), time.Now())
		for _, se := range sweepErrs {
			zap.L().Warn("sweep error", zap.String("job_id", se.JobID), zap.Error(se.Err))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired job(s), %d error(s)\n", removed, len(sweepErrs))
		if len(sweepErrs) > 0 {
			return eris.Errorf("cmd: cleanup finished with %d error(s)", len(sweepErrs))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
