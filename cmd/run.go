package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/address-pipeline/internal/model"
)

var runFlags struct {
	addressColumn   string
	secondaryColumn string
	compareColumn   string
	country         string
	batchSize       int
	outputDir       string
	offline         bool
}

var runCmd = &cobra.Command{
	Use:   "run <input-file>",
	Short: "Standardize a single CSV or XLSX file and wait for the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputPath := args[0]
		if _, err := os.Stat(inputPath); err != nil {
			return eris.Wrap(err, "cmd: stat input file")
		}
		if runFlags.outputDir != "" {
			cfg.Jobs.OutputDir = runFlags.outputDir
		}
		if err := os.MkdirAll(cfg.Jobs.OutputDir, 0o755); err != nil {
			return eris.Wrap(err, "cmd: create output dir")
		}

		env, err := initPipeline(cmd.Context(), cfg, runFlags.offline)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := model.JobOptions{
			AddressColumn:   runFlags.addressColumn,
			SecondaryColumn: runFlags.secondaryColumn,
			CompareColumn:   runFlags.compareColumn,
			Country:         runFlags.country,
			BatchSize:       runFlags.batchSize,
		}

		job, err := env.Orchestrator.Run(cmd.Context(), inputPath, filepath.Base(inputPath), opts)
		if err != nil {
			return eris.Wrap(err, "cmd: run job")
		}

		zap.L().Info("job finished",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.String("output", job.OutputFile))
		if job.Status != model.JobStatusCompleted {
			return eris.Errorf("cmd: job %s ended %s: %s", job.ID, job.Status, job.Error)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "job %s %s\noutput: %s\n", job.ID, job.Status, job.OutputFile)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runFlags.addressColumn, "address-column", "", "column holding the street address (default \"address\")")
	runCmd.Flags().StringVar(&runFlags.secondaryColumn, "secondary-column", "", "column holding secondary address info, e.g. unit")
	runCmd.Flags().StringVar(&runFlags.compareColumn, "compare-column", "", "column to compare against the address column")
	runCmd.Flags().StringVar(&runFlags.country, "country", "", "ISO country code for output formatting")
	runCmd.Flags().IntVar(&runFlags.batchSize, "batch-size", 0, "addresses per oracle call (default from config)")
	runCmd.Flags().StringVar(&runFlags.outputDir, "output-dir", "", "directory for the standardized output file")
	runCmd.Flags().BoolVar(&runFlags.offline, "offline", false, "use stub oracle responses instead of the API")
	rootCmd.AddCommand(runCmd)
}
