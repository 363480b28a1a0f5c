package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/address-pipeline/internal/model"
	"github.com/sells-group/address-pipeline/internal/store"
)

var jobsFlags struct {
	status string
	limit  int
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs in the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Store.ListJobs(cmd.Context(), store.JobFilter{
			Status: model.JobStatus(jobsFlags.status),
			Limit:  jobsFlags.limit,
		})
		if err != nil {
			return eris.Wrap(err, "cmd: list jobs")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tFILE\tCREATED\tEXPIRES")
		for _, j := range jobs {
			expires := "-"
			if j.ExpiresAt != nil {
				expires = j.ExpiresAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\t%s\t%s\n",
				j.ID, j.Status, j.Progress, j.OriginalFilename,
				j.CreatedAt.Format("2006-01-02 15:04"), expires)
		}
		return w.Flush()
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsFlags.status, "status", "", "filter by status (queued, processing, completed, failed, error)")
	jobsCmd.Flags().IntVar(&jobsFlags.limit, "limit", 50, "maximum jobs to list")
	rootCmd.AddCommand(jobsCmd)
}
