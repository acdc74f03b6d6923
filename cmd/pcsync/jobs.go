package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/xelth-com/pcsyncgo/internal/app"
	"github.com/xelth-com/pcsyncgo/internal/sync"
)

var processJobsCmd = &cobra.Command{
	Use:     "process-jobs",
	GroupID: "jobs",
	Short:   "Process due push jobs once",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(func(ctx context.Context, a *app.App) error {
			if limit > 0 {
				return printJSON(a.Engine.Queue().ProcessPendingJobs(ctx, limit))
			}
			return printJSON(a.Engine.ProcessJobs(ctx))
		})
	},
}

var jobsCmd = &cobra.Command{
	Use:     "jobs",
	GroupID: "jobs",
	Short:   "List sync jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		objectType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp(func(ctx context.Context, a *app.App) error {
			jobs, err := a.Engine.Queue().ListJobs(ctx, sync.JobFilter{Status: status, ObjectType: objectType, Limit: limit})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tLOCAL\tREMOTE\tSTATUS\tRETRIES\tCREATED\tERROR")
			for _, j := range jobs {
				remoteID := "-"
				if j.RemoteID != nil {
					remoteID = *j.RemoteID
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
					j.ID, j.ObjectType, j.LocalID, remoteID, j.Status, j.RetryCount,
					j.CreatedAt.Local().Format(time.DateTime), truncate(j.ErrorMessage, 60))
			}
			return w.Flush()
		})
	},
}

var retryCmd = &cobra.Command{
	Use:     "retry <job-id>",
	GroupID: "jobs",
	Short:   "Make a failed job eligible immediately",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id %q", args[0])
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.Engine.Queue().RetryJob(ctx, uint(id)); err != nil {
				return err
			}
			fmt.Printf("job %d reset to pending\n", id)
			return nil
		})
	},
}

func init() {
	processJobsCmd.Flags().Int("limit", 0, "maximum jobs to process (default batch_size)")
	jobsCmd.Flags().String("status", "", "filter by status (pending, in_progress, done, failed)")
	jobsCmd.Flags().String("type", "", "filter by object type")
	jobsCmd.Flags().Int("limit", 50, "maximum rows")
	rootCmd.AddCommand(processJobsCmd, jobsCmd, retryCmd)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
