package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/contextforge/contextforge/internal/client"
	"github.com/contextforge/contextforge/internal/jobs"
	"github.com/contextforge/contextforge/internal/pagination"
)

func (c *cli) jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect long-running jobs",
	}

	var (
		limit  int
		cursor string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			page, err := cl.ListJobs(cmd.Context(), limit, cursor)
			if err != nil {
				return err
			}
			if c.output == outputJSON {
				return c.printJSON(page)
			}
			c.renderJobs(page.Jobs)
			if page.HasMore {
				fmt.Fprintf(c.out, "More jobs: --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", pagination.DefaultLimit, "Page size")
	list.Flags().StringVar(&cursor, "cursor", "", "Cursor from a previous page")

	status := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			j, err := cl.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printJob(j)
		},
	}

	var (
		kind     string
		interval time.Duration
		timeout  time.Duration
	)
	wait := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Poll a job until it completes or fails",
		Long: `Poll a job until it completes or fails.

Import and export jobs are checked every 2s for up to 10m, optimize and
classify jobs every 3s for up to 5m. A job still running at the timeout is
left running; check it later with 'contextforge jobs status'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			p, err := c.pollerFor(cmd.Context(), cl, args[0], kind)
			if err != nil {
				return err
			}
			if interval > 0 {
				p.Interval = interval
			}
			if timeout > 0 {
				p.Timeout = timeout
			}
			if c.output == outputTable {
				p.OnUpdate = func(j *jobs.Job) {
					fmt.Fprintf(c.out, "%s  %s  %d/%d\n", j.UpdatedAt.Format(time.TimeOnly), j.Status, j.ProcessedItems, j.TotalItems)
				}
			}

			j, err := p.Wait(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := c.printJob(j); err != nil {
				return err
			}
			if j.Status == jobs.StatusFailed {
				return fmt.Errorf("job %s failed: %s", j.ID, j.Error)
			}
			return nil
		},
	}
	wait.Flags().StringVar(&kind, "kind", "", "Job type (import, optimize, classify, export); looked up when omitted")
	wait.Flags().DurationVar(&interval, "interval", 0, "Override the polling interval")
	wait.Flags().DurationVar(&timeout, "wait-timeout", 0, "Override the polling timeout")

	cmd.AddCommand(list, status, wait)
	return cmd
}

func (c *cli) pollerFor(ctx context.Context, cl *client.Client, id, kind string) (client.Poller, error) {
	if kind == "" {
		j, err := cl.GetJob(ctx, id)
		if err != nil {
			return client.Poller{}, err
		}
		return cl.PollerFor(j.Type), nil
	}
	typ, err := jobs.ParseType(kind)
	if err != nil {
		return client.Poller{}, err
	}
	return cl.PollerFor(typ), nil
}

func (c *cli) printJob(j *jobs.Job) error {
	if c.output == outputJSON {
		return c.printJSON(j)
	}
	c.renderJobs([]*jobs.Job{j})
	if j.Error != "" {
		fmt.Fprintf(c.out, "Error: %s\n", j.Error)
	}
	return nil
}

func (c *cli) renderJobs(list []*jobs.Job) {
	if len(list) == 0 {
		fmt.Fprintln(c.out, "No jobs found.")
		return
	}
	tw := c.newTable("JOBS")
	tw.AppendHeader(rowOf("ID", "Type", "Status", "Progress", "Created", "Updated"))
	for _, j := range list {
		tw.AppendRow(rowOf(
			j.ID,
			j.Type,
			j.Status,
			fmt.Sprintf("%d/%d (%s)", j.ProcessedItems, j.TotalItems, percent(j.Progress())),
			j.CreatedAt.Format(time.RFC3339),
			j.UpdatedAt.Format(time.RFC3339),
		))
	}
	tw.Render()
}
