package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/queue"
)

func newEnqueueCmd(g *globals) *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "enqueue CAMPAIGN POST [TYPE...]",
		Short: "Enqueue or reset jobs for a tracked post",
		Long: `Enqueue or reset jobs for a tracked post. With no TYPE every job type is
enqueued. Existing jobs are reset to pending with their retry count cleared.

Examples:
  engagementd enqueue launch 1790000000000000000
  engagementd enqueue launch 1790000000000000000 metrics quotes --priority 0`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			types := core.AllJobTypes
			if len(args) > 2 {
				types = types[:0:0]
				for _, a := range args[2:] {
					jt, err := core.ParseJobType(a)
					if err != nil {
						return err
					}
					types = append(types, jt)
				}
			}

			p, _, err := g.open(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.Close()

			var opts []queue.Option
			if cmd.Flags().Changed("priority") {
				opts = append(opts, queue.Priority(priority))
			}
			for _, jt := range types {
				job, err := p.Queue.Enqueue(cmd.Context(), args[0], args[1], jt, opts...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tpriority=%d\n", job.ID, job.JobType, job.Priority)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "override the job type's default priority (lower runs first)")
	return cmd
}

func newStatsCmd(g *globals) *cobra.Command {
	var campaignID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts and the latest snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := g.open(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			stats, err := p.Queue.Stats(ctx)
			if err != nil {
				return err
			}
			for _, s := range []core.JobStatus{core.StatusPending, core.StatusProcessing, core.StatusRetrying, core.StatusCompleted, core.StatusFailed} {
				fmt.Fprintf(out, "%-10s %d\n", s, stats[s])
			}

			if campaignID == "" {
				return nil
			}
			snap, err := p.Store.LatestSnapshot(ctx, campaignID)
			if err != nil {
				return err
			}
			if snap == nil {
				fmt.Fprintf(out, "campaign %s: no snapshots yet\n", campaignID)
				return nil
			}
			fmt.Fprintf(out, "campaign %s @ %s: posts=%d likes=%d retweets=%d replies=%d quotes=%d views=%d\n",
				campaignID, snap.Hour.Format("2006-01-02T15:04Z"), snap.PostCount,
				snap.Likes, snap.Retweets, snap.Replies, snap.Quotes, snap.Views)
			return nil
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign", "", "also show this campaign's latest snapshot")
	return cmd
}

func newCleanupCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run maintenance once",
		Long: `Run maintenance once: release stale claims, delete completed jobs older
than queue.retention and purge expired authorization states.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := g.open(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.Maintenance(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "maintenance complete")
			return nil
		},
	}
}
