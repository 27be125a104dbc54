package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jdziat/engagement-jobs/pkg/core"
)

func newAddCampaignCmd(g *globals) *cobra.Command {
	var name string
	var likes bool
	cmd := &cobra.Command{
		Use:   "add-campaign CAMPAIGN",
		Short: "Create or update a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := g.open(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.Close()

			c := &core.Campaign{ID: args[0], Name: name, LikesEnabled: likes}
			if err := p.Campaigns.AddCampaign(cmd.Context(), c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "campaign %s saved\n", c.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&likes, "likes", false, "ingest likes (needs the post author's delegated token)")
	return cmd
}

func newAddTweetCmd(g *globals) *cobra.Command {
	var author, category string
	cmd := &cobra.Command{
		Use:   "add-tweet CAMPAIGN POST",
		Short: "Track a post and enqueue every job type for it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := g.open(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.Close()

			jobs, err := p.Campaigns.AddTweet(cmd.Context(), &core.CampaignTweet{
				CampaignID: args[0],
				PostID:     args[1],
				AuthorID:   author,
				Category:   category,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tracking %s/%s, %d jobs enqueued\n", args[0], args[1], len(jobs))
			return nil
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "account ID of the post's author")
	cmd.Flags().StringVar(&category, "category", "", "category used to group the post in snapshots")
	return cmd
}

func newRemoveTweetCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-tweet CAMPAIGN POST",
		Short: "Stop tracking a post and delete its derived data",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := g.open(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.Campaigns.RemoveTweet(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s/%s\n", args[0], args[1])
			return nil
		},
	}
}
