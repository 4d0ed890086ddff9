package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/ailoop/internal/client"
	"github.com/alfredjeanlab/ailoop/internal/model"
)

var watchCmd = &cobra.Command{
	Use:     "watch [channel...]",
	Short:   "Follow channels live (all channels when none given)",
	GroupID: "views",
	RunE: func(cmd *cobra.Command, args []string) error {
		replay, _ := cmd.Flags().GetInt("replay")
		out := cmd.OutOrStdout()

		// Catch up on recent history first so a new viewer has context.
		if replay > 0 {
			channels := args
			if len(channels) == 0 {
				channels = []string{channelName}
			}
			for _, ch := range channels {
				msgs, err := httpClient.History(cmd.Context(), ch, replay)
				if err != nil {
					return fmt.Errorf("fetching history for %s: %w", ch, err)
				}
				for _, m := range msgs {
					if err := printMessageLine(out, m); err != nil {
						return err
					}
				}
			}
		}

		err := brokerClient.Watch(cmd.Context(), args, func(m *model.Message) error {
			return printMessageLine(out, m)
		})
		if err != nil {
			return fmt.Errorf("watching: %w", err)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:     "history [channel]",
	Short:   "Show recent messages in a channel",
	GroupID: "views",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ch := channelName
		if len(args) == 1 {
			ch = args[0]
		}
		msgs, err := httpClient.History(cmd.Context(), ch, limit)
		if err != nil {
			return fmt.Errorf("fetching history: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), msgs)
		}
		for _, m := range msgs {
			if err := printMessageLine(cmd.OutOrStdout(), m); err != nil {
				return err
			}
		}
		return nil
	},
}

var channelsCmd = &cobra.Command{
	Use:     "channels",
	Short:   "List channels with message counts",
	GroupID: "views",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := httpClient.ListChannels(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing channels: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		if len(stats) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No channels")
			return nil
		}
		printChannelTable(cmd.OutOrStdout(), stats)
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:     "events",
	Short:   "Show the broker audit log",
	GroupID: "views",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.ListEventsRequest{}
		req.Topic, _ = cmd.Flags().GetString("topic")
		req.SubjectID, _ = cmd.Flags().GetString("subject")
		req.AfterID, _ = cmd.Flags().GetInt64("after")
		req.Limit, _ = cmd.Flags().GetInt("limit")
		if cmd.Flags().Changed("channel") {
			req.Channel = channelName
		}

		evs, err := httpClient.ListEvents(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("listing events: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), evs)
		}
		printEventTable(cmd.OutOrStdout(), evs)
		return nil
	},
}

func init() {
	watchCmd.Flags().Int("replay", 0, "print this many recent messages per channel before following")
	historyCmd.Flags().IntP("limit", "n", 50, "maximum messages (0 = all)")
	eventsCmd.Flags().String("topic", "", "topic prefix, e.g. ailoop.task")
	eventsCmd.Flags().String("subject", "", "message or task id")
	eventsCmd.Flags().Int64("after", 0, "only events with a larger id")
	eventsCmd.Flags().IntP("limit", "n", 100, "maximum events")
}
