package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the broker",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := brokerClient.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), h); err != nil {
				return err
			}
		} else {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Health:      %s\n", h.Status)
			fmt.Fprintf(w, "Version:     %s\n", h.Version)
			fmt.Fprintf(w, "Uptime:      %s\n", (time.Duration(h.UptimeSeconds) * time.Second).String())
			fmt.Fprintf(w, "Connections: %d\n", h.ActiveConnections)
			fmt.Fprintf(w, "Channels:    %d\n", h.ActiveChannels)
			fmt.Fprintf(w, "Messages:    %d\n", h.QueueSize)
			fmt.Fprintf(w, "Pending:     %d\n", h.PendingRequests)
		}

		if h.Status != "healthy" {
			return fmt.Errorf("unhealthy: %s", h.Status)
		}
		return nil
	},
}
