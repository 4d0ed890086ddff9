package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/ailoop/internal/client"
	"github.com/alfredjeanlab/ailoop/internal/model"
	"github.com/alfredjeanlab/ailoop/internal/ui"
)

var sayCmd = &cobra.Command{
	Use:     "say <text>...",
	Short:   "Post a notification to a channel",
	GroupID: "messaging",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, _ := cmd.Flags().GetString("priority")
		msg, err := brokerClient.SendMessage(cmd.Context(), &client.SendMessageRequest{
			Channel:    channelName,
			SenderType: model.SenderAgent,
			Content:    model.Notification(strings.Join(args, " "), model.Priority(priority)),
		})
		if err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), msg)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to #%s\n", msg.ID, msg.Channel)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:     "ask <question>...",
	Short:   "Ask a question and wait for the answer",
	GroupID: "messaging",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		choices, _ := cmd.Flags().GetStringSlice("choice")
		res, err := request(cmd, model.Question(strings.Join(args, " "), 0, choices...))
		if err != nil {
			return err
		}
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		}
		if res.Outcome != client.OutcomeAnswered {
			return &exitError{code: 1, msg: "No answer: " + res.Outcome}
		}
		if !jsonOutput {
			fmt.Fprintln(cmd.OutOrStdout(), res.Response.Content.Answer)
		}
		return nil
	},
}

var authorizeCmd = &cobra.Command{
	Use:     "authorize <action>...",
	Short:   "Request approval for an action (denied unless approved in time)",
	GroupID: "messaging",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		why, _ := cmd.Flags().GetString("context")
		res, err := request(cmd, model.Authorization(strings.Join(args, " "), why, 0))
		if err != nil {
			return err
		}
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		}
		if !res.Approved() {
			// A human denial is "answered"; the broker's default-deny on
			// timeout is reported as "denied".
			reason := "denied"
			if res.Outcome != client.OutcomeAnswered {
				reason = "denied (timed out)"
			}
			if jsonOutput {
				return &exitError{code: 1}
			}
			return &exitError{code: 1, msg: ui.RenderError(reason)}
		}
		if !jsonOutput {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderOK("approved"))
		}
		return nil
	},
}

var navigateCmd = &cobra.Command{
	Use:     "navigate <url>",
	Short:   "Ask a human to open a URL and wait for acknowledgement",
	GroupID: "messaging",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := request(cmd, model.Navigate(args[0]))
		if err != nil {
			return err
		}
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		}
		if res.Outcome != client.OutcomeAnswered {
			return &exitError{code: 1, msg: "Not acknowledged: " + res.Outcome}
		}
		if !jsonOutput {
			fmt.Fprintf(cmd.OutOrStdout(), "Acknowledged %s\n", args[0])
		}
		return nil
	},
}

// request posts a blocking request with the command's --timeout and waits
// for its outcome.
func request(cmd *cobra.Command, content model.Content) (*client.RequestResult, error) {
	raw, _ := cmd.Flags().GetString("timeout")
	timeout, err := parseTimeout(raw)
	if err != nil {
		return nil, err
	}
	res, err := brokerClient.Request(cmd.Context(), &client.RequestRequest{
		Channel:        channelName,
		Content:        content,
		TimeoutSeconds: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("sending %s: %w", content.Type, err)
	}
	return res, nil
}

var respondCmd = &cobra.Command{
	Use:     "respond <request-id> [answer]...",
	Short:   "Answer a pending question, authorization or navigation",
	GroupID: "messaging",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approve, _ := cmd.Flags().GetBool("approve")
		deny, _ := cmd.Flags().GetBool("deny")
		if approve && deny {
			return fmt.Errorf("--approve and --deny are mutually exclusive")
		}

		req := &client.RespondRequest{
			Answer:     strings.Join(args[1:], " "),
			SenderType: model.SenderHuman,
		}
		switch {
		case approve:
			req.ResponseType = model.ResponseAuthorizationApproved
		case deny:
			req.ResponseType = model.ResponseAuthorizationDenied
		}

		msg, err := brokerClient.Respond(cmd.Context(), args[0], req)
		if err != nil {
			return fmt.Errorf("responding to %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), msg)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Responded to %s (%s)\n", msg.CorrelationID, msg.Content.ResponseType)
		return nil
	},
}

func init() {
	sayCmd.Flags().StringP("priority", "p", string(model.PriorityNormal), "priority (low, normal, high, urgent)")

	for _, c := range []*cobra.Command{askCmd, authorizeCmd, navigateCmd} {
		c.Flags().StringP("timeout", "t", "", "seconds or duration to wait (default: broker default)")
	}
	askCmd.Flags().StringSlice("choice", nil, "allowed answer (repeatable)")
	authorizeCmd.Flags().String("context", "", "why the action is needed")

	respondCmd.Flags().Bool("approve", false, "approve an authorization")
	respondCmd.Flags().Bool("deny", false, "deny an authorization")
}
