package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/ailoop/internal/client"
	"github.com/alfredjeanlab/ailoop/internal/config"
	"github.com/alfredjeanlab/ailoop/internal/ui"
)

var (
	serverAddr  string
	httpURL     string
	transport   string
	channelName string
	jsonOutput  bool
	noColor     bool

	// brokerClient speaks the selected transport. httpClient is always set
	// for the task and view commands, which only exist over HTTP.
	brokerClient client.BrokerClient
	httpClient   *client.HTTPClient

	cfg = loadConfig()
)

// loadConfig reads the client settings. A broken config file should not stop
// --help from working, so errors fall back to the defaults and are reported
// when a command runs.
func loadConfig() *config.Config {
	c, err := config.Load()
	if err != nil {
		configErr = err
		return config.Defaults()
	}
	return c
}

var configErr error

// exitError ends the process with code after printing msg (if any) to
// stderr. It marks outcomes such as a denied authorization that are not
// failures of the command itself.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

var rootCmd = &cobra.Command{
	Use:           "ailoop <command>",
	Short:         "Human-in-the-loop message broker for AI agents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configErr != nil {
			return configErr
		}
		if noColor || !ui.ShouldUseColor() {
			ui.ForceNoColor()
		}
		httpClient = client.NewHTTPClient(httpURL)
		switch transport {
		case "http":
			brokerClient = httpClient
		case "grpc":
			c, err := client.NewGRPCClient(serverAddr)
			if err != nil {
				return fmt.Errorf("failed to connect to server: %w", err)
			}
			brokerClient = c
		default:
			return fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if brokerClient != nil {
			brokerClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", cfg.ServerURL, "broker HTTP URL (AILOOP_SERVER)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", cfg.ServerRPC, "broker gRPC address (AILOOP_SERVER_RPC)")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "http", "transport protocol (http or grpc)")
	rootCmd.PersistentFlags().StringVarP(&channelName, "channel", "c", cfg.DefaultChannel, "channel name")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "messaging", Title: "Messaging:"},
		&cobra.Group{ID: "views", Title: "Views:"},
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Messaging
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(authorizeCmd)
	rootCmd.AddCommand(navigateCmd)
	rootCmd.AddCommand(respondCmd)
	rootCmd.AddCommand(forwardCmd)

	// Views
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(eventsCmd)

	// Tasks
	rootCmd.AddCommand(taskCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(os.Stderr, ee.msg)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
