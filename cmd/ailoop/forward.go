package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/ailoop/internal/client"
	"github.com/alfredjeanlab/ailoop/internal/model"
)

var forwardCmd = &cobra.Command{
	Use:     "forward",
	Short:   "Stream stdin lines to a channel, buffering across reconnects",
	GroupID: "messaging",
	Long: `Reads stdin line by line and forwards each line to the channel over an
agent WebSocket. Plain lines become notifications; with --format=json each
line is a message content object, e.g. {"type":"notification","text":"hi"}.
Lines sent while the broker is unreachable are buffered and replayed in order.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		bufferSize, _ := cmd.Flags().GetInt("buffer")
		flushTimeout, _ := cmd.Flags().GetDuration("flush-timeout")
		if format != "text" && format != "json" {
			return fmt.Errorf("unknown format %q (must be text or json)", format)
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		fwd := client.NewForwarder(httpClient.WebSocketURL("agent"), bufferSize, logger)
		fwd.OnError = func(id, msg string) {
			fmt.Fprintf(cmd.ErrOrStderr(), "rejected %s: %s\n", id, msg)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return fwd.Run(gctx) })

		g.Go(func() error {
			defer cancel()
			sc := bufio.NewScanner(cmd.InOrStdin())
			sc.Buffer(make([]byte, 64*1024), 1024*1024)
			for sc.Scan() {
				content, ok, err := parseForwardLine(sc.Text(), format)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skipping line: %v\n", err)
					continue
				}
				if ok {
					fwd.Send(model.NewMessage(channelName, model.SenderAgent, content))
				}
			}
			if err := sc.Err(); err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}

			flushCtx, flushCancel := context.WithTimeout(gctx, flushTimeout)
			defer flushCancel()
			if err := fwd.Flush(flushCtx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("%d messages not delivered: %w", fwd.Pending(), err)
			}
			// Give the broker a moment to report rejections of the tail.
			select {
			case <-gctx.Done():
			case <-time.After(100 * time.Millisecond):
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			return err
		}
		if n := fwd.Dropped(); n > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "dropped %d messages (buffer full)\n", n)
		}
		return nil
	},
}

// parseForwardLine turns one input line into message content. Blank lines
// are skipped (ok is false).
func parseForwardLine(line, format string) (model.Content, bool, error) {
	if strings.TrimSpace(line) == "" {
		return model.Content{}, false, nil
	}
	if format == "text" {
		return model.Notification(line, ""), true, nil
	}
	var c model.Content
	if err := json.Unmarshal([]byte(line), &c); err != nil {
		return model.Content{}, false, fmt.Errorf("invalid JSON content: %w", err)
	}
	return c, true, nil
}

func init() {
	forwardCmd.Flags().String("format", "text", "input format (text or json)")
	forwardCmd.Flags().Int("buffer", 0, "messages held while disconnected (0 = default)")
	forwardCmd.Flags().Duration("flush-timeout", 30*time.Second, "how long to wait for buffered messages at EOF")
}
