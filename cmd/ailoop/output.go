package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/ailoop/internal/model"
	"github.com/alfredjeanlab/ailoop/internal/ui"
)

const timeFormat = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// printMessageLine writes msg as one line: compact JSON with --json, the
// rendered form otherwise. watch streams these.
func printMessageLine(w io.Writer, msg *model.Message) error {
	if jsonOutput {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := fmt.Fprintln(w, ui.FormatMessage(msg))
	return err
}

func printTaskDetail(w io.Writer, t *model.Task) {
	fmt.Fprintf(w, "ID:          %s\n", t.ID)
	fmt.Fprintf(w, "Channel:     %s\n", t.Channel)
	fmt.Fprintf(w, "Title:       %s\n", t.Title)
	fmt.Fprintf(w, "State:       %s\n", ui.FormatTaskState(t))
	if t.Assignee != "" {
		fmt.Fprintf(w, "Assignee:    %s\n", t.Assignee)
	}
	if t.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", t.Description)
	}
	if len(t.DependsOn) > 0 {
		deps := make([]string, len(t.DependsOn))
		for i, d := range t.DependsOn {
			deps[i] = fmt.Sprintf("%s (%s)", d.TaskID, d.Type)
		}
		fmt.Fprintf(w, "Depends On:  %s\n", strings.Join(deps, ", "))
	}
	if len(t.BlockingFor) > 0 {
		fmt.Fprintf(w, "Blocking:    %s\n", strings.Join(t.BlockingFor, ", "))
	}
	if !t.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:  %s\n", t.CreatedAt.Local().Format(timeFormat))
	}
	if !t.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated At:  %s\n", t.UpdatedAt.Local().Format(timeFormat))
	}
}

func printTaskTable(w io.Writer, tasks []*model.Task, total int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCHANNEL\tSTATE\tTITLE\tASSIGNEE\tDEPS")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			t.ID,
			t.Channel,
			ui.FormatTaskState(t),
			truncate(t.Title, 50),
			t.Assignee,
			len(t.DependsOn),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d tasks (%d total)\n", len(tasks), total)
}

func printTaskGraph(w io.Writer, g *model.TaskGraph) {
	fmt.Fprintf(w, "%s  %s  %s\n", ui.RenderAccent(g.Task.ID), ui.FormatTaskState(g.Task), g.Task.Title)
	for _, p := range g.Parents {
		fmt.Fprintf(w, "  %s %s  %s  %s\n", ui.RenderMuted("depends on"), p.ID, ui.FormatTaskState(p), p.Title)
	}
	for _, c := range g.Children {
		fmt.Fprintf(w, "  %s %s  %s  %s\n", ui.RenderMuted("blocking"), c.ID, ui.FormatTaskState(c), c.Title)
	}
}

func printChannelTable(w io.Writer, stats []*model.ChannelStats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tMESSAGES\tCAPACITY\tSUBSCRIBERS\tLAST")
	for _, s := range stats {
		last := ""
		if s.Newest != nil {
			last = s.Newest.Timestamp.Local().Format(timeFormat)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", s.Channel, s.MessageCount, s.Capacity, s.Subscribers, last)
	}
	tw.Flush()
}

func printEventTable(w io.Writer, evs []*model.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tTOPIC\tCHANNEL\tSUBJECT\tACTOR")
	for _, e := range evs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.CreatedAt.Local().Format(timeFormat), e.Topic, e.Channel, e.SubjectID, e.Actor)
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// parseTimeout accepts whole seconds ("30") or a Go duration ("2m30s") and
// returns whole seconds. Zero means the broker default.
func parseTimeout(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		d, err = time.ParseDuration(s + "s")
		if err != nil {
			return 0, fmt.Errorf("invalid timeout %q: want seconds or a duration like 90s", s)
		}
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid timeout %q: must not be negative", s)
	}
	return int((d + time.Second - 1) / time.Second), nil
}
