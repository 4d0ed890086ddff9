package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

// Source supplies the broker state captured in a snapshot.
type Source interface {
	Tasks() []*model.Task
	ChannelStats() []*model.ChannelStats
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	ChannelCount int       `json:"channel_count"`
	TaskCount    int       `json:"task_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes a snapshot of channel statistics and tasks as JSONL to
// w. Channels are sorted by name and tasks by channel, then id.
func ExportJSONL(ctx context.Context, src Source, w io.Writer) error {
	channels := src.ChannelStats()
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].Channel < channels[j].Channel
	})

	tasks := src.Tasks()
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Channel != tasks[j].Channel {
			return tasks[i].Channel < tasks[j].Channel
		}
		return tasks[i].ID < tasks[j].ID
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      "1",
		Type:         "header",
		Timestamp:    time.Now().UTC(),
		ChannelCount: len(channels),
		TaskCount:    len(tasks),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, c := range channels {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(record{Type: "channel", Data: c}); err != nil {
			return fmt.Errorf("encode channel %s: %w", c.Channel, err)
		}
	}

	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(record{Type: "task", Data: t}); err != nil {
			return fmt.Errorf("encode task %s: %w", t.ID, err)
		}
	}

	return nil
}
