package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/ailoop/internal/client"
	"github.com/alfredjeanlab/ailoop/internal/model"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	Short:   "Manage the channel task graph",
	GroupID: "tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("description")
		assignee, _ := cmd.Flags().GetString("assignee")
		deps, _ := cmd.Flags().GetStringSlice("depends-on")

		task, err := httpClient.CreateTask(cmd.Context(), &client.CreateTaskRequest{
			Channel:     channelName,
			Title:       args[0],
			Description: desc,
			Assignee:    assignee,
		})
		if err != nil {
			return fmt.Errorf("creating task: %w", err)
		}
		for _, dep := range deps {
			updated, err := httpClient.AddDependency(cmd.Context(), task.ID, dep, model.DepBlocks)
			if err != nil {
				return fmt.Errorf("task %s created, adding dependency on %s: %w", task.ID, dep, err)
			}
			task = updated
		}
		return printTask(cmd, task)
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := httpClient.GetTask(cmd.Context(), taskChannel(cmd), args[0])
		if err != nil {
			return fmt.Errorf("getting task: %w", err)
		}
		return printTask(cmd, task)
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a task's fields or state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.UpdateTaskRequest{}
		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			req.Title = &v
		}
		if cmd.Flags().Changed("description") {
			v, _ := cmd.Flags().GetString("description")
			req.Description = &v
		}
		if cmd.Flags().Changed("assignee") {
			v, _ := cmd.Flags().GetString("assignee")
			req.Assignee = &v
		}
		if cmd.Flags().Changed("state") {
			v, _ := cmd.Flags().GetString("state")
			st := model.TaskState(v)
			req.State = &st
		}
		if *req == (client.UpdateTaskRequest{}) {
			return fmt.Errorf("nothing to update (use --title, --description, --assignee or --state)")
		}

		task, err := httpClient.UpdateTask(cmd.Context(), args[0], req)
		if err != nil {
			return fmt.Errorf("updating task: %w", err)
		}
		return printTask(cmd, task)
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskList(cmd, httpClient.ListTasks)
	},
}

var taskReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List pending tasks with no open blockers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskList(cmd, httpClient.ReadyTasks)
	},
}

var taskBlockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List pending tasks waiting on a dependency",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskList(cmd, httpClient.BlockedTasks)
	},
}

var taskGraphCmd = &cobra.Command{
	Use:   "graph <id>",
	Short: "Show a task with its parents and children",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := httpClient.TaskGraph(cmd.Context(), taskChannel(cmd), args[0])
		if err != nil {
			return fmt.Errorf("getting task graph: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), g)
		}
		printTaskGraph(cmd.OutOrStdout(), g)
		return nil
	},
}

var taskDepCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage task dependencies",
}

var taskDepAddCmd = &cobra.Command{
	Use:   "add <task-id> <depends-on-id>",
	Short: "Make a task depend on another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		task, err := httpClient.AddDependency(cmd.Context(), args[0], args[1], model.DependencyType(typ))
		if err != nil {
			return fmt.Errorf("adding dependency: %w", err)
		}
		return printTask(cmd, task)
	},
}

var taskDepRemoveCmd = &cobra.Command{
	Use:   "remove <task-id> <depends-on-id>",
	Short: "Remove a dependency",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := httpClient.RemoveDependency(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("removing dependency: %w", err)
		}
		return printTask(cmd, task)
	},
}

// taskChannel scopes lookups to --channel only when it was given, so ids
// resolve across channels by default.
func taskChannel(cmd *cobra.Command) string {
	if cmd.Flags().Changed("channel") {
		return channelName
	}
	return ""
}

func printTask(cmd *cobra.Command, task *model.Task) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), task)
	}
	printTaskDetail(cmd.OutOrStdout(), task)
	return nil
}

type listFunc func(ctx context.Context, req *client.ListTasksRequest) (*client.ListTasksResponse, error)

func runTaskList(cmd *cobra.Command, list listFunc) error {
	req := &client.ListTasksRequest{Channel: taskChannel(cmd)}
	req.State, _ = cmd.Flags().GetStringSlice("state")
	req.Assignee, _ = cmd.Flags().GetString("assignee")
	req.Limit, _ = cmd.Flags().GetInt("limit")

	resp, err := list(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	printTaskTable(cmd.OutOrStdout(), resp.Tasks, resp.Total)
	return nil
}

func init() {
	taskCreateCmd.Flags().StringP("description", "d", "", "task description")
	taskCreateCmd.Flags().StringP("assignee", "a", "", "assignee")
	taskCreateCmd.Flags().StringSlice("depends-on", nil, "task id this one is blocked by (repeatable)")

	taskUpdateCmd.Flags().String("title", "", "new title")
	taskUpdateCmd.Flags().StringP("description", "d", "", "new description")
	taskUpdateCmd.Flags().StringP("assignee", "a", "", "new assignee")
	taskUpdateCmd.Flags().StringP("state", "s", "", "new state (pending, done, abandoned)")

	for _, c := range []*cobra.Command{taskListCmd, taskReadyCmd, taskBlockedCmd} {
		c.Flags().StringSliceP("state", "s", nil, "filter by state (repeatable)")
		c.Flags().StringP("assignee", "a", "", "filter by assignee")
		c.Flags().IntP("limit", "n", 0, "maximum tasks (0 = all)")
	}

	taskDepAddCmd.Flags().StringP("type", "t", string(model.DepBlocks), "dependency type (blocks, parent, related)")

	taskDepCmd.AddCommand(taskDepAddCmd, taskDepRemoveCmd)
	taskCmd.AddCommand(
		taskCreateCmd,
		taskListCmd,
		taskShowCmd,
		taskUpdateCmd,
		taskReadyCmd,
		taskBlockedCmd,
		taskGraphCmd,
		taskDepCmd,
	)
}
