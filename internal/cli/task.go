package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для задач релиза.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage release tasks",
	}

	cmd.AddCommand(
		newTaskRetryCmd(clientFn, outputFn),
		newTaskManualBuildCmd(clientFn, outputFn),
	)

	return cmd
}

// NewCycleCmd создаёт группу команд для циклов регрессии.
func NewCycleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Manage regression cycles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "abandon CYCLE_ID",
		Short: "Abandon a regression cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cycle, err := clientFn().AbandonCycle(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			out.Detail([][2]string{
				{"ID", cycle.ID},
				{"Release", cycle.ReleaseID},
				{"Slot", strconv.Itoa(cycle.SlotIndex)},
				{"Tag", cycle.Tag},
				{"Status", cycle.Status},
			}, cycle)
			out.Success("Cycle abandoned")
			return nil
		},
	})

	return cmd
}

func newTaskRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "retry TASK_ID",
		Short: "Retry a failed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := clientFn().RetryTask(args[0])
			if err != nil {
				return err
			}
			printTask(outputFn(), task, "Task queued for retry")
			return nil
		},
	}
}

func newTaskManualBuildCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var buildNumber, artifactURL string

	cmd := &cobra.Command{
		Use:   "manual-build TASK_ID",
		Short: "Attach a manually uploaded build to a build task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := clientFn().AttachManualBuild(args[0], buildNumber, artifactURL)
			if err != nil {
				return err
			}
			printTask(outputFn(), task, "Build attached")
			return nil
		},
	}

	cmd.Flags().StringVar(&buildNumber, "build-number", "", "Build number")
	cmd.Flags().StringVar(&artifactURL, "url", "", "Artifact URL")
	cmd.MarkFlagRequired("build-number")
	cmd.MarkFlagRequired("url")

	return cmd
}

func printTask(out *Output, t *TaskResponse, msg string) {
	out.Detail([][2]string{
		{"ID", t.ID},
		{"Release", t.ReleaseID},
		{"Stage", t.Stage},
		{"Type", t.Type},
		{"Platform", t.Platform},
		{"Status", t.Status},
		{"Attempt", strconv.Itoa(t.Attempt)},
		{"Error", t.Error},
	}, t)
	out.Success(msg)
}
