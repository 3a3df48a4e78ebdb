package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewDistributionCmd создаёт группу команд для дистрибуции в сторы.
func NewDistributionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "distribution",
		Aliases: []string{"dist"},
		Short:   "Manage store submissions and rollouts",
	}

	cmd.AddCommand(
		newDistShowCmd(clientFn, outputFn),
		newDistHistoryCmd(clientFn, outputFn),
		newDistSyncCmd(clientFn, outputFn),
		newDistSubmitCmd(clientFn, outputFn),
		newDistRolloutCmd(clientFn, outputFn),
		newDistActionCmd(clientFn, outputFn, "pause", "Pause a phased rollout", false),
		newDistActionCmd(clientFn, outputFn, "resume", "Resume a paused rollout", false),
		newDistActionCmd(clientFn, outputFn, "halt", "Halt a rollout permanently", true),
		newDistActionCmd(clientFn, outputFn, "cancel", "Cancel a submission under review", true),
		newDistResubmitCmd(clientFn, outputFn),
	)

	return cmd
}

func newDistShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show RELEASE_ID",
		Short: "Show distribution of a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := clientFn().GetDistribution(args[0])
			if err != nil {
				return err
			}
			printDistribution(outputFn(), d)
			return nil
		},
	}
}

func newDistSyncCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "sync RELEASE_ID",
		Short: "Poll the stores and apply submission statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := clientFn().SyncDistribution(args[0])
			if err != nil {
				return err
			}
			printDistribution(outputFn(), d)
			return nil
		},
	}
}

func printDistribution(out *Output, d *DistributionResponse) {
	if !out.jsonMode {
		out.Detail([][2]string{
			{"ID", d.ID},
			{"Release", d.ReleaseID},
			{"Status", d.Status},
		}, nil)
		fmt.Fprintln(out.w)
	}
	out.Print(submissionHeaders, submissionRows(d.Submissions), d)
}

func newDistHistoryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "history RELEASE_ID",
		Short: "List all submissions of a release, including superseded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subs, err := clientFn().DistributionHistory(args[0])
			if err != nil {
				return err
			}
			outputFn().Print(submissionHeaders, submissionRows(subs), subs)
			return nil
		},
	}
}

func newDistSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req SubmitRequest

	cmd := &cobra.Command{
		Use:   "submit DISTRIBUTION_ID SUBMISSION_ID",
		Short: "Submit a build to the store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Resolution = strings.ToUpper(req.Resolution)
			sub, err := clientFn().Submit(args[0], args[1], req)
			if err != nil {
				return err
			}
			printSubmission(outputFn(), sub, "Submitted for review")
			return nil
		},
	}

	addSubmitFlags(cmd, &req)

	return cmd
}

func newDistResubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req SubmitRequest

	cmd := &cobra.Command{
		Use:   "resubmit DISTRIBUTION_ID",
		Short: "Create a new submission after rejection or cancellation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Platform = strings.ToUpper(req.Platform)
			req.Resolution = strings.ToUpper(req.Resolution)
			sub, err := clientFn().Resubmit(args[0], req)
			if err != nil {
				return err
			}
			printSubmission(outputFn(), sub, "Resubmitted for review")
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Platform, "platform", "", "Platform (ANDROID, IOS)")
	addSubmitFlags(cmd, &req)
	cmd.MarkFlagRequired("platform")

	return cmd
}

func addSubmitFlags(cmd *cobra.Command, req *SubmitRequest) {
	cmd.Flags().StringVar(&req.BuildNumber, "build-number", "", "Build number")
	cmd.Flags().StringVar(&req.ArtifactRef, "artifact", "", "Artifact reference")
	cmd.Flags().StringVar(&req.Version, "version", "", "Override version")
	cmd.Flags().StringVar(&req.ReleaseNotes, "notes", "", "Release notes")
	cmd.Flags().StringVar(&req.Actor, "actor", "", "Who performs the action")
	cmd.Flags().StringVar(&req.Resolution, "resolution", "", "Version conflict resolution (USE_EXISTING, INCREMENT_AND_RETRY)")
	cmd.MarkFlagRequired("build-number")
	cmd.MarkFlagRequired("artifact")
	cmd.MarkFlagRequired("actor")
}

func newDistRolloutCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "rollout DISTRIBUTION_ID SUBMISSION_ID PERCENT",
		Short: "Set rollout percentage of a live submission",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pct, err := strconv.ParseFloat(strings.TrimSuffix(args[2], "%"), 64)
			if err != nil {
				return fmt.Errorf("invalid percent %q: %w", args[2], err)
			}

			sub, err := clientFn().UpdateRollout(args[0], args[1], pct, actor)
			if err != nil {
				return err
			}
			printSubmission(outputFn(), sub, "Rollout updated")
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Who performs the action")
	cmd.MarkFlagRequired("actor")

	return cmd
}

func newDistActionCmd(clientFn func() *Client, outputFn func() *Output, action, short string, withReason bool) *cobra.Command {
	var actor, reason string

	cmd := &cobra.Command{
		Use:   action + " DISTRIBUTION_ID SUBMISSION_ID",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := clientFn().SubmissionAction(args[0], args[1], action, actor, reason)
			if err != nil {
				return err
			}
			printSubmission(outputFn(), sub, "Submission "+sub.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Who performs the action")
	cmd.MarkFlagRequired("actor")
	if withReason {
		cmd.Flags().StringVar(&reason, "reason", "", "Reason")
	}

	return cmd
}

var submissionHeaders = []string{"ID", "PLATFORM", "MODE", "STATUS", "ROLLOUT", "VERSION", "BUILD", "SUPERSEDED_BY"}

func submissionRows(subs []SubmissionResponse) [][]string {
	rows := make([][]string, len(subs))
	for i, s := range subs {
		rows[i] = []string{s.ID, s.Platform, s.ReleaseMode, s.Status, formatPercent(s.RolloutPercent), s.Version, s.BuildNumber, s.SupersededBy}
	}
	return rows
}

func printSubmission(out *Output, s *SubmissionResponse, msg string) {
	out.Detail([][2]string{
		{"ID", s.ID},
		{"Distribution", s.DistributionID},
		{"Platform", s.Platform},
		{"Status", s.Status},
		{"Rollout", formatPercent(s.RolloutPercent)},
		{"Version", s.Version},
		{"Build", s.BuildNumber},
		{"Store handle", s.StoreHandle},
	}, s)
	out.Success(msg)
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64) + "%"
}
