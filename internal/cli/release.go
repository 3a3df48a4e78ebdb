package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewReleaseCmd создаёт группу команд для управления релизами.
func NewReleaseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "release",
		Aliases: []string{"rel"},
		Short:   "Manage releases",
	}

	cmd.AddCommand(
		newReleaseListCmd(clientFn, outputFn),
		newReleaseStartCmd(clientFn, outputFn),
		newReleaseShowCmd(clientFn, outputFn),
		newReleasePauseCmd(clientFn, outputFn),
		newReleaseResumeCmd(clientFn, outputFn),
		newReleaseArchiveCmd(clientFn, outputFn),
		newReleaseTriggerCmd(clientFn, outputFn),
		newReleaseTickCmd(clientFn, outputFn),
		newReleaseTasksCmd(clientFn, outputFn),
		newReleaseCyclesCmd(clientFn, outputFn),
	)

	return cmd
}

func newReleaseListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List releases in progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			releases, err := clientFn().ListReleases(limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "CODE", "STATUS", "TYPE", "PLATFORMS", "TARGET_DATE"}
			rows := make([][]string, len(releases))
			for i, r := range releases {
				rows[i] = []string{r.ID, r.Code, r.Status, r.Type, formatPlatforms(r.Platforms), shortDate(r.TargetReleaseDate)}
			}

			outputFn().Print(headers, rows, releases)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newReleaseStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		req        KickoffRequest
		platforms  []string
		targetDate string
		kickoff    string
		configPath string
		auto       []string
	)

	cmd := &cobra.Command{
		Use:   "start CODE",
		Short: "Kick off a new release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Code = args[0]

			targets, err := parsePlatforms(platforms)
			if err != nil {
				return err
			}
			req.Platforms = targets

			if req.TargetReleaseDate, err = parseDate(targetDate); err != nil {
				return fmt.Errorf("invalid --target-date: %w", err)
			}
			if kickoff != "" {
				t, err := parseDate(kickoff)
				if err != nil {
					return fmt.Errorf("invalid --kickoff-date: %w", err)
				}
				req.KickoffDate = &t
			}

			if configPath != "" {
				if req.Config, err = loadStageConfig(configPath); err != nil {
					return err
				}
			}

			if len(auto) > 0 {
				req.AutoTransitions = make(map[string]bool, len(auto))
				for _, s := range auto {
					req.AutoTransitions[strings.ToUpper(s)] = true
				}
			}

			resp, err := clientFn().Kickoff(req)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Detail(releasePairs(&resp.Release, &resp.CronJob), resp)
			out.Success(fmt.Sprintf("Release %s started", resp.Release.Code))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&platforms, "platform", "p", nil, "Platform as PLATFORM:VERSION[:TARGET] (repeatable)")
	cmd.Flags().StringVar(&targetDate, "target-date", "", "Target release date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&kickoff, "kickoff-date", "", "Kickoff date (default: now)")
	cmd.Flags().StringVar(&req.Type, "type", "", "Release type (MINOR, MAJOR, HOTFIX, PATCH)")
	cmd.Flags().StringVar(&req.TenantID, "tenant", "", "Tenant ID")
	cmd.Flags().StringVar(&req.Branch, "branch", "", "Release branch name (default: derived from code)")
	cmd.Flags().StringVar(&req.BaseBranch, "base-branch", "", "Base branch to cut from")
	cmd.Flags().StringVarP(&configPath, "config", "f", "", "Path to stage config file (YAML or JSON)")
	cmd.Flags().StringSliceVar(&auto, "auto", nil, "Stages with automatic transition (e.g. REGRESSION,PRE_RELEASE)")
	cmd.MarkFlagRequired("platform")
	cmd.MarkFlagRequired("target-date")

	return cmd
}

func newReleaseShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show RELEASE_ID",
		Short: "Show release status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := clientFn().GetRelease(args[0])
			if err != nil {
				return err
			}

			pairs := releasePairs(&status.Release, &status.CronJob)
			pairs = append(pairs, [2]string{"Active stage", status.ActiveStage})
			for _, t := range status.FailedTasks {
				pairs = append(pairs, [2]string{"Failed task", fmt.Sprintf("%s %s %s", t.ID, t.Type, t.Error)})
			}

			outputFn().Detail(pairs, status)
			return nil
		},
	}
}

func newReleasePauseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "pause RELEASE_ID",
		Short: "Pause a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cron, err := clientFn().Pause(args[0], reason)
			if err != nil {
				return err
			}
			printCronJob(outputFn(), cron, "Release paused")
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Pause reason")

	return cmd
}

func newReleaseResumeCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "resume RELEASE_ID",
		Short: "Resume a paused release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cron, err := clientFn().Resume(args[0])
			if err != nil {
				return err
			}
			printCronJob(outputFn(), cron, "Release resumed")
			return nil
		},
	}
}

func newReleaseArchiveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "archive RELEASE_ID",
		Short: "Archive a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rel, err := clientFn().Archive(args[0])
			if err != nil {
				return err
			}
			out := outputFn()
			out.Detail(releasePairs(rel, nil), rel)
			out.Success(fmt.Sprintf("Release %s archived", rel.Code))
			return nil
		},
	}
}

func newReleaseTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger RELEASE_ID STAGE",
		Short: "Start a stage awaiting manual transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage := strings.ToUpper(args[1])
			cron, err := clientFn().TriggerStage(args[0], stage)
			if err != nil {
				return err
			}
			printCronJob(outputFn(), cron, "Stage "+stage+" triggered")
			return nil
		},
	}
}

func newReleaseTickCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tick RELEASE_ID",
		Short: "Run one orchestrator tick for a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tick, err := clientFn().Tick(args[0])
			if err != nil {
				return err
			}

			pairs := [][2]string{
				{"Outcome", tick.Outcome},
				{"Stage", tick.Stage},
				{"Completed", strings.Join(tick.Completed, ", ")},
				{"Pause type", tick.PauseType},
			}
			outputFn().Detail(pairs, tick)
			return nil
		},
	}
}

func newReleaseTasksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var stage string

	cmd := &cobra.Command{
		Use:   "tasks RELEASE_ID",
		Short: "List release tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := clientFn().ListTasks(args[0], strings.ToUpper(stage))
			if err != nil {
				return err
			}

			headers := []string{"ID", "STAGE", "TYPE", "PLATFORM", "STATUS", "ATTEMPT", "ERROR"}
			rows := make([][]string, len(resp.Tasks))
			for i, t := range resp.Tasks {
				rows[i] = []string{t.ID, t.Stage, t.Type, t.Platform, t.Status, strconv.Itoa(t.Attempt), truncate(t.Error, 60)}
			}

			outputFn().Print(headers, rows, resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Filter by stage (KICKOFF, REGRESSION, PRE_RELEASE, DISTRIBUTION)")

	return cmd
}

func newReleaseCyclesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cycles RELEASE_ID",
		Short: "List regression cycles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cycles, err := clientFn().ListCycles(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "SLOT", "TAG", "STATUS", "CREATED"}
			rows := make([][]string, len(cycles))
			for i, c := range cycles {
				rows[i] = []string{c.ID, strconv.Itoa(c.SlotIndex), c.Tag, c.Status, c.CreatedAt}
			}

			outputFn().Print(headers, rows, cycles)
			return nil
		},
	}
}

// --- helpers ---

func releasePairs(r *ReleaseResponse, cron *CronJobResponse) [][2]string {
	pairs := [][2]string{
		{"ID", r.ID},
		{"Code", r.Code},
		{"Status", r.Status},
		{"Type", r.Type},
		{"Branch", r.Branch},
		{"Platforms", formatPlatforms(r.Platforms)},
		{"Target date", shortDate(r.TargetReleaseDate)},
		{"Released at", r.ReleasedAt},
	}
	if cron != nil {
		pairs = append(pairs,
			[2]string{"Cron status", cron.CronStatus},
			[2]string{"Stages", formatStages(cron.Stages)},
			[2]string{"Pause type", cron.PauseType},
			[2]string{"Pause reason", cron.PauseReason},
		)
	}
	return pairs
}

func printCronJob(out *Output, cron *CronJobResponse, msg string) {
	pairs := [][2]string{
		{"Release", cron.ReleaseID},
		{"Cron status", cron.CronStatus},
		{"Stages", formatStages(cron.Stages)},
		{"Pause type", cron.PauseType},
		{"Pause reason", cron.PauseReason},
	}
	out.Detail(pairs, cron)
	out.Success(msg)
}

var stageOrder = []string{"KICKOFF", "REGRESSION", "PRE_RELEASE", "DISTRIBUTION"}

func formatStages(stages map[string]string) string {
	parts := make([]string, 0, len(stages))
	for _, s := range stageOrder {
		if st, ok := stages[s]; ok {
			parts = append(parts, s+"="+st)
		}
	}
	return strings.Join(parts, " ")
}

func formatPlatforms(ps []PlatformTarget) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.Platform + ":" + p.Version
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// parsePlatforms разбирает значения вида ANDROID:4.12.0 или IOS:4.12.0:app-store.
func parsePlatforms(values []string) ([]PlatformTarget, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("at least one --platform is required")
	}

	targets := make([]PlatformTarget, 0, len(values))
	for _, v := range values {
		parts := strings.SplitN(v, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid platform %q, expected PLATFORM:VERSION[:TARGET]", v)
		}
		t := PlatformTarget{Platform: strings.ToUpper(parts[0]), Version: parts[1]}
		if len(parts) == 3 {
			t.Target = parts[2]
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// loadStageConfig читает конфигурацию стадий из YAML (JSON тоже валидный YAML)
// и приводит её к JSON-совместимому виду.
func loadStageConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg map[string]any
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Вложенные map с нестроковыми ключами json не кодирует.
	if _, err := json.Marshal(cfg); err != nil {
		return nil, fmt.Errorf("config is not JSON-compatible: %w", err)
	}
	return cfg, nil
}

func shortDate(s string) string {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(time.DateOnly)
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
