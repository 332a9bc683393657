package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackcat-ai/blackcat/internal/bus"
	"github.com/blackcat-ai/blackcat/internal/config"
	"github.com/blackcat-ai/blackcat/internal/cron"
	"github.com/blackcat-ai/blackcat/internal/dependency"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled tasks",
}

func init() {
	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronAddCmd)
	cronCmd.AddCommand(cronRemoveCmd)
	cronCmd.AddCommand(cronEnableCmd)
	cronCmd.AddCommand(cronRunCmd)
}

// ---- list ------------------------------------------------------------------

var cronListAll bool

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	RunE: func(_ *cobra.Command, _ []string) error {
		jobs := cronStoreService().ListAllJobs(cronListAll)
		if len(jobs) == 0 {
			fmt.Println("No scheduled jobs.")
			return nil
		}
		fmt.Printf("%-10s %-20s %-25s %-10s %-20s\n", "ID", "Name", "Schedule", "Status", "Next Run")
		fmt.Println(strings.Repeat("-", 88))
		for _, j := range jobs {
			status := "enabled"
			if !j.Enabled {
				status = "disabled"
			}
			nextRun := ""
			if j.State.NextRunAtMs != nil {
				nextRun = time.UnixMilli(*j.State.NextRunAtMs).Format("2006-01-02 15:04")
			}
			fmt.Printf("%-10s %-20s %-25s %-10s %-20s\n",
				j.ID, truncStr(j.Name, 19), truncStr(formatSchedule(j.Schedule), 24), status, nextRun)
		}
		return nil
	},
}

func init() {
	cronListCmd.Flags().BoolVarP(&cronListAll, "all", "a", false, "Include disabled jobs")
}

// ---- add -------------------------------------------------------------------

var (
	cronAddName    string
	cronAddMsg     string
	cronAddEvery   int
	cronAddCron    string
	cronAddTZ      string
	cronAddAt      string
	cronAddDeliver bool
	cronAddTo      string
	cronAddChannel string
)

var cronAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scheduled job",
	RunE: func(_ *cobra.Command, _ []string) error {
		if cronAddTZ != "" && cronAddCron == "" {
			return fmt.Errorf("--tz can only be used with --cron")
		}

		var kind string
		var everyMs int64
		var atMs int64

		switch {
		case cronAddEvery > 0:
			kind = "every"
			everyMs = int64(cronAddEvery) * 1000
		case cronAddCron != "":
			kind = "cron"
		case cronAddAt != "":
			kind = "at"
			dt, err := time.ParseInLocation("2006-01-02T15:04:05", cronAddAt, time.Local)
			if err != nil {
				dt, err = time.Parse(time.RFC3339, cronAddAt)
				if err != nil {
					return fmt.Errorf("invalid --at value %q: %w", cronAddAt, err)
				}
			}
			atMs = dt.UnixMilli()
		default:
			return fmt.Errorf("must specify --every, --cron, or --at")
		}

		id, err := cronStoreService().AddJob(
			cronAddName, cronAddMsg, kind, everyMs, cronAddCron, cronAddTZ, atMs,
			cronAddDeliver, bus.Channel(cronAddChannel), cronAddTo, kind == "at",
		)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Added job '%s' (%s)\n", cronAddName, id)
		return nil
	},
}

func init() {
	cronAddCmd.Flags().StringVarP(&cronAddName, "name", "n", "", "Job name (required)")
	cronAddCmd.Flags().StringVarP(&cronAddMsg, "message", "m", "", "Message for agent (required)")
	cronAddCmd.Flags().IntVarP(&cronAddEvery, "every", "e", 0, "Run every N seconds")
	cronAddCmd.Flags().StringVarP(&cronAddCron, "cron", "c", "", "Cron expression (e.g. '0 9 * * *')")
	cronAddCmd.Flags().StringVar(&cronAddTZ, "tz", "", "IANA timezone for --cron")
	cronAddCmd.Flags().StringVar(&cronAddAt, "at", "", "Run once at ISO datetime")
	cronAddCmd.Flags().BoolVarP(&cronAddDeliver, "deliver", "d", false, "Deliver response to channel")
	cronAddCmd.Flags().StringVar(&cronAddTo, "to", "", "Recipient ID for delivery")
	cronAddCmd.Flags().StringVar(&cronAddChannel, "channel", "", "Channel for delivery")

	_ = cronAddCmd.MarkFlagRequired("name")
	_ = cronAddCmd.MarkFlagRequired("message")
}

// ---- remove / enable -------------------------------------------------------

var cronRemoveCmd = &cobra.Command{
	Use:   "remove <job-id>",
	Short: "Remove a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if cronStoreService().RemoveJob(args[0]) {
			fmt.Printf("✓ Removed job %s\n", args[0])
		} else {
			fmt.Printf("Job %s not found\n", args[0])
		}
		return nil
	},
}

var cronEnableDisable bool

var cronEnableCmd = &cobra.Command{
	Use:   "enable <job-id>",
	Short: "Enable (or disable) a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if !cronStoreService().EnableJob(args[0], !cronEnableDisable) {
			fmt.Printf("Job %s not found\n", args[0])
			return nil
		}
		action := "enabled"
		if cronEnableDisable {
			action = "disabled"
		}
		fmt.Printf("✓ Job %s %s\n", args[0], action)
		return nil
	},
}

func init() {
	cronEnableCmd.Flags().BoolVar(&cronEnableDisable, "disable", false, "Disable instead of enable")
}

// ---- run -------------------------------------------------------------------

var cronRunForce bool

var cronRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Manually run a job through the agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := config.Load(config.ConfigPath())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		container, err := dependency.New(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if container.CronService().RunJob(ctx, args[0], cronRunForce) {
			fmt.Println("✓ Job executed")
		} else {
			fmt.Printf("Failed to run job %s (not found or disabled; use --force)\n", args[0])
		}
		return nil
	},
}

func init() {
	cronRunCmd.Flags().BoolVarP(&cronRunForce, "force", "f", false, "Run even if disabled")
}

// ---- helpers ---------------------------------------------------------------

// cronStoreService opens the job catalog without the rest of the runtime.
// The throwaway bus is never started; list/add/remove touch only the store.
func cronStoreService() *cron.Service {
	path := filepath.Join(config.DataDir(), "cron", "jobs.json")
	return cron.NewService(path, bus.NewMessageBus(1))
}

func formatSchedule(s cron.Schedule) string {
	switch s.Kind {
	case "every":
		if s.EveryMs != nil {
			return fmt.Sprintf("every %ds", *s.EveryMs/1000)
		}
	case "cron":
		if s.Expr != nil {
			if s.TZ != nil {
				return *s.Expr + " (" + *s.TZ + ")"
			}
			return *s.Expr
		}
	case "at":
		return "one-time"
	}
	return s.Kind
}

func truncStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
