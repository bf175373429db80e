package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dw2kim/job-scheduler/internal/core"
	"github.com/dw2kim/job-scheduler/internal/executor"
	"github.com/dw2kim/job-scheduler/internal/server"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one due-job scan against the configured backends",
	Long: `scan builds the scheduler from the environment, enqueues PENDING
executions of the current minute and the next --lookahead minutes, prints
the report and exits. No worker is started.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := server.LoadConfig()
		if cmd.Flags().Changed("lookahead") {
			cfg.LookaheadMinutes, _ = cmd.Flags().GetInt("lookahead")
		}
		app, err := server.Build(cmd.Context(), cfg, slog.Default())
		if err != nil {
			return err
		}
		defer app.Close()

		report, err := app.Scheduler.ScanNow(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert a PENDING job due shortly into the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := seedRequestFromFlags(cmd, time.Now())
		if err != nil {
			return err
		}
		app, err := server.Build(cmd.Context(), server.LoadConfig(), slog.Default())
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.Service.CreateJob(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "seeded job due at %s\n", req.RunAt)
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	scanCmd.Flags().Int("lookahead", 5, "Minutes after the current one to include")
	addSeedFlags(seedCmd)
}

func addSeedFlags(cmd *cobra.Command) {
	cmd.Flags().String("task", executor.TaskLogEcho, "Task name")
	cmd.Flags().String("text", "Scheduled hello", "Text parameter for log.echo and telegram.notify")
	cmd.Flags().Duration("in", time.Minute, "Delay before the job is due")
	cmd.Flags().String("key", "", "Idempotency key (random when empty)")
}

func seedRequestFromFlags(cmd *cobra.Command, now time.Time) (*core.CreateJobRequest, error) {
	task, _ := cmd.Flags().GetString("task")
	text, _ := cmd.Flags().GetString("text")
	delay, _ := cmd.Flags().GetDuration("in")
	key, _ := cmd.Flags().GetString("key")

	if delay <= 0 {
		return nil, fmt.Errorf("--in must be positive, got %s", delay)
	}
	if key == "" {
		key = "seed-" + uuid.NewString()
	}
	params, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	return &core.CreateJobRequest{
		RunAt:          core.FormatTime(now.Add(delay)),
		Task:           task,
		Params:         params,
		IdempotencyKey: key,
	}, nil
}
