package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "schedctl",
	Short: "Operate the job scheduler",
	Long: `schedctl talks to a running scheduler over HTTP, or runs scheduler
operations locally against the backends configured through the environment
(SCHED_STORE, SCHED_QUEUE, NATS_URL, REDIS_URL, DATABASE_URL).

Examples:
  schedctl create --task log.echo --run-at 2026-01-01T09:00:00.000Z --key nightly-1
  schedctl status 0190b5f4-...
  schedctl cancel 0190b5f4-...
  schedctl scan --lookahead 5
  schedctl seed --text "hello"
  schedctl events`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if v, _ := cmd.Flags().GetBool("verbose"); v {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().String("server", envOr("SCHED_SERVER", "http://localhost:8080"), "Scheduler base URL")
	rootCmd.PersistentFlags().String("api-key", os.Getenv("SCHED_API_KEY"), "API key sent as a bearer token")

	rootCmd.AddCommand(createCmd, statusCmd, cancelCmd, scanCmd, seedCmd, eventsCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
