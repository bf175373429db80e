package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dw2kim/job-scheduler/internal/core"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Schedule a job on a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := createRequestFromFlags(cmd)
		if err != nil {
			return err
		}
		res, err := clientFrom(cmd).CreateJob(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's aggregate status and executions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := clientFrom(cmd).GetStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job that has not been dispatched yet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := clientFrom(cmd).Cancel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	addCreateFlags(createCmd)
}

func addCreateFlags(cmd *cobra.Command) {
	cmd.Flags().String("task", "", "Task name, e.g. log.echo or webhook.post")
	cmd.Flags().String("run-at", "", "Run time in RFC 3339 UTC (e.g. 2026-01-01T09:00:00.000Z)")
	cmd.Flags().Duration("in", 0, "Run after this delay instead of --run-at")
	cmd.Flags().String("params", "", "Task parameters as a JSON object")
	cmd.Flags().String("key", "", "Idempotency key")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("key")
}

func createRequestFromFlags(cmd *cobra.Command) (*core.CreateJobRequest, error) {
	task, _ := cmd.Flags().GetString("task")
	runAt, _ := cmd.Flags().GetString("run-at")
	delay, _ := cmd.Flags().GetDuration("in")
	params, _ := cmd.Flags().GetString("params")
	key, _ := cmd.Flags().GetString("key")

	switch {
	case runAt != "" && delay > 0:
		return nil, errors.New("use either --run-at or --in, not both")
	case delay > 0:
		runAt = core.FormatTime(time.Now().Add(delay))
	case runAt == "":
		return nil, errors.New("one of --run-at or --in is required")
	}

	req := &core.CreateJobRequest{RunAt: runAt, Task: task, IdempotencyKey: key}
	if params != "" {
		if !json.Valid([]byte(params)) {
			return nil, fmt.Errorf("--params is not valid JSON")
		}
		req.Params = json.RawMessage(params)
	}
	return req, nil
}

func clientFrom(cmd *cobra.Command) *Client {
	server, _ := cmd.Flags().GetString("server")
	key, _ := cmd.Flags().GetString("api-key")
	return NewClient(server, key)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
