package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/dw2kim/job-scheduler/internal/api"
	"github.com/dw2kim/job-scheduler/internal/core"
)

func TestClientCreateJob_SendsBearerAndBody(t *testing.T) {
	var got core.CreateJobRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/jobs" {
			t.Errorf("request = %s %s, want POST /v1/jobs", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer k1" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer k1")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		api.WriteJSON(w, http.StatusCreated, map[string]any{"jobId": "job-1", "status": "PENDING", "idempotent": false})
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", "k1")
	res, err := c.CreateJob(context.Background(), &core.CreateJobRequest{
		RunAt:          "2030-01-01T00:00:00.000Z",
		Task:           "log.echo",
		IdempotencyKey: "k",
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if res.JobID != "job-1" || res.Status != core.StatusPending {
		t.Errorf("result = %+v", res)
	}
	if got.Task != "log.echo" || got.IdempotencyKey != "k" {
		t.Errorf("server received %+v", got)
	}
}

func TestClientCancel_DecodesErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/v1/jobs/job-1" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		api.WriteError(w, http.StatusConflict, core.NewConflictError("job is not pending", nil))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, "").Cancel(context.Background(), "job-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Cancel() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Body.Code != core.ErrCodeConflict {
		t.Errorf("APIError = %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "job is not pending") {
		t.Errorf("Error() = %q", apiErr.Error())
	}
}

func TestClientGetStatus_NonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, "").GetStatus(context.Background(), "job-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("GetStatus() error = %v, want 502 APIError", err)
	}
	if apiErr.Error() != "server returned 502" {
		t.Errorf("Error() = %q", apiErr.Error())
	}
}

func TestCreateRequestFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"run-at", []string{"--task=log.echo", "--key=k", "--run-at=2030-01-01T00:00:00.000Z"}, false},
		{"delay", []string{"--task=log.echo", "--key=k", "--in=2m", `--params={"text":"hi"}`}, false},
		{"both", []string{"--task=log.echo", "--key=k", "--in=2m", "--run-at=2030-01-01T00:00:00.000Z"}, true},
		{"neither", []string{"--task=log.echo", "--key=k"}, true},
		{"bad params", []string{"--task=log.echo", "--key=k", "--in=2m", "--params={"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newFlagCommand(t, addCreateFlags, tt.args)
			req, err := createRequestFromFlags(cmd)
			if (err != nil) != tt.wantErr {
				t.Fatalf("createRequestFromFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if _, verr := core.ValidateCreateJobRequest(req, time.Now()); verr != nil {
				t.Errorf("request does not validate: %v", verr)
			}
		})
	}
}

func TestSeedRequestFromFlags(t *testing.T) {
	now := time.Date(2030, 5, 1, 12, 0, 30, 0, time.UTC)
	cmd := newFlagCommand(t, addSeedFlags, []string{"--text=ping"})

	req, err := seedRequestFromFlags(cmd, now)
	if err != nil {
		t.Fatalf("seedRequestFromFlags() error = %v", err)
	}
	if req.RunAt != "2030-05-01T12:01:30.000Z" {
		t.Errorf("RunAt = %s", req.RunAt)
	}
	if req.Task != "log.echo" || !strings.HasPrefix(req.IdempotencyKey, "seed-") {
		t.Errorf("request = %+v", req)
	}
	if string(req.Params) != `{"text":"ping"}` {
		t.Errorf("Params = %s", req.Params)
	}

	bad := newFlagCommand(t, addSeedFlags, []string{"--in=0s"})
	if _, err := seedRequestFromFlags(bad, now); err == nil {
		t.Error("seedRequestFromFlags() should reject a non-positive delay")
	}
}

func newFlagCommand(t *testing.T, add func(*cobra.Command), args []string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	add(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v) error = %v", args, err)
	}
	return cmd
}
