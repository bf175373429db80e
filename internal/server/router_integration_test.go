package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dw2kim/job-scheduler/internal/core"
)

func memoryConfig() Config {
	return Config{
		Store:             BackendMemory,
		Queue:             BackendMemory,
		QueueSubject:      "scheduler.executions",
		MaxAttempts:       3,
		LookaheadMinutes:  5,
		ScanSchedule:      "@every 1h",
		SweepSchedule:     "@every 1h",
		Retention:         core.DefaultRetention,
		RedeliveryDelay:   50 * time.Millisecond,
		WorkerConcurrency: 2,
		ExecutionTimeout:  5 * time.Second,
		BreakerThreshold:  5,
		BreakerCooldown:   time.Minute,
	}
}

func newTestApp(t *testing.T, cfg Config) (*App, string) {
	t.Helper()

	app, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := app.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()

	ts := httptest.NewServer(app.Router)
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
		app.Close()
	})
	return app, ts.URL
}

func TestRouterEndToEnd_JobLifecycle(t *testing.T) {
	_, tsURL := newTestApp(t, memoryConfig())

	runAt := core.FormatTime(time.Now().Add(2 * time.Second))
	createResp := postJSON(t, tsURL+"/v1/jobs", map[string]any{
		"runAt":          runAt,
		"task":           "log.echo",
		"params":         map[string]any{"text": "hello"},
		"idempotencyKey": "lifecycle-1",
	})
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", createResp.StatusCode, http.StatusCreated)
	}
	created := decodeJSONBody(t, createResp.Body)
	jobID, _ := created["jobId"].(string)
	if jobID == "" || created["status"] != "PENDING" {
		t.Fatalf("create response = %#v", created)
	}

	scanResp := postJSON(t, tsURL+"/v1/admin/scan", nil)
	if scanResp.StatusCode != http.StatusOK {
		t.Fatalf("scan status = %d, want %d", scanResp.StatusCode, http.StatusOK)
	}
	report := decodeJSONBody(t, scanResp.Body)
	if report["enqueued"] != float64(1) {
		t.Fatalf("scan report = %#v, want 1 enqueued", report)
	}

	status := getStatusEventually(t, tsURL, jobID, "SUCCEEDED")
	execs, _ := status["executions"].([]any)
	if len(execs) != 1 {
		t.Fatalf("executions = %d, want 1", len(execs))
	}
	rec, _ := execs[0].(map[string]any)
	if rec["attempt"] != float64(1) {
		t.Errorf("attempt = %v, want 1", rec["attempt"])
	}
}

func TestRouterEndToEnd_IdempotentCreate(t *testing.T) {
	_, tsURL := newTestApp(t, memoryConfig())

	body := map[string]any{
		"runAt":          core.FormatTime(time.Now().Add(time.Hour)),
		"task":           "log.echo",
		"idempotencyKey": "idem-1",
	}
	first := postJSON(t, tsURL+"/v1/jobs", body)
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first status = %d, want %d", first.StatusCode, http.StatusCreated)
	}
	firstBody := decodeJSONBody(t, first.Body)

	second := postJSON(t, tsURL+"/v1/jobs", body)
	if second.StatusCode != http.StatusOK {
		t.Fatalf("second status = %d, want %d", second.StatusCode, http.StatusOK)
	}
	secondBody := decodeJSONBody(t, second.Body)
	if secondBody["jobId"] != firstBody["jobId"] || secondBody["idempotent"] != true {
		t.Errorf("second response = %#v, want idempotent replay of %v", secondBody, firstBody["jobId"])
	}
}

func TestRouterEndToEnd_CancelBeforeDispatch(t *testing.T) {
	_, tsURL := newTestApp(t, memoryConfig())

	createResp := postJSON(t, tsURL+"/v1/jobs", map[string]any{
		"runAt":          core.FormatTime(time.Now().Add(2 * time.Second)),
		"task":           "log.echo",
		"idempotencyKey": "cancel-1",
	})
	jobID, _ := decodeJSONBody(t, createResp.Body)["jobId"].(string)

	req, _ := http.NewRequest(http.MethodDelete, tsURL+"/v1/jobs/"+jobID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	_ = decodeJSONBody(t, resp.Body)

	again := postJSON(t, tsURL+"/v1/jobs/"+jobID+"/cancel", nil)
	if again.StatusCode != http.StatusConflict {
		t.Errorf("second cancel status = %d, want %d", again.StatusCode, http.StatusConflict)
	}
	_ = decodeJSONBody(t, again.Body)

	scanResp := postJSON(t, tsURL+"/v1/admin/scan", nil)
	report := decodeJSONBody(t, scanResp.Body)
	if report["enqueued"] != float64(0) {
		t.Errorf("scan enqueued %v, want 0 for a cancelled job", report["enqueued"])
	}

	// A cancelled-only job reports PENDING.
	status := getStatusEventually(t, tsURL, jobID, "PENDING")
	if status["jobId"] != jobID {
		t.Errorf("status jobId = %v", status["jobId"])
	}
}

func TestRouterEndToEnd_UnknownTaskExhausts(t *testing.T) {
	cfg := memoryConfig()
	cfg.MaxAttempts = 2
	_, tsURL := newTestApp(t, cfg)

	createResp := postJSON(t, tsURL+"/v1/jobs", map[string]any{
		"runAt":          core.FormatTime(time.Now().Add(2 * time.Second)),
		"task":           "no.such.task",
		"idempotencyKey": "fail-1",
	})
	jobID, _ := decodeJSONBody(t, createResp.Body)["jobId"].(string)

	_ = decodeJSONBody(t, postJSON(t, tsURL+"/v1/admin/scan", nil).Body)
	getStatusEventually(t, tsURL, jobID, "FAILED")

	resp, err := http.Get(tsURL + "/v1/admin/deadletter")
	if err != nil {
		t.Fatalf("GET deadletter error: %v", err)
	}
	dead := decodeJSONBody(t, resp.Body)
	if dead["count"] != float64(1) {
		t.Errorf("dead letters = %v, want 1", dead["count"])
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	_, tsURL := newTestApp(t, memoryConfig())

	resp, err := http.Get(tsURL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	health := decodeJSONBody(t, resp.Body)
	if resp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Errorf("healthz = %d %#v", resp.StatusCode, health)
	}

	_ = decodeJSONBody(t, postJSON(t, tsURL+"/v1/jobs", map[string]any{
		"runAt":          core.FormatTime(time.Now().Add(time.Hour)),
		"task":           "log.echo",
		"idempotencyKey": "metrics-1",
	}).Body)

	mresp, err := http.Get(tsURL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error: %v", err)
	}
	defer mresp.Body.Close()
	text, _ := io.ReadAll(mresp.Body)
	if !strings.Contains(string(text), "scheduler_jobs_created_total") {
		t.Error("/metrics should expose scheduler_jobs_created_total")
	}
}

func TestRouter_RequiresAPIKeyWhenConfigured(t *testing.T) {
	cfg := memoryConfig()
	cfg.APIKey = "s3cret"
	_, tsURL := newTestApp(t, cfg)

	resp, err := http.Get(tsURL + "/v1/jobs/anything")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	req, _ := http.NewRequest(http.MethodGet, tsURL+"/healthz", nil)
	hresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	hresp.Body.Close()
	if hresp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d, want %d without a key", hresp.StatusCode, http.StatusOK)
	}
}

func getStatusEventually(t *testing.T, baseURL, jobID, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var last map[string]any
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/v1/jobs/" + jobID)
		if err != nil {
			t.Fatalf("GET job error: %v", err)
		}
		last = decodeJSONBody(t, resp.Body)
		if last["status"] == want {
			return last
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("job %s status = %v, want %s", jobID, last["status"], want)
	return nil
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()

	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("json marshal error: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		t.Fatalf("request build error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HTTP POST error: %v", err)
	}
	return resp
}

func decodeJSONBody(t *testing.T, body io.ReadCloser) map[string]any {
	t.Helper()
	defer body.Close()

	var out map[string]any
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		t.Fatalf("decode body error: %v", err)
	}
	return out
}
