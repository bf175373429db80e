package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dw2kim/job-scheduler/internal/core"
)

func TestRegistry_Dispatch(t *testing.T) {
	r := NewRegistry()
	var got core.Task
	r.Register("a", core.ExecutorFunc(func(_ context.Context, task core.Task) error {
		got = task
		return nil
	}))
	r.Register(TaskLogEcho, LogEcho(slog.New(slog.NewTextHandler(io.Discard, nil))))

	task := core.Task{JobID: "job-1", Name: "a", Attempt: 2}
	if err := r.Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got.JobID != "job-1" || got.Attempt != 2 {
		t.Errorf("task = %+v", got)
	}
	if names := r.Names(); len(names) != 2 || names[0] != "a" || names[1] != TaskLogEcho {
		t.Errorf("Names() = %v", names)
	}
}

func TestRegistry_UnknownTask(t *testing.T) {
	err := NewRegistry().Execute(context.Background(), core.Task{Name: "nope"})
	if !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("error = %v, want ErrUnknownTask", err)
	}
}

func webhookTask(t *testing.T, p WebhookParams) core.Task {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return core.Task{JobID: "job-w", Name: TaskWebhookPost, Params: raw, Attempt: 1}
}

func TestWebhook_SignedPost(t *testing.T) {
	var (
		mu      sync.Mutex
		body    []byte
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.Client(), nil, time.Second)
	task := webhookTask(t, WebhookParams{URL: srv.URL, Secret: "s3cret", Body: json.RawMessage(`{"x":1}`)})
	if err := wh.Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if headers.Get(HeaderJobID) != "job-w" || headers.Get(HeaderAttempt) != "1" {
		t.Errorf("headers = %v", headers)
	}
	if !VerifySignature("s3cret", body, headers.Get(HeaderSignature)) {
		t.Error("signature does not verify")
	}
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.JobID != "job-w" || string(payload.Body) != `{"x":1}` {
		t.Errorf("payload = %+v", payload)
	}
}

func TestWebhook_Non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.Client(), nil, time.Second).Execute(context.Background(), webhookTask(t, WebhookParams{URL: srv.URL}))
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("error = %v, want status 502", err)
	}
}

func TestWebhook_InvalidParams(t *testing.T) {
	wh := NewWebhook(nil, nil, 0)
	for _, raw := range []string{`{"url":"ftp://x"}`, `{"url":""}`, `[1]`} {
		err := wh.Execute(context.Background(), core.Task{Name: TaskWebhookPost, Params: json.RawMessage(raw)})
		if err == nil {
			t.Errorf("params %s accepted", raw)
		}
	}
}

func TestWebhook_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.Client(), NewCircuitBreaker(2, time.Hour), time.Second)
	task := webhookTask(t, WebhookParams{URL: srv.URL})
	for i := 0; i < 2; i++ {
		if err := wh.Execute(context.Background(), task); err == nil {
			t.Fatal("expected failure")
		}
	}
	if err := wh.Execute(context.Background(), task); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure("h")
	if err := cb.Allow("h"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() = %v, want open", err)
	}

	now = now.Add(time.Minute)
	if err := cb.Allow("h"); err != nil {
		t.Fatalf("probe Allow() = %v", err)
	}
	if err := cb.Allow("h"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second Allow() during probe = %v, want open", err)
	}

	cb.RecordSuccess("h")
	if err := cb.Allow("h"); err != nil {
		t.Fatalf("Allow() after success = %v", err)
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(3, time.Minute)
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		cb.RecordFailure("h")
	}
	now = now.Add(2 * time.Minute)
	cb.Allow("h")
	cb.RecordFailure("h")
	if err := cb.Allow("h"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() = %v, want open after failed probe", err)
	}
}

func TestTelegram_SendsNotification(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		form map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&form)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"ok"}}`)
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "token-1", ChatID: 42, APIURL: srv.URL, RatePerSec: 10})
	if err != nil {
		t.Fatalf("NewTelegram() error = %v", err)
	}
	task := core.Task{JobID: "job-t", Name: TaskTelegramNotify, Params: json.RawMessage(`{"text":"nightly report"}`)}
	if err := tg.Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if path != "/bottoken-1/sendMessage" {
		t.Errorf("path = %q", path)
	}
	text, _ := form["text"].(string)
	if !strings.Contains(text, "Job executed: job-t") || !strings.Contains(text, "nightly report") {
		t.Errorf("text = %q", text)
	}
}

func TestTelegram_APIErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "token-2", ChatID: 1, APIURL: srv.URL})
	if err != nil {
		t.Fatalf("NewTelegram() error = %v", err)
	}
	if err := tg.Execute(context.Background(), core.Task{JobID: "job-x", Name: TaskTelegramNotify}); err == nil {
		t.Fatal("Execute() succeeded against a failing API")
	}
}

func TestTelegram_RequiresToken(t *testing.T) {
	if _, err := NewTelegram(TelegramConfig{}); err == nil {
		t.Fatal("NewTelegram() accepted an empty token")
	}
}
