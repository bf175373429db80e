package executor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dw2kim/job-scheduler/internal/core"
)

// TaskWebhookPost posts the job to params.url.
const TaskWebhookPost = "webhook.post"

// Webhook request headers.
const (
	HeaderJobID     = "X-Scheduler-Job-ID"
	HeaderAttempt   = "X-Scheduler-Attempt"
	HeaderSignature = "X-Scheduler-Signature"
)

// WebhookParams is the params shape of a webhook.post task.
type WebhookParams struct {
	URL    string          `json:"url"`
	Secret string          `json:"secret,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// WebhookPayload is the JSON body sent to the target.
type WebhookPayload struct {
	JobID   string          `json:"jobId"`
	Task    string          `json:"task"`
	Attempt int             `json:"attempt"`
	SentAt  string          `json:"sentAt"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// Webhook delivers tasks as signed HTTP POSTs. A non-2xx answer is a failure.
type Webhook struct {
	client  *http.Client
	breaker *CircuitBreaker
	timeout time.Duration
}

// NewWebhook creates a Webhook executor. A nil breaker disables breaking.
func NewWebhook(client *http.Client, breaker *CircuitBreaker, timeout time.Duration) *Webhook {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Webhook{client: client, breaker: breaker, timeout: timeout}
}

func (w *Webhook) Execute(ctx context.Context, task core.Task) error {
	var p WebhookParams
	if err := json.Unmarshal(task.Params, &p); err != nil {
		return fmt.Errorf("webhook params: %w", err)
	}
	target, err := url.Parse(p.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return fmt.Errorf("webhook params: invalid url %q", p.URL)
	}

	if w.breaker != nil {
		if err := w.breaker.Allow(target.Host); err != nil {
			return fmt.Errorf("webhook %s: %w", target.Host, err)
		}
	}

	err = w.post(ctx, p, task)
	if w.breaker != nil {
		if err != nil {
			w.breaker.RecordFailure(target.Host)
		} else {
			w.breaker.RecordSuccess(target.Host)
		}
	}
	return err
}

func (w *Webhook) post(ctx context.Context, p WebhookParams, task core.Task) error {
	body, err := json.Marshal(WebhookPayload{
		JobID:   task.JobID,
		Task:    task.Name,
		Attempt: task.Attempt,
		SentAt:  core.NowFormatted(),
		Body:    p.Body,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderJobID, task.JobID)
	req.Header.Set(HeaderAttempt, fmt.Sprint(task.Attempt))
	if p.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(p.Secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers checking an incoming webhook.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
