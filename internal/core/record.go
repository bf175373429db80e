package core

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle status of an execution record.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusRunning         Status = "RUNNING"
	StatusSucceeded       Status = "SUCCEEDED"
	StatusFailedPermanent Status = "FAILED_PERMANENT"
	StatusCancelled       Status = "CANCELLED"
)

// AggregateFailed is the job-level status reported when an execution
// exhausted its retry budget.
const AggregateFailed Status = "FAILED"

// TimeFormat is the timestamp layout used for record fields and execution keys.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// BucketFormat is the minute-granularity layout of a time bucket.
const BucketFormat = "2006-01-02T15:04"

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailedPermanent, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known record statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailedPermanent, StatusCancelled:
		return true
	}
	return false
}

// RecordKey is the primary key of an execution record.
type RecordKey struct {
	TimeBucket   string `json:"timeBucket"`
	ExecutionKey string `json:"executionKey"`
}

func (k RecordKey) String() string {
	return k.TimeBucket + "/" + k.ExecutionKey
}

// Record is one scheduled execution of a job.
type Record struct {
	TimeBucket      string          `json:"timeBucket"`
	ExecutionKey    string          `json:"executionKey"`
	JobID           string          `json:"jobId"`
	IdempotencyKey  string          `json:"idempotencyKey"`
	Task            string          `json:"task"`
	Params          json.RawMessage `json:"params,omitempty"`
	Status          Status          `json:"status"`
	Attempt         int             `json:"attempt"`
	TTLEpochSeconds int64           `json:"ttlEpochSeconds,omitempty"`
	CreatedAt       string          `json:"createdAt,omitempty"`
	UpdatedAt       string          `json:"updatedAt,omitempty"`
}

// Key returns the record's primary key.
func (r *Record) Key() RecordKey {
	return RecordKey{TimeBucket: r.TimeBucket, ExecutionKey: r.ExecutionKey}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Params != nil {
		cp.Params = append(json.RawMessage(nil), r.Params...)
	}
	return &cp
}

// Message is the delivery payload handed from the scanner to the worker.
type Message struct {
	JobID        string `json:"jobId"`
	ExecutionKey string `json:"executionKey"`
	TimeBucket   string `json:"timeBucket"`
	Attempt      int    `json:"attempt"`
}

// Key returns the key of the record the message refers to.
func (m Message) Key() RecordKey {
	return RecordKey{TimeBucket: m.TimeBucket, ExecutionKey: m.ExecutionKey}
}

// NewMessage builds the delivery message for a record.
func NewMessage(r *Record) Message {
	return Message{
		JobID:        r.JobID,
		ExecutionKey: r.ExecutionKey,
		TimeBucket:   r.TimeBucket,
		Attempt:      r.Attempt,
	}
}

// TimeBucket truncates t to the minute and formats it as a partition key.
func TimeBucket(t time.Time) string {
	return t.UTC().Truncate(time.Minute).Format(BucketFormat)
}

// ExecutionKey combines the exact run time with the job id. Keys sort by run
// time within a bucket.
func ExecutionKey(runAt time.Time, jobID string) string {
	return FormatTime(runAt) + "#" + jobID
}

// BucketsBetween returns the minute buckets from start through end inclusive.
func BucketsBetween(start, end time.Time) []string {
	start = start.UTC().Truncate(time.Minute)
	end = end.UTC().Truncate(time.Minute)
	var buckets []string
	for t := start; !t.After(end); t = t.Add(time.Minute) {
		buckets = append(buckets, t.Format(BucketFormat))
	}
	return buckets
}

// FormatTime formats t in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// NowFormatted returns the current time as FormatTime would.
func NowFormatted() string {
	return FormatTime(time.Now())
}

// ExpiryAt returns the epoch-seconds expiry marker for a record resolved at now.
func ExpiryAt(now time.Time, retention time.Duration) int64 {
	if retention <= 0 {
		return 0
	}
	return now.Add(retention).Unix()
}
