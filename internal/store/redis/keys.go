package redis

import (
	"strings"

	"github.com/dw2kim/job-scheduler/internal/core"
)

// All keys share one prefix so a deployment can share a Redis database.
const keyPrefix = "sched:"

// recordKey holds one record as JSON: sched:exec:{bucket}:{executionKey}
func recordKey(k core.RecordKey) string {
	return keyPrefix + "exec:" + k.TimeBucket + ":" + k.ExecutionKey
}

// bucketKey is the sorted set of execution keys in one minute bucket.
func bucketKey(bucket string) string { return keyPrefix + "bucket:" + bucket }

// jobKey is the sorted set of record refs belonging to one job.
func jobKey(jobID string) string { return keyPrefix + "job:" + jobID }

// idempotencyKey maps an idempotency key to a record ref.
func idempotencyKey(key string) string { return keyPrefix + "idem:" + key }

// Record refs are "{bucket}|{executionKey}". Both halves start with the run
// time, so refs sort chronologically.
const refSep = "|"

func ref(k core.RecordKey) string { return k.TimeBucket + refSep + k.ExecutionKey }

func parseRef(s string) (core.RecordKey, bool) {
	bucket, execKey, ok := strings.Cut(s, refSep)
	if !ok || bucket == "" || execKey == "" {
		return core.RecordKey{}, false
	}
	return core.RecordKey{TimeBucket: bucket, ExecutionKey: execKey}, true
}
