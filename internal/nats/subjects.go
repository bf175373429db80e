package nats

import "strings"

// Subject layout:
//
//	{subject}             execution messages, stream SCHEDULER
//	{subject}.dead        dead letters, stream SCHEDULER_DLQ
//	sched.events.job.{id} lifecycle events for one job (core NATS)
//	sched.events.all      every lifecycle event
const (
	StreamName = "SCHEDULER"

	// DefaultSubject is the delivery queue destination.
	DefaultSubject = "scheduler.executions"

	eventJobPrefix  = "sched.events.job."
	eventAllSubject = "sched.events.all"
)

// DLQStreamFor returns the dead letter stream of a work-queue stream.
// Example: SCHEDULER_DLQ
func DLQStreamFor(stream string) string {
	return stream + "_DLQ"
}

// DeadLetterSubject returns the dead letter subject for a queue subject.
// Example: scheduler.executions.dead
func DeadLetterSubject(subject string) string {
	return subject + ".dead"
}

// ConsumerName returns the durable consumer name for a queue subject.
// Example: scheduler-worker-scheduler_executions
func ConsumerName(subject string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return "scheduler-worker-" + r.Replace(subject)
}

// EventJobSubject returns the subject carrying one job's events.
func EventJobSubject(jobID string) string {
	return eventJobPrefix + jobID
}

// EventAllSubject returns the subject carrying every event.
func EventAllSubject() string {
	return eventAllSubject
}
