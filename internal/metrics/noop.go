package metrics

import "time"

// NoopSink discards everything.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) JobCreated(idempotent bool)                                             {}
func (n *NoopSink) JobCancelled(outcome string)                                            {}
func (n *NoopSink) ScanCompleted(duration time.Duration, buckets, enqueued int, err error) {}
func (n *NoopSink) DispatchLost()                                                          {}
func (n *NoopSink) DeliveryHandled(outcome string, redeliveryCount int)                    {}
func (n *NoopSink) ExecutionObserved(task string, duration time.Duration, err error)       {}
func (n *NoopSink) TransitionApplied(transition string)                                    {}
func (n *NoopSink) PreconditionFailed(transition string)                                   {}
func (n *NoopSink) RecordsSwept(count int)                                                 {}
