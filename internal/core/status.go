package core

// AggregateStatus derives one job-level status from a job's records.
// In-flight work takes precedence over resting PENDING records.
func AggregateStatus(records []*Record) Status {
	if len(records) == 0 {
		return StatusPending
	}

	allSucceeded := true
	anyFailed := false
	for _, r := range records {
		switch r.Status {
		case StatusRunning:
			return StatusRunning
		case StatusFailedPermanent:
			anyFailed = true
		}
		if r.Status != StatusSucceeded {
			allSucceeded = false
		}
	}

	switch {
	case allSucceeded:
		return StatusSucceeded
	case anyFailed:
		return AggregateFailed
	default:
		return StatusPending
	}
}
