package nats

import (
	"encoding/json"
	"fmt"

	"github.com/dw2kim/job-scheduler/internal/core"
)

// msgID deduplicates re-sends of the same execution within the stream's
// duplicate window.
func msgID(m core.Message) string {
	return m.TimeBucket + "/" + m.ExecutionKey
}

func encodeMessage(m core.Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message %s: %w", m.JobID, err)
	}
	return data, nil
}

func decodeMessage(data []byte) (core.Message, error) {
	var m core.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return core.Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	if m.TimeBucket == "" || m.ExecutionKey == "" {
		return core.Message{}, fmt.Errorf("message missing record key")
	}
	return m, nil
}

func encodeDeadLetter(d core.DeadLetter) ([]byte, error) {
	return json.Marshal(d)
}

func decodeDeadLetter(data []byte) (core.DeadLetter, error) {
	var d core.DeadLetter
	err := json.Unmarshal(data, &d)
	return d, err
}
