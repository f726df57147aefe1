package models

import "time"

// DeadLetterMessage wraps a terminally-failed message with its failure
// metadata. Written once; never replayed automatically.
type DeadLetterMessage struct {
	EventMessage
	DLQReason    string    `json:"dlqReason"`
	DLQTimestamp time.Time `json:"dlqTimestamp"`
}

func NewDeadLetterMessage(msg EventMessage, reason string, now time.Time) DeadLetterMessage {
	return DeadLetterMessage{
		EventMessage: msg,
		DLQReason:    reason,
		DLQTimestamp: now.UTC(),
	}
}
