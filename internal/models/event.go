package models

import "time"

// Event names published after a coordination completes.
const (
	EventTopicClaimed   = "topic.claimed"
	EventTopicDeposited = "topic.deposited"
	EventPartialCommit  = "topic.partial_commit"
)

// LedgerEvent is the payload published to the message bus.
type LedgerEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	TopicID    string    `json:"topic_id"`
	Title      string    `json:"title,omitempty"`
	Supervisor string    `json:"supervisor,omitempty"`
	Students   []string  `json:"students,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	Artifact   string    `json:"artifact,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	FailedStep string    `json:"failed_step,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
