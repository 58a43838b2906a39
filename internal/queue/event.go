// Package queue defines the chat event payload exchanged over RabbitMQ and
// the consumer that records those events.
package queue

// TurnCompletedQueue is the durable queue carrying TurnCompletedEvent.
const TurnCompletedQueue = "chat.turn.completed"

// TurnCompletedEvent is published after an assistant reply has been stored.
// It carries identifiers and sizes only, never message content, so the
// event log holds no patient data beyond ids.
type TurnCompletedEvent struct {
    EventID            string `json:"event_id"`
    PatientID          string `json:"patient_id"`
    UserID             string `json:"user_id"`
    UserMessageID      string `json:"user_message_id"`
    AssistantMessageID string `json:"assistant_message_id"`
    Mode               string `json:"mode"` // stream | sync
    Generator          string `json:"generator"`
    Emergency          bool   `json:"emergency"`
    ResponseChars      int    `json:"response_chars"`
    DurationMs         int64  `json:"duration_ms"`
    CompletedAt        string `json:"completed_at"` // RFC 3339, UTC
}
