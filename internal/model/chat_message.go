package model

import "time"

// Chat roles.  No system role is ever persisted.
const (
    ChatRoleUser      = "user"
    ChatRoleAssistant = "assistant"
)

// ChatMessage is one immutable row of the `chat_messages` table.
// UserID is the clinic user who ran the conversation, also for messages
// with role "user".  Seq is the insertion order used to break created_at
// ties and is not part of the wire shape.
type ChatMessage struct {
    ID        string         `json:"id"`
    Seq       uint64         `json:"-"`
    PatientID string         `json:"patient_id"`
    UserID    string         `json:"user_id"`
    Role      string         `json:"role"`
    Content   string         `json:"content"`
    Metadata  map[string]any `json:"metadata"`
    CreatedAt time.Time      `json:"created_at"`
}

// Before reports whether m sorts before o in a conversation.
func (m ChatMessage) Before(o ChatMessage) bool {
    if !m.CreatedAt.Equal(o.CreatedAt) {
        return m.CreatedAt.Before(o.CreatedAt)
    }
    return m.Seq < o.Seq
}
