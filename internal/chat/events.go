package chat

import (
	"unicode"
	"unicode/utf8"

	"github.com/iliyamo/dental-clinic-admin/internal/model"
)

// Event types of the streaming protocol.
const (
	EventUserMessage = "user_message"
	EventChunk       = "chunk"
	EventEmergency   = "emergency"
	EventDone        = "done"
	EventError       = "error"
)

// Event is one server-to-client message of a streamed turn.
type Event struct {
	Type    string             `json:"type"`
	Message *model.ChatMessage `json:"message,omitempty"`
	Text    string             `json:"text,omitempty"`
	Error   string             `json:"error,omitempty"`
	Detail  string             `json:"detail,omitempty"`
}

// Sink delivers events to one client.  A Send error means the client is
// gone and nothing more should be sent.
type Sink interface {
	Send(Event) error
}

// SplitWords cuts text into word chunks.  Each chunk is one word followed
// by the whitespace that came after it in text; leading whitespace belongs
// to the first chunk.  Concatenating the chunks yields text exactly.
func SplitWords(text string) []string {
	var (
		chunks    []string
		start     int
		seenWord  bool
		prevSpace bool
	)
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		space := unicode.IsSpace(r)
		if !space {
			if seenWord && prevSpace {
				chunks = append(chunks, text[start:i])
				start = i
			}
			seenWord = true
		}
		prevSpace = space
		i += size
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}
