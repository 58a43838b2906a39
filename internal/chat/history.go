package chat

import (
	"context"
	"sort"

	"github.com/iliyamo/dental-clinic-admin/internal/generator"
	"github.com/iliyamo/dental-clinic-admin/internal/model"
)

// MessageStore is the append-only chat history.
type MessageStore interface {
	Create(ctx context.Context, m model.ChatMessage) (model.ChatMessage, error)
	ListByPatient(ctx context.Context, patientID string) ([]model.ChatMessage, error)
	// ListRecent returns up to limit newest messages in any order,
	// leaving out excludeID.
	ListRecent(ctx context.Context, patientID string, limit int, excludeID string) ([]model.ChatMessage, error)
}

// Assembler reads conversation context for one patient.
type Assembler struct {
	Messages MessageStore
	Limit    int
}

// Recent returns up to Limit of the newest messages of the patient, oldest
// first, without the message excludeID.
func (a Assembler) Recent(ctx context.Context, patientID, excludeID string) ([]model.ChatMessage, error) {
	msgs, err := a.Messages.ListRecent(ctx, patientID, a.Limit, excludeID)
	if err != nil {
		return nil, err
	}
	return chronological(patientID, msgs), nil
}

// All returns the whole conversation of the patient, oldest first.
func (a Assembler) All(ctx context.Context, patientID string) ([]model.ChatMessage, error) {
	msgs, err := a.Messages.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return chronological(patientID, msgs), nil
}

// chronological drops rows of other patients and sorts by (created_at, seq).
func chronological(patientID string, msgs []model.ChatMessage) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.PatientID == patientID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func toHistory(msgs []model.ChatMessage) []generator.HistoryItem {
	out := make([]generator.HistoryItem, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, generator.HistoryItem{Role: m.Role, Content: m.Content})
	}
	return out
}
