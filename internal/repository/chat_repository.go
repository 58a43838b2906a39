package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/iliyamo/dental-clinic-admin/internal/model"
)

// ChatRepo is the append-only chat history.  There is no update or delete;
// rows disappear only when their patient is deleted.
//
// created_at is assigned by MySQL with microsecond precision and seq by
// AUTO_INCREMENT, so two messages written in sequence by one turn always
// sort user before assistant.
type ChatRepo struct{ DB *sql.DB }

func NewChatRepo(db *sql.DB) *ChatRepo { return &ChatRepo{DB: db} }

const chatColumns = "seq,id,patient_id,user_id,role,content,metadata,created_at"

// Create stores m and returns it with the id, seq and created_at the
// database assigned.
func (r *ChatRepo) Create(ctx context.Context, m model.ChatMessage) (model.ChatMessage, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	var meta any
	if m.Metadata != nil {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return model.ChatMessage{}, fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(b)
	}
	if _, err := r.DB.ExecContext(ctx,
		"INSERT INTO chat_messages (id, patient_id, user_id, role, content, metadata) VALUES (?,?,?,?,?,?)",
		m.ID, m.PatientID, m.UserID, m.Role, m.Content, meta); err != nil {
		return model.ChatMessage{}, err
	}
	row := r.DB.QueryRowContext(ctx, "SELECT "+chatColumns+" FROM chat_messages WHERE id=? LIMIT 1", m.ID)
	return scanMessage(row)
}

// ListByPatient returns the whole conversation of a patient, oldest first.
func (r *ChatRepo) ListByPatient(ctx context.Context, patientID string) ([]model.ChatMessage, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+chatColumns+" FROM chat_messages WHERE patient_id=? ORDER BY created_at ASC, seq ASC",
		patientID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// ListRecent returns up to limit of the patient's newest messages, newest
// first, skipping the message excludeID (the turn being answered).
func (r *ChatRepo) ListRecent(ctx context.Context, patientID string, limit int, excludeID string) ([]model.ChatMessage, error) {
	if limit <= 0 {
		return []model.ChatMessage{}, nil
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+chatColumns+" FROM chat_messages WHERE patient_id=? AND id<>? ORDER BY created_at DESC, seq DESC LIMIT ?",
		patientID, excludeID, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]model.ChatMessage, error) {
	defer rows.Close()
	out := make([]model.ChatMessage, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(s rowScanner) (model.ChatMessage, error) {
	var (
		m    model.ChatMessage
		meta sql.NullString
	)
	if err := s.Scan(&m.Seq, &m.ID, &m.PatientID, &m.UserID, &m.Role, &m.Content, &meta, &m.CreatedAt); err != nil {
		return model.ChatMessage{}, err
	}
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
			return model.ChatMessage{}, fmt.Errorf("decode metadata of message %s: %w", m.ID, err)
		}
	}
	return m, nil
}
