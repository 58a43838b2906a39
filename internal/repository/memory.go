package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/dental-clinic-admin/internal/model"
	"github.com/iliyamo/dental-clinic-admin/internal/utils"
)

// Memory is an in-process store with the same contracts as the MySQL
// repositories.  It backs tests and local runs without a database.
// Timestamps handed out by one Memory are strictly increasing, matching
// the ordering the chat history relies on.
type Memory struct {
	Users    *MemoryUserRepo
	Tokens   *MemoryTokenRepo
	Patients *MemoryPatientRepo
	Chat     *MemoryChatRepo
}

type memoryDB struct {
	mu       sync.RWMutex
	users    map[string]model.User
	tokens   map[string]model.RefreshToken // token hash -> row
	patients map[string]model.Patient
	messages []model.ChatMessage
	seq      uint64
	last     time.Time
}

func NewMemory() *Memory {
	db := &memoryDB{
		users:    map[string]model.User{},
		tokens:   map[string]model.RefreshToken{},
		patients: map[string]model.Patient{},
	}
	return &Memory{
		Users:    &MemoryUserRepo{db: db},
		Tokens:   &MemoryTokenRepo{db: db},
		Patients: &MemoryPatientRepo{db: db},
		Chat:     &MemoryChatRepo{db: db},
	}
}

// now must be called with mu held for writing.
func (db *memoryDB) now() time.Time {
	t := time.Now().UTC().Truncate(time.Microsecond)
	if !t.After(db.last) {
		t = db.last.Add(time.Microsecond)
	}
	db.last = t
	return t
}

// ---- users ----

type MemoryUserRepo struct{ db *memoryDB }

func (r *MemoryUserRepo) Create(_ context.Context, email, password, fullName, role string, cost int) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return model.User{}, err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Email == email {
			return model.User{}, ErrEmailExists
		}
	}
	now := r.db.now()
	u := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(fullName),
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.db.users[u.ID] = u
	return u, nil
}

func (r *MemoryUserRepo) GetByEmail(_ context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, u := range r.db.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, ErrUserNotFound
}

func (r *MemoryUserRepo) GetByID(_ context.Context, id string) (model.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	u, ok := r.db.users[id]
	if !ok {
		return model.User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryUserRepo) SetRole(_ context.Context, id, role string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Role = role
	u.UpdatedAt = r.db.now()
	r.db.users[id] = u
	return nil
}

// SetActive toggles the active flag; account management has no HTTP
// surface, so only tests and seeding use it.
func (r *MemoryUserRepo) SetActive(id string, active bool) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if u, ok := r.db.users[id]; ok {
		u.IsActive = active
		r.db.users[id] = u
	}
}

// ---- refresh tokens ----

type MemoryTokenRepo struct{ db *memoryDB }

func (r *MemoryTokenRepo) StoreRefresh(_ context.Context, userID, tokenHash string, exp time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.tokens[tokenHash] = model.RefreshToken{UserID: userID, TokenHash: tokenHash, ExpiresAt: exp, CreatedAt: r.db.now()}
	return nil
}

func (r *MemoryTokenRepo) ValidateRefresh(_ context.Context, tokenHash string) (string, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	t, ok := r.db.tokens[tokenHash]
	if !ok || t.RevokedAt != nil || time.Now().UTC().After(t.ExpiresAt) {
		return "", ErrTokenInvalid
	}
	return t.UserID, nil
}

func (r *MemoryTokenRepo) RevokeByHash(_ context.Context, tokenHash string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if t, ok := r.db.tokens[tokenHash]; ok && t.RevokedAt == nil {
		now := r.db.now()
		t.RevokedAt = &now
		r.db.tokens[tokenHash] = t
	}
	return nil
}

func (r *MemoryTokenRepo) RevokeAllForUser(_ context.Context, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := r.db.now()
	for h, t := range r.db.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
			r.db.tokens[h] = t
		}
	}
	return nil
}

// ---- patients ----

type MemoryPatientRepo struct{ db *memoryDB }

func (r *MemoryPatientRepo) Create(_ context.Context, userID string, in model.NewPatient) (model.Patient, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := r.db.now()
	p := model.Patient{
		ID:           uuid.NewString(),
		UserID:       userID,
		Name:         in.Name,
		Email:        in.Email,
		Phone:        in.Phone,
		DateOfBirth:  in.DateOfBirth,
		MedicalNotes: in.MedicalNotes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.db.patients[p.ID] = p
	return p, nil
}

func (r *MemoryPatientRepo) GetByID(_ context.Context, id string) (model.Patient, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	p, ok := r.db.patients[id]
	if !ok {
		return model.Patient{}, ErrPatientNotFound
	}
	return p, nil
}

func (r *MemoryPatientRepo) ListByOwner(_ context.Context, userID string, page, limit int) ([]model.Patient, int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	all := r.ownedLocked(userID)
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := len(all)
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *MemoryPatientRepo) AllByOwner(_ context.Context, userID string) ([]model.Patient, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	all := r.ownedLocked(userID)
	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all, nil
}

func (r *MemoryPatientRepo) ownedLocked(userID string) []model.Patient {
	out := make([]model.Patient, 0)
	for _, p := range r.db.patients {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

func (r *MemoryPatientRepo) Update(_ context.Context, id string, patch model.PatientPatch) (model.Patient, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.patients[id]
	if !ok {
		return model.Patient{}, ErrPatientNotFound
	}
	if patch.IsEmpty() {
		return p, nil
	}
	p = patch.Apply(p)
	p.UpdatedAt = r.db.now()
	r.db.patients[id] = p
	return p, nil
}

func (r *MemoryPatientRepo) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.patients[id]; !ok {
		return ErrPatientNotFound
	}
	delete(r.db.patients, id)
	kept := r.db.messages[:0]
	for _, m := range r.db.messages {
		if m.PatientID != id {
			kept = append(kept, m)
		}
	}
	r.db.messages = kept
	return nil
}

// ---- chat messages ----

type MemoryChatRepo struct{ db *memoryDB }

func (r *MemoryChatRepo) Create(_ context.Context, m model.ChatMessage) (model.ChatMessage, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.patients[m.PatientID]; !ok {
		return model.ChatMessage{}, ErrPatientNotFound
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	r.db.seq++
	m.Seq = r.db.seq
	m.CreatedAt = r.db.now()
	m.Metadata = copyMetadata(m.Metadata)
	r.db.messages = append(r.db.messages, m)
	return m, nil
}

func (r *MemoryChatRepo) ListByPatient(_ context.Context, patientID string) ([]model.ChatMessage, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]model.ChatMessage, 0)
	for _, m := range r.db.messages {
		if m.PatientID == patientID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryChatRepo) ListRecent(_ context.Context, patientID string, limit int, excludeID string) ([]model.ChatMessage, error) {
	if limit <= 0 {
		return []model.ChatMessage{}, nil
	}
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]model.ChatMessage, 0, limit)
	for i := len(r.db.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.db.messages[i]
		if m.PatientID == patientID && m.ID != excludeID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Count returns the number of stored messages of a patient.
func (r *MemoryChatRepo) Count(patientID string) int {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	n := 0
	for _, m := range r.db.messages {
		if m.PatientID == patientID {
			n++
		}
	}
	return n
}

func copyMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
