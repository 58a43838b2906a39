package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/dental-clinic-admin/internal/model"
)

// PatientRepo stores patients.  Ownership is not checked here; callers run
// the access gate on the row returned by GetByID.
type PatientRepo struct{ DB *sql.DB }

func NewPatientRepo(db *sql.DB) *PatientRepo { return &PatientRepo{DB: db} }

const patientColumns = "id,user_id,name,email,phone,date_of_birth,medical_notes,created_at,updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

// Create inserts a patient owned by userID.
func (r *PatientRepo) Create(ctx context.Context, userID string, in model.NewPatient) (model.Patient, error) {
	id := uuid.NewString()
	var dob any
	if in.DateOfBirth != nil {
		dob = in.DateOfBirth.Time
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO patients (id, user_id, name, email, phone, date_of_birth, medical_notes) VALUES (?,?,?,?,?,?,?)",
		id, userID, in.Name, in.Email, in.Phone, dob, in.MedicalNotes)
	if err != nil {
		return model.Patient{}, err
	}
	return r.GetByID(ctx, id)
}

// GetByID returns ErrPatientNotFound when the id is unknown.
func (r *PatientRepo) GetByID(ctx context.Context, id string) (model.Patient, error) {
	row := r.DB.QueryRowContext(ctx, "SELECT "+patientColumns+" FROM patients WHERE id=? LIMIT 1", id)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Patient{}, ErrPatientNotFound
	}
	return p, err
}

// ListByOwner returns one page of the owner's patients, newest first, and
// the owner's total patient count.
func (r *PatientRepo) ListByOwner(ctx context.Context, userID string, page, limit int) ([]model.Patient, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM patients WHERE user_id=?", userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+patientColumns+" FROM patients WHERE user_id=? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectPatients(rows)
	return items, total, err
}

// AllByOwner returns every patient of the owner ordered by name.
func (r *PatientRepo) AllByOwner(ctx context.Context, userID string) ([]model.Patient, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+patientColumns+" FROM patients WHERE user_id=? ORDER BY name ASC, created_at ASC", userID)
	if err != nil {
		return nil, err
	}
	return collectPatients(rows)
}

// Update applies only the fields present in the patch and returns the row
// as stored afterwards.
func (r *PatientRepo) Update(ctx context.Context, id string, p model.PatientPatch) (model.Patient, error) {
	var (
		sets []string
		args []any
	)
	if p.Name.Set && !p.Name.Null {
		sets = append(sets, "name=?")
		args = append(args, p.Name.Value)
	}
	addNullable := func(col string, o model.Optional[string]) {
		if !o.Set {
			return
		}
		sets = append(sets, col+"=?")
		if o.Null {
			args = append(args, nil)
		} else {
			args = append(args, o.Value)
		}
	}
	addNullable("email", p.Email)
	addNullable("phone", p.Phone)
	addNullable("medical_notes", p.MedicalNotes)
	if p.DateOfBirth.Set {
		sets = append(sets, "date_of_birth=?")
		if p.DateOfBirth.Null {
			args = append(args, nil)
		} else {
			args = append(args, p.DateOfBirth.Value.Time)
		}
	}
	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}

	args = append(args, id)
	// RowsAffected is 0 both for a missing row and for an unchanged one, so
	// existence is decided by the read that follows.
	if _, err := r.DB.ExecContext(ctx,
		"UPDATE patients SET "+strings.Join(sets, ", ")+" WHERE id=?", args...); err != nil {
		return model.Patient{}, err
	}
	return r.GetByID(ctx, id)
}

// Delete removes the patient; chat messages go with it (ON DELETE CASCADE).
func (r *PatientRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM patients WHERE id=?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func collectPatients(rows *sql.Rows) ([]model.Patient, error) {
	defer rows.Close()
	items := make([]model.Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func scanPatient(s rowScanner) (model.Patient, error) {
	var (
		p                   model.Patient
		email, phone, notes sql.NullString
		dob                 sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.UserID, &p.Name, &email, &phone, &dob, &notes, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return model.Patient{}, err
	}
	p.Email = nullString(email)
	p.Phone = nullString(phone)
	p.MedicalNotes = nullString(notes)
	if dob.Valid {
		d := model.DateOf(dob.Time)
		p.DateOfBirth = &d
	}
	return p, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
