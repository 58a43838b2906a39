package model

import (
    "strings"
    "time"
)

// Patient is a row of the `patients` table.  UserID is the owning clinic
// user and never changes after creation; every patient scoped operation
// compares it with the requester before doing anything else.
//
// Fields:
//  ID           – UUID primary key.
//  UserID       – owner, foreign key into users.
//  Name         – required display name.
//  Email        – optional contact email.
//  Phone        – optional contact phone.
//  DateOfBirth  – optional calendar date.
//  MedicalNotes – optional free text passed (truncated) to the AI assistant.
type Patient struct {
    ID           string    `json:"id"`
    UserID       string    `json:"user_id"`
    Name         string    `json:"name"`
    Email        *string   `json:"email"`
    Phone        *string   `json:"phone"`
    DateOfBirth  *Date     `json:"date_of_birth"`
    MedicalNotes *string   `json:"medical_notes"`
    CreatedAt    time.Time `json:"created_at"`
    UpdatedAt    time.Time `json:"updated_at"`
}

// NewPatient is the payload accepted when a patient is created.
type NewPatient struct {
    Name         string  `json:"name" validate:"required,min=2,max=255"`
    Email        *string `json:"email" validate:"omitempty,email,max=255"`
    Phone        *string `json:"phone" validate:"omitempty,max=50"`
    DateOfBirth  *Date   `json:"date_of_birth"`
    MedicalNotes *string `json:"medical_notes" validate:"omitempty,max=10000"`
}

// Normalize trims the strings and drops empty optional values.
func (n *NewPatient) Normalize() {
    n.Name = strings.TrimSpace(n.Name)
    n.Email = trimOrNil(n.Email)
    n.Phone = trimOrNil(n.Phone)
    if n.MedicalNotes != nil && strings.TrimSpace(*n.MedicalNotes) == "" {
        n.MedicalNotes = nil
    }
}

// PatientPatch is a sparse update.  Each field records whether the client
// sent it and whether it was sent as null, so "leave alone" and "clear"
// stay distinguishable.
//
// Name may be replaced but never cleared.  For the optional columns an
// explicit null or an empty string clears the stored value.
type PatientPatch struct {
    Name         Optional[string] `json:"name" validate:"omitempty,min=2,max=255"`
    Email        Optional[string] `json:"email" validate:"omitempty,email,max=255"`
    Phone        Optional[string] `json:"phone" validate:"omitempty,max=50"`
    DateOfBirth  Optional[Date]   `json:"date_of_birth"`
    MedicalNotes Optional[string] `json:"medical_notes" validate:"omitempty,max=10000"`
}

// Normalize trims string values and turns blank optional strings into
// explicit clears.
func (p *PatientPatch) Normalize() {
    p.Name.Value = strings.TrimSpace(p.Name.Value)
    clearBlank(&p.Email, true)
    clearBlank(&p.Phone, true)
    clearBlank(&p.MedicalNotes, false)
}

// IsEmpty reports whether the patch touches no field at all.
func (p PatientPatch) IsEmpty() bool {
    return !p.Name.Set && !p.Email.Set && !p.Phone.Set && !p.DateOfBirth.Set && !p.MedicalNotes.Set
}

// ClearsName reports an attempt to null or blank the required name.
func (p PatientPatch) ClearsName() bool {
    return p.Name.Set && (p.Name.Null || p.Name.Value == "")
}

// Apply returns a copy of pt with the patch applied.  Repositories that
// keep patients in memory use it; the SQL repository builds the same
// result with an UPDATE statement.
func (p PatientPatch) Apply(pt Patient) Patient {
    if p.Name.Set && !p.Name.Null {
        pt.Name = p.Name.Value
    }
    pt.Email = applyString(p.Email, pt.Email)
    pt.Phone = applyString(p.Phone, pt.Phone)
    pt.MedicalNotes = applyString(p.MedicalNotes, pt.MedicalNotes)
    if p.DateOfBirth.Set {
        if p.DateOfBirth.Null {
            pt.DateOfBirth = nil
        } else {
            d := p.DateOfBirth.Value
            pt.DateOfBirth = &d
        }
    }
    return pt
}

func applyString(o Optional[string], cur *string) *string {
    if !o.Set {
        return cur
    }
    if o.Null {
        return nil
    }
    v := o.Value
    return &v
}

func clearBlank(o *Optional[string], trim bool) {
    if !o.Set || o.Null {
        return
    }
    if trim {
        o.Value = strings.TrimSpace(o.Value)
    }
    if strings.TrimSpace(o.Value) == "" {
        o.Value = ""
        o.Null = true
    }
}

func trimOrNil(s *string) *string {
    if s == nil {
        return nil
    }
    v := strings.TrimSpace(*s)
    if v == "" {
        return nil
    }
    return &v
}
