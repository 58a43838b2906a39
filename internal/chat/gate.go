package chat

import (
	"context"
	"errors"

	"github.com/iliyamo/dental-clinic-admin/internal/model"
	"github.com/iliyamo/dental-clinic-admin/internal/repository"
)

// PatientReader is the part of the patient store the gate needs.
type PatientReader interface {
	GetByID(ctx context.Context, id string) (model.Patient, error)
}

// Gate authorizes patient scoped access: the patient must exist and be
// owned by the requester.  It only reads.
type Gate struct {
	Patients PatientReader
}

// Check returns the patient or an error wrapping ErrNotFound, ErrForbidden
// or ErrInternal.
func (g Gate) Check(ctx context.Context, patientID, userID string) (model.Patient, error) {
	p, err := g.Patients.GetByID(ctx, patientID)
	if errors.Is(err, repository.ErrPatientNotFound) {
		return model.Patient{}, ErrNotFound
	}
	if err != nil {
		return model.Patient{}, wrap(ErrInternal, err)
	}
	if p.UserID != userID {
		return model.Patient{}, ErrForbidden
	}
	return p, nil
}
