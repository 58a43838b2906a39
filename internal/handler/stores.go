package handler

import (
	"context"
	"time"

	"github.com/iliyamo/dental-clinic-admin/internal/model"
)

// Storage the handlers depend on.  Both the MySQL repositories and the
// in-memory ones satisfy these.

type UserStore interface {
	Create(ctx context.Context, email, password, fullName, role string, cost int) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
}

type TokenStore interface {
	StoreRefresh(ctx context.Context, userID, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (string, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

type PatientStore interface {
	Create(ctx context.Context, userID string, in model.NewPatient) (model.Patient, error)
	GetByID(ctx context.Context, id string) (model.Patient, error)
	ListByOwner(ctx context.Context, userID string, page, limit int) ([]model.Patient, int, error)
	AllByOwner(ctx context.Context, userID string) ([]model.Patient, error)
	Update(ctx context.Context, id string, p model.PatientPatch) (model.Patient, error)
	Delete(ctx context.Context, id string) error
}

// dbTimeout bounds every storage call made on behalf of a request.
const dbTimeout = 5 * time.Second
