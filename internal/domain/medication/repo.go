package medication

import (
	"context"
	"errors"
)

var (
	ErrNotFound       = errors.New("medication record not found")
	ErrDuplicateMedID = errors.New("medication id already in use")
)

// Filter narrows List. Empty fields match everything.
type Filter struct {
	PrescribedBy string
	PatientRef   string
}

type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	// List returns records ordered by medId.
	List(ctx context.Context, f Filter) ([]*Record, error)
	// Update replaces name, dosage and frequency.
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id string) error
	DeleteByPatient(ctx context.Context, patientRef string) (int, error)
	// RenumberPatient rewrites the patientId mirror of every record of
	// patientRef.
	RenumberPatient(ctx context.Context, patientRef string, patientID int) (int, error)
}
