package patient

import (
	"context"
	"errors"
)

var (
	ErrNotFound           = errors.New("patient not found")
	ErrDuplicatePatientID = errors.New("patient id already in use")
)

// Filter narrows List. Empty fields match everything.
type Filter struct {
	IDs          []string
	DoctorRef    string
	DoctorRefs   []string
	CaregiverRef string
}

// Repository persists patients with their embedded medication entries.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id string) (*Patient, error)
	GetByPatientID(ctx context.Context, patientID int) (*Patient, error)
	// List returns patients ordered by patientId.
	List(ctx context.Context, f Filter) ([]*Patient, error)
	// Update replaces every editable field of p. The owning doctor is never
	// changed.
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id string) error
	DeleteByDoctor(ctx context.Context, doctorRef string) (int, error)
	UnlinkCaregiver(ctx context.Context, caregiverRef string) (int, error)
}
