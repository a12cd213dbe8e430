package medication

import (
	"time"

	"github.com/clinicdesk/clinic/internal/domain/identity"
)

// Record is a standalone prescription. MedID is the record's own 3-digit
// identifier; PatientID and PrescriberID mirror the custom IDs of the patient
// and the prescribing doctor referenced by PatientRef and PrescribedBy.
type Record struct {
	ID           string
	MedID        int
	Name         string
	Dosage       string
	Frequency    string
	PatientID    int
	PrescriberID int
	PatientRef   string
	PrescribedBy string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// View is the client representation with patient and prescriber resolved.
type View struct {
	ID           string                   `json:"id"`
	MedID        int                      `json:"medId"`
	Name         string                   `json:"name"`
	Dosage       string                   `json:"dosage"`
	Frequency    string                   `json:"frequency"`
	PatientID    int                      `json:"patientId"`
	PrescriberID int                      `json:"prescriberId"`
	Patient      *identity.PatientSummary `json:"patient"`
	PrescribedBy *identity.Party          `json:"prescribedBy"`
	CreatedAt    time.Time                `json:"createdAt"`
	UpdatedAt    time.Time                `json:"updatedAt"`
}

func (r *Record) View(patients map[string]identity.PatientSummary, parties map[string]identity.Party) View {
	v := View{
		ID:           r.ID,
		MedID:        r.MedID,
		Name:         r.Name,
		Dosage:       r.Dosage,
		Frequency:    r.Frequency,
		PatientID:    r.PatientID,
		PrescriberID: r.PrescriberID,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if p, ok := patients[r.PatientRef]; ok {
		v.Patient = &p
	}
	if d, ok := parties[r.PrescribedBy]; ok {
		v.PrescribedBy = &d
	}
	return v
}

// CreateRequest is the body of POST /medications. PrescriberID is only
// honoured for admins.
type CreateRequest struct {
	MedID        *int   `json:"medId"`
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	PatientID    *int   `json:"patientId"`
	PrescriberID *int   `json:"prescriberId"`
}

type UpdateRequest struct {
	Name      *string `json:"name"`
	Dosage    *string `json:"dosage"`
	Frequency *string `json:"frequency"`
}
