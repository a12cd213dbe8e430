package patient

import (
	"time"

	"github.com/clinicdesk/clinic/internal/domain/identity"
)

// MinAge and MaxAge bound a patient's age in years.
const (
	MinAge = 0
	MaxAge = 150
)

// MedicationEntry is a catalog medication prescribed inside a patient record.
// It has no identity of its own.
type MedicationEntry struct {
	MedID  int    `json:"medId" bson:"medId"`
	Name   string `json:"name" bson:"name"`
	Dosage string `json:"dosage" bson:"dosage"`
	Time   string `json:"time" bson:"time"`
}

// Patient is owned by exactly one doctor (DoctorRef) and optionally linked to
// one caregiver (CaregiverRef). DoctorID and CaregiverID mirror the 3-digit
// custom IDs of those users.
type Patient struct {
	ID           string
	PatientID    int
	DoctorRef    string
	DoctorID     *int
	CaregiverRef string
	CaregiverID  *int
	Name         string
	Age          int
	Diagnosis    string
	Symptoms     string
	Image        string
	Medications  []MedicationEntry
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (p *Patient) Summary() identity.PatientSummary {
	return identity.PatientSummary{ID: p.ID, PatientID: p.PatientID, Name: p.Name}
}

// View is the client representation with doctor and caregiver resolved to
// display projections.
type View struct {
	ID          string            `json:"id"`
	PatientID   int               `json:"patientId"`
	DoctorID    *int              `json:"doctorId,omitempty"`
	CaregiverID *int              `json:"caregiverId,omitempty"`
	Name        string            `json:"name"`
	Age         int               `json:"age"`
	Diagnosis   string            `json:"diagnosis"`
	Symptoms    string            `json:"symptoms"`
	Image       string            `json:"image"`
	Medications []MedicationEntry `json:"medications"`
	Doctor      *identity.Party   `json:"doctor"`
	Caregiver   *identity.Party   `json:"caregiver"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

func (p *Patient) View(parties map[string]identity.Party) View {
	v := View{
		ID:          p.ID,
		PatientID:   p.PatientID,
		DoctorID:    p.DoctorID,
		CaregiverID: p.CaregiverID,
		Name:        p.Name,
		Age:         p.Age,
		Diagnosis:   p.Diagnosis,
		Symptoms:    p.Symptoms,
		Image:       p.Image,
		Medications: p.Medications,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if v.Medications == nil {
		v.Medications = []MedicationEntry{}
	}
	if d, ok := parties[p.DoctorRef]; ok {
		v.Doctor = &d
	}
	if c, ok := parties[p.CaregiverRef]; ok && p.CaregiverRef != "" {
		v.Caregiver = &c
	}
	return v
}

// CreateRequest is the body of POST /patients. DoctorID is only honoured for
// admins; doctors always own the patients they create.
type CreateRequest struct {
	PatientID   *int              `json:"patientId"`
	DoctorID    *int              `json:"doctorId"`
	CaregiverID *int              `json:"caregiverId"`
	Name        string            `json:"name"`
	Age         *int              `json:"age"`
	Diagnosis   string            `json:"diagnosis"`
	Symptoms    string            `json:"symptoms"`
	Image       string            `json:"image"`
	Medications []MedicationEntry `json:"medications"`
}

// UpdateRequest carries only the fields to replace. A non-nil Medications
// replaces the whole list; CaregiverID 0 unlinks the caregiver.
type UpdateRequest struct {
	PatientID   *int               `json:"patientId"`
	CaregiverID *int               `json:"caregiverId"`
	Name        *string            `json:"name"`
	Age         *int               `json:"age"`
	Diagnosis   *string            `json:"diagnosis"`
	Symptoms    *string            `json:"symptoms"`
	Image       *string            `json:"image"`
	Medications *[]MedicationEntry `json:"medications"`
}
