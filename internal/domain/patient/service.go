package patient

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/domain/catalog"
	"github.com/clinicdesk/clinic/internal/domain/identity"
	"github.com/clinicdesk/clinic/internal/platform/apierr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// UserDirectory resolves user references for patient views and custom ID
// lookups. identity.Service satisfies it.
type UserDirectory interface {
	Parties(ctx context.Context, ids []string) (map[string]identity.Party, error)
	FindByCustomID(ctx context.Context, role auth.Role, customID int) (*identity.Party, error)
}

// RecordCascade keeps standalone medication records that reference a patient
// consistent with it.
type RecordCascade interface {
	DeleteByPatient(ctx context.Context, patientRef string) (int, error)
	RenumberPatient(ctx context.Context, patientRef string, patientID int) (int, error)
}

type Service struct {
	repo    Repository
	users   UserDirectory
	records RecordCascade
	tx      identity.TxFunc
	logger  zerolog.Logger
}

func NewService(repo Repository, users UserDirectory, logger zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		users: users,
		tx: func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
		logger: logger.With().Str("component", "patient").Logger(),
	}
}

// SetRecordCascade wires the medication record store so patient deletion
// removes the patient's records.
func (s *Service) SetRecordCascade(rc RecordCascade) {
	s.records = rc
}

// SetTx makes patient deletion, renumbering and their record updates run in
// one transaction.
func (s *Service) SetTx(tx identity.TxFunc) {
	if tx != nil {
		s.tx = tx
	}
}

// Create stores a new patient. A doctor always becomes the owner; an admin
// must name the owning doctor by custom ID.
func (s *Service) Create(ctx context.Context, session *auth.Session, req CreateRequest) (*View, error) {
	scope, err := auth.Authorize(session, auth.CapCreatePatient)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	diagnosis := strings.TrimSpace(req.Diagnosis)
	if req.PatientID == nil || name == "" || req.Age == nil || diagnosis == "" {
		return nil, apierr.Validation("MissingField", "patientId, name, age and diagnosis are required")
	}
	if err := validateCustomID("patientId", *req.PatientID); err != nil {
		return nil, err
	}
	if err := validateAge(*req.Age); err != nil {
		return nil, err
	}

	p := &Patient{
		PatientID: *req.PatientID,
		Name:      name,
		Age:       *req.Age,
		Diagnosis: diagnosis,
		Symptoms:  strings.TrimSpace(req.Symptoms),
		Image:     strings.TrimSpace(req.Image),
	}

	if scope == auth.ScopeAny {
		if req.DoctorID == nil {
			return nil, apierr.Validation("MissingField", "doctorId is required when an admin creates a patient")
		}
		doctor, err := s.resolve(ctx, auth.RoleDoctor, "doctorId", *req.DoctorID)
		if err != nil {
			return nil, err
		}
		p.DoctorRef = doctor.ID
		p.DoctorID = doctor.CustomID
	} else {
		p.DoctorRef = session.UserID
		p.DoctorID = session.CustomID
	}

	if req.CaregiverID != nil && *req.CaregiverID != 0 {
		caregiver, err := s.resolve(ctx, auth.RoleCaregiver, "caregiverId", *req.CaregiverID)
		if err != nil {
			return nil, err
		}
		p.CaregiverRef = caregiver.ID
		p.CaregiverID = caregiver.CustomID
	}

	if p.Medications, err = NormalizeMedications(req.Medications); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, mapRepoErr(err)
	}

	s.logger.Info().
		Str("patient_ref", p.ID).
		Int("patient_id", p.PatientID).
		Str("doctor_ref", p.DoctorRef).
		Str("acting_user_id", session.UserID).
		Msg("patient created")
	return s.view(ctx, p)
}

// ListAll returns every patient. Admin only.
func (s *Service) ListAll(ctx context.Context, session *auth.Session) ([]View, error) {
	if _, err := auth.Authorize(session, auth.CapListAllPatients); err != nil {
		return nil, err
	}
	return s.list(ctx, Filter{})
}

// ListByDoctor returns the patients owned by the session's doctor. The scope
// always comes from the session, never from request input.
func (s *Service) ListByDoctor(ctx context.Context, session *auth.Session) ([]View, error) {
	if _, err := auth.Authorize(session, auth.CapListOwnPatients); err != nil {
		return nil, err
	}
	return s.list(ctx, Filter{DoctorRef: session.UserID})
}

// ListByCaregiver returns the patients linked to the session's caregiver.
func (s *Service) ListByCaregiver(ctx context.Context, session *auth.Session) ([]View, error) {
	if _, err := auth.Authorize(session, auth.CapListAssignedPatients); err != nil {
		return nil, err
	}
	return s.list(ctx, Filter{CaregiverRef: session.UserID})
}

func (s *Service) Get(ctx context.Context, session *auth.Session, id string) (*View, error) {
	p, err := s.load(ctx, session, auth.CapReadPatient, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, p)
}

// Medications returns the embedded medication list of a patient.
func (s *Service) Medications(ctx context.Context, session *auth.Session, id string) ([]MedicationEntry, error) {
	p, err := s.load(ctx, session, auth.CapReadPatient, id)
	if err != nil {
		return nil, err
	}
	return nonNil(p.Medications), nil
}

// Update replaces the provided fields. A provided medication list replaces
// the stored one entirely. The owning doctor cannot be changed. A new
// patientId is carried onto the patient's medication records in the same
// transaction.
func (s *Service) Update(ctx context.Context, session *auth.Session, id string, req UpdateRequest) (*View, error) {
	p, err := s.load(ctx, session, auth.CapUpdatePatient, id)
	if err != nil {
		return nil, err
	}

	renumbered := false
	if req.PatientID != nil {
		if err := validateCustomID("patientId", *req.PatientID); err != nil {
			return nil, err
		}
		renumbered = p.PatientID != *req.PatientID
		p.PatientID = *req.PatientID
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apierr.Validation("MissingField", "name cannot be empty")
		}
		p.Name = name
	}
	if req.Age != nil {
		if err := validateAge(*req.Age); err != nil {
			return nil, err
		}
		p.Age = *req.Age
	}
	if req.Diagnosis != nil {
		diagnosis := strings.TrimSpace(*req.Diagnosis)
		if diagnosis == "" {
			return nil, apierr.Validation("MissingField", "diagnosis cannot be empty")
		}
		p.Diagnosis = diagnosis
	}
	if req.Symptoms != nil {
		p.Symptoms = strings.TrimSpace(*req.Symptoms)
	}
	if req.Image != nil {
		p.Image = strings.TrimSpace(*req.Image)
	}
	if req.CaregiverID != nil {
		if *req.CaregiverID == 0 {
			p.CaregiverRef = ""
			p.CaregiverID = nil
		} else {
			caregiver, err := s.resolve(ctx, auth.RoleCaregiver, "caregiverId", *req.CaregiverID)
			if err != nil {
				return nil, err
			}
			p.CaregiverRef = caregiver.ID
			p.CaregiverID = caregiver.CustomID
		}
	}
	if req.Medications != nil {
		if p.Medications, err = NormalizeMedications(*req.Medications); err != nil {
			return nil, err
		}
	}

	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		if renumbered && s.records != nil {
			if _, err := s.records.RenumberPatient(ctx, p.ID, p.PatientID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapRepoErr(err)
	}

	s.logger.Info().Str("patient_ref", p.ID).Str("acting_user_id", session.UserID).Msg("patient updated")
	return s.view(ctx, p)
}

// Delete removes a patient and its standalone medication records.
func (s *Service) Delete(ctx context.Context, session *auth.Session, id string) error {
	p, err := s.load(ctx, session, auth.CapDeletePatient, id)
	if err != nil {
		return err
	}

	removed := 0
	err = s.tx(ctx, func(ctx context.Context) error {
		if s.records != nil {
			n, err := s.records.DeleteByPatient(ctx, p.ID)
			if err != nil {
				return err
			}
			removed = n
		}
		return s.repo.Delete(ctx, p.ID)
	})
	if err != nil {
		return mapRepoErr(err)
	}

	s.logger.Info().
		Str("patient_ref", p.ID).
		Int("patient_id", p.PatientID).
		Str("acting_user_id", session.UserID).
		Int("records_removed", removed).
		Msg("patient deleted")
	return nil
}

// DeleteByDoctor removes every patient owned by doctorRef together with their
// medication records and reports how many patients were removed.
func (s *Service) DeleteByDoctor(ctx context.Context, doctorRef string) (int, error) {
	var removed int
	err := s.tx(ctx, func(ctx context.Context) error {
		if s.records != nil {
			patients, err := s.repo.List(ctx, Filter{DoctorRef: doctorRef})
			if err != nil {
				return err
			}
			for _, p := range patients {
				if _, err := s.records.DeleteByPatient(ctx, p.ID); err != nil {
					return err
				}
			}
		}
		n, err := s.repo.DeleteByDoctor(ctx, doctorRef)
		removed = n
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("doctor_ref", doctorRef).Int("patients_removed", removed).Msg("doctor patients removed")
	return removed, nil
}

// UnlinkCaregiver clears caregiverRef from every patient linked to it.
func (s *Service) UnlinkCaregiver(ctx context.Context, caregiverRef string) (int, error) {
	n, err := s.repo.UnlinkCaregiver(ctx, caregiverRef)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Str("caregiver_ref", caregiverRef).Int("patients_unlinked", n).Msg("caregiver unlinked")
	}
	return n, nil
}

// SummariesByDoctor groups patient summaries by owning doctor.
func (s *Service) SummariesByDoctor(ctx context.Context, doctorRefs []string) (map[string][]identity.PatientSummary, error) {
	out := make(map[string][]identity.PatientSummary, len(doctorRefs))
	if len(doctorRefs) == 0 {
		return out, nil
	}
	patients, err := s.repo.List(ctx, Filter{DoctorRefs: doctorRefs})
	if err != nil {
		return nil, err
	}
	for _, p := range patients {
		out[p.DoctorRef] = append(out[p.DoctorRef], p.Summary())
	}
	return out, nil
}

// SummariesByID resolves patient references to summaries. Unknown ids are
// omitted.
func (s *Service) SummariesByID(ctx context.Context, ids []string) (map[string]identity.PatientSummary, error) {
	out := make(map[string]identity.PatientSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	patients, err := s.repo.List(ctx, Filter{IDs: ids})
	if err != nil {
		return nil, err
	}
	for _, p := range patients {
		out[p.ID] = p.Summary()
	}
	return out, nil
}

// FindByPatientID resolves a 3-digit patient ID.
func (s *Service) FindByPatientID(ctx context.Context, patientID int) (*Patient, error) {
	p, err := s.repo.GetByPatientID(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apierr.NotFound("PatientNotFound", "no patient with id %d", patientID)
		}
		return nil, err
	}
	return p, nil
}

// NormalizeMedications validates entries against the catalog and fills name
// and dosage from it when omitted. A nil list becomes empty.
func NormalizeMedications(entries []MedicationEntry) ([]MedicationEntry, error) {
	out := make([]MedicationEntry, 0, len(entries))
	for i, e := range entries {
		item, ok := catalog.Lookup(e.MedID)
		if !ok {
			return nil, apierr.Validation("UnknownMedication", "medications[%d]: medId %d is not in the catalog", i, e.MedID)
		}
		e.Name = strings.TrimSpace(e.Name)
		e.Dosage = strings.TrimSpace(e.Dosage)
		e.Time = strings.TrimSpace(e.Time)
		if e.Name == "" {
			e.Name = item.Name
		}
		if e.Dosage == "" {
			e.Dosage = item.Dosage
		}
		if e.Time == "" {
			return nil, apierr.Validation("MissingField", "medications[%d]: time is required", i)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, session *auth.Session, op auth.Capability, id string) (*Patient, error) {
	scope, err := auth.Authorize(session, op)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if !auth.Permits(scope, session, p.DoctorRef, p.CaregiverRef) {
		return nil, apierr.Forbidden("NotOwner", "you do not have access to this patient")
	}
	return p, nil
}

func (s *Service) resolve(ctx context.Context, role auth.Role, field string, customID int) (*identity.Party, error) {
	if err := validateCustomID(field, customID); err != nil {
		return nil, err
	}
	party, err := s.users.FindByCustomID(ctx, role, customID)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			code := "UnknownDoctor"
			if role == auth.RoleCaregiver {
				code = "UnknownCaregiver"
			}
			return nil, apierr.Validation(code, "%s %d does not match any %s", field, customID, role)
		}
		return nil, err
	}
	return party, nil
}

func (s *Service) list(ctx context.Context, f Filter) ([]View, error) {
	patients, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, patients)
}

func (s *Service) view(ctx context.Context, p *Patient) (*View, error) {
	views, err := s.views(ctx, []*Patient{p})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *Service) views(ctx context.Context, patients []*Patient) ([]View, error) {
	out := make([]View, 0, len(patients))
	if len(patients) == 0 {
		return out, nil
	}
	refs := make([]string, 0, 2*len(patients))
	for _, p := range patients {
		refs = append(refs, p.DoctorRef)
		if p.CaregiverRef != "" {
			refs = append(refs, p.CaregiverRef)
		}
	}
	parties, err := s.users.Parties(ctx, refs)
	if err != nil {
		return nil, err
	}
	for _, p := range patients {
		out = append(out, p.View(parties))
	}
	return out, nil
}

func validateCustomID(field string, v int) error {
	if v < identity.MinCustomID || v > identity.MaxCustomID {
		return apierr.Validation("InvalidRange", "%s must be between %d and %d", field, identity.MinCustomID, identity.MaxCustomID)
	}
	return nil
}

func validateAge(age int) error {
	if age < MinAge || age > MaxAge {
		return apierr.Validation("InvalidRange", "age must be between %d and %d", MinAge, MaxAge)
	}
	return nil
}

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apierr.NotFound("PatientNotFound", "Patient not found")
	case errors.Is(err, ErrDuplicatePatientID):
		return apierr.Conflict("DuplicatePatientID", "patientId already in use")
	}
	return err
}
