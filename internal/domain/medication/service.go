package medication

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/domain/identity"
	"github.com/clinicdesk/clinic/internal/domain/patient"
	"github.com/clinicdesk/clinic/internal/platform/apierr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// PatientLookup resolves patients referenced by records. patient.Service
// satisfies it.
type PatientLookup interface {
	FindByPatientID(ctx context.Context, patientID int) (*patient.Patient, error)
	SummariesByID(ctx context.Context, ids []string) (map[string]identity.PatientSummary, error)
}

// UserDirectory resolves prescribers. identity.Service satisfies it.
type UserDirectory interface {
	Parties(ctx context.Context, ids []string) (map[string]identity.Party, error)
	FindByCustomID(ctx context.Context, role auth.Role, customID int) (*identity.Party, error)
}

type Service struct {
	repo     Repository
	patients PatientLookup
	users    UserDirectory
	logger   zerolog.Logger
}

func NewService(repo Repository, patients PatientLookup, users UserDirectory, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		patients: patients,
		users:    users,
		logger:   logger.With().Str("component", "medication").Logger(),
	}
}

// Create stores a prescription. A doctor is always the prescriber and may
// only prescribe for patients they own; an admin names the prescribing doctor
// by custom ID, and that doctor must own the patient.
func (s *Service) Create(ctx context.Context, session *auth.Session, req CreateRequest) (*View, error) {
	scope, err := auth.Authorize(session, auth.CapPrescribe)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Name:      strings.TrimSpace(req.Name),
		Dosage:    strings.TrimSpace(req.Dosage),
		Frequency: strings.TrimSpace(req.Frequency),
	}
	if req.MedID == nil || req.PatientID == nil || rec.Name == "" || rec.Dosage == "" || rec.Frequency == "" {
		return nil, apierr.Validation("MissingField", "medId, name, dosage, frequency and patientId are required")
	}
	if err := validateCustomID("medId", *req.MedID); err != nil {
		return nil, err
	}
	if err := validateCustomID("patientId", *req.PatientID); err != nil {
		return nil, err
	}
	rec.MedID = *req.MedID
	rec.PatientID = *req.PatientID

	if scope == auth.ScopeAny {
		if req.PrescriberID == nil {
			return nil, apierr.Validation("MissingField", "prescriberId is required when an admin prescribes")
		}
		if err := validateCustomID("prescriberId", *req.PrescriberID); err != nil {
			return nil, err
		}
		doctor, err := s.users.FindByCustomID(ctx, auth.RoleDoctor, *req.PrescriberID)
		if err != nil {
			if apierr.KindOf(err) == apierr.KindNotFound {
				return nil, apierr.Validation("UnknownDoctor", "prescriberId %d does not match any doctor", *req.PrescriberID)
			}
			return nil, err
		}
		rec.PrescribedBy = doctor.ID
		rec.PrescriberID = *req.PrescriberID
	} else {
		if session.CustomID == nil {
			return nil, apierr.Forbidden("Forbidden", "prescriber has no custom id")
		}
		rec.PrescribedBy = session.UserID
		rec.PrescriberID = *session.CustomID
	}

	p, err := s.patients.FindByPatientID(ctx, rec.PatientID)
	if err != nil {
		return nil, err
	}
	if p.DoctorRef != rec.PrescribedBy {
		return nil, apierr.Forbidden("NotOwner", "patient %d is not owned by the prescriber", rec.PatientID)
	}
	rec.PatientRef = p.ID

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, mapRepoErr(err)
	}

	s.logger.Info().
		Str("record_id", rec.ID).
		Int("med_id", rec.MedID).
		Str("patient_ref", rec.PatientRef).
		Str("prescribed_by", rec.PrescribedBy).
		Msg("medication record created")
	return s.view(ctx, rec)
}

// List returns every record for admins and the doctor's own prescriptions
// otherwise.
func (s *Service) List(ctx context.Context, session *auth.Session) ([]View, error) {
	scope, err := auth.Authorize(session, auth.CapReadPrescriptions)
	if err != nil {
		return nil, err
	}
	var f Filter
	if scope != auth.ScopeAny {
		f.PrescribedBy = session.UserID
	}
	recs, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, recs)
}

func (s *Service) Get(ctx context.Context, session *auth.Session, id string) (*View, error) {
	rec, err := s.load(ctx, session, auth.CapReadPrescriptions, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, rec)
}

// Update replaces the provided descriptive fields. Patient and prescriber
// never change.
func (s *Service) Update(ctx context.Context, session *auth.Session, id string, req UpdateRequest) (*View, error) {
	rec, err := s.load(ctx, session, auth.CapManagePrescriptions, id)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		name string
		in   *string
		out  *string
	}{
		{"name", req.Name, &rec.Name},
		{"dosage", req.Dosage, &rec.Dosage},
		{"frequency", req.Frequency, &rec.Frequency},
	} {
		if f.in == nil {
			continue
		}
		v := strings.TrimSpace(*f.in)
		if v == "" {
			return nil, apierr.Validation("MissingField", "%s cannot be empty", f.name)
		}
		*f.out = v
	}

	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, mapRepoErr(err)
	}
	return s.view(ctx, rec)
}

func (s *Service) Delete(ctx context.Context, session *auth.Session, id string) error {
	rec, err := s.load(ctx, session, auth.CapManagePrescriptions, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, rec.ID); err != nil {
		return mapRepoErr(err)
	}
	s.logger.Info().Str("record_id", rec.ID).Str("acting_user_id", session.UserID).Msg("medication record deleted")
	return nil
}

// DeleteByPatient removes every record of patientRef.
func (s *Service) DeleteByPatient(ctx context.Context, patientRef string) (int, error) {
	n, err := s.repo.DeleteByPatient(ctx, patientRef)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Str("patient_ref", patientRef).Int("records_removed", n).Msg("medication records removed")
	}
	return n, nil
}

// RenumberPatient keeps the patientId mirror of patientRef's records in step
// with the patient.
func (s *Service) RenumberPatient(ctx context.Context, patientRef string, patientID int) (int, error) {
	n, err := s.repo.RenumberPatient(ctx, patientRef, patientID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Str("patient_ref", patientRef).Int("patient_id", patientID).Int("records_updated", n).Msg("medication records renumbered")
	}
	return n, nil
}

func (s *Service) load(ctx context.Context, session *auth.Session, op auth.Capability, id string) (*Record, error) {
	scope, err := auth.Authorize(session, op)
	if err != nil {
		return nil, err
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if !auth.Permits(scope, session, rec.PrescribedBy, "") {
		return nil, apierr.Forbidden("NotOwner", "you do not have access to this medication record")
	}
	return rec, nil
}

func (s *Service) view(ctx context.Context, rec *Record) (*View, error) {
	views, err := s.views(ctx, []*Record{rec})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *Service) views(ctx context.Context, recs []*Record) ([]View, error) {
	out := make([]View, 0, len(recs))
	if len(recs) == 0 {
		return out, nil
	}
	patientRefs := make([]string, 0, len(recs))
	userRefs := make([]string, 0, len(recs))
	for _, r := range recs {
		patientRefs = append(patientRefs, r.PatientRef)
		userRefs = append(userRefs, r.PrescribedBy)
	}
	patients, err := s.patients.SummariesByID(ctx, patientRefs)
	if err != nil {
		return nil, err
	}
	parties, err := s.users.Parties(ctx, userRefs)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		out = append(out, r.View(patients, parties))
	}
	return out, nil
}

func validateCustomID(field string, v int) error {
	if v < identity.MinCustomID || v > identity.MaxCustomID {
		return apierr.Validation("InvalidRange", "%s must be between %d and %d", field, identity.MinCustomID, identity.MaxCustomID)
	}
	return nil
}

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apierr.NotFound("MedicationNotFound", "Medication not found")
	case errors.Is(err, ErrDuplicateMedID):
		return apierr.Conflict("DuplicateMedID", "medId already in use")
	}
	return err
}
