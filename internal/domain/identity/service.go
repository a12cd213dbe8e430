package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/apierr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

const (
	MinPasswordLength = 10
	MinCustomID       = 100
	MaxCustomID       = 999
)

// DefaultEmailSuffixes are the accepted email domain endings.
var DefaultEmailSuffixes = []string{".com", ".org", ".net", ".edu", ".gov"}

// PatientLinks is the slice of the patient store the identity service needs
// to keep doctor and caregiver references consistent.
type PatientLinks interface {
	DeleteByDoctor(ctx context.Context, doctorRef string) (int, error)
	UnlinkCaregiver(ctx context.Context, caregiverRef string) (int, error)
	SummariesByDoctor(ctx context.Context, doctorRefs []string) (map[string][]PatientSummary, error)
}

// TxFunc runs fn atomically when the store supports it.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func noTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type Options struct {
	BcryptCost       int
	EmailSuffixes    []string
	ProtectAdmins    bool
	AllowAdminSignup bool
}

type Service struct {
	users       Repository
	patients    PatientLinks
	tokens      *auth.TokenIssuer
	revocations auth.RevocationStore
	opts        Options
	tx          TxFunc
	logger      zerolog.Logger
}

func NewService(users Repository, tokens *auth.TokenIssuer, revocations auth.RevocationStore, opts Options, logger zerolog.Logger) *Service {
	if len(opts.EmailSuffixes) == 0 {
		opts.EmailSuffixes = DefaultEmailSuffixes
	}
	return &Service{
		users:       users,
		tokens:      tokens,
		revocations: revocations,
		opts:        opts,
		tx:          noTx,
		logger:      logger.With().Str("component", "identity").Logger(),
	}
}

// SetPatientLinks wires the patient store after both services exist.
func (s *Service) SetPatientLinks(p PatientLinks) {
	s.patients = p
}

// SetTx makes user deletion, promotion and their patient updates run in one
// transaction.
func (s *Service) SetTx(tx TxFunc) {
	if tx != nil {
		s.tx = tx
	}
}

// Register validates and stores a new account. Admin self-signup can be
// disabled with Options.AllowAdminSignup.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*SafeUser, error) {
	return s.register(ctx, req, s.opts.AllowAdminSignup)
}

// CreateAdmin registers an admin regardless of AllowAdminSignup.
func (s *Service) CreateAdmin(ctx context.Context, name, email, password string) (*SafeUser, error) {
	return s.register(ctx, RegisterRequest{
		Name:     name,
		Email:    email,
		Password: password,
		Role:     string(auth.RoleAdmin),
	}, true)
}

func (s *Service) register(ctx context.Context, req RegisterRequest, allowAdmin bool) (*SafeUser, error) {
	name := strings.TrimSpace(req.Name)
	email := NormalizeEmail(req.Email)

	if name == "" {
		return nil, apierr.Validation("MissingField", "name is required")
	}
	if err := ValidateEmail(email, s.opts.EmailSuffixes); err != nil {
		return nil, err
	}
	if len(req.Password) < MinPasswordLength {
		return nil, apierr.Validation("PasswordTooShort", "password must be at least %d characters", MinPasswordLength)
	}
	role, ok := auth.ParseRole(req.Role)
	if !ok {
		return nil, apierr.Validation("InvalidRole", "role must be one of admin, doctor, caregiver")
	}
	if err := ValidateCustomID(role, req.CustomID); err != nil {
		return nil, err
	}
	if role == auth.RoleAdmin && !allowAdmin {
		return nil, apierr.Forbidden("AdminSignupDisabled", "admin accounts cannot be created through signup")
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apierr.Conflict("DuplicateEmail", "Email already registered")
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password, s.opts.BcryptCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CustomID:     req.CustomID,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, mapRepoErr(err)
	}

	s.logger.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Msg("user registered")
	safe := u.Safe()
	return &safe, nil
}

// Authenticate checks credentials and issues a session token.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*LoginResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apierr.Validation("MissingField", "email and password are required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	ok, err := auth.CheckPassword(u.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.Validation("InvalidCredential", "Invalid password")
	}

	tok, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: tok.Token, ExpiresAt: tok.ExpiresAt, User: u.Safe()}, nil
}

// Logout revokes the session's token until it would have expired.
func (s *Service) Logout(ctx context.Context, session *auth.Session) error {
	if session == nil {
		return apierr.Unauthenticated("authentication required")
	}
	if s.revocations == nil || session.TokenID == "" {
		return nil
	}
	if err := s.revocations.Revoke(ctx, session.TokenID, session.UserID, session.ExpiresAt); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", session.UserID).Str("jti", session.TokenID).Msg("token revoked")
	return nil
}

func (s *Service) Me(ctx context.Context, session *auth.Session) (*SafeUser, error) {
	if session == nil {
		return nil, apierr.Unauthenticated("authentication required")
	}
	u, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	safe := u.Safe()
	return &safe, nil
}

func (s *Service) ListAll(ctx context.Context) ([]SafeUser, error) {
	return s.list(ctx, "")
}

func (s *Service) ListByRole(ctx context.Context, role string) ([]SafeUser, error) {
	r, ok := auth.ParseRole(role)
	if !ok {
		return nil, apierr.Validation("InvalidRole", "role must be one of admin, doctor, caregiver")
	}
	return s.list(ctx, r)
}

func (s *Service) list(ctx context.Context, role auth.Role) ([]SafeUser, error) {
	users, err := s.users.List(ctx, role)
	if err != nil {
		return nil, err
	}
	out := make([]SafeUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Safe())
	}
	return out, nil
}

// ListDoctors returns every doctor with a patient count, and the patients
// themselves when includePatients is set.
func (s *Service) ListDoctors(ctx context.Context, includePatients bool) ([]DoctorSummary, error) {
	doctors, err := s.users.List(ctx, auth.RoleDoctor)
	if err != nil {
		return nil, err
	}

	var byDoctor map[string][]PatientSummary
	if s.patients != nil && len(doctors) > 0 {
		refs := make([]string, 0, len(doctors))
		for _, d := range doctors {
			refs = append(refs, d.ID)
		}
		if byDoctor, err = s.patients.SummariesByDoctor(ctx, refs); err != nil {
			return nil, err
		}
	}

	out := make([]DoctorSummary, 0, len(doctors))
	for _, d := range doctors {
		summary := DoctorSummary{SafeUser: d.Safe(), PatientCount: len(byDoctor[d.ID])}
		if includePatients {
			summary.Patients = byDoctor[d.ID]
			if summary.Patients == nil {
				summary.Patients = []PatientSummary{}
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

// PromoteToAdmin turns a doctor or caregiver into an admin and clears the
// custom ID. A doctor who still owns patients is refused so every patient
// keeps a doctor owner; a caregiver is unlinked from assigned patients so no
// patient mirrors a custom ID that another user can now claim.
func (s *Service) PromoteToAdmin(ctx context.Context, id string) (*SafeUser, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if u.Role == auth.RoleAdmin {
		return nil, apierr.Validation("AlreadyAdmin", "User is already an admin")
	}

	unlinked := 0
	err = s.tx(ctx, func(ctx context.Context) error {
		if s.patients != nil {
			switch u.Role {
			case auth.RoleDoctor:
				owned, err := s.patients.SummariesByDoctor(ctx, []string{u.ID})
				if err != nil {
					return err
				}
				if n := len(owned[u.ID]); n > 0 {
					return apierr.Conflict("DoctorHasPatients",
						"doctor still owns %d patient(s); delete or reassign them before promotion", n)
				}
			case auth.RoleCaregiver:
				n, err := s.patients.UnlinkCaregiver(ctx, u.ID)
				if err != nil {
					return err
				}
				unlinked = n
			}
		}
		return s.users.PromoteToAdmin(ctx, id)
	})
	if err != nil {
		return nil, mapRepoErr(err)
	}

	u.Role = auth.RoleAdmin
	u.CustomID = nil
	s.logger.Info().Str("user_id", id).Int("patients_unlinked", unlinked).Msg("user promoted to admin")
	safe := u.Safe()
	return &safe, nil
}

// DeleteUser removes a user. Deleting a doctor removes the doctor's patients
// (and their medication records); deleting a caregiver unlinks the caregiver
// from assigned patients.
func (s *Service) DeleteUser(ctx context.Context, id string, acting *auth.Session) (*DeleteResult, error) {
	if acting == nil {
		return nil, apierr.Unauthenticated("authentication required")
	}
	if acting.UserID == id {
		return nil, apierr.Validation("SelfDeletion", "You cannot delete your own account")
	}

	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if u.Role == auth.RoleAdmin && s.opts.ProtectAdmins {
		return nil, apierr.Forbidden("ForbidAdminDeletion", "admin accounts cannot be deleted")
	}

	result := &DeleteResult{User: u.Safe()}
	err = s.tx(ctx, func(ctx context.Context) error {
		if s.patients != nil {
			switch u.Role {
			case auth.RoleDoctor:
				n, err := s.patients.DeleteByDoctor(ctx, u.ID)
				if err != nil {
					return err
				}
				result.PatientsRemoved = n
			case auth.RoleCaregiver:
				n, err := s.patients.UnlinkCaregiver(ctx, u.ID)
				if err != nil {
					return err
				}
				result.PatientsUnlinked = n
			}
		}
		return s.users.Delete(ctx, u.ID)
	})
	if err != nil {
		return nil, mapRepoErr(err)
	}

	s.logger.Info().
		Str("user_id", u.ID).
		Str("role", string(u.Role)).
		Str("acting_user_id", acting.UserID).
		Int("patients_removed", result.PatientsRemoved).
		Int("patients_unlinked", result.PatientsUnlinked).
		Msg("user deleted")
	return result, nil
}

// ResolveSession loads the current role and custom ID of userID for the
// authentication middleware.
func (s *Service) ResolveSession(ctx context.Context, userID string) (*auth.Session, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return u.Session(), nil
}

// Party returns the display projection of id.
func (s *Service) Party(ctx context.Context, id string) (*Party, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	p := u.Party()
	return &p, nil
}

// Parties resolves ids to display projections. Unknown ids are omitted.
func (s *Service) Parties(ctx context.Context, ids []string) (map[string]Party, error) {
	users, err := s.users.GetMany(ctx, dedupe(ids))
	if err != nil {
		return nil, err
	}
	out := make(map[string]Party, len(users))
	for _, u := range users {
		out[u.ID] = u.Party()
	}
	return out, nil
}

// FindByCustomID resolves a role's 3-digit custom ID to a Party.
func (s *Service) FindByCustomID(ctx context.Context, role auth.Role, customID int) (*Party, error) {
	u, err := s.users.GetByCustomID(ctx, role, customID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apierr.NotFound("UserNotFound", "no %s with id %d", role, customID)
		}
		return nil, err
	}
	p := u.Party()
	return &p, nil
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail requires a single "@" with non-empty local and domain parts,
// and a domain ending in one of suffixes.
func ValidateEmail(email string, suffixes []string) error {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") || strings.ContainsAny(email, " \t") {
		return apierr.Validation("InvalidEmail", "email must contain @ and a valid domain")
	}
	for _, suffix := range suffixes {
		if strings.HasSuffix(domain, suffix) && len(domain) > len(suffix) && !strings.HasPrefix(domain, ".") {
			return nil
		}
	}
	return apierr.Validation("InvalidEmail", "email domain must end with one of %s", strings.Join(suffixes, ", "))
}

// ValidateCustomID enforces that doctors and caregivers carry an id in
// [100,999] and admins carry none.
func ValidateCustomID(role auth.Role, customID *int) error {
	if !role.RequiresCustomID() {
		if customID != nil {
			return apierr.Validation("AdminCustomID", "admins cannot have a custom id")
		}
		return nil
	}
	if customID == nil {
		return apierr.Validation("MissingField", "customId is required for %s accounts", role)
	}
	if *customID < MinCustomID || *customID > MaxCustomID {
		return apierr.Validation("InvalidRange", "customId must be between %d and %d", MinCustomID, MaxCustomID)
	}
	return nil
}

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apierr.NotFound("UserNotFound", "User not found")
	case errors.Is(err, ErrDuplicateEmail):
		return apierr.Conflict("DuplicateEmail", "Email already registered")
	case errors.Is(err, ErrDuplicateCustomID):
		return apierr.Conflict("DuplicateCustomID", "custom id already in use for this role")
	}
	return err
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
