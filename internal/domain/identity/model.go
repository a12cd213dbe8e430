package identity

import (
	"time"

	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// User is a stored account. Doctors and caregivers carry a 3-digit CustomID
// unique within their role; admins carry none.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         auth.Role
	CustomID     *int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SafeUser is the client-facing projection of a User. It never carries the
// password hash.
type SafeUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      auth.Role `json:"role"`
	CustomID  *int      `json:"customId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u *User) Safe() SafeUser {
	return SafeUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CustomID:  u.CustomID,
		CreatedAt: u.CreatedAt,
	}
}

// Party is the display projection embedded in patient and medication views.
type Party struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Role     auth.Role `json:"role"`
	CustomID *int      `json:"customId,omitempty"`
}

func (u *User) Party() Party {
	return Party{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, CustomID: u.CustomID}
}

func (u *User) Session() *auth.Session {
	return &auth.Session{UserID: u.ID, Role: u.Role, CustomID: u.CustomID}
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	CustomID *int   `json:"customId"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      SafeUser  `json:"user"`
}

// PatientSummary is the slice of a patient shown under a doctor listing.
type PatientSummary struct {
	ID        string `json:"id"`
	PatientID int    `json:"patientId"`
	Name      string `json:"name"`
}

type DoctorSummary struct {
	SafeUser
	PatientCount int              `json:"patientCount"`
	Patients     []PatientSummary `json:"patients,omitempty"`
}

type DeleteResult struct {
	User             SafeUser `json:"user"`
	PatientsRemoved  int      `json:"patientsRemoved"`
	PatientsUnlinked int      `json:"patientsUnlinked,omitempty"`
}
