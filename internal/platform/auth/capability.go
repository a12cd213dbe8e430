package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/apierr"
)

// Capability names an operation subject to role-based authorization.
type Capability string

const (
	CapListAllPatients      Capability = "patients:list-all"
	CapListOwnPatients      Capability = "patients:list-own"
	CapListAssignedPatients Capability = "patients:list-assigned"
	CapCreatePatient        Capability = "patients:create"
	CapReadPatient          Capability = "patients:read"
	CapUpdatePatient        Capability = "patients:update"
	CapDeletePatient        Capability = "patients:delete"
	CapManageUsers          Capability = "users:manage"
	CapReadCatalog          Capability = "catalog:read"
	CapMutateCatalog        Capability = "catalog:write"
	CapPrescribe            Capability = "medications:create"
	CapReadPrescriptions    Capability = "medications:read"
	CapManagePrescriptions  Capability = "medications:write"
	CapUpload               Capability = "uploads:create"
)

// Scope qualifies a granted capability.
//   - ScopeAny: every record.
//   - ScopeOwn: records owned by the requester (patients whose doctor is the
//     requester, prescriptions they wrote).
//   - ScopeAssigned: patients linked to the requester as caregiver.
type Scope string

const (
	ScopeNone     Scope = ""
	ScopeAny      Scope = "any"
	ScopeOwn      Scope = "own"
	ScopeAssigned Scope = "assigned"
)

// Capabilities is the single role capability table consulted by route
// middleware, by services for ownership scoping, and served to clients so a
// UI renders from the same rules. A missing entry means denied.
var Capabilities = map[Capability]map[Role]Scope{
	CapListAllPatients:      {RoleAdmin: ScopeAny},
	CapListOwnPatients:      {RoleDoctor: ScopeOwn},
	CapListAssignedPatients: {RoleCaregiver: ScopeAssigned},
	CapCreatePatient:        {RoleAdmin: ScopeAny, RoleDoctor: ScopeOwn},
	CapReadPatient:          {RoleAdmin: ScopeAny, RoleDoctor: ScopeOwn, RoleCaregiver: ScopeAssigned},
	CapUpdatePatient:        {RoleAdmin: ScopeAny, RoleDoctor: ScopeOwn},
	CapDeletePatient:        {RoleAdmin: ScopeAny, RoleDoctor: ScopeOwn},
	CapManageUsers:          {RoleAdmin: ScopeAny},
	CapReadCatalog:          {RoleAdmin: ScopeAny, RoleDoctor: ScopeAny, RoleCaregiver: ScopeAny},
	CapMutateCatalog:        {},
	CapPrescribe:            {RoleAdmin: ScopeAny, RoleDoctor: ScopeOwn},
	CapReadPrescriptions:    {RoleAdmin: ScopeAny, RoleDoctor: ScopeOwn},
	CapManagePrescriptions:  {RoleAdmin: ScopeAny, RoleDoctor: ScopeOwn},
	CapUpload:               {RoleAdmin: ScopeAny, RoleDoctor: ScopeAny, RoleCaregiver: ScopeAny},
}

// ScopeFor looks up the scope role holds for op.
func ScopeFor(role Role, op Capability) Scope {
	return Capabilities[op][role]
}

// Authorize resolves the scope the session holds for op. It fails with
// Unauthenticated when there is no session and Forbidden when the role holds
// no scope.
func Authorize(s *Session, op Capability) (Scope, error) {
	if s == nil {
		return ScopeNone, apierr.Unauthenticated("authentication required")
	}
	scope := ScopeFor(s.Role, op)
	if scope == ScopeNone {
		return ScopeNone, apierr.Forbidden("Forbidden", "role %s may not perform %s", s.Role, op)
	}
	return scope, nil
}

// Permits reports whether scope lets s act on a record owned by ownerID and
// optionally assigned to assignedID.
func Permits(scope Scope, s *Session, ownerID, assignedID string) bool {
	if s == nil {
		return false
	}
	switch scope {
	case ScopeAny:
		return true
	case ScopeOwn:
		return ownerID != "" && ownerID == s.UserID
	case ScopeAssigned:
		return assignedID != "" && assignedID == s.UserID
	}
	return false
}

// Check combines Authorize and Permits for a single record.
func Check(s *Session, op Capability, ownerID, assignedID string) error {
	scope, err := Authorize(s, op)
	if err != nil {
		return err
	}
	if !Permits(scope, s, ownerID, assignedID) {
		return apierr.Forbidden("NotOwner", "you do not have access to this record")
	}
	return nil
}

// RequireCapability returns middleware that rejects requests whose session
// role holds no scope for op.
func RequireCapability(op Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, err := Authorize(SessionFromContext(c.Request().Context()), op); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// CapabilitiesFor returns the capabilities granted to role.
func CapabilitiesFor(role Role) map[Capability]Scope {
	out := make(map[Capability]Scope)
	for op, roles := range Capabilities {
		if scope := roles[role]; scope != ScopeNone {
			out[op] = scope
		}
	}
	return out
}

type capabilitiesResponse struct {
	Role         Role                 `json:"role"`
	Capabilities map[Capability]Scope `json:"capabilities"`
}

// CapabilitiesHandler serves the caller's capability map.
func CapabilitiesHandler(c echo.Context) error {
	s := SessionFromContext(c.Request().Context())
	if s == nil {
		return apierr.Unauthenticated("authentication required")
	}
	return c.JSON(http.StatusOK, capabilitiesResponse{
		Role:         s.Role,
		Capabilities: CapabilitiesFor(s.Role),
	})
}
