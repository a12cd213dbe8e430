package identity

import (
	"context"
	"errors"

	"github.com/clinicdesk/clinic/internal/platform/auth"
)

var (
	ErrNotFound          = errors.New("user not found")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateCustomID = errors.New("custom id already in use for this role")
)

// Repository persists users. Implementations return ErrNotFound for unknown
// or malformed ids and the ErrDuplicate* sentinels on unique violations.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByCustomID(ctx context.Context, role auth.Role, customID int) (*User, error)
	GetMany(ctx context.Context, ids []string) ([]*User, error)
	// List returns users ordered by creation time; an empty role lists all.
	List(ctx context.Context, role auth.Role) ([]*User, error)
	PromoteToAdmin(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}
