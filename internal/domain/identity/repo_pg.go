package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
)

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewPGRepo(pool *pgxpool.Pool) Repository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, name, email, password_hash, role, custom_id, created_at, updated_at`

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	id := uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, custom_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		id, u.Name, u.Email, u.PasswordHash, string(u.Role), u.CustomID,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		switch db.UniqueViolation(err) {
		case "users_email_key":
			return ErrDuplicateEmail
		case "users_role_custom_id_key":
			return ErrDuplicateCustomID
		}
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = id.String()
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id string) (*User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, uid))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email))
}

func (r *userRepoPG) GetByCustomID(ctx context.Context, role auth.Role, customID int) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE role = $1 AND custom_id = $2`, string(role), customID))
}

func (r *userRepoPG) GetMany(ctx context.Context, ids []string) ([]*User, error) {
	uids := make([]string, 0, len(ids))
	for _, id := range ids {
		if uid, err := uuid.Parse(id); err == nil {
			uids = append(uids, uid.String())
		}
	}
	if len(uids) == 0 {
		return nil, nil
	}
	return r.query(ctx, `SELECT `+userCols+` FROM users WHERE id = ANY($1::uuid[]) ORDER BY created_at`, uids)
}

func (r *userRepoPG) List(ctx context.Context, role auth.Role) ([]*User, error) {
	if role == "" {
		return r.query(ctx, `SELECT `+userCols+` FROM users ORDER BY created_at`)
	}
	return r.query(ctx, `SELECT `+userCols+` FROM users WHERE role = $1 ORDER BY created_at`, string(role))
}

func (r *userRepoPG) PromoteToAdmin(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE users SET role = 'admin', custom_id = NULL, updated_at = NOW() WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("promote user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoPG) Delete(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoPG) query(ctx context.Context, sql string, args ...any) ([]*User, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var id uuid.UUID
	var role string
	err := row.Scan(&id, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CustomID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.ID = id.String()
	u.Role = auth.Role(role)
	return &u, nil
}
