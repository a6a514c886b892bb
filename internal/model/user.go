package model

import "time"

// Role names stored in users.role. Admin and Developer share the
// privileged surface; Developer exists for support staff.
const (
	RoleUser      = "user"
	RoleAdmin     = "admin"
	RoleDeveloper = "desenvolvedor"
)

// IsPrivilegedRole reports whether role may run admin-only operations.
func IsPrivilegedRole(role string) bool {
	return role == RoleAdmin || role == RoleDeveloper
}

// User represents an application user record as stored in the
// `users` table.
type User struct {
	ID           uint64    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// RefreshToken models an entry in the `refresh_tokens` table. The plain
// token is not stored; only its SHA-256 hash.
type RefreshToken struct {
	ID        uint64     `db:"id"`
	UserID    uint64     `db:"user_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
	CreatedAt time.Time  `db:"created_at"`
}
