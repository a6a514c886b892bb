package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/auction-bidding/internal/database"
	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/utils"
)

type UserRepo struct{ DB *database.DB }

func NewUserRepo(db *database.DB) *UserRepo { return &UserRepo{DB: db} }

var ErrEmailExists = errors.New("email already exists")

const userColumns = "id,email,password_hash,role,is_active,created_at,updated_at"

// Create inserts user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, email, password, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, role, is_active, created_at, updated_at) VALUES (?,?,?,?,?,?)",
		email, hash, role, true, now, now)
	if err != nil {
		if database.IsDuplicateKey(err) {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// EnsureUser creates the account when the email is unknown and otherwise
// forces its role. Used to seed the first administrator at startup.
func (r *UserRepo) EnsureUser(ctx context.Context, email, password, role string, cost int) (uint64, error) {
	u, err := r.GetByEmail(ctx, email)
	if err == nil {
		if u.Role != role {
			_, err = r.DB.ExecContext(ctx, "UPDATE users SET role=?, updated_at=? WHERE id=?",
				role, time.Now().UTC(), u.ID)
		}
		return u.ID, err
	}
	return r.Create(ctx, email, password, role, cost)
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u model.User
	err := r.DB.GetContext(ctx, &u,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email)
	return u, err
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	err := r.DB.GetContext(ctx, &u,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
	return u, err
}

// RoleTx reads the stored role of an active user inside tx. Privileged
// operations call this instead of trusting the role claim of the token.
func (r *UserRepo) RoleTx(ctx context.Context, tx *sqlx.Tx, id uint64) (string, error) {
	var u struct {
		Role     string `db:"role"`
		IsActive bool   `db:"is_active"`
	}
	if err := tx.GetContext(ctx, &u, "SELECT role, is_active FROM users WHERE id=? LIMIT 1", id); err != nil {
		return "", err
	}
	if !u.IsActive {
		return "", ErrForbidden
	}
	return u.Role, nil
}
