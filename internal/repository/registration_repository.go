package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/auction-bidding/internal/database"
	"github.com/iliyamo/auction-bidding/internal/model"
)

// RegistrationRepo provides data access to auction_registrations. There is
// exactly one row per (user, auction); later requests mutate that row.
type RegistrationRepo struct {
	db *database.DB
}

func NewRegistrationRepo(db *database.DB) *RegistrationRepo { return &RegistrationRepo{db: db} }

const registrationColumns = `id, user_id, auction_id, status, client_notes, internal_notes,
	created_at, updated_at`

// CreatePendingTx inserts the first registration row for the pair. A
// concurrent insert for the same pair returns ErrConflict.
func (r *RegistrationRepo) CreatePendingTx(ctx context.Context, tx *sqlx.Tx, reg *model.Registration, now time.Time) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO auction_registrations
		(user_id, auction_id, status, client_notes, created_at, updated_at)
		VALUES (?,?,?,?,?,?)`,
		reg.UserID, reg.AuctionID, model.RegistrationPending, reg.ClientNotes, now, now)
	if err != nil {
		if database.IsDuplicateKey(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	reg.ID, reg.Status, reg.CreatedAt, reg.UpdatedAt = uint64(id), model.RegistrationPending, now, now
	return nil
}

// GetForUserTx loads the registration of a user in an auction, locking it.
func (r *RegistrationRepo) GetForUserTx(ctx context.Context, tx *sqlx.Tx, userID, auctionID uint64) (model.Registration, error) {
	var reg model.Registration
	err := tx.GetContext(ctx, &reg, "SELECT "+registrationColumns+
		" FROM auction_registrations WHERE user_id=? AND auction_id=? LIMIT 1"+r.db.ForUpdate(),
		userID, auctionID)
	return reg, err
}

// GetForUser loads the registration of a user in an auction.
func (r *RegistrationRepo) GetForUser(ctx context.Context, userID, auctionID uint64) (model.Registration, error) {
	var reg model.Registration
	err := r.db.GetContext(ctx, &reg, "SELECT "+registrationColumns+
		" FROM auction_registrations WHERE user_id=? AND auction_id=? LIMIT 1",
		userID, auctionID)
	return reg, err
}

// GetTx loads a registration by id, locking it.
func (r *RegistrationRepo) GetTx(ctx context.Context, tx *sqlx.Tx, id uint64) (model.Registration, error) {
	var reg model.Registration
	err := tx.GetContext(ctx, &reg, "SELECT "+registrationColumns+
		" FROM auction_registrations WHERE id=? LIMIT 1"+r.db.ForUpdate(), id)
	return reg, err
}

// ListByAuction lists registrations of an auction, optionally filtered by status.
func (r *RegistrationRepo) ListByAuction(ctx context.Context, auctionID uint64, status string) ([]model.Registration, error) {
	q := "SELECT " + registrationColumns + " FROM auction_registrations WHERE auction_id=?"
	args := []any{auctionID}
	if status != "" {
		q += " AND status=?"
		args = append(args, status)
	}
	q += " ORDER BY updated_at DESC, id DESC"
	out := []model.Registration{}
	err := r.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

// ListByUser lists every registration of a user.
func (r *RegistrationRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Registration, error) {
	out := []model.Registration{}
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+registrationColumns+" FROM auction_registrations WHERE user_id=? ORDER BY id DESC", userID)
	return out, err
}

// SetStatusTx moves a registration to status. Client notes are replaced only
// when clientNotes is non-nil.
func (r *RegistrationRepo) SetStatusTx(ctx context.Context, tx *sqlx.Tx, reg *model.Registration, status string, clientNotes *string, now time.Time) error {
	notes := reg.ClientNotes
	if clientNotes != nil {
		notes = clientNotes
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE auction_registrations SET status=?, client_notes=?, updated_at=? WHERE id=?",
		status, notes, now, reg.ID); err != nil {
		return err
	}
	reg.Status, reg.ClientNotes, reg.UpdatedAt = status, notes, now
	return nil
}

// DecideTx records an administrator decision and its internal notes.
func (r *RegistrationRepo) DecideTx(ctx context.Context, tx *sqlx.Tx, reg *model.Registration, status string, internalNotes *string, now time.Time) error {
	notes := reg.InternalNotes
	if internalNotes != nil {
		notes = internalNotes
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE auction_registrations SET status=?, internal_notes=?, updated_at=? WHERE id=?",
		status, notes, now, reg.ID); err != nil {
		return err
	}
	reg.Status, reg.InternalNotes, reg.UpdatedAt = status, notes, now
	return nil
}
