package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/database"
	"github.com/iliyamo/auction-bidding/internal/model"
)

// LotRepo provides data access to the auction_items table. Methods with a
// Tx suffix run inside a caller-owned transaction; the caller commits or
// rolls back.
type LotRepo struct {
	db *database.DB
}

func NewLotRepo(db *database.DB) *LotRepo { return &LotRepo{db: db} }

const lotColumns = `id, auction_id, name, description, image_url, order_index, status,
	is_current, initial_value, current_value, increment, created_at, updated_at`

// CreateTx inserts a lot in status not_started. CurrentValue starts at
// InitialValue. A taken order_index yields ErrConflict.
func (r *LotRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, l *model.Lot, now time.Time) error {
	l.Status = model.LotNotStarted
	l.IsCurrent = false
	l.CurrentValue = l.InitialValue
	res, err := tx.ExecContext(ctx, `INSERT INTO auction_items
		(auction_id, name, description, image_url, order_index, status, is_current,
		 initial_value, current_value, increment, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.AuctionID, l.Name, l.Description, l.ImageURL, l.OrderIndex, l.Status, l.IsCurrent,
		l.InitialValue, l.CurrentValue, l.Increment, now, now)
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
	l.ID, l.CreatedAt, l.UpdatedAt = uint64(id), now, now
	return nil
}

// UpdateDetailsTx writes the descriptive fields of a lot. Status, values and
// is_current belong to the progression engine and are not touched here.
func (r *LotRepo) UpdateDetailsTx(ctx context.Context, tx *sqlx.Tx, l *model.Lot, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE auction_items SET
		name=?, description=?, order_index=?, increment=?, updated_at=?
		WHERE id=?`,
		l.Name, l.Description, l.OrderIndex, l.Increment, now, l.ID)
	if err != nil {
		if database.IsDuplicateKey(err) {
			return ErrConflict
		}
		return err
	}
	l.UpdatedAt = now
	return nil
}

// SetImageURLTx stores (or clears, with nil) the lot's image location.
func (r *LotRepo) SetImageURLTx(ctx context.Context, tx *sqlx.Tx, id uint64, url *string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE auction_items SET image_url=?, updated_at=? WHERE id=?", url, now, id)
	return err
}

// GetByID fetches a lot by id.
func (r *LotRepo) GetByID(ctx context.Context, id uint64) (model.Lot, error) {
	var l model.Lot
	err := r.db.GetContext(ctx, &l, "SELECT "+lotColumns+" FROM auction_items WHERE id=? LIMIT 1", id)
	return l, err
}

// GetTx fetches a lot inside tx, locking it when lock is set.
func (r *LotRepo) GetTx(ctx context.Context, tx *sqlx.Tx, id uint64, lock bool) (model.Lot, error) {
	q := "SELECT " + lotColumns + " FROM auction_items WHERE id=? LIMIT 1"
	if lock {
		q += r.db.ForUpdate()
	}
	var l model.Lot
	err := tx.GetContext(ctx, &l, q, id)
	return l, err
}

// ListByAuction returns the lots of an auction in order_index order.
func (r *LotRepo) ListByAuction(ctx context.Context, auctionID uint64) ([]model.Lot, error) {
	out := []model.Lot{}
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+lotColumns+" FROM auction_items WHERE auction_id=? ORDER BY order_index, id", auctionID)
	return out, err
}

// ListByAuctionTx is ListByAuction inside tx, locking every returned row when
// lock is set.
func (r *LotRepo) ListByAuctionTx(ctx context.Context, tx *sqlx.Tx, auctionID uint64, lock bool) ([]model.Lot, error) {
	q := "SELECT " + lotColumns + " FROM auction_items WHERE auction_id=? ORDER BY order_index, id"
	if lock {
		q += r.db.ForUpdate()
	}
	out := []model.Lot{}
	err := tx.SelectContext(ctx, &out, q, auctionID)
	return out, err
}

// NextNotStartedTx returns the lowest order_index lot of the auction that is
// still not_started. It returns sql.ErrNoRows when every lot has begun.
func (r *LotRepo) NextNotStartedTx(ctx context.Context, tx *sqlx.Tx, auctionID uint64) (model.Lot, error) {
	var l model.Lot
	err := tx.GetContext(ctx, &l, "SELECT "+lotColumns+` FROM auction_items
		WHERE auction_id=? AND status=? ORDER BY order_index, id LIMIT 1`,
		auctionID, model.LotNotStarted)
	return l, err
}

// FinishTx closes a lot at its final value and drops the current flag.
func (r *LotRepo) FinishTx(ctx context.Context, tx *sqlx.Tx, id uint64, finalValue decimal.Decimal, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE auction_items
		SET status=?, is_current=?, current_value=?, updated_at=? WHERE id=?`,
		model.LotFinished, false, finalValue, now, id)
	return err
}

// StartTx makes lotID the single current in-progress lot of its auction.
// Every other lot of the auction loses the current flag in the same tx.
func (r *LotRepo) StartTx(ctx context.Context, tx *sqlx.Tx, auctionID, lotID uint64, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `UPDATE auction_items SET is_current=?, updated_at=?
		WHERE auction_id=? AND id<>? AND is_current=?`,
		false, now, auctionID, lotID, true); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE auction_items SET status=?, is_current=?, updated_at=?
		WHERE id=? AND auction_id=?`,
		model.LotInProgress, true, now, lotID, auctionID)
	return err
}

// SetCurrentValueTx moves the lot's current value after a bid approval.
func (r *LotRepo) SetCurrentValueTx(ctx context.Context, tx *sqlx.Tx, id uint64, v decimal.Decimal, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE auction_items SET current_value=?, updated_at=? WHERE id=?", v, now, id)
	return err
}
