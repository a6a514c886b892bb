package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/database"
	"github.com/iliyamo/auction-bidding/internal/model"
)

// BidRepo provides data access to the bids table. Bids are never deleted;
// their status records how they left the race.
type BidRepo struct {
	db *database.DB
}

func NewBidRepo(db *database.DB) *BidRepo { return &BidRepo{db: db} }

const bidColumns = `id, user_id, auction_id, auction_item_id, bid_value, status, is_winner,
	created_at, updated_at`

// CreatePendingTx inserts a pending bid. A second pending bid for the same
// user and auction violates a unique index and comes back as ErrConflict.
func (r *BidRepo) CreatePendingTx(ctx context.Context, tx *sqlx.Tx, b *model.Bid, now time.Time) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO bids
		(user_id, auction_id, auction_item_id, bid_value, status, is_winner, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		b.UserID, b.AuctionID, b.AuctionItemID, b.BidValue, model.BidPending, false, now, now)
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
	b.ID, b.Status, b.IsWinner, b.CreatedAt, b.UpdatedAt = uint64(id), model.BidPending, false, now, now
	return nil
}

// GetByID fetches a bid by id.
func (r *BidRepo) GetByID(ctx context.Context, id uint64) (model.Bid, error) {
	var b model.Bid
	err := r.db.GetContext(ctx, &b, "SELECT "+bidColumns+" FROM bids WHERE id=? LIMIT 1", id)
	return b, err
}

// GetTx fetches a bid inside tx, locking it when lock is set.
func (r *BidRepo) GetTx(ctx context.Context, tx *sqlx.Tx, id uint64, lock bool) (model.Bid, error) {
	q := "SELECT " + bidColumns + " FROM bids WHERE id=? LIMIT 1"
	if lock {
		q += r.db.ForUpdate()
	}
	var b model.Bid
	err := tx.GetContext(ctx, &b, q, id)
	return b, err
}

// HasPendingTx reports whether the user already has a pending bid in the auction.
func (r *BidRepo) HasPendingTx(ctx context.Context, tx *sqlx.Tx, userID, auctionID uint64) (bool, error) {
	var n int
	err := tx.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM bids WHERE user_id=? AND auction_id=? AND status=?",
		userID, auctionID, model.BidPending)
	return n > 0, err
}

// ListByLotTx returns every bid on a lot in submission order, locking them
// when lock is set.
func (r *BidRepo) ListByLotTx(ctx context.Context, tx *sqlx.Tx, lotID uint64, lock bool) ([]model.Bid, error) {
	q := "SELECT " + bidColumns + " FROM bids WHERE auction_item_id=? ORDER BY id"
	if lock {
		q += r.db.ForUpdate()
	}
	out := []model.Bid{}
	err := tx.SelectContext(ctx, &out, q, lotID)
	return out, err
}

// ListByLot returns every bid on a lot in submission order.
func (r *BidRepo) ListByLot(ctx context.Context, lotID uint64) ([]model.Bid, error) {
	out := []model.Bid{}
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+bidColumns+" FROM bids WHERE auction_item_id=? ORDER BY id", lotID)
	return out, err
}

// ListByAuction returns the bids of an auction, newest first. A zero userID
// lists everyone's bids.
func (r *BidRepo) ListByAuction(ctx context.Context, auctionID, userID uint64) ([]model.Bid, error) {
	q := "SELECT " + bidColumns + " FROM bids WHERE auction_id=?"
	args := []any{auctionID}
	if userID != 0 {
		q += " AND user_id=?"
		args = append(args, userID)
	}
	q += " ORDER BY id DESC"
	out := []model.Bid{}
	err := r.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

// ListByUser returns all bids a user placed, newest first.
func (r *BidRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Bid, error) {
	out := []model.Bid{}
	err := r.db.SelectContext(ctx, &out,
		"SELECT "+bidColumns+" FROM bids WHERE user_id=? ORDER BY id DESC", userID)
	return out, err
}

// ApprovedValuesTx returns the values of every approved bid of a user. The
// bid limit guard sums them with decimal arithmetic.
func (r *BidRepo) ApprovedValuesTx(ctx context.Context, tx *sqlx.Tx, userID uint64) ([]decimal.Decimal, error) {
	out := []decimal.Decimal{}
	err := tx.SelectContext(ctx, &out,
		"SELECT bid_value FROM bids WHERE user_id=? AND status=?", userID, model.BidApproved)
	return out, err
}

// SetStatusTx moves a single bid to status.
func (r *BidRepo) SetStatusTx(ctx context.Context, tx *sqlx.Tx, id uint64, status string, now time.Time) error {
	_, err := tx.ExecContext(ctx, "UPDATE bids SET status=?, updated_at=? WHERE id=?", status, now, id)
	return err
}

// MarkWinnerTx approves a bid and flags it as the winner of its lot.
func (r *BidRepo) MarkWinnerTx(ctx context.Context, tx *sqlx.Tx, id uint64, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE bids SET status=?, is_winner=?, updated_at=? WHERE id=?",
		model.BidApproved, true, now, id)
	return err
}

// SupersedeOthersTx marks every bid on the lot except keepID as superseded
// and clears any stale winner flag on them.
func (r *BidRepo) SupersedeOthersTx(ctx context.Context, tx *sqlx.Tx, lotID, keepID uint64, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE bids SET status=?, is_winner=?, updated_at=?
		WHERE auction_item_id=? AND id<>?`,
		model.BidSuperseded, false, now, lotID, keepID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
