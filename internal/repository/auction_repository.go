package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/database"
	"github.com/iliyamo/auction-bidding/internal/model"
)

// AuctionRepo provides data access to the auctions table.
type AuctionRepo struct {
	db *database.DB
}

func NewAuctionRepo(db *database.DB) *AuctionRepo { return &AuctionRepo{db: db} }

// DB exposes the underlying handle so services can open transactions.
func (r *AuctionRepo) DB() *database.DB { return r.db }

const auctionColumns = `id, name, type, status, is_live, initial_bid_value, current_bid_value,
	bid_increment, start_date, end_date, allow_pre_bidding, registration_wait_value,
	registration_wait_unit, created_at, updated_at`

// CreateTx inserts a new auction. CurrentBidValue starts at InitialBidValue
// when lower. ID, CreatedAt and UpdatedAt are filled in on a.
func (r *AuctionRepo) CreateTx(ctx context.Context, tx *sqlx.Tx, a *model.Auction, now time.Time) error {
	if a.CurrentBidValue.LessThan(a.InitialBidValue) {
		a.CurrentBidValue = a.InitialBidValue
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO auctions
		(name, type, status, is_live, initial_bid_value, current_bid_value, bid_increment,
		 start_date, end_date, allow_pre_bidding, registration_wait_value, registration_wait_unit,
		 created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.Name, a.Type, a.Status, a.IsLive, a.InitialBidValue, a.CurrentBidValue, a.BidIncrement,
		a.StartDate, a.EndDate, a.AllowPreBidding, a.RegistrationWaitValue, a.RegistrationWaitUnit,
		now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID, a.CreatedAt, a.UpdatedAt = uint64(id), now, now
	return nil
}

// UpdateTx writes the mutable auction fields. CurrentBidValue is left
// alone; only RaiseCurrentBidTx moves it.
func (r *AuctionRepo) UpdateTx(ctx context.Context, tx *sqlx.Tx, a *model.Auction, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE auctions SET
		name=?, type=?, status=?, is_live=?, initial_bid_value=?, bid_increment=?,
		start_date=?, end_date=?, allow_pre_bidding=?, registration_wait_value=?,
		registration_wait_unit=?, updated_at=?
		WHERE id=?`,
		a.Name, a.Type, a.Status, a.IsLive, a.InitialBidValue, a.BidIncrement,
		a.StartDate, a.EndDate, a.AllowPreBidding, a.RegistrationWaitValue,
		a.RegistrationWaitUnit, now, a.ID)
	if err == nil {
		a.UpdatedAt = now
	}
	return err
}

// GetByID fetches an auction by id.
func (r *AuctionRepo) GetByID(ctx context.Context, id uint64) (model.Auction, error) {
	var a model.Auction
	err := r.db.GetContext(ctx, &a, "SELECT "+auctionColumns+" FROM auctions WHERE id=? LIMIT 1", id)
	return a, err
}

// GetTx fetches an auction inside tx, locking the row when lock is set.
func (r *AuctionRepo) GetTx(ctx context.Context, tx *sqlx.Tx, id uint64, lock bool) (model.Auction, error) {
	q := "SELECT " + auctionColumns + " FROM auctions WHERE id=? LIMIT 1"
	if lock {
		q += r.db.ForUpdate()
	}
	var a model.Auction
	err := tx.GetContext(ctx, &a, q, id)
	return a, err
}

// List returns auctions newest first. An empty status
// lists every auction.
func (r *AuctionRepo) List(ctx context.Context, status string) ([]model.Auction, error) {
	q := "SELECT " + auctionColumns + " FROM auctions"
	var args []any
	if status != "" {
		q += " WHERE status=?"
		args = append(args, status)
	}
	q += " ORDER BY id DESC"
	out := []model.Auction{}
	err := r.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

// RaiseCurrentBidTx sets current_bid_value to v when v is higher than the
// stored value. The auction row must already be locked by the caller.
func (r *AuctionRepo) RaiseCurrentBidTx(ctx context.Context, tx *sqlx.Tx, a *model.Auction, v decimal.Decimal, now time.Time) error {
	if !v.GreaterThan(a.CurrentBidValue) {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE auctions SET current_bid_value=?, updated_at=? WHERE id=?", v, now, a.ID); err != nil {
		return err
	}
	a.CurrentBidValue, a.UpdatedAt = v, now
	return nil
}
