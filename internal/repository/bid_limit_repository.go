package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/database"
	"github.com/iliyamo/auction-bidding/internal/model"
)

// BidLimitRepo covers bid_limits, limit_increase_requests and
// failed_bid_attempts.
type BidLimitRepo struct {
	db *database.DB
}

func NewBidLimitRepo(db *database.DB) *BidLimitRepo { return &BidLimitRepo{db: db} }

const (
	limitColumns   = "user_id, max_limit, is_unlimited, updated_at"
	requestColumns = `id, user_id, current_limit, requested_limit, reason, status, reviewed_by,
	created_at, updated_at`
	attemptColumns = `id, user_id, auction_id, auction_item_id, attempted_value, max_limit,
	exposure, reason, created_at`
)

// Get returns a user's limit, or sql.ErrNoRows when none was configured.
func (r *BidLimitRepo) Get(ctx context.Context, userID uint64) (model.BidLimit, error) {
	var l model.BidLimit
	err := r.db.GetContext(ctx, &l, "SELECT "+limitColumns+" FROM bid_limits WHERE user_id=?", userID)
	return l, err
}

// GetTx is Get inside tx, locking the row.
func (r *BidLimitRepo) GetTx(ctx context.Context, tx *sqlx.Tx, userID uint64) (model.BidLimit, error) {
	var l model.BidLimit
	err := tx.GetContext(ctx, &l,
		"SELECT "+limitColumns+" FROM bid_limits WHERE user_id=?"+r.db.ForUpdate(), userID)
	return l, err
}

// UpsertTx writes a user's limit.
func (r *BidLimitRepo) UpsertTx(ctx context.Context, tx *sqlx.Tx, l model.BidLimit) error {
	q := `INSERT INTO bid_limits (user_id, max_limit, is_unlimited, updated_at) VALUES (?,?,?,?)
		ON DUPLICATE KEY UPDATE max_limit=VALUES(max_limit), is_unlimited=VALUES(is_unlimited),
		updated_at=VALUES(updated_at)`
	if r.db.Dialect == database.SQLite {
		q = `INSERT INTO bid_limits (user_id, max_limit, is_unlimited, updated_at) VALUES (?,?,?,?)
		ON CONFLICT(user_id) DO UPDATE SET max_limit=excluded.max_limit,
		is_unlimited=excluded.is_unlimited, updated_at=excluded.updated_at`
	}
	_, err := tx.ExecContext(ctx, q, l.UserID, l.MaxLimit, l.IsUnlimited, l.UpdatedAt)
	return err
}

// CreateRequest files a limit increase request.
func (r *BidLimitRepo) CreateRequest(ctx context.Context, req *model.LimitIncreaseRequest) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `INSERT INTO limit_increase_requests
		(user_id, current_limit, requested_limit, reason, status, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)`,
		req.UserID, req.CurrentLimit, req.RequestedLimit, req.Reason, model.LimitRequestPending, now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	req.ID, req.Status, req.CreatedAt, req.UpdatedAt = uint64(id), model.LimitRequestPending, now, now
	return nil
}

// HasPendingRequest reports whether the user has an undecided request.
func (r *BidLimitRepo) HasPendingRequest(ctx context.Context, userID uint64) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM limit_increase_requests WHERE user_id=? AND status=?",
		userID, model.LimitRequestPending)
	return n > 0, err
}

// GetRequestTx loads a request by id, locking it.
func (r *BidLimitRepo) GetRequestTx(ctx context.Context, tx *sqlx.Tx, id uint64) (model.LimitIncreaseRequest, error) {
	var req model.LimitIncreaseRequest
	err := tx.GetContext(ctx, &req,
		"SELECT "+requestColumns+" FROM limit_increase_requests WHERE id=?"+r.db.ForUpdate(), id)
	return req, err
}

// DecideRequestTx stores the decision on a request.
func (r *BidLimitRepo) DecideRequestTx(ctx context.Context, tx *sqlx.Tx, id uint64, status string, reviewer uint64, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE limit_increase_requests SET status=?, reviewed_by=?, updated_at=? WHERE id=?",
		status, reviewer, now, id)
	return err
}

// ListRequests lists requests newest first. Zero userID and empty status
// mean no filter.
func (r *BidLimitRepo) ListRequests(ctx context.Context, userID uint64, status string) ([]model.LimitIncreaseRequest, error) {
	q := "SELECT " + requestColumns + " FROM limit_increase_requests WHERE 1=1"
	var args []any
	if userID != 0 {
		q += " AND user_id=?"
		args = append(args, userID)
	}
	if status != "" {
		q += " AND status=?"
		args = append(args, status)
	}
	q += " ORDER BY id DESC"
	out := []model.LimitIncreaseRequest{}
	err := r.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

// RecordFailedAttempt stores a bid refused by the limit guard.
func (r *BidLimitRepo) RecordFailedAttempt(ctx context.Context, a *model.FailedBidAttempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO failed_bid_attempts
		(user_id, auction_id, auction_item_id, attempted_value, max_limit, exposure, reason, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		a.UserID, a.AuctionID, a.AuctionItemID, a.AttemptedValue, a.MaxLimit, a.Exposure, a.Reason, a.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	return nil
}

// ListFailedAttempts lists refused bids newest first; zero userID lists all.
func (r *BidLimitRepo) ListFailedAttempts(ctx context.Context, userID uint64) ([]model.FailedBidAttempt, error) {
	q := "SELECT " + attemptColumns + " FROM failed_bid_attempts"
	var args []any
	if userID != 0 {
		q += " WHERE user_id=?"
		args = append(args, userID)
	}
	q += " ORDER BY id DESC"
	out := []model.FailedBidAttempt{}
	err := r.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

// Exposure sums values with decimal arithmetic.
func Exposure(values []decimal.Decimal) decimal.Decimal {
	return decimal.Sum(decimal.Zero, values...)
}
