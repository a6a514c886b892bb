package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidLimit caps a user's cumulative approved-bid exposure.
type BidLimit struct {
	UserID      uint64          `db:"user_id" json:"user_id"`
	MaxLimit    decimal.Decimal `db:"max_limit" json:"max_limit"`
	IsUnlimited bool            `db:"is_unlimited" json:"is_unlimited"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Limit increase request statuses.
const (
	LimitRequestPending  = "pending"
	LimitRequestApproved = "approved"
	LimitRequestRejected = "rejected"
)

// LimitIncreaseRequest asks an administrator to raise a user's BidLimit.
type LimitIncreaseRequest struct {
	ID             uint64          `db:"id" json:"id"`
	UserID         uint64          `db:"user_id" json:"user_id"`
	CurrentLimit   decimal.Decimal `db:"current_limit" json:"current_limit"`
	RequestedLimit decimal.Decimal `db:"requested_limit" json:"requested_limit"`
	Reason         *string         `db:"reason" json:"reason,omitempty"`
	Status         string          `db:"status" json:"status"`
	ReviewedBy     *uint64         `db:"reviewed_by" json:"reviewed_by,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// FailedBidAttempt records a bid refused by the limit guard, for admin review.
type FailedBidAttempt struct {
	ID             uint64          `db:"id" json:"id"`
	UserID         uint64          `db:"user_id" json:"user_id"`
	AuctionID      uint64          `db:"auction_id" json:"auction_id"`
	AuctionItemID  *uint64         `db:"auction_item_id" json:"auction_item_id,omitempty"`
	AttemptedValue decimal.Decimal `db:"attempted_value" json:"attempted_value"`
	MaxLimit       decimal.Decimal `db:"max_limit" json:"max_limit"`
	Exposure       decimal.Decimal `db:"exposure" json:"exposure"`
	Reason         string          `db:"reason" json:"reason"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}
