package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot statuses. A lot only moves forward:
// not_started -> in_progress -> finished.
const (
	LotNotStarted = "not_started"
	LotInProgress = "in_progress"
	LotFinished   = "finished"
)

// Lot is one sequential item of an auction (table `auction_items`).
type Lot struct {
	ID           uint64              `db:"id" json:"id"`
	AuctionID    uint64              `db:"auction_id" json:"auction_id"`
	Name         string              `db:"name" json:"name"`
	Description  *string             `db:"description" json:"description,omitempty"`
	ImageURL     *string             `db:"image_url" json:"image_url,omitempty"`
	OrderIndex   int                 `db:"order_index" json:"order_index"`
	Status       string              `db:"status" json:"status"`
	IsCurrent    bool                `db:"is_current" json:"is_current"`
	InitialValue decimal.Decimal     `db:"initial_value" json:"initial_value"`
	CurrentValue decimal.Decimal     `db:"current_value" json:"current_value"`
	Increment    decimal.NullDecimal `db:"increment" json:"increment"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time           `db:"updated_at" json:"updated_at"`
}

// EffectiveIncrement returns the lot override when set, else the auction default.
func (l Lot) EffectiveIncrement(auctionDefault decimal.Decimal) decimal.Decimal {
	if l.Increment.Valid && l.Increment.Decimal.IsPositive() {
		return l.Increment.Decimal
	}
	return auctionDefault
}

// MinValidBid is the smallest value a new bid on this lot may carry.
func (l Lot) MinValidBid(auctionDefault decimal.Decimal) decimal.Decimal {
	return l.CurrentValue.Add(l.EffectiveIncrement(auctionDefault))
}

func (l Lot) IsFinished() bool   { return l.Status == LotFinished }
func (l Lot) IsInProgress() bool { return l.Status == LotInProgress }
func (l Lot) IsNotStarted() bool { return l.Status == LotNotStarted }
