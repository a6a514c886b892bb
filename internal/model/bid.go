package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid statuses. Superseded marks bids that were outbid on approval of a
// higher bid, or that lost when the lot's winner was declared.
const (
	BidPending    = "pending"
	BidApproved   = "approved"
	BidRejected   = "rejected"
	BidSuperseded = "superseded"
)

// Bid represents a row in the `bids` table. Bids are never hard-deleted.
type Bid struct {
	ID            uint64          `db:"id" json:"id"`
	UserID        uint64          `db:"user_id" json:"user_id"`
	AuctionID     uint64          `db:"auction_id" json:"auction_id"`
	AuctionItemID uint64          `db:"auction_item_id" json:"auction_item_id"`
	BidValue      decimal.Decimal `db:"bid_value" json:"bid_value"`
	Status        string          `db:"status" json:"status"`
	IsWinner      bool            `db:"is_winner" json:"is_winner"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// IsLive reports whether the bid still competes for its lot.
func (b Bid) IsLive() bool { return b.Status == BidPending || b.Status == BidApproved }

// SubmittedBefore orders bids by submission: created_at first, id as the
// tie-breaker for equal timestamps.
func (b Bid) SubmittedBefore(o Bid) bool {
	if !b.CreatedAt.Equal(o.CreatedAt) {
		return b.CreatedAt.Before(o.CreatedAt)
	}
	return b.ID < o.ID
}

// Leading returns the strongest bid of bids: highest value, then the earliest
// submission. ok is false when bids is empty.
func Leading(bids []Bid) (lead Bid, ok bool) {
	for _, b := range bids {
		if !ok {
			lead, ok = b, true
			continue
		}
		switch b.BidValue.Cmp(lead.BidValue) {
		case 1:
			lead = b
		case 0:
			if b.SubmittedBefore(lead) {
				lead = b
			}
		}
	}
	return lead, ok
}
