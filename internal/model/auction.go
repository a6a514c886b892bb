package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Auction types.
const (
	AuctionTypeRural    = "rural"
	AuctionTypeJudicial = "judicial"
)

// Auction statuses.
const (
	AuctionActive   = "active"
	AuctionInactive = "inactive"
)

// Units for the re-registration cooldown.
const (
	WaitMinutes = "minutes"
	WaitHours   = "hours"
	WaitDays    = "days"
)

// Auction represents a row in the `auctions` table.
//
// CurrentBidValue only ever moves up: bid approval and lot finalization raise
// it to the highest approved value seen and never lower it.
type Auction struct {
	ID                    uint64          `db:"id" json:"id"`
	Name                  string          `db:"name" json:"name"`
	Type                  string          `db:"type" json:"type"`
	Status                string          `db:"status" json:"status"`
	IsLive                bool            `db:"is_live" json:"is_live"`
	InitialBidValue       decimal.Decimal `db:"initial_bid_value" json:"initial_bid_value"`
	CurrentBidValue       decimal.Decimal `db:"current_bid_value" json:"current_bid_value"`
	BidIncrement          decimal.Decimal `db:"bid_increment" json:"bid_increment"`
	StartDate             *time.Time      `db:"start_date" json:"start_date,omitempty"`
	EndDate               *time.Time      `db:"end_date" json:"end_date,omitempty"`
	AllowPreBidding       bool            `db:"allow_pre_bidding" json:"allow_pre_bidding"`
	RegistrationWaitValue int             `db:"registration_wait_value" json:"registration_wait_value"`
	RegistrationWaitUnit  string          `db:"registration_wait_unit" json:"registration_wait_unit"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the auction accepts any activity at all.
func (a Auction) IsActive() bool { return a.Status == AuctionActive }

// RegistrationWait converts the configured cooldown into a duration. Unknown
// units fall back to minutes; a zero or negative value means no cooldown.
func (a Auction) RegistrationWait() time.Duration {
	if a.RegistrationWaitValue <= 0 {
		return 0
	}
	n := time.Duration(a.RegistrationWaitValue)
	switch a.RegistrationWaitUnit {
	case WaitHours:
		return n * time.Hour
	case WaitDays:
		return n * 24 * time.Hour
	default:
		return n * time.Minute
	}
}

// ValidAuctionType reports whether t is a known auction type.
func ValidAuctionType(t string) bool {
	return t == AuctionTypeRural || t == AuctionTypeJudicial
}

// ValidWaitUnit reports whether u is a known cooldown unit.
func ValidWaitUnit(u string) bool {
	return u == WaitMinutes || u == WaitHours || u == WaitDays
}
