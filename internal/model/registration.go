package model

import "time"

// Registration statuses.
const (
	RegistrationPending  = "pending"
	RegistrationApproved = "approved"
	RegistrationRejected = "rejected"
	RegistrationCanceled = "canceled"
)

// Registration is a user's eligibility to bid in one auction
// (table `auction_registrations`, unique per user and auction).
type Registration struct {
	ID            uint64    `db:"id" json:"id"`
	UserID        uint64    `db:"user_id" json:"user_id"`
	AuctionID     uint64    `db:"auction_id" json:"auction_id"`
	Status        string    `db:"status" json:"status"`
	ClientNotes   *string   `db:"client_notes" json:"client_notes,omitempty"`
	InternalNotes *string   `db:"internal_notes" json:"internal_notes,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// CooldownEnds returns when a rejected registration may be re-requested.
// For any other status it returns the zero time.
func (r Registration) CooldownEnds(wait time.Duration) time.Time {
	if r.Status != RegistrationRejected || wait <= 0 {
		return time.Time{}
	}
	return r.UpdatedAt.Add(wait)
}
