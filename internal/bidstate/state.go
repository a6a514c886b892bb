// Package bidstate derives what a bidder sees for one auction: which state
// they are in, which action is offered and what the next bid should be. It
// is pure; callers gather the inputs from the server or from a client cache.
package bidstate

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/model"
)

// State is the user-facing bidding state.
type State string

const (
	NotRegistered        State = "not_registered"
	RegistrationPending  State = "registration_pending"
	RegistrationRejected State = "registration_rejected"
	CanBid               State = "can_bid"
	BidPending           State = "bid_pending"
	AuctionInactive      State = "auction_inactive"
	NoActiveLot          State = "no_active_lot"
	LotFinished          State = "lot_finished"
	IsWinner             State = "is_winner"
	Lost                 State = "lost"
)

// Action is the control the UI renders for a state.
type Action string

const (
	ActionRequestRegistration Action = "request_registration"
	ActionPlaceBid            Action = "place_bid"
	ActionDisabled            Action = "disabled"
	ActionWinnerBanner        Action = "winner_banner"
)

// Input is everything Derive looks at. UserBids holds only the viewing
// user's bids in the auction. Registration is nil when none exists.
type Input struct {
	Auction       model.Auction
	Lots          []model.Lot
	Registration  *model.Registration
	UserBids      []model.Bid
	SelectedLotID uint64
	Now           time.Time
}

// View is the derived state.
type View struct {
	State        State            `json:"state"`
	Action       Action           `json:"action"`
	Message      string           `json:"message"`
	AuctionID    uint64           `json:"auction_id"`
	PreBidding   bool             `json:"pre_bidding"`
	Lot          *model.Lot       `json:"lot,omitempty"`
	Increment    decimal.Decimal  `json:"increment"`
	MinValidBid  decimal.Decimal  `json:"min_valid_bid"`
	SuggestedBid *decimal.Decimal `json:"suggested_bid,omitempty"`
	PendingBid   *model.Bid       `json:"pending_bid,omitempty"`
	WinningBid   *model.Bid       `json:"winning_bid,omitempty"`
	RetryAt      *time.Time       `json:"retry_at,omitempty"`
}

// Derive computes the view. Checks run in a fixed order and the first match
// wins: auction status, registration, live or pre-bidding window, focus lot,
// the lot's outcome, then the user's pending bid.
func Derive(in Input) View {
	v := View{AuctionID: in.Auction.ID}
	if !in.Auction.IsActive() {
		return v.set(AuctionInactive, ActionDisabled, "This auction is closed.")
	}

	switch reg := in.Registration; {
	case reg == nil || reg.Status == model.RegistrationCanceled:
		return v.set(NotRegistered, ActionRequestRegistration, "Request registration to bid in this auction.")
	case reg.Status == model.RegistrationPending:
		return v.set(RegistrationPending, ActionDisabled, "Your registration is awaiting review.")
	case reg.Status == model.RegistrationRejected:
		until := reg.CooldownEnds(in.Auction.RegistrationWait())
		if in.Now.Before(until) {
			v.RetryAt = &until
			return v.set(RegistrationRejected, ActionDisabled, "Your registration was rejected. You can request again later.")
		}
		return v.set(RegistrationRejected, ActionRequestRegistration, "Your registration was rejected. You may request again.")
	}

	v.PreBidding = PreBiddingOpen(in.Auction, in.Lots)
	if !in.Auction.IsLive && !v.PreBidding {
		return v.set(AuctionInactive, ActionDisabled, "Bidding has not opened for this auction.")
	}

	lot, ok := FocusLot(in.Auction, in.Lots, in.SelectedLotID)
	if !ok {
		return v.set(NoActiveLot, ActionDisabled, "No lot is open for bids right now.")
	}
	v.Lot = &lot
	v.Increment = lot.EffectiveIncrement(in.Auction.BidIncrement)
	v.MinValidBid = lot.MinValidBid(in.Auction.BidIncrement)

	if lot.IsFinished() {
		var bidOnLot bool
		for i, b := range in.UserBids {
			if b.AuctionItemID != lot.ID {
				continue
			}
			bidOnLot = true
			if b.IsWinner {
				v.WinningBid = &in.UserBids[i]
				return v.set(IsWinner, ActionWinnerBanner, "You won this lot.")
			}
		}
		if bidOnLot {
			return v.set(Lost, ActionDisabled, "This lot went to another bidder.")
		}
		return v.set(LotFinished, ActionDisabled, "This lot has closed.")
	}

	for i, b := range in.UserBids {
		if b.Status == model.BidPending {
			v.PendingBid = &in.UserBids[i]
			return v.set(BidPending, ActionDisabled, "Your bid is awaiting review.")
		}
	}
	suggested := v.MinValidBid
	v.SuggestedBid = &suggested
	return v.set(CanBid, ActionPlaceBid, "Place your bid.")
}

func (v View) set(s State, a Action, msg string) View {
	v.State, v.Action, v.Message = s, a, msg
	return v
}

// PreBiddingOpen reports whether the auction takes bids on lots that have
// not started yet: pre-bidding is allowed, no lot is in progress and at
// least one lot is still waiting.
func PreBiddingOpen(a model.Auction, lots []model.Lot) bool {
	if !a.AllowPreBidding {
		return false
	}
	var waiting bool
	for _, l := range lots {
		if l.IsInProgress() {
			return false
		}
		if l.IsNotStarted() {
			waiting = true
		}
	}
	return waiting
}

// FocusLot picks the lot the bidder is looking at: the current lot, else in
// pre-bidding the selected (or first) lot not yet started, else the most
// recently finished lot. lots must be in order_index order.
func FocusLot(a model.Auction, lots []model.Lot, selected uint64) (model.Lot, bool) {
	for _, l := range lots {
		if l.IsCurrent && l.IsInProgress() {
			return l, true
		}
	}
	if PreBiddingOpen(a, lots) {
		var first *model.Lot
		for i, l := range lots {
			if !l.IsNotStarted() {
				continue
			}
			if l.ID == selected {
				return l, true
			}
			if first == nil {
				first = &lots[i]
			}
		}
		if first != nil {
			return *first, true
		}
	}
	for i := len(lots) - 1; i >= 0; i-- {
		if lots[i].IsFinished() {
			return lots[i], true
		}
	}
	return model.Lot{}, false
}
