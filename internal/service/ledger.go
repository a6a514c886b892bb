package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/database"
	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/realtime"
	"github.com/iliyamo/auction-bidding/internal/repository"
)

// BidRequest is a user's offer on an auction. LotID selects the lot in
// pre-bidding mode; in live mode it may be zero or must name the current lot.
type BidRequest struct {
	UserID    uint64
	AuctionID uint64
	LotID     uint64
	Value     decimal.Decimal
}

// LedgerService validates and records bids, and runs the administrator's
// approve and reject decisions.
type LedgerService struct {
	db       *database.DB
	users    *repository.UserRepo
	auctions *repository.AuctionRepo
	lots     *repository.LotRepo
	bids     *repository.BidRepo
	regs     *repository.RegistrationRepo
	limits   *BidLimitService
	events   realtime.Publisher
	log      *slog.Logger
	now      Clock
}

func NewLedgerService(db *database.DB, users *repository.UserRepo, auctions *repository.AuctionRepo,
	lots *repository.LotRepo, bids *repository.BidRepo, regs *repository.RegistrationRepo,
	limits *BidLimitService, events realtime.Publisher, log *slog.Logger) *LedgerService {
	return &LedgerService{db: db, users: users, auctions: auctions, lots: lots, bids: bids,
		regs: regs, limits: limits, events: events, log: log, now: utcNow}
}

// SetClock replaces the time source.
func (s *LedgerService) SetClock(c Clock) { s.now = c }

// Submit validates req and records it as a pending bid.
func (s *LedgerService) Submit(ctx context.Context, req BidRequest) (model.Bid, error) {
	if req.UserID == 0 {
		return model.Bid{}, newError(CodeNotAuthenticated, "sign in to place a bid")
	}
	if !req.Value.IsPositive() {
		return model.Bid{}, newError(CodeInvalidValue, "bid value must be positive")
	}
	box := &outbox{log: s.log}
	var (
		bid     model.Bid
		refused *model.FailedBidAttempt
	)
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		auction, err := s.auctions.GetTx(ctx, tx, req.AuctionID, false)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("auction")
		}
		if err != nil {
			return err
		}
		if !auction.IsActive() {
			return newError(CodeAuctionInactive, "this auction is not accepting bids")
		}
		reg, err := s.regs.GetForUserTx(ctx, tx, req.UserID, req.AuctionID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err != nil || reg.Status != model.RegistrationApproved {
			return newError(CodeNotEligible, "you are not approved to bid in this auction")
		}
		pending, err := s.bids.HasPendingTx(ctx, tx, req.UserID, req.AuctionID)
		if err != nil {
			return err
		}
		if pending {
			return newError(CodePendingBidExists, "you already have a bid awaiting review in this auction")
		}

		lot, err := s.resolveLot(ctx, tx, auction, req.LotID)
		if err != nil {
			return err
		}
		inc := lot.EffectiveIncrement(auction.BidIncrement)
		minValid := lot.MinValidBid(auction.BidIncrement)

		onLot, err := s.bids.ListByLotTx(ctx, tx, lot.ID, false)
		if err != nil {
			return err
		}
		if top, ok := highestApproved(onLot); ok && !req.Value.GreaterThan(top) {
			return newError(CodeDuplicateValue, "another bid already reached this value").
				withNext(decimal.Max(minValid, top.Add(inc)))
		}
		if req.Value.LessThan(minValid) {
			return newError(CodeValueTooLow, "bid must be at least "+minValid.StringFixed(2)).
				withNext(minValid)
		}

		chk, err := s.limits.check(ctx, tx, req.UserID, req.Value)
		if err != nil {
			return err
		}
		if !chk.Allowed {
			lotID := lot.ID
			refused = &model.FailedBidAttempt{
				UserID:         req.UserID,
				AuctionID:      req.AuctionID,
				AuctionItemID:  &lotID,
				AttemptedValue: req.Value,
				MaxLimit:       chk.MaxLimit,
				Exposure:       chk.Exposure,
				Reason:         string(CodeLimitExceeded),
			}
			return newError(CodeLimitExceeded, "this bid would exceed your bidding limit")
		}

		bid = model.Bid{
			UserID:        req.UserID,
			AuctionID:     req.AuctionID,
			AuctionItemID: lot.ID,
			BidValue:      req.Value,
		}
		if err := s.bids.CreatePendingTx(ctx, tx, &bid, s.now()); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return newError(CodePendingBidExists, "you already have a bid awaiting review in this auction")
			}
			return err
		}
		box.add(realtime.TableBids, realtime.OpInsert, bid.AuctionID, bid.UserID, nil, bid)
		return nil
	})
	if refused != nil {
		s.limits.recordFailure(ctx, *refused)
	}
	if err != nil {
		s.logFailure("bid submission failed", err, req.UserID, req.AuctionID, 0)
		return model.Bid{}, err
	}
	s.log.Info("bid submitted", "bid_id", bid.ID, "user_id", bid.UserID, "auction_id", bid.AuctionID,
		"lot_id", bid.AuctionItemID, "value", bid.BidValue.String())
	box.flush(ctx, s.events)
	return bid, nil
}

// resolveLot picks the lot a bid lands on and locks it. In live mode that is
// the current in-progress lot. With pre-bidding enabled and no lot started
// yet, it is the selected lot, or the first lot still not started.
func (s *LedgerService) resolveLot(ctx context.Context, tx *sqlx.Tx, auction model.Auction, selected uint64) (model.Lot, error) {
	lots, err := s.lots.ListByAuctionTx(ctx, tx, auction.ID, false)
	if err != nil {
		return model.Lot{}, err
	}
	var (
		current    *model.Lot
		inProgress bool
	)
	for i := range lots {
		if lots[i].IsInProgress() {
			inProgress = true
			if lots[i].IsCurrent {
				current = &lots[i]
			}
		}
	}
	var target uint64
	switch {
	case current != nil:
		if !auction.IsLive {
			return model.Lot{}, newError(CodeAuctionInactive, "this auction is not live")
		}
		if selected != 0 && selected != current.ID {
			return model.Lot{}, newError(CodeNoActiveLot, "that lot is not open for bids")
		}
		target = current.ID
	case auction.AllowPreBidding && !inProgress:
		for _, l := range lots {
			if !l.IsNotStarted() {
				continue
			}
			if selected == 0 || selected == l.ID {
				target = l.ID
				break
			}
		}
		if target == 0 {
			return model.Lot{}, newError(CodeNoActiveLot, "that lot is not open for pre-bids")
		}
	default:
		return model.Lot{}, newError(CodeNoActiveLot, "no lot is open for bids right now")
	}
	lot, err := s.lots.GetTx(ctx, tx, target, true)
	if err != nil {
		return model.Lot{}, err
	}
	// Re-check under the row lock; the lot may have moved since the listing.
	if lot.IsFinished() || (current != nil && !lot.IsInProgress()) || (current == nil && !lot.IsNotStarted()) {
		return model.Lot{}, newError(CodeNoActiveLot, "that lot just closed")
	}
	return lot, nil
}

// Approve accepts a pending bid. Approvals follow submission order: a bid
// cannot be approved once a later-submitted bid on the same lot has been.
// Pending bids on the lot that fall below the new minimum are superseded.
func (s *LedgerService) Approve(ctx context.Context, actorID, bidID uint64) (model.Bid, error) {
	box := &outbox{log: s.log}
	var bid model.Bid
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePrivileged(ctx, tx, s.users, s.log, actorID, "approve_bid"); err != nil {
			return err
		}
		var err error
		bid, err = s.bids.GetTx(ctx, tx, bidID, true)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("bid")
		}
		if err != nil {
			return err
		}
		if bid.Status != model.BidPending {
			return newError(CodeInvalidTransition, "only pending bids can be approved")
		}
		lot, err := s.lots.GetTx(ctx, tx, bid.AuctionItemID, true)
		if err != nil {
			return err
		}
		if lot.IsFinished() {
			return newError(CodeInvalidTransition, "the lot of this bid is already finished")
		}
		auction, err := s.auctions.GetTx(ctx, tx, bid.AuctionID, true)
		if err != nil {
			return err
		}
		onLot, err := s.bids.ListByLotTx(ctx, tx, lot.ID, true)
		if err != nil {
			return err
		}
		for _, o := range onLot {
			if o.Status == model.BidApproved && bid.SubmittedBefore(o) {
				return newError(CodeInvalidTransition, "a later bid on this lot was already approved")
			}
		}
		inc := lot.EffectiveIncrement(auction.BidIncrement)
		if minValid := lot.MinValidBid(auction.BidIncrement); bid.BidValue.LessThan(minValid) {
			return newError(CodeValueTooLow, "bid is below the lot's current minimum").withNext(minValid)
		}

		now := s.now()
		old := bid
		if err := s.bids.SetStatusTx(ctx, tx, bid.ID, model.BidApproved, now); err != nil {
			return err
		}
		bid.Status, bid.UpdatedAt = model.BidApproved, now
		box.add(realtime.TableBids, realtime.OpUpdate, bid.AuctionID, bid.UserID, old, bid).Reason = "approved"

		oldLot := lot
		if err := s.lots.SetCurrentValueTx(ctx, tx, lot.ID, bid.BidValue, now); err != nil {
			return err
		}
		lot.CurrentValue, lot.UpdatedAt = bid.BidValue, now
		box.add(realtime.TableLots, realtime.OpUpdate, lot.AuctionID, 0, oldLot, lot)

		oldAuction := auction
		if err := s.auctions.RaiseCurrentBidTx(ctx, tx, &auction, bid.BidValue, now); err != nil {
			return err
		}
		if !auction.CurrentBidValue.Equal(oldAuction.CurrentBidValue) {
			box.add(realtime.TableAuctions, realtime.OpUpdate, auction.ID, 0, oldAuction, auction)
		}

		newMin := bid.BidValue.Add(inc)
		for _, o := range onLot {
			if o.ID == bid.ID || o.Status != model.BidPending || !o.BidValue.LessThan(newMin) {
				continue
			}
			if err := s.bids.SetStatusTx(ctx, tx, o.ID, model.BidSuperseded, now); err != nil {
				return err
			}
			outbid := o
			outbid.Status, outbid.UpdatedAt = model.BidSuperseded, now
			ev := box.add(realtime.TableBids, realtime.OpUpdate, o.AuctionID, o.UserID, o, outbid)
			ev.Reason = "outbid"
			ev.Meta = map[string]string{"next_valid_value": newMin.String()}
		}
		return nil
	})
	if err != nil {
		s.logFailure("bid approval failed", err, 0, bid.AuctionID, bidID)
		return bid, err
	}
	s.log.Info("bid approved", "bid_id", bid.ID, "lot_id", bid.AuctionItemID, "value", bid.BidValue.String(), "actor", actorID)
	box.flush(ctx, s.events)
	return bid, nil
}

// Reject refuses a pending bid.
func (s *LedgerService) Reject(ctx context.Context, actorID, bidID uint64) (model.Bid, error) {
	box := &outbox{log: s.log}
	var bid model.Bid
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePrivileged(ctx, tx, s.users, s.log, actorID, "reject_bid"); err != nil {
			return err
		}
		var err error
		bid, err = s.bids.GetTx(ctx, tx, bidID, true)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("bid")
		}
		if err != nil {
			return err
		}
		if bid.Status != model.BidPending {
			return newError(CodeInvalidTransition, "only pending bids can be rejected")
		}
		now := s.now()
		old := bid
		if err := s.bids.SetStatusTx(ctx, tx, bid.ID, model.BidRejected, now); err != nil {
			return err
		}
		bid.Status, bid.UpdatedAt = model.BidRejected, now
		box.add(realtime.TableBids, realtime.OpUpdate, bid.AuctionID, bid.UserID, old, bid).Reason = "rejected"
		return nil
	})
	if err != nil {
		s.logFailure("bid rejection failed", err, 0, bid.AuctionID, bidID)
		return bid, err
	}
	box.flush(ctx, s.events)
	return bid, nil
}

// ListForAuction lists the bids of an auction; a non-zero userID narrows to
// that user's bids.
func (s *LedgerService) ListForAuction(ctx context.Context, auctionID, userID uint64) ([]model.Bid, error) {
	return s.bids.ListByAuction(ctx, auctionID, userID)
}

// ListForLot lists the bids of a lot in submission order.
func (s *LedgerService) ListForLot(ctx context.Context, lotID uint64) ([]model.Bid, error) {
	return s.bids.ListByLot(ctx, lotID)
}

// ListForUser lists every bid of a user.
func (s *LedgerService) ListForUser(ctx context.Context, userID uint64) ([]model.Bid, error) {
	return s.bids.ListByUser(ctx, userID)
}

// LeadingBid returns the strongest live bid on a lot: highest value, then
// earliest submission.
func (s *LedgerService) LeadingBid(ctx context.Context, lotID uint64) (model.Bid, error) {
	bids, err := s.bids.ListByLot(ctx, lotID)
	if err != nil {
		return model.Bid{}, err
	}
	live := bids[:0]
	for _, b := range bids {
		if b.IsLive() {
			live = append(live, b)
		}
	}
	lead, ok := model.Leading(live)
	if !ok {
		return model.Bid{}, notFound("bid")
	}
	return lead, nil
}

func (s *LedgerService) logFailure(msg string, err error, userID, auctionID, bidID uint64) {
	if de, ok := AsError(err); ok {
		s.log.Info(msg, "code", de.Code, "user_id", userID, "auction_id", auctionID, "bid_id", bidID)
		return
	}
	s.log.Error(msg, "err", err, "user_id", userID, "auction_id", auctionID, "bid_id", bidID)
}

func highestApproved(bids []model.Bid) (decimal.Decimal, bool) {
	var (
		top   decimal.Decimal
		found bool
	)
	for _, b := range bids {
		if b.Status != model.BidApproved {
			continue
		}
		if !found || b.BidValue.GreaterThan(top) {
			top, found = b.BidValue, true
		}
	}
	return top, found
}
