package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/database"
	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/realtime"
	"github.com/iliyamo/auction-bidding/internal/repository"
)

// FinalizeResult reports what SetWinnerAndFinalizeLot did.
type FinalizeResult struct {
	LotID            uint64          `json:"lot_id"`
	AuctionID        uint64          `json:"auction_id"`
	WinnerBidID      uint64          `json:"winner_bid_id"`
	WinnerUserID     uint64          `json:"winner_user_id"`
	FinalValue       decimal.Decimal `json:"final_value"`
	Superseded       int64           `json:"superseded"`
	NextLotAvailable bool            `json:"next_lot_available"`
	NextLotID        *uint64         `json:"next_lot_id"`
	NextLotStarted   bool            `json:"next_lot_started"`
}

// ProgressionService is the only writer of winner and lot state. It moves
// lots through not_started -> in_progress -> finished, each step in a single
// transaction guarded by a role check against stored user data.
type ProgressionService struct {
	db       *database.DB
	users    *repository.UserRepo
	auctions *repository.AuctionRepo
	lots     *repository.LotRepo
	bids     *repository.BidRepo
	events   realtime.Publisher
	log      *slog.Logger
	now      Clock
}

func NewProgressionService(db *database.DB, users *repository.UserRepo, auctions *repository.AuctionRepo,
	lots *repository.LotRepo, bids *repository.BidRepo, events realtime.Publisher, log *slog.Logger) *ProgressionService {
	return &ProgressionService{db: db, users: users, auctions: auctions, lots: lots, bids: bids,
		events: events, log: log, now: utcNow}
}

// SetClock replaces the time source.
func (s *ProgressionService) SetClock(c Clock) { s.now = c }

// SetWinnerAndFinalizeLot declares bidID the winner of its lot and closes
// the lot. Every other bid on the lot is superseded. The lowest not_started
// lot of the auction is reported as next; with autoStartNext it is also
// started in the same transaction.
//
// When bids tie on value the first submitted one wins; choosing a later bid
// of equal value fails with TIE_BREAK_VIOLATION.
func (s *ProgressionService) SetWinnerAndFinalizeLot(ctx context.Context, actorID, bidID uint64, autoStartNext bool) (FinalizeResult, error) {
	box := &outbox{log: s.log}
	var res FinalizeResult
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePrivileged(ctx, tx, s.users, s.log, actorID, "finalize_lot"); err != nil {
			return err
		}
		winner, err := s.bids.GetTx(ctx, tx, bidID, true)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("bid")
		}
		if err != nil {
			return err
		}
		lot, err := s.lots.GetTx(ctx, tx, winner.AuctionItemID, true)
		if err != nil {
			return err
		}
		if !lot.IsInProgress() {
			return newError(CodeLotNotInProgress, "this lot is not in progress")
		}
		if !winner.IsLive() {
			return newError(CodeInvalidTransition, "a "+winner.Status+" bid cannot win")
		}
		auction, err := s.auctions.GetTx(ctx, tx, lot.AuctionID, true)
		if err != nil {
			return err
		}
		onLot, err := s.bids.ListByLotTx(ctx, tx, lot.ID, true)
		if err != nil {
			return err
		}
		for _, o := range onLot {
			if o.ID != winner.ID && o.IsLive() && o.BidValue.Equal(winner.BidValue) && o.SubmittedBefore(winner) {
				return newError(CodeTieBreak, "bid "+strconv.FormatUint(o.ID, 10)+
					" offered the same value first and takes precedence")
			}
		}

		now := s.now()
		oldWinner := winner
		if err := s.bids.MarkWinnerTx(ctx, tx, winner.ID, now); err != nil {
			return err
		}
		winner.Status, winner.IsWinner, winner.UpdatedAt = model.BidApproved, true, now
		box.add(realtime.TableBids, realtime.OpUpdate, winner.AuctionID, winner.UserID, oldWinner, winner).Reason = "winner"

		n, err := s.bids.SupersedeOthersTx(ctx, tx, lot.ID, winner.ID, now)
		if err != nil {
			return err
		}
		for _, o := range onLot {
			if o.ID == winner.ID || o.Status == model.BidSuperseded {
				continue
			}
			lost := o
			lost.Status, lost.IsWinner, lost.UpdatedAt = model.BidSuperseded, false, now
			box.add(realtime.TableBids, realtime.OpUpdate, o.AuctionID, o.UserID, o, lost).Reason = "lost"
		}

		oldLot := lot
		if err := s.lots.FinishTx(ctx, tx, lot.ID, winner.BidValue, now); err != nil {
			return err
		}
		lot.Status, lot.IsCurrent, lot.CurrentValue, lot.UpdatedAt = model.LotFinished, false, winner.BidValue, now
		ev := box.add(realtime.TableLots, realtime.OpUpdate, lot.AuctionID, 0, oldLot, lot)
		ev.Reason = "finalized"
		ev.Meta = map[string]string{
			"winner_bid_id":  strconv.FormatUint(winner.ID, 10),
			"winner_user_id": strconv.FormatUint(winner.UserID, 10),
			"final_value":    winner.BidValue.String(),
		}

		oldAuction := auction
		if err := s.auctions.RaiseCurrentBidTx(ctx, tx, &auction, winner.BidValue, now); err != nil {
			return err
		}
		if !auction.CurrentBidValue.Equal(oldAuction.CurrentBidValue) {
			box.add(realtime.TableAuctions, realtime.OpUpdate, auction.ID, 0, oldAuction, auction)
		}

		res = FinalizeResult{
			LotID:        lot.ID,
			AuctionID:    lot.AuctionID,
			WinnerBidID:  winner.ID,
			WinnerUserID: winner.UserID,
			FinalValue:   winner.BidValue,
			Superseded:   n,
		}
		next, err := s.lots.NextNotStartedTx(ctx, tx, lot.AuctionID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		nextID := next.ID
		res.NextLotAvailable, res.NextLotID = true, &nextID
		if !autoStartNext {
			return nil
		}
		if _, err := s.startTx(ctx, tx, box, lot.AuctionID, next.ID, now); err != nil {
			return err
		}
		res.NextLotStarted = true
		return nil
	})
	if err != nil {
		s.logFailure("lot finalization failed", err, actorID, bidID)
		return FinalizeResult{}, err
	}
	s.log.Info("lot finalized", "lot_id", res.LotID, "auction_id", res.AuctionID, "winner_bid_id", res.WinnerBidID,
		"final_value", res.FinalValue.String(), "next_lot_available", res.NextLotAvailable, "actor", actorID)
	box.flush(ctx, s.events)
	return res, nil
}

// StartNextLot makes lotID the current in-progress lot of auctionID and
// clears the current flag on every other lot of the auction.
func (s *ProgressionService) StartNextLot(ctx context.Context, actorID, auctionID, lotID uint64) (model.Lot, error) {
	box := &outbox{log: s.log}
	var lot model.Lot
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePrivileged(ctx, tx, s.users, s.log, actorID, "start_lot"); err != nil {
			return err
		}
		var err error
		lot, err = s.startTx(ctx, tx, box, auctionID, lotID, s.now())
		return err
	})
	if err != nil {
		s.logFailure("lot start failed", err, actorID, 0)
		return lot, err
	}
	s.log.Info("lot started", "lot_id", lot.ID, "auction_id", auctionID, "actor", actorID)
	box.flush(ctx, s.events)
	return lot, nil
}

func (s *ProgressionService) startTx(ctx context.Context, tx *sqlx.Tx, box *outbox, auctionID, lotID uint64, now time.Time) (model.Lot, error) {
	lots, err := s.lots.ListByAuctionTx(ctx, tx, auctionID, true)
	if err != nil {
		return model.Lot{}, err
	}
	var target *model.Lot
	for i := range lots {
		if lots[i].ID == lotID {
			target = &lots[i]
		}
	}
	if target == nil {
		return model.Lot{}, notFound("lot")
	}
	if target.IsFinished() {
		return model.Lot{}, newError(CodeInvalidTransition, "a finished lot cannot be started again")
	}
	if err := s.lots.StartTx(ctx, tx, auctionID, lotID, now); err != nil {
		return model.Lot{}, err
	}
	for _, l := range lots {
		if l.ID == lotID || !l.IsCurrent {
			continue
		}
		cleared := l
		cleared.IsCurrent, cleared.UpdatedAt = false, now
		box.add(realtime.TableLots, realtime.OpUpdate, auctionID, 0, l, cleared)
	}
	started := *target
	started.Status, started.IsCurrent, started.UpdatedAt = model.LotInProgress, true, now
	box.add(realtime.TableLots, realtime.OpUpdate, auctionID, 0, *target, started).Reason = "started"
	return started, nil
}

func (s *ProgressionService) logFailure(msg string, err error, actorID, bidID uint64) {
	if de, ok := AsError(err); ok {
		s.log.Warn(msg, "code", de.Code, "actor", actorID, "bid_id", bidID)
		return
	}
	s.log.Error(msg, "err", err, "actor", actorID, "bid_id", bidID)
}
