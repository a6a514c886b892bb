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

// LimitView is a user's limit as shown to them. Configured is false when no
// administrator set one, which means bidding is unlimited.
type LimitView struct {
	model.BidLimit
	Configured bool            `json:"configured"`
	Exposure   decimal.Decimal `json:"exposure"`
}

// limitCheck is the outcome of checking one bid against the guard.
type limitCheck struct {
	Allowed  bool
	MaxLimit decimal.Decimal
	Exposure decimal.Decimal
}

// BidLimitService caps each user's cumulative approved-bid exposure and runs
// the limit increase workflow.
type BidLimitService struct {
	db     *database.DB
	users  *repository.UserRepo
	bids   *repository.BidRepo
	limits *repository.BidLimitRepo
	events realtime.Publisher
	log    *slog.Logger
	now    Clock
}

func NewBidLimitService(db *database.DB, users *repository.UserRepo, bids *repository.BidRepo,
	limits *repository.BidLimitRepo, events realtime.Publisher, log *slog.Logger) *BidLimitService {
	return &BidLimitService{db: db, users: users, bids: bids, limits: limits,
		events: events, log: log, now: utcNow}
}

// SetClock replaces the time source.
func (s *BidLimitService) SetClock(c Clock) { s.now = c }

// check evaluates a bid of value against the user's limit inside tx.
// Exposure counts approved bids only.
func (s *BidLimitService) check(ctx context.Context, tx *sqlx.Tx, userID uint64, value decimal.Decimal) (limitCheck, error) {
	lim, err := s.limits.GetTx(ctx, tx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return limitCheck{Allowed: true}, nil
	}
	if err != nil {
		return limitCheck{}, err
	}
	if lim.IsUnlimited {
		return limitCheck{Allowed: true, MaxLimit: lim.MaxLimit}, nil
	}
	values, err := s.bids.ApprovedValuesTx(ctx, tx, userID)
	if err != nil {
		return limitCheck{}, err
	}
	exposure := repository.Exposure(values)
	return limitCheck{
		Allowed:  !exposure.Add(value).GreaterThan(lim.MaxLimit),
		MaxLimit: lim.MaxLimit,
		Exposure: exposure,
	}, nil
}

// Get returns the user's limit and current exposure.
func (s *BidLimitService) Get(ctx context.Context, userID uint64) (LimitView, error) {
	var view LimitView
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		lim, err := s.limits.GetTx(ctx, tx, userID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			view.BidLimit = model.BidLimit{UserID: userID, IsUnlimited: true}
		case err != nil:
			return err
		default:
			view.BidLimit, view.Configured = lim, true
		}
		values, err := s.bids.ApprovedValuesTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		view.Exposure = repository.Exposure(values)
		return nil
	})
	return view, err
}

// SetLimit lets an administrator configure a user's ceiling.
func (s *BidLimitService) SetLimit(ctx context.Context, actorID, userID uint64, maxLimit decimal.Decimal, unlimited bool) (model.BidLimit, error) {
	if maxLimit.IsNegative() {
		return model.BidLimit{}, newError(CodeInvalidValue, "limit cannot be negative")
	}
	box := &outbox{log: s.log}
	lim := model.BidLimit{UserID: userID, MaxLimit: maxLimit, IsUnlimited: unlimited}
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePrivileged(ctx, tx, s.users, s.log, actorID, "set_bid_limit"); err != nil {
			return err
		}
		lim.UpdatedAt = s.now()
		if err := s.limits.UpsertTx(ctx, tx, lim); err != nil {
			return err
		}
		box.add(realtime.TableBidLimits, realtime.OpUpdate, 0, userID, nil, lim)
		return nil
	})
	if err != nil {
		return lim, err
	}
	s.log.Info("bid limit set", "user_id", userID, "max_limit", maxLimit.String(), "unlimited", unlimited, "actor", actorID)
	box.flush(ctx, s.events)
	return lim, nil
}

// RequestIncrease files a request to raise the user's limit. Only one
// request may be pending at a time.
func (s *BidLimitService) RequestIncrease(ctx context.Context, userID uint64, requested decimal.Decimal, reason *string) (model.LimitIncreaseRequest, error) {
	if userID == 0 {
		return model.LimitIncreaseRequest{}, newError(CodeNotAuthenticated, "sign in to continue")
	}
	view, err := s.Get(ctx, userID)
	if err != nil {
		return model.LimitIncreaseRequest{}, err
	}
	if view.Configured && !view.IsUnlimited && !requested.GreaterThan(view.MaxLimit) {
		return model.LimitIncreaseRequest{}, newError(CodeInvalidValue, "requested limit must be above your current limit")
	}
	if !requested.IsPositive() {
		return model.LimitIncreaseRequest{}, newError(CodeInvalidValue, "requested limit must be positive")
	}
	pending, err := s.limits.HasPendingRequest(ctx, userID)
	if err != nil {
		return model.LimitIncreaseRequest{}, err
	}
	if pending {
		return model.LimitIncreaseRequest{}, newError(CodeAlreadyPending, "you already have a limit request awaiting review")
	}
	req := model.LimitIncreaseRequest{
		UserID:         userID,
		CurrentLimit:   view.MaxLimit,
		RequestedLimit: requested,
		Reason:         reason,
	}
	if err := s.limits.CreateRequest(ctx, &req); err != nil {
		return req, err
	}
	s.log.Info("limit increase requested", "user_id", userID, "requested", requested.String())
	return req, nil
}

// DecideIncrease approves or rejects a pending request. Approval sets the
// user's limit to the requested value.
func (s *BidLimitService) DecideIncrease(ctx context.Context, actorID, requestID uint64, approve bool) (model.LimitIncreaseRequest, error) {
	box := &outbox{log: s.log}
	var req model.LimitIncreaseRequest
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := requirePrivileged(ctx, tx, s.users, s.log, actorID, "decide_limit_request"); err != nil {
			return err
		}
		var err error
		req, err = s.limits.GetRequestTx(ctx, tx, requestID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("limit request")
		}
		if err != nil {
			return err
		}
		if req.Status != model.LimitRequestPending {
			return newError(CodeInvalidTransition, "limit request was already decided")
		}
		now := s.now()
		status := model.LimitRequestRejected
		if approve {
			status = model.LimitRequestApproved
			lim := model.BidLimit{UserID: req.UserID, MaxLimit: req.RequestedLimit, UpdatedAt: now}
			if err := s.limits.UpsertTx(ctx, tx, lim); err != nil {
				return err
			}
			box.add(realtime.TableBidLimits, realtime.OpUpdate, 0, req.UserID, nil, lim)
		}
		if err := s.limits.DecideRequestTx(ctx, tx, req.ID, status, actorID, now); err != nil {
			return err
		}
		req.Status, req.ReviewedBy, req.UpdatedAt = status, &actorID, now
		return nil
	})
	if err != nil {
		return req, err
	}
	box.flush(ctx, s.events)
	return req, nil
}

// ListRequests lists limit requests; zero userID and empty status mean all.
func (s *BidLimitService) ListRequests(ctx context.Context, userID uint64, status string) ([]model.LimitIncreaseRequest, error) {
	return s.limits.ListRequests(ctx, userID, status)
}

// ListFailedAttempts lists bids the guard refused; zero userID means all users.
func (s *BidLimitService) ListFailedAttempts(ctx context.Context, userID uint64) ([]model.FailedBidAttempt, error) {
	return s.limits.ListFailedAttempts(ctx, userID)
}

// recordFailure stores a refused bid. It runs outside the refused bid's
// transaction, which has already rolled back.
func (s *BidLimitService) recordFailure(ctx context.Context, a model.FailedBidAttempt) {
	a.CreatedAt = s.now()
	if err := s.limits.RecordFailedAttempt(ctx, &a); err != nil {
		s.log.Error("record failed bid attempt", "err", err, "user_id", a.UserID, "auction_id", a.AuctionID)
		return
	}
	s.log.Warn("bid refused by limit",
		"user_id", a.UserID, "auction_id", a.AuctionID,
		"value", a.AttemptedValue.String(), "exposure", a.Exposure.String(), "max_limit", a.MaxLimit.String())
}
