package service

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Code is the stable, machine-readable name of a domain failure. Clients
// switch on it; Message is for people.
type Code string

const (
	CodeNotAuthenticated  Code = "NOT_AUTHENTICATED"
	CodePendingBidExists  Code = "PENDING_BID_EXISTS"
	CodeNoActiveLot       Code = "NO_ACTIVE_LOT"
	CodeDuplicateValue    Code = "DUPLICATE_VALUE"
	CodeValueTooLow       Code = "VALUE_TOO_LOW"
	CodeLimitExceeded     Code = "LIMIT_EXCEEDED"
	CodeNotEligible       Code = "NOT_ELIGIBLE"
	CodeAuctionInactive   Code = "AUCTION_INACTIVE"
	CodeCooldownActive    Code = "COOLDOWN_ACTIVE"
	CodeAlreadyPending    Code = "ALREADY_PENDING"
	CodeAlreadyApproved   Code = "ALREADY_APPROVED"
	CodeAlreadyCanceled   Code = "ALREADY_CANCELED"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeLotNotInProgress  Code = "LOT_NOT_IN_PROGRESS"
	CodeTieBreak          Code = "TIE_BREAK_VIOLATION"
	CodeForbidden         Code = "FORBIDDEN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidValue      Code = "INVALID_VALUE"
)

// Sentinels, one per code, so callers can use errors.Is.
var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrPendingBidExists  = errors.New("pending bid exists")
	ErrNoActiveLot       = errors.New("no active lot")
	ErrDuplicateValue    = errors.New("duplicate bid value")
	ErrValueTooLow       = errors.New("bid value too low")
	ErrLimitExceeded     = errors.New("bid limit exceeded")
	ErrNotEligible       = errors.New("not eligible")
	ErrAuctionInactive   = errors.New("auction inactive")
	ErrCooldownActive    = errors.New("cooldown active")
	ErrAlreadyPending    = errors.New("already pending")
	ErrAlreadyApproved   = errors.New("already approved")
	ErrAlreadyCanceled   = errors.New("already canceled")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrLotNotInProgress  = errors.New("lot not in progress")
	ErrTieBreak          = errors.New("tie-break violation")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrInvalidValue      = errors.New("invalid value")
)

var sentinels = map[Code]error{
	CodeNotAuthenticated:  ErrNotAuthenticated,
	CodePendingBidExists:  ErrPendingBidExists,
	CodeNoActiveLot:       ErrNoActiveLot,
	CodeDuplicateValue:    ErrDuplicateValue,
	CodeValueTooLow:       ErrValueTooLow,
	CodeLimitExceeded:     ErrLimitExceeded,
	CodeNotEligible:       ErrNotEligible,
	CodeAuctionInactive:   ErrAuctionInactive,
	CodeCooldownActive:    ErrCooldownActive,
	CodeAlreadyPending:    ErrAlreadyPending,
	CodeAlreadyApproved:   ErrAlreadyApproved,
	CodeAlreadyCanceled:   ErrAlreadyCanceled,
	CodeInvalidTransition: ErrInvalidTransition,
	CodeLotNotInProgress:  ErrLotNotInProgress,
	CodeTieBreak:          ErrTieBreak,
	CodeForbidden:         ErrForbidden,
	CodeNotFound:          ErrNotFound,
	CodeInvalidValue:      ErrInvalidValue,
}

// Error is a domain failure. It unwraps to the sentinel of its Code.
type Error struct {
	Code    Code
	Message string
	// NextValidValue is set on DUPLICATE_VALUE and VALUE_TOO_LOW.
	NextValidValue *decimal.Decimal
	// RetryAt is set on COOLDOWN_ACTIVE.
	RetryAt *time.Time
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func (e *Error) Unwrap() error { return sentinels[e.Code] }

func newError(code Code, msg string) *Error { return &Error{Code: code, Message: msg} }

func (e *Error) withNext(v decimal.Decimal) *Error {
	e.NextValidValue = &v
	return e
}

func (e *Error) withRetryAt(t time.Time) *Error {
	e.RetryAt = &t
	return e
}

// AsError extracts the domain error from err, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
