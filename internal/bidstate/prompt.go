package bidstate

import "github.com/shopspring/decimal"

// Prompt is a confirmation dialog layered over bid submission. It is a
// convenience for the bidder; the ledger still rejects stale values.
type Prompt struct {
	Show      bool            `json:"show"`
	Intended  decimal.Decimal `json:"intended"`
	Suggested decimal.Decimal `json:"suggested"`
	Message   string          `json:"message,omitempty"`
}

// DuplicateBidPrompt is shown when another approved bid matched or passed
// the value the bidder meant to send. It offers the recalculated minimum.
func DuplicateBidPrompt(intended, latestApproved, minValid decimal.Decimal) Prompt {
	if intended.GreaterThan(latestApproved) {
		return Prompt{Intended: intended, Suggested: intended}
	}
	return Prompt{
		Show:      true,
		Intended:  intended,
		Suggested: minValid,
		Message:   "Another bidder already offered " + latestApproved.StringFixed(2) + ". Bid " + minValid.StringFixed(2) + " instead?",
	}
}

// OutbidPrompt is shown when a higher approval moved the lot minimum past
// the bidder's pending value. The suggestion becomes the new minimum.
func OutbidPrompt(pendingValue, newMin decimal.Decimal) Prompt {
	if !pendingValue.LessThan(newMin) {
		return Prompt{Intended: pendingValue, Suggested: pendingValue}
	}
	return Prompt{
		Show:      true,
		Intended:  pendingValue,
		Suggested: newMin,
		Message:   "You were outbid. The next valid bid is " + newMin.StringFixed(2) + ".",
	}
}

// CustomIncrement is the stepper value: a whole multiple of base, never
// less than base itself.
func CustomIncrement(base decimal.Decimal, multiple int64) decimal.Decimal {
	if multiple < 1 {
		multiple = 1
	}
	return base.Mul(decimal.NewFromInt(multiple))
}

// BidWithSteps is the bid that results from stepping the focus lot's current
// value up by multiple increments. It returns false when the view has no
// biddable lot.
func (v View) BidWithSteps(multiple int64) (decimal.Decimal, bool) {
	if v.State != CanBid || v.Lot == nil {
		return decimal.Zero, false
	}
	return v.Lot.CurrentValue.Add(CustomIncrement(v.Increment, multiple)), true
}
