package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/realtime"
)

// LotFinalizedEvent is the audit record of a winner declaration. It is
// rebuilt from the lot's change event, so downstream consumers need no
// database access.
type LotFinalizedEvent struct {
	EventID      string          `json:"event_id"`
	AuctionID    uint64          `json:"auction_id"`
	LotID        uint64          `json:"lot_id"`
	LotName      string          `json:"lot_name"`
	OrderIndex   int             `json:"order_index"`
	WinnerBidID  uint64          `json:"winner_bid_id"`
	WinnerUserID uint64          `json:"winner_user_id"`
	FinalValue   decimal.Decimal `json:"final_value"`
	FinalizedAt  time.Time       `json:"finalized_at"`
}

// LotFinalizedFromChange decodes a finalized lot event.
func LotFinalizedFromChange(ev realtime.ChangeEvent) (LotFinalizedEvent, error) {
	if ev.Table != realtime.TableLots || ev.Reason != "finalized" {
		return LotFinalizedEvent{}, fmt.Errorf("not a finalized lot event: %s", ev.RoutingKey())
	}
	if len(ev.New) == 0 {
		return LotFinalizedEvent{}, errors.New("finalized lot event without row")
	}
	var lot model.Lot
	if err := json.Unmarshal(ev.New, &lot); err != nil {
		return LotFinalizedEvent{}, fmt.Errorf("unmarshal lot: %w", err)
	}
	out := LotFinalizedEvent{
		EventID:     ev.ID,
		AuctionID:   lot.AuctionID,
		LotID:       lot.ID,
		LotName:     lot.Name,
		OrderIndex:  lot.OrderIndex,
		FinalValue:  lot.CurrentValue,
		FinalizedAt: ev.At,
	}
	out.WinnerBidID, _ = strconv.ParseUint(ev.Meta["winner_bid_id"], 10, 64)
	out.WinnerUserID, _ = strconv.ParseUint(ev.Meta["winner_user_id"], 10, 64)
	if v, err := decimal.NewFromString(ev.Meta["final_value"]); err == nil {
		out.FinalValue = v
	}
	return out, nil
}

// Line renders the event as one human-friendly log line.
func (e LotFinalizedEvent) Line() string {
	return fmt.Sprintf("[%s] Lot finalized | auction_id=%d | lot_id=%d | lot=%q | order=%d | winner_bid_id=%d | winner_user_id=%d | final_value=%s | event=%s\n",
		e.FinalizedAt.UTC().Format(time.RFC3339), e.AuctionID, e.LotID, e.LotName, e.OrderIndex,
		e.WinnerBidID, e.WinnerUserID, e.FinalValue.StringFixed(2), e.EventID)
}

// AuditWriter appends finalized lots to Dir/lots.log.
type AuditWriter struct {
	Dir string
}

// Write appends one line, creating the directory and file as needed.
func (w AuditWriter) Write(e LotFinalizedEvent) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(w.Dir, "lots.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(e.Line()); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
