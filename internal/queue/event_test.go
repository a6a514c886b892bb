package queue

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/realtime"
)

func finalizedEvent(t *testing.T) realtime.ChangeEvent {
	t.Helper()
	lot := model.Lot{ID: 11, AuctionID: 3, Name: "Tractor", OrderIndex: 2,
		Status: model.LotFinished, CurrentValue: decimal.RequireFromString("2100")}
	ev, err := realtime.NewChangeEvent(realtime.TableLots, realtime.OpUpdate, 3, 0, nil, lot)
	assert.NoError(t, err)
	ev.Reason = "finalized"
	ev.Meta = map[string]string{"winner_bid_id": "40", "winner_user_id": "7", "final_value": "2100.5"}
	ev.At = time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	return ev
}

func TestLotFinalizedFromChange(t *testing.T) {
	ev := finalizedEvent(t)
	lf, err := LotFinalizedFromChange(ev)
	assert.NoError(t, err)
	check.Equal(t, ev.ID, lf.EventID)
	check.Equal(t, uint64(3), lf.AuctionID)
	check.Equal(t, uint64(11), lf.LotID)
	check.Equal(t, "Tractor", lf.LotName)
	check.Equal(t, uint64(40), lf.WinnerBidID)
	check.Equal(t, uint64(7), lf.WinnerUserID)
	check.Equal(t, "2100.50", lf.FinalValue.StringFixed(2))

	line := lf.Line()
	check.True(t, strings.HasPrefix(line, "[2025-03-01T10:30:00Z] Lot finalized"))
	check.True(t, strings.Contains(line, "final_value=2100.50"))
	check.True(t, strings.HasSuffix(line, "\n"))

	ev.Reason = "started"
	_, err = LotFinalizedFromChange(ev)
	check.Error(t, err)
}

func TestAuditWriterAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	w := AuditWriter{Dir: dir}
	lf, err := LotFinalizedFromChange(finalizedEvent(t))
	assert.NoError(t, err)

	assert.NoError(t, w.Write(lf))
	assert.NoError(t, w.Write(lf))

	data, err := os.ReadFile(filepath.Join(dir, "lots.log"))
	assert.NoError(t, err)
	check.Equal(t, 2, strings.Count(string(data), "Lot finalized"))
}
