// Command bidwatch follows one auction as a bidder and prints the derived
// bidding state every time it changes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/auction-bidding/internal/bidstate"
	"github.com/iliyamo/auction-bidding/internal/client"
)

func main() {
	path := flag.String("config", "bidwatch.toml", "path to config")
	flag.Parse()

	cfg, err := loadConfig(*path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	opts, err := cfg.Sync.options()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	opts.Log = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewAPI(cfg.BaseURL)
	if err := api.Login(ctx, cfg.Email, cfg.Password); err != nil {
		log.Fatalf("login: %v", err)
	}

	ledger := client.NewBidLedgerAdapter(api, cfg.AuctionID, opts)
	elig := client.NewEligibilityAdapter(api, cfg.AuctionID, opts)

	p := &printer{}
	render := func() { p.print(client.Derive(ledger, elig, cfg.LotID, time.Now().UTC())) }
	ledger.OnChange(render)
	elig.OnChange(render)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ledger.Run(gctx) })
	g.Go(func() error { return elig.Run(gctx) })
	err = g.Wait()
	switch {
	case errors.Is(err, client.ErrStale):
		fmt.Fprintln(os.Stderr, "stream lost; last known state shown above is stale")
		os.Exit(1)
	case err != nil && !errors.Is(err, context.Canceled):
		log.Fatal(err)
	}
}

// printer writes a line only when the visible state differs from the last one.
type printer struct {
	mu   sync.Mutex
	last string
}

func (p *printer) print(v bidstate.View) {
	line := fmt.Sprintf("%-22s %-20s", v.State, v.Action)
	if v.Lot != nil {
		line += fmt.Sprintf(" lot=%d %q current=%s min=%s", v.Lot.ID, v.Lot.Name,
			v.Lot.CurrentValue.StringFixed(2), v.MinValidBid.StringFixed(2))
	}
	if v.PendingBid != nil {
		line += " pending=" + v.PendingBid.BidValue.StringFixed(2)
	}
	if v.RetryAt != nil {
		line += " retry_at=" + v.RetryAt.Format(time.RFC3339)
	}
	line += "  " + v.Message

	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	fmt.Printf("%s %s\n", time.Now().Format("15:04:05"), line)
}
