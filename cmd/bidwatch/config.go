package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/iliyamo/auction-bidding/internal/client"
)

// Config is read from bidwatch.toml.
type Config struct {
	BaseURL   string     `toml:"base_url"`
	Email     string     `toml:"email"`
	Password  string     `toml:"password"`
	AuctionID uint64     `toml:"auction_id"`
	LotID     uint64     `toml:"lot_id"`
	Sync      SyncConfig `toml:"sync"`
}

// SyncConfig holds reconciliation timings as Go duration strings.
type SyncConfig struct {
	Debounce     string `toml:"debounce"`
	PollInterval string `toml:"poll_interval"`
	PollWindow   string `toml:"poll_window"`
}

func loadConfig(path string) (Config, error) {
	cfg := Config{
		BaseURL: "http://localhost:8080",
		Sync:    SyncConfig{Debounce: "300ms", PollInterval: "15s", PollWindow: "5m"},
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer file.Close()
	if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	if cfg.AuctionID == 0 {
		return cfg, errors.New("auction_id is required")
	}
	if cfg.Email == "" || cfg.Password == "" {
		return cfg, errors.New("email and password are required")
	}
	return cfg, nil
}

// options converts the sync section. The poll interval is kept within
// 10 to 20 seconds.
func (s SyncConfig) options() (client.Options, error) {
	var o client.Options
	var err error
	if o.Debounce, err = time.ParseDuration(s.Debounce); err != nil {
		return o, fmt.Errorf("sync.debounce: %w", err)
	}
	if o.PollInterval, err = time.ParseDuration(s.PollInterval); err != nil {
		return o, fmt.Errorf("sync.poll_interval: %w", err)
	}
	if o.PollWindow, err = time.ParseDuration(s.PollWindow); err != nil {
		return o, fmt.Errorf("sync.poll_window: %w", err)
	}
	o.PollInterval = min(max(o.PollInterval, 10*time.Second), 20*time.Second)
	return o, nil
}
