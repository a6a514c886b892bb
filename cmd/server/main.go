package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/auction-bidding/internal/config"
	"github.com/iliyamo/auction-bidding/internal/database"
	"github.com/iliyamo/auction-bidding/internal/handler"
	"github.com/iliyamo/auction-bidding/internal/middleware"
	"github.com/iliyamo/auction-bidding/internal/model"
	"github.com/iliyamo/auction-bidding/internal/queue"
	"github.com/iliyamo/auction-bidding/internal/realtime"
	"github.com/iliyamo/auction-bidding/internal/repository"
	"github.com/iliyamo/auction-bidding/internal/router"
	"github.com/iliyamo/auction-bidding/internal/service"
	"github.com/iliyamo/auction-bidding/internal/storage"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()
	cfg := config.Load()

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	auctions := repository.NewAuctionRepo(db)
	lots := repository.NewLotRepo(db)
	bids := repository.NewBidRepo(db)
	regs := repository.NewRegistrationRepo(db)
	limits := repository.NewBidLimitRepo(db)

	if cfg.AdminEmail != "" {
		id, err := users.EnsureUser(ctx, cfg.AdminEmail, cfg.AdminPassword, model.RoleAdmin, cfg.BcryptCost)
		if err != nil {
			log.Fatalf("seed admin: %v", err)
		}
		logger.Info("admin account ready", "user_id", id)
	}

	rtCfg := config.LoadRealtimeConfig()
	brokerCfg := config.LoadBrokerConfig()
	hub := realtime.NewHub(logger, rtCfg.SubscriberBuffer)

	// With the broker enabled every instance publishes to RabbitMQ and
	// feeds its own hub from it; otherwise events go straight to the hub.
	var events realtime.Publisher = hub
	var broker *queue.Publisher
	if brokerCfg.Enabled {
		broker = queue.NewPublisher(brokerCfg, logger)
		events = broker
	}

	limitSvc := service.NewBidLimitService(db, users, bids, limits, events, logger)
	ledger := service.NewLedgerService(db, users, auctions, lots, bids, regs, limitSvc, events, logger)
	progression := service.NewProgressionService(db, users, auctions, lots, bids, events, logger)
	eligibility := service.NewEligibilityService(db, users, auctions, regs, events, logger)
	catalog := service.NewCatalogService(db, users, auctions, lots, events, logger)
	state := service.NewStateService(auctions, lots, bids, regs)

	rdb := config.NewRedisClient(logger)
	cacheCfg := config.LoadCacheConfig()

	storageCfg := config.LoadStorageConfig()
	var images storage.ObjectStore
	if storageCfg.Enabled {
		s3, err := storage.NewS3Store(ctx, storageCfg)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		images = s3
	}

	h := router.Handlers{
		Auth: handler.NewAuthHandler(cfg, users, tokens, logger),
		Auctions: &handler.AuctionHandler{
			Catalog:       catalog,
			Purger:        middleware.NewCachePurger(cacheCfg, rdb, logger),
			Images:        images,
			MaxUploadSize: storageCfg.MaxUploadSize,
			Log:           logger,
		},
		Registrations: &handler.RegistrationHandler{Eligibility: eligibility, Log: logger},
		Bids:          &handler.BidHandler{Ledger: ledger, Progression: progression, State: state, Log: logger},
		Limits:        &handler.LimitHandler{Limits: limitSvc, Log: logger},
		Stream:        &handler.StreamHandler{Hub: hub, Heartbeat: rtCfg.Heartbeat, Log: logger},
	}
	mw := router.Middlewares{}
	if rdb != nil {
		mw.Cache = middleware.NewRedisCache(cacheCfg, rdb)
		mw.RateLimit = middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger)
		mw.BidRateLimit = middleware.NewTokenBucket(config.LoadBidRateLimitConfig(), rdb, logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLogger(logger))
	router.Register(e, db, h, mw, cfg.JWTSecret)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if brokerCfg.Enabled {
		g.Go(func() error { return queue.RunFeed(gctx, brokerCfg, hub, logger) })
		g.Go(func() error { return queue.RunAudit(gctx, brokerCfg, logger) })
	}
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info("listening", "addr", addr, "env", cfg.Env, "db", db.Dialect, "broker", brokerCfg.Enabled)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", "err", err)
	}
	if broker != nil {
		_ = broker.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.IsDev() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func openDB(cfg config.Config) (*database.DB, error) {
	if cfg.DBDriver == config.DriverSQLite {
		return database.OpenSQLite(cfg.SQLiteDSN)
	}
	return database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
}
