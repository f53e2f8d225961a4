package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"coinbot/internal/api"
	"coinbot/internal/auth"
	"coinbot/internal/bot"
	"coinbot/internal/config"
	"coinbot/internal/db"
	"coinbot/internal/game"
	"coinbot/internal/journal"
	"coinbot/internal/metrics"
	"coinbot/internal/scheduler"
	"coinbot/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadBotFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("coinbot stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("coinbot shutdown")
}

func run(ctx context.Context, cfg config.BotConfig, logger *slog.Logger) error {
	blob, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := metrics.New()
	opts := []game.Option{game.WithSettings(cfg.Economy), game.WithObserver(reg)}
	var jrnl *journal.SQLite
	if cfg.JournalPath != "" {
		jrnl, err = journal.NewSQLite(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer jrnl.Close()
		opts = append(opts, game.WithJournal(jrnl))
	}

	svc, err := game.Open(ctx, game.NewDocumentStore(blob), logger, opts...)
	if err != nil {
		return err
	}
	router := bot.NewRouter(svc, logger, cfg.CommandPrefix)

	schedOpts := []scheduler.Option{scheduler.WithObserver(reg)}
	var discord *bot.Discord
	if !cfg.DiscordDisabled {
		discord, err = bot.NewDiscord(cfg.DiscordToken, cfg.CommandPrefix, cfg.AnnounceChannel, router, logger)
		if err != nil {
			return err
		}
		schedOpts = append(schedOpts, scheduler.WithAnnouncer(discord))
	}
	sched := scheduler.New(logger, schedOpts...)
	if err := sched.RegisterAll(scheduler.EconomyJobs(svc, cfg.Intervals())); err != nil {
		return err
	}

	apiOpts := []api.Option{api.WithRouter(router), api.WithJobs(sched), api.WithMetrics(reg.Handler())}
	if jrnl != nil {
		apiOpts = append(apiOpts, api.WithJournal(jrnl))
	}
	token := auth.NewStaticToken(cfg.APIToken)
	if !token.Enabled() {
		logger.Warn("COINBOT_API_TOKEN is empty, the API accepts unauthenticated requests")
	}
	server := api.New(logger, token, svc, apiOpts...)
	httpServer := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("coinbot api listening", "addr", cfg.APIAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if discord != nil {
		g.Go(func() error {
			return discord.Run(gctx)
		})
	}
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.BotConfig) (store.Blob, func(), error) {
	switch cfg.Store {
	case config.StoreRedis:
		rb := store.NewRedisBlob(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rb.Ping(ctx); err != nil {
			_ = rb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return rb, func() { _ = rb.Close() }, nil
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgresBlob(pool), pool.Close, nil
	default:
		fb, err := store.NewFileBlob(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return fb, func() {}, nil
	}
}
