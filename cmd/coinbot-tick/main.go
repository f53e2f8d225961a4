package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"coinbot/internal/config"
	"coinbot/internal/db"
	"coinbot/internal/game"
	"coinbot/internal/journal"
	"coinbot/internal/scheduler"
	"coinbot/internal/store"
)

// coinbot-tick runs one scheduled job against the configured store and
// exits. Stop the bot first: the store has a single writer.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: coinbot-tick <%s|%s|%s|%s>\n",
			scheduler.JobInterest, scheduler.JobDividends, scheduler.JobRestock, scheduler.JobMarket)
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	name := flag.Arg(0)

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	// The bot is stopped, so a discord token is not required here.
	if os.Getenv("COINBOT_DISCORD_DISABLED") == "" {
		_ = os.Setenv("COINBOT_DISCORD_DISABLED", "true")
	}
	cfg, err := config.LoadBotFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	report, err := runJob(ctx, cfg, logger, name)
	if err != nil {
		logger.Error("job failed", "job", name, "err", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	logger.Info("job run-once completed", "job", name)
}

func runJob(ctx context.Context, cfg config.BotConfig, logger *slog.Logger, name string) (any, error) {
	var blob store.Blob
	switch cfg.Store {
	case config.StoreRedis:
		rb := store.NewRedisBlob(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rb.Close()
		if err := rb.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		blob = rb
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		blob = store.NewPostgresBlob(pool)
	default:
		fb, err := store.NewFileBlob(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		blob = fb
	}

	opts := []game.Option{game.WithSettings(cfg.Economy)}
	if cfg.JournalPath != "" {
		jrnl, err := journal.NewSQLite(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		defer jrnl.Close()
		opts = append(opts, game.WithJournal(jrnl))
	}
	svc, err := game.Open(ctx, game.NewDocumentStore(blob), logger, opts...)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(logger)
	if err := sched.RegisterAll(scheduler.EconomyJobs(svc, cfg.Intervals())); err != nil {
		return nil, err
	}
	return sched.RunOnce(ctx, name)
}
