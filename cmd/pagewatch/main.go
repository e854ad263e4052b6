// Package main wires together the page watcher binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/api"
	"github.com/JakeFAU/pagewatch/internal/clock/system"
	"github.com/JakeFAU/pagewatch/internal/config"
	"github.com/JakeFAU/pagewatch/internal/hash/sha256"
	"github.com/JakeFAU/pagewatch/internal/id/uuid"
	"github.com/JakeFAU/pagewatch/internal/logging"
	"github.com/JakeFAU/pagewatch/internal/normalize"
	"github.com/JakeFAU/pagewatch/internal/notify"
	"github.com/JakeFAU/pagewatch/internal/render"
	"github.com/JakeFAU/pagewatch/internal/storage/local"
	"github.com/JakeFAU/pagewatch/internal/watch"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		// Sync on stderr/stdout commonly returns EINVAL; nothing to act on.
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("pagewatch failed", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := local.New(local.Config{Path: cfg.Watch.StateFile})
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}

	notifier, err := notify.NewTelegram(notify.Config{
		Token:       cfg.Telegram.Token,
		ChatIDs:     cfg.Telegram.ChatIDs,
		APIURL:      cfg.Telegram.APIURL,
		Timeout:     cfg.NotifyTimeout(),
		RatePerChat: cfg.Telegram.RatePerChat,
	}, logger.Named("notify"))
	if err != nil {
		return fmt.Errorf("telegram notifier: %w", err)
	}

	renderer := render.NewChromedp(render.Config{
		UserAgent:         cfg.Render.UserAgent,
		Locale:            cfg.Render.Locale,
		AcceptLanguage:    cfg.Render.AcceptLanguage,
		Referer:           cfg.Render.Referer,
		Proxy:             cfg.Render.Proxy,
		ViewportWidth:     cfg.Render.ViewportWidth,
		ViewportHeight:    cfg.Render.ViewportHeight,
		NavigationTimeout: cfg.NavTimeout(),
		SettleDelay:       cfg.SettleDelay(),
		MinHTMLBytes:      cfg.Render.MinHTMLBytes,
		ReadySelector:     cfg.Render.ReadySelector,
		ExtractSelector:   cfg.Render.ExtractSelector,
		ExecPath:          cfg.Render.ChromeExecPath,
		Headful:           cfg.Render.DisableHeadless,
		NoSandbox:         cfg.Render.NoSandbox,
	}, logger.Named("render"))

	watcher := watch.New(
		watch.Config{
			URL:       cfg.Watch.URL,
			Interval:  cfg.CheckInterval(),
			JitterMax: cfg.JitterMax(),
			Retry: watch.RetryPolicy{
				Attempts: cfg.Render.Attempts,
				Base:     cfg.RenderBackoffBase(),
			},
			Backoff: watch.DefaultErrorBackoff(),
		},
		renderer,
		normalize.New(),
		sha256.New(),
		store,
		notifier,
		system.New(),
		uuid.New(),
		logger.Named("watch"),
	)

	if cfg.Server.Addr != "" {
		srv := api.NewServer(watcher, logger.Named("api"))
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
				logger.Error("ops server error", zap.Error(err))
			}
		}()
	}

	logger.Info("pagewatch started",
		zap.String("url", cfg.Watch.URL),
		zap.String("state_file", store.Path()),
		zap.Bool("telegram_enabled", notifier.Enabled()),
	)
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch loop: %w", err)
	}
	return nil
}
