package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"animewife/internal/api"
	"animewife/internal/bot"
	"animewife/internal/config"
	"animewife/internal/db"
	"animewife/internal/images"
	"animewife/internal/logging"
	"animewife/internal/store"
	"animewife/internal/wife"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadBotFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		slog.Error("open log file", "err", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bot stopped", "err", err)
		closer.Close()
		os.Exit(1)
	}
	logger.Info("bot shutdown")
}

func run(ctx context.Context, cfg config.BotConfig, logger *slog.Logger) error {
	backend, cleanup, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	source := images.NewSource(cfg.ImageDir, cfg.ImageListURL, cfg.ImageBaseURL, cfg.Game.FetchTimeout)
	svc := wife.NewService(cfg.Game.Wife(), backend, source, logger)
	if err := svc.Load(ctx); err != nil {
		return err
	}

	admins, err := bot.LoadAdmins(cfg.Admins, cfg.AdminsFile)
	if err != nil {
		return err
	}
	if admins.Len() == 0 {
		logger.Warn("no admins configured, admin commands are disabled")
	}
	router := bot.NewRouter(svc, admins, cfg.NeedPrefix, logger)

	transports, err := buildTransports(ctx, cfg, router, source, logger)
	if err != nil {
		return err
	}

	server := api.New(api.Options{Token: cfg.APIToken}, logger, svc, router, source)
	httpServer := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("wife api configured", "auth", cfg.APIToken != "", "transports", len(transports))
	return serve(ctx, transports, httpServer, logger)
}

// transport is a chat connection that runs until ctx is done.
type transport interface {
	Run(ctx context.Context) error
}

// buildTransports constructs every configured chat transport. Nothing is
// started, so a failure leaves no goroutine behind.
func buildTransports(ctx context.Context, cfg config.BotConfig, router *bot.Router, source *images.Source, logger *slog.Logger) ([]transport, error) {
	var out []transport
	if cfg.DiscordToken != "" {
		discord, err := bot.NewDiscord(cfg.DiscordToken, router, source, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, discord)
	}
	if cfg.WhatsAppDSN != "" {
		wa, err := bot.NewWhatsApp(ctx, cfg.WhatsAppDSN, router, source, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, wa)
	}
	return out, nil
}

// serve runs the transports and the HTTP API until ctx is done or any of them
// fails, then shuts the server down and waits for everything to return.
func serve(ctx context.Context, transports []transport, httpServer *http.Server, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range transports {
		g.Go(func() error { return t.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("wife api listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// openBackend picks Postgres when a database URL is configured and the data
// directory otherwise.
func openBackend(ctx context.Context, cfg config.BotConfig, logger *slog.Logger) (store.Backend, func(), error) {
	if cfg.DatabaseURL == "" {
		fb, err := store.NewFile(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using file store", "dir", fb.Dir())
		return fb, func() {}, nil
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("using postgres store")
	return pg, pool.Close, nil
}
