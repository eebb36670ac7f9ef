package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jqwei/codex-relay/internal/account"
	"github.com/jqwei/codex-relay/internal/config"
	"github.com/jqwei/codex-relay/internal/forward"
	"github.com/jqwei/codex-relay/internal/gateway"
	"github.com/jqwei/codex-relay/internal/ledger"
	"github.com/jqwei/codex-relay/internal/oauth"
	"github.com/jqwei/codex-relay/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the codex-relay gateway",
	Long: `Start the gateway that accepts OpenAI-style API requests and dispatches
them upstream on behalf of pooled Codex accounts.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, err := config.Resolve(cfgFile)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error().Err(err).Str("path", configPath).Msg("failed to load config")
		return err
	}

	logger, err := gateway.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize logger")
	}

	log.Logger = logger
	zerolog.DefaultContextLogger = &logger

	led, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		log.Error().Err(err).Msg("failed to open ledger")
		return err
	}

	fileStore, err := store.NewFileStore(cfg.Accounts.File)
	if err != nil {
		log.Error().Err(err).Msg("failed to open account store")
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sources, err := fileStore.ListAccounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read accounts")
		return err
	}

	pool, err := account.NewPool(store.Accounts(sources), cfg.Pool.Strategy)
	if err != nil {
		log.Error().Err(err).Msg("failed to build pool")
		return err
	}
	if cfg.Pool.PinnedAccountID != "" {
		pool.SetPinned(cfg.Pool.PinnedAccountID)
	}

	log.Info().
		Int("accounts", len(sources)).
		Str("strategy", pool.Strategy()).
		Msg("built account pool")

	if cfg.Accounts.Watch {
		if err := watchAccounts(ctx, fileStore, pool); err != nil {
			log.Error().Err(err).Msg("failed to start account watcher")
			return err
		}
		go rebuildPeriodically(ctx, fileStore, pool)
	}

	refresher := oauth.NewRefresher(cfg.Upstream.TokenURL, cfg.Upstream.ClientID)

	var forwardOpts []forward.Option
	if cfg.Upstream.Origin != "" {
		forwardOpts = append(forwardOpts, forward.WithOrigin(cfg.Upstream.Origin))
	}
	forwarder := forward.New(pool, refresher, fileStore, forwardOpts...)

	var enabled atomic.Bool
	enabled.Store(cfg.Server.Enabled)

	forbid := gateway.NewForbidWorker(fileStore, logger)
	go forbid.Run(ctx)

	proxy := gateway.NewProxyHandler(forwarder, pool, led, forbid)
	router := gateway.NewRouter(pool, proxy, cfg.Server.APIKey, &enabled, logger)
	server := gateway.NewServer(cfg.Server.Listen, router.Handler(), cfg.Server.EnableHTTP2)

	// Graceful shutdown on SIGINT/SIGTERM
	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info().Msg("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}

		close(done)
	}()

	log.Info().
		Str("listen", cfg.Server.Listen).
		Bool("http2", cfg.Server.EnableHTTP2).
		Msg("starting codex-relay")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
		return err
	}

	<-done
	log.Info().Msg("server stopped")

	return nil
}

// rebuildPeriodically refreshes the pool from the store on a fixed interval
// as a safety net for missed filesystem events.
func rebuildPeriodically(ctx context.Context, fileStore *store.FileStore, pool *account.Pool) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sources, err := fileStore.ListAccounts(ctx)
			if err != nil {
				log.Error().Err(err).Msg("periodic pool rebuild failed")
				continue
			}
			pool.ReplaceAll(store.Accounts(sources))
		}
	}
}

// watchAccounts rebuilds the pool whenever the account file changes on disk.
func watchAccounts(ctx context.Context, fileStore *store.FileStore, pool *account.Pool) error {
	watcher, err := store.NewWatcher(fileStore)
	if err != nil {
		return err
	}

	watcher.OnReload(func(sources []store.Source) {
		pool.ReplaceAll(store.Accounts(sources))
		log.Info().Int("accounts", len(sources)).Msg("reloaded pool from account file")
	})

	go func() {
		defer watcher.Close()
		if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("account watcher stopped")
		}
	}()
	return nil
}
