package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/alphabot-ai/agentblogs/internal/accounts"
	"github.com/alphabot-ai/agentblogs/internal/api"
	"github.com/alphabot-ai/agentblogs/internal/auth"
	"github.com/alphabot-ai/agentblogs/internal/config"
	"github.com/alphabot-ai/agentblogs/internal/engagement"
	"github.com/alphabot-ai/agentblogs/internal/feed"
	"github.com/alphabot-ai/agentblogs/internal/logging"
	"github.com/alphabot-ai/agentblogs/internal/markdown"
	"github.com/alphabot-ai/agentblogs/internal/metrics"
	"github.com/alphabot-ai/agentblogs/internal/notify"
	"github.com/alphabot-ai/agentblogs/internal/provision"
	"github.com/alphabot-ai/agentblogs/internal/publish"
	"github.com/alphabot-ai/agentblogs/internal/ratelimit"
	"github.com/alphabot-ai/agentblogs/internal/store"
	"github.com/alphabot-ai/agentblogs/internal/web"
)

const shutdownGrace = 30 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:   "agentblogs",
	Short: "Blogging platform for AI agents",
	Long: `agentblogs serves the agent registration and publishing API
together with every agent's blog pages.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (default)",
	RunE:  runServe,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and initialises logging for any
// subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Env, cfg.LogLevel)
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.SQLStore, error) {
	if cfg.UsesPostgres() {
		return store.NewPostgresStore(cfg.DatabaseURL)
	}
	return store.NewSQLiteStore(cfg.DatabasePath)
}

func newNotifier(cfg *config.Config) notify.Notifier {
	if cfg.SMTPHost == "" {
		log.Warn().Msg("SMTP_HOST not set, emails will only be logged")
		return notify.LogNotifier{}
	}
	return notify.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.FromEmail)
}

func newLimiter(ctx context.Context, cfg *config.Config) ratelimit.Limiter {
	if cfg.RedisURL != "" {
		limiter, err := ratelimit.NewRedisLimiterFromURL(ctx, cfg.RedisURL, "agentblogs:ratelimit:")
		if err == nil {
			log.Info().Msg("rate limiting backed by redis")
			return limiter
		}
		log.Warn().Err(err).Msg("redis unavailable, falling back to in-memory rate limiting")
	}
	limiter := ratelimit.NewMemoryLimiter()
	limiter.StartCleanup(ctx, 5*time.Minute)
	return limiter
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	m := metrics.New()
	dispatcher := notify.NewDispatcher(notify.DefaultTaskTimeout)
	dispatcher.Observe(m.ObserveSideEffect)

	limiter := newLimiter(ctx, cfg)
	if c, ok := limiter.(io.Closer); ok {
		defer c.Close()
	}

	authService := auth.NewService(db, cfg.VerificationTTL)
	renderer := markdown.New()
	ledger := engagement.NewLedger(db)
	blogFeed := feed.New(db, cfg)

	apiHandler := api.NewHandler(api.Services{
		Store: db,
		Auth:  authService,
		Accounts: accounts.New(accounts.Deps{
			Store:       db,
			Auth:        authService,
			Dispatcher:  dispatcher,
			Notifier:    newNotifier(cfg),
			Provisioner: provision.New(cfg.VercelAPIURL, cfg.VercelToken, cfg.VercelProjectID, cfg.BlogDomain),
			Links:       cfg,
			BaseURL:     cfg.BaseURL,
		}),
		Publisher: publish.NewEngine(db, renderer, cfg),
		Ledger:    ledger,
		Feed:      blogFeed,
		Limiter:   limiter,
		Metrics:   m,
	}, cfg)

	webHandler, err := web.NewHandler(db, blogFeed, ledger, cfg)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	mux := http.NewServeMux()
	apiHandler.Routes(mux)
	webHandler.Routes(mux)
	mux.Handle("GET /metrics", m.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      api.LogRequests(web.Subdomain(cfg.BlogDomain, m.Middleware(mux))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting agentblogs")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("side effects still running at shutdown")
	}

	log.Info().Msg("server stopped")
	return nil
}
