package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dagbolade/trust-proxy/internal/auth"
	"github.com/dagbolade/trust-proxy/internal/metrics"
	"github.com/dagbolade/trust-proxy/internal/policy"
	"github.com/dagbolade/trust-proxy/internal/server"
	"github.com/dagbolade/trust-proxy/internal/store"
)

func main() {
	cfg := server.LoadConfig()
	setupLogger(cfg.LogLevel)

	log.Info().Msg("starting trust proxy")

	ctx, cancel := setupSignalHandler()
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}

	log.Info().Msg("trust proxy stopped")
}

func run(ctx context.Context, cfg server.Config) error {
	st, err := initStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close interaction store")
		}
	}()

	catalog, err := initCatalog(cfg.CatalogDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := catalog.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close policy catalog")
		}
	}()

	log.Info().Bool("required", cfg.RequireAuth).Msg("initializing auth manager")
	authManager := auth.NewManager(cfg.AuthConfig())

	srv, err := server.New(cfg, server.Deps{
		Catalog: catalog,
		Store:   st,
		Auth:    authManager,
		Metrics: metrics.New(),
	})
	if err != nil {
		return err
	}

	return runServer(ctx, srv)
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	return ctx, cancel
}

func initStore(dbPath string) (*store.SQLiteStore, error) {
	log.Info().Str("path", dbPath).Msg("initializing interaction store")

	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, err
	}

	log.Info().Msg("interaction store initialized")
	return st, nil
}

func initCatalog(dir string) (*policy.Catalog, error) {
	log.Info().Str("dir", dir).Msg("loading policy catalog")

	catalog, err := policy.NewCatalog(dir)
	if err != nil {
		return nil, err
	}

	log.Info().Strs("agents", catalog.AgentIDs()).Msg("policy catalog loaded")
	return catalog, nil
}

func runServer(ctx context.Context, srv *server.Server) error {
	errChan := make(chan error, 1)

	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
