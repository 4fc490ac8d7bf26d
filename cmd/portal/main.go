package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	authz "github.com/mj-trademark/portal/internal/auth"
	"github.com/mj-trademark/portal/internal/case/domain"
	caseinfra "github.com/mj-trademark/portal/internal/case/infrastructure"
	"github.com/mj-trademark/portal/internal/identity"
	"github.com/mj-trademark/portal/internal/kurrentdb"
	"github.com/mj-trademark/portal/internal/message"
	"github.com/mj-trademark/portal/internal/server"
	"github.com/mj-trademark/portal/internal/shared/config"
	"github.com/mj-trademark/portal/internal/shared/database"
	"github.com/mj-trademark/portal/internal/shared/events"
	"github.com/mj-trademark/portal/internal/shared/logging"
)

// storage is the record store selected by STORAGE_DRIVER.
type storage struct {
	identity identity.Store
	cases    domain.Repository
	messages message.Store
	health   func(ctx context.Context) error
	close    func()
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	ctx = logger.WithContext(ctx)

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("storage unavailable")
	}
	defer store.close()

	eventStore := openEvents(ctx, cfg.KurrentDB, logger)
	defer eventStore.Close()

	svc := identity.NewService(
		store.identity,
		authz.NewPasswordHasher(cfg.Auth.BcryptCost),
		authz.NewTokenIssuer(cfg.Auth.SessionSecret, cfg.Auth.Issuer),
		authz.DefaultSessionConfig(),
		events.NewEmitter(eventStore),
	)

	handler := server.NewRouter(server.Deps{
		Config:   cfg,
		Logger:   logger,
		Identity: svc,
		Cases:    store.cases,
		Messages: store.messages,
		Events:   eventStore,
		Database: store.health,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info().Msg("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
		close(done)
	}()

	logger.Info().
		Str("env", cfg.Server.Env).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Bool("kurrentdb", cfg.KurrentDB.Enabled).
		Msg("MJ trademark portal listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}

	<-done
	logger.Info().Msg("server stopped")
}

func openStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err := database.OpenSQLite(ctx, cfg.Storage.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("dsn", cfg.Storage.SQLiteDSN).Msg("sqlite store ready")
		return &storage{
			identity: identity.NewSQLiteRepository(db),
			cases:    caseinfra.NewSQLiteRepository(db),
			messages: message.NewSQLiteRepository(db),
			health:   db.PingContext,
			close:    func() { db.Close() },
		}, nil

	default:
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db.Pool, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &storage{
			identity: identity.NewPostgresRepository(db.Pool),
			cases:    caseinfra.NewPostgresRepository(db.Pool),
			messages: message.NewPostgresRepository(db.Pool),
			health:   db.Health,
			close:    db.Close,
		}, nil
	}
}

// openEvents returns the KurrentDB publisher when enabled and reachable.
// Otherwise activity is kept in memory for the lifetime of the process.
func openEvents(ctx context.Context, cfg config.KurrentDBConfig, logger zerolog.Logger) events.Store {
	if !cfg.Enabled {
		return events.NewMemoryStore()
	}

	client, err := kurrentdb.NewClient(cfg)
	if err == nil {
		err = client.Connect(ctx)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("KurrentDB not available, keeping activity in memory")
		return events.NewMemoryStore()
	}

	logger.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("KurrentDB event store connected")
	return &closingPublisher{Publisher: kurrentdb.NewPublisher(client), client: client}
}

// closingPublisher releases the KurrentDB client with the publisher.
type closingPublisher struct {
	*kurrentdb.Publisher
	client *kurrentdb.Client
}

func (p *closingPublisher) Close() {
	p.Publisher.Close()
	p.client.Close()
}
