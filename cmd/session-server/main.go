package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/devicehub-server/devicehub-server/internal/api"
	"github.com/devicehub-server/devicehub-server/internal/config"
	"github.com/devicehub-server/devicehub-server/internal/devicesvc"
	"github.com/devicehub-server/devicehub-server/internal/integration"
	"github.com/devicehub-server/devicehub-server/internal/models"
	"github.com/devicehub-server/devicehub-server/internal/session"
	"github.com/devicehub-server/devicehub-server/internal/storage"
	"github.com/devicehub-server/devicehub-server/pkg/crypto"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/session-server.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Connect to database
	store, err := storage.NewPostgresStore(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	log.Info().Msg("Connected to database")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bootstrapAdmin(ctx, store); err != nil {
		log.Fatal().Err(err).Msg("Failed to bootstrap admin user")
	}

	// Session registry backed by the simulated device service client
	registry := session.NewRegistry(session.Config{
		ConnectTimeout:      cfg.Cloud.ConnectTimeout,
		CommandTimeout:      cfg.Cloud.CommandTimeout,
		CommandReadyTimeout: cfg.Cloud.CommandReadyTimeout,
	}, devicesvc.NewSimFactory(devicesvc.SimOptions{
		Targets: []devicesvc.TargetInfo{
			{TargetID: "T8210P0123456789", Name: "Front Door", Station: false},
			{TargetID: "T8010P0000000001", Name: "HomeBase", Station: true},
		},
	}))
	defer registry.Close()

	// Optional: connect to NATS and forward session events
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("devicehub-session-server"),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	// Event forwarder: persists event history and publishes to
	// NATS/MQTT when configured.
	forwarder, err := integration.NewForwarder(nc, store, cfg.MQTT)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start event forwarder")
	}
	defer forwarder.Close()
	registry.OnCreate(forwarder.Attach)

	// Start REST API server
	apiServer, err := api.NewRESTServer(cfg, store, registry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create REST API server")
	}

	// WaitGroup for services
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		log.Info().Str("addr", addr).Msg("Starting REST API server")
		if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	cancel()

	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	registry.Close()
	wg.Wait()

	log.Info().Msg("Session server stopped")
}

// bootstrapAdmin creates the initial admin user on an empty database
// and prints the generated password once.
func bootstrapAdmin(ctx context.Context, store storage.Store) error {
	count, err := store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	password := os.Getenv("ADMIN_PASSWORD")
	generated := false
	if password == "" {
		password, err = crypto.GenerateRandomString(16)
		if err != nil {
			return fmt.Errorf("generate password: %w", err)
		}
		generated = true
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	admin := &models.User{
		Email:        "admin@localhost",
		Username:     "admin",
		PasswordHash: hash,
		IsAdmin:      true,
		IsActive:     true,
	}
	if err := store.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	if generated {
		log.Info().
			Str("email", admin.Email).
			Str("password", password).
			Msg("Created admin user with generated password, change it after first login")
	} else {
		log.Info().Str("email", admin.Email).Msg("Created admin user")
	}
	return nil
}
