package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skillswap-backend/internal/api"
	"skillswap-backend/internal/config"
	"skillswap-backend/internal/logging"
	"skillswap-backend/internal/matchmaking"
	"skillswap-backend/internal/sessions"
	"skillswap-backend/internal/storage"
	"skillswap-backend/internal/worker"
	"skillswap-backend/internal/ws"
)

func main() {
	log := logging.New("server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	ctx := context.Background()

	store, err := storage.NewStorage(ctx, cfg.Database.URL, cfg.Redis.URL, storage.Options{
		Postgres: storage.PostgresOptions{
			MaxConnections: cfg.Database.MaxConnections,
			MaxIdleTime:    cfg.Database.MaxIdleTime,
			MaxLifetime:    cfg.Database.MaxLifetime,
		},
		SessionTTL: cfg.Matchmaking.SessionTTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("initializing storage")
	}
	defer store.Close()

	if err := store.DB.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("running migrations")
	}

	orchestrator := sessions.NewOrchestrator(store.DB, store.DB, cfg.Matchmaking.RoomCreateRetries, logging.New("sessions"))

	wsManager := ws.NewManager(logging.New("ws"))

	engine := matchmaking.NewEngine(orchestrator, store.DB, wsManager, store.Redis, matchmaking.Config{
		Policy:      matchmaking.DefaultPolicy(),
		GracePeriod: cfg.Matchmaking.GracePeriod,
		InviteTTL:   cfg.Matchmaking.InviteTTL,
	}, logging.New("matchmaking"))
	wsManager.SetIntents(engine)

	processor := worker.NewProcessor(engine, store.Redis.Addr(), cfg.Matchmaking.CleanupInterval, logging.New("worker"))
	if err := processor.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("starting background processor")
	}
	defer processor.Stop()

	apiService := api.NewAPI(engine, store.DB, logging.New("api"))
	router := api.NewRouter(apiService, wsManager.HandleWebSocket)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server exited")
}
