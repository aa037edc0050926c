package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"asset-tracker-api/internal"
	"asset-tracker-api/internal/config"
	"asset-tracker-api/internal/mqttingest"
	"asset-tracker-api/internal/store"
	"asset-tracker-api/internal/tracking"
	"asset-tracker-api/pkg/logger"
)

func main() {
	cfg, err := config.LoadAndValidate()
	if err != nil {
		logger.New(logger.Config{}).Fatal().Err(err).Msg("configuration error")
	}
	log := logger.New(logger.Config{Env: cfg.Environment, Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, store.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		Path:     cfg.SQLitePath,
		MaxConns: cfg.DBMaxConns,
		Migrate:  true,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to open store")
	}

	policy, err := tracking.ParseRebindPolicy(cfg.TagRebindPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	var metrics *internal.Metrics
	var observer tracking.Observer
	if cfg.EnableMetrics {
		metrics = internal.NewMetrics()
		observer = metrics
	}

	svc := tracking.New(db, tracking.Options{
		Logger:                log.Component("tracking"),
		Observer:              observer,
		RebindPolicy:          policy,
		MaxAttempts:           cfg.IngestMaxAttempts,
		IngestWorkers:         cfg.IngestWorkers,
		IngestTimeout:         cfg.IngestTimeout,
		MaxBatch:              cfg.IngestMaxBatch,
		RecentMovements:       cfg.RecentMovements,
		ReadsDefaultLimit:     cfg.ReadsDefaultLimit,
		ReadsMaxLimit:         cfg.ReadsMaxLimit,
		MovementsDefaultLimit: cfg.MovementsDefaultLimit,
	})

	srv, err := internal.NewServer(cfg, svc, metrics, *log.Component("http"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build server")
	}

	var bridge *mqttingest.Bridge
	if cfg.MQTTBrokerURL != "" {
		bridge, err = mqttingest.New(mqttingest.Config{
			BrokerURL: cfg.MQTTBrokerURL,
			Topic:     cfg.MQTTTopic,
			ClientID:  cfg.MQTTClientID,
			QoS:       byte(cfg.MQTTQoS),
		}, svc.Portals, svc.Engine, log.Zerolog())
		if err != nil {
			log.Fatal().Err(err).Msg("configuration error")
		}
		// ctx bounds the connect only; in-flight batches run until bridge.Stop
		if err := bridge.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start mqtt ingestion")
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("env", cfg.Environment).
		Str("driver", cfg.DBDriver).
		Str("jwt_issuer", cfg.JWTIssuer).
		Str("jwt_audience", cfg.JWTAudience).
		Dur("jwt_expiry", cfg.JWTExpiry).
		Bool("metrics", cfg.EnableMetrics).
		Bool("mqtt", bridge != nil).
		Msg("starting asset tracker api")

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if bridge != nil {
		bridge.Stop()
	}
	if err := srv.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("store close")
	}
	log.Info().Msg("stopped")
}
