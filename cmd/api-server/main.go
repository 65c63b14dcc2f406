package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tradegateway/database"
	"tradegateway/internal/config"
	applog "tradegateway/internal/logger"
	httpapi "tradegateway/internal/microservices/http-api"
	"tradegateway/internal/microservices/http-api/handler"
	"tradegateway/internal/microservices/http-api/repository"
	"tradegateway/internal/microservices/http-api/service"
	gateway "tradegateway/internal/microservices/websocket"
	"tradegateway/internal/natsbridge"
	"tradegateway/internal/streaming"
	"tradegateway/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load config (.env, then environment, then defaults)
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup structured logging
	logger := applog.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, closeTokens, err := newTokenSource(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up token source: %v", err)
	}
	defer closeTokens()

	// the connector retries forever, but an unusable token at start is fatal
	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if _, err := tokens.Token(startCtx); err != nil {
		cancel()
		log.Fatalf("No initial broker token: %v", err)
	}
	cancel()

	var metrics *streaming.Metrics
	var metricsHandler http.Handler
	var registerer prometheus.Registerer
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		registerer = reg
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics, err = streaming.NewMetrics(reg)
		if err != nil {
			log.Fatalf("Failed to register metrics: %v", err)
		}
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	registry := streaming.NewRegistry(logger)
	last := streaming.NewLastMessages()

	connector, err := streaming.NewConnector(streaming.ConnectorConfig{
		URL:              cfg.StreamingURL,
		ContextID:        cfg.ContextID,
		PingInterval:     cfg.PingInterval,
		PongTimeout:      cfg.PongTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		BackoffFloor:     cfg.BackoffFloor,
		BackoffCeiling:   cfg.BackoffCeiling,
	}, tokens, registry,
		streaming.WithLogger(logger),
		streaming.WithMetrics(metrics),
		streaming.WithLastMessages(last),
	)
	if err != nil {
		log.Fatalf("Invalid upstream configuration: %v", err)
	}

	// Optional subscription store
	var repo repository.SubscriptionRepository
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL, logger)
		if err != nil {
			log.Fatalf("Failed to connect database: %v", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		repo = repository.NewSubscriptionRepository(db)
	}
	subscriptions := service.NewSubscriptionService(repo, last, cfg.ContextID)

	// Optional NATS bridge, fed like any other /ws/all subscriber
	if cfg.NATSURL != "" {
		pub, err := natsbridge.Connect(natsbridge.Config{
			URL:        cfg.NATSURL,
			Subject:    cfg.NATSSubject,
			Registerer: registerer,
		}, logger)
		if err != nil {
			log.Fatalf("Failed to connect NATS: %v", err)
		}
		defer pub.Close()
		registry.AddAll(pub)
	}

	ws := gateway.NewHandler(registry, metrics, cfg.ClientSendBuffer, logger)

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Health:        handler.NewHealthHandler(connector, subscriptions, registry),
		Subscriptions: handler.NewSubscriptionHandler(subscriptions),
		Gateway:       ws,
		Metrics:       metricsHandler,
		JWTSecret:     cfg.JWTSecret,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		connector.Run(ctx)
	}()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("http_server_starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("received_shutdown_signal")
	case err := <-errChan:
		logger.Error("http_server_error", "error", err.Error())
		stop()
		wg.Wait()
		os.Exit(1)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_server_shutdown", "error", err.Error())
	}
	ws.Shutdown()
	wg.Wait()
	logger.Info("server_stopped_gracefully")
}

// newTokenSource prefers a fixed BROKER_TOKEN and falls back to the Redis key
// the login flow maintains.
func newTokenSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (streaming.TokenSource, func(), error) {
	if cfg.BrokerToken != "" {
		if info, err := token.Inspect(cfg.BrokerToken); err == nil && info.Expired(time.Now()) {
			logger.Warn("broker_token_expired", "expires_at", info.ExpiresAt)
		}
		return token.Static(cfg.BrokerToken), func() {}, nil
	}

	redisCfg := token.RedisConfig{
		URL:      cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Key:      cfg.TokenKey,
		Channel:  cfg.TokenChannel,
	}
	client, err := token.NewRedisClient(redisCfg)
	if err != nil {
		return nil, nil, err
	}
	src := token.NewRedisSource(client, redisCfg, logger)
	if err := src.Start(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}

	closeFn := func() {
		_ = src.Close()
		_ = client.Close()
	}
	return src, closeFn, nil
}
