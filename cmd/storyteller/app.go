package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"storyteller/internal/clients"
	"storyteller/internal/config"
	"storyteller/internal/database"
	"storyteller/internal/feed"
	"storyteller/internal/identity"
	"storyteller/internal/interfaces"
	"storyteller/internal/logger"
	"storyteller/internal/service"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// app - собранный клиент: конфигурация, логгер, оркестратор и ресурсы для закрытия.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	orch   *service.Orchestrator

	closers []func()
}

// newApp загружает конфигурацию и собирает компоненты по выбранным бэкендам.
func newApp(ctx context.Context, opts *RootOptions) (_ *app, err error) {
	var envFiles []string
	if opts.EnvFile != "" {
		envFiles = append(envFiles, opts.EnvFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}

	logCfg := logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Fields:   map[string]any{"scope": cfg.ScopeID},
	}
	if opts.Verbose {
		logCfg.Level = "debug"
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, err
	}
	log.Debug("Configuration loaded", cfg.LogFields()...)

	a := &app{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := service.NewMetrics(registry)
	if cfg.MetricsAddr != "" {
		a.startMetricsServer(registry)
	}

	var fbApp *firebase.App
	if cfg.StoreBackend == config.StoreFirestore || cfg.FirebaseCredentialsPath != "" {
		fbApp, err = database.NewFirebaseApp(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsPath)
		if err != nil {
			return nil, err
		}
	}

	var redisClient *redis.Client
	if cfg.StoreBackend == config.StoreRedis || cfg.CredentialCache == config.StoreRedis {
		redisClient, err = database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		log.Info("Connected to Redis")
	}

	store, err := a.recordStore(ctx, fbApp, redisClient)
	if err != nil {
		return nil, err
	}

	var cache interfaces.CredentialCache = database.NewMemoryCredentialCache()
	if cfg.CredentialCache == config.StoreRedis {
		cache = database.NewRedisCredentialCache(redisClient, log)
	}

	var verifier clients.TokenVerifier
	if fbApp != nil && cfg.FirebaseCredentialsPath != "" {
		authClient, err := fbApp.Auth(ctx)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации Firebase Auth: %w", err)
		}
		verifier = authClient
	}

	provider := clients.NewFirebaseIdentityClient(clients.FirebaseIdentityConfig{
		APIKey:             cfg.FirebaseAPIKey,
		IdentityToolkitURL: cfg.IdentityToolkitURL,
		SecureTokenURL:     cfg.SecureTokenURL,
		Scope:              cfg.ScopeID,
		Timeout:            cfg.IdentityTimeout,
	}, cache, verifier, log)

	generator, err := a.generationClient()
	if err != nil {
		return nil, err
	}

	session := identity.NewSession(provider, identity.Config{Token: cfg.InitialAuthToken, ScopeID: cfg.ScopeID}, log)
	stories := feed.New(store, cfg.ScopeID, log).WithObserver(metrics)
	generation := service.NewGenerationController(session, generator, store, cfg.GenerationTimeout, metrics, log)
	feedback := service.NewFeedbackController(session, store, metrics, log)
	a.orch = service.NewOrchestrator(session, stories, generation, feedback, log)
	return a, nil
}

func (a *app) recordStore(ctx context.Context, fbApp *firebase.App, redisClient *redis.Client) (interfaces.RecordStore, error) {
	switch a.cfg.StoreBackend {
	case config.StoreFirestore:
		client, err := fbApp.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации Firestore: %w", err)
		}
		a.closers = append(a.closers, func() { closeFirestore(client, a.logger) })
		return database.NewFirestoreRecordStore(client, a.logger), nil
	case config.StoreRedis:
		return database.NewRedisRecordStore(redisClient, a.logger), nil
	case config.StoreMemory:
		a.logger.Warn("Using in-memory story store: history is lost when the process exits")
		return database.NewMemoryRecordStore(database.MemoryStoreOptions{}, a.logger), nil
	}
	return nil, fmt.Errorf("unknown store backend '%s'", a.cfg.StoreBackend)
}

func (a *app) generationClient() (interfaces.GenerationClient, error) {
	cfg := a.cfg
	switch cfg.GenerationBackend {
	case config.GenerationHTTP:
		return clients.NewHTTPGenerationClient(cfg.GenerationURL, cfg.GenerationTimeout, a.logger), nil
	case config.GenerationOpenAI:
		return clients.NewOpenAIGenerationClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel, cfg.GenerationTimeout, a.logger), nil
	case config.GenerationOllama:
		return clients.NewOllamaGenerationClient(cfg.AIBaseURL, cfg.AIModel, cfg.GenerationTimeout, a.logger)
	case config.GenerationStub:
		return clients.NewStubGenerationClient(cfg.StubDelay, a.logger), nil
	}
	return nil, fmt.Errorf("unknown generation backend '%s'", cfg.GenerationBackend)
}

func (a *app) startMetricsServer(registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	})
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}

	go func() {
		a.logger.Info("Starting metrics server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

// Start запускает установку личности и ждёт, пока её результат будет применён.
func (a *app) Start(ctx context.Context) error {
	done := a.orch.Start(ctx)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close освобождает ресурсы в обратном порядке.
func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

func closeFirestore(client *firestore.Client, log *zap.Logger) {
	if err := client.Close(); err != nil {
		log.Warn("Failed to close Firestore client", zap.Error(err))
	}
}
