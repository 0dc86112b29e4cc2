package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/contract-analyzer/internal/agent"
	"github.com/nidhogg/contract-analyzer/internal/api"
	"github.com/nidhogg/contract-analyzer/internal/command"
	"github.com/nidhogg/contract-analyzer/internal/config"
	"github.com/nidhogg/contract-analyzer/internal/gateway"
	"github.com/nidhogg/contract-analyzer/internal/logging"
	"github.com/nidhogg/contract-analyzer/internal/metrics"
	"github.com/nidhogg/contract-analyzer/internal/orchestrator"
	"github.com/nidhogg/contract-analyzer/internal/provider"
	msgrouter "github.com/nidhogg/contract-analyzer/internal/router"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/analyzer.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Server.LogLevel, cfg.Server.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting contract analyzer...", zap.String("config", cfgPath))
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize provider router
	router := provider.NewRouter(logger, provider.BreakerSettings{
		Enabled:          cfg.Breaker.Enabled,
		MinRequests:      cfg.Breaker.MinRequests,
		FailureRatio:     cfg.Breaker.FailureRatio,
		OpenTimeout:      time.Duration(cfg.Breaker.OpenTimeoutSeconds) * time.Second,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
	})
	for _, pc := range cfg.Providers {
		p, err := provider.New(provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
			Timeout: time.Duration(pc.TimeoutSeconds) * time.Second,
		}, logger)
		if err != nil {
			logger.Warn("skipping provider", zap.String("id", pc.ID), zap.Error(err))
			continue
		}
		router.Register(p)
	}
	router.SetDefault(cfg.Analysis.Provider)
	primary, _ := cfg.AnalysisProvider()
	for _, p := range agent.Profiles() {
		router.Bind(string(p.ID), primary.ID)
		if len(primary.Fallbacks) > 0 {
			router.SetFallbacks(string(p.ID), primary.Fallbacks)
		}
	}

	// Analysts and pipeline
	agentCfg := agent.Config{
		Model:         cfg.Analysis.Model,
		MaxInputChars: cfg.Analysis.MaxInputChars,
		Timeout:       cfg.AnalysisTimeout(),
		MaxTokens:     cfg.Analysis.MaxTokens,
		Temperature:   cfg.Analysis.Temperature,
	}
	gen := agent.NewRouterGenerator(router)
	analysts := agent.NewAnalysts(gen, agentCfg, logger)
	workers := make([]orchestrator.Worker, len(analysts))
	for i, a := range analysts {
		workers[i] = a
	}

	m := metrics.New()
	opts := []orchestrator.Option{orchestrator.WithRecorder(m)}

	// Event bus (optional)
	var bus *orchestrator.RedisBus
	if cfg.Events.RedisURL != "" {
		bus, err = orchestrator.NewRedisBus(ctx, cfg.Events.RedisURL, cfg.Events.Stream, cfg.Events.MaxLen, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without event bus", zap.Error(err))
			bus = nil
		} else {
			opts = append(opts, orchestrator.WithPublisher(bus))
			logger.Info("Event bus connected", zap.String("stream", bus.Stream()))
		}
	}

	pipeline := orchestrator.NewPipeline(workers, agent.NewManager(gen, agentCfg, logger), logger, opts...)

	// Gateway adapters
	gw := gateway.NewGateway(logger)
	restAdapter := gateway.NewRESTAdapter(0, logger)
	gw.Register(restAdapter)
	if sc := cfg.Gateway.Slack; sc.Enabled {
		gw.Register(gateway.NewSlackAdapter(sc.BotToken, sc.AppToken, logger))
	}
	if dc := cfg.Gateway.Discord; dc.Enabled {
		gw.Register(gateway.NewDiscordAdapter(dc.BotToken, logger))
	}
	if tc := cfg.Gateway.Telegram; tc.Enabled {
		gw.Register(gateway.NewTelegramAdapter(tc.BotToken, logger))
	}

	// Slash commands and message routing
	cmdRegistry := command.NewRegistry()
	command.RegisterBuiltins(cmdRegistry, gw)
	command.RegisterProviderCommands(cmdRegistry, router)

	msgRouter := msgrouter.New(gw, pipeline, cmdRegistry, logger)
	gw.SetHandler(msgRouter.Handle)

	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	// Build HTTP handler
	var events api.EventSource
	if bus != nil {
		events = bus
	}
	handler := api.NewHandler(pipeline, router, restAdapter, gw, events, m, cfg.MaxUploadBytes(), logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Contract analyzer listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("Shutting down contract analyzer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := msgRouter.Close(shutdownCtx); err != nil {
		logger.Warn("in-flight analyses canceled", zap.Error(err))
	}
	if err := gw.Close(); err != nil {
		logger.Warn("gateway close", zap.Error(err))
	}
	if bus != nil {
		bus.Close()
	}
	logger.Info("Contract analyzer stopped")
}
