// Command sentryaid is the Mission Execution Core process entrypoint: it
// loads configuration, wires the engine backend, the LLM Guardrail Loop, the
// Tool Registry and Dispatch Layer, the Event Fabric, and the Control
// API/Observer channel onto one HTTP listener, then blocks until signaled to
// shut down.
//
// Bootstrap order (config -> telemetry -> engine -> domain services ->
// router -> HTTP server -> signal wait -> graceful shutdown) and the
// ListenAndServe/signal.Notify/Shutdown shape follow
// basegraphhq/basegraph's cmd/server/main.go.
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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	temporalclient "go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/CharanRayudu/SentryAI/internal/api"
	"github.com/CharanRayudu/SentryAI/internal/api/observer"
	"github.com/CharanRayudu/SentryAI/internal/config"
	"github.com/CharanRayudu/SentryAI/internal/engine"
	"github.com/CharanRayudu/SentryAI/internal/engine/inmem"
	"github.com/CharanRayudu/SentryAI/internal/engine/temporal"
	"github.com/CharanRayudu/SentryAI/internal/events"
	"github.com/CharanRayudu/SentryAI/internal/events/bridge"
	"github.com/CharanRayudu/SentryAI/internal/guardrail"
	"github.com/CharanRayudu/SentryAI/internal/guardrail/provider"
	"github.com/CharanRayudu/SentryAI/internal/mission"
	"github.com/CharanRayudu/SentryAI/internal/store"
	"github.com/CharanRayudu/SentryAI/internal/telemetry"
	"github.com/CharanRayudu/SentryAI/internal/tools"
	"github.com/CharanRayudu/SentryAI/internal/tools/registry"
	"github.com/CharanRayudu/SentryAI/internal/tools/sandbox"
)

// Exit codes: 0 success, 1 configuration error, 2 backend connection
// failure.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitBackendFailed = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("SENTRYAID_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sentryaid: load config:", err)
		return exitConfigError
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "sentryaid: invalid config:", err)
		return exitConfigError
	}

	// clue's logger reads its format/debug settings off the context, so this
	// must happen before any component built below ever calls Logger.Info et al.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx = log.Context(ctx, log.WithFormat(format))
	if cfg.LogLevel == "debug" {
		ctx = log.Context(ctx, log.WithDebug())
	}

	logger, metrics, tracer := buildTelemetry(cfg)

	eng, closeEngine, err := buildEngine(ctx, cfg, logger, metrics, tracer)
	if err != nil {
		logger.Error(ctx, "failed to connect engine backend", "error", err)
		return exitBackendFailed
	}
	defer closeEngine()

	toolRegistry, err := registry.New(cfg.Registry.Dir)
	if err != nil {
		logger.Error(ctx, "failed to load tool registry", "error", err)
		return exitConfigError
	}

	dispatcher, closeDispatcher, err := buildDispatcher(cfg, logger)
	if err != nil {
		logger.Error(ctx, "failed to connect tool dispatcher", "error", err)
		return exitBackendFailed
	}
	defer closeDispatcher()

	llmClient, err := buildLLMProvider(cfg)
	if err != nil {
		logger.Error(ctx, "failed to configure LLM provider", "error", err)
		return exitConfigError
	}

	bus := events.NewBus()

	if cfg.Bridge.Enabled {
		closeBridge, err := wireBridge(ctx, cfg, bus, logger)
		if err != nil {
			logger.Error(ctx, "failed to connect event bridge", "error", err)
			return exitBackendFailed
		}
		defer closeBridge()
	}

	deps := &mission.Deps{
		Guardrail:   &guardrail.Loop{Provider: llmClient, Tools: toolRegistry, System: mission.IdentityPrompt},
		ToolLookup:  toolRegistry,
		ToolCatalog: toolRegistry.List(),
		Dispatcher:  dispatcher,
		Events:      bus,
		Notifier:    mission.NoopNotifier{},
	}
	if err := deps.Register(ctx, eng, cfg.Engine.TaskQueue); err != nil {
		logger.Error(ctx, "failed to register mission workflow", "error", err)
		return exitConfigError
	}

	if te, ok := eng.(*temporal.Engine); ok {
		te.Worker(cfg.Engine.TaskQueue)
	}
	if startable, ok := eng.(interface{ Start() error }); ok {
		if err := startable.Start(); err != nil {
			logger.Error(ctx, "failed to start engine worker", "error", err)
			return exitBackendFailed
		}
	}

	missionStore := store.NewInMemoryStore()
	findingIndex := store.NewFindingIndex()

	mgr, err := api.NewManager(eng, cfg.Engine.TaskQueue, missionStore, findingIndex, bus, logger)
	if err != nil {
		logger.Error(ctx, "failed to construct control API manager", "error", err)
		return exitConfigError
	}
	handler := api.NewHandler(mgr)

	hub, err := observer.NewHub(mgr, bus, logger)
	if err != nil {
		logger.Error(ctx, "failed to construct observer hub", "error", err)
		return exitConfigError
	}

	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	handler.Register(router)
	router.GET("/observe", gin.WrapH(hub))

	srv := &http.Server{
		Addr:              cfg.API.Bind,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "control API listening", "addr", cfg.API.Bind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error(ctx, "control API listener failed", "error", err)
			return exitBackendFailed
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "graceful shutdown failed", "error", err)
		return exitBackendFailed
	}
	return exitOK
}

func buildTelemetry(cfg *config.Config) (telemetry.Logger, telemetry.Metrics, telemetry.Tracer) {
	if cfg.LogLevel == "" {
		return telemetry.NewNoopLogger(), telemetry.NewNoopMetrics(), telemetry.NewNoopTracer()
	}
	return telemetry.NewClueLogger(), telemetry.NewClueMetrics(), telemetry.NewClueTracer()
}

// buildEngine dials the configured durable execution backend. The in-memory
// backend never fails to connect; the Temporal backend's dial errors are
// reported as exitBackendFailed.
func buildEngine(ctx context.Context, cfg *config.Config, logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) (engine.Engine, func(), error) {
	switch cfg.Engine.Backend {
	case "inmem":
		return inmem.New(), func() {}, nil
	case "temporal":
		eng, err := temporal.New(temporal.Options{
			ClientOptions: &temporalclient.Options{HostPort: cfg.Engine.Host, Namespace: cfg.Engine.Namespace},
			TaskQueue:     cfg.Engine.TaskQueue,
			Logger:        logger,
			Metrics:       metrics,
			Tracer:        tracer,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("dial temporal at %s: %w", cfg.Engine.Host, err)
		}
		return eng, eng.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown engine backend %q", cfg.Engine.Backend)
	}
}

// buildDispatcher builds the sandbox's Docker client from the environment.
// Only a client configuration error surfaces here (as exitBackendFailed);
// no daemon connection is made at construction, so an unreachable daemon
// shows up on the first tool dispatch instead.
func buildDispatcher(cfg *config.Config, logger telemetry.Logger) (tools.Dispatcher, func(), error) {
	d, err := sandbox.New(sandbox.Options{Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}

// buildLLMProvider selects and constructs the configured model adapter from
// LLM_API_KEY (text providers) or the ambient AWS credential chain (bedrock).
func buildLLMProvider(cfg *config.Config) (provider.Client, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		apiKey := os.Getenv("LLM_API_KEY")
		return provider.NewAnthropicFromAPIKey(apiKey, cfg.LLM.Model)
	case "openai":
		apiKey := os.Getenv("LLM_API_KEY")
		return provider.NewOpenAIFromAPIKey(apiKey, cfg.LLM.Model)
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load aws config for bedrock: %w", err)
		}
		return provider.NewBedrock(provider.BedrockOptions{
			Runtime:      bedrockruntime.NewFromConfig(awsCfg),
			DefaultModel: cfg.LLM.Model,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// wireBridge connects to Redis and registers the Pulse-backed publisher so
// every emitted event is also pushed onto the external event bridge.
func wireBridge(ctx context.Context, cfg *config.Config, bus events.Bus, logger telemetry.Logger) (func(), error) {
	opts, err := redis.ParseURL(cfg.Bridge.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	client, err := bridge.NewClient(bridge.ClientOptions{Redis: rdb})
	if err != nil {
		rdb.Close()
		return nil, err
	}
	pub := bridge.NewPublisher(client)
	sub, err := pub.Register(bus)
	if err != nil {
		rdb.Close()
		return nil, err
	}
	return func() {
		sub.Close()
		rdb.Close()
	}, nil
}
