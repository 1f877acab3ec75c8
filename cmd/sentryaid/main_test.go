package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CharanRayudu/SentryAI/internal/config"
	"github.com/CharanRayudu/SentryAI/internal/engine/inmem"
	"github.com/CharanRayudu/SentryAI/internal/telemetry"
)

func TestBuildTelemetryPicksNoopWhenLogLevelUnset(t *testing.T) {
	logger, metrics, tracer := buildTelemetry(&config.Config{})
	require.IsType(t, telemetry.NoopLogger{}, logger)
	require.IsType(t, telemetry.NoopMetrics{}, metrics)
	require.IsType(t, telemetry.NoopTracer{}, tracer)
}

func TestBuildTelemetryPicksClueWhenLogLevelSet(t *testing.T) {
	logger, metrics, tracer := buildTelemetry(&config.Config{LogLevel: "info"})
	require.IsType(t, telemetry.ClueLogger{}, logger)
	require.IsType(t, &telemetry.ClueMetrics{}, metrics)
	require.IsType(t, &telemetry.ClueTracer{}, tracer)
}

func TestBuildEngineInmemNeverFails(t *testing.T) {
	cfg := &config.Config{Engine: config.Engine{Backend: "inmem"}}
	eng, closeFn, err := buildEngine(context.Background(), cfg, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics(), telemetry.NewNoopTracer())
	require.NoError(t, err)
	require.IsType(t, inmem.New(), eng)
	closeFn()
}

func TestBuildEngineRejectsUnknownBackend(t *testing.T) {
	cfg := &config.Config{Engine: config.Engine{Backend: "sqs"}}
	_, _, err := buildEngine(context.Background(), cfg, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics(), telemetry.NewNoopTracer())
	require.Error(t, err)
}

func TestBuildDispatcherConstructsWithoutDialingDaemon(t *testing.T) {
	d, closeFn, err := buildDispatcher(&config.Config{}, telemetry.NewNoopLogger())
	require.NoError(t, err)
	require.NotNil(t, d)
	closeFn()
}

func TestBuildLLMProviderRejectsUnknownProvider(t *testing.T) {
	_, err := buildLLMProvider(&config.Config{LLM: config.LLM{Provider: "llama"}})
	require.Error(t, err)
}

func TestBuildLLMProviderRejectsMissingAnthropicAPIKey(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	_, err := buildLLMProvider(&config.Config{LLM: config.LLM{Provider: "anthropic", Model: "claude-x"}})
	require.Error(t, err)
}

func TestBuildLLMProviderConstructsAnthropicWithAPIKey(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	p, err := buildLLMProvider(&config.Config{LLM: config.LLM{Provider: "anthropic", Model: "claude-x"}})
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestWireBridgeRejectsInvalidRedisURL(t *testing.T) {
	cfg := &config.Config{Bridge: config.Bridge{RedisURL: "not-a-valid-redis-url"}}
	_, err := wireBridge(context.Background(), cfg, nil, telemetry.NewNoopLogger())
	require.Error(t, err)
}
