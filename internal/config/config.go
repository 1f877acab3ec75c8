// Package config loads and validates the Mission Execution Core's process
// configuration: engine connection, event bridge, LLM provider defaults, and
// process-level scope/budget default sections (decoded and validated, but
// not applied to missions by sentryaid).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type (
	// Config is the root process configuration, loaded from a TOML file and
	// overlaid with environment variables for deployment endpoints and the
	// model name. Secrets such as LLM_API_KEY are never stored here.
	Config struct {
		Engine   Engine         `toml:"engine"`
		Bridge   Bridge         `toml:"bridge"`
		LLM      LLM            `toml:"llm"`
		API      API            `toml:"api"`
		Scope    ScopeDefaults  `toml:"scope_defaults"`
		Budget   BudgetDefaults `toml:"budget_defaults"`
		Registry Registry       `toml:"registry"`
		LogLevel string         `toml:"log_level"`
	}

	// Engine configures the durable workflow backend.
	Engine struct {
		Backend   string   `toml:"backend"` // "temporal" or "inmem"
		Host      string   `toml:"host"`    // overridden by TEMPORAL_HOST
		Namespace string   `toml:"namespace"`
		TaskQueue string   `toml:"task_queue"`
		Timeout   Duration `toml:"timeout"`
	}

	// Bridge configures the external event pub/sub.
	Bridge struct {
		Enabled bool   `toml:"enabled"`
		RedisURL string `toml:"redis_url"` // overridden by REDIS_URL
	}

	// LLM configures the default model provider for the Guardrail Loop.
	LLM struct {
		Provider string   `toml:"provider"` // "anthropic", "openai", "bedrock"
		Model    string   `toml:"model"`    // overridden by LLM_MODEL
		Timeout  Duration `toml:"timeout"`
	}

	// API configures the Control API listener.
	API struct {
		Bind string `toml:"bind"`
	}

	// ScopeDefaults holds process-level scope defaults. Nothing in sentryaid
	// reads them: each mission's scope comes from its Control API request.
	ScopeDefaults struct {
		AllowPrivateIPs bool     `toml:"allow_private_ips"`
		AllowLocalhost  bool     `toml:"allow_localhost"`
		SensitivePatterns []string `toml:"sensitive_patterns"`
	}

	// BudgetDefaults holds process-level budget defaults. Nothing in sentryaid
	// reads them: a mission's budget is its request's overrides laid over
	// budget.Default().
	BudgetDefaults struct {
		MaxSteps                 int      `toml:"max_steps"`
		MaxConsecutiveErrors     int      `toml:"max_consecutive_errors"`
		MaxRetriesPerTarget      int      `toml:"max_retries_per_target"`
		MaxCostUSD               float64  `toml:"max_cost_usd"`
		WarningCostThreshold     float64  `toml:"warning_cost_threshold"`
		MaxRuntime               Duration `toml:"max_runtime"`
		MaxIdle                  Duration `toml:"max_idle"`
		LoopDetectionWindow      int      `toml:"loop_detection_window"`
		SimilarityThreshold      float64  `toml:"similarity_threshold"`
		PauseOnWarning           bool     `toml:"pause_on_warning"`
	}

	// Registry configures the on-disk tool schema registry.
	Registry struct {
		Dir string `toml:"dir"`
	}
)

// Default returns the built-in configuration baseline, matching the
// original's CognitiveBudget/ScopeConfig defaults.
func Default() *Config {
	return &Config{
		Engine: Engine{
			Backend:   "inmem",
			Namespace: "default",
			TaskQueue: "sentryai-missions",
			Timeout:   Duration{30 * time.Second},
		},
		Bridge: Bridge{Enabled: false},
		LLM: LLM{
			Provider: "anthropic",
			Timeout:  Duration{60 * time.Second},
		},
		API: API{Bind: ":8080"},
		Scope: ScopeDefaults{
			AllowPrivateIPs: false,
			AllowLocalhost:  false,
		},
		Budget: BudgetDefaults{
			MaxSteps:             50,
			MaxConsecutiveErrors: 3,
			MaxRetriesPerTarget:  3,
			MaxCostUSD:           5.0,
			WarningCostThreshold: 0.8,
			MaxRuntime:           Duration{60 * time.Minute},
			MaxIdle:              Duration{120 * time.Second},
			LoopDetectionWindow:  10,
			SimilarityThreshold:  0.8,
			PauseOnWarning:       true,
		},
		Registry: Registry{Dir: "./tools"},
		LogLevel: "info",
	}
}

// Load reads a TOML file at path into the default configuration, then
// applies environment overrides: TEMPORAL_HOST, REDIS_URL (which also
// enables the bridge) and LLM_MODEL. LLM_API_KEY is read by sentryaid when
// it builds the model provider, not here; UPLOAD_DIR is not read.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TEMPORAL_HOST"); v != "" {
		cfg.Engine.Host = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Bridge.RedisURL = v
		cfg.Bridge.Enabled = true
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
}

// Validate reports a configuration error suitable for exit code 1.
func (c *Config) Validate() error {
	if c.Engine.Backend != "temporal" && c.Engine.Backend != "inmem" {
		return fmt.Errorf("config: unknown engine backend %q", c.Engine.Backend)
	}
	if c.Engine.Backend == "temporal" && c.Engine.Host == "" {
		return fmt.Errorf("config: engine backend temporal requires TEMPORAL_HOST")
	}
	if c.Budget.MaxSteps <= 0 {
		return fmt.Errorf("config: budget_defaults.max_steps must be positive")
	}
	return nil
}
