// Package config loads server configuration: defaults, then a TOML file,
// then TRACEPAD_* environment variables (env wins).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	LLM      LLMConfig      `toml:"llm"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Session  SessionConfig  `toml:"session"`
	Observer ObserverConfig `toml:"observer"`
}

type ServerConfig struct {
	Addr   string `toml:"addr"`
	Secret string `toml:"secret"`
}

type LLMConfig struct {
	Model           string `toml:"model"`
	APIKey          string `toml:"api_key"`
	BaseURL         string `toml:"base_url"`
	ReasoningEffort string `toml:"reasoning_effort"`
}

type SandboxConfig struct {
	Image       string   `toml:"image"`
	StateRoot   string   `toml:"state_root"`
	AppName     string   `toml:"app_name"`
	CPUs        float64  `toml:"cpus"`
	MemoryMiB   int64    `toml:"memory_mib"`
	Timeout     duration `toml:"timeout"`
	IdleTimeout duration `toml:"idle_timeout"`
	MaxRuntime  duration `toml:"max_runtime"`
	// InitScript is Python run once in every freshly started sandbox,
	// before the first user snippet.
	InitScript string `toml:"init_script"`
}

type SessionConfig struct {
	TTL      duration `toml:"ttl"`
	Capacity int      `toml:"capacity"`
}

type ObserverConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// duration parses TOML strings like "300s" or "2h".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// Std returns the plain time.Duration.
func (d duration) Std() time.Duration { return time.Duration(d) }

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		LLM: LLMConfig{
			Model:           "gpt-4o",
			BaseURL:         "https://api.openai.com/v1",
			ReasoningEffort: "low",
		},
		Sandbox: SandboxConfig{
			Image:       "tracepad-sandbox:latest",
			StateRoot:   "/var/lib/tracepad/sandboxes",
			AppName:     "tracepad-sandbox",
			CPUs:        4,
			MemoryMiB:   4096,
			Timeout:     duration(2 * time.Hour),
			IdleTimeout: duration(30 * time.Minute),
			MaxRuntime:  duration(300 * time.Second),
		},
		Session: SessionConfig{
			TTL:      duration(30 * time.Minute),
			Capacity: 1000,
		},
		Observer: ObserverConfig{Endpoint: "localhost:4318"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "tracepad.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("TRACEPAD_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("TRACEPAD_SECRET"); v != "" {
		cfg.Server.Secret = v
	}
	if v := os.Getenv("TRACEPAD_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("TRACEPAD_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("TRACEPAD_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("TRACEPAD_SANDBOX_IMAGE"); v != "" {
		cfg.Sandbox.Image = v
	}
	if v := os.Getenv("TRACEPAD_SANDBOX_STATE_ROOT"); v != "" {
		cfg.Sandbox.StateRoot = v
	}
	if v := os.Getenv("TRACEPAD_OTLP_ENDPOINT"); v != "" {
		cfg.Observer.Endpoint = v
	}
	if v := os.Getenv("TRACEPAD_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
