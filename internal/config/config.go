package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Bridge    BridgeConfig    `koanf:"bridge"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Guard     GuardConfig     `koanf:"guard"`
	Executor  ExecutorConfig  `koanf:"executor"`
	Sandbox   SandboxConfig   `koanf:"sandbox"`
	Command   CommandConfig   `koanf:"command"`
	Audit     AuditConfig     `koanf:"audit"`
	Sweeper   SweeperConfig   `koanf:"sweeper"`
}

type ServerConfig struct {
	Addr            string `koanf:"addr"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type StoreConfig struct {
	Path string `koanf:"path"`
}

type BridgeConfig struct {
	ConversationTTL string `koanf:"conversation_ttl"`
	MaxMessageBytes int    `koanf:"max_message_bytes"`
	MaxFiles        int    `koanf:"max_files"`
	AliveWithin     string `koanf:"alive_within"`
}

type RateLimitConfig struct {
	PerMinute int `koanf:"per_minute"`
	PerHour   int `koanf:"per_hour"`
	PerDay    int `koanf:"per_day"`
}

// GuardConfig gates command execution. Optin must be set explicitly
// (KAKEHASHI_GUARD_OPTIN=1); without it every guard stage past Disabled is
// unreachable.
type GuardConfig struct {
	Optin         bool   `koanf:"optin"`
	ConfirmPhrase string `koanf:"confirm_phrase"`
	StageTTL      string `koanf:"stage_ttl"`
	TokenTTL      string `koanf:"token_ttl"`
	StateDir      string `koanf:"state_dir"`
}

type ExecutorConfig struct {
	DefaultTimeout string `koanf:"default_timeout"`
	MaxOutputBytes int    `koanf:"max_output_bytes"`
}

type SandboxConfig struct {
	Image       string `koanf:"image"`
	MemoryBytes int64  `koanf:"memory_bytes"`
	NanoCPUs    int64  `koanf:"nano_cpus"`
	PidsLimit   int64  `koanf:"pids_limit"`
}

// CommandConfig appends blocked patterns to the built-in table. Built-ins can
// never be removed through configuration.
type CommandConfig struct {
	ExtraBlocked []string `koanf:"extra_blocked"`
}

type AuditConfig struct {
	MirrorPath string `koanf:"mirror_path"`
}

type SweeperConfig struct {
	Schedule string `koanf:"schedule"`
}

const (
	DefaultServerAddr            = ":8377"
	DefaultServerLogLevel        = "info"
	DefaultServerReadTimeout     = "10s"
	DefaultServerWriteTimeout    = "10s"
	DefaultServerShutdownTimeout = "5s"
	DefaultBridgeConversationTTL = "3h"
	DefaultBridgeMaxMessageBytes = 50000
	DefaultBridgeMaxFiles        = 20
	DefaultBridgeAliveWithin     = "120s"
	DefaultRateLimitPerMinute    = 10
	DefaultRateLimitPerHour      = 100
	DefaultRateLimitPerDay       = 500
	DefaultGuardConfirmPhrase    = "I UNDERSTAND THE RISKS"
	DefaultGuardStageTTL         = "10m"
	DefaultGuardTokenTTL         = "5m"
	DefaultExecutorTimeout       = "30s"
	DefaultExecutorMaxOutput     = 64 * 1024
	DefaultSandboxImage          = "python:3.11-slim"
	DefaultSandboxMemoryBytes    = 512 * 1024 * 1024
	DefaultSandboxNanoCPUs       = 1_000_000_000
	DefaultSandboxPidsLimit      = 256
	DefaultSweeperSchedule       = "@every 1m"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".kakehashi")

	defaults := map[string]interface{}{
		"server.addr":              DefaultServerAddr,
		"server.log_level":         DefaultServerLogLevel,
		"server.read_timeout":      DefaultServerReadTimeout,
		"server.write_timeout":     DefaultServerWriteTimeout,
		"server.shutdown_timeout":  DefaultServerShutdownTimeout,
		"store.path":               filepath.Join(base, "bridge.db"),
		"bridge.conversation_ttl":  DefaultBridgeConversationTTL,
		"bridge.max_message_bytes": DefaultBridgeMaxMessageBytes,
		"bridge.max_files":         DefaultBridgeMaxFiles,
		"bridge.alive_within":      DefaultBridgeAliveWithin,
		"ratelimit.per_minute":     DefaultRateLimitPerMinute,
		"ratelimit.per_hour":       DefaultRateLimitPerHour,
		"ratelimit.per_day":        DefaultRateLimitPerDay,
		"guard.optin":              false,
		"guard.confirm_phrase":     DefaultGuardConfirmPhrase,
		"guard.stage_ttl":          DefaultGuardStageTTL,
		"guard.token_ttl":          DefaultGuardTokenTTL,
		"guard.state_dir":          filepath.Join(base, "guard"),
		"executor.default_timeout": DefaultExecutorTimeout,
		"executor.max_output_bytes": DefaultExecutorMaxOutput,
		"sandbox.image":            DefaultSandboxImage,
		"sandbox.memory_bytes":     DefaultSandboxMemoryBytes,
		"sandbox.nano_cpus":        DefaultSandboxNanoCPUs,
		"sandbox.pids_limit":       DefaultSandboxPidsLimit,
		"command.extra_blocked":    []string{},
		"audit.mirror_path":        filepath.Join(base, "audit.log"),
		"sweeper.schedule":         DefaultSweeperSchedule,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		globalPath := filepath.Join(base, "config.yaml")
		if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
			slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
		}
	}

	k.Load(env.Provider("KAKEHASHI_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "KAKEHASHI_")), "_", ".", 1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
