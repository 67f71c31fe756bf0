// Package config loads orcd's daemon configuration from a layered set of
// YAML files plus environment variable overrides. Grounded on the
// teacher's internal/config package: the same layered
// defaults->system->user->project->env load order, the same
// ConfigFileName/OrcDir-style constants, and gopkg.in/yaml.v3 parsing,
// scoped down from the teacher's phase/gate/review surface to exactly the
// settings the orchestrator daemon needs.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the default config file name within any config dir.
	ConfigFileName = "config.yaml"
	// OrcdDir is the project-local config directory.
	OrcdDir = ".orcd"
	// SystemConfigPath is the system-wide config file, loaded if present.
	SystemConfigPath = "/etc/orcd/config.yaml"
)

// PoolConfig controls the worker container pool.
type PoolConfig struct {
	// Size is the number of worker slots (= max concurrent tasks).
	Size int `yaml:"size"`
	// Image is the container image run for each task.
	Image string `yaml:"image"`
}

// ServerConfig controls the internal status-callback/metrics HTTP server.
type ServerConfig struct {
	// ListenAddr is the address the server binds, e.g. "127.0.0.1:8088".
	ListenAddr string `yaml:"listen_addr"`
	// ManagerURL is the base URL containers use to reach the server
	// (MANAGER_URL in the container contract). May differ from
	// ListenAddr when the daemon runs behind a different network
	// namespace than its containers.
	ManagerURL string `yaml:"manager_url"`
}

// TimeoutsConfig holds every blocking-operation deadline in the system.
type TimeoutsConfig struct {
	Fetch          time.Duration `yaml:"fetch"`
	Clone          time.Duration `yaml:"clone"`
	MergeAndTest   time.Duration `yaml:"merge_and_test"`
	ContainerWait  time.Duration `yaml:"container_wait"`
	PlanGeneration time.Duration `yaml:"plan_generation"`
}

// GitConfig controls the git worktree controller.
type GitConfig struct {
	// MergeTestScript is the path to the project-provided merge-and-test
	// script run under the per-project git lock.
	MergeTestScript string `yaml:"merge_test_script"`
}

// Config is the daemon's full configuration.
type Config struct {
	// DataDir is the root directory for the registry, worktrees, and logs.
	DataDir string `yaml:"data_dir"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format"`
	// ForwardEnv lists environment variable names forwarded verbatim from
	// the daemon's own environment into every worker container (the
	// "forwarded credentials" the container contract promises).
	ForwardEnv []string `yaml:"forward_env"`

	Pool     PoolConfig     `yaml:"pool"`
	Server   ServerConfig   `yaml:"server"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Git      GitConfig      `yaml:"git"`
}

// Default returns the built-in configuration, used as the base layer
// before any file or environment overrides are applied.
func Default() *Config {
	return &Config{
		DataDir:   "/var/lib/orcd",
		LogLevel:  "info",
		LogFormat: "json",
		ForwardEnv: []string{
			"ANTHROPIC_API_KEY",
			"GIT_ASKPASS",
			"GIT_SSH_COMMAND",
		},
		Pool: PoolConfig{
			Size:  4,
			Image: "orcd/agent:latest",
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8088",
			ManagerURL: "http://127.0.0.1:8088",
		},
		Timeouts: TimeoutsConfig{
			Fetch:          120 * time.Second,
			Clone:          300 * time.Second,
			MergeAndTest:   600 * time.Second,
			ContainerWait:  1800 * time.Second,
			PlanGeneration: 600 * time.Second,
		},
		Git: GitConfig{
			MergeTestScript: "",
		},
	}
}

// Load runs the full layered load: built-in defaults, then (if present)
// the system config, the user config, a project-local config, and finally
// environment variable overrides. System/user config errors are logged
// and skipped; a project config that exists but fails to parse is fatal,
// matching the teacher's loader.
func Load(projectDir string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(SystemConfigPath); err == nil {
		if err := mergeFile(cfg, SystemConfigPath); err != nil {
			slog.Warn("failed to load system config", "path", SystemConfigPath, "error", err)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, OrcdDir, ConfigFileName)
		if _, err := os.Stat(userPath); err == nil {
			if err := mergeFile(cfg, userPath); err != nil {
				slog.Warn("failed to load user config", "path", userPath, "error", err)
			}
		}
	}

	if projectDir != "" {
		projectPath := filepath.Join(projectDir, OrcdDir, ConfigFileName)
		if _, err := os.Stat(projectPath); err == nil {
			if err := mergeFile(cfg, projectPath); err != nil {
				return nil, fmt.Errorf("load project config %s: %w", projectPath, err)
			}
		}
	}

	applyEnv(cfg)

	return cfg, nil
}

// mergeFile loads a YAML file and merges any field it sets over cfg.
// Unlike the teacher's source-tracked merge, orcd does not need to report
// which layer set which field, so this overlays the raw-decoded partial
// config directly onto the running Config rather than tracking per-field
// provenance.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	mergeInto(cfg, &partial, data)
	return nil
}

// mergeInto overlays the fields present in the raw YAML document onto cfg.
// Presence is determined by decoding into a generic map first so that an
// explicit zero value (e.g. pool.size: 0) is honored rather than treated
// as "unset".
func mergeInto(cfg *Config, partial *Config, raw []byte) {
	var present map[string]any
	if err := yaml.Unmarshal(raw, &present); err != nil {
		return
	}

	if _, ok := present["data_dir"]; ok {
		cfg.DataDir = partial.DataDir
	}
	if _, ok := present["log_level"]; ok {
		cfg.LogLevel = partial.LogLevel
	}
	if _, ok := present["log_format"]; ok {
		cfg.LogFormat = partial.LogFormat
	}
	if _, ok := present["forward_env"]; ok {
		cfg.ForwardEnv = partial.ForwardEnv
	}

	if pool, ok := present["pool"].(map[string]any); ok {
		if _, ok := pool["size"]; ok {
			cfg.Pool.Size = partial.Pool.Size
		}
		if _, ok := pool["image"]; ok {
			cfg.Pool.Image = partial.Pool.Image
		}
	}

	if server, ok := present["server"].(map[string]any); ok {
		if _, ok := server["listen_addr"]; ok {
			cfg.Server.ListenAddr = partial.Server.ListenAddr
		}
		if _, ok := server["manager_url"]; ok {
			cfg.Server.ManagerURL = partial.Server.ManagerURL
		}
	}

	if tm, ok := present["timeouts"].(map[string]any); ok {
		if _, ok := tm["fetch"]; ok {
			cfg.Timeouts.Fetch = partial.Timeouts.Fetch
		}
		if _, ok := tm["clone"]; ok {
			cfg.Timeouts.Clone = partial.Timeouts.Clone
		}
		if _, ok := tm["merge_and_test"]; ok {
			cfg.Timeouts.MergeAndTest = partial.Timeouts.MergeAndTest
		}
		if _, ok := tm["container_wait"]; ok {
			cfg.Timeouts.ContainerWait = partial.Timeouts.ContainerWait
		}
		if _, ok := tm["plan_generation"]; ok {
			cfg.Timeouts.PlanGeneration = partial.Timeouts.PlanGeneration
		}
	}

	if git, ok := present["git"].(map[string]any); ok {
		if _, ok := git["merge_test_script"]; ok {
			cfg.Git.MergeTestScript = partial.Git.MergeTestScript
		}
	}
}

