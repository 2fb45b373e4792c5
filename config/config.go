package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvConfigPath names the environment variable that points at an explicit config file
const EnvConfigPath = "AUDITBOX_CONFIG"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport   string `mapstructure:"transport"`
	HTTPPort    int    `mapstructure:"http_port"`
	RESTPort    int    `mapstructure:"rest_port"`
	MaxUploadMB int    `mapstructure:"max_upload_mb"`
}

// SandboxConfig holds execution strategy and resource limit configuration
type SandboxConfig struct {
	Strategy            string  `mapstructure:"strategy"`
	Runtime             string  `mapstructure:"runtime"`
	Image               string  `mapstructure:"image"`
	ContainerTimeoutSec int     `mapstructure:"container_timeout_sec"`
	LocalTimeoutSec     int     `mapstructure:"local_timeout_sec"`
	MemoryMB            int     `mapstructure:"memory_mb"`
	CPUs                float64 `mapstructure:"cpus"`
	PidsLimit           int     `mapstructure:"pids_limit"`
	TmpfsSizeMB         int     `mapstructure:"tmpfs_size_mb"`
	MaxOutputKB         int     `mapstructure:"max_output_kb"`
	MaxConcurrent       int     `mapstructure:"max_concurrent"`
	KillGraceSec        int     `mapstructure:"kill_grace_sec"`
	ProbeTimeoutSec     int     `mapstructure:"probe_timeout_sec"`
	AllowUnsandboxed    bool    `mapstructure:"allow_unsandboxed"`
}

// AnalyzerConfig describes the external analyzer invocation
type AnalyzerConfig struct {
	Binary           string   `mapstructure:"binary"`
	Args             []string `mapstructure:"args"`
	ExtraArgs        string   `mapstructure:"extra_args"`
	SourceExtensions []string `mapstructure:"source_extensions"`
}

// WorkspaceConfig holds scratch directory settings
type WorkspaceConfig struct {
	Root   string `mapstructure:"root"`
	Prefix string `mapstructure:"prefix"`
}

// ArchiveConfig bounds archive extraction
type ArchiveConfig struct {
	MaxFiles          int `mapstructure:"max_files"`
	MaxUncompressedMB int `mapstructure:"max_uncompressed_mb"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Strategy and runtime names
const (
	StrategyContainer = "container"
	StrategyLocal     = "local"
	RuntimeDocker     = "docker"
	RuntimePodman     = "podman"
)

// New loads and validates the application configuration.
// The file named by AUDITBOX_CONFIG wins over config.yaml lookups.
func New() (*Config, error) {
	return Load(os.Getenv(EnvConfigPath))
}

// Load reads configuration from path, or from config.yaml in the default
// locations when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AUDITBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// Default returns the built-in defaults without reading files or environment
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.rest_port", 8000)
	v.SetDefault("server.max_upload_mb", 10)

	v.SetDefault("sandbox.strategy", StrategyLocal)
	v.SetDefault("sandbox.runtime", RuntimeDocker)
	v.SetDefault("sandbox.image", "hexific-slither:latest")
	v.SetDefault("sandbox.container_timeout_sec", 180)
	v.SetDefault("sandbox.local_timeout_sec", 120)
	v.SetDefault("sandbox.memory_mb", 512)
	v.SetDefault("sandbox.cpus", 1.0)
	v.SetDefault("sandbox.pids_limit", 128)
	v.SetDefault("sandbox.tmpfs_size_mb", 100)
	v.SetDefault("sandbox.max_output_kb", 4096)
	v.SetDefault("sandbox.max_concurrent", 4)
	v.SetDefault("sandbox.kill_grace_sec", 5)
	v.SetDefault("sandbox.probe_timeout_sec", 5)
	v.SetDefault("sandbox.allow_unsandboxed", true)

	v.SetDefault("analyzer.binary", "slither")
	v.SetDefault("analyzer.args", []string{"--json", "-"})
	v.SetDefault("analyzer.extra_args", "")
	v.SetDefault("analyzer.source_extensions", []string{".sol"})

	v.SetDefault("workspace.root", "")
	v.SetDefault("workspace.prefix", "auditbox-")

	v.SetDefault("archive.max_files", 2000)
	v.SetDefault("archive.max_uncompressed_mb", 50)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.RESTPort < 0 {
		return fmt.Errorf("server.rest_port must not be negative, got: %d", c.Server.RESTPort)
	}

	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive, got: %d", c.Server.MaxUploadMB)
	}

	if c.Sandbox.Strategy != StrategyContainer && c.Sandbox.Strategy != StrategyLocal {
		return fmt.Errorf("invalid sandbox.strategy: %s, must be 'container' or 'local'", c.Sandbox.Strategy)
	}

	if c.Sandbox.Runtime != RuntimeDocker && c.Sandbox.Runtime != RuntimePodman {
		return fmt.Errorf("invalid sandbox.runtime: %s, must be 'docker' or 'podman'", c.Sandbox.Runtime)
	}

	if c.Sandbox.Strategy == StrategyContainer && c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image is required for the container strategy")
	}

	if c.Sandbox.Strategy == StrategyLocal && !c.Sandbox.AllowUnsandboxed {
		return fmt.Errorf("sandbox.strategy 'local' requires sandbox.allow_unsandboxed")
	}

	if c.Sandbox.LocalTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.local_timeout_sec must be positive, got: %d", c.Sandbox.LocalTimeoutSec)
	}

	if c.Sandbox.ContainerTimeoutSec < c.Sandbox.LocalTimeoutSec {
		return fmt.Errorf("sandbox.container_timeout_sec (%d) must not be shorter than sandbox.local_timeout_sec (%d)",
			c.Sandbox.ContainerTimeoutSec, c.Sandbox.LocalTimeoutSec)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.CPUs <= 0 {
		return fmt.Errorf("sandbox.cpus must be positive, got: %g", c.Sandbox.CPUs)
	}

	if c.Sandbox.PidsLimit <= 0 {
		return fmt.Errorf("sandbox.pids_limit must be positive, got: %d", c.Sandbox.PidsLimit)
	}

	if c.Sandbox.TmpfsSizeMB <= 0 {
		return fmt.Errorf("sandbox.tmpfs_size_mb must be positive, got: %d", c.Sandbox.TmpfsSizeMB)
	}

	if c.Sandbox.MaxOutputKB <= 0 {
		return fmt.Errorf("sandbox.max_output_kb must be positive, got: %d", c.Sandbox.MaxOutputKB)
	}

	if c.Sandbox.MaxConcurrent <= 0 {
		return fmt.Errorf("sandbox.max_concurrent must be positive, got: %d", c.Sandbox.MaxConcurrent)
	}

	if c.Sandbox.KillGraceSec <= 0 {
		return fmt.Errorf("sandbox.kill_grace_sec must be positive, got: %d", c.Sandbox.KillGraceSec)
	}

	if c.Sandbox.ProbeTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.probe_timeout_sec must be positive, got: %d", c.Sandbox.ProbeTimeoutSec)
	}

	if c.Analyzer.Binary == "" {
		return fmt.Errorf("analyzer.binary is required")
	}

	if len(c.Analyzer.SourceExtensions) == 0 {
		return fmt.Errorf("analyzer.source_extensions must not be empty")
	}
	for _, ext := range c.Analyzer.SourceExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("invalid analyzer.source_extensions entry: %q, must start with '.'", ext)
		}
	}

	if c.Workspace.Prefix == "" || strings.ContainsAny(c.Workspace.Prefix, `/\`) {
		return fmt.Errorf("invalid workspace.prefix: %q", c.Workspace.Prefix)
	}

	if c.Archive.MaxFiles <= 0 {
		return fmt.Errorf("archive.max_files must be positive, got: %d", c.Archive.MaxFiles)
	}

	if c.Archive.MaxUncompressedMB <= 0 {
		return fmt.Errorf("archive.max_uncompressed_mb must be positive, got: %d", c.Archive.MaxUncompressedMB)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// ContainerTimeout returns the container strategy timeout as a duration
func (c *Config) ContainerTimeout() time.Duration {
	return time.Duration(c.Sandbox.ContainerTimeoutSec) * time.Second
}

// LocalTimeout returns the local strategy timeout as a duration
func (c *Config) LocalTimeout() time.Duration {
	return time.Duration(c.Sandbox.LocalTimeoutSec) * time.Second
}

// KillGrace returns the delay between SIGTERM and SIGKILL
func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.Sandbox.KillGraceSec) * time.Second
}

// ProbeTimeout returns the container runtime probe timeout
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Sandbox.ProbeTimeoutSec) * time.Second
}

// MaxOutputBytes returns the per-stream capture limit in bytes
func (c *Config) MaxOutputBytes() int {
	return c.Sandbox.MaxOutputKB * 1024
}

// MaxUncompressedBytes returns the archive extraction ceiling in bytes
func (c *Config) MaxUncompressedBytes() int64 {
	return int64(c.Archive.MaxUncompressedMB) * 1024 * 1024
}

// MaxUploadBytes returns the REST upload ceiling in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) * 1024 * 1024
}
