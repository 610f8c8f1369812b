// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Spool     SpoolConfig     `mapstructure:"spool"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Router    RouterConfig    `mapstructure:"router"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// StoreConfig holds the embedded database configuration.
type StoreConfig struct {
	DatabasePath string `mapstructure:"databasePath"`
}

// SpoolConfig holds the file-backed event spool configuration.
type SpoolConfig struct {
	EventDir string `mapstructure:"eventDir"`
}

// WorkspaceConfig holds agent workspace and local project directories.
type WorkspaceConfig struct {
	WorkspacesDir string `mapstructure:"workspacesDir"`
	ProjectsDir   string `mapstructure:"projectsDir"`
}

// DockerConfig holds Docker sandbox configuration.
type DockerConfig struct {
	Host        string `mapstructure:"host"`
	APIVersion  string `mapstructure:"apiVersion"`
	Image       string `mapstructure:"image"`       // agent sandbox image
	NetworkMode string `mapstructure:"networkMode"` // e.g. bridge, host
	MemoryBytes int64  `mapstructure:"memoryBytes"` // per-sandbox memory cap
	CPUQuota    int64  `mapstructure:"cpuQuota"`    // per-sandbox CPU quota (microseconds per 100ms)
}

// QueueConfig holds the queue processor configuration.
type QueueConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"intervalSeconds"`
	// UseEvents routes claimed tasks through the event spool instead of
	// spawning agents directly.
	UseEvents bool `mapstructure:"useEvents"`
}

// RouterConfig holds the event router configuration.
type RouterConfig struct {
	IntervalSeconds int `mapstructure:"intervalSeconds"`
}

// GitHubConfig holds source-control credentials used by agent workspaces.
type GitHubConfig struct {
	Token string `mapstructure:"token"`
	Owner string `mapstructure:"owner"`
}

// UpstreamConfig holds the upstream task store endpoint.
type UpstreamConfig struct {
	URL  string `mapstructure:"url"`
	Port int    `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Interval returns the queue processor tick interval.
func (q *QueueConfig) Interval() time.Duration {
	return time.Duration(q.IntervalSeconds) * time.Second
}

// Interval returns the event router poll interval.
func (r *RouterConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

// BaseURL returns the upstream task store base URL, applying the port when
// only a host is configured.
func (u *UpstreamConfig) BaseURL() string {
	url := strings.TrimSuffix(u.URL, "/")
	if url == "" {
		return ""
	}
	if u.Port > 0 && !strings.Contains(strings.TrimPrefix(strings.TrimPrefix(url, "http://"), "https://"), ":") {
		return fmt.Sprintf("%s:%d", url, u.Port)
	}
	return url
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("ORCHESTRATOR_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3020)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Store defaults
	v.SetDefault("store.databasePath", "orchestrator.db")

	// Spool defaults
	v.SetDefault("spool.eventDir", "events")

	// Workspace defaults
	v.SetDefault("workspace.workspacesDir", "workspaces")
	v.SetDefault("workspace.projectsDir", "")

	// Docker defaults
	v.SetDefault("docker.host", "unix:///var/run/docker.sock")
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.image", "vibesuite/agent-sandbox:latest")
	v.SetDefault("docker.networkMode", "bridge")
	v.SetDefault("docker.memoryBytes", int64(2)<<30) // 2 GiB
	v.SetDefault("docker.cpuQuota", int64(100000))   // 1 vCPU

	// Queue defaults
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.intervalSeconds", 5)
	v.SetDefault("queue.useEvents", false)

	// Router defaults
	v.SetDefault("router.intervalSeconds", 5)

	// GitHub defaults
	v.SetDefault("github.token", "")
	v.SetDefault("github.owner", "")

	// Upstream defaults
	v.SetDefault("upstream.url", "")
	v.SetDefault("upstream.port", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix ORCHESTRATOR_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/orchestrator/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the flat env var names the deployment uses.
	// AutomaticEnv does not handle camelCase config keys, so keys whose env
	// naming differs from the config key naming are bound here.
	_ = v.BindEnv("server.port", "PORT", "ORCHESTRATOR_SERVER_PORT")
	_ = v.BindEnv("store.databasePath", "DATABASE_PATH", "ORCHESTRATOR_STORE_DATABASE_PATH")
	_ = v.BindEnv("spool.eventDir", "EVENT_DIR", "ORCHESTRATOR_SPOOL_EVENT_DIR")
	_ = v.BindEnv("workspace.workspacesDir", "WORKSPACES_DIR", "ORCHESTRATOR_WORKSPACE_WORKSPACES_DIR")
	_ = v.BindEnv("workspace.projectsDir", "PROJECTS_DIR", "ORCHESTRATOR_WORKSPACE_PROJECTS_DIR")
	_ = v.BindEnv("github.token", "GITHUB_TOKEN", "ORCHESTRATOR_GITHUB_TOKEN")
	_ = v.BindEnv("github.owner", "GITHUB_OWNER", "ORCHESTRATOR_GITHUB_OWNER")
	_ = v.BindEnv("queue.enabled", "ENABLE_QUEUE_PROCESSOR")
	_ = v.BindEnv("queue.useEvents", "USE_MULTI_AGENT_EVENTS")
	_ = v.BindEnv("upstream.url", "VIBE_SUITE_URL")
	_ = v.BindEnv("upstream.port", "VIBE_SUITE_PORT")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/orchestrator/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Store.DatabasePath == "" {
		errs = append(errs, "store.databasePath is required")
	}

	if cfg.Spool.EventDir == "" {
		errs = append(errs, "spool.eventDir is required")
	}

	if cfg.Workspace.WorkspacesDir == "" {
		errs = append(errs, "workspace.workspacesDir is required")
	}

	if cfg.Queue.IntervalSeconds <= 0 {
		errs = append(errs, "queue.intervalSeconds must be positive")
	}

	if cfg.Router.IntervalSeconds <= 0 {
		errs = append(errs, "router.intervalSeconds must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
