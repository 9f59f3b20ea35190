// Package config provides configuration management for execwatch.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Approval     ApprovalConfig     `mapstructure:"approval"`
	MCP          MCPConfig          `mapstructure:"mcp"`
	Snapshot     SnapshotConfig     `mapstructure:"snapshot"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// ServerConfig holds the control API configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds durable storage configuration.
// Driver "sqlite" uses Path; driver "postgres" uses the connection fields.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration. Empty URL selects the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// OrchestratorConfig holds the WebSocket endpoint of the remote orchestrator.
// The same connection carries push notifications and command requests.
type OrchestratorConfig struct {
	URL            string `mapstructure:"url"`
	RequestTimeout int    `mapstructure:"requestTimeout"` // in seconds
}

// ApprovalConfig holds tool approval policy.
type ApprovalConfig struct {
	ToolTimeout          int      `mapstructure:"toolTimeout"` // in seconds
	AutoApproveServers   []string `mapstructure:"autoApproveServers"`
	InteractionTimeout   int      `mapstructure:"interactionTimeout"` // in seconds
	OrchestratorIDPrefix string   `mapstructure:"orchestratorIdPrefix"`
}

// MCPServerConfig describes one external tool provider.
type MCPServerConfig struct {
	URL       string            `mapstructure:"url"`
	Transport string            `mapstructure:"transport"` // sse or http
	Headers   map[string]string `mapstructure:"headers"`
}

// MCPConfig maps tool provider names to their endpoints.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `mapstructure:"servers"`
}

// SnapshotConfig holds snapshot loader tuning.
type SnapshotConfig struct {
	CacheSize    int `mapstructure:"cacheSize"`
	HistoryLimit int `mapstructure:"historyLimit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TracingConfig holds OTLP span export settings. An empty endpoint disables export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sampleRatio"`
	Environment string  `mapstructure:"environment"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Addr returns host:port for the control API listener.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RequestTimeoutDuration returns the command request timeout.
func (o *OrchestratorConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(o.RequestTimeout) * time.Second
}

// ToolTimeoutDuration returns the bound applied to a single tool invocation.
func (a *ApprovalConfig) ToolTimeoutDuration() time.Duration {
	return time.Duration(a.ToolTimeout) * time.Second
}

// InteractionTimeoutDuration returns how long a pending human interaction is kept.
func (a *ApprovalConfig) InteractionTimeoutDuration() time.Duration {
	return time.Duration(a.InteractionTimeout) * time.Second
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("EXECWATCH_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./execwatch.db")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "execwatch")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "execwatch")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Empty URL means the in-memory event bus.
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "execwatch-client")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("orchestrator.url", "")
	v.SetDefault("orchestrator.requestTimeout", 30)

	v.SetDefault("approval.toolTimeout", 30)
	v.SetDefault("approval.autoApproveServers", []string{})
	v.SetDefault("approval.interactionTimeout", 3600)
	v.SetDefault("approval.orchestratorIdPrefix", "approval_")

	v.SetDefault("snapshot.cacheSize", 32)
	v.SetDefault("snapshot.historyLimit", 50)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stderr")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sampleRatio", 1.0)
	v.SetDefault("tracing.environment", "")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix EXECWATCH_.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EXECWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not map camelCase keys to SNAKE_CASE variables.
	_ = v.BindEnv("orchestrator.url", "EXECWATCH_ORCHESTRATOR_URL")
	_ = v.BindEnv("orchestrator.requestTimeout", "EXECWATCH_ORCHESTRATOR_REQUEST_TIMEOUT")
	_ = v.BindEnv("approval.toolTimeout", "EXECWATCH_APPROVAL_TOOL_TIMEOUT")
	_ = v.BindEnv("approval.autoApproveServers", "EXECWATCH_APPROVAL_AUTO_APPROVE_SERVERS")
	_ = v.BindEnv("database.driver", "EXECWATCH_DB_DRIVER")
	_ = v.BindEnv("database.path", "EXECWATCH_DB_PATH")
	_ = v.BindEnv("tracing.endpoint", "EXECWATCH_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = v.BindEnv("tracing.sampleRatio", "EXECWATCH_TRACING_SAMPLE_RATIO")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/execwatch/")

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

	switch strings.ToLower(cfg.Database.Driver) {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	if cfg.Orchestrator.RequestTimeout <= 0 {
		errs = append(errs, "orchestrator.requestTimeout must be positive")
	}
	if cfg.Approval.ToolTimeout <= 0 {
		errs = append(errs, "approval.toolTimeout must be positive")
	}
	for name, srv := range cfg.MCP.Servers {
		if srv.URL == "" {
			errs = append(errs, fmt.Sprintf("mcp.servers.%s.url is required", name))
		}
		switch strings.ToLower(srv.Transport) {
		case "", "sse", "http":
		default:
			errs = append(errs, fmt.Sprintf("mcp.servers.%s.transport must be one of: sse, http", name))
		}
	}
	if cfg.Snapshot.CacheSize <= 0 {
		errs = append(errs, "snapshot.cacheSize must be positive")
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sampleRatio must be between 0 and 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
