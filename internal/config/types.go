package config

import "time"

// Config represents the main configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Detection DetectionConfig `yaml:"detection" mapstructure:"detection"`
	NER       NERConfig       `yaml:"ner" mapstructure:"ner"`
	Ollama    OllamaConfig    `yaml:"ollama" mapstructure:"ollama"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Audit     AuditConfig     `yaml:"audit" mapstructure:"audit"`
	Sessions  SessionConfig   `yaml:"sessions" mapstructure:"sessions"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port         int             `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration   `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration   `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	RateLimit    RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig contains per-client rate limiting configuration.
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`
}

// DetectionConfig controls the pattern detector.
type DetectionConfig struct {
	Rules            []string `yaml:"rules" mapstructure:"rules"`
	MaxDocumentBytes int      `yaml:"max_document_bytes" mapstructure:"max_document_bytes"`
}

// NERConfig controls the statistical detector.
type NERConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	ModelPath string        `yaml:"model_path" mapstructure:"model_path"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// OllamaConfig controls the local generative-model detector.
type OllamaConfig struct {
	URL     string        `yaml:"url" mapstructure:"url"`
	Model   string        `yaml:"model" mapstructure:"model"`
	Prompt  string        `yaml:"prompt" mapstructure:"prompt"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CacheConfig contains the Redis detection-result cache configuration.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// AuditConfig contains the optional Postgres audit trail configuration.
type AuditConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// SessionConfig controls document-session lifetime.
type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl" mapstructure:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	MaxSessions   int           `yaml:"max_sessions" mapstructure:"max_sessions"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// WebSocketConfig contains the dashboard event stream configuration.
type WebSocketConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Path     string `yaml:"path" mapstructure:"path"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Events   struct {
		BroadcastDetections  bool `yaml:"broadcast_detections" mapstructure:"broadcast_detections"`
		BroadcastProcessing  bool `yaml:"broadcast_processing" mapstructure:"broadcast_processing"`
		BroadcastSystem      bool `yaml:"broadcast_system" mapstructure:"broadcast_system"`
		BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	} `yaml:"events" mapstructure:"events"`
}

// GetDefaults returns a configuration with sensible defaults.
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8001,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 120,
				Burst:          20,
			},
		},
		Detection: DetectionConfig{
			Rules:            []string{"all"},
			MaxDocumentBytes: 10 << 20, // 10 MB
		},
		NER: NERConfig{
			Enabled:   true,
			ModelPath: "models/legal-ner",
			Timeout:   15 * time.Second,
		},
		Ollama: OllamaConfig{
			URL:     "http://localhost:11434",
			Model:   "llama3.2:3b",
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			DefaultTTL:     time.Hour,
			MaxConnections: 10,
			MinIdleConns:   2,
		},
		Audit: AuditConfig{
			Enabled:         false,
			DatabaseURL:     "postgres://localhost:5432/anonymiseur?sslmode=disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Sessions: SessionConfig{
			IdleTTL:       time.Hour,
			SweepInterval: 5 * time.Minute,
			MaxSessions:   256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		WebSocket: WebSocketConfig{
			Enabled: true,
			Path:    "/ws",
		},
	}

	cfg.WebSocket.Events.BroadcastDetections = true
	cfg.WebSocket.Events.BroadcastProcessing = true
	cfg.WebSocket.Events.BroadcastSystem = true
	cfg.WebSocket.Events.BroadcastConnections = true

	return cfg
}
