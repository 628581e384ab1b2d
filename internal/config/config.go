// Package config loads runtime configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// Config is the root configuration document.
type Config struct {
	Environment   string               `yaml:"environment" env:"APP_ENV"`
	Server        ServerConfig         `yaml:"server"`
	Database      DatabaseConfig       `yaml:"database"`
	Redis         RedisConfig          `yaml:"redis"`
	Auth          AuthConfig           `yaml:"auth"`
	Logging       logger.LoggingConfig `yaml:"logging"`
	Maps          MapsConfig           `yaml:"maps"`
	AI            AIConfig             `yaml:"ai"`
	Email         EmailConfig          `yaml:"email"`
	RabbitMQ      RabbitMQConfig       `yaml:"rabbitmq"`
	Payments      PaymentsConfig       `yaml:"payments"`
	Tracing       TracingConfig        `yaml:"tracing"`
	HealthCheck   HealthCheckConfig    `yaml:"health_check"`
	KnowledgeBase KnowledgeBaseConfig  `yaml:"knowledge_base"`
	Frontend      FrontendConfig       `yaml:"frontend"`
	RateLimit     RateLimitConfig      `yaml:"rate_limit"`
	CORS          CORSConfig           `yaml:"cors"`
	Audit         AuditConfig          `yaml:"audit"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	AccessTTL  time.Duration `yaml:"access_ttl" env:"JWT_ACCESS_TTL"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"JWT_REFRESH_TTL"`
	// AdminUserIDs is a comma separated list promoted to SUPER_ADMIN at login.
	AdminUserIDs string `yaml:"admin_user_ids" env:"ADMIN_USER_IDS"`
}

type MapsConfig struct {
	APIKey    string `yaml:"api_key" env:"GOOGLE_MAPS_API_KEY"`
	BaseURL   string `yaml:"base_url" env:"GOOGLE_MAPS_BASE_URL"`
	RatePerKm int64  `yaml:"rate_per_km" env:"TRAVEL_RATE_PER_KM"`
}

type AIConfig struct {
	APIKey          string  `yaml:"api_key" env:"GEMINI_API_KEY"`
	ChatModel       string  `yaml:"chat_model" env:"AI_CHAT_MODEL"`
	EmbeddingModel  string  `yaml:"embedding_model" env:"AI_EMBEDDING_MODEL"`
	MaxOutputTokens int     `yaml:"max_output_tokens" env:"AI_MAX_OUTPUT_TOKENS"`
	Temperature     float64 `yaml:"temperature" env:"AI_TEMPERATURE"`
}

type EmailConfig struct {
	SMTPHost string `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort int    `yaml:"smtp_port" env:"SMTP_PORT"`
	Username string `yaml:"username" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"EMAIL_FROM"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url" env:"RABBITMQ_URL"`
	Exchange string `yaml:"exchange" env:"RABBITMQ_EXCHANGE"`
	Queue    string `yaml:"queue" env:"RABBITMQ_QUEUE"`
}

type PaymentsConfig struct {
	OmisePublicKey string `yaml:"omise_public_key" env:"OMISE_PUBLIC_KEY"`
	OmiseSecretKey string `yaml:"omise_secret_key" env:"OMISE_SECRET_KEY"`
	Currency       string `yaml:"currency" env:"PAYMENTS_CURRENCY"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
}

type HealthCheckConfig struct {
	ConfigPath string `yaml:"config_path" env:"HEALTH_CHECK_CONFIG_PATH"`
	RulesPath  string `yaml:"rules_path" env:"REMEDIATION_RULES_PATH"`
	ReportDir  string `yaml:"report_dir" env:"HEALTH_CHECK_REPORT_DIR"`
	BackupDir  string `yaml:"backup_dir" env:"BACKUP_DIR"`
	Monitor    bool   `yaml:"monitor" env:"PERFORMANCE_MONITOR_ENABLED"`
}

type KnowledgeBaseConfig struct {
	IndexPath string `yaml:"index_path" env:"KB_INDEX_PATH"`
}

type FrontendConfig struct {
	URL string `yaml:"url" env:"FRONTEND_URL"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

type CORSConfig struct {
	AllowedOrigins string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// Origins splits the comma separated origin list.
func (c CORSConfig) Origins() []string {
	var out []string
	for _, part := range strings.Split(c.AllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type AuditConfig struct {
	Path string `yaml:"path" env:"AUDIT_LOG_PATH"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3200,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Auth: AuthConfig{
			AccessTTL:  24 * time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout", FilePrefix: "logs/assistenza"},
		Maps: MapsConfig{
			BaseURL:   "https://maps.googleapis.com/maps/api",
			RatePerKm: 50,
		},
		AI: AIConfig{
			ChatModel:       "gemini-2.0-flash",
			EmbeddingModel:  "gemini-embedding-001",
			MaxOutputTokens: 1024,
			Temperature:     0.7,
		},
		Email:    EmailConfig{SMTPPort: 587, From: "Richiesta Assistenza <noreply@richiesta-assistenza.it>"},
		RabbitMQ: RabbitMQConfig{Exchange: "assistenza.events", Queue: "assistenza.notifications"},
		Payments: PaymentsConfig{Currency: "eur"},
		Tracing:  TracingConfig{ServiceName: "richiesta-assistenza"},
		HealthCheck: HealthCheckConfig{
			ConfigPath: "config/health-check-scheduler.json",
			RulesPath:  "config/remediation-rules.json",
			ReportDir:  "reports/health-checks",
			BackupDir:  "backups",
			Monitor:    true,
		},
		KnowledgeBase: KnowledgeBaseConfig{IndexPath: "data/kb-index.db"},
		Frontend:      FrontendConfig{URL: "http://localhost:5193"},
		RateLimit:     RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		CORS:          CORSConfig{AllowedOrigins: "http://localhost:5193"},
	}
}

// Load reads .env, then CONFIG_FILE (if set), then environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads defaults overlaid with a YAML file, without the environment.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// IsDevelopment reports whether relaxed validation applies.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "" || env == "development" || env == "dev" || env == "test"
}

// Validate checks settings that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if !c.IsDevelopment() && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes outside development")
	}
	if c.Maps.RatePerKm < 0 || c.Maps.RatePerKm > 10000 {
		return fmt.Errorf("travel rate per km must be between 0 and 10000 cents")
	}
	return nil
}
