package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the Omnifin back office.
// Values come from config.yaml when present, with environment variables overriding them.
// Secrets (passwords, signing keys, API keys) are only read from the environment.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8000"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""`
	Version  string `yaml:"-"`

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// SeedPromptsPath optionally points at a YAML file of prompts loaded at startup.
	SeedPromptsPath string `yaml:"seed_prompts_path" env:"SEED_PROMPTS_PATH" env-default:""`

	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Storage  StorageConfig  `yaml:"storage"`
	Uploads  UploadsConfig  `yaml:"uploads"`

	// CredentialsKey encrypts stored third-party API keys.
	// Base64 32-byte key or any passphrase. Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"`
}

// AuthConfig holds token issuing and verification settings.
type AuthConfig struct {
	// JWTSecret signs locally issued HS256 tokens.
	JWTSecret string `yaml:"-" env:"JWT_SECRET"`

	// Issuer is the iss claim on locally issued tokens.
	Issuer string `yaml:"issuer" env:"JWT_ISSUER" env-default:"omnifin"`

	// TokenTTL is the lifetime of an issued access token.
	TokenTTL time.Duration `yaml:"token_ttl" env:"JWT_TOKEN_TTL" env-default:"24h"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs for
	// externally issued tokens. Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port            int           `yaml:"port" env:"PGPORT" env-default:"5432"`
	User            string        `yaml:"user" env:"PGUSER" env-default:"omnifin"`
	Password        string        `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database        string        `yaml:"database" env:"PGDATABASE" env-default:"omnifin"`
	MaxConnections  int32         `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"PGMAX_CONN_LIFETIME" env-default:"1h"`
	SSLMode         string        `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the optional Redis cache configuration.
// An empty host disables caching.
type RedisConfig struct {
	Host     string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string        `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"5m"`
}

// AIConfig configures the external generation and transcription provider.
type AIConfig struct {
	// Provider is one of openai, anthropic or none.
	Provider string `yaml:"provider" env:"AI_PROVIDER" env-default:"none"`
	APIKey   string `yaml:"-" env:"AI_API_KEY"`
	// Endpoint overrides the provider base URL (OpenAI-compatible servers).
	Endpoint           string        `yaml:"endpoint" env:"AI_ENDPOINT" env-default:""`
	Model              string        `yaml:"model" env:"AI_MODEL" env-default:"gpt-3.5-turbo"`
	TranscriptionModel string        `yaml:"transcription_model" env:"AI_TRANSCRIPTION_MODEL" env-default:"whisper-1"`
	Timeout            time.Duration `yaml:"timeout" env:"AI_TIMEOUT" env-default:"15s"`
	MaxTokens          int           `yaml:"max_tokens" env:"AI_MAX_TOKENS" env-default:"500"`
	Temperature        float32       `yaml:"temperature" env:"AI_TEMPERATURE" env-default:"0.7"`
	// MaxRetries is how many times a transient provider failure is retried before falling back.
	MaxRetries int `yaml:"max_retries" env:"AI_MAX_RETRIES" env-default:"1"`
}

// IsAvailable returns true if a generation provider is configured.
func (c *AIConfig) IsAvailable() bool {
	return c.Provider != "" && c.Provider != "none" && c.APIKey != ""
}

// StorageConfig selects where uploaded files and recordings live.
type StorageConfig struct {
	// Backend is local or s3.
	Backend   string `yaml:"backend" env:"STORAGE_BACKEND" env-default:"local"`
	LocalDir  string `yaml:"local_dir" env:"STORAGE_LOCAL_DIR" env-default:"./media"`
	Bucket    string `yaml:"bucket" env:"S3_BUCKET" env-default:""`
	Region    string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:""`
	PathStyle bool   `yaml:"path_style" env:"S3_PATH_STYLE" env-default:"true"`
	AccessKey string `yaml:"-" env:"S3_ACCESS_KEY"`
	SecretKey string `yaml:"-" env:"S3_SECRET_KEY"`
}

// UploadsConfig bounds multipart uploads.
type UploadsConfig struct {
	MaxFileBytes  int64 `yaml:"max_file_bytes" env:"UPLOAD_MAX_FILE_BYTES" env-default:"10485760"`
	MaxAudioBytes int64 `yaml:"max_audio_bytes" env:"UPLOAD_MAX_AUDIO_BYTES" env-default:"26214400"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; the environment alone is used.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.AI.Provider {
	case "", "none", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown ai provider %q", c.AI.Provider)
	}
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage backend s3 requires a bucket")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	return nil
}

// validateTLS ensures cert and key are provided together and exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// parseJWKSEndpoints parses "issuer1=url1,issuer2=url2" into a map.
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		issuer, jwksURL, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		endpoints[strings.TrimSpace(issuer)] = strings.TrimSpace(jwksURL)
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns the host:port of the Redis server.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port)
}
