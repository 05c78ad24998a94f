// Package config builds the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is constructed once at start-up and handed to each component.
type Config struct {
	AppName     string
	Version     string
	Environment string
	Addr        string

	DatabaseDriver  string
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	StorageBackend string
	UploadDir      string
	GCSBucket      string
	GCSPrefix      string

	MaxUploadMB    int
	AllowedFormats []string

	TranscriberProvider    string
	OpenAIAPIKey           string
	OpenAIBaseURL          string
	WhisperModel           string
	CloudflareAccountID    string
	CloudflareAPIToken     string
	CloudflareWhisperModel string

	SummarizerProvider string
	GPTModel           string
	VertexProjectID    string
	VertexRegion       string
	VertexModel        string

	RemoteTimeout time.Duration
	CORSOrigins   []string
	QueueSize     int

	LogFormat string
	LogLevel  string
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	StorageLocal = "local"
	StorageGCS   = "gcs"

	ProviderOpenAI     = "openai"
	ProviderCloudflare = "cloudflare"
	ProviderVertex     = "vertex"
)

// Load reads the environment (after any env files) and validates the result.
func Load() (*Config, error) {
	LoadDefaultEnv()
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the current environment without loading env files or validating.
func FromEnv() *Config {
	cfg := &Config{
		AppName:     GetEnv("APP_NAME", "Meeting Notes Summarizer"),
		Version:     GetEnv("APP_VERSION", "0.1.0"),
		Environment: GetEnv("ENVIRONMENT", "development"),
		Addr:        listenAddr(),

		DatabaseURL:     GetEnv("DATABASE_URL", ""),
		MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 15),
		MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),

		StorageBackend: strings.ToLower(GetEnv("STORAGE_BACKEND", StorageLocal)),
		UploadDir:      GetEnv("UPLOAD_DIR", "./uploads"),
		GCSBucket:      GetEnv("GCS_BUCKET", ""),
		GCSPrefix:      GetEnv("GCS_PREFIX", "audio/"),

		MaxUploadMB:    getInt("MAX_UPLOAD_SIZE_MB", 100),
		AllowedFormats: splitList(GetEnv("ALLOWED_AUDIO_FORMATS", "mp3,wav,m4a,mp4,webm"), true),

		TranscriberProvider:    strings.ToLower(GetEnv("TRANSCRIBER_PROVIDER", ProviderOpenAI)),
		OpenAIAPIKey:           GetEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:          strings.TrimRight(GetEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
		WhisperModel:           GetEnv("WHISPER_MODEL", "whisper-1"),
		CloudflareAccountID:    GetEnv("CLOUDFLARE_ACCOUNT_ID", ""),
		CloudflareAPIToken:     GetEnv("CLOUDFLARE_API_TOKEN", ""),
		CloudflareWhisperModel: GetEnv("CLOUDFLARE_WHISPER_MODEL", "@cf/openai/whisper"),

		SummarizerProvider: strings.ToLower(GetEnv("SUMMARIZER_PROVIDER", ProviderOpenAI)),
		GPTModel:           GetEnv("GPT_MODEL", "gpt-4o-mini"),
		VertexProjectID:    GetEnv("VERTEX_PROJECT_ID", ""),
		VertexRegion:       GetEnv("VERTEX_AI_REGION", "us-central1"),
		VertexModel:        GetEnv("VERTEX_MODEL", "gemini-1.5-pro"),

		RemoteTimeout: time.Duration(getInt("PROCESSING_TIMEOUT_SECONDS", 600)) * time.Second,
		CORSOrigins:   splitList(GetEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000"), false),
		QueueSize:     getInt("PIPELINE_QUEUE_SIZE", 64),

		LogFormat: strings.ToLower(GetEnv("LOG_FORMAT", "json")),
		LogLevel:  strings.ToLower(GetEnv("LOG_LEVEL", "info")),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = postgresURLFromParts()
	}
	cfg.DatabaseDriver = strings.ToLower(GetEnv("DATABASE_DRIVER", guessDriver(cfg.DatabaseURL)))
	return cfg
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL (or POSTGRES_* variables) must be set")
	}
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.StorageBackend {
	case StorageLocal:
		if c.UploadDir == "" {
			return errors.New("UPLOAD_DIR must be set for local storage")
		}
	case StorageGCS:
		if c.GCSBucket == "" {
			return errors.New("GCS_BUCKET must be set for gcs storage")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.StorageBackend)
	}

	if c.MaxUploadMB <= 0 {
		return errors.New("MAX_UPLOAD_SIZE_MB must be positive")
	}
	if len(c.AllowedFormats) == 0 {
		return errors.New("ALLOWED_AUDIO_FORMATS must list at least one extension")
	}

	switch c.TranscriberProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY must be set for the openai transcriber")
		}
	case ProviderCloudflare:
		if c.CloudflareAccountID == "" || c.CloudflareAPIToken == "" {
			return errors.New("CLOUDFLARE_ACCOUNT_ID and CLOUDFLARE_API_TOKEN must be set for the cloudflare transcriber")
		}
	default:
		return fmt.Errorf("unsupported TRANSCRIBER_PROVIDER %q", c.TranscriberProvider)
	}

	switch c.SummarizerProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY must be set for the openai summarizer")
		}
	case ProviderVertex:
		if c.VertexProjectID == "" || c.VertexRegion == "" {
			return errors.New("VERTEX_PROJECT_ID and VERTEX_AI_REGION must be set for the vertex summarizer")
		}
	default:
		return fmt.Errorf("unsupported SUMMARIZER_PROVIDER %q", c.SummarizerProvider)
	}

	if c.QueueSize <= 0 {
		return errors.New("PIPELINE_QUEUE_SIZE must be positive")
	}
	return nil
}

// MaxUploadBytes is the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// GetEnv reads an environment variable or returns fallback when unset or blank.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(GetEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(GetEnv(key, ""))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func listenAddr() string {
	if addr := GetEnv("HTTP_ADDR", ""); addr != "" {
		return addr
	}
	return net.JoinHostPort(GetEnv("HOST", ""), GetEnv("PORT", "8000"))
}

func postgresURLFromParts() string {
	user := GetEnv("POSTGRES_USER", "")
	db := GetEnv("POSTGRES_DB", "")
	if user == "" || db == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, GetEnv("POSTGRES_PASSWORD", "")),
		Host:     net.JoinHostPort(GetEnv("POSTGRES_HOST", "localhost"), GetEnv("POSTGRES_PORT", "5432")),
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func guessDriver(dsn string) string {
	if strings.HasPrefix(dsn, "file:") || strings.HasPrefix(dsn, ":memory:") ||
		strings.HasSuffix(dsn, ".db") || strings.HasSuffix(dsn, ".sqlite") {
		return DriverSQLite
	}
	return DriverPostgres
}

func splitList(s string, lower bool) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if lower {
			p = strings.ToLower(strings.TrimPrefix(p, "."))
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
