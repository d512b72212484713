// Package config loads the service configuration from an optional YAML file
// overlaid with environment variables.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Mode            string        `yaml:"mode"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"output_paths"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

type EmbeddingConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "ollama".
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Dimension  int           `yaml:"dimension"`
	MaxRetries uint          `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

type OCRConfig struct {
	// Engine is "tesseract", "textract", "ollama" or "none".
	Engine        string         `yaml:"engine"`
	Languages     []string       `yaml:"languages"`
	MinConfidence float64        `yaml:"min_confidence"`
	PageTimeout   time.Duration  `yaml:"page_timeout"`
	DPI           int            `yaml:"dpi"`
	PdftoppmPath  string         `yaml:"pdftoppm_path"`
	OllamaURL     string         `yaml:"ollama_url"`
	OllamaModel   string         `yaml:"ollama_model"`
	Textract      TextractConfig `yaml:"textract"`
}

type StorageConfig struct {
	// Type is "s3" or "minio".
	Type          string      `yaml:"type"`
	MaxUploadSize int64       `yaml:"max_upload_size"`
	S3            S3Config    `yaml:"s3"`
	Minio         MinioConfig `yaml:"minio"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Concurrency int           `yaml:"concurrency"`
	MaxRetry    int           `yaml:"max_retry"`
	Timeout     time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type RateLimitConfig struct {
	// Backend is "memory" or "redis".
	Backend           string        `yaml:"backend"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Burst             int           `yaml:"burst"`
	TTL               time.Duration `yaml:"ttl"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// AppConfig is the root configuration.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	OCR       OCRConfig       `yaml:"ocr"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Search    SearchConfig    `yaml:"search"`
}

var (
	appOnce   sync.Once
	appConfig *AppConfig
)

// Get loads the configuration once, from CONFIG_FILE (default config.yaml)
// and the environment. A broken file is fatal.
func Get() *AppConfig {
	appOnce.Do(func() {
		loadDotEnv()
		path := os.Getenv("CONFIG_FILE")
		if path == "" {
			path = "config.yaml"
		}
		cfg, err := Load(path)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", path, err)
		}
		appConfig = cfg
	})
	return appConfig
}

// Load reads path, falling back to defaults when it does not exist, then
// applies environment overrides.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:            "8080",
			Mode:            "release",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout", "logs/app.log"},
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			MaxOpenConns: 20,
			MaxIdleConns: 5,
			AutoMigrate:  true,
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimension:  1536,
			MaxRetries: 3,
			Timeout:    30 * time.Second,
		},
		OCR: OCRConfig{
			Engine:        "tesseract",
			Languages:     []string{"eng"},
			MinConfidence: 60,
			PageTimeout:   30 * time.Second,
			DPI:           300,
			PdftoppmPath:  "pdftoppm",
			OllamaURL:     "http://localhost:11434",
			OllamaModel:   "llama3.2-vision",
			Textract:      TextractConfig{MinConfidence: 80},
		},
		Storage: StorageConfig{
			Type:          "minio",
			MaxUploadSize: 50 << 20,
			S3: S3Config{
				BucketName: "manuals",
				Region:     "us-east-1",
			},
			Minio: MinioConfig{
				Endpoint:   "localhost:9000",
				BucketName: "manuals",
			},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Queue: QueueConfig{
			Concurrency: 4,
			MaxRetry:    0,
			Timeout:     30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Backend:           "memory",
			RequestsPerMinute: 60,
			Burst:             10,
			TTL:               10 * time.Minute,
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 200,
		},
		Search: SearchConfig{
			DefaultLimit: 5,
			MaxLimit:     50,
		},
	}
}

func (c *AppConfig) applyEnv() {
	envString("SERVER_PORT", &c.Server.Port)
	envString("GIN_MODE", &c.Server.Mode)
	envDuration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_ENCODING", &c.Log.Encoding)
	envList("LOG_OUTPUT_PATHS", &c.Log.OutputPaths)

	envString("DB_DRIVER", &c.Database.Driver)
	envString("DATABASE_URL", &c.Database.DSN)
	envInt("DB_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	envInt("DB_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	envBool("DB_AUTO_MIGRATE", &c.Database.AutoMigrate)

	envString("EMBEDDING_PROVIDER", &c.Embedding.Provider)
	envString("EMBEDDING_MODEL", &c.Embedding.Model)
	envString("EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	envString("EMBEDDING_API_KEY", &c.Embedding.APIKey)
	envInt("EMBEDDING_DIMENSION", &c.Embedding.Dimension)
	envDuration("EMBEDDING_TIMEOUT", &c.Embedding.Timeout)
	var retries int
	envInt("EMBEDDING_MAX_RETRIES", &retries)
	if retries > 0 {
		c.Embedding.MaxRetries = uint(retries)
	}

	envString("OCR_ENGINE", &c.OCR.Engine)
	envList("OCR_LANGUAGES", &c.OCR.Languages)
	envFloat("OCR_MIN_CONFIDENCE", &c.OCR.MinConfidence)
	envDuration("OCR_PAGE_TIMEOUT", &c.OCR.PageTimeout)
	envInt("OCR_DPI", &c.OCR.DPI)
	envString("PDFTOPPM_PATH", &c.OCR.PdftoppmPath)
	envString("OLLAMA_URL", &c.OCR.OllamaURL)
	envString("OLLAMA_VISION_MODEL", &c.OCR.OllamaModel)
	c.OCR.Textract.applyEnv()

	envString("STORAGE_TYPE", &c.Storage.Type)
	envInt64("MAX_UPLOAD_SIZE", &c.Storage.MaxUploadSize)
	c.Storage.S3.applyEnv()
	c.Storage.Minio.applyEnv()

	envString("REDIS_ADDR", &c.Redis.Addr)
	envString("REDIS_PASSWORD", &c.Redis.Password)
	envInt("REDIS_DB", &c.Redis.DB)

	envBool("QUEUE_ENABLED", &c.Queue.Enabled)
	envInt("QUEUE_CONCURRENCY", &c.Queue.Concurrency)
	envInt("QUEUE_MAX_RETRY", &c.Queue.MaxRetry)
	envDuration("QUEUE_TIMEOUT", &c.Queue.Timeout)

	envString("JWT_SECRET", &c.Auth.JWTSecret)
	envString("JWT_ISSUER", &c.Auth.Issuer)

	envString("RATE_LIMIT_BACKEND", &c.RateLimit.Backend)
	envInt("RATE_LIMIT_RPM", &c.RateLimit.RequestsPerMinute)
	envInt("RATE_LIMIT_BURST", &c.RateLimit.Burst)
	envDuration("RATE_LIMIT_TTL", &c.RateLimit.TTL)

	envInt("CHUNK_SIZE", &c.Chunking.Size)
	envInt("CHUNK_OVERLAP", &c.Chunking.Overlap)
}

// Validate rejects settings the service cannot start with.
func (c *AppConfig) Validate() error {
	if c.Chunking.Overlap < 0 || c.Chunking.Size <= c.Chunking.Overlap {
		return fmt.Errorf("chunking: size %d must exceed overlap %d", c.Chunking.Size, c.Chunking.Overlap)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding: dimension must be positive")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database: unsupported driver %q", c.Database.Driver)
	}
	switch c.OCR.Engine {
	case "tesseract", "textract", "ollama", "none":
	default:
		return fmt.Errorf("ocr: unsupported engine %q", c.OCR.Engine)
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("rate_limit: unsupported backend %q", c.RateLimit.Backend)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search: invalid limits %d/%d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	return nil
}
