package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Database  DatabaseConfig `mapstructure:"database"`
	Storage   StorageConfig  `mapstructure:"storage"`
	Analysis  ProviderConfig `mapstructure:"analysis"`
	ImageGen  ProviderConfig `mapstructure:"image_gen"`
	Embedding ProviderConfig `mapstructure:"embedding"`
	Qdrant    QdrantConfig   `mapstructure:"qdrant"`
	Pipeline  PipelineConfig `mapstructure:"pipeline"`
	Notify    NotifyConfig   `mapstructure:"notify"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		if c.URL != "" {
			return c.URL
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	if c.Path == "" {
		return "file::memory:?cache=shared"
	}
	return c.Path
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // r2, s3, s3compatible, memory
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type QdrantConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type PipelineConfig struct {
	Analysis AnalysisPipelineConfig `mapstructure:"analysis"`
	Image    ImagePipelineConfig    `mapstructure:"image"`
	// RequeueOnStart resubmits unfinished dreams and images at startup,
	// since the queues live in memory.
	RequeueOnStart bool `mapstructure:"requeue_on_start"`
}

type AnalysisPipelineConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	QueueSize   int           `mapstructure:"queue_size"`
}

type ImagePipelineConfig struct {
	Workers   int    `mapstructure:"workers"`
	QueueSize int    `mapstructure:"queue_size"`
	Folder    string `mapstructure:"folder"`
}

type NotifyConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// Load reads configuration from file, .env and the environment.
// Parameters:
//   - configPath: explicit config file; empty searches ./configs and the working directory.
//
// Returns:
//   - *Config: loaded configuration with defaults applied.
//   - error: non-nil if the file is unreadable or the result is invalid.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment overrides under their conventional names
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	_ = v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = v.BindEnv("analysis.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("analysis.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("analysis.model", "ANALYSIS_MODEL")
	_ = v.BindEnv("image_gen.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("image_gen.model", "IMAGE_MODEL")
	_ = v.BindEnv("embedding.api_key", "JINA_API_KEY")
	_ = v.BindEnv("qdrant.host", "QDRANT_HOST")
	_ = v.BindEnv("qdrant.port", "QDRANT_PORT")
	_ = v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Analysis.ResolveEnvVars()
	cfg.ImageGen.ResolveEnvVars()
	cfg.Embedding.ResolveEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/dreamforge.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "dreamforge")

	v.SetDefault("analysis.name", "analysis")
	v.SetDefault("analysis.provider", "openai-compatible")
	v.SetDefault("analysis.model", "gpt-4o-mini")
	v.SetDefault("analysis.base_url", "https://api.openai.com/v1")
	v.SetDefault("analysis.timeout", 90*time.Second)
	v.SetDefault("analysis.max_tokens", 1200)
	v.SetDefault("analysis.version", "dream-v1")

	v.SetDefault("image_gen.name", "image")
	v.SetDefault("image_gen.provider", "openai")
	v.SetDefault("image_gen.model", "dall-e-3")
	v.SetDefault("image_gen.base_url", "https://api.openai.com/v1")
	v.SetDefault("image_gen.timeout", 120*time.Second)
	v.SetDefault("image_gen.size", "1024x1024")

	v.SetDefault("embedding.name", "embedding")
	v.SetDefault("embedding.provider", "jina")
	v.SetDefault("embedding.model", "jina-embeddings-v3")
	v.SetDefault("embedding.base_url", "https://api.jina.ai/v1")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "dreams")

	v.SetDefault("pipeline.analysis.max_attempts", 3)
	v.SetDefault("pipeline.analysis.retry_delay", 10*time.Second)
	v.SetDefault("pipeline.analysis.queue_size", 1024)
	v.SetDefault("pipeline.image.workers", 2)
	v.SetDefault("pipeline.image.queue_size", 256)
	v.SetDefault("pipeline.image.folder", "dream-images")
	v.SetDefault("pipeline.requeue_on_start", true)

	v.SetDefault("notify.send_buffer", 32)
	v.SetDefault("notify.write_timeout", 10*time.Second)
	v.SetDefault("notify.ping_interval", 30*time.Second)
}

// Validate checks pipeline bounds and driver names.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database: unknown driver %q", c.Database.Driver)
	}
	if c.Pipeline.Analysis.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.analysis.max_attempts must be at least 1")
	}
	if c.Pipeline.Analysis.RetryDelay < 0 {
		return fmt.Errorf("pipeline.analysis.retry_delay must not be negative")
	}
	if c.Pipeline.Image.Workers < 1 {
		return fmt.Errorf("pipeline.image.workers must be at least 1")
	}
	if err := c.Analysis.Validate(); err != nil {
		return err
	}
	if err := c.ImageGen.Validate(); err != nil {
		return err
	}
	if c.Qdrant.Enabled {
		if err := c.Embedding.Validate(); err != nil {
			return err
		}
	}
	return nil
}
