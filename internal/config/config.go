package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"flarebin/internal/auth"
	"flarebin/internal/storage"
)

const (
	DefaultConfigFile = ".app.env"

	MetadataPostgres = "postgres"
	MetadataRedis    = "redis"
	MetadataMemory   = "memory"
)

// Config собирается из dotenv-файла; переменные окружения перекрывают файл.
// Ключи плоские, как в .app.env.
type Config struct {
	Server   ServerConfig   `mapstructure:",squash"`
	Auth     auth.Config    `mapstructure:",squash"`
	Sweep    SweepConfig    `mapstructure:",squash"`
	Log      LogConfig      `mapstructure:",squash"`
	Metadata MetadataConfig `mapstructure:",squash"`
	Storage  StorageConfig  `mapstructure:",squash"`
}

type ServerConfig struct {
	Port          string `mapstructure:"HTTP_PORT"`
	MetricsAddr   string `mapstructure:"METRICS_ADDR"`
	BaseURL       string `mapstructure:"BASE_URL"`
	MaxUploadSize int64  `mapstructure:"MAX_UPLOAD_SIZE"`
	DefaultTTL    int64  `mapstructure:"DEFAULT_TTL"`
}

type SweepConfig struct {
	Interval time.Duration `mapstructure:"SWEEP_INTERVAL"`
	PageSize int           `mapstructure:"SWEEP_PAGE_SIZE"`
}

type LogConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type MetadataConfig struct {
	Driver   string         `mapstructure:"METADATA_DRIVER"`
	Database DatabaseConfig `mapstructure:",squash"`
	Redis    RedisConfig    `mapstructure:",squash"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"DATABASE_HOST"`
	Port     string `mapstructure:"DATABASE_PORT"`
	User     string `mapstructure:"DATABASE_USER"`
	Password string `mapstructure:"DATABASE_PASSWORD"`
	Name     string `mapstructure:"DATABASE_NAME"`
	SSLMode  string `mapstructure:"DATABASE_SSLMODE"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"REDIS_ADDR"`
	Password  string `mapstructure:"REDIS_PASSWORD"`
	DB        int    `mapstructure:"REDIS_DB"`
	KeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`
}

type StorageConfig struct {
	Driver string              `mapstructure:"STORAGE_DRIVER"`
	S3     storage.S3Config    `mapstructure:",squash"`
	Minio  storage.MinioConfig `mapstructure:",squash"`
}

var defaults = map[string]interface{}{
	"HTTP_PORT":       "8080",
	"METRICS_ADDR":    ":9090",
	"BASE_URL":        "",
	"PASSWORD":        "",
	"MAX_UPLOAD_SIZE": int64(100 * 1024 * 1024),
	"DEFAULT_TTL":     int64(7 * 24 * 60 * 60),

	"SWEEP_INTERVAL":  "1h",
	"SWEEP_PAGE_SIZE": 1000,

	"LOG_LEVEL":  "info",
	"LOG_FORMAT": "console",

	"METADATA_DRIVER":   MetadataPostgres,
	"DATABASE_HOST":     "",
	"DATABASE_PORT":     "5432",
	"DATABASE_USER":     "",
	"DATABASE_PASSWORD": "",
	"DATABASE_NAME":     "flarebin",
	"DATABASE_SSLMODE":  "disable",
	"REDIS_ADDR":        "localhost:6379",
	"REDIS_PASSWORD":    "",
	"REDIS_DB":          0,
	"REDIS_KEY_PREFIX":  "flarebin:file:",

	"STORAGE_DRIVER":       storage.DriverS3,
	"S3_ENDPOINT":          "",
	"S3_REGION":            "",
	"S3_ACCESS_KEY_ID":     "",
	"S3_SECRET_ACCESS_KEY": "",
	"S3_BUCKET":            "",
	"S3_USE_PATH_STYLE":    false,
	"MINIO_ENDPOINT":       "",
	"MINIO_ACCESS_KEY":     "",
	"MINIO_SECRET_KEY":     "",
	"MINIO_BUCKET":         "",
	"MINIO_USE_SSL":        false,
}

// NewConfig читает конфигурацию. Отсутствующий файл не ошибка:
// в контейнере всё приходит из окружения.
func NewConfig(path string) (*Config, error) {
	v := viper.New()

	// AutomaticEnv видит только ключи, известные viper, поэтому задаём умолчания для всех
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("cannot read config from %s: %w", path, err)
			}
			log.Warn().Str("path", path).Msg("Config file not found, using environment variables only")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	if c.Server.DefaultTTL < 0 {
		return fmt.Errorf("DEFAULT_TTL must not be negative")
	}
	if c.Sweep.Interval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must not be negative")
	}

	switch c.Metadata.Driver {
	case MetadataPostgres:
		db := c.Metadata.Database
		if db.Host == "" || db.Port == "" || db.User == "" || db.Name == "" {
			return fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
				db.Host, db.Port, db.User, db.Name)
		}
	case MetadataRedis:
		if c.Metadata.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required")
		}
	case MetadataMemory:
	default:
		return fmt.Errorf("unknown METADATA_DRIVER %q", c.Metadata.Driver)
	}

	switch c.Storage.Driver {
	case storage.DriverS3:
		if err := c.Storage.S3.Validate(); err != nil {
			return fmt.Errorf("s3 storage: %w", err)
		}
	case storage.DriverMinio:
		if err := c.Storage.Minio.Validate(); err != nil {
			return fmt.Errorf("minio storage: %w", err)
		}
	case storage.DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}

	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}
