package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Trainer   TrainerConfig   `mapstructure:"trainer"`
	Minio     MinioConfig     `mapstructure:"minio"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the annotation store. Driver is one of
// mysql, postgres, sqlite or memory.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// StorageConfig locates image files. Maintenance images and rendered
// detector output live directly under Root; baselines under Root/BaselineDir.
type StorageConfig struct {
	Root        string `mapstructure:"root"`
	BaselineDir string `mapstructure:"baseline_dir"`
}

type DetectorConfig struct {
	// Command is the program plus leading args, e.g. [python, detector.py].
	Command          []string      `mapstructure:"command"`
	DefaultThreshold float64       `mapstructure:"default_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
	// DockerImage runs Command inside this image when set.
	DockerImage string `mapstructure:"docker_image"`
}

type TrainerConfig struct {
	Command      []string      `mapstructure:"command"`
	DatasetDir   string        `mapstructure:"dataset_dir"`
	ModelDir     string        `mapstructure:"model_dir"`
	InitialModel string        `mapstructure:"initial_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DockerImage  string        `mapstructure:"docker_image"`
	// DockerArgs are extra docker run flags, e.g. [--gpus, all].
	DockerArgs []string `mapstructure:"docker_args"`
}

type MinioConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	Region     string `mapstructure:"region"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// AuthConfig maps annotator id to API key. Empty disables auth.
type AuthConfig struct {
	APIKeys map[string]string `mapstructure:"api_keys"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type LogConfig struct {
	Mode       string `mapstructure:"mode"`
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// EnvPrefix for overrides, e.g. TRANSFORMER_DATABASE_DRIVER=sqlite.
const EnvPrefix = "TRANSFORMER"

// Load reads the YAML file at path on top of defaults and environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	// detection and fine-tuning hold the request open for the whole subprocess
	v.SetDefault("server.write_timeout", 35*time.Minute)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "transformer")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "./data/transformer.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("storage.root", "./uploads")
	v.SetDefault("storage.baseline_dir", "baseline-images")

	v.SetDefault("detector.command", []string{"python", "detector.py"})
	v.SetDefault("detector.default_threshold", 20.0)
	v.SetDefault("detector.timeout", time.Duration(0))
	v.SetDefault("detector.docker_image", "")

	v.SetDefault("trainer.command", []string{"python", "scripts/finetune_yolo.py"})
	v.SetDefault("trainer.dataset_dir", "./ml/dataset")
	v.SetDefault("trainer.model_dir", "./ml/models")
	v.SetDefault("trainer.initial_model", "./ml/best.pt")
	v.SetDefault("trainer.timeout", 30*time.Minute)
	v.SetDefault("trainer.docker_image", "")
	v.SetDefault("trainer.docker_args", []string{})

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket_name", "transformer")
	v.SetDefault("minio.region", "us-east-1")
	v.SetDefault("minio.use_ssl", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 40*time.Minute)

	v.SetDefault("auth.api_keys", map[string]string{})
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("ratelimit.requests_per_minute", 6)
	v.SetDefault("ratelimit.burst", 3)

	v.SetDefault("log.mode", "debug")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", false)
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Storage.Root) == "" {
		return fmt.Errorf("storage.root is required")
	}
	if len(c.Detector.Command) == 0 {
		return fmt.Errorf("detector.command is required")
	}
	if len(c.Trainer.Command) == 0 {
		return fmt.Errorf("trainer.command is required")
	}
	if c.Trainer.Timeout <= 0 {
		return fmt.Errorf("trainer.timeout must be positive")
	}
	if c.Detector.Timeout < 0 {
		return fmt.Errorf("detector.timeout must not be negative")
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}

func (c *Config) SQLiteDSN() string {
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", c.Database.Path)
}
