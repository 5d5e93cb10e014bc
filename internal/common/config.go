package common

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	LLM      LLMConfig
	Render   RenderConfig
	Jobs     JobsConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Log      LogConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	GRPCAddr        string
	SubmitPerMinute int
	BodyLimitMB     int
}

// LLMConfig holds model API configuration
type LLMConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float32
	Timeout      time.Duration
	RefinePolicy string
}

// RenderConfig holds page rasterization configuration
type RenderConfig struct {
	Pdftoppm string
	Pdfinfo  string
	DPI      int
}

// JobsConfig holds job controller and pool configuration
type JobsConfig struct {
	Workers             int
	QueueSize           int
	RetryAttempts       int
	DefaultDelaySeconds float64
	Retention           time.Duration
	JanitorInterval     time.Duration
	UploadDir           string
	ResultsDir          string
	ScratchDir          string
	InboxDir            string
}

// StorageConfig holds optional S3/R2 publishing configuration
type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
}

// Enabled reports whether artifact publishing is configured.
func (s StorageConfig) Enabled() bool {
	return s.Bucket != "" && s.AccessKeyID != "" && s.SecretAccessKey != ""
}

// DatabaseConfig holds the optional run ledger configuration
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// RedisConfig holds the optional rate limiter backend
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string
	Format string
}

// readSecret fills envKey from the file named by envKey_FILE when envKey is unset.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	_ = os.Setenv(envKey, strings.TrimSpace(string(data)))
}

var envBindings = map[string]string{
	"server.port":              "PORT",
	"server.grpc_addr":         "GRPC_ADDR",
	"server.submit_per_minute": "SUBMIT_PER_MINUTE",
	"server.body_limit_mb":     "BODY_LIMIT_MB",
	"llm.api_key":              "GEMINI_API_KEY",
	"llm.base_url":             "LLM_BASE_URL",
	"llm.model":                "LLM_MODEL",
	"llm.temperature":          "LLM_TEMPERATURE",
	"llm.timeout":              "LLM_TIMEOUT",
	"llm.refine_policy":        "REFINE_POLICY",
	"render.pdftoppm":          "PDFTOPPM_BIN",
	"render.pdfinfo":           "PDFINFO_BIN",
	"render.dpi":               "RENDER_DPI",
	"jobs.workers":             "WORKERS",
	"jobs.queue_size":          "QUEUE_SIZE",
	"jobs.retry_attempts":      "RETRY_ATTEMPTS",
	"jobs.default_delay":       "DEFAULT_DELAY_SECONDS",
	"jobs.retention":           "JOB_RETENTION",
	"jobs.janitor_interval":    "JANITOR_INTERVAL",
	"jobs.upload_dir":          "UPLOAD_DIR",
	"jobs.results_dir":         "RESULTS_DIR",
	"jobs.scratch_dir":         "SCRATCH_DIR",
	"jobs.inbox_dir":           "INBOX_DIR",
	"storage.endpoint":         "S3_ENDPOINT",
	"storage.region":           "S3_REGION",
	"storage.access_key_id":    "S3_ACCESS_KEY_ID",
	"storage.secret_key":       "S3_SECRET_ACCESS_KEY",
	"storage.bucket":           "S3_BUCKET",
	"storage.public_url":       "S3_PUBLIC_URL",
	"database.dsn":             "LEDGER_DSN",
	"database.max_conns":       "LEDGER_MAX_CONNS",
	"redis.addr":               "REDIS_ADDR",
	"redis.password":           "REDIS_PASSWORD",
	"redis.db":                 "REDIS_DB",
	"log.level":                "LOG_LEVEL",
	"log.format":               "LOG_FORMAT",
}

// LoadConfig loads configuration from an optional config.yaml and the environment.
func LoadConfig() (*Config, error) {
	readSecret("GEMINI_API_KEY")
	readSecret("S3_SECRET_ACCESS_KEY")
	readSecret("REDIS_PASSWORD")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	v.SetDefault("server.port", "5000")
	v.SetDefault("server.grpc_addr", "")
	v.SetDefault("server.submit_per_minute", 20)
	v.SetDefault("server.body_limit_mb", 64)
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", 90*time.Second)
	v.SetDefault("llm.refine_policy", "fallback")
	v.SetDefault("render.pdftoppm", "pdftoppm")
	v.SetDefault("render.pdfinfo", "pdfinfo")
	v.SetDefault("render.dpi", 300)
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue_size", 32)
	v.SetDefault("jobs.retry_attempts", 3)
	v.SetDefault("jobs.default_delay", 10.0)
	v.SetDefault("jobs.retention", 24*time.Hour)
	v.SetDefault("jobs.janitor_interval", 10*time.Minute)
	v.SetDefault("jobs.upload_dir", "uploads")
	v.SetDefault("jobs.results_dir", "results")
	v.SetDefault("jobs.scratch_dir", os.TempDir())
	v.SetDefault("storage.region", "auto")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, NewAppError("CONFIG_ERROR", "read config file", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			GRPCAddr:        v.GetString("server.grpc_addr"),
			SubmitPerMinute: v.GetInt("server.submit_per_minute"),
			BodyLimitMB:     v.GetInt("server.body_limit_mb"),
		},
		LLM: LLMConfig{
			APIKey:       v.GetString("llm.api_key"),
			BaseURL:      v.GetString("llm.base_url"),
			Model:        v.GetString("llm.model"),
			Temperature:  float32(v.GetFloat64("llm.temperature")),
			Timeout:      v.GetDuration("llm.timeout"),
			RefinePolicy: strings.ToLower(v.GetString("llm.refine_policy")),
		},
		Render: RenderConfig{
			Pdftoppm: v.GetString("render.pdftoppm"),
			Pdfinfo:  v.GetString("render.pdfinfo"),
			DPI:      v.GetInt("render.dpi"),
		},
		Jobs: JobsConfig{
			Workers:             v.GetInt("jobs.workers"),
			QueueSize:           v.GetInt("jobs.queue_size"),
			RetryAttempts:       v.GetInt("jobs.retry_attempts"),
			DefaultDelaySeconds: v.GetFloat64("jobs.default_delay"),
			Retention:           v.GetDuration("jobs.retention"),
			JanitorInterval:     v.GetDuration("jobs.janitor_interval"),
			UploadDir:           v.GetString("jobs.upload_dir"),
			ResultsDir:          v.GetString("jobs.results_dir"),
			ScratchDir:          v.GetString("jobs.scratch_dir"),
			InboxDir:            v.GetString("jobs.inbox_dir"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_key"),
			Bucket:          v.GetString("storage.bucket"),
			PublicURL:       v.GetString("storage.public_url"),
		},
		Database: DatabaseConfig{
			DSN:             v.GetString("database.dsn"),
			MaxConns:        v.GetInt32("database.max_conns"),
			MinConns:        0,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	return cfg, nil
}

// MaxDelaySeconds caps page and retry delays.
const MaxDelaySeconds = 86400

// ValidDelaySeconds reports whether v is a usable delay.
func ValidDelaySeconds(v float64) bool {
	return v >= 0 && v <= MaxDelaySeconds
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "GEMINI_API_KEY is required", ErrInvalidInput)
	}
	if c.Server.Port == "" {
		return NewAppError("CONFIG_ERROR", "PORT is required", ErrInvalidInput)
	}
	if c.Jobs.RetryAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "RETRY_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	if !ValidDelaySeconds(c.Jobs.DefaultDelaySeconds) {
		return NewAppError("CONFIG_ERROR", "DEFAULT_DELAY_SECONDS must be between 0 and 86400", ErrInvalidInput)
	}
	switch c.LLM.RefinePolicy {
	case "fallback", "drop":
	default:
		return NewAppError("CONFIG_ERROR", "REFINE_POLICY must be fallback or drop", ErrInvalidInput)
	}
	if c.Render.DPI <= 0 {
		return NewAppError("CONFIG_ERROR", "RENDER_DPI must be positive", ErrInvalidInput)
	}
	return nil
}
