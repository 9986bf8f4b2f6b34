package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Environment
	Environment string
	LogLevel    string

	Database DatabaseConfig
	Cache    CacheConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	LLM      LLMConfig
	Debate   DebateDefaults
	Storage  StorageConfig

	// Publish turn/status events to Redis pub/sub
	EventsEnabled bool
}

// DatabaseConfig holds PostgreSQL connection and pool settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MinConnections  int
	MaxConnLifetime int // minutes
	MaxConnIdleTime int // minutes
	LogLevel        string
}

// CacheConfig holds the Redis client settings used for event fan-out
type CacheConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	DialTimeout  int // seconds
	ReadTimeout  int
	WriteTimeout int
	PoolSize     int
	MinIdleConns int
}

// QueueConfig holds the asynq broker settings
type QueueConfig struct {
	RedisHost      string
	RedisPort      int
	RedisPassword  string
	RedisDB        int
	DialTimeout    int // seconds
	ReadTimeout    int
	WriteTimeout   int
	Concurrency    int
	StrictPriority bool
	Name           string
}

// WorkerConfig controls the advancement task loop
type WorkerConfig struct {
	MaxRetries   int
	ChainDelay   time.Duration
	RetryBase    time.Duration
	RetryMax     time.Duration
	TaskTimeout  time.Duration
	LockWaitTime time.Duration
}

// LLMConfig describes the OpenAI-compatible completion endpoint
type LLMConfig struct {
	APIKey       string
	BaseURL      string
	ModelDebater string
	ModelJudge   string
	Timeout      time.Duration
	MaxAttempts  int
}

// DebateDefaults are merged under caller-supplied settings on creation
type DebateDefaults struct {
	MaxRounds            int
	MaxRuntimeSeconds    int
	MaxTotalOutputTokens int
	MaxTokensDebater     int
	MaxTokensJudge       int
	PromptVersion        string
	Language             string
}

// StorageConfig points at the directory used for transcript exports
type StorageConfig struct {
	ExportDir string
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "")

	// Database defaults
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "debates")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNECTIONS", 20)
	v.SetDefault("DB_MIN_CONNECTIONS", 2)
	v.SetDefault("DB_MAX_CONN_LIFETIME_MIN", 30)
	v.SetDefault("DB_MAX_CONN_IDLE_TIME_MIN", 5)

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_DIAL_TIMEOUT_SECONDS", 5)
	v.SetDefault("REDIS_READ_TIMEOUT_SECONDS", 3)
	v.SetDefault("REDIS_WRITE_TIMEOUT_SECONDS", 3)
	v.SetDefault("REDIS_POOL_SIZE", 10)

	// Queue and worker defaults
	v.SetDefault("QUEUE_CONCURRENCY", 10)
	v.SetDefault("QUEUE_NAME", "default")
	v.SetDefault("WORKER_MAX_RETRIES", 3)
	v.SetDefault("WORKER_CHAIN_DELAY_MS", 100)
	v.SetDefault("WORKER_RETRY_BASE_SECONDS", 2)
	v.SetDefault("WORKER_RETRY_MAX_SECONDS", 60)
	v.SetDefault("WORKER_TASK_TIMEOUT_SECONDS", 180)
	v.SetDefault("WORKER_LOCK_WAIT_SECONDS", 10)

	// LLM defaults
	v.SetDefault("LLM_BASE_URL", "https://api.deepseek.com")
	v.SetDefault("LLM_MODEL_DEBATER", "deepseek-chat")
	v.SetDefault("LLM_MODEL_JUDGE", "deepseek-chat")
	v.SetDefault("LLM_TIMEOUT_SECONDS", 60)
	v.SetDefault("LLM_MAX_ATTEMPTS", 3)

	// Debate defaults
	v.SetDefault("DEBATE_MAX_ROUNDS", 5)
	v.SetDefault("DEBATE_MAX_RUNTIME_SECONDS", 600)
	v.SetDefault("DEBATE_MAX_TOTAL_OUTPUT_TOKENS", 8000)
	v.SetDefault("DEBATE_MAX_TOKENS_DEBATER", 600)
	v.SetDefault("DEBATE_MAX_TOKENS_JUDGE", 400)
	v.SetDefault("DEBATE_PROMPT_VERSION", "v1")
	v.SetDefault("DEBATE_LANGUAGE", "en")

	v.SetDefault("EXPORT_DIR", "./data")
	v.SetDefault("EVENTS_ENABLED", true)
}

// Load loads configuration from environment variables, an optional .env file
// and whatever config file was registered on the global viper instance.
func Load() (*Config, error) {
	// Load .env file if exists
	if err := godotenv.Load(".env"); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			slog.Debug("no .env file found, using environment variables only")
		}
	}

	return FromViper(viper.GetViper())
}

// FromViper reads a Config out of v after applying defaults
func FromViper(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	// Bind environment variables
	v.AutomaticEnv()

	config := &Config{
		Environment: v.GetString("ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
	}

	config.Database = DatabaseConfig{
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Database:        v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSLMODE"),
		MaxConnections:  v.GetInt("DB_MAX_CONNECTIONS"),
		MinConnections:  v.GetInt("DB_MIN_CONNECTIONS"),
		MaxConnLifetime: v.GetInt("DB_MAX_CONN_LIFETIME_MIN"),
		MaxConnIdleTime: v.GetInt("DB_MAX_CONN_IDLE_TIME_MIN"),
		LogLevel:        v.GetString("LOG_LEVEL"),
	}

	config.Cache = CacheConfig{
		Host:         v.GetString("REDIS_HOST"),
		Port:         v.GetInt("REDIS_PORT"),
		Password:     v.GetString("REDIS_PASSWORD"),
		DB:           v.GetInt("REDIS_DB"),
		DialTimeout:  v.GetInt("REDIS_DIAL_TIMEOUT_SECONDS"),
		ReadTimeout:  v.GetInt("REDIS_READ_TIMEOUT_SECONDS"),
		WriteTimeout: v.GetInt("REDIS_WRITE_TIMEOUT_SECONDS"),
		PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
	}

	config.Queue = QueueConfig{
		RedisHost:     config.Cache.Host,
		RedisPort:     config.Cache.Port,
		RedisPassword: config.Cache.Password,
		RedisDB:       config.Cache.DB,
		DialTimeout:   config.Cache.DialTimeout,
		ReadTimeout:   config.Cache.ReadTimeout,
		WriteTimeout:  config.Cache.WriteTimeout,
		Concurrency:   v.GetInt("QUEUE_CONCURRENCY"),
		Name:          v.GetString("QUEUE_NAME"),
	}

	config.Worker = WorkerConfig{
		MaxRetries:   v.GetInt("WORKER_MAX_RETRIES"),
		ChainDelay:   time.Duration(v.GetInt("WORKER_CHAIN_DELAY_MS")) * time.Millisecond,
		RetryBase:    time.Duration(v.GetInt("WORKER_RETRY_BASE_SECONDS")) * time.Second,
		RetryMax:     time.Duration(v.GetInt("WORKER_RETRY_MAX_SECONDS")) * time.Second,
		TaskTimeout:  time.Duration(v.GetInt("WORKER_TASK_TIMEOUT_SECONDS")) * time.Second,
		LockWaitTime: time.Duration(v.GetInt("WORKER_LOCK_WAIT_SECONDS")) * time.Second,
	}

	config.LLM = LLMConfig{
		APIKey:       v.GetString("LLM_API_KEY"),
		BaseURL:      v.GetString("LLM_BASE_URL"),
		ModelDebater: v.GetString("LLM_MODEL_DEBATER"),
		ModelJudge:   v.GetString("LLM_MODEL_JUDGE"),
		Timeout:      time.Duration(v.GetInt("LLM_TIMEOUT_SECONDS")) * time.Second,
		MaxAttempts:  v.GetInt("LLM_MAX_ATTEMPTS"),
	}

	config.Debate = DebateDefaults{
		MaxRounds:            v.GetInt("DEBATE_MAX_ROUNDS"),
		MaxRuntimeSeconds:    v.GetInt("DEBATE_MAX_RUNTIME_SECONDS"),
		MaxTotalOutputTokens: v.GetInt("DEBATE_MAX_TOTAL_OUTPUT_TOKENS"),
		MaxTokensDebater:     v.GetInt("DEBATE_MAX_TOKENS_DEBATER"),
		MaxTokensJudge:       v.GetInt("DEBATE_MAX_TOKENS_JUDGE"),
		PromptVersion:        v.GetString("DEBATE_PROMPT_VERSION"),
		Language:             v.GetString("DEBATE_LANGUAGE"),
	}

	config.Storage = StorageConfig{ExportDir: v.GetString("EXPORT_DIR")}
	config.EventsEnabled = v.GetBool("EVENTS_ENABLED")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the fields every process needs
func (c *Config) Validate() error {
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("WORKER_MAX_RETRIES must not be negative")
	}
	if c.Debate.MaxRounds < 1 {
		return fmt.Errorf("DEBATE_MAX_ROUNDS must be at least 1")
	}
	return nil
}

// RequireLLM checks the settings only the worker process needs
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required to run the worker")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL is required to run the worker")
	}
	return nil
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// LogConfig logs the configuration (hiding sensitive data)
func (c *Config) LogConfig(logger *slog.Logger) {
	apiKey := "[NOT SET]"
	if c.LLM.APIKey != "" {
		apiKey = "[CONFIGURED]"
	}

	logger.Info("configuration loaded",
		slog.String("env", c.Environment),
		slog.String("database", fmt.Sprintf("%s:%d/%s", c.Database.Host, c.Database.Port, c.Database.Database)),
		slog.String("redis", fmt.Sprintf("%s:%d (db %d)", c.Cache.Host, c.Cache.Port, c.Cache.DB)),
		slog.Int("queue_concurrency", c.Queue.Concurrency),
		slog.Int("worker_max_retries", c.Worker.MaxRetries),
		slog.String("llm_base_url", c.LLM.BaseURL),
		slog.String("llm_api_key", apiKey),
	)
}
