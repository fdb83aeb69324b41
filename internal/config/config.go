package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Queue and inventory backends.
const (
	QueueMemory = "memory"
	QueueSQS    = "sqs"

	InventoryDynamoDB = "dynamodb"
	InventoryPostgres = "postgres"
)

// Config is the process configuration for the API and worker binaries.
type Config struct {
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	RunLocal bool   `mapstructure:"RUN_LOCAL"`

	AWSRegion        string `mapstructure:"AWS_REGION"`
	AWSEndpoint      string `mapstructure:"AWS_ENDPOINT_OVERRIDE"`
	IdempotencyTable string `mapstructure:"IDEMPOTENCY_TABLE"`
	OrdersTable      string `mapstructure:"ORDERS_TABLE"`
	InventoryTable   string `mapstructure:"INVENTORY_TABLE"`
	JobsTable        string `mapstructure:"JOBS_TABLE"`

	IdempotencyTTL time.Duration `mapstructure:"IDEMPOTENCY_TTL"`

	QueueBackend     string        `mapstructure:"JOB_QUEUE_BACKEND"`
	QueueURL         string        `mapstructure:"JOBS_QUEUE_URL"`
	WorkerCount      int           `mapstructure:"WORKER_COUNT"`
	JobTimeout       time.Duration `mapstructure:"JOB_TIMEOUT"`
	JobLease         time.Duration `mapstructure:"JOB_LEASE"`
	JobSimulatedWork time.Duration `mapstructure:"JOB_SIMULATED_WORK"`

	RedisAddr   string        `mapstructure:"REDIS_ADDR"`
	JobCacheTTL time.Duration `mapstructure:"JOB_CACHE_TTL"`

	InventoryBackend string `mapstructure:"INVENTORY_BACKEND"`
	PostgresDSN      string `mapstructure:"POSTGRES_DSN"`

	ReceiptTopicARN string `mapstructure:"RECEIPT_TOPIC_ARN"`

	JWTSecret          string `mapstructure:"JWT_SECRET"`
	RateLimitPerMinute int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`

	CloudWatchEnabled   bool   `mapstructure:"CLOUDWATCH_ENABLED"`
	CloudWatchNamespace string `mapstructure:"CLOUDWATCH_NAMESPACE"`
}

var defaults = map[string]interface{}{
	"APP_ENV":               "development",
	"LOG_LEVEL":             "info",
	"HTTP_ADDR":             ":8080",
	"RUN_LOCAL":             false,
	"AWS_REGION":            "us-east-1",
	"AWS_ENDPOINT_OVERRIDE": "",
	"IDEMPOTENCY_TABLE":     "idempotency",
	"ORDERS_TABLE":          "orders",
	"INVENTORY_TABLE":       "inventory",
	"JOBS_TABLE":            "jobs",
	"IDEMPOTENCY_TTL":       24 * time.Hour,
	"JOB_QUEUE_BACKEND":     QueueMemory,
	"JOBS_QUEUE_URL":        "",
	"WORKER_COUNT":          2,
	"JOB_TIMEOUT":           time.Duration(0),
	"JOB_LEASE":             10 * time.Minute,
	"JOB_SIMULATED_WORK":    500 * time.Millisecond,
	"REDIS_ADDR":            "",
	"JOB_CACHE_TTL":         time.Second,
	"INVENTORY_BACKEND":     InventoryDynamoDB,
	"POSTGRES_DSN":          "",
	"RECEIPT_TOPIC_ARN":     "",
	"JWT_SECRET":            "",
	"RATE_LIMIT_PER_MINUTE": 10,
	"CLOUDWATCH_ENABLED":    false,
	"CLOUDWATCH_NAMESPACE":  "HopeOrderflow",
}

// Load reads .env (if present), an optional YAML file named by CONFIG_FILE and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive")
	}
	switch c.QueueBackend {
	case QueueMemory:
	case QueueSQS:
		if c.QueueURL == "" {
			return fmt.Errorf("JOBS_QUEUE_URL is required for the sqs queue backend")
		}
	default:
		return fmt.Errorf("unknown JOB_QUEUE_BACKEND %q", c.QueueBackend)
	}
	switch c.InventoryBackend {
	case InventoryDynamoDB:
	case InventoryPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres inventory backend")
		}
	default:
		return fmt.Errorf("unknown INVENTORY_BACKEND %q", c.InventoryBackend)
	}
	if c.JobLease > 0 && c.JobTimeout > 0 && c.JobLease <= c.JobTimeout {
		return fmt.Errorf("JOB_LEASE must be longer than JOB_TIMEOUT")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.RateLimitPerMinute < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	return nil
}
