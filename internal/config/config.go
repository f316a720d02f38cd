package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppPort    string `mapstructure:"APP_PORT"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`
	DBMaxConns int32  `mapstructure:"DB_MAX_CONNS"`

	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	KafkaBrokers           string        `mapstructure:"KAFKA_BROKERS"`
	KafkaClientID          string        `mapstructure:"KAFKA_CLIENT_ID"`
	KafkaGroupID           string        `mapstructure:"KAFKA_GROUP_ID"`
	KafkaTopicPartitions   int           `mapstructure:"KAFKA_TOPIC_PARTITIONS"`
	KafkaDLQPartitions     int           `mapstructure:"KAFKA_DLQ_PARTITIONS"`
	KafkaReplicationFactor int           `mapstructure:"KAFKA_REPLICATION_FACTOR"`
	KafkaDeliveryTimeout   time.Duration `mapstructure:"KAFKA_DELIVERY_TIMEOUT"`
	EventDrivenEnabled     bool          `mapstructure:"EVENT_DRIVEN_ENABLED"`

	AdmissionReserveTimeout time.Duration `mapstructure:"ADMISSION_RESERVE_TIMEOUT"`
	AdmissionPublishTimeout time.Duration `mapstructure:"ADMISSION_PUBLISH_TIMEOUT"`
	AdmissionThrottleRPS    float64       `mapstructure:"ADMISSION_THROTTLE_RPS"`
	AdmissionThrottleBurst  int           `mapstructure:"ADMISSION_THROTTLE_BURST"`
	AdmissionThrottleWait   time.Duration `mapstructure:"ADMISSION_THROTTLE_WAIT"`

	WorkerMaxAttempts int           `mapstructure:"WORKER_MAX_ATTEMPTS"`
	WorkerBaseBackoff time.Duration `mapstructure:"WORKER_BASE_BACKOFF"`
	WorkerMaxBackoff  time.Duration `mapstructure:"WORKER_MAX_BACKOFF"`
	WorkerLanes       int           `mapstructure:"WORKER_LANES"`
	WorkerQueueDepth  int           `mapstructure:"WORKER_QUEUE_DEPTH"`
	WorkerNodeID      int64         `mapstructure:"WORKER_NODE_ID"`

	ReconcileSchedule  string        `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileGrace     time.Duration `mapstructure:"RECONCILE_GRACE"`
	ReconcileRetention time.Duration `mapstructure:"RECONCILE_RETENTION"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

var defaults = map[string]any{
	"APP_PORT":     "8080",
	"DB_HOST":      "localhost",
	"DB_PORT":      "5432",
	"DB_USER":      "postgres",
	"DB_PASSWORD":  "postgres",
	"DB_NAME":      "coupondb",
	"DB_SSLMODE":   "disable",
	"DB_MAX_CONNS": 20,

	"REDIS_ADDR":       "localhost:6379",
	"REDIS_PASSWORD":   "",
	"REDIS_DB":         0,
	"REDIS_KEY_PREFIX": "coupon",

	"KAFKA_BROKERS":            "kafka:9092",
	"KAFKA_CLIENT_ID":          "coupon-issuer",
	"KAFKA_GROUP_ID":           "coupon-issuers",
	"KAFKA_TOPIC_PARTITIONS":   6,
	"KAFKA_DLQ_PARTITIONS":     1,
	"KAFKA_REPLICATION_FACTOR": 1,
	"KAFKA_DELIVERY_TIMEOUT":   "10s",
	"EVENT_DRIVEN_ENABLED":     true,

	"ADMISSION_RESERVE_TIMEOUT": "50ms",
	"ADMISSION_PUBLISH_TIMEOUT": "200ms",
	"ADMISSION_THROTTLE_RPS":    0.0,
	"ADMISSION_THROTTLE_BURST":  100,
	"ADMISSION_THROTTLE_WAIT":   "20ms",

	"WORKER_MAX_ATTEMPTS": 5,
	"WORKER_BASE_BACKOFF": "100ms",
	"WORKER_MAX_BACKOFF":  "2s",
	"WORKER_LANES":        8,
	"WORKER_QUEUE_DEPTH":  1024,
	"WORKER_NODE_ID":      1,

	"RECONCILE_SCHEDULE":  "@every 30s",
	"RECONCILE_GRACE":     "5m",
	"RECONCILE_RETENTION": "24h",

	"LOG_LEVEL":  "info",
	"LOG_FORMAT": "json",
}

// Load reads configuration from the environment, after merging a local .env
// file when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.WorkerMaxAttempts <= 0:
		return errors.New("WORKER_MAX_ATTEMPTS must be > 0")
	case c.WorkerLanes <= 0:
		return errors.New("WORKER_LANES must be > 0")
	case c.AdmissionReserveTimeout <= 0:
		return errors.New("ADMISSION_RESERVE_TIMEOUT must be > 0")
	case c.AdmissionPublishTimeout <= 0:
		return errors.New("ADMISSION_PUBLISH_TIMEOUT must be > 0")
	case c.AdmissionThrottleRPS < 0:
		return errors.New("ADMISSION_THROTTLE_RPS must be >= 0")
	case c.WorkerNodeID < 0 || c.WorkerNodeID > 1023:
		return errors.New("WORKER_NODE_ID must be within [0, 1023]")
	}
	return nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c *Config) TopicPartitions() int {
	return positive(c.KafkaTopicPartitions, 6)
}

func (c *Config) DLQPartitions() int {
	return positive(c.KafkaDLQPartitions, 1)
}

func (c *Config) ReplicationFactor() int16 {
	return int16(positive(c.KafkaReplicationFactor, 1))
}

func positive(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
