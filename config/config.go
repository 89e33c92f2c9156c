// Package config loads all runtime configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Engine     EngineConfig
	WAL        WALConfig
	Snapshot   SnapshotConfig
	Outbox     OutboxConfig
	Kafka      KafkaConfig
	Logger     LoggerConfig
	MarketData MarketDataConfig
}

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type EngineConfig struct {
	PreventSelfTrade bool
	MaxDepthLevels   int
}

type WALConfig struct {
	Dir             string
	SegmentSize     uint64
	SegmentDuration time.Duration
}

type SnapshotConfig struct {
	Dir      string
	Interval time.Duration
}

type OutboxConfig struct {
	Dir string
}

type KafkaConfig struct {
	Brokers         []string
	ExecutionsTopic string
	MarketDataTopic string
	ReplayInterval  time.Duration
}

type LoggerConfig struct {
	Level  string
	Pretty bool
}

type MarketDataConfig struct {
	Interval time.Duration
	Depth    int
}

// Load reads the .env file if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("SERVER_ADDR", ":8080"),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Engine: EngineConfig{
			PreventSelfTrade: getEnvBool("ENGINE_PREVENT_SELF_TRADE", false),
			MaxDepthLevels:   getEnvInt("ENGINE_MAX_DEPTH_LEVELS", 50),
		},
		WAL: WALConfig{
			Dir:             getEnv("WAL_DIR", "./data/wal"),
			SegmentSize:     uint64(getEnvInt("WAL_SEGMENT_SIZE", 64*1024*1024)),
			SegmentDuration: getEnvDuration("WAL_SEGMENT_DURATION", 15*time.Minute),
		},
		Snapshot: SnapshotConfig{
			Dir:      getEnv("SNAPSHOT_DIR", "./data/snapshot"),
			Interval: getEnvDuration("SNAPSHOT_INTERVAL", 5*time.Minute),
		},
		Outbox: OutboxConfig{
			Dir: getEnv("OUTBOX_DIR", "./data/outbox"),
		},
		Kafka: KafkaConfig{
			Brokers:         strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			ExecutionsTopic: getEnv("KAFKA_EXECUTIONS_TOPIC", "executions"),
			MarketDataTopic: getEnv("KAFKA_MARKETDATA_TOPIC", "marketdata"),
			ReplayInterval:  getEnvDuration("KAFKA_REPLAY_INTERVAL", 250*time.Millisecond),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnvBool("LOG_PRETTY", false),
		},
		MarketData: MarketDataConfig{
			Interval: getEnvDuration("MARKETDATA_INTERVAL", 500*time.Millisecond),
			Depth:    getEnvInt("MARKETDATA_DEPTH", 10),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("SERVER_ADDR cannot be empty")
	}
	if c.WAL.Dir == "" {
		return fmt.Errorf("WAL_DIR cannot be empty")
	}
	if c.WAL.SegmentSize < 4096 {
		return fmt.Errorf("WAL_SEGMENT_SIZE must be at least 4096")
	}
	if c.Snapshot.Interval <= 0 {
		return fmt.Errorf("SNAPSHOT_INTERVAL must be positive")
	}
	if c.Engine.MaxDepthLevels < 1 {
		return fmt.Errorf("ENGINE_MAX_DEPTH_LEVELS must be > 0")
	}
	if len(c.Kafka.Brokers) == 0 || c.Kafka.Brokers[0] == "" {
		return fmt.Errorf("KAFKA_BROKERS cannot be empty")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
