// Package config loads service configuration from the environment, with a
// .env file for local development.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Role     string // primary or follower
	GRPCAddr string
	OpsAddr  string

	DataDir string

	QueueImpl     string // ring or chan
	QueueCapacity int
	QueueMode     string // reject or block
	BatchMax      int

	PriceScale     int
	DepthLevels    int
	IdempotencyTTL time.Duration

	WALSegmentSize     int64
	WALSegmentDuration time.Duration
	CheckpointInterval time.Duration
	ExpireInterval     time.Duration

	// Follower side.
	PrimaryAddr          string
	ReplicationHeartbeat time.Duration

	// Publication. Empty brokers disable Kafka entirely.
	KafkaBrokers  []string
	EventsTopic   string
	DepthTopic    string
	DepthInterval time.Duration
}

func (c *Config) WALDir() string      { return filepath.Join(c.DataDir, "wal") }
func (c *Config) SnapshotDir() string { return filepath.Join(c.DataDir, "snapshots") }
func (c *Config) OutboxDir() string   { return filepath.Join(c.DataDir, "outbox") }

func Load() (*Config, error) {
	_ = godotenv.Load() // optional in production

	c := &Config{
		Role:     envStr("ENGINE_ROLE", "primary"),
		GRPCAddr: envStr("GRPC_ADDR", ":7001"),
		OpsAddr:  envStr("OPS_ADDR", ":7080"),

		DataDir: envStr("DATA_DIR", "data"),

		QueueImpl:     envStr("QUEUE_IMPL", "ring"),
		QueueCapacity: envInt("QUEUE_CAPACITY", 1<<14),
		QueueMode:     envStr("QUEUE_MODE", "reject"),
		BatchMax:      envInt("BATCH_MAX", 256),

		PriceScale:     envInt("PRICE_SCALE", 4),
		DepthLevels:    envInt("DEPTH_LEVELS", 32),
		IdempotencyTTL: envDur("IDEMPOTENCY_TTL", 10*time.Minute),

		WALSegmentSize:     int64(envInt("WAL_SEGMENT_SIZE", 64<<20)),
		WALSegmentDuration: envDur("WAL_SEGMENT_DURATION", 0),
		CheckpointInterval: envDur("CHECKPOINT_INTERVAL", 5*time.Minute),
		ExpireInterval:     envDur("EXPIRE_INTERVAL", time.Second),

		PrimaryAddr:          envStr("PRIMARY_ADDR", ""),
		ReplicationHeartbeat: envDur("REPLICATION_HEARTBEAT", 500*time.Millisecond),

		KafkaBrokers:  envList("KAFKA_BROKERS"),
		EventsTopic:   envStr("KAFKA_EVENTS_TOPIC", "engine.events"),
		DepthTopic:    envStr("KAFKA_DEPTH_TOPIC", "engine.depth"),
		DepthInterval: envDur("DEPTH_INTERVAL", 250*time.Millisecond),
	}
	return c, c.validate()
}

func (c *Config) validate() error {
	switch c.Role {
	case "primary", "follower":
	default:
		return fmt.Errorf("config: ENGINE_ROLE %q, want primary or follower", c.Role)
	}
	if c.Role == "follower" && c.PrimaryAddr == "" {
		return fmt.Errorf("config: follower needs PRIMARY_ADDR")
	}
	switch c.QueueImpl {
	case "ring", "chan":
	default:
		return fmt.Errorf("config: QUEUE_IMPL %q, want ring or chan", c.QueueImpl)
	}
	switch c.QueueMode {
	case "reject", "block":
	default:
		return fmt.Errorf("config: QUEUE_MODE %q, want reject or block", c.QueueMode)
	}
	if c.QueueImpl == "ring" && c.QueueCapacity&(c.QueueCapacity-1) != 0 {
		return fmt.Errorf("config: QUEUE_CAPACITY %d must be a power of two for the ring", c.QueueCapacity)
	}
	if c.PriceScale < 0 || c.PriceScale > 12 {
		return fmt.Errorf("config: PRICE_SCALE %d out of range", c.PriceScale)
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
