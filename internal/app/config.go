package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (ORDERS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage     string `default:"postgres" usage:"Order storage driver: postgres or memory"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MaxConns    int32  `default:"10" usage:"Maximum PostgreSQL pool connections" flag:"max-conns"`
	RedisURL    string `usage:"Redis URL for distributed order locks and the SKU cache; empty uses in-process locks" flag:"redis-url"`

	Users     ServiceConfig
	Inventory InventoryConfig
	Webhook   WebhookConfig
	Kafka     KafkaConfig
	Lock      LockConfig
	RateLimit RateLimitConfig
	Graceful  GracefulConfig
}

// ServiceConfig addresses a collaborator service.
type ServiceConfig struct {
	URL     string        `usage:"Base URL of the service"`
	Timeout time.Duration `default:"5s" usage:"Per-call timeout"`
}

// InventoryConfig addresses the inventory service.
type InventoryConfig struct {
	URL      string        `usage:"Base URL of the inventory item collection"`
	Timeout  time.Duration `default:"5s" usage:"Per-call timeout"`
	CacheTTL time.Duration `default:"10m" usage:"SKU to item ID cache lifetime (Redis only)" flag:"inventory-cache-ttl"`
}

// WebhookConfig controls lifecycle notifications.
type WebhookConfig struct {
	URLs      string        `usage:"Comma-separated subscriber URLs"`
	Timeout   time.Duration `default:"5s" usage:"Per-delivery timeout"`
	QueueSize int           `default:"1024" usage:"Pending notification queue size" flag:"webhook-queue-size"`
	Workers   int           `default:"4" usage:"Delivery workers"`
}

// KafkaConfig enables the optional Kafka notification sink.
type KafkaConfig struct {
	Brokers string `usage:"Comma-separated broker addresses; empty disables Kafka"`
	Topic   string `default:"order-events" usage:"Topic for lifecycle notifications"`
}

// LockConfig tunes the Redis order lease.
type LockConfig struct {
	TTL  time.Duration `default:"30s" usage:"Lease lifetime"`
	Wait time.Duration `default:"2s" usage:"How long a mutation waits for a held lease"`
}

// RateLimitConfig controls the per-user token bucket.
type RateLimitConfig struct {
	Max    int           `default:"0" usage:"Max requests per window per user; 0 disables"`
	Window time.Duration `default:"1m" usage:"Rate limit window"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and flags, then applies platform defaults and validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERS",
		Files:     []string{"config.yaml", "/etc/orders/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set ORDERS_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage)
	}
	if c.Users.URL == "" {
		return errors.New("users service URL is required: set ORDERS_USERS_URL")
	}
	if c.Inventory.URL == "" {
		return errors.New("inventory service URL is required: set ORDERS_INVENTORY_URL")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided variables (DATABASE_URL,
// REDIS_URL, PORT) onto the ORDERS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
