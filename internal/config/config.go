package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SETTLEMENT"

type Config struct {
	Service     string            `mapstructure:"service"`
	Log         LogConfig         `mapstructure:"log"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	GRPC        GRPCConfig        `mapstructure:"grpc"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Mongo       MongoConfig       `mapstructure:"mongo"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Pricing     PricingConfig     `mapstructure:"pricing"`
	Reservation ReservationConfig `mapstructure:"reservation"`
	Fulfillment FulfillmentConfig `mapstructure:"fulfillment"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
}

type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

type HTTPConfig struct {
	Port            string        `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AdminToken guards /admin routes; empty disables them.
	AdminToken      string        `mapstructure:"admin_token"`
}

type GRPCConfig struct {
	Port string `mapstructure:"port"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	DBName         string `mapstructure:"dbname"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	MinPoolSize uint64 `mapstructure:"min_pool_size"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	SettledTopic string   `mapstructure:"settled_topic"`
	CartGroupID  string   `mapstructure:"cart_group_id"`
}

type CatalogConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

type PricingConfig struct {
	BaseCurrency string            `mapstructure:"base_currency"`
	StaticRates  map[string]string `mapstructure:"static_rates"`
}

type ReservationConfig struct {
	QuoteTTL       time.Duration `mapstructure:"quote_ttl"`
	ExpiryInterval time.Duration `mapstructure:"expiry_interval"`
	ExpiryBatch    int           `mapstructure:"expiry_batch"`
}

type FulfillmentConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BaseBackoff      time.Duration `mapstructure:"base_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	DeliveryEndpoint string        `mapstructure:"delivery_endpoint"`
	ShippingEndpoint string        `mapstructure:"shipping_endpoint"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
}

type ProvidersConfig struct {
	Manual ManualProviderConfig `mapstructure:"manual"`
	Rest   RestProviderConfig   `mapstructure:"rest"`
}

type ManualProviderConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type RestProviderConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	ID            string        `mapstructure:"id"`
	BaseURL       string        `mapstructure:"base_url"`
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	ReturnURL     string        `mapstructure:"return_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service", "settlement-service")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.level", "info")

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.request_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("grpc.port", "50051")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.dbname", "settlement")
	v.SetDefault("postgres.migrations_path", "internal/repository/migrations")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "cart")
	v.SetDefault("mongo.max_pool_size", 100)
	v.SetDefault("mongo.min_pool_size", 10)
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.settled_topic", "order.settled")
	v.SetDefault("kafka.cart_group_id", "settlement-cart-clear")

	v.SetDefault("catalog.path", "catalog.db")
	v.SetDefault("catalog.migrations_path", "internal/catalog/migrations")

	v.SetDefault("pricing.base_currency", "USD")

	v.SetDefault("reservation.quote_ttl", 10*time.Minute)
	v.SetDefault("reservation.expiry_interval", 30*time.Second)
	v.SetDefault("reservation.expiry_batch", 100)

	v.SetDefault("fulfillment.poll_interval", 2*time.Second)
	v.SetDefault("fulfillment.batch_size", 20)
	v.SetDefault("fulfillment.max_attempts", 8)
	v.SetDefault("fulfillment.base_backoff", 5*time.Second)
	v.SetDefault("fulfillment.max_backoff", 10*time.Minute)
	v.SetDefault("fulfillment.call_timeout", 10*time.Second)

	v.SetDefault("providers.manual.enabled", true)
	v.SetDefault("providers.rest.id", "rest")
	v.SetDefault("providers.rest.timeout", 15*time.Second)
}

// Load reads defaults, then the optional YAML file at path, then
// SETTLEMENT_* environment variables (dots become underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Pricing.BaseCurrency) != 3 {
		return fmt.Errorf("pricing.base_currency must be a 3-letter code, got %q", c.Pricing.BaseCurrency)
	}
	if c.Reservation.QuoteTTL <= 0 {
		return fmt.Errorf("reservation.quote_ttl must be positive")
	}
	if c.Fulfillment.MaxAttempts < 1 {
		return fmt.Errorf("fulfillment.max_attempts must be at least 1")
	}
	if c.Providers.Rest.Enabled && c.Providers.Rest.BaseURL == "" {
		return fmt.Errorf("providers.rest.base_url is required when the rest provider is enabled")
	}
	return nil
}
