package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Pricing  PricingConfig
	Features FeatureFlags
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

func (d DatabaseConfig) ConnectionString() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	OrdersTopic   string
	CatalogTopic  string
	ConsumerGroup string
}

// PricingConfig holds the business constants the pricing core treats as injectable.
type PricingConfig struct {
	Currency              string
	ShippingFlatFee       decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FallbackPrice         decimal.Decimal
	CouponCommitRetries   int
}

type FeatureFlags struct {
	EnableCatalogCaching bool
	EnableOrderCaching   bool
	EnableOrderEvents    bool
	EnableCatalogEvents  bool
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8084),
			ReadTimeout:  time.Duration(getEnvInt("SERVER_READ_TIMEOUT", 30)) * time.Second,
			WriteTimeout: time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT", 30)) * time.Second,
		},
		Database: DatabaseConfig{
			Host:         getEnvString("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			User:         getEnvString("DB_USER", "acme"),
			Password:     getEnvString("DB_PASSWORD", "acme"),
			Name:         getEnvString("DB_NAME", "acme_checkout"),
			SSLMode:      getEnvString("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      time.Duration(getEnvInt("REDIS_TTL_SECONDS", 300)) * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			OrdersTopic:   getEnvString("KAFKA_ORDERS_TOPIC", "orders"),
			CatalogTopic:  getEnvString("KAFKA_CATALOG_TOPIC", "catalog"),
			ConsumerGroup: getEnvString("KAFKA_CONSUMER_GROUP", "checkout-service"),
		},
		Pricing: PricingConfig{
			Currency:              getEnvString("PRICING_DEFAULT_CURRENCY", "INR"),
			ShippingFlatFee:       getEnvDecimal("SHIPPING_FLAT_FEE", decimal.NewFromInt(100)),
			FreeShippingThreshold: getEnvDecimal("SHIPPING_FREE_THRESHOLD", decimal.NewFromInt(1000)),
			FallbackPrice:         getEnvDecimal("PRICING_FALLBACK_PRICE", decimal.NewFromInt(999)),
			CouponCommitRetries:   getEnvInt("COUPON_COMMIT_RETRIES", 3),
		},
		Features: FeatureFlags{
			EnableCatalogCaching: getEnvBool("ENABLE_CATALOG_CACHING", true),
			EnableOrderCaching:   getEnvBool("ENABLE_ORDER_CACHING", true),
			EnableOrderEvents:    getEnvBool("ENABLE_ORDER_EVENTS", true),
			EnableCatalogEvents:  getEnvBool("ENABLE_CATALOG_EVENTS", true),
		},
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil && !d.IsNegative() {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
