package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultSweepInterval   = time.Hour
	defaultBcryptCost      = 10
	minBcryptCost          = 4
	maxBcryptCost          = 31
)

type Config struct {
	ServerPort int
	Database   DatabaseConfig
	Auth       AuthConfig
	Registry   RegistryConfig
	Redis      RedisConfig
	MQ         MQConfig
	RabbitMQ   RabbitMQConfig
	PubSub     PubSubConfig
	Storage    StorageConfig
	Minio      MinioConfig
	GCS        GCSConfig
	Log        LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

// AuthConfig holds token signing and password hashing settings.
type AuthConfig struct {
	AccessTokenSecret   string
	RefreshTokenSecret  string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	BcryptCost          int
	MaxConcurrentHashes int
	SweepInterval       time.Duration
}

// RegistryConfig selects where refresh-token sessions are kept.
// Backend is "memory" (single instance) or "redis".
type RegistryConfig struct {
	Backend string
}

type RedisConfig struct {
	URL       string
	KeyPrefix string
}

// MQConfig selects the account event broker.
// Backend is "rabbitmq", "pubsub" or "none".
type MQConfig struct {
	Backend              string
	AccountEventsChannel string
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

// StorageConfig selects the avatar object store.
// Backend is "minio", "gcs", "memory" (development only) or "none".
type StorageConfig struct {
	Backend string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type LogConfig struct {
	Level  string
	Format string
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "folio"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "folio_db"),
		UseSSL:   getEnvBool("DB_USE_SSL", false),
	}

	authConfig := AuthConfig{
		AccessTokenSecret:   strings.TrimSpace(getEnv("AUTH_ACCESS_TOKEN_SECRET", "")),
		RefreshTokenSecret:  strings.TrimSpace(getEnv("AUTH_REFRESH_TOKEN_SECRET", "")),
		AccessTokenTTL:      getEnvDuration("AUTH_ACCESS_TOKEN_TTL", defaultAccessTokenTTL),
		RefreshTokenTTL:     getEnvDuration("AUTH_REFRESH_TOKEN_TTL", defaultRefreshTokenTTL),
		BcryptCost:          getEnvInt("AUTH_BCRYPT_COST", defaultBcryptCost),
		MaxConcurrentHashes: getEnvInt("AUTH_MAX_CONCURRENT_HASHES", 0),
		SweepInterval:       getEnvDuration("AUTH_SWEEP_INTERVAL", defaultSweepInterval),
	}

	return Config{
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		Database:   dbConfig,
		Auth:       authConfig,
		Registry: RegistryConfig{
			Backend: strings.ToLower(getEnv("REGISTRY_BACKEND", "memory")),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "localhost:6379"),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "folio:refresh:"),
		},
		MQ: MQConfig{
			Backend:              strings.ToLower(getEnv("MQ_BACKEND", "none")),
			AccountEventsChannel: getEnv("MQ_ACCOUNT_EVENTS_CHANNEL", "account-events"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
			PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH_COUNT", 10),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", "none")),
		},
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "folio-avatars"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		GCS: GCSConfig{
			Bucket:          getEnv("GCS_BUCKET", ""),
			ProjectID:       getEnv("GCS_PROJECT_ID", ""),
			CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}
}

// Validate reports configuration that must stop the server from starting.
func (c Config) Validate() error {
	var errs []error

	if c.Auth.AccessTokenSecret == "" {
		errs = append(errs, errors.New("AUTH_ACCESS_TOKEN_SECRET is required"))
	}
	if c.Auth.RefreshTokenSecret == "" {
		errs = append(errs, errors.New("AUTH_REFRESH_TOKEN_SECRET is required"))
	}
	if c.Auth.AccessTokenSecret != "" && c.Auth.AccessTokenSecret == c.Auth.RefreshTokenSecret {
		errs = append(errs, errors.New("access and refresh token secrets must differ"))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("AUTH_ACCESS_TOKEN_TTL must be positive"))
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("AUTH_REFRESH_TOKEN_TTL must be longer than AUTH_ACCESS_TOKEN_TTL"))
	}
	if c.Auth.BcryptCost < minBcryptCost || c.Auth.BcryptCost > maxBcryptCost {
		errs = append(errs, fmt.Errorf("AUTH_BCRYPT_COST must be between %d and %d", minBcryptCost, maxBcryptCost))
	}
	if c.Auth.SweepInterval <= 0 {
		errs = append(errs, errors.New("AUTH_SWEEP_INTERVAL must be positive"))
	}

	switch c.Registry.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Redis.URL) == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis registry"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown REGISTRY_BACKEND %q", c.Registry.Backend))
	}

	switch c.MQ.Backend {
	case "none", "rabbitmq", "pubsub":
	default:
		errs = append(errs, fmt.Errorf("unknown MQ_BACKEND %q", c.MQ.Backend))
	}

	switch c.Storage.Backend {
	case "none", "memory", "minio", "gcs":
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err != nil {
			return 0
		}
		return value
	}
	return defaultValue
}
