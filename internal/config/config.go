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
	Environment string

	Server       ServerConfig
	Logging      LoggingConfig
	Redis        RedisConfig
	Scylla       ScyllaConfig
	Kafka        KafkaConfig
	ClickHouse   ClickHouseConfig
	Elastic      ElasticConfig
	Blob         BlobConfig
	Identity     IdentityConfig
	Session      SessionConfig
	Verification VerificationConfig
	Cleanup      CleanupConfig
	Bucketing    BucketingConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers   []string
	MailTopic string
}

type ClickHouseConfig struct {
	Addr     []string
	Database string
	Username string
	Password string
}

type ElasticConfig struct {
	Addresses    []string
	TrackerIndex string
}

type BlobConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
}

// IdentityConfig holds the secrets for the identity codec. HashSecret keys the
// lookup hash; EncryptionKey is a hex-encoded 32-byte AES key.
type IdentityConfig struct {
	HashSecret    string
	EncryptionKey string
}

type SessionConfig struct {
	TTL time.Duration
}

type VerificationConfig struct {
	CodeTTL      time.Duration
	MaxAttempts  int
	ResendWindow time.Duration
}

type CleanupConfig struct {
	// ResumeTTL is how far resume_expires_at is pushed forward on each
	// successful submission or resume.
	ResumeTTL     time.Duration
	BatchCap      int
	TriggerSecret string
}

type BucketingConfig struct {
	TrackerBuckets int
}

// LoadConfig reads configuration from the environment, loading a .env file
// first when one is present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/cache/onboarding-certs"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "onboarding"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:   getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			MailTopic: getEnv("KAFKA_MAIL_TOPIC", "onboarding.mail"),
		},
		ClickHouse: ClickHouseConfig{
			Addr:     getEnvSlice("CLICKHOUSE_ADDR", []string{"localhost:9000"}),
			Database: getEnv("CLICKHOUSE_DATABASE", "onboarding"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Elastic: ElasticConfig{
			Addresses:    getEnvSlice("ELASTIC_ADDRESSES", []string{"http://localhost:9200"}),
			TrackerIndex: getEnv("ELASTIC_TRACKER_INDEX", "onboarding-trackers"),
		},
		Blob: BlobConfig{
			Endpoint:  getEnv("BLOB_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("BLOB_ACCESS_KEY", ""),
			SecretKey: getEnv("BLOB_SECRET_KEY", ""),
			UseSSL:    getEnvBool("BLOB_USE_SSL", false),
			Region:    getEnv("BLOB_REGION", "us-east-1"),
			Bucket:    getEnv("BLOB_BUCKET", "onboarding-uploads"),
		},
		Identity: IdentityConfig{
			HashSecret:    getEnv("IDENTITY_HASH_SECRET", ""),
			EncryptionKey: getEnv("IDENTITY_ENCRYPTION_KEY", ""),
		},
		Session: SessionConfig{
			TTL: getEnvDuration("SESSION_TTL", 6*time.Hour),
		},
		Verification: VerificationConfig{
			CodeTTL:      getEnvDuration("VERIFICATION_CODE_TTL", 10*time.Minute),
			MaxAttempts:  getEnvInt("VERIFICATION_MAX_ATTEMPTS", 5),
			ResendWindow: getEnvDuration("VERIFICATION_RESEND_WINDOW", 60*time.Second),
		},
		Cleanup: CleanupConfig{
			ResumeTTL:     getEnvDuration("CLEANUP_RESUME_TTL", 14*24*time.Hour),
			BatchCap:      getEnvInt("CLEANUP_BATCH_CAP", 5000),
			TriggerSecret: getEnv("CLEANUP_TRIGGER_SECRET", ""),
		},
		Bucketing: BucketingConfig{
			TrackerBuckets: getEnvInt("BUCKETING_TRACKER_BUCKETS", 64),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Validate rejects configurations that cannot possibly work.
func (c *Config) Validate() error {
	if c.Identity.HashSecret == "" {
		return fmt.Errorf("IDENTITY_HASH_SECRET is required")
	}
	if c.Identity.EncryptionKey == "" {
		return fmt.Errorf("IDENTITY_ENCRYPTION_KEY is required")
	}
	if c.IsProduction() && c.Cleanup.TriggerSecret == "" {
		return fmt.Errorf("CLEANUP_TRIGGER_SECRET is required in production")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
