package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Server captures process level configuration.
type Server struct {
	Addr         string
	StoreBackend string
	DatabaseURL  string
	LogLevel     string
	// AdminToken guards operator endpoints; empty disables them.
	AdminToken string
	// DraftTTL bounds how long a proposed rule change stays open.
	DraftTTL time.Duration
	// TxTimeout bounds one store transaction.
	TxTimeout time.Duration

	Redis RedisConfig
	Kafka KafkaConfig
	IAM   IAMConfig
}

// RedisConfig configures the go-redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit outbox relay. No brokers disables it.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// IAMConfig locates the identity realm and selects how its tokens are verified.
type IAMConfig struct {
	URL            string
	Realm          string
	ClientID       string
	Timeout        time.Duration
	ServiceToken   string
	TokenPublicKey string
	TokenSecret    string
}

// Enabled reports whether Kafka publishing is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:         envDefault("QUORUM_ADDR", ":8080"),
		StoreBackend: strings.ToLower(envDefault("STORE_BACKEND", StoreMemory)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		LogLevel:     envDefault("LOG_LEVEL", "info"),
		AdminToken:   os.Getenv("QUORUM_ADMIN_TOKEN"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envIntDefault("REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntDefault("REDIS_MIN_IDLE_CONNS", 2),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: envDefault("KAFKA_AUDIT_TOPIC", "quorum.audit"),
		},
		IAM: IAMConfig{
			URL:            os.Getenv("IAM_URL"),
			Realm:          os.Getenv("IAM_REALM"),
			ClientID:       os.Getenv("IAM_CLIENT_ID"),
			ServiceToken:   os.Getenv("IAM_SERVICE_TOKEN"),
			TokenPublicKey: os.Getenv("IAM_TOKEN_PUBLIC_KEY"),
			TokenSecret:    os.Getenv("IAM_TOKEN_SECRET"),
		},
	}

	var errs []error
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"DRAFT_TTL", 7 * 24 * time.Hour, &cfg.DraftTTL},
		{"TX_TIMEOUT", 5 * time.Second, &cfg.TxTimeout},
		{"IAM_TIMEOUT", 10 * time.Second, &cfg.IAM.Timeout},
		{"REDIS_DIAL_TIMEOUT", 5 * time.Second, &cfg.Redis.DialTimeout},
		{"REDIS_READ_TIMEOUT", 3 * time.Second, &cfg.Redis.ReadTimeout},
		{"REDIS_WRITE_TIMEOUT", 3 * time.Second, &cfg.Redis.WriteTimeout},
	}
	for _, d := range durations {
		v, err := envDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
		}
		*d.dst = v
	}

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	return cfg, errors.Join(errs...)
}

func (c Server) validate() error {
	var errs []error
	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of memory, postgres, redis", c.StoreBackend))
	}
	if c.Kafka.Enabled() && c.DatabaseURL == "" {
		errs = append(errs, errors.New("KAFKA_BROKERS needs DATABASE_URL for the audit outbox"))
	}
	if c.IAM.URL == "" {
		errs = append(errs, errors.New("IAM_URL is required"))
	}
	if c.IAM.Realm == "" {
		errs = append(errs, errors.New("IAM_REALM is required"))
	}
	return errors.Join(errs...)
}

func envDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
