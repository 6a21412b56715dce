package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the sync worker process reads from its
// environment. Kept flat so main stays lean.
type Config struct {
	// Ops HTTP surface (health + metrics).
	OpsAddr string

	// TraceStdout dumps spans to stdout. Debugging only.
	TraceStdout bool

	Redis    RedisConfig
	Postgres PostgresConfig
	Registry RegistryConfig
	Chrome   ChromeConfig
	SMTP     SMTPConfig
	Kafka    KafkaConfig
	Company  CompanyConfig

	// Certificate template assets.
	TemplatePath string
	AssetDir     string
	HeadshotDir  string
}

// RedisConfig mirrors the go-redis options we override.
type RedisConfig struct {
	URL          string
	Channel      string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	URL string
}

// RegistryConfig locates the external training registry and the provider
// account the session logs in as.
type RegistryConfig struct {
	BaseURL    string
	ProviderID string
	Email      string
	Password   string
	// WaitTimeout bounds every element wait; a timeout reads as "no result"
	// everywhere except login.
	WaitTimeout time.Duration
}

// ChromeConfig points at a running headless chrome DevTools endpoint.
type ChromeConfig struct {
	DevToolsURL string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// OperatorAddrs receive side-channel failure notices.
	OperatorAddrs []string
}

type KafkaConfig struct {
	Brokers    []string
	AlertTopic string
}

// CompanyConfig brands outbound notifications.
type CompanyConfig struct {
	Name  string
	Phone string
	URL   string
	Email string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		OpsAddr:     getenv("TRAINSYNC_OPS_ADDR", ":9090"),
		TraceStdout: getenvBool("TRAINSYNC_TRACE_STDOUT", false),
		Redis: RedisConfig{
			URL:          getenv("REDIS_URL", "redis://localhost:6379"),
			Channel:      getenv("TRAINING_CONNECT_QUEUE", "training_connect_queue"),
			PoolSize:     getenvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getenvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getenvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getenvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getenvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			URL: getenv("DATABASE_URL", "postgres://localhost:5432/lms?sslmode=disable"),
		},
		Registry: RegistryConfig{
			BaseURL:     getenv("TRAINING_CONNECT_URL", "https://dob-trainingconnect.cityofnewyork.us"),
			ProviderID:  os.Getenv("TRAINING_CONNECT_PROVIDER_ID"),
			Email:       os.Getenv("TRAINING_CONNECT_EMAIL"),
			Password:    os.Getenv("TRAINING_CONNECT_PASSWORD"),
			WaitTimeout: getenvDuration("TRAINING_CONNECT_WAIT_TIMEOUT", 5*time.Second),
		},
		Chrome: ChromeConfig{
			DevToolsURL: getenv("CHROME_DEVTOOLS_URL", "http://localhost:9222"),
		},
		SMTP: SMTPConfig{
			Host:          getenv("SMTP_HOST", "localhost"),
			Port:          getenvInt("SMTP_PORT", 587),
			Username:      os.Getenv("SMTP_USERNAME"),
			Password:      os.Getenv("SMTP_PASSWORD"),
			From:          getenv("SMTP_FROM", "no-reply@localhost"),
			OperatorAddrs: getenvList("OPERATOR_EMAILS"),
		},
		Kafka: KafkaConfig{
			Brokers:    getenvList("KAFKA_BROKERS"),
			AlertTopic: getenv("KAFKA_ALERT_TOPIC", "trainsync.ops.alerts"),
		},
		Company: CompanyConfig{
			Name:  getenv("COMPANY_NAME", "ABC Safety Group"),
			Phone: os.Getenv("COMPANY_PHONE"),
			URL:   os.Getenv("COMPANY_URL"),
			Email: os.Getenv("COMPANY_EMAIL"),
		},
		TemplatePath: getenv("CERTIFICATE_TEMPLATE", "./content/certificates/index.html"),
		AssetDir:     getenv("CERTIFICATE_ASSET_DIR", "./content/certificates"),
		HeadshotDir:  getenv("HEADSHOT_DIR", "./content/user"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getenvList(key string) []string {
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
