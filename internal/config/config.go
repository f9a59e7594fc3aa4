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

// Config captures every tunable of the API process. Values come from the
// environment (optionally seeded by a .env file) with defaults that let the
// binary run locally against the in-memory store.
type Config struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	GinMode         string
	CORSOrigins     []string

	Store DatabaseConfig

	RedisURL string

	JWTSecret string

	EligibilityRadiusKm float64
	PingInterval        time.Duration
	SubscriberBuffer    int
	AcceptTimeout       time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	AMQPURL      string
	AMQPExchange string

	LogLevel string
}

// DatabaseConfig selects and configures the ride store.
type DatabaseConfig struct {
	Driver          string // postgres or memory
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the gorm postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:        ":8080",
		ReadTimeout:     10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		GinMode:         "release",
		CORSOrigins:     []string{"*"},
		Store: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            "5432",
			SSLMode:         "disable",
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
		},
		EligibilityRadiusKm: 20,
		PingInterval:        25 * time.Second,
		SubscriberBuffer:    32,
		AcceptTimeout:       10 * time.Second,
		KafkaTopic:          "ride-events",
		AMQPExchange:        "ride_topic",
		LogLevel:            "info",
	}
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := defaultConfig()
	var errs []error

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	setStringFromEnv(&cfg.GinMode, "GIN_MODE")
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitAndTrim(origins)
	}

	setStringFromEnv(&cfg.Store.Driver, "STORE")
	setStringFromEnv(&cfg.Store.Host, "DB_HOST")
	setStringFromEnv(&cfg.Store.Port, "DB_PORT")
	setStringFromEnv(&cfg.Store.User, "DB_USER")
	cfg.Store.Password = os.Getenv("DB_PASSWORD")
	setStringFromEnv(&cfg.Store.Name, "DB_NAME")
	setStringFromEnv(&cfg.Store.SSLMode, "DB_SSLMODE")
	setIntFromEnv(&cfg.Store.MaxOpenConns, "DB_MAX_OPEN_CONNS", &errs)
	setIntFromEnv(&cfg.Store.MaxIdleConns, "DB_MAX_IDLE_CONNS", &errs)
	setDurationFromEnv(&cfg.Store.ConnMaxLifetime, "DB_CONN_MAX_LIFETIME", &errs)

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	setFloatFromEnv(&cfg.EligibilityRadiusKm, "ELIGIBILITY_RADIUS_KM", &errs)
	setDurationFromEnv(&cfg.PingInterval, "WS_PING_INTERVAL", &errs)
	setIntFromEnv(&cfg.SubscriberBuffer, "SUBSCRIBER_BUFFER", &errs)
	setDurationFromEnv(&cfg.AcceptTimeout, "ACCEPT_TIMEOUT", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c Config) validate() []error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.Name == "" || c.Store.User == "" {
			errs = append(errs, errors.New("DB_NAME and DB_USER are required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE must be postgres or memory, got %q", c.Store.Driver))
	}
	if c.EligibilityRadiusKm <= 0 {
		errs = append(errs, errors.New("ELIGIBILITY_RADIUS_KM must be > 0"))
	}
	if c.PingInterval <= 0 {
		errs = append(errs, errors.New("WS_PING_INTERVAL must be > 0"))
	}
	if c.SubscriberBuffer <= 0 {
		errs = append(errs, errors.New("SUBSCRIBER_BUFFER must be > 0"))
	}
	return errs
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
