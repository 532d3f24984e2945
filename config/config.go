package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	HTTPAddr string
	AppEnv   string

	JWTSecret string

	StoreDriver string
	DB          DBConfig

	RabbitMQURL      string
	RabbitMQExchange string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SweepInterval  time.Duration
	PingInterval   time.Duration
	RequestTimeout time.Duration
	LockTTL        time.Duration

	// WSOriginPatterns lists extra origins allowed to open /ws.
	WSOriginPatterns []string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns a lib/pq connection URL.
func (d DBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}

func (c *Config) Development() bool {
	return c.AppEnv == "development"
}

// LoadConfig reads .env when present, then the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	cfg := &Config{
		HTTPAddr:    getEnvOrDefault("HTTP_ADDR", ":9081"),
		AppEnv:      getEnvOrDefault("APP_ENV", "production"),
		JWTSecret:   jwtSecret,
		StoreDriver: getEnvOrDefault("STORE_DRIVER", StoreDriverPostgres),
		DB: DBConfig{
			Host:     getEnvOrDefault("DB_HOST", "booking-db"),
			Port:     getEnvOrDefault("DB_PORT", "5432"),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
			Name:     getEnvOrDefault("DB_NAME", "booking_db"),
			SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
		},
		RabbitMQURL:      os.Getenv("RABBITMQ_URL"),
		RabbitMQExchange: getEnvOrDefault("RABBITMQ_EXCHANGE", "comsy"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, cfg.StoreDriver)
	}

	var err error
	if cfg.RedisDB, err = strconv.Atoi(getEnvOrDefault("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"SWEEP_INTERVAL", "30s", &cfg.SweepInterval},
		{"PING_INTERVAL", "30s", &cfg.PingInterval},
		{"REQUEST_TIMEOUT", "10s", &cfg.RequestTimeout},
		{"LOCK_TTL", "15s", &cfg.LockTTL},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnvOrDefault(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("%s must be positive", d.key)
		}
		*d.dest = v
	}

	if origins := os.Getenv("WS_ORIGIN_PATTERNS"); origins != "" {
		cfg.WSOriginPatterns = splitList(origins)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
