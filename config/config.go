package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration, shared by the gateway and
// the settlement worker.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Payout    PayoutConfig    `mapstructure:"payout"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type RabbitMQConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	User      string        `mapstructure:"user"`
	Password  string        `mapstructure:"password"`
	VHost     string        `mapstructure:"vhost"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	Confirms  bool          `mapstructure:"confirms"` // publisher-confirm mode
}

// URL returns the AMQP connection string.
func (r RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", r.User, r.Password, r.Host, r.Port, r.VHost)
}

// PayoutConfig tunes the intake and settlement protocols.
type PayoutConfig struct {
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	LockRetryCount    int           `mapstructure:"lock_retry_count"`
	LockRetryDelay    time.Duration `mapstructure:"lock_retry_delay"`
	WorkerConcurrency int           `mapstructure:"worker_concurrency"`
	MaxRetryAttempts  int           `mapstructure:"max_retry_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	MinAmount         string        `mapstructure:"min_amount"` // decimal string, 2dp
	MaxAmount         string        `mapstructure:"max_amount"` // decimal string, 2dp
}

type RateLimitConfig struct {
	Window          time.Duration `mapstructure:"window"`       // global per-IP window
	MaxRequests     int64         `mapstructure:"max_requests"` // global per-IP maximum
	UserWindow      time.Duration `mapstructure:"user_window"`
	UserMaxRequests int64         `mapstructure:"user_max_requests"`
}

// JWTConfig secures the realtime subscription handshake.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: IPP_ (Instant Payout Pipeline).
// Nested keys use underscore: IPP_DATABASE_HOST, IPP_PAYOUT_LOCK_TTL, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "instant_payout")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.heartbeat", "60s")
	v.SetDefault("rabbitmq.confirms", false)
	v.SetDefault("payout.lock_ttl", "30s")
	v.SetDefault("payout.lock_retry_count", 3)
	v.SetDefault("payout.lock_retry_delay", "100ms")
	v.SetDefault("payout.worker_concurrency", 5)
	v.SetDefault("payout.max_retry_attempts", 3)
	v.SetDefault("payout.retry_delay", "5s")
	v.SetDefault("payout.min_amount", "0.01")
	v.SetDefault("payout.max_amount", "10000.00")
	v.SetDefault("ratelimit.window", "60s")
	v.SetDefault("ratelimit.max_requests", 100)
	v.SetDefault("ratelimit.user_window", "60s")
	v.SetDefault("ratelimit.user_max_requests", 10)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "instant-payout")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: IPP_DATABASE_HOST -> database.host
	v.SetEnvPrefix("IPP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional, env vars can carry the whole config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
