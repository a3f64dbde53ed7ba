// Package config reads process settings from the environment. A .env file
// is loaded first by the godotenv autoload import in each command.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port string `envconfig:"PORT" default:"8080"`

	// DatabaseURL wins over the individual PG_* parts when set.
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	PostgresUser     string `envconfig:"POSTGRES_USER" default:"postgres"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD"`
	PGHost           string `envconfig:"PG_HOST" default:"localhost"`
	PGPort           string `envconfig:"PG_PORT" default:"5432"`
	PGDatabase       string `envconfig:"PG_DATABASE" default:"livehub"`

	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	OwnerCacheTTL  time.Duration `envconfig:"OWNER_CACHE_TTL" default:"30s"`
	EventQueueName string        `envconfig:"EVENT_QUEUE_NAME" default:"livehub_battle_events"`

	InviteTimeout       time.Duration `envconfig:"INVITE_TIMEOUT" default:"30s"`
	StoreTimeout        time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	PresenceSettleDelay time.Duration `envconfig:"PRESENCE_SETTLE_DELAY" default:"50ms"`
	OutboundBuffer      int           `envconfig:"OUTBOUND_BUFFER" default:"32"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// TokenExpireTime is a duration, or "never"/"0" for tokens without exp.
	TokenExpireTime string `envconfig:"TOKEN_EXPIRE_TIME"`

	HistorianBatchSize int           `envconfig:"HISTORIAN_BATCH_SIZE" default:"20"`
	HistorianFlush     time.Duration `envconfig:"HISTORIAN_FLUSH" default:"500ms"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if cfg.OutboundBuffer < 1 {
		return cfg, fmt.Errorf("config: OUTBOUND_BUFFER must be positive, got %d", cfg.OutboundBuffer)
	}
	return cfg, nil
}

// PostgresURL returns the connection string for pgx.
func (c Config) PostgresURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   c.PGHost + ":" + c.PGPort,
		Path:   "/" + c.PGDatabase,
	}
	return u.String()
}

// Logger builds the process logger at the configured level.
func (c Config) Logger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logger.Warnf("unknown LOG_LEVEL %q, using info", c.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
