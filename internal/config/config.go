package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App struct {
		Env string
	} `mapstructure:"app"`

	Log struct {
		Format string
	} `mapstructure:"log"`

	HTTP struct {
		Addr           string
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"http"`

	Store struct {
		// Driver is "postgres" or "memory".
		Driver string
	} `mapstructure:"store"`

	Postgres struct {
		DSN         string
		LockTimeout time.Duration `mapstructure:"lock_timeout"`
		MaxConns    int32         `mapstructure:"max_conns"`
	} `mapstructure:"postgres"`

	Migrations struct {
		Auto bool
	} `mapstructure:"migrations"`

	Redis struct {
		URL string
		TTL time.Duration
	} `mapstructure:"redis"`

	Kafka struct {
		Brokers []string
		Topic   string
	} `mapstructure:"kafka"`

	Feed struct {
		Interval time.Duration
		Batch    int
		Settle   time.Duration
	} `mapstructure:"feed"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Retry struct {
		Attempts  uint64
		BaseDelay time.Duration `mapstructure:"base_delay"`
	} `mapstructure:"retry"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("log.format", "json")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.lock_timeout", 5*time.Second)
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("migrations.auto", true)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", 10*time.Minute)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "inventory.ledger")
	v.SetDefault("feed.interval", 2*time.Second)
	v.SetDefault("feed.batch", 500)
	v.SetDefault("feed.settle", 5*time.Second)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.base_delay", 50*time.Millisecond)
}

// Load reads path (optional; empty skips the file) and overlays INVLEDGER_*
// environment variables, e.g. INVLEDGER_POSTGRES_DSN. DATABASE_URL is honoured
// when no DSN is configured.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("INVLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return c, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to decode config: %w", err)
	}
	if c.Postgres.DSN == "" {
		c.Postgres.DSN = os.Getenv("DATABASE_URL")
	}
	if len(c.Kafka.Brokers) == 1 && strings.Contains(c.Kafka.Brokers[0], ",") {
		c.Kafka.Brokers = strings.Split(c.Kafka.Brokers[0], ",")
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn (or DATABASE_URL) is required for the postgres store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Feed.Batch <= 0 {
		return errors.New("feed.batch must be positive")
	}
	if c.Postgres.LockTimeout <= 0 {
		return errors.New("postgres.lock_timeout must be positive")
	}
	return nil
}
