package storage

import (
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config defines fields used for parsing storage settings from environment variables
type Config struct {
	Driver     string `env:"DB_DRIVER" envDefault:"postgres"`
	User       string `env:"DB_USER" envDefault:"postgres"`
	Password   string `env:"DB_PASSWORD"`
	Host       string `env:"DB_HOST" envDefault:"localhost"`
	Port       uint16 `env:"DB_PORT" envDefault:"5432"`
	DBName     string `env:"DB_NAME" envDefault:"social"`
	SSLMode    string `env:"DB_SSLMODE" envDefault:"disable"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"social-dm.db"`
}

// DSN builds a libpq keyword/value connection string
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return "user=" + dsnValue(c.User) +
		" password=" + dsnValue(c.Password) +
		" host=" + dsnValue(c.Host) +
		" port=" + strconv.FormatUint(uint64(c.Port), 10) +
		" dbname=" + dsnValue(c.DBName) +
		" sslmode=" + dsnValue(sslMode)
}

// dsnValue quotes v when it is empty or holds characters the keyword/value format treats specially
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Option alters the default configuration of the pgxpool.Config used during new Store construction
type Option interface {
	apply(*pgxpool.Config)
}

type optionFunc func(c *pgxpool.Config)

func (f optionFunc) apply(c *pgxpool.Config) { f(c) }

// ConnectionTimeout sets timeout for connection to be established
func ConnectionTimeout(d time.Duration) Option {
	return optionFunc(func(c *pgxpool.Config) {
		c.ConnConfig.ConnectTimeout = d
	})
}

// MaxConns caps the pool size; every online user shares it
func MaxConns(n int32) Option {
	return optionFunc(func(c *pgxpool.Config) {
		c.MaxConns = n
	})
}

// QueryLogLevel sets the lowest pgx log level forwarded to zap
func QueryLogLevel(level pgx.LogLevel) Option {
	return optionFunc(func(c *pgxpool.Config) {
		c.ConnConfig.LogLevel = level
	})
}
