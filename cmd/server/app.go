package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"social-dm/internal/storage"
)

// appConfig holds settings shared by every command
type appConfig struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// LogFormat is "console" for the development encoder or "json" for the production one
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

type app struct {
	envFile string
	logger  *zap.Logger
	sugar   *zap.SugaredLogger
}

// init loads the optional env file, then builds the logger
func (a *app) init() error {
	if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", a.envFile, err)
	}

	cfg := appConfig{}
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("cannot parse env config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	a.logger = logger
	a.sugar = logger.Sugar()
	return nil
}

func (a *app) sync() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func newLogger(cfg appConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	switch cfg.LogFormat {
	case "json":
		zcfg = zap.NewProductionConfig()
	case "console", "":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg.Level = level

	return zcfg.Build()
}

// openStore connects the backend selected by DB_DRIVER and optionally applies migrations
func (a *app) openStore(ctx context.Context, migrate bool) (storage.MessageStore, error) {
	cfg := storage.Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("cannot parse storage config: %w", err)
	}

	store, err := storage.Open(ctx, a.sugar, cfg, storage.ConnectionTimeout(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("cannot open %s store: %w", cfg.Driver, err)
	}

	if migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("cannot migrate store: %w", err)
		}
		a.sugar.Info("Store schema is up to date")
	}

	return store, nil
}
