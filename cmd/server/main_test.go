package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-dm/internal/auth"
	"social-dm/internal/storage"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(appConfig{LogLevel: "debug", LogFormat: "json"})
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = newLogger(appConfig{LogLevel: "warn", LogFormat: "console"})
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = newLogger(appConfig{LogLevel: "info", LogFormat: "xml"})
	require.Error(t, err)

	_, err = newLogger(appConfig{LogLevel: "loud", LogFormat: "json"})
	require.Error(t, err)
}

func TestCommands(t *testing.T) {
	cmd := newRootCmd()

	names := []string{}
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	require.ElementsMatch(t, []string{"serve", "migrate", "seed", "token"}, names)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateAndSeedSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dm.db")
	t.Setenv("DB_DRIVER", storage.DriverSQLite)
	t.Setenv("SQLITE_PATH", path)
	t.Setenv("LOG_LEVEL", "error")

	_, err := run(t, "migrate")
	require.NoError(t, err)

	_, err = run(t, "seed", "--users", "4", "--messages", "25", "--rand-seed", "3")
	require.NoError(t, err)

	store, err := storage.NewSQLite(zap.NewNop().Sugar(), path)
	require.NoError(t, err)
	defer store.Close()

	total := 0
	for _, partner := range []int64{2, 3, 4} {
		history, err := store.History(context.Background(), 1, partner)
		require.NoError(t, err)
		total += len(history)
	}
	require.Positive(t, total)
}

func TestSeedRejectsPlan(t *testing.T) {
	t.Setenv("DB_DRIVER", storage.DriverSQLite)
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "dm.db"))

	_, err := run(t, "seed", "--users", "1")
	require.Error(t, err)
}

func TestToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	out, err := run(t, "token", "12")
	require.NoError(t, err)

	userID, err := auth.NewVerifier("secret", time.Hour).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, int64(12), userID)

	t.Setenv("JWT_SECRET", "")
	_, err = run(t, "token", "12")
	require.Error(t, err)

	_, err = run(t, "token", "twelve")
	require.Error(t, err)
}
