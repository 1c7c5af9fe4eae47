package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_PATH", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("SYMBOLS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "./data/signal.db", cfg.DBPath)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, 500, cfg.HistoryWindow)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/tmp/legacy.db")
	t.Setenv("DB_PATH", "")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("SYMBOLS", " btcusdt , ,solusdt")
	t.Setenv("DEFAULT_FEE_PCT", "0.2")
	t.Setenv("HISTORY_WINDOW", "oops")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/legacy.db", cfg.DBPath)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, cfg.Symbols)
	assert.Equal(t, 0.2, cfg.DefaultFeePct)
	assert.Equal(t, 500, cfg.HistoryWindow)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}
