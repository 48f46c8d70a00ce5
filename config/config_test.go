package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
ledger:
  cas_retries: 2
lease:
  ttl: 30s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Ledger.CASRetries)
	assert.Equal(t, 30*time.Second, cfg.Lease.TTL)
	assert.Equal(t, 20000, cfg.Game.TradeRequestMs)
	assert.Equal(t, "cache", cfg.Bus.Driver)
	assert.Equal(t, 50*time.Millisecond, cfg.Game.TickInterval())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 60*time.Second, cfg.Lease.TTL)
	assert.Equal(t, 0, cfg.Ledger.CASRetries)
	assert.Equal(t, 3, cfg.Persist.MaxAttempts)
}

func TestDefault_BusAndSchedule(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "realm", cfg.Bus.Prefix)
	assert.Equal(t, 4222, cfg.Bus.EmbeddedPort)
	assert.Equal(t, 10*time.Minute, cfg.Schedule.LegendsClean)
	assert.Equal(t, time.Minute, cfg.Schedule.Presence)
}
