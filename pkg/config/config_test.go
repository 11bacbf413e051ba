package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 4, c.Arena.Population)
	assert.Equal(t, 2, c.Arena.Survivors)
	assert.Equal(t, 12*time.Hour, c.Arena.EvolutionInterval)
	assert.Equal(t, 100.0, c.Risk.Live.ArenaDailyLoss)
	assert.Equal(t, []float64{-1, 1}, c.Learning.PriceBounds)
}

func TestLoadAppliesDefaultsUnderFileValues(t *testing.T) {
	path := writeConfig(t, `
environment: test
arena:
  poll_interval: 5s
risk:
  mode: live
  live:
    per_trade: 5
    bot_daily_loss: 20
    arena_daily_loss: 50
    min_stake: 1
    max_stake: 5
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, 5*time.Second, c.Arena.PollInterval)
	assert.Equal(t, 30*time.Second, c.Arena.DecisionOffset)
	assert.Equal(t, "live", c.Risk.Mode)
	assert.Equal(t, 50.0, c.Risk.Live.ArenaDailyLoss)
	// untouched profile keeps its defaults
	assert.Equal(t, 1000.0, c.Risk.Paper.ArenaDailyLoss)
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	path := writeConfig(t, "environment: test\nrisk:\n  mode: yolo\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsPopulationOtherThanFour(t *testing.T) {
	for _, n := range []string{"3", "6"} {
		path := writeConfig(t, "environment: test\narena:\n  population: "+n+"\n")
		_, err := Load(path)
		assert.Error(t, err, "population %s", n)
	}
}

func TestLoadRejectsClickHouseWithoutHost(t *testing.T) {
	path := writeConfig(t, "environment: test\nbackend:\n  type: clickhouse\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clickhouse.host")
}

func TestLoadRejectsUnsortedBounds(t *testing.T) {
	path := writeConfig(t, "environment: test\nlearning:\n  price_bounds: [1, -1]\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "environment: test\n")
	t.Setenv("ARENA_MODE", "live")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ARENA_SEED", "42")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("PORT", "not-a-port")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "live", c.Risk.Mode)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, int64(42), c.Arena.Seed)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.Equal(t, 8080, c.Server.Port, "unparsable PORT keeps the file value")
}
