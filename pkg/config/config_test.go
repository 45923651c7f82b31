package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat_test.yaml"), []byte(body), 0o600))
	return dir
}

func TestReadConfig_ExpandsEnvAndDefaults(t *testing.T) {
	t.Setenv("TEST_MONGO_HOST", "mongo.internal")
	dir := writeYAML(t, `
mongo:
  host: ${TEST_MONGO_HOST}
  port: 27017
  database: trackus
push:
  driver: kafka
  brokers: ["k1:9092", "k2:9092"]
sync:
  poll_interval: 500ms
  timezone: Asia/Taipei
  cascade_delete: true
`)

	cfg, err := ReadConfig[Chat]("chat_test", dir)
	require.NoError(t, err)

	assert.Equal(t, "8082", cfg.Port)
	assert.Equal(t, "mongo.internal", cfg.Mongo.Host)
	assert.Equal(t, 27017, cfg.Mongo.Port)
	assert.Equal(t, PushDriverKafka, cfg.Push.Driver)
	assert.Equal(t, "chat:push", cfg.Push.Channel)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Push.Brokers)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.PollInterval)
	assert.True(t, cfg.Sync.CascadeDelete)
	assert.Equal(t, "Asia/Taipei", cfg.Sync.Location().String())
}

func TestReadConfig_MinimalFile(t *testing.T) {
	dir := writeYAML(t, "port: \"9000\"\n")

	cfg, err := ReadConfig[Chat]("chat_test", dir)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, PushDriverNone, cfg.Push.Driver)
	assert.Equal(t, 2*time.Second, cfg.Sync.PollInterval)
	assert.False(t, cfg.Sync.CascadeDelete)
	assert.Empty(t, cfg.Mongo.Host)
}

func TestReadConfig_MissingFile(t *testing.T) {
	_, err := ReadConfig[Chat]("nope", t.TempDir())
	assert.Error(t, err)
}

func TestSyncConfig_Location(t *testing.T) {
	assert.Equal(t, time.Local, SyncConfig{}.Location())
	assert.Equal(t, time.Local, SyncConfig{Timezone: "Mars/Olympus"}.Location())
	assert.Equal(t, "UTC", SyncConfig{Timezone: "UTC"}.Location().String())
}

func TestGetRedisSetting(t *testing.T) {
	t.Setenv("REDIS_MASTER_NAME", "chatmaster")
	t.Setenv("REDIS_SENTINEL1_IP", "10.0.0.1")
	t.Setenv("REDIS_SENTINEL1_PORT", "26379")
	t.Setenv("REDIS_SENTINEL2_IP", "10.0.0.2")

	master, addrs := GetRedisSetting()
	assert.Equal(t, "chatmaster", master)
	assert.Contains(t, addrs, "10.0.0.1:26379")
	assert.NotContains(t, addrs, "10.0.0.2:")
}
