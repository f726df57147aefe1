package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfigYAML = `
server:
  port: 8080
  read_timeout_seconds: 15
  write_timeout_seconds: 20
broker:
  type: kafka
  kafka:
    brokers:
      - localhost:9092
    group_id: reconciler
    work_topic: orders_events
    dlq_topic: orders_events_dlq
ledger:
  backend: redis
  ttl_seconds: 3600
  redis:
    host: localhost
    port: 6379
store:
  base_url: https://store.example.com
  api_version: v2
  timeout_seconds: 10
credentials:
  static_token: token
  margin_seconds: 300
reconciler:
  max_retries: 3
logging:
  level: info
`

func TestLoadConfig_Valid(t *testing.T) {
	path := writeConfigFile(t, validConfigYAML)

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, "reconciler", cfg.Broker.Kafka.GroupID)
	assert.Equal(t, "redis", cfg.Ledger.Backend)
	assert.Equal(t, "https://store.example.com", cfg.Store.BaseURL)
	assert.Equal(t, 3, cfg.Reconciler.MaxRetries)
}

// Fields named *_seconds hold plain integers and are scaled to
// time.Duration at the point of use. Decoding them into time.Duration
// directly would read an integer YAML value as nanoseconds.
func TestLoadConfig_SecondsFieldsDecodeAsPlainIntegers(t *testing.T) {
	path := writeConfigFile(t, validConfigYAML)

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Store.TimeoutSeconds)
	assert.Equal(t, 15, cfg.Server.ReadTimeoutSeconds)
	assert.Equal(t, 20, cfg.Server.WriteTimeoutSeconds)
	assert.Equal(t, 3600, cfg.Ledger.TTLSeconds)
	assert.Equal(t, 300, cfg.Credentials.MarginSeconds)
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 8080
broker:
  type: kafka
  kafka:
    brokers:
      - localhost:9092
    group_id: reconciler
ledger:
  backend: sqlite
store:
  base_url: https://store.example.com
  api_version: v2
reconciler:
  max_retries: 3
`)

	_, err := LoadConfig(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.backend")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
