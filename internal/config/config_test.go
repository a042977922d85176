package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"STEGD_CONFIG_FILE",
	"STEGD_IPC_SOCKET_PATH",
	"STEGD_ENABLE_IPC",
	"STEGD_HTTP_LISTEN_ADDR",
	"STEGD_ALLOWED_ORIGINS",
	"STEGD_LOG_LEVEL",
	"STEGD_LOG_FORMAT",
	"STEGD_INSERTION_THRESHOLD",
	"STEGD_CHUNK_SYMBOLS",
	"STEGD_MAX_IMAGE_BYTES",
	"STEGD_MAX_PIXELS",
	"STEGD_OUTPUT_FORMAT",
	"STEGD_PNG_COMPRESSION",
	"STEGD_MQTT_BROKER",
	"STEGD_MQTT_TOPIC",
	"STEGD_MQTT_CLIENT_ID",
	"STEGD_SHUTDOWN_TIMEOUT_S",
}

// clearEnv blanks every variable Load reads; empty values are ignored.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 4096, cfg.InsertionThreshold)
	assert.Equal(t, 768, cfg.ChunkSymbols)
	assert.False(t, cfg.EventsEnabled())
	assert.False(t, cfg.IsDebug())
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("STEGD_HTTP_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("STEGD_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("STEGD_LOG_LEVEL", "DEBUG")
	t.Setenv("STEGD_ENABLE_IPC", "false")
	t.Setenv("STEGD_INSERTION_THRESHOLD", "1600")
	t.Setenv("STEGD_OUTPUT_FORMAT", "QOI")
	t.Setenv("STEGD_MQTT_BROKER", "localhost:1883")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPListenAddr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.IsDebug())
	assert.False(t, cfg.EnableIPC)
	assert.Equal(t, 1600, cfg.InsertionThreshold)
	assert.Equal(t, "qoi", cfg.OutputFormat)
	assert.True(t, cfg.EventsEnabled())
	assert.Contains(t, cfg.String(), "MQTTBroker: localhost:1883")
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "stegd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_listen_addr: ":7000"
insertion_threshold: 2048
chunk_symbols: 96
log_format: console
allowed_origins:
  - https://file.example
`), 0o600))

	t.Setenv("STEGD_CONFIG_FILE", path)
	t.Setenv("STEGD_CHUNK_SYMBOLS", "24")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTPListenAddr)
	assert.Equal(t, 2048, cfg.InsertionThreshold)
	assert.Equal(t, 24, cfg.ChunkSymbols, "env overrides file")
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, []string{"https://file.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "/tmp/stegd.sock", cfg.IPCSocketPath, "unset keys keep defaults")
}

func TestLoad_Errors(t *testing.T) {
	for _, tc := range []struct {
		key, val string
	}{
		{"STEGD_INSERTION_THRESHOLD", "many"},
		{"STEGD_INSERTION_THRESHOLD", "-5"},
		{"STEGD_CHUNK_SYMBOLS", "10"},
		{"STEGD_MAX_IMAGE_BYTES", "0"},
		{"STEGD_LOG_LEVEL", "trace"},
		{"STEGD_LOG_FORMAT", "xml"},
		{"STEGD_OUTPUT_FORMAT", "jpeg"},
		{"STEGD_PNG_COMPRESSION", "max"},
		{"STEGD_SHUTDOWN_TIMEOUT_S", "soon"},
		{"STEGD_CONFIG_FILE", "/nonexistent/stegd.yaml"},
	} {
		t.Run(tc.key+"="+tc.val, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.IPCSocketPath = ""
	assert.Error(t, cfg.Validate())

	cfg.EnableIPC = false
	assert.NoError(t, cfg.Validate(), "socket path is only required with IPC enabled")

	cfg = Default()
	cfg.MQTTBroker = "broker:1883"
	cfg.MQTTTopic = ""
	assert.Error(t, cfg.Validate())
}
