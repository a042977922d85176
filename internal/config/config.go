// Package config provides configuration management for the steg daemon.
// Configuration is built from defaults, an optional YAML file and environment
// variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the steg daemon.
type Config struct {
	// IPCSocketPath is the Unix socket path for raw pixel buffer jobs.
	// Default: "/tmp/stegd.sock"
	IPCSocketPath string `yaml:"ipc_socket_path"`

	// EnableIPC starts the Unix socket listener.
	// Default: true
	EnableIPC bool `yaml:"enable_ipc"`

	// HTTPListenAddr is the address for the HTTP API.
	// Default: ":8080"
	HTTPListenAddr string `yaml:"http_listen_addr"`

	// AllowedOrigins specifies CORS allowed origins.
	// Default: ["*"]
	AllowedOrigins []string `yaml:"allowed_origins"`

	// LogLevel specifies logging verbosity ("debug", "info", "warn", "error").
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// LogFormat selects "json" or human readable "console" output.
	// Default: "json"
	LogFormat string `yaml:"log_format"`

	// InsertionThreshold is the row*col product a pixel must exceed to carry
	// data. Changing it makes previously encoded images unreadable.
	// Default: 4096
	InsertionThreshold int `yaml:"insertion_threshold"`

	// ChunkSymbols is the decoder chunk size, a multiple of 12.
	// Default: 768
	ChunkSymbols int `yaml:"chunk_symbols"`

	// MaxImageBytes bounds uploaded image files and IPC pixel payloads.
	// Default: 64 MiB
	MaxImageBytes int64 `yaml:"max_image_bytes"`

	// MaxPixels bounds width*height of decoded images.
	// Default: 40000000
	MaxPixels int `yaml:"max_pixels"`

	// OutputFormat is the image format returned by the HTTP embed endpoint
	// when the request does not choose one ("png", "tiff" or "qoi").
	// Default: "png"
	OutputFormat string `yaml:"output_format"`

	// PNGCompression is "default", "none", "speed" or "best".
	// Default: "default"
	PNGCompression string `yaml:"png_compression"`

	// MQTTBroker is the host:port of an MQTT broker for job events. Empty
	// disables event publishing.
	// Default: ""
	MQTTBroker string `yaml:"mqtt_broker"`

	// MQTTTopic is the topic job events are published to.
	// Default: "pixelsteg/events"
	MQTTTopic string `yaml:"mqtt_topic"`

	// MQTTClientID identifies this daemon to the broker.
	// Default: "stegd"
	MQTTClientID string `yaml:"mqtt_client_id"`

	// ShutdownTimeoutS is the graceful shutdown timeout in seconds.
	// Default: 5
	ShutdownTimeoutS int `yaml:"shutdown_timeout_s"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		IPCSocketPath:      "/tmp/stegd.sock",
		EnableIPC:          true,
		HTTPListenAddr:     ":8080",
		AllowedOrigins:     []string{"*"},
		LogLevel:           "info",
		LogFormat:          "json",
		InsertionThreshold: 4096,
		ChunkSymbols:       768,
		MaxImageBytes:      64 << 20,
		MaxPixels:          40_000_000,
		OutputFormat:       "png",
		PNGCompression:     "default",
		MQTTTopic:          "pixelsteg/events",
		MQTTClientID:       "stegd",
		ShutdownTimeoutS:   5,
	}
}

// Load loads configuration, falling back to defaults for any values not
// specified.
//
// If STEGD_CONFIG_FILE names a YAML file it is applied first. Environment
// variables then override it:
//   - STEGD_IPC_SOCKET_PATH: Unix socket path
//   - STEGD_ENABLE_IPC: Start the Unix socket listener (true/false)
//   - STEGD_HTTP_LISTEN_ADDR: HTTP server listen address
//   - STEGD_ALLOWED_ORIGINS: Comma-separated list of allowed CORS origins
//   - STEGD_LOG_LEVEL: Logging level (debug, info, warn, error)
//   - STEGD_LOG_FORMAT: Log output (json, console)
//   - STEGD_INSERTION_THRESHOLD: row*col product where embedding starts
//   - STEGD_CHUNK_SYMBOLS: Decoder chunk size
//   - STEGD_MAX_IMAGE_BYTES: Maximum image payload size in bytes
//   - STEGD_MAX_PIXELS: Maximum decoded image area
//   - STEGD_OUTPUT_FORMAT: Default embed output format (png, tiff, qoi)
//   - STEGD_PNG_COMPRESSION: PNG compression (default, none, speed, best)
//   - STEGD_MQTT_BROKER: MQTT broker host:port
//   - STEGD_MQTT_TOPIC: MQTT topic for job events
//   - STEGD_MQTT_CLIENT_ID: MQTT client id
//   - STEGD_SHUTDOWN_TIMEOUT_S: Graceful shutdown timeout in seconds
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("STEGD_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if val := os.Getenv("STEGD_IPC_SOCKET_PATH"); val != "" {
		c.IPCSocketPath = val
	}

	if val := os.Getenv("STEGD_ENABLE_IPC"); val != "" {
		c.EnableIPC = strings.ToLower(strings.TrimSpace(val)) == "true"
	}

	if val := os.Getenv("STEGD_HTTP_LISTEN_ADDR"); val != "" {
		c.HTTPListenAddr = val
	}

	if val := os.Getenv("STEGD_ALLOWED_ORIGINS"); val != "" {
		origins := strings.Split(val, ",")
		c.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, trimmed)
			}
		}
	}

	if val := os.Getenv("STEGD_LOG_LEVEL"); val != "" {
		c.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}

	if val := os.Getenv("STEGD_LOG_FORMAT"); val != "" {
		c.LogFormat = strings.ToLower(strings.TrimSpace(val))
	}

	if val := os.Getenv("STEGD_INSERTION_THRESHOLD"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.New("STEGD_INSERTION_THRESHOLD must be a valid integer")
		}
		c.InsertionThreshold = n
	}

	if val := os.Getenv("STEGD_CHUNK_SYMBOLS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.New("STEGD_CHUNK_SYMBOLS must be a valid integer")
		}
		c.ChunkSymbols = n
	}

	if val := os.Getenv("STEGD_MAX_IMAGE_BYTES"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return errors.New("STEGD_MAX_IMAGE_BYTES must be a valid integer")
		}
		c.MaxImageBytes = n
	}

	if val := os.Getenv("STEGD_MAX_PIXELS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.New("STEGD_MAX_PIXELS must be a valid integer")
		}
		c.MaxPixels = n
	}

	if val := os.Getenv("STEGD_OUTPUT_FORMAT"); val != "" {
		c.OutputFormat = strings.ToLower(strings.TrimSpace(val))
	}

	if val := os.Getenv("STEGD_PNG_COMPRESSION"); val != "" {
		c.PNGCompression = strings.ToLower(strings.TrimSpace(val))
	}

	if val := os.Getenv("STEGD_MQTT_BROKER"); val != "" {
		c.MQTTBroker = strings.TrimSpace(val)
	}

	if val := os.Getenv("STEGD_MQTT_TOPIC"); val != "" {
		c.MQTTTopic = strings.TrimSpace(val)
	}

	if val := os.Getenv("STEGD_MQTT_CLIENT_ID"); val != "" {
		c.MQTTClientID = strings.TrimSpace(val)
	}

	if val := os.Getenv("STEGD_SHUTDOWN_TIMEOUT_S"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.New("STEGD_SHUTDOWN_TIMEOUT_S must be a valid integer")
		}
		c.ShutdownTimeoutS = n
	}

	return nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.EnableIPC && c.IPCSocketPath == "" {
		return errors.New("IPCSocketPath cannot be empty")
	}

	if c.HTTPListenAddr == "" {
		return errors.New("HTTPListenAddr cannot be empty")
	}

	if len(c.AllowedOrigins) == 0 {
		return errors.New("AllowedOrigins cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return errors.New("LogLevel must be 'debug', 'info', 'warn', or 'error'")
	}

	if c.LogFormat != "json" && c.LogFormat != "console" {
		return errors.New("LogFormat must be 'json' or 'console'")
	}

	if c.InsertionThreshold < 0 {
		return errors.New("InsertionThreshold cannot be negative")
	}

	if c.ChunkSymbols <= 0 || c.ChunkSymbols%12 != 0 {
		return errors.New("ChunkSymbols must be a positive multiple of 12")
	}

	if c.MaxImageBytes <= 0 {
		return errors.New("MaxImageBytes must be a positive integer")
	}

	if c.MaxPixels <= 0 {
		return errors.New("MaxPixels must be a positive integer")
	}

	validFormats := map[string]bool{"png": true, "tiff": true, "qoi": true}
	if !validFormats[c.OutputFormat] {
		return errors.New("OutputFormat must be 'png', 'tiff', or 'qoi'")
	}

	validCompression := map[string]bool{"default": true, "none": true, "speed": true, "best": true}
	if !validCompression[c.PNGCompression] {
		return errors.New("PNGCompression must be 'default', 'none', 'speed', or 'best'")
	}

	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		return errors.New("MQTTTopic cannot be empty when MQTTBroker is set")
	}

	if c.ShutdownTimeoutS <= 0 {
		return errors.New("ShutdownTimeoutS must be a positive integer")
	}

	return nil
}

// IsDebug returns true if the log level is set to debug.
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// EventsEnabled returns true if job events go to an MQTT broker.
func (c *Config) EventsEnabled() bool {
	return c.MQTTBroker != ""
}

// String returns a string representation of the config for logging purposes.
func (c *Config) String() string {
	ipcInfo := "EnableIPC: false"
	if c.EnableIPC {
		ipcInfo = "EnableIPC: true, IPCSocketPath: " + c.IPCSocketPath
	}

	mqttInfo := ""
	if c.EventsEnabled() {
		mqttInfo = ", MQTTBroker: " + c.MQTTBroker +
			", MQTTTopic: " + c.MQTTTopic +
			", MQTTClientID: " + c.MQTTClientID
	}

	return "Config{" +
		ipcInfo + ", " +
		"HTTPListenAddr: " + c.HTTPListenAddr + ", " +
		"AllowedOrigins: [" + strings.Join(c.AllowedOrigins, ", ") + "], " +
		"LogLevel: " + c.LogLevel + ", " +
		"LogFormat: " + c.LogFormat + ", " +
		"InsertionThreshold: " + strconv.Itoa(c.InsertionThreshold) + ", " +
		"ChunkSymbols: " + strconv.Itoa(c.ChunkSymbols) + ", " +
		"MaxImageBytes: " + strconv.FormatInt(c.MaxImageBytes, 10) + ", " +
		"MaxPixels: " + strconv.Itoa(c.MaxPixels) + ", " +
		"OutputFormat: " + c.OutputFormat + ", " +
		"PNGCompression: " + c.PNGCompression +
		mqttInfo +
		"}"
}
