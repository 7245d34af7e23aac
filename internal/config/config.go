package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Camera    CameraConfig    `json:"camera"`
	Board     BoardConfig     `json:"board"`
	Detection DetectionConfig `json:"detection"`
	Publisher PublisherConfig `json:"publisher"`
	MQTT      MQTTConfig      `json:"mqtt"`
	NATS      NATSConfig      `json:"nats"`
	Stream    StreamConfig    `json:"stream"`
	Recorder  RecorderConfig  `json:"recorder"`
	Interface InterfaceConfig `json:"interface"`
}

// CameraConfig selects the frame source
type CameraConfig struct {
	// Source is a device index ("0"), a file path, a stream URL or
	// "screen:x,y,w,h" for a screen region.
	Source string `json:"source"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// BoardConfig selects the reference board
type BoardConfig struct {
	Path      string `json:"path"`
	StoreID   string `json:"store_id"`
	StorePath string `json:"store_path"`
}

// DetectionConfig contains the detection loop tuning
type DetectionConfig struct {
	PollIntervalMs  int     `json:"poll_interval_ms"`
	RatioThreshold  float64 `json:"ratio_threshold"`
	ReprojThreshold float64 `json:"reproj_threshold"`
	MinMatches      int     `json:"min_matches"`
	ValiditySeconds float64 `json:"validity_seconds"`
	LedDeviation    int     `json:"led_deviation"`
	LedHistory      int     `json:"led_history"`
	BoardDeviation  int     `json:"board_deviation"`
	BoardHistory    int     `json:"board_history"`
	BootstrapMargin int     `json:"bootstrap_margin"`
	TablePath       string  `json:"table_path"`
	AnnotateFrames  bool    `json:"annotate_frames"`
}

// PublisherConfig contains outbound queue settings
type PublisherConfig struct {
	// QueueLimit bounds the outbound queue; 0 means unbounded.
	QueueLimit int `json:"queue_limit"`
}

// MQTTConfig contains broker settings
type MQTTConfig struct {
	Enabled           bool   `json:"enabled"`
	Broker            string `json:"broker"`
	ClientID          string `json:"client_id"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	ChangesTopic      string `json:"changes_topic"`
	AvailTopic        string `json:"avail_topic"`
	ConfigTopic       string `json:"config_topic"`
	QoS               int    `json:"qos"`
	HeartbeatSeconds  int    `json:"heartbeat_seconds"`
	ConnectTimeoutSec int    `json:"connect_timeout_sec"`
}

// NATSConfig contains NATS settings
type NATSConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Subject string `json:"subject"`
}

// StreamConfig contains the HTTP stream server settings
type StreamConfig struct {
	Enabled     bool   `json:"enabled"`
	Addr        string `json:"addr"`
	JPEGQuality int    `json:"jpeg_quality"`
}

// RecorderConfig writes annotated frames to a video file
type RecorderConfig struct {
	Path  string  `json:"path"`
	Codec string  `json:"codec"`
	FPS   float64 `json:"fps"`
}

// InterfaceConfig contains logging settings
type InterfaceConfig struct {
	LogLevel string `json:"log_level"`
	LogPath  string `json:"log_path"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			Source: "0",
		},
		Board: BoardConfig{
			StorePath: "data/boards.db",
		},
		Detection: DetectionConfig{
			PollIntervalMs:  100,
			RatioThreshold:  0.75,
			ReprojThreshold: 5.0,
			MinMatches:      10,
			ValiditySeconds: 3,
			LedDeviation:    10,
			LedHistory:      20,
			BoardDeviation:  5,
			BoardHistory:    30,
			AnnotateFrames:  true,
		},
		MQTT: MQTTConfig{
			Broker:            "tcp://localhost:1883",
			ChangesTopic:      "changes",
			AvailTopic:        "avail",
			ConfigTopic:       "config",
			QoS:               1,
			HeartbeatSeconds:  10,
			ConnectTimeoutSec: 5,
		},
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Subject: "led.changes",
		},
		Stream: StreamConfig{
			Addr:        ":8080",
			JPEGQuality: 80,
		},
		Recorder: RecorderConfig{
			Codec: "MJPG",
			FPS:   10,
		},
		Interface: InterfaceConfig{
			LogLevel: "info",
			LogPath:  "logs/led-detector.log",
		},
	}
}

// Load reads and parses the configuration file on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault loads the file if present and falls back to defaults otherwise
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Environment variables recognised by ApplyEnv
const (
	EnvCameraSource = "LED_CAMERA_SOURCE"
	EnvBoardPath    = "LED_BOARD_PATH"
	EnvMQTTBroker   = "LED_MQTT_BROKER"
	EnvNATSURL      = "LED_NATS_URL"
	EnvStreamAddr   = "LED_STREAM_ADDR"
	EnvLogLevel     = "LED_LOG_LEVEL"
	EnvQueueLimit   = "LED_QUEUE_LIMIT"
)

// ApplyEnv loads the given .env files (missing files are ignored) and applies
// environment overrides. Setting a broker or url also enables that sink.
func (c *Config) ApplyEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	if v := os.Getenv(EnvCameraSource); v != "" {
		c.Camera.Source = v
	}
	if v := os.Getenv(EnvBoardPath); v != "" {
		c.Board.Path = v
	}
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	if v := os.Getenv(EnvStreamAddr); v != "" {
		c.Stream.Addr = v
		c.Stream.Enabled = true
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Interface.LogLevel = v
	}
	if v := os.Getenv(EnvQueueLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvQueueLimit, err)
		}
		c.Publisher.QueueLimit = n
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Camera.Source == "" {
		return fmt.Errorf("camera source must be set")
	}
	if c.Board.Path == "" && c.Board.StoreID == "" {
		return fmt.Errorf("either board path or board store id must be set")
	}

	d := c.Detection
	if d.PollIntervalMs <= 0 {
		return fmt.Errorf("poll interval must be positive, got %d", d.PollIntervalMs)
	}
	if d.RatioThreshold <= 0 || d.RatioThreshold >= 1 {
		return fmt.Errorf("ratio threshold must be in (0, 1), got %f", d.RatioThreshold)
	}
	if d.ReprojThreshold <= 0 {
		return fmt.Errorf("reprojection threshold must be positive, got %f", d.ReprojThreshold)
	}
	if d.MinMatches < 4 {
		return fmt.Errorf("min matches must be at least 4, got %d", d.MinMatches)
	}
	if d.ValiditySeconds <= 0 {
		return fmt.Errorf("validity must be positive, got %f", d.ValiditySeconds)
	}
	if d.LedDeviation < 0 || d.BoardDeviation < 0 {
		return fmt.Errorf("deviations must not be negative")
	}
	if d.LedHistory <= 0 || d.BoardHistory <= 0 {
		return fmt.Errorf("history sizes must be positive")
	}

	if c.Publisher.QueueLimit < 0 {
		return fmt.Errorf("queue limit must not be negative, got %d", c.Publisher.QueueLimit)
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker must be set")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats url must be set")
	}
	if c.Stream.Enabled && (c.Stream.JPEGQuality < 1 || c.Stream.JPEGQuality > 100) {
		return fmt.Errorf("jpeg quality must be between 1 and 100, got %d", c.Stream.JPEGQuality)
	}
	if c.Recorder.Path != "" && c.Recorder.FPS <= 0 {
		return fmt.Errorf("recorder fps must be positive, got %f", c.Recorder.FPS)
	}
	return nil
}

// PollInterval returns the detection loop period
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Detection.PollIntervalMs) * time.Millisecond
}

// Validity returns how long an orientation stays fresh
func (c *Config) Validity() time.Duration {
	return time.Duration(c.Detection.ValiditySeconds * float64(time.Second))
}

// EnsureDirectories creates the parent directories of every configured file
func (c *Config) EnsureDirectories() error {
	paths := []string{c.Interface.LogPath, c.Board.StorePath, c.Detection.TablePath, c.Recorder.Path}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
	}
	return nil
}
