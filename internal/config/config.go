// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full set of options recognized by the coordinator process.
type Config struct {
	Server  ServerConfig
	WebRTC  WebRTCConfig
	Metrics MetricsConfig
	Logging LoggingConfig
}

// ServerConfig controls the signaling HTTP/WebSocket listener.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRooms        int
	MaxPeersPerRoom int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration

	RateLimitPerSec float64
	RateLimitBurst  int
}

// WebRTCConfig controls the media engine / WorkerPool.
type WebRTCConfig struct {
	NumWorkers int

	RTCMinPort uint16
	RTCMaxPort uint16

	ListenIP   string
	AnnouncedIP string

	InitialAvailableOutgoingBitrate int
	MinimumAvailableOutgoingBitrate int

	RouterMediaCodecs []MediaCodec
}

// MediaCodec is one entry of the fixed router codec configuration (spec.md §4.2).
type MediaCodec struct {
	Kind      string // "audio" | "video"
	MimeType  string
	ClockRate uint32
	Channels  uint16
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment, falling back to the
// documented defaults (spec.md §6) for anything unset.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            getEnv("SFU_HOST", "0.0.0.0"),
			Port:            getEnvInt("SFU_LISTEN_PORT", 8080),
			ReadTimeout:     time.Duration(getEnvInt("SFU_READ_TIMEOUT", 30)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("SFU_WRITE_TIMEOUT", 30)) * time.Second,
			MaxRooms:        getEnvInt("SFU_MAX_ROOMS", 1000),
			MaxPeersPerRoom: getEnvInt("SFU_MAX_PEERS_PER_ROOM", 100),
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: time.Duration(getEnvInt("SFU_SHUTDOWN_TIMEOUT", 10)) * time.Second,
			RateLimitPerSec: float64(getEnvInt("SFU_RATE_LIMIT_PER_SEC", 20)),
			RateLimitBurst:  getEnvInt("SFU_RATE_LIMIT_BURST", 40),
		},
		WebRTC: WebRTCConfig{
			NumWorkers:  getEnvInt("SFU_NUM_WORKERS", 2),
			RTCMinPort:  uint16(getEnvInt("SFU_RTC_MIN_PORT", 40000)),
			RTCMaxPort:  uint16(getEnvInt("SFU_RTC_MAX_PORT", 49999)),
			ListenIP:    getEnv("SFU_LISTEN_IP", "0.0.0.0"),
			AnnouncedIP: getEnv("SFU_ANNOUNCED_IP", ""),

			InitialAvailableOutgoingBitrate: getEnvInt("SFU_INITIAL_OUTGOING_BITRATE", 1000000),
			MinimumAvailableOutgoingBitrate: getEnvInt("SFU_MINIMUM_OUTGOING_BITRATE", 600000),

			RouterMediaCodecs: []MediaCodec{
				{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
				{Kind: "audio", MimeType: "audio/PCMU", ClockRate: 8000, Channels: 1},
				{Kind: "audio", MimeType: "audio/PCMA", ClockRate: 8000, Channels: 1},
				{Kind: "video", MimeType: "video/VP8", ClockRate: 90000},
				{Kind: "video", MimeType: "video/VP9", ClockRate: 90000},
				{Kind: "video", MimeType: "video/H264", ClockRate: 90000},
			},
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Port:    getEnvInt("METRICS_PORT", 9090),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
