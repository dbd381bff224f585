package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted by TranscriptionConfig.Provider
const (
	ProviderHTTP   = "http"
	ProviderGoogle = "google"
	ProviderMock   = "mock"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	Session       SessionConfig       `yaml:"session"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains the HTTP and socket listener configuration
type ServerConfig struct {
	Port              int           `yaml:"port"`
	Address           string        `yaml:"address"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// AudioConfig contains the target profile and container limits
type AudioConfig struct {
	SampleRate         int           `yaml:"sample_rate"`
	Channels           int           `yaml:"channels"`
	BitDepth           int           `yaml:"bit_depth"`
	MinBytes           int           `yaml:"min_bytes"`
	MaxBytes           int           `yaml:"max_bytes"`
	MaxDurationSeconds float64       `yaml:"max_duration_seconds"`
	Strict             bool          `yaml:"strict"`
	AutoFix            bool          `yaml:"auto_fix"`
	FFmpegCommand      string        `yaml:"ffmpeg_command"`
	TempDir            string        `yaml:"temp_dir"`
	CorrectionTimeout  time.Duration `yaml:"correction_timeout"`
}

// SessionConfig contains the per-connection admission policy
type SessionConfig struct {
	MinInterval       time.Duration `yaml:"min_interval"`
	ErrorThreshold    int           `yaml:"error_threshold"`
	Cooldown          time.Duration `yaml:"cooldown"`
	PendingDelay      time.Duration `yaml:"pending_delay"`
	ProcessingTimeout time.Duration `yaml:"processing_timeout"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	QuickCloseWindow  time.Duration `yaml:"quick_close_window"`
	JanitorInterval   time.Duration `yaml:"janitor_interval"`
	JanitorMaxAge     time.Duration `yaml:"janitor_max_age"`
}

// TranscriptionConfig contains the speech service configuration
type TranscriptionConfig struct {
	Provider         string        `yaml:"provider"`
	Endpoint         string        `yaml:"endpoint"`
	APIKey           string        `yaml:"api_key"`
	CredentialHeader string        `yaml:"credential_header"`
	Model            string        `yaml:"model"`
	LanguageCode     string        `yaml:"language_code"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
	MockLatency      time.Duration `yaml:"mock_latency"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			Address:           "0.0.0.0",
			AllowedOrigins:    []string{"*"},
			RequestsPerSecond: 20,
			ShutdownTimeout:   10 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate:         16000,
			Channels:           1,
			BitDepth:           16,
			MinBytes:           1000,
			MaxBytes:           50 * 1024 * 1024,
			MaxDurationSeconds: 600,
			Strict:             false,
			AutoFix:            true,
			FFmpegCommand:      "ffmpeg",
			TempDir:            os.TempDir(),
			CorrectionTimeout:  30 * time.Second,
		},
		Session: SessionConfig{
			MinInterval:       time.Second,
			ErrorThreshold:    5,
			Cooldown:          30 * time.Second,
			PendingDelay:      500 * time.Millisecond,
			ProcessingTimeout: 180 * time.Second,
			KeepAliveInterval: 30 * time.Second,
			QuickCloseWindow:  5 * time.Second,
			JanitorInterval:   10 * time.Minute,
			JanitorMaxAge:     time.Hour,
		},
		Transcription: TranscriptionConfig{
			Provider:         ProviderHTTP,
			Endpoint:         "https://api.sarvam.ai/speech-to-text",
			CredentialHeader: "api-subscription-key",
			Model:            "saarika:v2",
			LanguageCode:     "en-IN",
			Timeout:          120 * time.Second,
			MaxResponseBytes: 10 * 1024 * 1024,
			MockLatency:      1500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then the environment.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() error {
	env := &envReader{}

	c.Server.Port = env.orDefaultInt("PORT", c.Server.Port)
	c.Server.Address = envOrDefault("ADDRESS", c.Server.Address)
	c.Server.AllowedOrigins = envOrDefaultList("ALLOWED_ORIGINS", c.Server.AllowedOrigins)
	c.Server.RequestsPerSecond = env.orDefaultFloat("REQUESTS_PER_SECOND", c.Server.RequestsPerSecond)
	c.Server.ShutdownTimeout = env.orDefaultDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Audio.SampleRate = env.orDefaultInt("AUDIO_SAMPLE_RATE", c.Audio.SampleRate)
	c.Audio.Channels = env.orDefaultInt("AUDIO_CHANNELS", c.Audio.Channels)
	c.Audio.BitDepth = env.orDefaultInt("AUDIO_BIT_DEPTH", c.Audio.BitDepth)
	c.Audio.MinBytes = env.orDefaultInt("AUDIO_MIN_BYTES", c.Audio.MinBytes)
	c.Audio.MaxBytes = env.orDefaultInt("AUDIO_MAX_BYTES", c.Audio.MaxBytes)
	c.Audio.MaxDurationSeconds = env.orDefaultFloat("AUDIO_MAX_DURATION_SECONDS", c.Audio.MaxDurationSeconds)
	c.Audio.Strict = env.orDefaultBool("AUDIO_STRICT", c.Audio.Strict)
	c.Audio.AutoFix = env.orDefaultBool("AUDIO_AUTO_FIX", c.Audio.AutoFix)
	c.Audio.FFmpegCommand = envOrDefault("FFMPEG_COMMAND", c.Audio.FFmpegCommand)
	c.Audio.TempDir = envOrDefault("AUDIO_TEMP_DIR", c.Audio.TempDir)
	c.Audio.CorrectionTimeout = env.orDefaultDuration("AUDIO_CORRECTION_TIMEOUT", c.Audio.CorrectionTimeout)

	c.Session.MinInterval = env.orDefaultDuration("SESSION_MIN_INTERVAL", c.Session.MinInterval)
	c.Session.ErrorThreshold = env.orDefaultInt("SESSION_ERROR_THRESHOLD", c.Session.ErrorThreshold)
	c.Session.Cooldown = env.orDefaultDuration("SESSION_COOLDOWN", c.Session.Cooldown)
	c.Session.PendingDelay = env.orDefaultDuration("SESSION_PENDING_DELAY", c.Session.PendingDelay)
	c.Session.ProcessingTimeout = env.orDefaultDuration("SESSION_PROCESSING_TIMEOUT", c.Session.ProcessingTimeout)
	c.Session.KeepAliveInterval = env.orDefaultDuration("SESSION_KEEP_ALIVE_INTERVAL", c.Session.KeepAliveInterval)
	c.Session.QuickCloseWindow = env.orDefaultDuration("SESSION_QUICK_CLOSE_WINDOW", c.Session.QuickCloseWindow)
	c.Session.JanitorInterval = env.orDefaultDuration("SESSION_JANITOR_INTERVAL", c.Session.JanitorInterval)
	c.Session.JanitorMaxAge = env.orDefaultDuration("SESSION_JANITOR_MAX_AGE", c.Session.JanitorMaxAge)

	c.Transcription.Provider = strings.ToLower(envOrDefault("STT_PROVIDER", c.Transcription.Provider))
	c.Transcription.Endpoint = envOrDefault("STT_ENDPOINT", c.Transcription.Endpoint)
	c.Transcription.APIKey = envOrDefault("STT_API_KEY", c.Transcription.APIKey)
	c.Transcription.CredentialHeader = envOrDefault("STT_CREDENTIAL_HEADER", c.Transcription.CredentialHeader)
	c.Transcription.Model = envOrDefault("STT_MODEL", c.Transcription.Model)
	c.Transcription.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", c.Transcription.LanguageCode)
	c.Transcription.Timeout = env.orDefaultDuration("STT_TIMEOUT", c.Transcription.Timeout)
	c.Transcription.MaxResponseBytes = int64(env.orDefaultInt("STT_MAX_RESPONSE_BYTES", int(c.Transcription.MaxResponseBytes)))
	c.Transcription.MockLatency = env.orDefaultDuration("STT_MOCK_LATENCY", c.Transcription.MockLatency)

	c.Logging.Level = envOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envOrDefault("LOG_FORMAT", c.Logging.Format)

	return errors.Join(env.errs...)
}

// EffectiveProvider resolves which transcriber the service runs. An HTTP
// provider without a credential falls back to the mock.
func (c *Config) EffectiveProvider() string {
	if c.Transcription.Provider == ProviderHTTP && c.Transcription.APIKey == "" {
		return ProviderMock
	}
	return c.Transcription.Provider
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive, got %f", s.RequestsPerSecond)
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", s.ShutdownTimeout)
	}
	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", a.SampleRate)
	}
	if a.Channels < 1 || a.Channels > 8 {
		return fmt.Errorf("channels must be between 1 and 8, got %d", a.Channels)
	}
	switch a.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("bit_depth must be 8, 16, 24 or 32, got %d", a.BitDepth)
	}
	if a.MinBytes < 0 {
		return fmt.Errorf("min_bytes cannot be negative, got %d", a.MinBytes)
	}
	if a.MaxBytes <= a.MinBytes {
		return fmt.Errorf("max_bytes (%d) must be greater than min_bytes (%d)", a.MaxBytes, a.MinBytes)
	}
	if a.MaxDurationSeconds <= 0 {
		return fmt.Errorf("max_duration_seconds must be positive, got %f", a.MaxDurationSeconds)
	}
	if a.AutoFix && a.FFmpegCommand == "" {
		return errors.New("ffmpeg_command cannot be empty when auto_fix is enabled")
	}
	if a.CorrectionTimeout <= 0 {
		return fmt.Errorf("correction_timeout must be positive, got %s", a.CorrectionTimeout)
	}
	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.MinInterval < 0 {
		return fmt.Errorf("min_interval cannot be negative, got %s", s.MinInterval)
	}
	if s.ErrorThreshold < 1 {
		return fmt.Errorf("error_threshold must be at least 1, got %d", s.ErrorThreshold)
	}
	if s.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be positive, got %s", s.Cooldown)
	}
	if s.PendingDelay < 0 {
		return fmt.Errorf("pending_delay cannot be negative, got %s", s.PendingDelay)
	}
	if s.ProcessingTimeout <= 0 {
		return fmt.Errorf("processing_timeout must be positive, got %s", s.ProcessingTimeout)
	}
	if s.KeepAliveInterval < time.Second {
		return fmt.Errorf("keep_alive_interval must be at least 1s, got %s", s.KeepAliveInterval)
	}
	if s.JanitorInterval <= 0 || s.JanitorMaxAge <= 0 {
		return errors.New("janitor_interval and janitor_max_age must be positive")
	}
	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Provider {
	case ProviderMock, ProviderGoogle:
	case ProviderHTTP:
		if err := validateEndpoint(t.Endpoint); err != nil {
			return err
		}
		if t.CredentialHeader == "" {
			return errors.New("credential_header cannot be empty")
		}
	default:
		return fmt.Errorf("provider must be %q, %q or %q, got %q", ProviderHTTP, ProviderGoogle, ProviderMock, t.Provider)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", t.Timeout)
	}
	if t.MaxResponseBytes <= 0 {
		return fmt.Errorf("max_response_bytes must be positive, got %d", t.MaxResponseBytes)
	}
	if t.MockLatency < 0 {
		return fmt.Errorf("mock_latency cannot be negative, got %s", t.MockLatency)
	}
	return nil
}

// validateEndpoint requires https unless the host is loopback
func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %q has no host", endpoint)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host == "localhost" {
			return nil
		}
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			return nil
		}
		return fmt.Errorf("endpoint %q must use https", endpoint)
	default:
		return fmt.Errorf("endpoint %q must use https", endpoint)
	}
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be debug, info, warn or error, got %q", l.Level)
	}
	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("format must be json or console, got %q", l.Format)
	}
	return nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

// envReader collects malformed values so they fail Load instead of being
// replaced by defaults.
type envReader struct {
	errs []error
}

func (e *envReader) invalid(key, value, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q is not %s", key, value, want))
}

func (e *envReader) orDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.invalid(key, value, "an integer")
		return fallback
	}
	return parsed
}

func (e *envReader) orDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.invalid(key, value, "a number")
		return fallback
	}
	return parsed
}

func (e *envReader) orDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		e.invalid(key, value, "a boolean")
		return fallback
	}
}

// orDefaultDuration accepts Go duration strings or a bare number of
// milliseconds.
func (e *envReader) orDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		e.invalid(key, value, "a duration")
		return fallback
	}
	return parsed
}

func envOrDefaultList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
