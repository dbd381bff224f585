package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{
			name:        "defaults",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid port",
			mutate:      func(c *Config) { c.Server.Port = 70000 },
			expectError: true,
		},
		{
			name:        "unsupported bit depth",
			mutate:      func(c *Config) { c.Audio.BitDepth = 12 },
			expectError: true,
		},
		{
			name:        "max below min",
			mutate:      func(c *Config) { c.Audio.MaxBytes = 500 },
			expectError: true,
		},
		{
			name:        "plain http endpoint",
			mutate:      func(c *Config) { c.Transcription.Endpoint = "http://api.example.com/stt" },
			expectError: true,
		},
		{
			name:        "loopback http endpoint",
			mutate:      func(c *Config) { c.Transcription.Endpoint = "http://127.0.0.1:9000/stt" },
			expectError: false,
		},
		{
			name:        "localhost http endpoint",
			mutate:      func(c *Config) { c.Transcription.Endpoint = "http://localhost:9000/stt" },
			expectError: false,
		},
		{
			name: "google provider ignores endpoint",
			mutate: func(c *Config) {
				c.Transcription.Provider = ProviderGoogle
				c.Transcription.Endpoint = ""
			},
			expectError: false,
		},
		{
			name:        "unknown provider",
			mutate:      func(c *Config) { c.Transcription.Provider = "whisper" },
			expectError: true,
		},
		{
			name:        "zero threshold",
			mutate:      func(c *Config) { c.Session.ErrorThreshold = 0 },
			expectError: true,
		},
		{
			name:        "bad log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			err := config.Validate()
			if tt.expectError && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	configContent := `
server:
  port: 9090
audio:
  strict: true
  min_bytes: 2000
session:
  min_interval: 250ms
  cooldown: 1m
transcription:
  provider: http
  model: saarika:v2.5
logging:
  level: debug
  format: console
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	t.Setenv("STT_API_KEY", "from-env")
	t.Setenv("SESSION_ERROR_THRESHOLD", "3")
	t.Setenv("PORT", "")

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", config.Server.Port)
	}
	if !config.Audio.Strict {
		t.Error("Expected strict validation from file")
	}
	if config.Audio.MinBytes != 2000 {
		t.Errorf("Expected min_bytes 2000, got %d", config.Audio.MinBytes)
	}
	if config.Audio.SampleRate != 16000 {
		t.Errorf("Expected default sample rate to survive, got %d", config.Audio.SampleRate)
	}
	if config.Session.MinInterval != 250*time.Millisecond {
		t.Errorf("Expected min_interval 250ms, got %s", config.Session.MinInterval)
	}
	if config.Session.Cooldown != time.Minute {
		t.Errorf("Expected cooldown 1m, got %s", config.Session.Cooldown)
	}
	if config.Session.ErrorThreshold != 3 {
		t.Errorf("Expected env to override threshold, got %d", config.Session.ErrorThreshold)
	}
	if config.Transcription.Model != "saarika:v2.5" {
		t.Errorf("Expected model from file, got %q", config.Transcription.Model)
	}
	if config.Transcription.APIKey != "from-env" {
		t.Errorf("Expected API key from env, got %q", config.Transcription.APIKey)
	}
	if config.EffectiveProvider() != ProviderHTTP {
		t.Errorf("Expected http provider with key set, got %s", config.EffectiveProvider())
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	t.Setenv("STT_API_KEY", "")
	t.Setenv("SESSION_PENDING_DELAY", "750")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if config.Session.PendingDelay != 750*time.Millisecond {
		t.Errorf("Expected bare number to be read as milliseconds, got %s", config.Session.PendingDelay)
	}
	if config.EffectiveProvider() != ProviderMock {
		t.Errorf("Expected mock fallback without key, got %s", config.EffectiveProvider())
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing file")
	}

	tmpDir := t.TempDir()
	badPath := filepath.Join(tmpDir, "bad.yaml")
	os.WriteFile(badPath, []byte("server: [unterminated"), 0644)
	if _, err := Load(badPath); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestEnvOrDefaultList(t *testing.T) {
	t.Setenv("TEST_ORIGINS", " https://a.example , ,https://b.example")
	got := envOrDefaultList("TEST_ORIGINS", nil)
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("Unexpected origins %v", got)
	}
}

func TestLoadConfig_MalformedEnv(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"SESSION_COOLDOWN", "abc"},
		{"PORT", "eighty"},
		{"REQUESTS_PER_SECOND", "fast"},
		{"AUDIO_STRICT", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load("")
			if err == nil {
				t.Fatalf("Expected error for %s=%s", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Error should name %s, got %v", tt.key, err)
			}
		})
	}
}
