package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the engine configuration, loaded from profile config.toml.
type Config struct {
	// RelayURL is the websocket endpoint of the relay server.
	RelayURL string `toml:"relay_url"`
	// APIBaseURL is the base URL of the marketplace REST backend.
	APIBaseURL string `toml:"api_base_url"`

	Retry  Retry  `toml:"retry"`
	Upload Upload `toml:"upload"`
	Bus    Bus    `toml:"bus"`
}

// Retry bounds the silent reconnect policy of the transport session.
type Retry struct {
	// MaxAttempts is how many consecutive reconnect attempts are made
	// before the failure is surfaced to the user.
	MaxAttempts int `toml:"max_attempts"`
	// BaseDelayMs is the first backoff delay; it doubles per attempt.
	BaseDelayMs int `toml:"base_delay_ms"`
	// MaxDelayMs caps the backoff delay.
	MaxDelayMs int `toml:"max_delay_ms"`
}

// Upload holds the context-specific attachment limits. The limits differ by
// upload context and are configuration, not universal constants.
type Upload struct {
	ChatLimitBytes           int64 `toml:"chat_limit_bytes"`
	ProjectBriefLimitBytes   int64 `toml:"project_brief_limit_bytes"`
	WorkSubmissionLimitBytes int64 `toml:"work_submission_limit_bytes"`
	// AllowedTypes is the MIME allow-list for chat attachments.
	AllowedTypes []string `toml:"allowed_types"`
}

// Bus sets subscriber channel buffers.
type Bus struct {
	EventBuffer int `toml:"event_buffer"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RelayURL:   "ws://127.0.0.1:8180/ws",
		APIBaseURL: "http://127.0.0.1:8080/api",
		Retry: Retry{
			MaxAttempts: 8,
			BaseDelayMs: 500,
			MaxDelayMs:  15000,
		},
		Upload: Upload{
			ChatLimitBytes:           10 << 20,
			ProjectBriefLimitBytes:   25 << 20,
			WorkSubmissionLimitBytes: 100 << 20,
			AllowedTypes: []string{
				"image/jpeg", "image/png", "image/gif", "image/webp",
				"application/pdf", "text/plain",
				"application/zip",
				"application/msword",
				"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			},
		},
		Bus: Bus{EventBuffer: 256},
	}
}

// Load reads config from path, applying defaults for absent fields.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
