package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the persisted application settings. Values are loaded from a
// TOML file and can be written back (the settings endpoint edits them at
// runtime). Environment variables take precedence over file values.
type Config struct {
	Server     Server     `toml:"server"`
	API        API        `toml:"api"`
	Processing Processing `toml:"processing"`
	Poll       Poll       `toml:"poll"`
}

type Server struct {
	Port      string `toml:"port"`
	UploadDir string `toml:"upload_dir"`
	DBPath    string `toml:"db_path"`
}

type API struct {
	Provider        string  `toml:"provider"`
	GeminiAPIKey    string  `toml:"gemini_api_key"`
	AnthropicAPIKey string  `toml:"anthropic_api_key"`
	Model           string  `toml:"model"`
	Temperature     float64 `toml:"temperature"`
	MaxTokens       int     `toml:"max_tokens"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
}

type Processing struct {
	BatchSize         int `toml:"batch_size"`
	Workers           int `toml:"workers"`
	MaxRetries        int `toml:"max_retries"`
	RetryDelaySeconds int `toml:"retry_delay_seconds"`
}

type Poll struct {
	IntervalSeconds int `toml:"interval_seconds"`
	MaxRetries      int `toml:"max_retries"`
	TimeoutSeconds  int `toml:"timeout_seconds"`
}

func Default() Config {
	return Config{
		Server: Server{
			Port:      "8080",
			UploadDir: "uploads",
			DBPath:    "avaria.db",
		},
		API: API{
			Provider:       "gemini",
			Model:          "gemini-2.0-flash",
			Temperature:    0.1,
			MaxTokens:      1000,
			TimeoutSeconds: 30,
		},
		Processing: Processing{
			BatchSize:         10,
			Workers:           4,
			MaxRetries:        3,
			RetryDelaySeconds: 5,
		},
		Poll: Poll{
			IntervalSeconds: 2,
			MaxRetries:      2,
			TimeoutSeconds:  10,
		},
	}
}

// Load reads the config file at path, filling gaps with defaults and applying
// environment overrides. A missing file is not an error; defaults are used.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// first run, keep defaults
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// Save writes the config back to path, creating parent directories as needed.
func (c Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (a API) Timeout() time.Duration        { return time.Duration(a.TimeoutSeconds) * time.Second }
func (p Processing) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelaySeconds) * time.Second
}
func (p Poll) Interval() time.Duration { return time.Duration(p.IntervalSeconds) * time.Second }
func (p Poll) Timeout() time.Duration  { return time.Duration(p.TimeoutSeconds) * time.Second }

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.UploadDir = getEnv("UPLOAD_DIR", cfg.Server.UploadDir)
	cfg.Server.DBPath = getEnv("DB_PATH", cfg.Server.DBPath)
	cfg.API.Provider = getEnv("API_PROVIDER", cfg.API.Provider)
	cfg.API.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.API.GeminiAPIKey)
	cfg.API.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", cfg.API.AnthropicAPIKey)
	cfg.Processing.Workers = getEnvInt("WORKERS", cfg.Processing.Workers)
	cfg.Processing.BatchSize = getEnvInt("BATCH_SIZE", cfg.Processing.BatchSize)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}
