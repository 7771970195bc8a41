package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

const (
	xdgAppName = "chronos"
	configFile = "config.yaml"
)

type Config struct {
	LogLevel string   `yaml:"log_level" env:"CHRONOS_LOG_LEVEL" env-default:"INFO"`
	HTTP     HTTP     `yaml:"http"`
	DB       DB       `yaml:"db"`
	Ingest   Ingest   `yaml:"ingest"`
	Agent    Agent    `yaml:"agent"`
	Sync     Sync     `yaml:"sync"`
	Google   Google   `yaml:"google"`
	Extract  Extract  `yaml:"extract"`
	Schedule Schedule `yaml:"schedule"`
}

type HTTP struct {
	Address string        `yaml:"address" env:"CHRONOS_HTTP_ADDRESS" env-default:":8080"`
	Timeout time.Duration `yaml:"timeout" env:"CHRONOS_HTTP_TIMEOUT" env-default:"15s"`
}

type DB struct {
	Driver string `yaml:"driver" env:"CHRONOS_DB_DRIVER" env-default:"sqlite"`
	// DSN defaults to chronos.db under the config directory for sqlite.
	DSN string `yaml:"dsn" env:"CHRONOS_DB_DSN"`
}

type Ingest struct {
	DedupWindow     time.Duration `yaml:"dedup_window" env:"CHRONOS_DEDUP_WINDOW" env-default:"30m"`
	Timeout         time.Duration `yaml:"timeout" env:"CHRONOS_INGEST_TIMEOUT" env-default:"10s"`
	DefaultDuration time.Duration `yaml:"default_duration" env:"CHRONOS_DEFAULT_DURATION" env-default:"1h"`
	TimeZone        string        `yaml:"time_zone" env:"CHRONOS_TIME_ZONE" env-default:"UTC"`
}

type Agent struct {
	MinConfidence         float64 `yaml:"min_confidence" env:"CHRONOS_AGENT_MIN_CONFIDENCE" env-default:"0.5"`
	DestructiveConfidence float64 `yaml:"destructive_confidence" env:"CHRONOS_AGENT_DESTRUCTIVE_CONFIDENCE" env-default:"0.8"`
	// Endpoint switches from the built-in rule classifier to a remote model.
	Endpoint string `yaml:"endpoint" env:"CHRONOS_AGENT_ENDPOINT"`
}

type Sync struct {
	MaxAttempts    int           `yaml:"max_attempts" env:"CHRONOS_SYNC_MAX_ATTEMPTS" env-default:"3"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"CHRONOS_SYNC_INITIAL_BACKOFF" env-default:"500ms"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"CHRONOS_SYNC_MAX_BACKOFF" env-default:"10s"`
	CallTimeout    time.Duration `yaml:"call_timeout" env:"CHRONOS_SYNC_CALL_TIMEOUT" env-default:"20s"`
	QueueSize      int           `yaml:"queue_size" env:"CHRONOS_SYNC_QUEUE_SIZE" env-default:"256"`
}

type Google struct {
	CredentialsFile string `yaml:"credentials_file" env:"GOOGLE_CREDENTIALS_FILE"`
	ClientID        string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret    string `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL     string `yaml:"redirect_url" env:"GOOGLE_REDIRECT_URI" env-default:"http://localhost:8080/v1/google/callback"`
	Calendar        string `yaml:"calendar" env:"CHRONOS_CALENDAR" env-default:"primary"`
}

type Extract struct {
	TextEndpoint     string        `yaml:"text_endpoint" env:"CHRONOS_EXTRACT_TEXT_ENDPOINT"`
	DocumentEndpoint string        `yaml:"document_endpoint" env:"CHRONOS_EXTRACT_DOCUMENT_ENDPOINT"`
	Timeout          time.Duration `yaml:"timeout" env:"CHRONOS_EXTRACT_TIMEOUT" env-default:"60s"`
}

type Schedule struct {
	WorkStart string `yaml:"work_start" env:"CHRONOS_WORK_START" env-default:"09:00"`
	WorkEnd   string `yaml:"work_end" env:"CHRONOS_WORK_END" env-default:"17:00"`
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Ingest.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", c.Ingest.TimeZone, err)
	}
	return loc, nil
}

// Dir returns the directory config, database and caches live in.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads path (or the default config path when empty), falling back to
// environment variables alone when the file does not exist.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		var pe *os.PathError
		if !errors.As(err, &pe) {
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read env: %w", err)
		}
	}

	if cfg.DB.DSN == "" && cfg.DB.Driver == "sqlite" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		cfg.DB.DSN = filepath.Join(dir, "chronos.db")
	}
	return &cfg, nil
}

// Set writes a single dotted key (for example "google.calendar") into the
// config file at path, keeping every other value the file already holds.
func Set(path, key, value string) error {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	doc := map[string]any{}
	b, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if len(b) > 0 {
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return fmt.Errorf("failed to decode config: %w", err)
		}
	}

	parts := strings.Split(key, ".")
	node := doc
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = scalar(value)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file for writing: %w", err)
	}
	defer f.Close()

	encoder := yaml.NewEncoder(f)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return encoder.Close()
}

// scalar keeps numbers and booleans typed so the written file still decodes
// into the config struct.
func scalar(value string) any {
	var v any
	if err := yaml.Unmarshal([]byte(value), &v); err != nil {
		return value
	}
	switch v.(type) {
	case int, float64, bool:
		return v
	}
	return value
}
