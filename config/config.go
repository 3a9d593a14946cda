// Package config loads BashBook settings from an optional TOML file and the
// environment. Environment variables always win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	BackendFile  = "file"
	BackendTable = "table"
)

// EnvConfigPath names the TOML file to read before the environment.
const EnvConfigPath = "BASHBOOK_CONFIG"

// Config holds every tunable of the server and the terminal client.
type Config struct {
	Addr    string `toml:"addr"`
	Backend string `toml:"backend"`

	DataFile string `toml:"data_file"`

	StorageConnectionString string `toml:"storage_connection_string"`
	GuestsTable             string `toml:"guests_table"`
	GuestList               string `toml:"guest_list"`
	ChangesQueue            string `toml:"changes_queue"`

	RedisConnectionString string   `toml:"redis_connection_string"`
	CacheTTL              Duration `toml:"cache_ttl"`

	Password      string   `toml:"password"`
	SessionSecret string   `toml:"session_secret"`
	SessionTTL    Duration `toml:"session_ttl"`
	SessionRate   float64  `toml:"session_rate"`

	MaxBodyBytes    int64    `toml:"max_body_bytes"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`

	Debug     bool   `toml:"debug"`
	LogFormat string `toml:"log_format"`

	ServerURL string `toml:"server_url"`
}

// Duration decodes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:            ":8080",
		Backend:         BackendFile,
		DataFile:        "db.json",
		GuestsTable:     "guests",
		GuestList:       "guests",
		CacheTTL:        Duration{30 * time.Second},
		SessionTTL:      Duration{12 * time.Hour},
		SessionRate:     5,
		MaxBodyBytes:    1 << 20,
		ReadTimeout:     Duration{15 * time.Second},
		WriteTimeout:    Duration{15 * time.Second},
		ShutdownTimeout: Duration{10 * time.Second},
		LogFormat:       "text",
		ServerURL:       "http://localhost:8080",
	}
}

// Load reads path (or $BASHBOOK_CONFIG when path is empty), then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFile:
		if c.DataFile == "" {
			return errors.New("data file must be set for the file backend")
		}
	case BackendTable:
		if c.StorageConnectionString == "" || c.GuestsTable == "" {
			return errors.New("missing storage config")
		}
	default:
		return fmt.Errorf("unsupported backend %q", c.Backend)
	}
	if c.ChangesQueue != "" && c.StorageConnectionString == "" {
		return errors.New("changes queue requires STORAGE_CONNECTION_STRING")
	}
	if c.GuestList == "" {
		return errors.New("guest list name must not be empty")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("invalid MAX_BODY_BYTES: must be greater than zero")
	}
	if c.SessionTTL.Duration <= 0 {
		return errors.New("invalid SESSION_TTL: must be greater than zero")
	}
	if c.SessionRate < 0 {
		return errors.New("invalid SESSION_RATE: must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}
	return nil
}

// GateEnabled reports whether the API requires a session.
func (c Config) GateEnabled() bool {
	return c.Password != ""
}

func applyEnv(c *Config) error {
	setString(&c.Addr, "BASHBOOK_ADDR")
	if port, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
		c.Addr = ":" + port
	}
	setString(&c.Backend, "BASHBOOK_BACKEND")
	c.Backend = strings.ToLower(c.Backend)
	setString(&c.DataFile, "BASHBOOK_DATA_FILE")
	setString(&c.StorageConnectionString, "STORAGE_CONNECTION_STRING")
	setString(&c.GuestsTable, "GUESTS_TABLE")
	setString(&c.GuestList, "GUEST_LIST")
	setString(&c.ChangesQueue, "CHANGES_QUEUE")
	setString(&c.RedisConnectionString, "REDIS_CONNECTION_STRING")
	setString(&c.Password, "BASHBOOK_PASSWORD")
	setString(&c.SessionSecret, "SESSION_SECRET")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.ServerURL, "BASHBOOK_URL")

	if err := setDuration(&c.CacheTTL, "CACHE_TTL", true); err != nil {
		return err
	}
	if err := setDuration(&c.SessionTTL, "SESSION_TTL", false); err != nil {
		return err
	}
	if err := setDuration(&c.ReadTimeout, "READ_TIMEOUT", false); err != nil {
		return err
	}
	if err := setDuration(&c.WriteTimeout, "WRITE_TIMEOUT", false); err != nil {
		return err
	}
	if err := setDuration(&c.ShutdownTimeout, "SHUTDOWN_TIMEOUT", false); err != nil {
		return err
	}
	if v := os.Getenv("SESSION_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid SESSION_RATE: %w", err)
		}
		c.SessionRate = f
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_BODY_BYTES: %w", err)
		}
		c.MaxBodyBytes = n
	}
	if v := os.Getenv("DEBUG"); v != "" {
		if dbg, err := strconv.ParseBool(v); err == nil {
			c.Debug = dbg
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *Duration, key string, allowZero bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	dst.Duration = d
	return nil
}
