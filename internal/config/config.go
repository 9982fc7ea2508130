package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/park285/cheese-chess-rooms/internal/obslog"
	"go.uber.org/multierr"
	yaml "gopkg.in/yaml.v3"
)

type AppConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	WSPath          string        `yaml:"ws_path"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	OutboxSize      int           `yaml:"outbox_size"`
	ReadLimitBytes  int64         `yaml:"read_limit_bytes"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	EnforceTurnOrder bool `yaml:"enforce_turn_order"`
	AutoClaimDraws   bool `yaml:"auto_claim_draws"`

	RedisURL         string        `yaml:"redis_url"`
	DirectoryKey     string        `yaml:"directory_key"`
	DirectoryChannel string        `yaml:"directory_channel"`
	DirectoryTTL     time.Duration `yaml:"directory_ttl"`

	MessagesDir string `yaml:"messages_dir"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Console bool   `yaml:"console"`
	ToFile  bool   `yaml:"to_file"`
	File    string `yaml:"file"`
	Caller  bool   `yaml:"caller"`
}

// Obslog converts the log section into logger options.
func (l LogConfig) Obslog() obslog.Options {
	opts := obslog.Options{Level: l.Level, Format: l.Format, Console: l.Console, Caller: l.Caller}
	if l.ToFile {
		opts.File = l.File
	}
	return opts
}

func Defaults() *AppConfig {
	return &AppConfig{
		ListenAddr:       ":4000",
		WSPath:           "/ws",
		AllowedOrigins:   []string{"*"},
		OutboxSize:       64,
		ReadLimitBytes:   32 << 10,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		AutoClaimDraws:   true,
		DirectoryKey:     "chessrooms:directory",
		DirectoryChannel: "chessrooms:directory:events",
		DirectoryTTL:     24 * time.Hour,
		Log: LogConfig{
			Level:   "info",
			Format:  "legacy",
			Console: true,
			ToFile:  false,
			File:    "logs/chess-rooms.log",
		},
	}
}

// Load reads .env (if present), then CONFIG_FILE (if set), then environment overrides.
func Load() (*AppConfig, error) {
	if err := loadDotenv(strings.TrimSpace(os.Getenv("DOTENV_PATH"))); err != nil {
		return nil, err
	}
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
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

func loadDotenv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() error {
	if v := env("PORT"); v != "" {
		c.ListenAddr = ":" + v
	}
	if v := env("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := env("WS_PATH"); v != "" {
		c.WSPath = v
	}
	if v := env("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	c.RedisURL = envOr("REDIS_URL", c.RedisURL)
	c.DirectoryKey = envOr("DIRECTORY_KEY", c.DirectoryKey)
	c.DirectoryChannel = envOr("DIRECTORY_CHANNEL", c.DirectoryChannel)
	c.MessagesDir = envOr("MESSAGES_DIR", c.MessagesDir)
	c.Log.Level = envOr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("LOG_FORMAT", c.Log.Format)
	c.Log.File = envOr("LOG_FILE", c.Log.File)

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(envInt("OUTBOX_SIZE", &c.OutboxSize))
	collect(envInt64("READ_LIMIT_BYTES", &c.ReadLimitBytes))
	collect(envDuration("WRITE_TIMEOUT", &c.WriteTimeout))
	collect(envDuration("PING_INTERVAL", &c.PingInterval))
	collect(envDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout))
	collect(envDuration("DIRECTORY_TTL", &c.DirectoryTTL))
	collect(envBool("ENFORCE_TURN_ORDER", &c.EnforceTurnOrder))
	collect(envBool("AUTO_CLAIM_DRAWS", &c.AutoClaimDraws))
	collect(envBool("LOG_TO_CONSOLE", &c.Log.Console))
	collect(envBool("LOG_TO_FILE", &c.Log.ToFile))
	collect(envBool("LOG_CALLER", &c.Log.Caller))
	return multierr.Combine(errs...)
}

func (c *AppConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.ListenAddr) == "":
		return errors.New("LISTEN_ADDR is required")
	case !strings.HasPrefix(c.WSPath, "/"):
		return fmt.Errorf("WS_PATH must start with '/': %q", c.WSPath)
	case c.OutboxSize <= 0:
		return fmt.Errorf("OUTBOX_SIZE must be positive: %d", c.OutboxSize)
	case c.ReadLimitBytes <= 0:
		return fmt.Errorf("READ_LIMIT_BYTES must be positive: %d", c.ReadLimitBytes)
	case c.WriteTimeout <= 0:
		return fmt.Errorf("WRITE_TIMEOUT must be positive: %s", c.WriteTimeout)
	case c.PingInterval < 0:
		return fmt.Errorf("PING_INTERVAL must not be negative: %s", c.PingInterval)
	case c.RedisURL != "" && strings.TrimSpace(c.DirectoryKey) == "":
		return errors.New("DIRECTORY_KEY is required when REDIS_URL is set")
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	return nil
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

func envOr(k, def string) string {
	if v := env(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, dst *int) error {
	v := env(k)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	*dst = n
	return nil
}

func envInt64(k string, dst *int64) error {
	v := env(k)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	*dst = n
	return nil
}

func envBool(k string, dst *bool) error {
	v := env(k)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	*dst = b
	return nil
}

// envDuration accepts Go durations ("5s") or bare seconds ("5").
func envDuration(k string, dst *time.Duration) error {
	v := env(k)
	if v == "" {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
