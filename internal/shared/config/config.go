package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/reshetovitsme/wikiscan/internal/shared/errors"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

// EnvPrefix is stripped from environment variables before they are merged.
// A double underscore addresses a nested key: WIKISCAN_STREAM__URL -> stream.url
const EnvPrefix = "WIKISCAN_"

type Config struct {
	LogLevel          LogTier        `koanf:"log_level"`
	LogDir            string         `koanf:"log_dir"`
	ChangesSubdir     string         `koanf:"changes_subdir"`
	FlaggedChangesLog string         `koanf:"flagged_changes_log"`
	RevidLog          string         `koanf:"revid_log"`
	UserAgent         string         `koanf:"user_agent"`
	HTTPTimeout       int            `koanf:"http_timeout"`
	HTTPPort          string         `koanf:"http_port"`
	TelegramBotToken  string         `koanf:"telegram_bot_token"`
	TelegramChatID    int64          `koanf:"telegram_chat_id"`
	Stream            StreamConfig   `koanf:"stream"`
	Filters           []FilterConfig `koanf:"filters"`
}

type StreamConfig struct {
	URL string `koanf:"url"`
	// ReadTimeout is the longest the stream may stay silent, in seconds
	ReadTimeout int `koanf:"read_timeout"`
	// MaxReconnectElapsed bounds automatic reconnection, in seconds
	MaxReconnectElapsed int `koanf:"max_reconnect_elapsed"`
}

// FilterConfig is the static description of one filter rule
type FilterConfig struct {
	Name        string        `koanf:"name"`
	Sites       []string      `koanf:"sites"`
	Streams     []string      `koanf:"streams"`
	Types       []string      `koanf:"type"`
	Namespaces  []int         `koanf:"namespace"`
	Bot         *bool         `koanf:"bot"`
	MaxEdits    *int          `koanf:"max_edits"`
	SkipRepeats *bool         `koanf:"skip_repeats"`
	Regexes     []RegexConfig `koanf:"regexes"`
}

type RegexConfig struct {
	Pattern string `koanf:"pattern"`
	// Flags is any combination of i, m and s
	Flags string `koanf:"flags"`
}

var defaultConfigFiles = []string{
	"config.yaml",
	"config.yml",
	"config.json",
	"config.toml",
}

var defaults = map[string]any{
	"log_level":                    int(TierContent),
	"log_dir":                      "logs",
	"changes_subdir":               "changes",
	"flagged_changes_log":          "flagged_changes.json",
	"revid_log":                    "revids.txt",
	"user_agent":                   "wikiscan/1.0 (https://github.com/reshetovitsme/wikiscan)",
	"http_timeout":                 30,
	"stream.url":                   "https://stream.wikimedia.org/v2/stream",
	"stream.read_timeout":          60,
	"stream.max_reconnect_elapsed": 300,
}

// Load reads configuration from path, or from the first default config file
// found in the working directory when path is empty. Environment variables
// override file values.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	configFile := path
	if configFile == "" {
		configFile, _ = lo.Find(defaultConfigFiles, func(file string) bool {
			_, err := os.Stat(file)
			return err == nil
		})
	}

	if configFile != "" {
		parser, err := parserFor(configFile)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(configFile), parser); err != nil {
			return nil, oops.In("config").With("config_file", configFile).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, oops.In("config").With("context", "loading environment variables").Wrap(err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.In("config").With("context", "unmarshaling config").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func parserFor(configFile string) (koanf.Parser, error) {
	switch ext := filepath.Ext(configFile); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, oops.In("config").Code(errors.CodeConfig).With("config_file", configFile).Errorf("unsupported config file extension: %s", ext)
	}
}

// Validate checks the settings that are fatal at startup
func (c *Config) Validate() error {
	if !c.LogLevel.Valid() {
		return oops.In("config").Code(errors.CodeConfig).With("log_level", int(c.LogLevel)).Wrap(errors.ErrInvalidTier)
	}
	return nil
}

// Filter returns the filter configuration with the given name
func (c *Config) Filter(name string) (FilterConfig, error) {
	fc, ok := lo.Find(c.Filters, func(f FilterConfig) bool {
		return f.Name == name
	})
	if !ok {
		return FilterConfig{}, oops.In("config").
			Code(errors.CodeConfig).
			With("filter", name, "available", c.FilterNames()).
			Wrap(errors.ErrUnknownFilter)
	}
	return fc, nil
}

func (c *Config) FilterNames() []string {
	return lo.Map(c.Filters, func(f FilterConfig, _ int) string { return f.Name })
}

func (c *Config) FlaggedChangesPath() string {
	return filepath.Join(c.LogDir, c.FlaggedChangesLog)
}

func (c *Config) RevidLogPath() string {
	return filepath.Join(c.LogDir, c.RevidLog)
}

func (c *Config) ChangesPath() string {
	return filepath.Join(c.LogDir, c.ChangesSubdir)
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTPTimeout) * time.Second
}

// Settings lists the effective settings, one "key = value" per line
func (c *Config) Settings() []string {
	return []string{
		fmt.Sprintf("log_level = %s", c.LogLevel),
		fmt.Sprintf("log_dir = %s", c.LogDir),
		fmt.Sprintf("changes_subdir = %s", c.ChangesSubdir),
		fmt.Sprintf("flagged_changes_log = %s", c.FlaggedChangesLog),
		fmt.Sprintf("revid_log = %s", c.RevidLog),
		fmt.Sprintf("stream.url = %s", c.Stream.URL),
		fmt.Sprintf("filters = %s", strings.Join(c.FilterNames(), ", ")),
	}
}
