package panini

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// DefaultStaticURLPrefix is where static folders are served when no prefix
// is configured.
const DefaultStaticURLPrefix = "/static"

// Config holds the settings used by New.
type Config struct {
	// Debug propagates unhandled errors instead of answering 500.
	Debug bool `yaml:"debug"`
	// TrimLastSlash treats "/path" and "/path/" as the same route.
	TrimLastSlash bool `yaml:"trim_last_slash"`
	// StaticURLPrefix is the URL prefix StaticFolders are served under.
	StaticURLPrefix string `yaml:"static_url_prefix"`
	// StaticFolders are searched in order for static files.
	StaticFolders []string `yaml:"static_folders"`

	// Logger defaults to NewLogger().
	Logger *zap.Logger `yaml:"-"`
}

// DefaultConfig returns the configuration used by BuildYourOwn.
func DefaultConfig() Config {
	return Config{StaticURLPrefix: DefaultStaticURLPrefix}
}

// LoadConfig reads a YAML config file and then applies the PANINI_DEBUG,
// PANINI_TRIM_LAST_SLASH, PANINI_STATIC_URL_PREFIX and PANINI_STATIC_FOLDERS
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PANINI_DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PANINI_DEBUG: %w", err)
		}
		c.Debug = b
	}
	if v, ok := lookup("PANINI_TRIM_LAST_SLASH"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PANINI_TRIM_LAST_SLASH: %w", err)
		}
		c.TrimLastSlash = b
	}
	if v, ok := lookup("PANINI_STATIC_URL_PREFIX"); ok {
		c.StaticURLPrefix = v
	}
	if v, ok := lookup("PANINI_STATIC_FOLDERS"); ok {
		c.StaticFolders = nil
		for _, dir := range strings.Split(v, ",") {
			if dir = strings.TrimSpace(dir); dir != "" {
				c.StaticFolders = append(c.StaticFolders, dir)
			}
		}
	}
	return nil
}

// NewLogger returns the default diagnostic logger: console encoded, Info
// level, written to stderr.
func NewLogger() *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(enc),
		zapcore.Lock(zapcore.AddSync(os_Stderr)),
		zap.InfoLevel,
	)
	return zap.New(core)
}
