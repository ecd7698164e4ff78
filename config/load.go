package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppName names the config directory and the environment prefix.
const AppName = "syzscrape"

// Viper keys. Flags bound by the CLI use the same names.
const (
	KeyBaseURL     = "base_url"
	KeyRelease     = "release"
	KeyOutput      = "output"
	KeyLogLevel    = "log_level"
	KeyInterval    = "interval"
	KeyTimeout     = "timeout"
	KeyMaxBodySize = "max_body_size"
	KeyUserAgent   = "user_agent"
	KeyMetricsAddr = "metrics_addr"
	KeyMirror      = "mirror"

	KeyMirrorAccessKeyID     = "mirror_access_key_id"
	KeyMirrorSecretAccessKey = "mirror_secret_access_key"
)

// ConfigDir is the per-user configuration directory.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Init prepares v with defaults, search paths and environment binding, then
// reads the config file if one exists. An explicit cfgFile must exist.
func Init(v *viper.Viper, cfgFile string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	defaults := DefaultConfig()
	v.SetDefault(KeyBaseURL, defaults.BaseURL)
	v.SetDefault(KeyRelease, string(defaults.Release))
	v.SetDefault(KeyOutput, defaults.OutputDir)
	v.SetDefault(KeyLogLevel, defaults.LogLevel)
	v.SetDefault(KeyInterval, defaults.Interval)
	v.SetDefault(KeyTimeout, defaults.Timeout)
	v.SetDefault(KeyMaxBodySize, defaults.MaxBodySize)
	v.SetDefault(KeyUserAgent, defaults.UserAgent)
	v.SetDefault(KeyMetricsAddr, defaults.MetricsAddr)
	v.SetDefault(KeyMirror, defaults.Mirror)
	v.SetDefault(KeyMirrorAccessKeyID, "")
	v.SetDefault(KeyMirrorSecretAccessKey, "")

	v.SetEnvPrefix(strings.ToUpper(AppName)) // SYZSCRAPE_RELEASE, SYZSCRAPE_LOG_LEVEL, ...
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath(ConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (*Config, error) {
	release, err := ParseRelease(v.GetString(KeyRelease))
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		BaseURL:     v.GetString(KeyBaseURL),
		Release:     release,
		OutputDir:   v.GetString(KeyOutput),
		LogLevel:    v.GetString(KeyLogLevel),
		Interval:    v.GetDuration(KeyInterval),
		Timeout:     v.GetDuration(KeyTimeout),
		MaxBodySize: v.GetInt(KeyMaxBodySize),
		UserAgent:   v.GetString(KeyUserAgent),
		MetricsAddr: v.GetString(KeyMetricsAddr),
		Mirror:      v.GetString(KeyMirror),

		MirrorAccessKeyID:     v.GetString(KeyMirrorAccessKeyID),
		MirrorSecretAccessKey: v.GetString(KeyMirrorSecretAccessKey),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
