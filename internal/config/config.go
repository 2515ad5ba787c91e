// Package config loads the bridge configuration from file, environment
// and defaults, in that reverse order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the host bridge.
type Config struct {
	// Visible shows the host window. Background automation keeps it off;
	// attach mode usually finds it already visible anyway.
	Visible bool `yaml:"visible" mapstructure:"visible"`

	// SuppressAlerts disables host alert dialogs during automation.
	SuppressAlerts bool `yaml:"suppress_alerts" mapstructure:"suppress_alerts"`

	// AttachToExisting probes for a running host instance before creating
	// a fresh one.
	AttachToExisting bool `yaml:"attach_to_existing" mapstructure:"attach_to_existing"`

	// HostProcessName is the executable name used for process tracking
	// and cleanup sweeps.
	HostProcessName string `yaml:"host_process_name" mapstructure:"host_process_name"`

	// ListenAddr is the address the control API and metrics listen on.
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`

	// TerminateWait bounds how long a polite terminate is given before
	// escalating to a forceful kill.
	TerminateWait time.Duration `yaml:"terminate_wait" mapstructure:"terminate_wait"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Visible:          false,
		SuppressAlerts:   true,
		AttachToExisting: true,
		HostProcessName:  "EXCEL.EXE",
		ListenAddr:       "127.0.0.1:8807",
		TerminateWait:    3 * time.Second,
		LogLevel:         "info",
	}
}

// Load reads configuration from the given file (optional), the standard
// search path ($HOME/.xlhost/config.yaml) and XLHOST_* environment
// variables, layered over the defaults.
func Load(cfgFile string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("visible", def.Visible)
	v.SetDefault("suppress_alerts", def.SuppressAlerts)
	v.SetDefault("attach_to_existing", def.AttachToExisting)
	v.SetDefault("host_process_name", def.HostProcessName)
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("terminate_wait", def.TerminateWait)
	v.SetDefault("log_level", def.LogLevel)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".xlhost"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("XLHOST")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		// A missing config file on the search path is fine; a broken one
		// is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// fileConfig mirrors Config for serialization; durations are written in
// their string form so the file stays hand-editable.
type fileConfig struct {
	Visible          bool   `yaml:"visible"`
	SuppressAlerts   bool   `yaml:"suppress_alerts"`
	AttachToExisting bool   `yaml:"attach_to_existing"`
	HostProcessName  string `yaml:"host_process_name"`
	ListenAddr       string `yaml:"listen_addr"`
	TerminateWait    string `yaml:"terminate_wait"`
	LogLevel         string `yaml:"log_level"`
}

// WriteDefault writes the default configuration to path in YAML form,
// creating parent directories as needed.
func WriteDefault(path string) error {
	def := Default()
	data, err := yaml.Marshal(fileConfig{
		Visible:          def.Visible,
		SuppressAlerts:   def.SuppressAlerts,
		AttachToExisting: def.AttachToExisting,
		HostProcessName:  def.HostProcessName,
		ListenAddr:       def.ListenAddr,
		TerminateWait:    def.TerminateWait.String(),
		LogLevel:         def.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
