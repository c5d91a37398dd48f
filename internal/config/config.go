// Package config loads host configuration from file, environment and
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	configData Config
	v          *viper.Viper
)

// Config holds all host configuration settings.
type Config struct {
	// Plugins configuration
	Plugins struct {
		Paths     []string
		DataRoot  string
		StateFile string
	}
	// Sandbox configuration
	Sandbox struct {
		Isolation    string
		MaxRestarts  uint64
		RestartDelay string
	}
	// Resources configuration
	Resources struct {
		SampleInterval string
		BreachWindow   string
	}
	// Events configuration
	Events struct {
		HistorySize int
	}
	// Logging configuration
	Log struct {
		Level  string
		Format string
	}
}

// Initialize sets up the configuration system.
func Initialize() error {
	v = viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/plughost")
	v.AddConfigPath("/etc/plughost/")

	setDefaults()

	v.SetEnvPrefix("PLUGHOST")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Defaults are enough when no config file is present.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(&configData); err != nil {
		return fmt.Errorf("unable to decode into config struct: %w", err)
	}

	return nil
}

// setDefaults sets default values for all configuration options.
func setDefaults() {
	home, _ := os.UserHomeDir()

	v.SetDefault("plugins.paths", []string{
		filepath.Join(home, ".config", "plughost", "plugins"),
		filepath.Join(".", ".plughost", "plugins"),
	})
	v.SetDefault("plugins.dataroot", filepath.Join(home, ".local", "share", "plughost"))
	v.SetDefault("plugins.statefile", "")

	v.SetDefault("sandbox.isolation", "strict")
	v.SetDefault("sandbox.maxrestarts", 3)
	v.SetDefault("sandbox.restartdelay", "500ms")

	v.SetDefault("resources.sampleinterval", "5s")
	v.SetDefault("resources.breachwindow", "30s")

	v.SetDefault("events.historysize", 1000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "human")
}

// OnChange watches the configuration file and invokes fn after a change
// has been read back into the configuration. No-op when the host runs on
// defaults without a config file.
func OnChange(fn func()) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(fsnotify.Event) {
		if err := v.Unmarshal(&configData); err != nil {
			return
		}
		fn()
	})
	v.WatchConfig()
}

// Get returns the current configuration.
func Get() *Config {
	return &configData
}

// GetViper returns the viper instance.
func GetViper() *viper.Viper {
	return v
}
