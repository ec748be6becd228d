// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultRPCPort         = 6800
	DefaultSettleDelay     = 2 * time.Second
	DefaultRPCTimeout      = 10 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultListen          = "127.0.0.1:6801"
	DefaultRateLimit       = 20.0
	DefaultRelocateBackend = "rclone"

	// workDirName is the daemon's working directory under the downloads path.
	workDirName = ".ariabridge"

	maxPort = 65535
)

// Config is the application configuration.
type Config struct {
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Downloads DownloadsConfig `mapstructure:"downloads"`
	Server    ServerConfig    `mapstructure:"server"`
}

// DaemonConfig holds aria2 daemon supervision and RPC settings.
type DaemonConfig struct {
	Port            int           `mapstructure:"port"`
	Path            string        `mapstructure:"path"`   // Explicit aria2c executable; empty searches the default location
	Secret          string        `mapstructure:"secret"` // Passed as --rpc-secret and sent as token:<secret>
	SettleDelay     time.Duration `mapstructure:"settleDelay"`
	RPCTimeout      time.Duration `mapstructure:"rpcTimeout"` // Per-call transport timeout, 0 = none
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// DownloadsConfig holds destination folder settings.
type DownloadsConfig struct {
	Path            string `mapstructure:"path"`
	WorkPath        string `mapstructure:"workPath"`  // Where the daemon writes in-progress files
	Subfolder       bool   `mapstructure:"subfolder"` // Sort completed files into category folders
	Relocate        bool   `mapstructure:"relocate"`  // Move completed files out of workPath
	RelocateBackend string `mapstructure:"relocateBackend"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Listen    string  `mapstructure:"listen"`
	RateLimit float64 `mapstructure:"rateLimit"` // Requests per second per client, 0 = unlimited
	LockDir   string  `mapstructure:"lockDir"`
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ConfigFile is an explicit config file path. If empty, default locations are searched.
	ConfigFile string
}

// Load reads configuration from file and environment variables.
// If opts.ConfigFile is set, that file is used directly.
// Otherwise, it searches default locations: $HOME, current directory, /config
// for files named .ariabridge.yaml, ariabridge.yaml, or config.yaml.
//
// Environment variables with prefix ARIABRIDGE override config file values,
// e.g. ARIABRIDGE_DAEMON_PORT=6900.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.AddConfigPath("/config")
		v.SetConfigType("yaml")
		v.SetConfigName(".ariabridge")
		v.SetConfigName("ariabridge")
		v.SetConfigName("config")
	}

	// Environment variables
	v.SetEnvPrefix("ARIABRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	// Set defaults
	v.SetDefault("daemon.port", DefaultRPCPort)
	v.SetDefault("daemon.settleDelay", DefaultSettleDelay)
	v.SetDefault("daemon.rpcTimeout", DefaultRPCTimeout)
	v.SetDefault("daemon.shutdownTimeout", DefaultShutdownTimeout)
	v.SetDefault("downloads.path", defaultDownloadsPath())
	v.SetDefault("downloads.subfolder", true)
	v.SetDefault("downloads.relocate", true)
	v.SetDefault("downloads.relocateBackend", DefaultRelocateBackend)
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.rateLimit", DefaultRateLimit)
	v.SetDefault("server.lockDir", os.TempDir())

	if opts.ConfigFile != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// Missing default config files are fine
		_ = v.ReadInConfig()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	setDerivedDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func defaultDownloadsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "Downloads"
	}
	return filepath.Join(home, "Downloads")
}

// setDerivedDefaults applies defaults that depend on other values.
func setDerivedDefaults(cfg *Config) {
	if cfg.Downloads.WorkPath == "" && cfg.Downloads.Path != "" {
		cfg.Downloads.WorkPath = filepath.Join(cfg.Downloads.Path, workDirName)
	}
}

// Valid relocation backends.
//
//nolint:gochecknoglobals // validation lookup table
var validRelocateBackends = map[string]bool{
	"rclone": true,
	"copy":   true,
}

// validate checks that the configuration is valid.
func validate(cfg *Config) error {
	var errs []error

	if cfg.Daemon.Port < 1 || cfg.Daemon.Port > maxPort {
		errs = append(errs, fmt.Errorf("daemon.port: %d is out of range", cfg.Daemon.Port))
	}
	if cfg.Daemon.SettleDelay < 0 {
		errs = append(errs, errors.New("daemon.settleDelay must not be negative"))
	}
	if cfg.Daemon.RPCTimeout < 0 {
		errs = append(errs, errors.New("daemon.rpcTimeout must not be negative"))
	}

	if cfg.Downloads.Path == "" {
		errs = append(errs, errors.New("downloads.path is required"))
	}
	if cfg.Downloads.Relocate && !validRelocateBackends[cfg.Downloads.RelocateBackend] {
		errs = append(errs, fmt.Errorf("downloads.relocateBackend: unknown backend %q", cfg.Downloads.RelocateBackend))
	}

	if cfg.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	} else if _, _, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen: %w", err))
	}
	if cfg.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rateLimit must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// envKeys lists every config key so that environment variables can
// override keys that have no default and are absent from the file.
// Tests verify this list matches the struct fields.
//
//nolint:gochecknoglobals // env var binding field list
var envKeys = []string{
	"daemon.port",
	"daemon.path",
	"daemon.secret",
	"daemon.settleDelay",
	"daemon.rpcTimeout",
	"daemon.shutdownTimeout",
	"downloads.path",
	"downloads.workPath",
	"downloads.subfolder",
	"downloads.relocate",
	"downloads.relocateBackend",
	"server.listen",
	"server.rateLimit",
	"server.lockDir",
}

func bindEnvVars(v *viper.Viper) {
	for _, key := range envKeys {
		v.MustBindEnv(key)
	}
}
