package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// MaxSizeBytes parses MaxSize ("10MB", "512KiB").
func (r RotationConfig) MaxSizeBytes() (int64, error) {
	if r.MaxSize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(r.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("invalid logging.rotation.max_size %q: %w", r.MaxSize, err)
	}
	return int64(n), nil
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// DaemonConfig configures the background daemon.
type DaemonConfig struct {
	AutoStart  bool   `mapstructure:"auto_start"`
	BinaryPath string `mapstructure:"binary_path"` // Path to otahubd binary (auto-discovered if empty)
	SocketPath string `mapstructure:"socket_path"`
	PIDPath    string `mapstructure:"pid_path"`
	DBPath     string `mapstructure:"db_path"`
}

// TransferConfig tunes the download loop.
type TransferConfig struct {
	ChunkSize        string        `mapstructure:"chunk_size"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
}

// ChunkBytes parses ChunkSize.
func (t TransferConfig) ChunkBytes() (int, error) {
	n, err := humanize.ParseBytes(t.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("invalid transfer.chunk_size %q: %w", t.ChunkSize, err)
	}
	if n == 0 || n > 64<<20 {
		return 0, fmt.Errorf("transfer.chunk_size %q out of range", t.ChunkSize)
	}
	return int(n), nil
}

// Config represents the application configuration.
type Config struct {
	// Device is the device codename. Empty reads it from BuildProp.
	Device string `mapstructure:"device"`

	ManifestURL string `mapstructure:"manifest_url"`

	// InstalledBuildTime is the epoch seconds of the installed build. Zero
	// reads it from BuildProp.
	InstalledBuildTime int64 `mapstructure:"installed_build_time"`

	BuildProp      string `mapstructure:"build_prop"`
	DownloadDir    string `mapstructure:"download_dir"`
	VerifyChecksum bool   `mapstructure:"verify_checksum"`

	// CheckSchedule is a cron expression for background checks. Empty disables them.
	CheckSchedule string `mapstructure:"check_schedule"`

	Transfer TransferConfig `mapstructure:"transfer"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
}

// NewViper returns a viper instance with defaults, config paths, and the
// OTAHUB_ environment prefix set up, and the config file (if any) read.
// The daemon keeps the instance to watch the file for changes.
//
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/otahub/config.yaml
//   - $HOME/.config/otahub/config.yaml
func NewViper() (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		v.AddConfigPath(filepath.Join(xdgConfigHome, "otahub"))
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	v.AddConfigPath(filepath.Join(homeDir, ".config", "otahub"))

	v.SetEnvPrefix("OTAHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device", "")
	v.SetDefault("manifest_url", DefaultManifestURL)
	v.SetDefault("installed_build_time", 0)
	v.SetDefault("build_prop", DefaultBuildProp)
	v.SetDefault("download_dir", "") // Empty means use DefaultDownloadDir
	v.SetDefault("verify_checksum", true)
	v.SetDefault("check_schedule", "")

	v.SetDefault("transfer.chunk_size", DefaultChunkSize)
	v.SetDefault("transfer.progress_interval", DefaultProgressInterval)
	v.SetDefault("transfer.http_timeout", DefaultHTTPTimeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", DefaultComponentLevels)

	v.SetDefault("daemon.auto_start", true)
	v.SetDefault("daemon.binary_path", "")
	v.SetDefault("daemon.socket_path", "")
	v.SetDefault("daemon.pid_path", "")
	v.SetDefault("daemon.db_path", "")
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	v, err := NewViper()
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// Decode unmarshals v into a Config, fills path defaults, and validates it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	paths := []*string{
		&c.BuildProp,
		&c.DownloadDir,
		&c.Logging.Path,
		&c.Daemon.BinaryPath,
		&c.Daemon.SocketPath,
		&c.Daemon.PIDPath,
		&c.Daemon.DBPath,
	}
	for _, p := range paths {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}

	if c.DownloadDir == "" {
		c.DownloadDir = DefaultDownloadDir()
	}
	if c.Daemon.SocketPath == "" {
		c.Daemon.SocketPath = DefaultSocketPath()
	}
	if c.Daemon.PIDPath == "" {
		c.Daemon.PIDPath = DefaultPIDPath()
	}
	if c.Daemon.DBPath == "" {
		c.Daemon.DBPath = DefaultDBPath()
	}
	return nil
}

// Validate checks values that would otherwise fail late, deep inside the daemon.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ManifestURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid manifest_url %q", c.ManifestURL)
	}
	if _, err := c.Transfer.ChunkBytes(); err != nil {
		return err
	}
	if c.Transfer.ProgressInterval <= 0 {
		return fmt.Errorf("transfer.progress_interval must be positive, got %s", c.Transfer.ProgressInterval)
	}
	if c.Transfer.HTTPTimeout <= 0 {
		return fmt.Errorf("transfer.http_timeout must be positive, got %s", c.Transfer.HTTPTimeout)
	}
	if _, err := c.Logging.Rotation.MaxSizeBytes(); err != nil {
		return err
	}
	if c.InstalledBuildTime < 0 {
		return fmt.Errorf("installed_build_time must not be negative")
	}
	if c.CheckSchedule != "" {
		if _, err := cron.ParseStandard(c.CheckSchedule); err != nil {
			return fmt.Errorf("invalid check_schedule %q: %w", c.CheckSchedule, err)
		}
	}
	return nil
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "otahub"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "otahub"), nil
}

// ConfigFile returns the path of the config file inside ConfigDir.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}

// WriteDefault writes a default config file if none exists.
// Returns nil if a config file already exists.
func WriteDefault() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	configPath, err := ConfigFile()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# otahub configuration

# Device codename (empty reads ro.product.device from build_prop)
device: ""

# Base URL of the update manifests; the device codename is appended
manifest_url: %s

# Installed build time in epoch seconds (0 reads ro.build.date.utc from build_prop)
installed_build_time: 0
build_prop: %s

# Where update packages are downloaded (empty means $XDG_DATA_HOME/otahub/downloads)
download_dir: ""

# Verify the recovery sha256 of a finished download
verify_checksum: true

# Cron expression for background checks by the daemon, e.g. "0 */6 * * *"
check_schedule: ""

transfer:
  chunk_size: %s
  progress_interval: %s
  http_timeout: %s

# Logging configuration
logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means use default: $XDG_STATE_HOME/otahub/otahub.log)
  path: ""
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  components:
    daemon: info
    coordinator: info
    transfer: info
    manifest: info
    scheduler: info

# Daemon configuration
daemon:
  # Automatically start otahubd when running otahub commands
  auto_start: true
  # Unix socket path (empty means use default: $XDG_DATA_HOME/otahub/otahub.sock)
  socket_path: ""
  # PID file path (empty means use default: $XDG_DATA_HOME/otahub/otahub.pid)
  pid_path: ""
`, DefaultManifestURL, DefaultBuildProp, DefaultChunkSize, DefaultProgressInterval, DefaultHTTPTimeout)

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/otahub/ for the database, socket, pid, and downloads.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "otahub")
}

// StateDir returns $XDG_STATE_HOME/otahub/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "otahub")
}

// DefaultSocketPath returns the default Unix socket path.
func DefaultSocketPath() string {
	return filepath.Join(DataDir(), "otahub.sock")
}

// DefaultPIDPath returns the default PID file path.
func DefaultPIDPath() string {
	return filepath.Join(DataDir(), "otahub.pid")
}

// DefaultDBPath returns the default badger directory.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "otahub.db")
}

// DefaultDownloadDir returns the default download directory.
func DefaultDownloadDir() string {
	return filepath.Join(DataDir(), "downloads")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "otahub.log")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}
