// Package config provides the service configuration of wgkeeper.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/irctrakz/wgkeeper/pkg/fsutil"
	"github.com/irctrakz/wgkeeper/pkg/logging"
	"github.com/irctrakz/wgkeeper/pkg/wireguard"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "WGKEEPER_"

// Monitor backends.
const (
	BackendTool   = "tool"
	BackendWgctrl = "wgctrl"
)

// Config represents the complete service configuration.
type Config struct {
	// Paths holds the directories the service reads and writes.
	Paths PathsConfig `json:"paths" yaml:"paths"`

	// Service is the account files are handed to.
	Service ServiceConfig `json:"service" yaml:"service"`

	// Tools configures the external wg/wg-quick invocations.
	Tools ToolsConfig `json:"tools" yaml:"tools"`

	// Monitor configures the status monitors.
	Monitor MonitorConfig `json:"monitor" yaml:"monitor"`

	// Metrics configures the HTTP endpoint of the monitor command.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// PathsConfig holds the service directories.
type PathsConfig struct {
	ConfigDir string `json:"configDir" yaml:"configDir"`
	BackupDir string `json:"backupDir" yaml:"backupDir"`
	KeyDir    string `json:"keyDir" yaml:"keyDir"`
	StatusDir string `json:"statusDir" yaml:"statusDir"`
}

// ServiceConfig names the owner of written files. Empty names keep the
// process's own ids.
type ServiceConfig struct {
	User  string `json:"user" yaml:"user"`
	Group string `json:"group" yaml:"group"`
}

// ToolsConfig locates the external tools.
type ToolsConfig struct {
	SudoPath    string `json:"sudoPath" yaml:"sudoPath"`
	UseSudo     bool   `json:"useSudo" yaml:"useSudo"`
	WgPath      string `json:"wgPath" yaml:"wgPath"`
	WgQuickPath string `json:"wgQuickPath" yaml:"wgQuickPath"`

	// RestartPauseMs is the pause between down and up on restart. A
	// negative value disables it.
	RestartPauseMs int `json:"restartPauseMs" yaml:"restartPauseMs"`
}

// MonitorConfig configures the status monitors.
type MonitorConfig struct {
	Interfaces         []string `json:"interfaces" yaml:"interfaces"`
	IntervalSeconds    int      `json:"intervalSeconds" yaml:"intervalSeconds"`
	StopTimeoutSeconds int      `json:"stopTimeoutSeconds" yaml:"stopTimeoutSeconds"`
	AdminSubnet        string   `json:"adminSubnet" yaml:"adminSubnet"`
	UserSubnet         string   `json:"userSubnet" yaml:"userSubnet"`

	// Backend selects how live state is read: "tool" runs `wg show dump`,
	// "wgctrl" talks to the device directly.
	Backend string `json:"backend" yaml:"backend"`
}

// MetricsConfig configures the /metrics and /health endpoint. An empty
// listen address disables it.
type MetricsConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			ConfigDir: "/etc/wireguard",
			BackupDir: "/var/backups/wireguard",
			KeyDir:    "/etc/wireguard",
			StatusDir: "/var/lib/wgkeeper/status",
		},
		Tools: ToolsConfig{
			SudoPath:       "/usr/bin/sudo",
			WgPath:         "wg",
			WgQuickPath:    "wg-quick",
			RestartPauseMs: 1000,
		},
		Monitor: MonitorConfig{
			Interfaces:         []string{"wg0"},
			IntervalSeconds:    15,
			StopTimeoutSeconds: 5,
			AdminSubnet:        "10.10.10.0/24",
			UserSubnet:         "10.10.11.0/24",
			Backend:            BackendTool,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9586",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile loads configuration from a .json, .yaml or .yml file over
// the values already in config.
func LoadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}
	return nil
}

// LoadDotEnv loads the given env files, or .env when none are given, into
// the process environment and returns the ones it read. Variables already
// set in the environment win. Missing files are skipped.
func LoadDotEnv(files ...string) ([]string, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return loaded, fmt.Errorf("failed to load %s: %w", file, err)
		}
		loaded = append(loaded, file)
	}
	return loaded, nil
}

// LoadFromEnv overlays WGKEEPER_* environment variables. Unparsable
// numbers are ignored.
func LoadFromEnv(config *Config) {
	// Paths
	envString("CONFIG_DIR", &config.Paths.ConfigDir)
	envString("BACKUP_DIR", &config.Paths.BackupDir)
	envString("KEY_DIR", &config.Paths.KeyDir)
	envString("STATUS_DIR", &config.Paths.StatusDir)

	// Service account
	envString("USER", &config.Service.User)
	envString("GROUP", &config.Service.Group)

	// Tools
	envString("SUDO_PATH", &config.Tools.SudoPath)
	envBool("USE_SUDO", &config.Tools.UseSudo)
	envString("WG_PATH", &config.Tools.WgPath)
	envString("WG_QUICK_PATH", &config.Tools.WgQuickPath)
	envInt("RESTART_PAUSE_MS", &config.Tools.RestartPauseMs)

	// Monitor
	if val := os.Getenv(EnvPrefix + "INTERFACES"); val != "" {
		config.Monitor.Interfaces = splitList(val)
	}
	envInt("MONITOR_INTERVAL", &config.Monitor.IntervalSeconds)
	envInt("MONITOR_STOP_TIMEOUT", &config.Monitor.StopTimeoutSeconds)
	envString("ADMIN_SUBNET", &config.Monitor.AdminSubnet)
	envString("USER_SUBNET", &config.Monitor.UserSubnet)
	envString("MONITOR_BACKEND", &config.Monitor.Backend)

	envString("METRICS_LISTEN", &config.Metrics.Listen)

	// Logging
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FILE", &config.Logging.File)
	envInt("LOG_MAX_SIZE", &config.Logging.MaxSize)
	envInt("LOG_MAX_BACKUPS", &config.Logging.MaxBackups)
	envInt("LOG_MAX_AGE", &config.Logging.MaxAge)
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val == "true" || val == "1"
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Paths
	for name, dir := range map[string]string{
		"config dir": c.Paths.ConfigDir,
		"backup dir": c.Paths.BackupDir,
		"key dir":    c.Paths.KeyDir,
		"status dir": c.Paths.StatusDir,
	} {
		if dir == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
	}

	// Tools
	if c.Tools.WgPath == "" || c.Tools.WgQuickPath == "" {
		return fmt.Errorf("wg and wg-quick paths cannot be empty")
	}
	if c.Tools.UseSudo && c.Tools.SudoPath == "" {
		return fmt.Errorf("sudo path cannot be empty when sudo is enabled")
	}

	// Monitor
	for _, iface := range c.Monitor.Interfaces {
		if !wireguard.ValidInterfaceName(iface) {
			return fmt.Errorf("invalid monitor interface: %q", iface)
		}
	}
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("invalid monitor interval: %d", c.Monitor.IntervalSeconds)
	}
	if c.Monitor.StopTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid monitor stop timeout: %d", c.Monitor.StopTimeoutSeconds)
	}
	for _, subnet := range []string{c.Monitor.AdminSubnet, c.Monitor.UserSubnet} {
		if subnet == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(subnet); err != nil {
			return fmt.Errorf("invalid subnet (must be in CIDR notation, e.g., '10.10.10.0/24'): %w", err)
		}
	}
	switch c.Monitor.Backend {
	case BackendTool, BackendWgctrl:
	default:
		return fmt.Errorf("invalid monitor backend: %q", c.Monitor.Backend)
	}

	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics listen address: %w", err)
		}
	}

	// Logging
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	return nil
}

// Interval returns the monitor poll interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

// StopTimeout returns how long a monitor is given to stop.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Monitor.StopTimeoutSeconds) * time.Second
}

// RestartPause returns the pause between down and up.
func (c *Config) RestartPause() time.Duration {
	if c.Tools.RestartPauseMs < 0 {
		return -1
	}
	return time.Duration(c.Tools.RestartPauseMs) * time.Millisecond
}

// Runner builds the external tool runner.
func (c *Config) Runner() *wireguard.ExecRunner {
	r := wireguard.NewExecRunner(c.Tools.UseSudo)
	r.SudoPath = c.Tools.SudoPath
	r.WgPath = c.Tools.WgPath
	r.WgQuickPath = c.Tools.WgQuickPath
	return r
}

// Ownership resolves the service account.
func (c *Config) Ownership() (*fsutil.Ownership, error) {
	return fsutil.ResolveOwnership(c.Service.User, c.Service.Group)
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	logging.SetLevel(logging.ParseLevel(c.Logging.Level))

	if c.Logging.File != "" {
		dir, file := filepath.Split(c.Logging.File)
		if dir == "" {
			dir = "."
		}
		if err := logging.EnableFileLogging(dir, file, c.Logging.MaxSize, c.Logging.MaxBackups, c.Logging.MaxAge); err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}
	return nil
}

// SaveToFile writes the configuration as JSON or YAML depending on the
// extension of path.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := fsutil.WriteAtomic(path, data, fsutil.ModeWorldPublic, nil); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
