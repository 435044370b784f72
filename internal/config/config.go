// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/ratiosync/internal/domain"
)

var envPrefix = "RATIOSYNC__"

const (
	RuntimeDesktop = "desktop"
	RuntimeServer  = "server"
	RuntimeBrowser = "browser"
)

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	if err := validateRuntime(c.Config.Runtime); err != nil {
		return nil, err
	}

	c.resolveDataDir()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 7480)
	c.viper.SetDefault("runtime", RuntimeDesktop)
	c.viper.SetDefault("serverURL", "http://localhost:8080")
	c.viper.SetDefault("serverToken", "")
	c.viper.SetDefault("dataDir", "") // Empty means auto-detect (next to config file)
	c.viper.SetDefault("watchDir", "")
	c.viper.SetDefault("gridPollInterval", 3*time.Second)
	c.viper.SetDefault("defaultPollInterval", time.Second)
	c.viper.SetDefault("eventDebounce", 200*time.Millisecond)
	c.viper.SetDefault("restorePollAttempts", 5)
	c.viper.SetDefault("restorePollInterval", 300*time.Millisecond)
	c.viper.SetDefault("restorationTimeout", 10*time.Second)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("metricsEnabled", false)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			// viper reports a missing explicit file as a plain fs error
			if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		c.viper.SetConfigName("config")
		c.viper.AddConfigPath(".")
		c.viper.AddConfigPath(GetDefaultConfigDir())

		if err := c.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
				if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
					return err
				}
				c.viper.SetConfigFile(defaultConfigPath)
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				c.dataDir = filepath.Dir(defaultConfigPath)
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	return nil
}

func (c *AppConfig) loadFromEnv() {
	// DO NOT use AutomaticEnv() - explicitly bind only the variables we want
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("runtime", envPrefix+"RUNTIME")
	c.viper.BindEnv("serverURL", envPrefix+"SERVER_URL")
	c.bindOrReadFromFile("serverToken", envPrefix+"SERVER_TOKEN")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("watchDir", envPrefix+"WATCH_DIR")
	c.viper.BindEnv("gridPollInterval", envPrefix+"GRID_POLL_INTERVAL")
	c.viper.BindEnv("defaultPollInterval", envPrefix+"DEFAULT_POLL_INTERVAL")
	c.viper.BindEnv("eventDebounce", envPrefix+"EVENT_DEBOUNCE")
	c.viper.BindEnv("restorePollAttempts", envPrefix+"RESTORE_POLL_ATTEMPTS")
	c.viper.BindEnv("restorePollInterval", envPrefix+"RESTORE_POLL_INTERVAL")
	c.viper.BindEnv("restorationTimeout", envPrefix+"RESTORATION_TIMEOUT")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.Config.Version = c.version
	c.ApplyLogConfig()
	c.notifyListeners()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := *c.Config
	for _, listener := range listeners {
		listener(&copied)
	}
}

const configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP of the local control API
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port of the local control API
# Default: 7480
port = {{ .port }}

# Backend runtime
# Options: "desktop", "server", "browser"
# Default: "desktop"
runtime = "{{ .runtime }}"

# Multi-client server URL (runtime = "server")
#serverURL = "{{ .serverURL }}"

# Bearer token for the multi-client server
# Optional
#serverToken = ""

# Data directory (default: next to config file)
# Session files, preset and local storage database live here
#dataDir = "/var/lib/ratiosync"

# Folder whose .torrent files become watch-folder instances
# Only used by the desktop runtime
# Optional
#watchDir = "/home/user/torrents/watch"

# Grid view summary poll interval
# Default: "{{ .gridPollInterval }}"
#gridPollInterval = "{{ .gridPollInterval }}"

# Poll interval outside the grid view
# Default: "{{ .defaultPollInterval }}"
#defaultPollInterval = "{{ .defaultPollInterval }}"

# Trailing debounce applied to backend instance events
# Default: "{{ .eventDebounce }}"
#eventDebounce = "{{ .eventDebounce }}"

# Desktop restoration polling
#restorePollAttempts = {{ .restorePollAttempts }}
#restorePollInterval = "{{ .restorePollInterval }}"
#restorationTimeout = "{{ .restorationTimeout }}"

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/ratiosync.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Prometheus metrics on /metrics of the control API
# Default: false
#metricsEnabled = false
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	data := map[string]any{
		"host":                c.viper.GetString("host"),
		"port":                c.viper.GetInt("port"),
		"runtime":             c.viper.GetString("runtime"),
		"serverURL":           c.viper.GetString("serverURL"),
		"gridPollInterval":    c.viper.GetDuration("gridPollInterval"),
		"defaultPollInterval": c.viper.GetDuration("defaultPollInterval"),
		"eventDebounce":       c.viper.GetDuration("eventDebounce"),
		"restorePollAttempts": c.viper.GetInt("restorePollAttempts"),
		"restorePollInterval": c.viper.GetDuration("restorePollInterval"),
		"restorationTimeout":  c.viper.GetDuration("restorationTimeout"),
		"logLevel":            c.viper.GetString("logLevel"),
		"logMaxSize":          c.viper.GetInt("logMaxSize"),
		"logMaxBackups":       c.viper.GetInt("logMaxBackups"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "ratiosync")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "ratiosync")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "ratiosync")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "ratiosync")
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	return os.Getpid() == 1
}

func validateRuntime(mode string) error {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case RuntimeDesktop, RuntimeServer, RuntimeBrowser:
		return nil
	default:
		return fmt.Errorf("invalid runtime %q: expected one of desktop, server, browser", mode)
	}
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := c.baseLogWriter()

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		writer.FormatMessage = func(i any) string {
			if i == nil {
				return ""
			}
			return strings.TrimSpace(fmt.Sprint(i))
		}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// DefaultLogWriter returns the base log writer for the provided version.
func DefaultLogWriter(version string) io.Writer {
	return baseLogWriter(version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(DefaultLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.dataDir != "":
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDataDir returns the resolved data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// LocalStoragePath is the sqlite file backing browser-style local storage.
func (c *AppConfig) LocalStoragePath() string {
	return filepath.Join(c.dataDir, "localstorage.db")
}

// DesktopConfigPath is the desktop host's config document.
func (c *AppConfig) DesktopConfigPath() string {
	return filepath.Join(c.dataDir, "desktop.toml")
}

// DesktopStatePath is the desktop host's engine state file.
func (c *AppConfig) DesktopStatePath() string {
	return filepath.Join(c.dataDir, "state.json")
}

// PresetPath is the default preset document.
func (c *AppConfig) PresetPath() string {
	return filepath.Join(c.dataDir, "preset.yaml")
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}

// Sets viper variable if environment variable with _FILE suffix is present
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	if filePath := os.Getenv(envVar + "_FILE"); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVar + "_FILE")
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
	} else {
		c.viper.BindEnv(viperVar, envVar)
	}
}
