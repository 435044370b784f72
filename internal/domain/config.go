// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// Config is the unmarshalled application configuration.
type Config struct {
	Version string `toml:"-" mapstructure:"-"`

	Host string `toml:"host" mapstructure:"host"`
	Port int    `toml:"port" mapstructure:"port"`

	Runtime     string `toml:"runtime" mapstructure:"runtime"`
	ServerURL   string `toml:"serverURL" mapstructure:"serverURL"`
	ServerToken string `toml:"serverToken" mapstructure:"serverToken"`
	DataDir     string `toml:"dataDir" mapstructure:"dataDir"`
	WatchDir    string `toml:"watchDir" mapstructure:"watchDir"`

	GridPollInterval    time.Duration `toml:"gridPollInterval" mapstructure:"gridPollInterval"`
	DefaultPollInterval time.Duration `toml:"defaultPollInterval" mapstructure:"defaultPollInterval"`
	EventDebounce       time.Duration `toml:"eventDebounce" mapstructure:"eventDebounce"`
	RestorePollAttempts int           `toml:"restorePollAttempts" mapstructure:"restorePollAttempts"`
	RestorePollInterval time.Duration `toml:"restorePollInterval" mapstructure:"restorePollInterval"`
	RestorationTimeout  time.Duration `toml:"restorationTimeout" mapstructure:"restorationTimeout"`

	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	MetricsEnabled bool `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
}
