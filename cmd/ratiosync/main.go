// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/autobrr/ratiosync/internal/buildinfo"
	"github.com/autobrr/ratiosync/internal/config"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "ratiosync",
		Short: "Keep emulated torrent instances and their grid in sync",
		Long: `ratiosync - drives emulated BitTorrent client instances on a desktop host,
an in-process engine or a multi-client server, and serves a local control API.`,
		SilenceUsage: true,
	}

	rootCmd.Version = buildinfo.Version

	var configDir string
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "config directory or file path (default is OS-specific: ~/.config/ratiosync/)")

	rootCmd.AddCommand(RunServeCommand(&configDir))
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand(&configDir))
	rootCmd.AddCommand(RunInstancesCommand(&configDir))
	rootCmd.AddCommand(RunGridCommand(&configDir))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand(configDir *string) *cobra.Command {
	var (
		dataDir string
		logPath string
		runtime string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the backend, the stores and the local control API",
	}

	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for session files and local storage (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().StringVar(&runtime, "runtime", "", "backend runtime: desktop, server or browser (overrides config)")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(*configDir, dataDir, logPath, runtime)
		app.runServer()
	}

	return command
}

func RunVersionCommand() *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version of ratiosync",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(buildinfo.String())
		},
	}

	return command
}

func RunGenerateConfigCommand(configDir *string) *cobra.Command {
	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/ratiosync/config.toml
- Windows: %APPDATA%\ratiosync\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := resolveConfigFile(*configDir)

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	return command
}

func resolveConfigFile(configDir string) string {
	if configDir == "" {
		return filepath.Join(config.GetDefaultConfigDir(), "config.toml")
	}
	if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
		return configDir
	}
	if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
		return configDir
	}
	return filepath.Join(configDir, "config.toml")
}
