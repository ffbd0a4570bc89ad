// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/warden/internal/config"
	"github.com/holomush/warden/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the warden CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warden",
		Short: "Warden - session and credential lifecycle manager",
		Long: `Warden authenticates principals, issues access and refresh tokens,
tracks per-device sessions, and runs password reset.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default $XDG_CONFIG_HOME/warden/config.yaml if present)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(newPrincipalCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newKeygenCmd())

	return cmd
}

// loadConfig reads and validates configuration for commands that run the
// full service.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return config.Load(path, cmd.Flags())
}

// readConfig reads configuration without validating it.
func readConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return config.Read(path, cmd.Flags())
}

func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return xdg.DefaultConfigFile()
}
