// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/holomush/warden/internal/token"
	"github.com/holomush/warden/internal/xdg"
)

// keygenConfig holds configuration for the keygen command.
type keygenConfig struct {
	method    string
	out       string
	overwrite bool
}

func newKeygenCmd() *cobra.Command {
	cfg := &keygenConfig{}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an asymmetric token signing key",
		Long: `Generate a PKCS#8 private key for RS256 or ES256 access tokens and write
it where token.private_key_file can point at it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKeygen(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.method, "method", "ES256", "signing method (ES256 or RS256)")
	cmd.Flags().StringVar(&cfg.out, "out", "", "output path (default $XDG_CONFIG_HOME/warden/signing.pem)")
	cmd.Flags().BoolVar(&cfg.overwrite, "overwrite", false, "replace an existing key file")

	return cmd
}

func runKeygen(cmd *cobra.Command, cfg *keygenConfig) error {
	path := cfg.out
	if path == "" {
		path = filepath.Join(xdg.ConfigDir(), "signing.pem")
	}

	key, err := token.GenerateKey(cfg.method)
	if err != nil {
		return err
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := token.SavePrivateKey(path, key, cfg.overwrite); err != nil {
		return err
	}

	cmd.Printf("wrote %s key to %s\n", cfg.method, path)
	cmd.Printf("set token.signing_method: %s and token.private_key_file: %s\n", cfg.method, path)
	return nil
}
