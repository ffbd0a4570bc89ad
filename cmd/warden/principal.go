// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/warden/internal/auth"
	"github.com/holomush/warden/internal/logging"
)

// principalConfig holds flags for the principal command group.
type principalConfig struct {
	email         string
	password      string
	passwordStdin bool
	roles         []string
	permissions   []string
	inactive      bool
}

func newPrincipalCmd() *cobra.Command {
	cfg := &principalConfig{}

	cmd := &cobra.Command{
		Use:   "principal",
		Short: "Administer principals",
	}

	create := &cobra.Command{
		Use:   "create USERNAME",
		Short: "Register a principal",
		Args:  cobra.ExactArgs(1),
		RunE: withService(func(ctx context.Context, cmd *cobra.Command, svc *auth.Service, args []string) error {
			password, err := cfg.readPassword(cmd)
			if err != nil {
				return err
			}
			p, err := svc.Register(ctx, auth.Registration{
				Username: args[0],
				Email:    cfg.email,
				Password: password,
				Roles:    cfg.roles,
			})
			if err != nil {
				return err
			}
			cmd.Printf("created principal %s (%s)\n", p.Username, p.ID)
			return nil
		}),
	}
	create.Flags().StringVar(&cfg.email, "email", "", "email address")
	create.Flags().StringVar(&cfg.password, "password", "", "initial password")
	create.Flags().BoolVar(&cfg.passwordStdin, "password-stdin", false, "read the password from stdin")
	create.Flags().StringSliceVar(&cfg.roles, "roles", []string{"user"}, "roles to assign")
	cmd.AddCommand(create)

	roles := &cobra.Command{
		Use:   "roles USERNAME ROLE...",
		Short: "Replace a principal's roles",
		Args:  cobra.MinimumNArgs(2),
		RunE: withService(func(ctx context.Context, cmd *cobra.Command, svc *auth.Service, args []string) error {
			p, err := svc.GetPrincipalByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			if err := svc.UpdateRoles(ctx, p.ID, args[1:]); err != nil {
				return err
			}
			if cmd.Flags().Changed("permissions") {
				if err := svc.UpdatePermissions(ctx, p.ID, cfg.permissions); err != nil {
					return err
				}
			}
			cmd.Printf("updated roles of %s: %s\n", p.Username, strings.Join(args[1:], ", "))
			return nil
		}),
	}
	roles.Flags().StringSliceVar(&cfg.permissions, "permissions", nil, "direct permissions to grant alongside the roles")
	cmd.AddCommand(roles)

	activate := &cobra.Command{
		Use:   "activate USERNAME",
		Short: "Enable a principal, or disable it with --inactive",
		Args:  cobra.ExactArgs(1),
		RunE: withService(func(ctx context.Context, cmd *cobra.Command, svc *auth.Service, args []string) error {
			p, err := svc.GetPrincipalByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			if err := svc.SetActive(ctx, p.ID, !cfg.inactive); err != nil {
				return err
			}
			state := "active"
			if cfg.inactive {
				state = "inactive"
			}
			cmd.Printf("%s is now %s\n", p.Username, state)
			return nil
		}),
	}
	activate.Flags().BoolVar(&cfg.inactive, "inactive", false, "deactivate and end every session")
	cmd.AddCommand(activate)

	cmd.AddCommand(&cobra.Command{
		Use:   "verify-email USERNAME",
		Short: "Mark a principal's email address as verified",
		Args:  cobra.ExactArgs(1),
		RunE: withService(func(ctx context.Context, cmd *cobra.Command, svc *auth.Service, args []string) error {
			p, err := svc.GetPrincipalByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			if err := svc.VerifyEmail(ctx, p.ID); err != nil {
				return err
			}
			cmd.Printf("verified email of %s\n", p.Username)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sessions USERNAME",
		Short: "List a principal's active sessions",
		Args:  cobra.ExactArgs(1),
		RunE: withService(func(ctx context.Context, cmd *cobra.Command, svc *auth.Service, args []string) error {
			p, err := svc.GetPrincipalByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			sessions, err := svc.ListSessions(ctx, p.ID)
			if err != nil {
				return err
			}
			for _, s := range sessions {
				cmd.Printf("%s  device=%q  address=%s  expires=%s\n",
					s.ID, s.Device.DeviceID, s.Device.Address, s.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		}),
	})

	return cmd
}

func (cfg *principalConfig) readPassword(cmd *cobra.Command) (string, error) {
	if !cfg.passwordStdin {
		if cfg.password == "" {
			return "", oops.Code("INVALID_ARGUMENT").Errorf("--password or --password-stdin is required")
		}
		return cfg.password, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", oops.Code("INVALID_ARGUMENT").With("operation", "read password").Wrap(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// withService wires the full service for an administrative command.
// Admin changes must outlive the process, so a database is required.
func withService(fn func(ctx context.Context, cmd *cobra.Command, svc *auth.Service, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return oops.Code("CONFIG_INVALID").With("field", "database_url").Errorf("database_url is required")
		}

		logger := logging.SetupLevel("warden", version, cfg.LogFormat, slog.LevelWarn, cmd.ErrOrStderr())
		ctx := cmd.Context()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(ctx, cmd, a.service, args)
	}
}
