package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/stomplink/internal/auth"
	"github.com/nerrad567/stomplink/internal/infrastructure/config"
)

// newRootCmd builds the stomplink command tree.
//
// The root command runs the bridge until the context is cancelled.
// Subcommands:
//   - token: issue a status API token
//   - version: print build information
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "stomplink",
		Short:         "stomplink - STOMP to MQTT bridge",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(),
		"path to config.yaml (env STOMPLINK_CONFIG)")

	root.AddCommand(newTokenCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

// newTokenCmd issues a signed token for the status API.
//
// The secret and default lifetime come from the security section of the
// config, so tokens are only valid against servers sharing that secret.
func newTokenCmd(configPath *string) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a status API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Security.JWT.Secret == "" {
				return errors.New("security.jwt.secret is not set")
			}
			if ttl <= 0 {
				ttl = cfg.GetAccessTokenTTL()
			}

			token, err := auth.GenerateToken(args[0], auth.Role(role), cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "token role: viewer or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stomplink %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
