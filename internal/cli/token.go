package cli

import (
	"fmt"
	"time"

	"github.com/soyeahso/supportchat/internal/config"
	"github.com/soyeahso/supportchat/internal/gateway"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin JWT signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			auth := gateway.ResolveAuth(cfg.Server.Auth)
			if auth.JWTSecret == "" {
				return fmt.Errorf("no JWT secret configured (server.auth.jwtSecret or SUPPORTCHAT_JWT_SECRET)")
			}

			token, err := gateway.IssueToken(auth.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "admin", "subject claim recorded in audit logs")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
