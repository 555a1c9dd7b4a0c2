package cli

import (
	"fmt"
	"strings"

	"github.com/soyeahso/supportchat/internal/config"
	"github.com/soyeahso/supportchat/internal/gateway"
	"github.com/soyeahso/supportchat/internal/llm"
	"github.com/soyeahso/supportchat/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supportchat status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			b := version.Current()
			fmt.Fprintf(out, "supportchat %s (commit %s)\n\n", b.Version, b.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			auth := gateway.ResolveAuth(cfg.Server.Auth)
			fmt.Fprintf(out, "Server:  listen=%s auth=%s tls=%v\n",
				gateway.ResolveBindAddr(cfg.Server), auth.Mode, cfg.Server.TLS.Enabled)
			if len(cfg.Server.AllowedOrigins) > 0 {
				fmt.Fprintf(out, "Origins: %s\n", strings.Join(cfg.Server.AllowedOrigins, ", "))
			}

			storage := cfg.Storage.Driver
			if storage == "sqlite" {
				storage += " " + paths.DatabasePath(cfg.Storage)
			}
			fmt.Fprintf(out, "Storage: %s\n", storage)
			if cfg.Storage.Conversations == "redis" {
				fmt.Fprintf(out, "Redis:   conversations prefix=%s ttl=%dh\n",
					cfg.Storage.Redis.KeyPrefix, cfg.Storage.Redis.TTLHours)
			}
			fmt.Fprintf(out, "Session: history=%d\n", cfg.Session.HistoryLimit)

			registry := llm.NewRegistryFromConfig(cfg.Completion, log)
			providers := registry.List()
			if len(providers) > 0 {
				fmt.Fprintf(out, "LLM:     %s model=%s\n", strings.Join(providers, ", "), cfg.Completion.Model)
			} else {
				fmt.Fprintln(out, "LLM:     (none configured)")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
