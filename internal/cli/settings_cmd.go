package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/soyeahso/supportchat/internal/config"
	"github.com/soyeahso/supportchat/internal/domain"
	"github.com/soyeahso/supportchat/internal/settings"
	"github.com/spf13/cobra"
)

// withSettings opens the configured stores, seeds the config file's settings
// block, and runs fn against the settings store.
func withSettings(ctx context.Context, fn func(*settings.Store) error) error {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return err
	}
	b, err := openBackends(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer b.Close()

	s := settings.New(b.Settings, log)
	if err := s.Seed(ctx, cfg.Settings); err != nil {
		return fmt.Errorf("seeding settings: %w", err)
	}
	return fn(s)
}

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change runtime settings",
	}

	cmd.AddCommand(newSettingsGetCmd())
	cmd.AddCommand(newSettingsSetCmd())
	return cmd
}

func newSettingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print one setting or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSettings(cmd.Context(), func(s *settings.Store) error {
				all, err := s.GetAll(cmd.Context())
				if err != nil {
					return err
				}
				all = settings.Redacted(all)

				if len(args) == 1 {
					v, ok := all[args[0]]
					if !ok {
						return fmt.Errorf("setting %q is not set", args[0])
					}
					fmt.Fprintln(cmd.OutOrStdout(), v)
					return nil
				}

				for _, k := range sortedKeys(all) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", k, all[k])
				}
				return nil
			})
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := parseValue(args[1])
			return withSettings(cmd.Context(), func(s *settings.Store) error {
				if err := s.Set(cmd.Context(), operator, map[string]any{args[0]: value}); err != nil {
					return err
				}
				shown := settings.Redacted(domain.Settings{args[0]: value})
				fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", args[0], shown[args[0]])
				return nil
			})
		},
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
