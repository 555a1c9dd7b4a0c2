package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/soyeahso/supportchat/internal/config"
	"github.com/soyeahso/supportchat/internal/directory"
	"github.com/soyeahso/supportchat/internal/domain"
	"github.com/spf13/cobra"
)

// operator is the principal for roster and settings edits made from the shell.
var operator = domain.Principal{Subject: "cli", Admin: true}

// withDirectory opens the configured stores and runs fn against the roster.
func withDirectory(ctx context.Context, fn func(*directory.Directory) error) error {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return err
	}
	b, err := openBackends(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(directory.New(b.Agents, nil, log))
}

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"agent"},
		Short:   "Manage support personas",
	}

	cmd.AddCommand(newAgentsListCmd())
	cmd.AddCommand(newAgentsAddCmd())
	cmd.AddCommand(newAgentsRemoveCmd())
	return cmd
}

func newAgentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd.Context(), func(d *directory.Directory) error {
				agents, err := d.List(cmd.Context())
				if err != nil {
					return err
				}
				printAgents(cmd.OutOrStdout(), agents)
				return nil
			})
		},
	}
}

func printAgents(w io.Writer, agents []domain.Agent) {
	if len(agents) == 0 {
		fmt.Fprintln(w, "  (no agents, replies use the generic support persona)")
		return
	}
	for _, a := range agents {
		state := "active"
		if !a.Active {
			state = "inactive"
		}
		fmt.Fprintf(w, "  %-36s %-16s %-24s %s\n", a.ID, a.Name, a.Role, state)
	}
}

func newAgentsAddCmd() *cobra.Command {
	var (
		a        domain.Agent
		inactive bool
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create or replace a persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.Name = args[0]
			a.Active = !inactive
			return withDirectory(cmd.Context(), func(d *directory.Directory) error {
				saved, err := d.Upsert(cmd.Context(), operator, a)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved agent %s (%s)\n", saved.Name, saved.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&a.ID, "id", "", "agent ID to replace (default: new UUID)")
	cmd.Flags().StringVar(&a.Role, "role", "", "job title shown to visitors")
	cmd.Flags().StringVar(&a.Avatar, "avatar", "", "avatar image URL")
	cmd.Flags().StringVar(&a.Personality, "personality", "", "tone guidance for replies")
	cmd.Flags().IntVar(&a.SortOrder, "sort", 0, "sort order in listings")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "exclude from random assignment")

	return cmd
}

func newAgentsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a persona",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd.Context(), func(d *directory.Directory) error {
				if err := d.Delete(cmd.Context(), operator, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed agent %s\n", args[0])
				return nil
			})
		},
	}
}
