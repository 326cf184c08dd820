package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/teemow/calagent/internal/contacts"
)

func newContactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage the names the assistant can invite",
	}
	cmd.AddCommand(newContactsListCmd(), newContactsAddCmd(), newContactsRemoveCmd())
	return cmd
}

// withContacts opens the configured directory for the duration of fn.
func withContacts(ctx context.Context, fn func(*contacts.Directory) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir, err := contacts.Open(ctx, cfg.Contacts.Path)
	if err != nil {
		return fmt.Errorf("failed to open contacts: %w", err)
	}
	defer func() { _ = dir.Close() }()
	return fn(dir)
}

func newContactsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContacts(cmd.Context(), func(dir *contacts.Directory) error {
				all, err := dir.All(cmd.Context())
				if err != nil {
					return err
				}
				names := make([]string, 0, len(all))
				for name := range all {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", name, all[name])
				}
				return nil
			})
		},
	}
}

func newContactsAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "add <name> <email>",
		Short:   "Save or update a contact",
		Example: `  calagent contacts add carol carol@example.com`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContacts(cmd.Context(), func(dir *contacts.Directory) error {
				return dir.Put(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func newContactsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContacts(cmd.Context(), func(dir *contacts.Directory) error {
				return dir.Delete(cmd.Context(), args[0])
			})
		},
	}
}
