package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/raakeshmj/keyplane/internal/server"
	"github.com/spf13/cobra"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Issue and retire project API keys",
	}
	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	return cmd
}

func newKeyCreateCmd() *cobra.Command {
	var name string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:     "create <project-id>",
		Short:   "Generate a key for a project and print it once",
		Example: `  keyplane key create 3 --name ci --ttl 720h`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid project id %q", args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				var expiresAt *time.Time
				if ttl > 0 {
					t := time.Now().UTC().Add(ttl)
					expiresAt = &t
				}
				res, err := app.Keys.Generate(ctx, projectID, name, expiresAt)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Key %d (%s) created for project %d\n", res.Key.ID, res.Key.KeyPrefix, projectID)
				fmt.Fprintf(out, "API key: %s\n", res.PlainTextKey)
				fmt.Fprintln(out, "Store it now; it cannot be shown again.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "expire the key after this duration (default never)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke a key immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				key, err := app.Keys.Revoke(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Key %d (%s) revoked\n", key.ID, key.KeyPrefix)
				return nil
			})
		},
	}
}
