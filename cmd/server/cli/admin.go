package cli

import (
	"context"
	"fmt"

	"github.com/raakeshmj/keyplane/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage the admin account",
	}
	cmd.AddCommand(newAdminSignupCmd())
	cmd.AddCommand(newAdminResetInitCmd())
	cmd.AddCommand(newAdminResetCompleteCmd())
	return cmd
}

func newAdminSignupCmd() *cobra.Command {
	var email, password, name string

	cmd := &cobra.Command{
		Use:     "signup",
		Short:   "Create the admin account (only one may exist)",
		Example: `  keyplane admin signup --email admin@example.com --password 's3cret-pass' --name Ops`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				u, err := app.Users.Signup(ctx, email, password, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Admin %s created (id %d)\n", u.Email, u.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "admin password (required)")
	cmd.Flags().StringVar(&name, "name", "Admin", "admin display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newAdminResetInitCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "reset-init",
		Short: "Issue a one-hour password reset token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				token, err := app.Users.InitiatePasswordReset(ctx, email)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset token (valid for 1 hour): %s\n", token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email address (required)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newAdminResetCompleteCmd() *cobra.Command {
	var email, token, password string

	cmd := &cobra.Command{
		Use:   "reset-complete",
		Short: "Set a new password using a reset token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, app *server.App) error {
				if err := app.Users.ResetPassword(ctx, email, token, password); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Password updated")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email address (required)")
	cmd.Flags().StringVar(&token, "token", "", "reset token from reset-init (required)")
	cmd.Flags().StringVar(&password, "password", "", "new password (required)")
	for _, f := range []string{"email", "token", "password"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// withApp runs fn against a freshly wired app and tears it down afterwards.
func withApp(ctx context.Context, fn func(context.Context, *server.App) error) error {
	app, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	runErr := fn(ctx, app)
	if err := app.Close(); err != nil {
		log.Warn("cleanup failed", zap.Error(err))
	}
	return runErr
}
