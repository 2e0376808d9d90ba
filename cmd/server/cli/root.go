// Package cli is the keyplane command tree.
package cli

import (
	"fmt"

	"github.com/raakeshmj/keyplane/internal/config"
	"github.com/raakeshmj/keyplane/internal/logger"
	"github.com/raakeshmj/keyplane/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "keyplane",
		Short:         "Multi-tenant API key issuance and request authentication",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables take precedence)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newKeyCmd())

	return cmd
}

// bootstrap loads configuration and wires the application. Callers must
// Close the app and Sync the logger.
func bootstrap() (*server.App, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	app, err := server.NewApp(cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return app, log, nil
}
