// Command sessionctl administers the sessions stored by a session storage
// backend. It can purge expired sessions, revoke sessions and list a user's
// sessions.
package main

import (
	"context"
	"os"

	"github.com/jjeffery/surrealsessions/internal/config"
	"github.com/jjeffery/surrealsessions/internal/log"
	"github.com/jjeffery/surrealsessions/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var version = "dev" // set by the linker

func main() {
	if err := newRootCmd(openBackend).Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}

// app holds the state shared by the sessionctl commands.
type app struct {
	configFile string
	open       openFunc

	config  config.Config
	backend *backend
	manager *session.Manager[attributes, attributes]
	logger  zerolog.Logger
}

func newRootCmd(open openFunc) *cobra.Command {
	a := &app{open: open}
	cmd := &cobra.Command{
		Use:   "sessionctl",
		Short: "Administer stored sessions",
		Long: `sessionctl administers the sessions kept in SurrealDB, PostgreSQL
or DynamoDB. Configuration is read from sessionctl.yaml, from environment
variables prefixed with SESSIONCTL_, and from command line flags.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.connect,
		PersistentPostRunE: a.disconnect,
	}
	cmd.Version = version

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default is sessionctl.yaml in the config directories)")
	cmd.PersistentFlags().String("backend", "", `storage backend ("surrealdb", "postgres" or "dynamodb")`)
	cmd.PersistentFlags().String("log-level", "", `log level ("debug", "info", "warn", "error")`)

	cmd.AddCommand(
		a.purgeCmd(),
		a.revokeCmd(),
		a.revokeUserCmd(),
		a.listCmd(),
		a.showCmd(),
		a.setupCmd(),
		a.configCmd(),
	)
	return cmd
}

// loadConfig reads the configuration and configures logging.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd, a.configFile)
	if err != nil {
		return err
	}
	a.config = cfg
	log.Configure(log.Config{
		Level:   cfg.Log.Level,
		Output:  cmd.ErrOrStderr(),
		Service: "sessionctl",
	})
	a.logger = log.WithComponent("sessionctl")
	return nil
}

// connect loads and validates the configuration, then opens the backend.
func (a *app) connect(cmd *cobra.Command, args []string) error {
	if err := a.loadConfig(cmd); err != nil {
		return err
	}
	if err := a.config.Validate(); err != nil {
		return err
	}
	b, err := a.open(cmd.Context(), a.config)
	if err != nil {
		return err
	}
	a.backend = b
	logger := log.WithComponent("session")
	a.manager = session.New[attributes, attributes](b.adapter, session.Options{
		Logger: &logger,
	})
	a.logger.Debug().Str("backend", a.config.Backend).Msg("connected")
	return nil
}

func (a *app) disconnect(cmd *cobra.Command, args []string) error {
	if a.backend == nil || a.backend.close == nil {
		return nil
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return a.backend.close(ctx)
}
