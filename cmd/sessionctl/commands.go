package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/jjeffery/errors"
	"github.com/jjeffery/surrealsessions/internal/config"
	"github.com/spf13/cobra"
)

func (a *app) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete all expired sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.manager.DeleteExpiredSessions(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info().Msg("expired sessions deleted")
			return nil
		},
	}
}

func (a *app) revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <session-id>...",
		Short: "Delete sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, sessionID := range args {
				if err := a.manager.InvalidateSession(cmd.Context(), sessionID); err != nil {
					return err
				}
				a.logger.Info().Str("session", sessionID).Msg("session revoked")
			}
			return nil
		},
	}
}

func (a *app) revokeUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-user <user-id>...",
		Short: "Delete all sessions belonging to users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, userID := range args {
				if err := a.manager.InvalidateUserSessions(cmd.Context(), userID); err != nil {
					return err
				}
				a.logger.Info().Str("user", userID).Msg("user sessions revoked")
			}
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <user-id>",
		Short: "List a user's current sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := a.manager.GetUserSessions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tEXPIRES AT")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\n", s.ID, s.ExpiresAt.UTC().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

// sessionView is the output of the show command.
type sessionView struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Expired    bool           `json:"expired"`
	Attributes map[string]any `json:"attributes"`
	User       *userView      `json:"user"`
}

type userView struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its user, including expired sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, user, err := a.backend.adapter.GetSessionAndUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if s == nil {
				return errors.New("session not found").With("session", args[0])
			}
			view := sessionView{
				ID:         s.ID,
				UserID:     s.UserID,
				ExpiresAt:  s.ExpiresAt.UTC(),
				Expired:    s.Expired(time.Now()),
				Attributes: s.Attributes,
			}
			if user != nil {
				view.User = &userView{ID: user.ID, Attributes: user.Attributes}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		},
	}
}

func (a *app) setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the session and user tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.backend.setup == nil {
				a.logger.Info().Str("backend", a.config.Backend).Msg("backend needs no setup")
				return nil
			}
			if err := a.backend.setup(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info().Str("backend", a.config.Backend).Msg("tables created")
			return nil
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the sessionctl configuration",
		// no backend connection needed
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [file]",
		Short: "Write the current configuration to a file (default sessionctl.yaml)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "sessionctl.yaml"
			if len(args) > 0 {
				path = args[0]
			}
			if err := config.WriteFile(&a.config, path); err != nil {
				return err
			}
			abs, _ := filepath.Abs(path)
			fmt.Fprintln(cmd.OutOrStdout(), abs)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.config.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	})
	return cmd
}
