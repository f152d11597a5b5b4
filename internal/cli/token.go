package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/config"
)

// NewTokenCmd prints a bearer token for a directory user. It is meant for
// local development and smoke tests.
func NewTokenCmd(configPath *string) *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			in := &infra{}
			if err := in.openDirectory(cmd.Context(), cfg); err != nil {
				return err
			}
			defer in.close()

			user, err := in.directory.User(cmd.Context(), userID)
			if err != nil {
				return err
			}
			tokens := auth.NewTokens(cfg.Auth.Secret, config.TTLDuration(cfg.Auth.TokenTTL, 12*time.Hour))
			raw, err := tokens.Issue(user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id to issue the token for")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
