package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vedran77/pulsechat/internal/config"
	"github.com/vedran77/pulsechat/internal/service"
)

var tokenTTL time.Duration

// tokenCmd mints a session credential with the configured secret, for local
// development and smoke tests against a running server.
var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a session token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		token, err := service.NewSessionService(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(userID, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
