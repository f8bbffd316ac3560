package main

import (
	"github.com/spf13/cobra"
	"github.com/vedran77/pulsechat/internal/config"
	"github.com/vedran77/pulsechat/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		initLogger(cfg)

		pool, err := database.Connect(cmd.Context(), cfg.Postgres)
		if err != nil {
			return err
		}
		defer pool.Close()

		return database.Migrate(cmd.Context(), pool)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
