package cmd

import (
	"context"
	"fmt"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		s, err := newStore(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer s.Close()

		if err := s.Migrate(context.Background()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		fmt.Println("Migrations applied.")
		return nil
	},
}
