package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/models"
	"github.com/spf13/cobra"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Manage tracked repositories",
	Long:  `Add and list the repositories dupescan tracks for duplicate-PR scanning.`,
}

var repoAddCmd = &cobra.Command{
	Use:   "add <owner/name>",
	Short: "Start tracking a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name, err := splitOwnerRepo(args[0])
		if err != nil {
			return err
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		s, err := newStore(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer s.Close()

		ctx := context.Background()
		if err := s.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		var existing models.Repo
		err = s.Get(ctx, &existing, `SELECT id FROM repos WHERE owner = ? AND name = ?`, owner, name)
		if err == nil {
			fmt.Printf("%s/%s is already tracked (repo id %d)\n", owner, name, existing.ID)
			return nil
		}

		id, err := s.Insert(ctx, "repos", models.Repo{
			Owner:     owner,
			Name:      name,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("adding repo: %w", err)
		}
		fmt.Printf("Tracking %s/%s (repo id %d)\n", owner, name, id)
		return nil
	},
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked repositories",
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

		var repos []models.Repo
		if err := s.Select(context.Background(), &repos,
			`SELECT id, owner, name, last_scan_at, created_at FROM repos ORDER BY owner, name`,
		); err != nil {
			return fmt.Errorf("listing repos: %w", err)
		}
		if len(repos) == 0 {
			fmt.Println("No repositories tracked yet. Add one with: dupescan repos add <owner/name>")
			return nil
		}
		for _, r := range repos {
			last := "never scanned"
			if r.LastScanAt != nil {
				last = r.LastScanAt.Format(time.RFC3339)
			}
			fmt.Printf("  [%d] %s/%s — last scan: %s\n", r.ID, r.Owner, r.Name, last)
		}
		return nil
	},
}

func init() {
	reposCmd.AddCommand(repoAddCmd, repoListCmd)
}

func splitOwnerRepo(ref string) (owner, name string, err error) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected <owner>/<name>, got %q", ref)
	}
	return parts[0], parts[1], nil
}
