package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/control"
	"github.com/dupescan/dupescan/models"
	"github.com/spf13/cobra"
)

var (
	scanWait    bool
	scanPollSec int
)

var scanCmd = &cobra.Command{
	Use:   "scan <owner/name>",
	Short: "Start a duplicate-PR scan for a tracked repository",
	Long: `Enqueues a scan job for the given repository. The scan runs through the
worker pool (ingest, embed, cluster, verify, rank) asynchronously; run
'dupescan worker' separately, or pass --wait to poll until it finishes.

Examples:
  dupescan scan acme/widgets
  dupescan scan acme/widgets --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanWait, "wait", false, "Poll until the scan reaches a terminal state")
	scanCmd.Flags().IntVar(&scanPollSec, "poll-interval", 2, "Seconds between status polls with --wait")
}

func runScan(cmd *cobra.Command, args []string) error {
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

	var repo models.Repo
	if err := s.Get(ctx, &repo, `SELECT id, owner, name, last_scan_at, created_at FROM repos WHERE owner = ? AND name = ?`, owner, name); err != nil {
		return fmt.Errorf("repo %s/%s is not tracked yet; add it with 'dupescan repos add %s/%s': %w", owner, name, owner, name, err)
	}

	ctl := &control.Control{Store: s}
	handle, err := ctl.CreateScan(ctx, repo.ID)
	if err != nil {
		if errors.Is(err, control.ErrActiveScanExists) {
			return fmt.Errorf("%s/%s already has an active scan in progress", owner, name)
		}
		return fmt.Errorf("creating scan: %w", err)
	}

	fmt.Printf("Scan %d queued for %s/%s (job %d)\n", handle.ScanID, owner, name, handle.JobID)
	if !scanWait {
		fmt.Println("Run 'dupescan worker' to process it, or pass --wait to block here.")
		return nil
	}

	return waitForScan(ctx, ctl, handle.ScanID, time.Duration(scanPollSec)*time.Second)
}

func waitForScan(ctx context.Context, ctl *control.Control, scanID int64, interval time.Duration) error {
	fmt.Println("Waiting for scan to finish (press Ctrl+C to stop waiting)...")
	for {
		scan, err := ctl.GetScan(ctx, scanID)
		if err != nil {
			return fmt.Errorf("polling scan: %w", err)
		}
		switch scan.Status {
		case models.ScanStatusDone:
			fmt.Printf("Scan %d done: %d pull request(s), %d duplicate group(s)\n", scanID, scan.PRCount, scan.DupeGroupCount)
			return printDupeGroups(ctx, ctl, scanID)
		case models.ScanStatusFailed:
			return fmt.Errorf("scan %d failed: %s", scanID, scan.Error)
		default:
			fmt.Printf("  [%s] status=%s\n", time.Now().UTC().Format(time.RFC3339), scan.Status)
		}
		time.Sleep(interval)
	}
}

func printDupeGroups(ctx context.Context, ctl *control.Control, scanID int64) error {
	groups, err := ctl.ListDupeGroups(ctx, scanID)
	if err != nil {
		return fmt.Errorf("listing dupe groups: %w", err)
	}
	for _, g := range groups {
		fmt.Printf("\nGroup %d (%s):\n", g.ID, g.Label)
		for _, m := range g.Members {
			fmt.Printf("  rank %d — PR #%d %q (score %.2f)\n", m.Rank, m.PRNumber, m.PRTitle, m.Score)
		}
	}
	return nil
}
