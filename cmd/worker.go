package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/worker"
	"github.com/spf13/cobra"
)

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job-queue worker pool",
	Long: `Starts a pool of workers that claim queued jobs and run them through the
scan pipeline (ingest, embed, cluster, verify, rank). Runs until interrupted.

Examples:
  dupescan worker
  dupescan worker --count 5`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerCount, "count", 0, "Number of worker goroutines (overrides config)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\nShutting down worker pool gracefully...")
		cancel()
	}()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	count := cfg.Worker.Count
	if workerCount > 0 {
		count = workerCount
	}

	s, err := newStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	reg, err := newRegistry(cfg, s)
	if err != nil {
		return fmt.Errorf("wiring phase registry: %w", err)
	}

	slog.Info("starting worker pool", "count", count, "database", s.Driver())
	fmt.Printf("dupescan worker starting (%d worker(s), press Ctrl+C to stop)\n", count)

	pool := &worker.Pool{Queue: newQueue(cfg, s), Registry: reg, Count: count}
	if err := pool.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker pool error: %w", err)
	}

	fmt.Println("Worker pool stopped.")
	return nil
}
