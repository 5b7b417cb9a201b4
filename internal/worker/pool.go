// Package worker runs the pool of goroutines that claim and dispatch queued
// jobs to their phase.Registry processor, grounded on the teacher's
// Orchestrator.Run goroutine-management shape (sync.WaitGroup-gated
// shutdown) in internal/agent/orchestrator.go, generalised from one sweep
// loop plus two fixed background loops into N identical stateless workers.
package worker

import (
	"context"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/dupescan/dupescan/internal/phase"
	"github.com/dupescan/dupescan/internal/queue"
	"github.com/dupescan/dupescan/models"
)

const (
	minIdleSleep = 250 * time.Millisecond
	maxIdleSleep = time.Second
)

// Pool runs Count worker goroutines, each polling Queue.Claim and
// dispatching claimed jobs to Registry.
type Pool struct {
	Queue    *queue.Queue
	Registry *phase.Registry
	Count    int
}

// Run starts the pool and blocks until ctx is cancelled. Context
// cancellation stops new claims; in-flight jobs finish before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	count := p.Count
	if count < 1 {
		count = 1
	}

	var wg sync.WaitGroup
	wg.Add(count)
	for i := 0; i < count; i++ {
		name := slog.String("worker", workerName(i))
		go func() {
			defer wg.Done()
			p.loop(ctx, name)
		}()
	}
	wg.Wait()
	return nil
}

func (p *Pool) loop(ctx context.Context, name slog.Attr) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.Queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("claiming job failed", name, "error", err)
			sleepIdle(ctx)
			continue
		}
		if job == nil {
			sleepIdle(ctx)
			continue
		}

		p.process(ctx, job, name)
	}
}

func (p *Pool) process(ctx context.Context, job *models.Job, name slog.Attr) {
	processor, err := p.Registry.Get(job.Type)
	if err != nil {
		slog.Error("no processor for job", name, "type", job.Type, "error", err)
		if failErr := p.Queue.Fail(ctx, job, err, false); failErr != nil {
			slog.Error("failing unroutable job", name, "error", failErr)
		}
		return
	}

	next, procErr := processor.Process(ctx, job)
	if procErr != nil {
		slog.Warn("job processing failed, will retry", name, "type", job.Type, "jobId", job.ID, "error", procErr)
		if failErr := p.Queue.Fail(ctx, job, procErr, true); failErr != nil {
			slog.Error("recording job failure", name, "error", failErr)
		}
		return
	}

	if next != nil {
		if _, err := p.Queue.Enqueue(ctx, next.Type, next.Payload); err != nil {
			slog.Error("enqueuing successor job", name, "type", next.Type, "error", err)
			if failErr := p.Queue.Fail(ctx, job, err, true); failErr != nil {
				slog.Error("recording job failure", name, "error", failErr)
			}
			return
		}
	}

	if err := p.Queue.Complete(ctx, job.ID, nil); err != nil {
		slog.Error("completing job", name, "error", err)
	}
}

// sleepIdle waits a jittered 250ms-1s before the next claim attempt, or
// returns early if ctx is cancelled.
func sleepIdle(ctx context.Context) {
	d := minIdleSleep + time.Duration(rand.Int63n(int64(maxIdleSleep-minIdleSleep)))
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func workerName(i int) string {
	return "worker-" + strconv.Itoa(i)
}
