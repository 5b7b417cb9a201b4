// Package phase implements the scan pipeline's processors: scan, ingest,
// embed, cluster, verify, rank. Each processor satisfies Processor and is
// dispatched by internal/worker against the job it claims from
// internal/queue, mirroring the teacher's agent-per-job-kind shape in
// internal/agent/orchestrator.go generalised from a single sweep loop into
// one Processor per JobType.
package phase

import (
	"context"
	"fmt"

	"github.com/dupescan/dupescan/models"
)

// Enqueue describes the successor job a Processor wants started next.
// A nil Enqueue means the pipeline for this scan stops here, either because
// the phase is terminal (rank) or because the processor already moved the
// scan to failed and there is nothing left to run.
type Enqueue struct {
	Type    models.JobType
	Payload interface{}
}

// Processor implements one pipeline phase's job contract (spec §4.2):
// decode payload, advance scan status, do the phase's work, enqueue a
// successor on success. Retryable failures are returned as err; fatal
// failures are handled internally (scan moved to failed) and Processor
// returns (nil, nil).
type Processor interface {
	Type() models.JobType
	Process(ctx context.Context, job *models.Job) (*Enqueue, error)
}

// Registry dispatches a claimed Job to the Processor registered for its
// Type.
type Registry struct {
	processors map[models.JobType]Processor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[models.JobType]Processor)}
}

// Register adds p under its own Type, overwriting any prior registration
// for that type.
func (r *Registry) Register(p Processor) {
	r.processors[p.Type()] = p
}

// Get returns the Processor registered for jobType.
func (r *Registry) Get(jobType models.JobType) (Processor, error) {
	p, ok := r.processors[jobType]
	if !ok {
		return nil, fmt.Errorf("no processor registered for job type %q", jobType)
	}
	return p, nil
}
