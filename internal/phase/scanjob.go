package phase

import (
	"context"
	"fmt"

	"github.com/dupescan/dupescan/internal/store"
	"github.com/dupescan/dupescan/models"
)

// ScanJobPayload is the "scan" job's input: the entry point of a pipeline
// run, per spec §4.7 / §6 "create scan".
type ScanJobPayload struct {
	ScanID int64 `json:"scanId"`
	RepoID int64 `json:"repoId"`
}

// IngestPayload is ingest's input (spec §4.3). AccountID is dropped from
// every phase payload here: account/credential storage is an explicit
// Non-goal (spec.md §1), so provider credentials resolve from the single
// process-wide config instead of a per-scan account reference.
type IngestPayload struct {
	RepoID int64  `json:"repoId"`
	ScanID int64  `json:"scanId"`
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
}

// ScanJob is the Processor for the "scan" job type: it is the pipeline's
// single entry point, fanning out into ingest. It has no orchestrator
// process of its own — it is itself just one more Processor in the
// registry, per spec.md §2 item 6's framing of the scan job as "the
// dependency-order root", and grounded in spirit on the teacher's
// Orchestrator.runSweep fan-out shape.
type ScanJob struct {
	Store store.Store
}

func (j *ScanJob) Type() models.JobType { return models.JobTypeScan }

func (j *ScanJob) Process(ctx context.Context, job *models.Job) (*Enqueue, error) {
	var payload ScanJobPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}

	repo, err := getRepo(ctx, j.Store, payload.RepoID)
	if err != nil {
		if ferr := failScan(ctx, j.Store, payload.ScanID, fmt.Errorf("resolving repo: %w", err)); ferr != nil {
			return nil, ferr
		}
		return nil, nil
	}

	return &Enqueue{
		Type: models.JobTypeIngest,
		Payload: IngestPayload{
			RepoID: payload.RepoID,
			ScanID: payload.ScanID,
			Owner:  repo.Owner,
			Repo:   repo.Name,
		},
	}, nil
}
