package phase

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dupescan/dupescan/internal/chatprovider"
	"github.com/dupescan/dupescan/internal/embedprovider"
	"github.com/dupescan/dupescan/internal/hostclient"
	"github.com/dupescan/dupescan/internal/store"
	"github.com/dupescan/dupescan/internal/store/sqlite"
	"github.com/dupescan/dupescan/models"
)

// newTestStore returns a migrated sqlite-backed store.Store for a single test.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "phase-test.db")
	db, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("new sqlite db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func insertRepo(t *testing.T, s store.Store, owner, name string) int64 {
	t.Helper()
	id, err := s.Insert(context.Background(), "repos", models.Repo{
		Owner: owner, Name: name, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert repo: %v", err)
	}
	return id
}

func insertScan(t *testing.T, s store.Store, repoID int64) int64 {
	t.Helper()
	id, err := s.Insert(context.Background(), "scans", models.Scan{
		RepoID: repoID, Status: models.ScanStatusQueued, PhaseCursor: "{}", StartedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert scan: %v", err)
	}
	return id
}

func insertPR(t *testing.T, s store.Store, repoID int64, number int, title, diffHash, filePaths string) int64 {
	t.Helper()
	id, err := s.Insert(context.Background(), "pull_requests", models.PullRequest{
		RepoID: repoID, Number: number, Title: title, State: models.PRStateOpen,
		DiffHash: diffHash, FilePaths: filePaths,
		UpdatedAt: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert pr: %v", err)
	}
	return id
}

func loadScan(t *testing.T, s store.Store, scanID int64) models.Scan {
	t.Helper()
	scan, err := getScan(context.Background(), s, scanID)
	if err != nil {
		t.Fatalf("load scan: %v", err)
	}
	return *scan
}

// fakeHostClient is a scripted hostclient.Client for tests that never touch
// the network.
type fakeHostClient struct {
	files map[int][]string
	diffs map[int]string
}

func (f *fakeHostClient) Name() string { return "fake" }

func (f *fakeHostClient) ListOpenPullRequests(ctx context.Context, owner, repo, ifNoneMatch string) ([]hostclient.PullRequestRef, error) {
	return nil, nil
}

func (f *fakeHostClient) ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]string, error) {
	return f.files[number], nil
}

func (f *fakeHostClient) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	return f.diffs[number], nil
}

// fakeChat returns a fixed response to every Chat call, or cycles through
// responses in order when more than one is given.
type fakeChat struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeChat) Name() string                                    { return "fake" }
func (f *fakeChat) IsAvailable(ctx context.Context) bool             { return true }
func (f *fakeChat) Chat(ctx context.Context, msgs []chatprovider.Message) (*chatprovider.ChatResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return &chatprovider.ChatResult{Response: f.responses[i]}, nil
}

// fakeEmbed returns a deterministic one-hot-ish vector per text so the
// caller can assert on vector count without needing a real model.
type fakeEmbed struct {
	dims int
}

func (f *fakeEmbed) Name() string { return "fake" }
func (f *fakeEmbed) Dimensions() int { return f.dims }
func (f *fakeEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dims)
		v[i%f.dims] = 1
		vectors[i] = v
	}
	return vectors, nil
}

var _ embedprovider.Provider = (*fakeEmbed)(nil)
var _ chatprovider.Provider = (*fakeChat)(nil)
var _ hostclient.Client = (*fakeHostClient)(nil)
