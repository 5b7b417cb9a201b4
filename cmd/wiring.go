package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dupescan/dupescan/internal/chatprovider"
	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/embedprovider"
	"github.com/dupescan/dupescan/internal/phase"
	"github.com/dupescan/dupescan/internal/queue"
	"github.com/dupescan/dupescan/internal/ratelimit"
	"github.com/dupescan/dupescan/internal/store"
	"github.com/dupescan/dupescan/internal/store/mysql"
	"github.com/dupescan/dupescan/internal/store/sqlite"
	"github.com/dupescan/dupescan/internal/vectorstore"
	"github.com/dupescan/dupescan/internal/vectorstore/memory"
	"github.com/dupescan/dupescan/internal/vectorstore/qdrant"
)

// newStore builds the configured Store backend. Kept here rather than as a
// store.New factory because the sqlite and mysql subpackages import store
// for the Tx/Querier types, and store importing them back would cycle.
func newStore(cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return sqlite.New(cfg.Path)
	case "mysql":
		return mysql.New(cfg.DSN)
	default:
		return nil, store.ErrUnsupportedDriver{Driver: cfg.Driver}
	}
}

// newVectorStore builds the configured vectorstore.Store backend, for the
// same import-cycle reason as newStore above.
func newVectorStore(cfg config.VectorStoreConfig) (vectorstore.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(), nil
	case "qdrant":
		host, port, useTLS, err := parseQdrantEndpoint(cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		return qdrant.New(host, port, cfg.APIKey, useTLS)
	default:
		return nil, fmt.Errorf("unsupported vector store driver %q (supported: memory, qdrant)", cfg.Driver)
	}
}

func parseQdrantEndpoint(endpoint string) (host string, port int, useTLS bool, err error) {
	if endpoint == "" {
		return "", 0, false, fmt.Errorf("vectorstore.endpoint is required for the qdrant driver")
	}
	raw := endpoint
	if !strings.Contains(raw, "://") {
		raw = "grpc://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("parsing vectorstore.endpoint %q: %w", endpoint, err)
	}
	useTLS = u.Scheme == "https" || u.Scheme == "grpcs"
	host = u.Hostname()
	portStr := u.Port()
	if portStr == "" {
		return "", 0, false, fmt.Errorf("vectorstore.endpoint %q must include a port", endpoint)
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("parsing port in vectorstore.endpoint %q: %w", endpoint, err)
	}
	return host, port, useTLS, nil
}

// newRegistry builds the fully-wired phase.Registry shared by the scan job
// orchestrator and the worker pool, grounded on spec.md §4.6's processor
// list and the teacher's single-binary wiring in cmd/agent.go.
func newRegistry(cfg *config.Config, s store.Store) (*phase.Registry, error) {
	limiter := ratelimit.New(cfg.RateLimit.MaxConcurrent, cfg.RateLimit.MaxRetries,
		time.Duration(cfg.RateLimit.BaseBackoffMs)*time.Millisecond)

	vs, err := newVectorStore(cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("building vector store: %w", err)
	}

	embedP, err := embedprovider.New(cfg.Embed, limiter)
	if err != nil {
		return nil, fmt.Errorf("building embed provider: %w", err)
	}

	var chatP chatprovider.Provider
	if len(cfg.Chat.Fallback) > 0 {
		chatP, err = chatprovider.NewChain(cfg.Chat, cfg.Chat.Fallback, limiter)
	} else {
		chatP, err = chatprovider.New(cfg.Chat, limiter)
	}
	if err != nil {
		return nil, fmt.Errorf("building chat provider: %w", err)
	}

	reg := phase.NewRegistry()
	reg.Register(&phase.ScanJob{Store: s})
	reg.Register(&phase.Ingest{Store: s, Git: cfg.Git, Limiter: limiter})
	reg.Register(&phase.Embed{
		Store:         s,
		VectorStore:   vs,
		EmbedProvider: embedP,
		Chat:          chatP,
		Git:           cfg.Git,
		Cfg:           cfg.Embed,
		VectorCfg:     cfg.VectorStore,
		Limiter:       limiter,
	})
	reg.Register(&phase.Cluster{Store: s, VectorStore: vs, Cfg: cfg.Scan, VectorCfg: cfg.VectorStore})
	reg.Register(&phase.Verify{Store: s, Chat: chatP, Cfg: cfg.Scan})
	reg.Register(&phase.Rank{Store: s, Chat: chatP})
	return reg, nil
}

func newQueue(cfg *config.Config, s store.Store) *queue.Queue {
	return queue.New(s, cfg.Queue)
}
