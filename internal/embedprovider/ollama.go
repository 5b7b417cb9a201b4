package embedprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/ratelimit"
)

// Ollama implements Provider using a local Ollama server's /api/embed
// endpoint. Configure with: embed.provider = "ollama", embed.base_url =
// "http://localhost:11434".
type Ollama struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
	limiter *ratelimit.Limiter
}

// NewOllama creates an Ollama embedding provider from cfg.
func NewOllama(cfg config.EmbedConfig, limiter *ratelimit.Limiter) *Ollama {
	base := cfg.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	return &Ollama{
		baseURL: strings.TrimRight(base, "/"),
		model:   model,
		dims:    ollamaDims(model),
		client:  &http.Client{Timeout: 120 * time.Second},
		limiter: limiter,
	}
}

func (o *Ollama) Name() string     { return "ollama" }
func (o *Ollama) Dimensions() int { return o.dims }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshalling embed request: %w", err)
	}

	var out [][]float32
	err = o.limiter.Call(ctx, func(ctx context.Context) error {
		u, perr := url.Parse(o.baseURL + "/api/embed")
		if perr != nil {
			return fmt.Errorf("invalid Ollama base URL: %w", perr)
		}
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
		if rerr != nil {
			return fmt.Errorf("creating request: %w", rerr)
		}
		req.Header.Set("Content-Type", "application/json")

		// #nosec G704 -- o.baseURL is operator-configured, typically loopback.
		resp, derr := o.client.Do(req)
		if derr != nil {
			return &ratelimit.RetryableError{Err: fmt.Errorf("calling Ollama embed API: %w", derr)}
		}
		defer resp.Body.Close()

		respBody, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return fmt.Errorf("reading response body: %w", rerr)
		}

		if resp.StatusCode != http.StatusOK {
			if ratelimit.IsRetryableStatus(resp.StatusCode) {
				return &ratelimit.RetryableError{Err: fmt.Errorf("Ollama embed API error %d: %s", resp.StatusCode, respBody)}
			}
			return fmt.Errorf("Ollama embed API error %d: %s", resp.StatusCode, respBody)
		}

		var apiResp ollamaEmbedResponse
		if uerr := json.Unmarshal(respBody, &apiResp); uerr != nil {
			return fmt.Errorf("parsing embed response: %w", uerr)
		}
		if len(apiResp.Embeddings) != len(texts) {
			return fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Embeddings))
		}
		out = apiResp.Embeddings
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func ollamaDims(model string) int {
	switch model {
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	default: // nomic-embed-text and unknown models
		return 768
	}
}
