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

const defaultOpenAIEmbedBase = "https://api.openai.com/v1"

// OpenAI implements Provider using OpenAI's /embeddings REST endpoint.
type OpenAI struct {
	apiKey  string
	model   string
	baseURL string
	dims    int
	client  *http.Client
	limiter *ratelimit.Limiter
}

// NewOpenAI creates an OpenAI embedding provider from cfg.
func NewOpenAI(cfg config.EmbedConfig, limiter *ratelimit.Limiter) *OpenAI {
	base := cfg.BaseURL
	if base == "" {
		base = defaultOpenAIEmbedBase
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: strings.TrimRight(base, "/"),
		dims:    dimsForModel(model),
		client:  &http.Client{Timeout: 60 * time.Second},
		limiter: limiter,
	}
}

func (o *OpenAI) Name() string     { return "openai" }
func (o *OpenAI) Dimensions() int { return o.dims }

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(openAIEmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshalling embed request: %w", err)
	}

	var out [][]float32
	err = o.limiter.Call(ctx, func(ctx context.Context) error {
		u, perr := url.Parse(o.baseURL + "/embeddings")
		if perr != nil {
			return fmt.Errorf("invalid embed base URL: %w", perr)
		}
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
		if rerr != nil {
			return fmt.Errorf("creating request: %w", rerr)
		}
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
		req.Header.Set("Content-Type", "application/json")

		// #nosec G107,G704 -- baseURL is loaded from trusted local config.
		resp, derr := o.client.Do(req)
		if derr != nil {
			return fmt.Errorf("calling OpenAI embeddings API: %w", derr)
		}
		defer resp.Body.Close()

		respBody, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return fmt.Errorf("reading response body: %w", rerr)
		}

		if resp.StatusCode != http.StatusOK {
			if ratelimit.IsRetryableStatus(resp.StatusCode) {
				return &ratelimit.RetryableError{
					Err:        fmt.Errorf("OpenAI embeddings API error %d: %s", resp.StatusCode, respBody),
					RetryAfter: ratelimit.RetryAfterFromHeader(resp.Header, string(respBody)),
				}
			}
			return fmt.Errorf("OpenAI embeddings API error %d: %s", resp.StatusCode, respBody)
		}

		var apiResp openAIEmbedResponse
		if uerr := json.Unmarshal(respBody, &apiResp); uerr != nil {
			return fmt.Errorf("parsing embed response: %w", uerr)
		}
		if apiResp.Error != nil {
			return fmt.Errorf("OpenAI embeddings error: %s", apiResp.Error.Message)
		}

		out = make([][]float32, len(texts))
		for _, d := range apiResp.Data {
			if d.Index < len(out) {
				out[d.Index] = d.Embedding
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func dimsForModel(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-ada-002":
		return 1536
	default: // text-embedding-3-small and unknown models
		return 1536
	}
}
