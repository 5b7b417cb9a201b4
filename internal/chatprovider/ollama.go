package chatprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/ratelimit"
)

// Ollama implements Provider using a local Ollama server's /api/chat
// endpoint. Configure with: chat.provider = "ollama", chat.ollama_url =
// "http://localhost:11434".
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *ratelimit.Limiter
}

// NewOllama creates an Ollama chat provider from cfg.
func NewOllama(cfg config.ChatConfig, limiter *ratelimit.Limiter) *Ollama {
	base := cfg.OllamaURL
	if base == "" {
		base = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.2"
	}
	return &Ollama{
		baseURL: strings.TrimRight(base, "/"),
		model:   model,
		client:  &http.Client{Timeout: 180 * time.Second},
		limiter: limiter,
	}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	// #nosec G704 -- o.baseURL is operator-configured, typically loopback.
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

func (o *Ollama) Chat(ctx context.Context, messages []Message) (*ChatResult, error) {
	msgs := make([]ollamaChatMessage, len(messages))
	for i, m := range messages {
		msgs[i] = ollamaChatMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(ollamaChatRequest{Model: o.model, Messages: msgs, Stream: false})
	if err != nil {
		return nil, fmt.Errorf("marshalling Ollama chat request: %w", err)
	}

	var result ChatResult
	err = o.limiter.Call(ctx, func(ctx context.Context) error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
		if rerr != nil {
			return fmt.Errorf("creating request: %w", rerr)
		}
		req.Header.Set("Content-Type", "application/json")

		// #nosec G704 -- o.baseURL is operator-configured, typically loopback.
		resp, derr := o.client.Do(req)
		if derr != nil {
			return &ratelimit.RetryableError{Err: fmt.Errorf("calling Ollama chat API: %w", derr)}
		}
		defer resp.Body.Close()

		respBody, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return fmt.Errorf("reading response body: %w", rerr)
		}

		if resp.StatusCode != http.StatusOK {
			if ratelimit.IsRetryableStatus(resp.StatusCode) {
				return &ratelimit.RetryableError{Err: fmt.Errorf("Ollama chat API error %d: %s", resp.StatusCode, respBody)}
			}
			return fmt.Errorf("Ollama chat API error %d: %s", resp.StatusCode, respBody)
		}

		var apiResp ollamaChatResponse
		if uerr := json.Unmarshal(respBody, &apiResp); uerr != nil {
			return fmt.Errorf("parsing chat response: %w", uerr)
		}

		result = ChatResult{
			Response: strings.TrimSpace(apiResp.Message.Content),
			Usage: TokenUsage{
				InputTokens:  apiResp.PromptEvalCount,
				OutputTokens: apiResp.EvalCount,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
