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

const (
	anthropicMessagesEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicModelsEndpoint   = "https://api.anthropic.com/v1/models"
	anthropicVersionHeader    = "2023-06-01"
	anthropicDefaultModel     = "claude-sonnet-4-6"
)

// Anthropic implements Provider using Claude's /v1/messages REST API.
type Anthropic struct {
	apiKey  string
	model   string
	client  *http.Client
	limiter *ratelimit.Limiter
}

// NewAnthropic creates an Anthropic chat provider from cfg.
func NewAnthropic(cfg config.ChatConfig, limiter *ratelimit.Limiter) *Anthropic {
	model := cfg.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	return &Anthropic{
		apiKey:  cfg.APIKey,
		model:   model,
		client:  &http.Client{Timeout: 90 * time.Second},
		limiter: limiter,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) IsAvailable(ctx context.Context) bool {
	// #nosec G107 -- anthropicModelsEndpoint is a compile-time constant.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, anthropicModelsEndpoint, nil)
	if err != nil {
		return false
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersionHeader)

	resp, err := a.client.Do(req) // #nosec G107 -- URL is compile-time constant anthropicModelsEndpoint
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *Anthropic) Chat(ctx context.Context, messages []Message) (*ChatResult, error) {
	var system string
	var turns []anthropicMessage
	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		turns = append(turns, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: 4096,
		System:    system,
		Messages:  turns,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling Anthropic request: %w", err)
	}

	var result ChatResult
	err = a.limiter.Call(ctx, func(ctx context.Context) error {
		// #nosec G107 -- anthropicMessagesEndpoint is a compile-time constant.
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, anthropicMessagesEndpoint, bytes.NewReader(body))
		if rerr != nil {
			return fmt.Errorf("creating Anthropic request: %w", rerr)
		}
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", anthropicVersionHeader)
		req.Header.Set("content-type", "application/json")

		resp, derr := a.client.Do(req) // #nosec G107 -- URL is compile-time constant anthropicMessagesEndpoint
		if derr != nil {
			return fmt.Errorf("calling Anthropic API: %w", derr)
		}
		defer resp.Body.Close()

		respBody, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return fmt.Errorf("reading Anthropic response body: %w", rerr)
		}

		if resp.StatusCode != http.StatusOK {
			if ratelimit.IsRetryableStatus(resp.StatusCode) {
				return &ratelimit.RetryableError{
					Err:        fmt.Errorf("Anthropic API error %d: %s", resp.StatusCode, respBody),
					RetryAfter: ratelimit.RetryAfterFromHeader(resp.Header, string(respBody)),
				}
			}
			return fmt.Errorf("Anthropic API error %d: %s", resp.StatusCode, respBody)
		}

		var apiResp anthropicResponse
		if uerr := json.Unmarshal(respBody, &apiResp); uerr != nil {
			return fmt.Errorf("parsing Anthropic response: %w", uerr)
		}
		if apiResp.Error != nil {
			return fmt.Errorf("Anthropic error: %s", apiResp.Error.Message)
		}
		if len(apiResp.Content) == 0 {
			return fmt.Errorf("Anthropic returned no content")
		}

		result = ChatResult{
			Response: strings.TrimSpace(apiResp.Content[0].Text),
			Usage: TokenUsage{
				InputTokens:  apiResp.Usage.InputTokens,
				OutputTokens: apiResp.Usage.OutputTokens,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
