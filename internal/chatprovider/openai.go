package chatprovider

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

const defaultOpenAIChatBase = "https://api.openai.com/v1"

// OpenAI implements Provider using OpenAI's /chat/completions REST endpoint.
type OpenAI struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	limiter *ratelimit.Limiter
}

// NewOpenAI creates an OpenAI chat provider from cfg.
func NewOpenAI(cfg config.ChatConfig, limiter *ratelimit.Limiter) *OpenAI {
	base := cfg.BaseURL
	if base == "" {
		base = defaultOpenAIChatBase
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
		limiter: limiter,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) IsAvailable(ctx context.Context) bool {
	u, err := url.Parse(o.baseURL + "/models")
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	// #nosec G107,G704 -- baseURL is loaded from trusted local config.
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type openAIChatRequest struct {
	Model     string      `json:"model"`
	Messages  []openAIMsg `json:"messages"`
	MaxTokens int         `json:"max_tokens,omitempty"`
}

type openAIMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (o *OpenAI) Chat(ctx context.Context, messages []Message) (*ChatResult, error) {
	msgs := make([]openAIMsg, len(messages))
	for i, m := range messages {
		msgs[i] = openAIMsg{Role: m.Role, Content: m.Content}
	}
	body, err := json.Marshal(openAIChatRequest{Model: o.model, Messages: msgs, MaxTokens: 2048})
	if err != nil {
		return nil, fmt.Errorf("marshalling chat request: %w", err)
	}

	var result ChatResult
	err = o.limiter.Call(ctx, func(ctx context.Context) error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
		if rerr != nil {
			return fmt.Errorf("creating request: %w", rerr)
		}
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
		req.Header.Set("Content-Type", "application/json")

		// #nosec G107,G704 -- baseURL is loaded from trusted local config.
		resp, derr := o.client.Do(req)
		if derr != nil {
			return fmt.Errorf("calling OpenAI chat API: %w", derr)
		}
		defer resp.Body.Close()

		respBody, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return fmt.Errorf("reading response body: %w", rerr)
		}

		if resp.StatusCode != http.StatusOK {
			if ratelimit.IsRetryableStatus(resp.StatusCode) {
				return &ratelimit.RetryableError{
					Err:        fmt.Errorf("OpenAI chat API error %d: %s", resp.StatusCode, respBody),
					RetryAfter: ratelimit.RetryAfterFromHeader(resp.Header, string(respBody)),
				}
			}
			return fmt.Errorf("OpenAI chat API error %d: %s", resp.StatusCode, respBody)
		}

		var apiResp openAIChatResponse
		if uerr := json.Unmarshal(respBody, &apiResp); uerr != nil {
			return fmt.Errorf("parsing chat response: %w", uerr)
		}
		if apiResp.Error != nil {
			return fmt.Errorf("OpenAI chat error: %s", apiResp.Error.Message)
		}
		if len(apiResp.Choices) == 0 {
			return fmt.Errorf("OpenAI chat returned no choices")
		}

		result = ChatResult{
			Response: strings.TrimSpace(apiResp.Choices[0].Message.Content),
			Usage: TokenUsage{
				InputTokens:  apiResp.Usage.PromptTokens,
				OutputTokens: apiResp.Usage.CompletionTokens,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
