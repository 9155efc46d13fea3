package stagedrivers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PoetCoderJun/autocut-backend/internal/platform/httpx"
)

// llmHTTPError carries the status code back through err so
// httpx.IsRetryableError-style checks (and plain callers) can branch on it.
type llmHTTPError struct {
	StatusCode int
	Body       string
}

func (e *llmHTTPError) Error() string {
	return fmt.Sprintf("llm: status %d: %s", e.StatusCode, e.Body)
}

// llmClient is a small OpenAI-compatible chat-completions client,
// narrowed to the single JSON-response call auto-edit and
// topic-segment need: both dashscope's compatible-mode endpoint and most
// self-hosted LLM gateways speak this wire format.
type llmClient struct {
	httpClient *http.Client
	maxRetries int
}

func newLLMClient() *llmClient {
	return &llmClient{httpClient: &http.Client{Timeout: 2 * time.Minute}, maxRetries: 2}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// completeJSON sends a system/user turn and returns the assistant's content,
// expected to be a raw JSON document (optionally fenced in ```json blocks,
// which the auto-edit/topic-segment prompts are told not to do but models
// occasionally do anyway).
func (c *llmClient) completeJSON(ctx context.Context, opts Options, system, user string) (string, error) {
	req := chatCompletionRequest{
		Model:       opts.LLMModel,
		Temperature: opts.LLMTemperature,
		MaxTokens:   opts.LLMMaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	req.ResponseFormat = &struct {
		Type string `json:"type"`
	}{Type: "json_object"}

	var resp chatCompletionResponse
	if err := c.do(ctx, opts, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("llm: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty choices")
	}
	return stripJSONFence(resp.Choices[0].Message.Content), nil
}

func (c *llmClient) doOnce(ctx context.Context, opts Options, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(opts.LLMBaseURL, "/")+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+opts.LLMAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &llmHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *llmClient) do(ctx context.Context, opts Options, path string, body any, out any) error {
	backoff := 1 * time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, opts, path, body)
		if err == nil {
			return json.Unmarshal(raw, out)
		}
		if !httpx.IsRetryableError(err) && !isRetryableLLMError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}
		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		time.Sleep(httpx.JitterSleep(sleepFor))
		backoff *= 2
	}
	return fmt.Errorf("llm: exhausted retries")
}

func isRetryableLLMError(err error) bool {
	var httpErr *llmHTTPError
	if ok := asLLMHTTPError(err, &httpErr); ok {
		return httpx.IsRetryableHTTPStatus(httpErr.StatusCode)
	}
	return false
}

func asLLMHTTPError(err error, target **llmHTTPError) bool {
	if e, ok := err.(*llmHTTPError); ok {
		*target = e
		return true
	}
	return false
}

func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}
