// Package openai implements the domain.Provider interface for the OpenAI
// Chat Completions API and the providers that speak the same wire format
// (Groq, xAI Grok, OpenRouter, Perplexity).
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agenticlabs/workspace/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider is an OpenAI-compatible chat completion client.
type Provider struct {
	name       string
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithName overrides the reported provider name. Used when the same wire
// format serves another vendor (groq, openrouter, ...).
func WithName(name string) Option {
	return func(p *Provider) {
		p.name = name
	}
}

// New creates an OpenAI-compatible provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		name:       "openai",
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (p *Provider) buildPayload(req *domain.ChatRequest, stream bool) chatCompletionRequest {
	msgs := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}
	return chatCompletionRequest{Model: req.Model, Messages: msgs, Stream: stream}
}

func (p *Provider) post(ctx context.Context, payload chatCompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// Complete handles unary requests.
func (p *Provider) Complete(ctx context.Context, req *domain.ChatRequest) (string, error) {
	resp, err := p.post(ctx, p.buildPayload(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError(p.name, resp.StatusCode, respBody)
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", p.name)
	}
	return result.Choices[0].Message.Content, nil
}

// Stream sends a streaming request and relays content deltas on the
// returned channel. The channel is closed when the stream ends.
func (p *Provider) Stream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.Event, error) {
	resp, err := p.post(ctx, p.buildPayload(req, true))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, apiError(p.name, resp.StatusCode, respBody)
	}

	out := make(chan domain.Event)
	go p.streamReader(resp.Body, out)
	return out, nil
}

func (p *Provider) streamReader(body io.ReadCloser, out chan<- domain.Event) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	// Increase buffer size for potentially large chunks
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			out <- domain.Event{Err: fmt.Errorf("failed to unmarshal chunk: %w", err)}
			return
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			out <- domain.Event{ContentDelta: chunk.Choices[0].Delta.Content}
		}
	}

	if err := scanner.Err(); err != nil {
		out <- domain.Event{Err: fmt.Errorf("stream read error: %w", err)}
	}
}

// apiError extracts the upstream error message when the body carries the
// standard {"error": {"message": ...}} envelope.
func apiError(name string, status int, body []byte) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Errorf("%s API error (status %d): %s", name, status, envelope.Error.Message)
	}
	return fmt.Errorf("%s API error (status %d): %s", name, status, string(body))
}
