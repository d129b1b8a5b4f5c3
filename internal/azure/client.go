// Package azure adapts the relay to one configured Azure OpenAI deployment:
// it exchanges service-principal credentials for bearer tokens and forwards
// chat transcripts to the deployment's chat-completions endpoint, in plain
// or streaming mode.
package azure

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"azure-openai-relay/pkg/oai"
)

// Client is a configured handle to an Azure OpenAI resource. The handle is
// stateless per call and safe for concurrent use.
type Client struct {
	endpoint   string
	apiVersion string
	tokens     TokenProvider
	httpClient *http.Client
}

// ClientConfig holds the inputs for a Client.
type ClientConfig struct {
	// Endpoint is the Azure OpenAI resource endpoint without a trailing slash.
	Endpoint string
	// APIVersion is the api-version query parameter.
	APIVersion string
	// Tokens supplies bearer tokens for each request.
	Tokens TokenProvider
	// HTTPClient overrides the default client. Used by tests.
	HTTPClient *http.Client
}

// NewClient creates a client for the given resource. The default HTTP client
// carries no overall timeout because streamed completions can legitimately
// run for minutes; per-request cancellation comes from the caller's context.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		apiVersion: cfg.APIVersion,
		tokens:     cfg.Tokens,
		httpClient: httpClient,
	}
}

// completionsURL builds the deployment-scoped chat-completions URL. Azure
// routes by deployment name, which the relay treats as the model name.
func (c *Client) completionsURL(model string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", c.endpoint, model, c.apiVersion)
}

// buildPayload assembles the provider request body from the transcript and
// generation parameters, with documented defaults filled in.
func buildPayload(messages []oai.ChatMessage, params oai.GenerationParams, stream bool) map[string]interface{} {
	p := params.WithDefaults()
	payload := map[string]interface{}{
		"model":             p.Model,
		"messages":          messages,
		"temperature":       *p.Temperature,
		"max_tokens":        *p.MaxTokens,
		"top_p":             *p.TopP,
		"frequency_penalty": *p.FrequencyPenalty,
		"presence_penalty":  *p.PresencePenalty,
		"stream":            stream,
	}
	if len(p.Stop) > 0 {
		payload["stop"] = p.Stop
	}
	return payload
}

func (c *Client) newRequest(ctx context.Context, messages []oai.ChatMessage, params oai.GenerationParams, stream bool) (*http.Request, error) {
	body, err := json.Marshal(buildPayload(messages, params, stream))
	if err != nil {
		return nil, &UpstreamError{Message: "marshal request: " + err.Error()}
	}

	model := params.WithDefaults().Model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL(model), bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{Message: "create request: " + err.Error()}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		// Credential failure propagates as-is so callers can tell an
		// auth problem apart from a completion failure.
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// readError converts a non-success provider response into an UpstreamError,
// preserving the provider's status and message.
func readError(resp *http.Response) *UpstreamError {
	body, _ := io.ReadAll(resp.Body)
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &UpstreamError{StatusCode: resp.StatusCode, Message: errResp.Error.Message}
	}
	return &UpstreamError{StatusCode: resp.StatusCode, Message: string(body)}
}

// Complete sends one non-streaming completion request and returns the
// assistant's reply content.
func (c *Client) Complete(ctx context.Context, messages []oai.ChatMessage, params oai.GenerationParams) (string, error) {
	req, err := c.newRequest(ctx, messages, params, false)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &UpstreamError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readError(resp)
	}

	var completion oai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	if len(completion.Choices) == 0 {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Message: "no choices in response"}
	}
	return completion.Choices[0].Message.Content, nil
}

// CompleteStream sends a streaming completion request and returns a channel
// of decoded delta chunks. The channel is closed when the upstream stream
// ends. Malformed individual chunks are logged and skipped; a transport
// failure mid-stream is delivered as the final event's Err. The reading
// goroutine stops when ctx is cancelled, so an abandoned consumer never
// leaks it.
func (c *Client) CompleteStream(ctx context.Context, messages []oai.ChatMessage, params oai.GenerationParams) (<-chan oai.StreamEvent, error) {
	req, err := c.newRequest(ctx, messages, params, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readError(resp)
	}

	events := make(chan oai.StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var chunk oai.ChatCompletionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				// Protocol noise; skip the chunk, keep the stream alive.
				log.Printf("azure: skipping malformed stream chunk: %v", err)
				continue
			}

			select {
			case events <- oai.StreamEvent{Chunk: &chunk}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case events <- oai.StreamEvent{Err: &UpstreamError{Message: "read stream: " + err.Error()}}:
			case <-ctx.Done():
			}
		}
	}()

	return events, nil
}

// Ping sends a minimal completion to verify connectivity and credentials.
// Used by the /check endpoint and the --check CLI flag.
func (c *Client) Ping(ctx context.Context, model string) (string, error) {
	maxTokens := 10
	temperature := 0.7
	params := oai.GenerationParams{
		Model:       model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}
	messages := []oai.ChatMessage{{Role: oai.RoleSystem, Content: "You are a test bot."}}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return c.Complete(ctx, messages, params)
}
