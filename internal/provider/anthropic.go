package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ---------------------------------------------------------------------------
// AnthropicProvider struct + constructor
// ---------------------------------------------------------------------------

// AnthropicProvider implements the Provider interface for Anthropic's
// Messages API. Same pattern as GoogleProvider: translate the request,
// make the HTTP call, wrap the SSE body in a Stream.
type AnthropicProvider struct {
	apiKey  string
	baseURL string // e.g. "https://api.anthropic.com/v1"
	model   string
	client  *http.Client
}

// NewAnthropicProvider creates an AnthropicProvider ready to make API calls.
func NewAnthropicProvider(apiKey, baseURL, model string, client *http.Client) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
	}
}

// Name returns the provider identifier.
func (a *AnthropicProvider) Name() string {
	return "anthropic"
}

// ---------------------------------------------------------------------------
// Anthropic API types (unexported)
// ---------------------------------------------------------------------------

// anthropicRequest is the top-level request body for /v1/messages.
//
// Key differences from Gemini:
//   - "system" is a top-level string, not nested inside messages
//   - "max_tokens" is REQUIRED (Anthropic rejects requests without it)
//   - "model" is in the request body (Gemini puts it in the URL path)
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Stream      bool               `json:"stream"`
}

// anthropicMessage is one message in the conversation. Anthropic uses a
// flat role + content shape with the same role names we use.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// --- Streaming event types ---
//
// Anthropic sends NAMED events, each with a different JSON payload:
//
//   event: message_start       → response metadata
//   event: content_block_delta → a text fragment (the actual tokens)
//   event: message_delta       → stop_reason and output token count
//   event: message_stop        → the stream is done
//   event: error               → the stream failed (e.g. overloaded_error)
//
// Every payload also carries a "type" field matching the event name, so
// we decode into one wrapper struct and switch on that.
type anthropicStreamEvent struct {
	Type  string               `json:"type"`
	Delta *anthropicEventDelta `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// anthropicEventDelta carries the text on content_block_delta events.
// Other delta types (input_json_delta, thinking_delta) are ignored.
type anthropicEventDelta struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// anthropicAPIVersion pins the Anthropic API behavior. Anthropic requires
// this header on every request.
const anthropicAPIVersion = "2023-06-01"

// defaultMaxTokens is used when the caller doesn't specify max tokens.
// Anthropic requires this field, so we need a fallback.
const defaultMaxTokens = 1024

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// toAnthropicRequest translates a GenerationRequest into Anthropic's format.
func toAnthropicRequest(model string, req *GenerationRequest) *anthropicRequest {
	temperature := req.Temperature
	ar := &anthropicRequest{
		Model:       model,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: &temperature,
		Stream:      true,
	}
	if ar.MaxTokens <= 0 {
		ar.MaxTokens = defaultMaxTokens
	}

	system, turns := splitSystem(req)
	ar.System = system

	for _, msg := range turns {
		ar.Messages = append(ar.Messages, anthropicMessage{
			Role:    string(msg.Role),
			Content: msg.Content.Text(),
		})
	}

	return ar
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

// Stream sends a streaming request to Anthropic's /v1/messages endpoint.
// Same endpoint as non-streaming; "stream": true switches it to SSE.
func (a *AnthropicProvider) Stream(ctx context.Context, req *GenerationRequest) (Stream, error) {
	body, err := json.Marshal(toAnthropicRequest(a.model, req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/messages", a.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to anthropic: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, newAPIError(a.Name(), httpResp)
	}

	return &anthropicStream{body: httpResp.Body, events: newSSEReader(httpResp.Body)}, nil
}

// anthropicStream reads events until a text delta, message_stop or error.
type anthropicStream struct {
	body   io.ReadCloser
	events *sseReader
	closed bool
	done   bool
}

func (s *anthropicStream) Recv() (string, error) {
	if s.closed {
		return "", ErrStreamClosed
	}
	if s.done {
		return "", io.EOF
	}

	for {
		ev, err := s.events.Next()
		if err == io.EOF {
			// Body ended without message_stop. Treat it like the end of
			// the stream; the relay cannot tell the difference anyway.
			s.done = true
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("reading anthropic stream: %w", err)
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
			return "", fmt.Errorf("decoding anthropic stream event: %w", err)
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				return event.Delta.Text, nil
			}

		case "message_stop":
			s.done = true
			return "", io.EOF

		case "error":
			ae := &APIError{Provider: "anthropic", Raw: []byte(ev.Data)}
			if event.Error != nil {
				ae.Type = event.Error.Type
				ae.Message = event.Error.Message
			}
			return "", ae

		// message_start, content_block_start, content_block_stop,
		// message_delta and ping don't carry text, so they are skipped.
		}
	}
}

func (s *anthropicStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
