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
// GoogleProvider struct + constructor
// ---------------------------------------------------------------------------

// GoogleProvider implements the Provider interface for Google's Gemini API.
// It translates a GenerationRequest into Gemini's format, makes the
// streaming HTTP call, and turns the SSE response into a Stream.
type GoogleProvider struct {
	apiKey  string       // sent as the x-goog-api-key header
	baseURL string       // e.g. "https://generativelanguage.googleapis.com/v1beta"
	model   string       // e.g. "gemini-2.0-flash"
	client  *http.Client // reusable HTTP client (manages connection pooling)
}

// NewGoogleProvider creates a GoogleProvider ready to make API calls.
// The *http.Client is injected so tests can replay recorded traffic and
// main can configure transport settings.
func NewGoogleProvider(apiKey, baseURL, model string, client *http.Client) *GoogleProvider {
	return &GoogleProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
	}
}

// Name returns the provider identifier.
func (g *GoogleProvider) Name() string {
	return "google"
}

// ---------------------------------------------------------------------------
// Gemini API types (unexported, only this file uses them)
// ---------------------------------------------------------------------------

// --- Request types ---

// geminiRequest is the top-level request body for streamGenerateContent.
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

// geminiContent represents one message in the conversation.
// Gemini uses "parts" because it supports multimodal input; we send one
// text part per message.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart is one piece of content within a message.
type geminiPart struct {
	Text string `json:"text"`
}

// geminiGenerationConfig holds generation parameters. Temperature is a
// pointer because 0 is a meaningful value that must still be sent.
type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

// --- Streaming response types ---

// geminiStreamEvent is the JSON payload of every SSE data line. Unlike
// Anthropic, Gemini sends the same shape for every event.
type geminiStreamEvent struct {
	Candidates []geminiCandidate `json:"candidates"`
}

// geminiCandidate is one generated response. We only read the first one.
type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// toGeminiRequest translates a GenerationRequest into Gemini's format:
//  1. The system prompt (plus any system messages) goes to systemInstruction
//  2. Messages become contents with parts, "assistant" becoming "model"
//  3. temperature and max tokens go into generationConfig
func toGeminiRequest(req *GenerationRequest) *geminiRequest {
	gr := &geminiRequest{}

	system, turns := splitSystem(req)
	if system != "" {
		gr.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: system}},
		}
	}

	for _, msg := range turns {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		gr.Contents = append(gr.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content.Text()}},
		})
	}

	temperature := req.Temperature
	gr.GenerationConfig = &geminiGenerationConfig{
		Temperature:     &temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	}

	return gr
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

// Stream sends a streaming request to Gemini's streamGenerateContent
// endpoint. The alt=sse query parameter switches the response from a JSON
// array to server-sent events, one candidate snapshot per event.
func (g *GoogleProvider) Stream(ctx context.Context, req *GenerationRequest) (Stream, error) {
	body, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", g.baseURL, g.model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	// Do not defer Body.Close() here: the returned stream owns the body.
	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to gemini: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, newAPIError(g.Name(), httpResp)
	}

	return &geminiStream{body: httpResp.Body, events: newSSEReader(httpResp.Body)}, nil
}

// geminiStream pulls one SSE event per Recv until a non-empty text part
// shows up.
type geminiStream struct {
	body   io.ReadCloser
	events *sseReader
	closed bool
}

func (s *geminiStream) Recv() (string, error) {
	if s.closed {
		return "", ErrStreamClosed
	}

	for {
		ev, err := s.events.Next()
		if err == io.EOF {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("reading gemini stream: %w", err)
		}

		if strings.TrimSpace(ev.Data) == "" {
			continue
		}
		data := []byte(ev.Data)

		// Gemini reports failures inside an open stream as a bare error
		// envelope in place of a candidate.
		if typ, msg, ok := parseErrorEnvelope(data); ok {
			return "", &APIError{Provider: "google", Type: typ, Message: msg, Raw: data}
		}

		var event geminiStreamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return "", fmt.Errorf("decoding gemini stream event: %w", err)
		}

		if len(event.Candidates) == 0 {
			continue
		}

		var text strings.Builder
		for _, part := range event.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
		if text.Len() > 0 {
			return text.String(), nil
		}
	}
}

func (s *geminiStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
