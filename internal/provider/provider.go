// Package provider defines the Provider interface and LLM provider adapters.
//
// Every LLM backend (Google, Anthropic) implements the Provider interface.
// The chat relay only works with these unified types, so it never needs to
// know which backend is actually generating the answer.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Provider is the interface that every LLM backend must satisfy.
type Provider interface {
	// Name returns the provider identifier, e.g. "google" or "anthropic".
	// Used for logging, metrics labels and the health endpoint.
	Name() string

	// Stream sends the request upstream and returns an iterator over the
	// generated text. The call returns once the provider has accepted the
	// request (or refused it); the text itself is pulled lazily with
	// Stream.Recv.
	//
	// ctx is the cancellation signal. Cancelling it aborts the upstream
	// HTTP exchange, including a Recv that is blocked mid-read.
	Stream(ctx context.Context, req *GenerationRequest) (Stream, error)
}

// Stream yields text chunks until io.EOF.
//
// A Stream is finite and cannot be restarted. It is not safe for concurrent
// use: one goroutine drives Recv and then calls Close.
type Stream interface {
	// Recv blocks for the next non-empty chunk of generated text.
	// It returns io.EOF once the provider signals a normal end.
	Recv() (string, error)

	// Close releases the upstream response body. It is safe to call more
	// than once and after Recv has returned an error.
	Close() error
}

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("provider: stream closed")

// ---------------------------------------------------------------------------
// Unified request types
// ---------------------------------------------------------------------------

// GenerationRequest is one upstream call. It is built by the relay from the
// validated conversation plus fixed, server-side generation settings, and is
// never shared between requests.
type GenerationRequest struct {
	SystemPrompt    string
	Messages        []Message
	Temperature     float64 // 0..1
	MaxOutputTokens int
}

// Role tags who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single turn in the conversation. Order matters: the slice
// order in GenerationRequest.Messages is the turn order.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// ContentBlock is one structured piece of a message. Only "text" blocks are
// sent upstream; other block types (images, tool results from the browser
// SDK) are accepted and ignored.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Content is a message body. On the wire it is either a plain string or an
// array of content blocks.
type Content []ContentBlock

// TextContent wraps a plain string as Content.
func TextContent(s string) Content {
	return Content{{Type: "text", Text: s}}
}

// Text joins the text blocks in order, separated by newlines.
func (c Content) Text() string {
	var parts []string
	for _, b := range c {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// UnmarshalJSON accepts either a JSON string or an array of blocks.
func (c *Content) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = TextContent(s)
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(b, &blocks); err != nil {
		return fmt.Errorf("content must be a string or an array of content blocks")
	}
	*c = blocks
	return nil
}

// MarshalJSON writes a single text block back as a plain string.
func (c Content) MarshalJSON() ([]byte, error) {
	if len(c) == 1 && c[0].Type == "text" {
		return json.Marshal(c[0].Text)
	}
	return json.Marshal([]ContentBlock(c))
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// New creates the provider adapter registered under name.
func New(name, apiKey, baseURL, model string, client *http.Client) (Provider, error) {
	if client == nil {
		client = http.DefaultClient
	}

	switch name {
	case "google":
		return NewGoogleProvider(apiKey, baseURL, model, client), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey, baseURL, model, client), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// splitSystem separates system-role messages from the conversation turns.
// Both adapters need this because neither API accepts "system" as a role
// inside the message list.
func splitSystem(req *GenerationRequest) (system string, turns []Message) {
	var systemParts []string
	if req.SystemPrompt != "" {
		systemParts = append(systemParts, req.SystemPrompt)
	}

	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			if text := msg.Content.Text(); text != "" {
				systemParts = append(systemParts, text)
			}
			continue
		}
		turns = append(turns, msg)
	}

	return strings.Join(systemParts, "\n"), turns
}
