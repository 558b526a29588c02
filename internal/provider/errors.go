package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of a failed upstream response we keep.
const maxErrorBody = 64 << 10

// APIError is a non-2xx answer from the provider, or an error event the
// provider sent in the middle of a stream (StatusCode is 0 then).
type APIError struct {
	Provider   string
	StatusCode int

	// Type is the provider's error classification, e.g. Anthropic's
	// "overloaded_error" or Gemini's "RESOURCE_EXHAUSTED".
	Type    string
	Message string

	// Raw is the response body as received.
	Raw []byte
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " API error (status %d)", e.StatusCode)
	} else {
		b.WriteString(" stream error")
	}

	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.StatusCode != 0 {
		msg = http.StatusText(e.StatusCode)
	}
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, " (%s)", e.Type)
	}
	return b.String()
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// errorEnvelope covers both providers: Gemini puts the class in
// error.status, Anthropic in error.type.
type errorEnvelope struct {
	Error *struct {
		Type    string `json:"type"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseErrorEnvelope extracts type and message from a provider error body.
// ok is false when the body is not an error envelope.
func parseErrorEnvelope(body []byte) (typ, msg string, ok bool) {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return "", "", false
	}
	typ = env.Error.Type
	if typ == "" {
		typ = env.Error.Status
	}
	return typ, env.Error.Message, true
}

// newAPIError drains (a bounded amount of) a failed response and closes it.
func newAPIError(provider string, resp *http.Response) *APIError {
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	ae := &APIError{Provider: provider, StatusCode: resp.StatusCode, Raw: raw}
	if typ, msg, ok := parseErrorEnvelope(raw); ok {
		ae.Type = typ
		ae.Message = msg
	} else {
		ae.Message = strings.TrimSpace(string(raw))
	}
	return ae
}
