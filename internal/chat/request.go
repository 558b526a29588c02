package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/haykal-fe-verd/reseply-sub001/internal/provider"
)

// ValidationError is a request the relay refuses before contacting the
// provider. Its message is safe to show to the client.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// chatRequest is the inbound body. Unknown fields (temperature, model, ...)
// are ignored: generation settings are fixed server-side.
type chatRequest struct {
	Messages []provider.Message `json:"messages"`
}

// decodeChatRequest reads and validates the body. Error messages depend
// only on the body, so the same bad input always gets the same answer.
func decodeChatRequest(body io.Reader) ([]provider.Message, error) {
	var req chatRequest
	dec := json.NewDecoder(body)
	if err := dec.Decode(&req); err != nil {
		return nil, malformed(err)
	}
	// The body must be exactly one JSON value.
	if _, err := dec.Token(); err != io.EOF {
		return nil, malformed(err)
	}

	if len(req.Messages) == 0 {
		return nil, invalid("messages must be a non-empty array")
	}

	hasUser := false
	for i, msg := range req.Messages {
		if !msg.Role.Valid() {
			return nil, invalid("messages[%d]: role must be one of user, assistant, system", i)
		}
		if msg.Content.Text() == "" {
			return nil, invalid("messages[%d]: content must contain text", i)
		}
		if msg.Role == provider.RoleUser {
			hasUser = true
		}
	}
	if !hasUser {
		return nil, invalid("messages must include a user turn")
	}

	return req.Messages, nil
}

func malformed(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return invalid("request body too large")
	}
	return invalid("request body must be a JSON object with a messages array")
}
