package chat

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/haykal-fe-verd/reseply-sub001/internal/provider"
)

// disconnectHints are matched against error text only after every
// structural check failed, and never against a *provider.APIError. They catch wrappers that flatten the underlying
// error into a string (e.g. "terminated" from some fetch-style clients,
// http2's "client disconnected"). Best effort: none of these messages is a
// stable contract.
var disconnectHints = []string{
	"terminated",
	"broken pipe",
	"connection reset",
	"client disconnected",
}

// IsDisconnect reports whether err is the expected fallout of one side
// hanging up: the request context was cancelled, or the transport saw a
// reset, broken pipe or closed connection. Such errors end the stream
// silently. Everything else is a real failure.
//
// ctx is checked first because once the client is gone, whatever error the
// upstream read produced is a consequence of that.
func IsDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}

	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, http.ErrAbortHandler):
		return true
	}

	// A provider error is a provider failure whatever its message says.
	if _, ok := provider.AsAPIError(err); ok {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range disconnectHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
