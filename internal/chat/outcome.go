package chat

import "net/http"

// StatusClientClosedRequest is the non-standard 499 used when the client
// went away before any response was produced.
const StatusClientClosedRequest = 499

// Outcome is how one relay invocation ended. It doubles as the metrics
// label, so the values are stable snake_case strings.
type Outcome string

const (
	// OutcomeStreamedOK: the provider finished and the body was closed cleanly.
	OutcomeStreamedOK Outcome = "streamed_ok"
	// OutcomeUpstreamUnavailable: no provider credential configured (503).
	OutcomeUpstreamUnavailable Outcome = "upstream_unavailable"
	// OutcomeBadInput: the request body failed validation (400).
	OutcomeBadInput Outcome = "bad_input"
	// OutcomeClientAborted: the client left or the connection was reset.
	// 499 before streaming, a silent close after.
	OutcomeClientAborted Outcome = "client_aborted"
	// OutcomeUpstreamError: anything else. 500 before streaming, an
	// aborted body after.
	OutcomeUpstreamError Outcome = "upstream_error"
)

// Status is the HTTP status an outcome maps to when it happens before the
// response is committed.
func (o Outcome) Status() int {
	switch o {
	case OutcomeStreamedOK:
		return http.StatusOK
	case OutcomeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case OutcomeBadInput:
		return http.StatusBadRequest
	case OutcomeClientAborted:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
