// Package chat implements the virtual chef chat relay: it validates a
// conversation, asks the configured model provider to continue it, and
// streams the provider's text to the browser as it arrives.
package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/haykal-fe-verd/reseply-sub001/internal/provider"
	"github.com/haykal-fe-verd/reseply-sub001/internal/stream"
)

// ContentType of a successful response: raw model text, chunk after chunk.
const ContentType = "text/plain; charset=utf-8"

// Options are the server-side settings of every relayed request. They are
// read once at construction and never change.
type Options struct {
	// APIKey is the provider credential. Empty means the relay answers 503
	// without calling the provider.
	APIKey string

	SystemPrompt    string
	Temperature     float64
	MaxOutputTokens int

	// MaxBodyBytes caps the request body. Zero means 1 MiB.
	MaxBodyBytes int64
}

// Observer receives relay instrumentation. *metrics.Recorder implements it.
type Observer interface {
	RequestStarted()
	ObserveChunk(bytes int)
	ObserveOutcome(outcome string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) RequestStarted()                      {}
func (nopObserver) ObserveChunk(int)                     {}
func (nopObserver) ObserveOutcome(string, time.Duration) {}

// Handler serves POST /api/chat. It holds no per-request state, so one
// Handler serves any number of concurrent requests.
type Handler struct {
	opts     Options
	provider provider.Provider
	log      zerolog.Logger
	obs      Observer

	sinkOpts []stream.Option
}

// NewHandler builds the relay. obs may be nil.
func NewHandler(opts Options, p provider.Provider, log zerolog.Logger, obs Observer) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Handler{opts: opts, provider: p, log: log, obs: obs}
}

// exchange is the state of one request as it moves through
// Validating → AwaitingUpstream → Streaming → terminal.
type exchange struct {
	w     http.ResponseWriter
	r     *http.Request
	log   zerolog.Logger
	start time.Time

	outcome Outcome
	chunks  int
	bytes   int64
}

// ServeHTTP runs one relay invocation.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chatID := uuid.NewString()
	w.Header().Set("X-Chat-Id", chatID)

	log := h.log.With().
		Str("chat_id", chatID).
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("provider", h.provider.Name()).
		Logger()

	x := &exchange{
		w:     w,
		r:     r,
		log:   log,
		start: time.Now(),
		// Anything that escapes without setting an outcome, including a
		// panic, counts as a failure.
		outcome: OutcomeUpstreamError,
	}

	h.obs.RequestStarted()

	// Deferred so it also runs when Sink.Fail aborts the handler.
	defer func() {
		elapsed := time.Since(x.start)
		h.obs.ObserveOutcome(string(x.outcome), elapsed)

		ev := x.log.Info()
		if x.outcome == OutcomeClientAborted {
			ev = x.log.Debug()
		}
		ev.Str("outcome", string(x.outcome)).
			Int("chunks", x.chunks).
			Int64("bytes", x.bytes).
			Dur("duration", elapsed).
			Msg("chat relay finished")
	}()

	h.serve(x)
}

func (h *Handler) serve(x *exchange) {
	ctx := x.r.Context()

	// --- Validating ---
	messages, err := decodeChatRequest(http.MaxBytesReader(x.w, x.r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var ve *ValidationError
		msg := "invalid request"
		if errors.As(err, &ve) {
			msg = ve.Message
		}
		h.reject(x, OutcomeBadInput, msg)
		return
	}

	if h.opts.APIKey == "" {
		x.log.Warn().Msg("provider API key is not configured")
		h.reject(x, OutcomeUpstreamUnavailable, "the virtual chef is not available right now")
		return
	}

	// --- AwaitingUpstream ---
	if ctx.Err() != nil {
		h.reject(x, OutcomeClientAborted, "client closed request")
		return
	}

	req := &provider.GenerationRequest{
		SystemPrompt:    h.opts.SystemPrompt,
		Messages:        messages,
		Temperature:     h.opts.Temperature,
		MaxOutputTokens: h.opts.MaxOutputTokens,
	}

	// ctx is cancelled when the client disconnects, which aborts the
	// upstream HTTP call as well.
	upstream, err := h.provider.Stream(ctx, req)
	if err != nil {
		if IsDisconnect(ctx, err) {
			h.reject(x, OutcomeClientAborted, "client closed request")
			return
		}
		x.log.Error().Err(err).Msg("provider rejected chat request")
		h.reject(x, OutcomeUpstreamError, "the virtual chef failed to respond")
		return
	}
	defer upstream.Close()

	// --- Streaming ---
	// From here on the status line is committed. Failures can only end
	// the body, never change the status.
	sink := stream.NewSink(x.w, h.sinkOpts...)
	if err := sink.Open(ContentType); err != nil {
		h.terminate(x, sink, err)
		return
	}

	for {
		// Cancellation is terminal: never ask upstream for another chunk
		// once the client is gone.
		if ctx.Err() != nil {
			x.outcome = OutcomeClientAborted
			sink.Close()
			return
		}

		chunk, err := upstream.Recv()
		if errors.Is(err, io.EOF) {
			x.outcome = OutcomeStreamedOK
			sink.Close()
			return
		}
		if err != nil {
			h.terminate(x, sink, err)
			return
		}

		if err := sink.Write(chunk); err != nil {
			h.terminate(x, sink, err)
			return
		}
		x.chunks++
		x.bytes += int64(len(chunk))
		h.obs.ObserveChunk(len(chunk))
	}
}

// terminate ends a committed response after a read or write error.
// Disconnects close quietly; anything else is logged and the body is
// aborted so the client can tell a truncated answer from a finished one.
func (h *Handler) terminate(x *exchange, sink *stream.Sink, err error) {
	if IsDisconnect(x.r.Context(), err) {
		x.outcome = OutcomeClientAborted
		x.log.Debug().Err(err).Msg("chat stream ended by disconnect")
		sink.Close()
		return
	}

	x.outcome = OutcomeUpstreamError
	x.log.Error().Err(err).
		Int("chunks", x.chunks).
		Int64("bytes", x.bytes).
		Msg("chat stream failed mid-response")
	sink.Fail(err)
}

// errorResponse is the JSON body of every pre-stream failure.
type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// reject answers with a JSON error. Only valid before the sink is opened.
func (h *Handler) reject(x *exchange, outcome Outcome, msg string) {
	x.outcome = outcome

	x.w.Header().Set("Content-Type", "application/json")
	x.w.Header().Set("Cache-Control", "no-store")
	x.w.WriteHeader(outcome.Status())
	if err := json.NewEncoder(x.w).Encode(errorResponse{Success: false, Message: msg}); err != nil {
		x.log.Debug().Err(err).Msg("write error response")
	}
}
