// Package chat implements the single MCP tool exposed by inferbridge.
//
// [Handler.Chat] forwards a free-text query to the configured [llm.Provider]
// and returns the first generated result as plain text. Every failure is
// turned into a user-facing sentence; the tool never surfaces a Go error to
// the MCP layer. While the readiness tracker reports the model as
// unavailable, the current diagnostic is returned and the provider is not
// contacted.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/inferbridge/internal/observe"
	"github.com/MrWong99/inferbridge/internal/readiness"
	"github.com/MrWong99/inferbridge/pkg/provider/llm"
)

// ToolName is the MCP tool name.
const ToolName = "chat"

// DefaultMaxNewTokens caps generation when no limit is configured.
const DefaultMaxNewTokens = 512

// ErrorReplyPrefix starts every reply produced for a failed remote call.
const ErrorReplyPrefix = "An error occurred while communicating with "

// EmptyResponseReply is returned when the provider answers with no results.
const EmptyResponseReply = "Sorry, I received an unexpected response from the model."

// Outcome classifies a [Reply].
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeNotReady      Outcome = "not_ready"
	OutcomeRemoteError   Outcome = "remote_error"
	OutcomeEmptyResponse Outcome = "empty_response"
)

// Reply is the result of one chat call. Text is always suitable for the end
// user. Err carries the underlying provider error for OutcomeRemoteError and
// is never shown to the user.
type Reply struct {
	Text    string
	Outcome Outcome
	Err     error
}

// Readiness is the subset of [*readiness.Tracker] the handler reads.
type Readiness interface {
	Check(name string) bool
	Diagnostic() string
}

// Handler serves chat calls. It is stateless apart from its collaborators and
// safe for concurrent use.
type Handler struct {
	provider     llm.Provider
	state        Readiness
	maxNewTokens int
	metrics      *observe.Metrics
}

// Option is a functional option for [Handler].
type Option func(*Handler)

// WithMaxNewTokens overrides [DefaultMaxNewTokens].
func WithMaxNewTokens(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxNewTokens = n
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) {
		if m != nil {
			h.metrics = m
		}
	}
}

// NewHandler returns a Handler. provider may be nil when startup never got
// far enough to build one; the handler then relies on state reporting the
// model check as failing.
func NewHandler(provider llm.Provider, state Readiness, opts ...Option) *Handler {
	h := &Handler{
		provider:     provider,
		state:        state,
		maxNewTokens: DefaultMaxNewTokens,
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Chat answers query. Surrounding whitespace is trimmed from both the query
// and the generated text.
func (h *Handler) Chat(ctx context.Context, query string) Reply {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "chat.Chat",
		trace.WithAttributes(attribute.Int("query.length", len(query))),
	)

	reply := h.chat(ctx, query)
	observe.EndSpan(span, string(reply.Outcome), reply.Err)

	h.metrics.RecordToolCall(ctx, ToolName, string(reply.Outcome))
	h.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("tool", ToolName)),
	)
	return reply
}

func (h *Handler) chat(ctx context.Context, query string) Reply {
	if h.provider == nil || !h.state.Check(readiness.CheckModel) {
		return Reply{Text: h.state.Diagnostic(), Outcome: OutcomeNotReady}
	}

	log := observe.Logger(ctx)
	prompt := strings.TrimSpace(query)
	params := llm.GenerateParams{
		DecodingMethod: llm.DecodingGreedy,
		MaxNewTokens:   h.maxNewTokens,
	}

	genStart := time.Now()
	resp, err := h.provider.Generate(ctx, prompt, params)
	h.metrics.GenerateDuration.Record(ctx, time.Since(genStart).Seconds(),
		metric.WithAttributes(attribute.String("provider", h.provider.Name())),
	)
	if err != nil {
		kind := "generate"
		if errors.Is(err, llm.ErrAuthentication) {
			kind = "authentication"
		}
		h.metrics.RecordProviderError(ctx, h.provider.Name(), kind)
		log.Error("chat: generate failed", "provider", h.provider.Name(), "err", err)
		return Reply{
			Text:    fmt.Sprintf("%s%s. Please try again later.", ErrorReplyPrefix, h.provider.Name()),
			Outcome: OutcomeRemoteError,
			Err:     err,
		}
	}

	if resp == nil || len(resp.Results) == 0 {
		log.Warn("chat: provider returned no results", "provider", h.provider.Name())
		return Reply{Text: EmptyResponseReply, Outcome: OutcomeEmptyResponse}
	}

	text := strings.TrimSpace(resp.Results[0].GeneratedText)
	log.Debug("chat: generated reply",
		"model", resp.ModelID,
		"input_tokens", resp.Results[0].InputTokenCount,
		"generated_tokens", resp.Results[0].GeneratedTokenCount,
		"stop_reason", resp.Results[0].StopReason,
	)
	return Reply{Text: text, Outcome: OutcomeOK}
}
