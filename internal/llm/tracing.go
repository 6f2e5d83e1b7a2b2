package llm

import (
	"context"
	"encoding/json"

	"ctxcore/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ctxcore/llm")

// StartRequestSpan opens a span around a single ChatDriver call.
func StartRequestSpan(ctx context.Context, name, model string, toolCount, msgCount int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.tools", toolCount),
		attribute.Int("llm.messages", msgCount),
	))
	return ctx, span
}

// RecordTokenAttributes annotates a span with token accounting and sets
// its status to Ok.
func RecordTokenAttributes(span trace.Span, promptTokens, completionTokens, totalTokens int) {
	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", promptTokens),
		attribute.Int("llm.usage.completion_tokens", completionTokens),
		attribute.Int("llm.usage.total_tokens", totalTokens),
	)
	span.SetStatus(codes.Ok, "")
}

// LogRedactedPrompt emits a debug log line with API keys and similar
// fields stripped out of the outgoing message payload.
func LogRedactedPrompt(ctx context.Context, msgs []Message) {
	log := observability.LoggerWithTrace(ctx)
	if log.GetLevel() > 0 { // above debug
		return
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	log.Debug().RawJSON("prompt", observability.RedactJSON(raw)).Msg("llm_prompt")
}

// LogRedactedResponse emits a debug log line for the raw provider
// response, with sensitive fields redacted.
func LogRedactedResponse(ctx context.Context, resp any) {
	log := observability.LoggerWithTrace(ctx)
	if log.GetLevel() > 0 {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	log.Debug().RawJSON("response", observability.RedactJSON(raw)).Msg("llm_response")
}
