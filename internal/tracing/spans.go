package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartLLMSpan opens a span around one provider.ChatStream/Chat call,
// mirroring the teacher's emitLLMSpan attribute set (model, provider, input
// preview).
func StartLLMSpan(ctx context.Context, provider, model, inputPreview string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
		attribute.String("llm.input_preview", truncatePreview(inputPreview, previewLimit)),
	))
}

// EndLLMSpan records token usage and finish reason, then ends span.
func EndLLMSpan(span trace.Span, outputPreview, finishReason string, promptTokens, completionTokens int, err error) {
	span.SetAttributes(
		attribute.String("llm.output_preview", truncatePreview(outputPreview, previewLimit)),
		attribute.String("llm.finish_reason", finishReason),
		attribute.Int("llm.prompt_tokens", promptTokens),
		attribute.Int("llm.completion_tokens", completionTokens),
	)
	endSpan(span, err)
}

// StartToolSpan opens a span around one tool call (spec §4.8), mirroring the
// teacher's emitToolSpan attribute set (tool name, call id).
func StartToolSpan(ctx context.Context, toolName, toolCallID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.name", toolName),
		attribute.String("tool.call_id", toolCallID),
	))
}

// EndToolSpan records the tool's result status and ends span.
func EndToolSpan(span trace.Span, outputPreview string, isError bool, err error) {
	span.SetAttributes(
		attribute.String("tool.output_preview", truncatePreview(outputPreview, previewLimit)),
		attribute.Bool("tool.is_error", isError),
	)
	endSpan(span, err)
}

// StartMemoryCycleSpan opens a span around one ObservationalMemory cycle
// (spec §4.10), mirroring the teacher's emitAgentSpan for background agent
// work.
func StartMemoryCycleSpan(ctx context.Context, chatID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "memory.cycle", trace.WithAttributes(
		attribute.String("chat.id", chatID),
	))
}

// EndMemoryCycleSpan records the cycle's terminal status and ends span.
func EndMemoryCycleSpan(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("memory.status", status))
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
