package messaging

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var chatMessages, _ = otel.Meter("messaging").Int64Counter("artisanflow.chat.messages",
	metric.WithDescription("Chat messages published or processed, by topic and outcome"))

func countMessage(ctx context.Context, topic, direction string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	chatMessages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("direction", direction),
		attribute.String("outcome", outcome),
	))
}
