package messaging

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/artisanflow/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// ChatNotifier turns notifications into outbound chat messages. A failed
// publish is logged and reported as not delivered.
type ChatNotifier struct {
	publisher Publisher
	now       func() time.Time
	logger    *slog.Logger
}

func NewChatNotifier(publisher Publisher, now func() time.Time, logger *slog.Logger) *ChatNotifier {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ChatNotifier{publisher: publisher, now: now, logger: logger}
}

func (n *ChatNotifier) Send(ctx context.Context, recipientID int64, text string, actions []domain.Action) bool {
	msg := domain.OutboundMessage{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Text:        text,
		Actions:     actions,
		Timestamp:   n.now(),
	}
	if err := n.publisher.Publish(ctx, strconv.FormatInt(recipientID, 10), msg); err != nil {
		n.logger.Error("failed to publish chat message", "error", err, "recipient_id", recipientID, "message_id", msg.ID)
		return false
	}
	return true
}

// LogNotifier writes messages to the log instead of a chat transport. It is
// used when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, recipientID int64, text string, actions []domain.Action) bool {
	ids := make([]string, 0, len(actions))
	for _, a := range actions {
		ids = append(ids, a.ID)
	}
	n.logger.Info("chat message", "recipient_id", recipientID, "text", text, "actions", ids)
	return true
}
