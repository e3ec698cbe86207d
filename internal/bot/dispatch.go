package bot

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/whisper/guardbot/internal/moderation"
	"github.com/whisper/guardbot/internal/protocol"
	"go.uber.org/zap"
)

// Publisher sends encoded directives to the chat client.
type Publisher interface {
	PublishAction(data []byte) error
}

// Dispatch decodes a raw event, handles it and publishes the directives.
// Malformed events are logged and dropped.
func (b *Bot) Dispatch(ctx context.Context, data []byte, pub Publisher) {
	ev, err := protocol.ParseEvent(data)
	if err != nil {
		b.logger.Warn("dropping malformed event", zap.Error(err))
		return
	}

	for _, d := range b.Handle(ctx, ev) {
		payload, err := d.Encode()
		if err != nil {
			b.logger.Error("directive encode failed", zap.String("type", d.Type), zap.Error(err))
			continue
		}
		if err := pub.PublishAction(payload); err != nil {
			b.logger.Error("directive publish failed",
				zap.String("type", d.Type),
				zap.String("id", d.ID),
				zap.Error(err))
		}
	}
}

// HandleReload processes a reload request received from the admin channel.
func (b *Bot) HandleReload(data []byte) {
	var req moderation.ReloadRequest
	if err := json.Unmarshal(data, &req); err != nil {
		b.logger.Warn("dropping malformed reload request", zap.Error(err))
		return
	}
	if err := b.ReloadKeywords(req.RequestedBy); err != nil {
		b.logger.Warn("reload request failed", zap.String("requested_by", req.RequestedBy), zap.Error(err))
	}
}
