package usecase

import (
	"context"
	"fmt"

	"staffchat/infrastructure/ws"
	"staffchat/internal/entity"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

func EncodeEvent(eventType string, data any) ([]byte, error) {
	return json.Marshal(entity.Event{Type: eventType, Data: data})
}

// pusher delivers encoded events through the hub. Delivery is best effort:
// failures are logged and never returned to the caller.
type pusher struct {
	hub    ws.IHub
	logger *zap.Logger
}

func (p pusher) toUser(ctx context.Context, userId int64, payload []byte, exceptConnection string) {
	if _, err := p.hub.SendToUser(ctx, userId, payload, exceptConnection); err != nil {
		p.logger.Warn("live push failed", zap.Int64("user", userId),
			zap.Error(fmt.Errorf("%w: %v", ErrPresenceLookupFailed, err)))
	}
}

func (p pusher) toUsers(ctx context.Context, users []int64, payload []byte) {
	for _, u := range users {
		p.toUser(ctx, u, payload, "")
	}
}

func (p pusher) toEveryone(ctx context.Context, payload []byte, exclude ws.Exclusion) {
	if _, err := p.hub.Broadcast(ctx, payload, exclude); err != nil {
		p.logger.Warn("live broadcast failed",
			zap.Error(fmt.Errorf("%w: %v", ErrPresenceLookupFailed, err)))
	}
}
