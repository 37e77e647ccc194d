package ws

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	presenceKeyPrefix   = "presence:"
	userChannelPrefix   = "messages:"
	broadcastChannel    = "broadcast"
	presenceCallTimeout = 2 * time.Second
)

// ErrRemotePresence is returned when the shared presence set or the pub/sub
// channel cannot be reached. Local delivery has already happened by then.
var ErrRemotePresence = errors.New("remote presence lookup failed")

// RedisHub keeps connections in the embedded local Hub and uses Redis to
// reach users connected to other servers.
type RedisHub struct {
	*Hub

	redisClient *redis.Client
	serverID    string
	logger      *zap.Logger
}

type RedisMessage struct {
	FromServerID string    `json:"fromServerId"`
	ToUserID     int64     `json:"toUserId,omitempty"`
	Except       Exclusion `json:"except"`
	Payload      []byte    `json:"payload"`
}

func NewRedisHub(hub *Hub, redisClient *redis.Client, serverID string, logger *zap.Logger) *RedisHub {
	h := &RedisHub{
		Hub:         hub,
		redisClient: redisClient,
		serverID:    serverID,
		logger:      logger.Named("redis-hub").With(zap.String("server", serverID)),
	}

	hub.OnClientRegister(func(client *UserClient, firstConnection bool) {
		if !firstConnection {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), presenceCallTimeout)
		defer cancel()
		if err := h.redisClient.SAdd(ctx, presenceKey(client.UserId()), h.serverID).Err(); err != nil {
			h.logger.Warn("announce presence", zap.Int64("user", client.UserId()), zap.Error(err))
		}
	})
	hub.OnClientUnregister(func(client *UserClient, lastConnection bool) {
		if !lastConnection {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), presenceCallTimeout)
		defer cancel()
		if err := h.redisClient.SRem(ctx, presenceKey(client.UserId()), h.serverID).Err(); err != nil {
			h.logger.Warn("withdraw presence", zap.Int64("user", client.UserId()), zap.Error(err))
		}
	})

	return h
}

func presenceKey(userId int64) string {
	return presenceKeyPrefix + strconv.FormatInt(userId, 10)
}

func userChannel(userId int64) string {
	return userChannelPrefix + strconv.FormatInt(userId, 10)
}

func (h *RedisHub) Run(ctx context.Context) {
	pubsub := h.redisClient.PSubscribe(ctx, userChannelPrefix+"*", broadcastChannel)
	defer pubsub.Close()

	go h.subscribeRedis(ctx, pubsub)

	h.Hub.Run(ctx)
}

func (h *RedisHub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	h.logger.Info("redis subscriber started")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.deliverRemote(ctx, msg)
		}
	}
}

func (h *RedisHub) deliverRemote(ctx context.Context, msg *redis.Message) {
	var redisMsg RedisMessage
	if err := json.Unmarshal([]byte(msg.Payload), &redisMsg); err != nil {
		h.logger.Warn("decode redis message", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if redisMsg.FromServerID == h.serverID {
		return
	}

	if msg.Channel == broadcastChannel {
		h.Hub.Broadcast(ctx, redisMsg.Payload, redisMsg.Except)
		return
	}
	h.Hub.SendToUser(ctx, redisMsg.ToUserID, redisMsg.Payload, redisMsg.Except.Connection)
}

// SendToUser delivers to local connections first, then publishes for the
// other servers that hold a connection of userId.
func (h *RedisHub) SendToUser(ctx context.Context, userId int64, message []byte, exceptConnection string) (int, error) {
	sent, _ := h.Hub.SendToUser(ctx, userId, message, exceptConnection)

	servers, err := h.redisClient.SMembers(ctx, presenceKey(userId)).Result()
	if err != nil {
		return sent, fmt.Errorf("%w: %v", ErrRemotePresence, err)
	}

	remote := false
	for _, s := range servers {
		if s != h.serverID {
			remote = true
			break
		}
	}
	if !remote {
		return sent, nil
	}

	err = h.publish(ctx, userChannel(userId), RedisMessage{
		FromServerID: h.serverID,
		ToUserID:     userId,
		Except:       Exclusion{Connection: exceptConnection},
		Payload:      message,
	})
	return sent, err
}

func (h *RedisHub) Broadcast(ctx context.Context, message []byte, exclude Exclusion) (int, error) {
	sent, _ := h.Hub.Broadcast(ctx, message, exclude)

	err := h.publish(ctx, broadcastChannel, RedisMessage{
		FromServerID: h.serverID,
		Except:       exclude,
		Payload:      message,
	})
	return sent, err
}

func (h *RedisHub) publish(ctx context.Context, channel string, redisMsg RedisMessage) error {
	msgBytes, err := json.Marshal(redisMsg)
	if err != nil {
		return fmt.Errorf("marshal redis message: %w", err)
	}
	if err := h.redisClient.Publish(ctx, channel, msgBytes).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRemotePresence, err)
	}
	return nil
}
