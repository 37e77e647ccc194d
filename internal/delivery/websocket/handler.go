package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"staffchat/infrastructure/ws"
	"staffchat/internal/entity"
	"staffchat/internal/usecase"
	"staffchat/pkg/jwt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrMalformedEvent   = errors.New("malformed event")
	ErrUnknownEventType = errors.New("unknown event type")
)

type Options struct {
	// AllowedOrigin is matched against the Origin header; "*" or empty
	// accepts any origin.
	AllowedOrigin  string
	RequireAuth    bool
	SendBufferSize int
}

type WebsocketHandler struct {
	hub        ws.IHub
	messageUc  usecase.MessageUsecase
	unreadUc   usecase.UnreadUsecase
	typingUc   usecase.TypingUsecase
	jwtManager *jwt.JWTManager
	upgrader   websocket.Upgrader
	validate   *validator.Validate
	opts       Options
	logger     *zap.Logger
}

func NewWebsocketHandler(
	hub ws.IHub,
	messageUc usecase.MessageUsecase,
	unreadUc usecase.UnreadUsecase,
	typingUc usecase.TypingUsecase,
	jwtManager *jwt.JWTManager,
	opts Options,
	logger *zap.Logger,
) *WebsocketHandler {
	h := &WebsocketHandler{
		hub:        hub,
		messageUc:  messageUc,
		unreadUc:   unreadUc,
		typingUc:   typingUc,
		jwtManager: jwtManager,
		validate:   validator.New(),
		opts:       opts,
		logger:     logger.Named("websocket"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WebsocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	return strings.EqualFold(origin, h.opts.AllowedOrigin)
}

// HandleWebSocket upgrades GET /ws. A ?token= query parameter identifies the
// connection up front and pins it to the token's user.
func (h *WebsocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var claims *entity.TokenClaims
	if token := r.URL.Query().Get("token"); token != "" {
		if h.jwtManager == nil {
			http.Error(w, "token authentication is not configured", http.StatusUnauthorized)
			return
		}
		c, err := h.jwtManager.ValidateAccessToken(token)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		claims = c
	} else if h.opts.RequireAuth {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, h.opts.SendBufferSize)
	go client.WritePump(h.logger)

	if claims != nil {
		if err := h.identify(ctx, client, claims.UserId); err != nil {
			h.sendError(client, err)
		}
	}

	client.ReadPump(h.logger, func(data []byte) {
		h.handleMessage(ctx, client, data)
	})
}

// HandleUnregisterClient ends the typing signals of a user whose last
// connection went away.
func (h *WebsocketHandler) HandleUnregisterClient(client *ws.UserClient, lastConnection bool) {
	if !lastConnection {
		return
	}
	h.typingUc.ClearUser(context.Background(), client.UserId())
}

func (h *WebsocketHandler) handleMessage(ctx context.Context, client *ws.UserClient, data []byte) {
	var event IncomingEvent
	if err := json.Unmarshal(data, &event); err != nil {
		h.sendError(client, fmt.Errorf("%w: %v", ErrMalformedEvent, err))
		return
	}

	var err error
	switch event.Type {
	case entity.EventIdentify:
		err = h.handleIdentify(ctx, client, event.Data)
	case entity.EventChatMessage:
		err = h.handleChatMessage(ctx, client, event.Data)
	case entity.EventTypingStart:
		err = h.handleTyping(ctx, client, event.Data, h.typingUc.Start)
	case entity.EventTypingStop:
		err = h.handleTyping(ctx, client, event.Data, h.typingUc.Stop)
	case entity.EventMarkAsRead:
		err = h.handleMarkAsRead(ctx, client, event.Data)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEventType, event.Type)
	}

	if err != nil {
		h.logger.Debug("event rejected",
			zap.String("type", event.Type),
			zap.String("connection", client.Id),
			zap.Int64("user", client.UserId()),
			zap.Error(err))
		h.sendError(client, err)
	}
}

func (h *WebsocketHandler) decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

func (h *WebsocketHandler) handleIdentify(ctx context.Context, client *ws.UserClient, data json.RawMessage) error {
	var req IdentifyRequest
	if err := h.decode(data, &req); err != nil {
		return err
	}
	return h.identify(ctx, client, req.UserId)
}

// identify binds the connection, registers it for delivery, and replies
// with the connection handle and the user's unread summary.
func (h *WebsocketHandler) identify(ctx context.Context, client *ws.UserClient, userId int64) error {
	wasIdentified := client.Identified()
	if err := client.Identify(userId); err != nil {
		if errors.Is(err, ws.ErrAlreadyIdentified) {
			return fmt.Errorf("%w: %v", usecase.ErrSenderMismatch, err)
		}
		return err
	}
	if !wasIdentified {
		h.hub.RegisterClient(client)
	}

	if err := h.unreadUc.Join(ctx, userId); err != nil {
		h.logger.Warn("rebuild unread counters", zap.Int64("user", userId), zap.Error(err))
		h.sendError(client, err)
	}

	h.send(client, entity.EventIdentified, IdentifiedResponse{UserId: userId, ConnectionId: client.Id})

	status := h.unreadUc.Status(userId)
	if status == nil {
		status = []entity.UnreadStatus{}
	}
	h.send(client, entity.EventUnreadStatus, status)
	return nil
}

func (h *WebsocketHandler) handleChatMessage(ctx context.Context, client *ws.UserClient, data json.RawMessage) error {
	userId, err := h.identified(client)
	if err != nil {
		return err
	}

	var req ChatMessageRequest
	if err := h.decode(data, &req); err != nil {
		return err
	}
	// senderId may be omitted; the identified user always sends.
	if req.SenderId != 0 && req.SenderId != userId {
		return usecase.ErrSenderMismatch
	}

	message, err := h.messageUc.Submit(ctx, entity.SendMessageRequest{
		SenderId:         userId,
		ReceiverId:       req.ReceiverId,
		GroupId:          req.GroupId,
		Text:             req.MessageText,
		Attachment:       req.FileData,
		OriginConnection: client.Id,
	})
	if err != nil {
		return err
	}

	h.send(client, entity.EventChatMessageAck, message)
	return nil
}

func (h *WebsocketHandler) handleTyping(
	ctx context.Context,
	client *ws.UserClient,
	data json.RawMessage,
	apply func(ctx context.Context, userId int64, ref entity.ConversationRef) error,
) error {
	userId, err := h.identified(client)
	if err != nil {
		return err
	}

	var req TypingRequest
	if err := h.decode(data, &req); err != nil {
		return err
	}
	if req.UserId != userId {
		return usecase.ErrSenderMismatch
	}
	return apply(ctx, userId, req.ConversationRef)
}

func (h *WebsocketHandler) handleMarkAsRead(ctx context.Context, client *ws.UserClient, data json.RawMessage) error {
	userId, err := h.identified(client)
	if err != nil {
		return err
	}

	var req MarkAsReadRequest
	if err := h.decode(data, &req); err != nil {
		return err
	}
	_, err = h.unreadUc.MarkAsRead(ctx, userId, req.ConversationRef)
	return err
}

func (h *WebsocketHandler) identified(client *ws.UserClient) (int64, error) {
	if !client.Identified() {
		return 0, usecase.ErrNotIdentified
	}
	return client.UserId(), nil
}

func (h *WebsocketHandler) send(client *ws.UserClient, eventType string, data any) {
	payload, err := usecase.EncodeEvent(eventType, data)
	if err != nil {
		h.logger.Error("encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	h.hub.SendToConnection(client, payload)
}

func (h *WebsocketHandler) sendError(client *ws.UserClient, err error) {
	h.send(client, entity.EventError, entity.ErrorPayload{Code: errorCode(err), Message: err.Error()})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrMalformedEvent):
		return "MalformedEvent"
	case errors.Is(err, ErrUnknownEventType):
		return "UnknownEventType"
	}
	return usecase.ErrorCode(err)
}
