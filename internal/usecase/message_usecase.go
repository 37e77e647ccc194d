package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"staffchat/infrastructure/ws"
	"staffchat/internal/entity"
	"staffchat/internal/repository"
	"staffchat/internal/unread"
	"staffchat/pkg/keylock"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	DefaultMaxTextLength = 1000
	DefaultStoreTimeout  = 5 * time.Second
	DefaultHistoryLimit  = 100
)

type MessageUsecase interface {
	// Submit persists a message and fans it out to every recipient.
	Submit(ctx context.Context, req entity.SendMessageRequest) (entity.Message, error)
	History(ctx context.Context, userId int64, ref entity.ConversationRef, beforeId int64, limit int) ([]entity.Message, error)
}

type MessageOptions struct {
	MaxTextLength int
	StoreTimeout  time.Duration
	HistoryLimit  int
}

func (o MessageOptions) withDefaults() MessageOptions {
	if o.MaxTextLength <= 0 {
		o.MaxTextLength = DefaultMaxTextLength
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	return o
}

type messageUsecase struct {
	messageRepo repository.MessageRepository
	groupRepo   repository.GroupRepository
	tracker     *unread.Tracker
	health      *Health
	push        pusher
	locks       *keylock.KeyLock
	validate    *validator.Validate
	opts        MessageOptions
	logger      *zap.Logger
	now         func() time.Time
}

func NewMessageUsecase(
	messageRepo repository.MessageRepository,
	groupRepo repository.GroupRepository,
	tracker *unread.Tracker,
	hub ws.IHub,
	health *Health,
	opts MessageOptions,
	logger *zap.Logger,
) MessageUsecase {
	logger = logger.Named("message")
	return &messageUsecase{
		messageRepo: messageRepo,
		groupRepo:   groupRepo,
		tracker:     tracker,
		health:      health,
		push:        pusher{hub: hub, logger: logger},
		locks:       keylock.New(0),
		validate:    validator.New(),
		opts:        opts.withDefaults(),
		logger:      logger,
		now:         time.Now,
	}
}

func (u *messageUsecase) validateContent(req entity.SendMessageRequest) error {
	if strings.TrimSpace(req.Text) == "" && req.Attachment == nil {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(req.Text) > u.opts.MaxTextLength {
		return ErrPayloadTooLarge
	}
	if req.Attachment != nil {
		if err := u.validate.Struct(req.Attachment); err != nil {
			return errors.Join(ErrInvalidAttachment, err)
		}
	}
	return nil
}

func (u *messageUsecase) Submit(ctx context.Context, req entity.SendMessageRequest) (entity.Message, error) {
	key, err := ResolveConversation(req.SenderId, req.ReceiverId, req.GroupId)
	if err != nil {
		return entity.Message{}, err
	}
	if err := u.validateContent(req); err != nil {
		return entity.Message{}, err
	}
	if u.health.Degraded() {
		return entity.Message{}, ErrStoreUnavailable
	}

	// Persist, count and push of one conversation happen in submission order.
	unlock := u.locks.Lock(string(key))
	defer unlock()

	recipients, err := u.recipients(ctx, key, req.SenderId)
	if err != nil {
		return entity.Message{}, err
	}

	message := entity.Message{
		SenderId:        req.SenderId,
		Text:            req.Text,
		Attachment:      req.Attachment,
		ConversationKey: key,
		CreatedAt:       u.now(),
	}
	switch key.Type() {
	case entity.ChatTypePrivate:
		receiver, _ := key.Peer(req.SenderId)
		if receiver == 0 {
			receiver = req.SenderId
		}
		message.ReceiverId = &receiver
	case entity.ChatTypeGroup:
		groupId, _ := key.GroupId()
		message.GroupId = &groupId
	}

	storeCtx, cancel := context.WithTimeout(ctx, u.opts.StoreTimeout)
	message, err = u.messageRepo.Create(storeCtx, message)
	cancel()
	if err != nil {
		err = u.health.Fail(ctx, err)
		u.logger.Error("persist message", zap.String("conversation", key.String()), zap.Error(err))
		return entity.Message{}, err
	}

	for _, r := range recipients {
		u.tracker.Increment(r, key, message.CreatedAt)
	}

	payload, err := EncodeEvent(entity.EventChatMessage, message)
	if err != nil {
		u.logger.Error("encode message", zap.Int64("message", message.Id), zap.Error(err))
		return message, nil
	}

	if key == entity.BroadcastKey {
		u.push.toEveryone(ctx, payload, ws.Exclusion{Connection: req.OriginConnection})
	} else {
		u.push.toUsers(ctx, recipients, payload)
		u.push.toUser(ctx, req.SenderId, payload, req.OriginConnection)
	}

	u.logger.Debug("message delivered",
		zap.Int64("message", message.Id),
		zap.String("conversation", key.String()),
		zap.Int("recipients", len(recipients)))
	return message, nil
}

// recipients never includes the sender.
func (u *messageUsecase) recipients(ctx context.Context, key entity.ConversationKey, senderId int64) ([]int64, error) {
	switch key.Type() {
	case entity.ChatTypePrivate:
		receiver, _ := key.Peer(senderId)
		if receiver == 0 || receiver == senderId {
			return nil, nil
		}
		return []int64{receiver}, nil

	case entity.ChatTypeGroup:
		groupId, _ := key.GroupId()
		storeCtx, cancel := context.WithTimeout(ctx, u.opts.StoreTimeout)
		defer cancel()
		members, err := groupMembers(storeCtx, u.groupRepo, groupId)
		if err != nil {
			if errors.Is(err, ErrStoreUnavailable) {
				return nil, u.health.Fail(ctx, err)
			}
			return nil, err
		}
		return without(members, senderId), nil
	}

	return without(u.tracker.Audience(entity.BroadcastKey), senderId), nil
}

func (u *messageUsecase) History(ctx context.Context, userId int64, ref entity.ConversationRef, beforeId int64, limit int) ([]entity.Message, error) {
	key, err := ref.Key(userId)
	if err != nil {
		return nil, ErrInvalidAddressing
	}
	if limit <= 0 || limit > u.opts.HistoryLimit {
		limit = u.opts.HistoryLimit
	}

	storeCtx, cancel := context.WithTimeout(ctx, u.opts.StoreTimeout)
	defer cancel()

	if groupId, ok := key.GroupId(); ok {
		members, err := groupMembers(storeCtx, u.groupRepo, groupId)
		if err != nil {
			return nil, err
		}
		if !contains(members, userId) {
			return nil, ErrNotParticipant
		}
	}

	messages, err := u.messageRepo.Index(storeCtx, entity.MessageIndexFilter{
		ConversationKey: key,
		BeforeId:        beforeId,
		Limit:           limit,
	})
	if err != nil {
		return nil, u.health.Fail(ctx, err)
	}
	return messages, nil
}
