package usecase

import (
	"context"
	"fmt"
	"time"

	"staffchat/infrastructure/ws"
	"staffchat/internal/entity"
	"staffchat/internal/repository"
	"staffchat/internal/typing"
	"staffchat/pkg/keylock"

	"go.uber.org/zap"
)

// TypingUsecase relays typing signals. Signals are never persisted and never
// touch unread counters.
type TypingUsecase interface {
	Start(ctx context.Context, userId int64, ref entity.ConversationRef) error
	Stop(ctx context.Context, userId int64, ref entity.ConversationRef) error
	// Sweep expires stale signals and announces each one; it returns how
	// many expired.
	Sweep(ctx context.Context) int
	// ClearUser ends every signal of a user who went offline.
	ClearUser(ctx context.Context, userId int64)
}

type typingUsecase struct {
	manager      *typing.Manager
	groupRepo    repository.GroupRepository
	userRepo     repository.UserRepository
	push         pusher
	locks        *keylock.KeyLock
	storeTimeout time.Duration
	logger       *zap.Logger
}

func NewTypingUsecase(
	manager *typing.Manager,
	groupRepo repository.GroupRepository,
	userRepo repository.UserRepository,
	hub ws.IHub,
	storeTimeout time.Duration,
	logger *zap.Logger,
) TypingUsecase {
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	logger = logger.Named("typing")
	return &typingUsecase{
		manager:      manager,
		groupRepo:    groupRepo,
		userRepo:     userRepo,
		push:         pusher{hub: hub, logger: logger},
		locks:        keylock.New(0),
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

func lockKey(userId int64, key entity.ConversationKey) string {
	return fmt.Sprintf("%s|%d", key, userId)
}

func (u *typingUsecase) Start(ctx context.Context, userId int64, ref entity.ConversationRef) error {
	key, err := ref.Key(userId)
	if err != nil {
		return ErrInvalidAddressing
	}

	unlock := u.locks.Lock(lockKey(userId, key))
	defer unlock()

	audience, err := u.audience(ctx, key, userId)
	if err != nil {
		return err
	}

	u.manager.Start(userId, key)

	payload, err := EncodeEvent(entity.EventTypingStart, entity.TypingStartPayload{
		UserId:   userId,
		Username: u.username(ctx, userId),
		ChatType: key.Type(),
		ChatId:   chatIdFor(key, userId),
	})
	if err != nil {
		return err
	}
	u.deliver(ctx, key, userId, audience, payload)
	return nil
}

func (u *typingUsecase) Stop(ctx context.Context, userId int64, ref entity.ConversationRef) error {
	key, err := ref.Key(userId)
	if err != nil {
		return ErrInvalidAddressing
	}

	unlock := u.locks.Lock(lockKey(userId, key))
	defer unlock()

	if !u.manager.Stop(userId, key) {
		return nil
	}
	return u.announceStop(ctx, userId, key)
}

func (u *typingUsecase) Sweep(ctx context.Context) int {
	expired := u.manager.Sweep()
	for _, sig := range expired {
		u.stopExpired(ctx, sig)
	}
	return len(expired)
}

func (u *typingUsecase) stopExpired(ctx context.Context, sig typing.Signal) {
	unlock := u.locks.Lock(lockKey(sig.UserId, sig.ConversationKey))
	defer unlock()

	// A Start may have landed between eviction and here.
	if u.manager.IsTyping(sig.UserId, sig.ConversationKey) {
		return
	}
	if err := u.announceStop(ctx, sig.UserId, sig.ConversationKey); err != nil {
		u.logger.Debug("announce expired typing", zap.Int64("user", sig.UserId), zap.Error(err))
	}
}

func (u *typingUsecase) ClearUser(ctx context.Context, userId int64) {
	for _, sig := range u.manager.ClearUser(userId) {
		unlock := u.locks.Lock(lockKey(sig.UserId, sig.ConversationKey))
		if err := u.announceStop(ctx, sig.UserId, sig.ConversationKey); err != nil {
			u.logger.Debug("announce typing stop", zap.Int64("user", userId), zap.Error(err))
		}
		unlock()
	}
}

func (u *typingUsecase) announceStop(ctx context.Context, userId int64, key entity.ConversationKey) error {
	audience, err := u.audience(ctx, key, userId)
	if err != nil {
		return err
	}
	payload, err := EncodeEvent(entity.EventTypingStop, entity.TypingStopPayload{
		UserId:   userId,
		ChatType: key.Type(),
		ChatId:   chatIdFor(key, userId),
	})
	if err != nil {
		return err
	}
	u.deliver(ctx, key, userId, audience, payload)
	return nil
}

// audience lists who sees userId typing in key. Broadcast returns nil and is
// delivered to everyone.
func (u *typingUsecase) audience(ctx context.Context, key entity.ConversationKey, userId int64) ([]int64, error) {
	switch key.Type() {
	case entity.ChatTypePrivate:
		peer, _ := key.Peer(userId)
		if peer == userId {
			return nil, nil
		}
		return []int64{peer}, nil

	case entity.ChatTypeGroup:
		groupId, _ := key.GroupId()
		storeCtx, cancel := context.WithTimeout(ctx, u.storeTimeout)
		defer cancel()
		members, err := groupMembers(storeCtx, u.groupRepo, groupId)
		if err != nil {
			return nil, err
		}
		if !contains(members, userId) {
			return nil, ErrNotParticipant
		}
		return without(members, userId), nil
	}
	return nil, nil
}

func (u *typingUsecase) deliver(ctx context.Context, key entity.ConversationKey, userId int64, audience []int64, payload []byte) {
	if key == entity.BroadcastKey {
		u.push.toEveryone(ctx, payload, ws.Exclusion{UserId: userId})
		return
	}
	u.push.toUsers(ctx, audience, payload)
}

// chatIdFor is the conversation id as the receivers of userId's signal see
// it: the typer for private chats, the group id for groups.
func chatIdFor(key entity.ConversationKey, userId int64) int64 {
	switch key.Type() {
	case entity.ChatTypePrivate:
		return userId
	case entity.ChatTypeGroup:
		groupId, _ := key.GroupId()
		return groupId
	}
	return 0
}

func (u *typingUsecase) username(ctx context.Context, userId int64) string {
	storeCtx, cancel := context.WithTimeout(ctx, u.storeTimeout)
	defer cancel()

	user, err := u.userRepo.Get(storeCtx, userId)
	if err != nil {
		u.logger.Debug("lookup username", zap.Int64("user", userId), zap.Error(err))
		return ""
	}
	return user.Username
}
