package usecase

import (
	"context"
	"time"

	"staffchat/infrastructure/ws"
	"staffchat/internal/entity"
	"staffchat/internal/repository"
	"staffchat/internal/unread"

	"go.uber.org/zap"
)

type UnreadUsecase interface {
	// Join enrolls the user in broadcast fan-out and, on the first call
	// since start-up, rebuilds the user's counters from the message store.
	Join(ctx context.Context, userId int64) error
	Status(userId int64) []entity.UnreadStatus
	// MarkAsRead resets the counter and returns its previous value.
	MarkAsRead(ctx context.Context, userId int64, ref entity.ConversationRef) (int, error)
}

type unreadUsecase struct {
	messageRepo    repository.MessageRepository
	groupRepo      repository.GroupRepository
	readMarkerRepo repository.ReadMarkerRepository
	tracker        *unread.Tracker
	health         *Health
	push           pusher
	storeTimeout   time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

func NewUnreadUsecase(
	messageRepo repository.MessageRepository,
	groupRepo repository.GroupRepository,
	readMarkerRepo repository.ReadMarkerRepository,
	tracker *unread.Tracker,
	hub ws.IHub,
	health *Health,
	storeTimeout time.Duration,
	logger *zap.Logger,
) UnreadUsecase {
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	logger = logger.Named("unread")
	return &unreadUsecase{
		messageRepo:    messageRepo,
		groupRepo:      groupRepo,
		readMarkerRepo: readMarkerRepo,
		tracker:        tracker,
		health:         health,
		push:           pusher{hub: hub, logger: logger},
		storeTimeout:   storeTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

func (u *unreadUsecase) Join(ctx context.Context, userId int64) error {
	u.tracker.Touch(userId, entity.BroadcastKey)

	if !u.tracker.BeginHydration(userId) {
		return nil
	}
	if err := u.hydrate(ctx, userId); err != nil {
		u.tracker.AbortHydration(userId)
		return u.health.Fail(ctx, err)
	}
	u.tracker.FinishHydration(userId)
	return nil
}

// hydrate counts, per conversation, the messages newer than the user's read
// marker. Broadcast is only rebuilt for users who have marked it read
// before; private and group conversations without a marker count from the
// beginning.
func (u *unreadUsecase) hydrate(ctx context.Context, userId int64) error {
	storeCtx, cancel := context.WithTimeout(ctx, u.storeTimeout)
	defer cancel()

	markers, err := u.readMarkerRepo.GetByUser(storeCtx, userId)
	if err != nil {
		return err
	}
	since := make(map[entity.ConversationKey]time.Time, len(markers))
	for _, m := range markers {
		since[m.ConversationKey] = m.LastReadAt
	}

	keys := make([]entity.ConversationKey, 0)
	if _, ok := since[entity.BroadcastKey]; ok {
		keys = append(keys, entity.BroadcastKey)
	}

	groups, err := u.groupRepo.IndexByMember(storeCtx, userId)
	if err != nil {
		return err
	}
	for _, g := range groups {
		keys = append(keys, entity.GroupKey(g.Id))
	}

	peers, err := u.messageRepo.PrivatePeers(storeCtx, userId)
	if err != nil {
		return err
	}
	for _, p := range peers {
		keys = append(keys, entity.PrivateKey(userId, p))
	}

	for _, key := range keys {
		count, last, err := u.messageRepo.CountSince(storeCtx, key, userId, since[key])
		if err != nil {
			return err
		}
		if count > 0 {
			u.tracker.Seed(userId, key, count, last)
		}
	}

	u.logger.Debug("unread counters rebuilt", zap.Int64("user", userId), zap.Int("conversations", len(keys)))
	return nil
}

func (u *unreadUsecase) Status(userId int64) []entity.UnreadStatus {
	return u.tracker.Status(userId)
}

func (u *unreadUsecase) MarkAsRead(ctx context.Context, userId int64, ref entity.ConversationRef) (int, error) {
	key, err := ref.Key(userId)
	if err != nil {
		return 0, ErrInvalidAddressing
	}

	previous := u.tracker.Reset(userId, key)
	u.persistRead(ctx, userId, key)

	if payload, err := EncodeEvent(entity.EventUnreadStatus, u.tracker.Status(userId)); err == nil {
		u.push.toUser(ctx, userId, payload, "")
	}
	return previous, nil
}

// persistRead is best effort: the in-memory counter is already reset.
func (u *unreadUsecase) persistRead(ctx context.Context, userId int64, key entity.ConversationKey) {
	at := u.now()
	storeCtx, cancel := context.WithTimeout(ctx, u.storeTimeout)
	defer cancel()

	if err := u.readMarkerRepo.Upsert(storeCtx, entity.ReadMarker{UserId: userId, ConversationKey: key, LastReadAt: at}); err != nil {
		err = u.health.Fail(ctx, err)
		u.logger.Warn("save read marker", zap.Int64("user", userId), zap.String("conversation", key.String()), zap.Error(err))
		return
	}
	if _, err := u.messageRepo.MarkRead(storeCtx, key, userId, at); err != nil {
		err = u.health.Fail(ctx, err)
		u.logger.Warn("stamp readAt", zap.Int64("user", userId), zap.String("conversation", key.String()), zap.Error(err))
	}
}
