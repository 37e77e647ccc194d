package entity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type ChatType string

const (
	ChatTypeBroadcast ChatType = "broadcast"
	ChatTypePrivate   ChatType = "private"
	ChatTypeGroup     ChatType = "group"
)

var ErrInvalidConversationKey = errors.New("invalid conversation key")

// ConversationKey identifies a message stream: "broadcast",
// "private:{lo}:{hi}" or "group:{groupId}".
type ConversationKey string

const BroadcastKey ConversationKey = "broadcast"

// PrivateKey is symmetric: PrivateKey(a, b) == PrivateKey(b, a).
func PrivateKey(userA, userB int64) ConversationKey {
	lo, hi := userA, userB
	if lo > hi {
		lo, hi = hi, lo
	}
	return ConversationKey(fmt.Sprintf("private:%d:%d", lo, hi))
}

func GroupKey(groupId int64) ConversationKey {
	return ConversationKey(fmt.Sprintf("group:%d", groupId))
}

func (k ConversationKey) String() string {
	return string(k)
}

func (k ConversationKey) Type() ChatType {
	prefix, _, _ := strings.Cut(string(k), ":")
	return ChatType(prefix)
}

// Participants returns both user ids of a private key.
func (k ConversationKey) Participants() (int64, int64, bool) {
	parsed, err := ParseConversationKey(string(k))
	if err != nil || parsed.ChatType != ChatTypePrivate {
		return 0, 0, false
	}
	return parsed.UserA, parsed.UserB, true
}

// Peer returns the other participant of a private key as seen by self.
func (k ConversationKey) Peer(self int64) (int64, bool) {
	a, b, ok := k.Participants()
	if !ok {
		return 0, false
	}
	switch self {
	case a:
		return b, true
	case b:
		return a, true
	}
	return 0, false
}

// GroupId returns the group id of a group key.
func (k ConversationKey) GroupId() (int64, bool) {
	parsed, err := ParseConversationKey(string(k))
	if err != nil || parsed.ChatType != ChatTypeGroup {
		return 0, false
	}
	return parsed.GroupId, true
}

type ParsedConversationKey struct {
	ChatType ChatType
	UserA    int64
	UserB    int64
	GroupId  int64
}

func ParseConversationKey(raw string) (ParsedConversationKey, error) {
	parts := strings.Split(raw, ":")
	switch ChatType(parts[0]) {
	case ChatTypeBroadcast:
		if len(parts) != 1 {
			return ParsedConversationKey{}, ErrInvalidConversationKey
		}
		return ParsedConversationKey{ChatType: ChatTypeBroadcast}, nil

	case ChatTypePrivate:
		if len(parts) != 3 {
			return ParsedConversationKey{}, ErrInvalidConversationKey
		}
		a, errA := strconv.ParseInt(parts[1], 10, 64)
		b, errB := strconv.ParseInt(parts[2], 10, 64)
		if errA != nil || errB != nil || a <= 0 || b <= 0 || a > b {
			return ParsedConversationKey{}, ErrInvalidConversationKey
		}
		return ParsedConversationKey{ChatType: ChatTypePrivate, UserA: a, UserB: b}, nil

	case ChatTypeGroup:
		if len(parts) != 2 {
			return ParsedConversationKey{}, ErrInvalidConversationKey
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || id <= 0 {
			return ParsedConversationKey{}, ErrInvalidConversationKey
		}
		return ParsedConversationKey{ChatType: ChatTypeGroup, GroupId: id}, nil
	}

	return ParsedConversationKey{}, ErrInvalidConversationKey
}

// ConversationRef is how clients name a conversation: a chat type plus the
// peer user id (private) or group id (group). Broadcast ignores ChatId.
type ConversationRef struct {
	ChatType ChatType `json:"chatType" validate:"required,oneof=broadcast private group"`
	ChatId   int64    `json:"chatId" validate:"gte=0"`
}

// Key resolves the reference from the point of view of self.
func (r ConversationRef) Key(self int64) (ConversationKey, error) {
	switch r.ChatType {
	case ChatTypeBroadcast:
		return BroadcastKey, nil
	case ChatTypePrivate:
		if r.ChatId <= 0 || self <= 0 {
			return "", ErrInvalidConversationKey
		}
		return PrivateKey(self, r.ChatId), nil
	case ChatTypeGroup:
		if r.ChatId <= 0 {
			return "", ErrInvalidConversationKey
		}
		return GroupKey(r.ChatId), nil
	}
	return "", ErrInvalidConversationKey
}

// RefFor is the inverse of Key: how the conversation looks to viewer.
func RefFor(key ConversationKey, viewer int64) ConversationRef {
	switch key.Type() {
	case ChatTypePrivate:
		peer, _ := key.Peer(viewer)
		return ConversationRef{ChatType: ChatTypePrivate, ChatId: peer}
	case ChatTypeGroup:
		groupId, _ := key.GroupId()
		return ConversationRef{ChatType: ChatTypeGroup, ChatId: groupId}
	}
	return ConversationRef{ChatType: ChatTypeBroadcast}
}
