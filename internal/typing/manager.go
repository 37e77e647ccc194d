// Package typing tracks ephemeral "user is typing" signals.
//
// Each (user, conversation) pair is either Idle or Typing. Start moves it to
// Typing and refreshes the TTL, Stop or expiry moves it back to Idle. Expired
// signals are invisible to readers before Sweep physically removes them.
package typing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"staffchat/infrastructure/cache"
	"staffchat/internal/entity"
)

const DefaultTTL = 3 * time.Second

type Signal struct {
	UserId          int64
	ConversationKey entity.ConversationKey
}

type Manager struct {
	ttl   time.Duration
	store *cache.MemCache
}

func NewManager(ttl time.Duration, opts ...cache.Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		ttl:   ttl,
		store: cache.NewMemCache(opts...),
	}
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Keys look like "group:5|42" so that one conversation is a key prefix.
func storeKey(userId int64, key entity.ConversationKey) string {
	return fmt.Sprintf("%s|%d", key, userId)
}

func parseStoreKey(raw string) (Signal, bool) {
	conv, user, ok := strings.Cut(raw, "|")
	if !ok {
		return Signal{}, false
	}
	userId, err := strconv.ParseInt(user, 10, 64)
	if err != nil {
		return Signal{}, false
	}
	return Signal{UserId: userId, ConversationKey: entity.ConversationKey(conv)}, true
}

// Start marks the user as typing and reports whether it was Idle before.
func (m *Manager) Start(userId int64, key entity.ConversationKey) bool {
	k := storeKey(userId, key)
	wasTyping := m.store.Exists(k)
	m.store.Set(k, Signal{UserId: userId, ConversationKey: key}, m.ttl)
	return !wasTyping
}

// Stop returns the pair to Idle and reports whether a signal was pending:
// live, or expired but not yet collected by Sweep. Either way its stop is
// still unannounced.
func (m *Manager) Stop(userId int64, key entity.ConversationKey) bool {
	return m.store.Remove(storeKey(userId, key))
}

func (m *Manager) IsTyping(userId int64, key entity.ConversationKey) bool {
	return m.store.Exists(storeKey(userId, key))
}

// ActiveTypers returns the users currently typing in key, ascending.
func (m *Manager) ActiveTypers(key entity.ConversationKey) []int64 {
	users := make([]int64, 0)
	m.store.RangePrefix(string(key)+"|", func(_ string, v any) bool {
		users = append(users, v.(Signal).UserId)
		return true
	})
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Sweep removes expired signals and returns them.
func (m *Manager) Sweep() []Signal {
	var expired []Signal
	m.store.Evict(func(_ string, v any) {
		expired = append(expired, v.(Signal))
	})
	return expired
}

// ClearUser drops every signal of userId and returns the ones that were active.
func (m *Manager) ClearUser(userId int64) []Signal {
	suffix := "|" + strconv.FormatInt(userId, 10)
	var keys []string
	m.store.Range(func(k string, _ any) bool {
		if strings.HasSuffix(k, suffix) {
			keys = append(keys, k)
		}
		return true
	})

	cleared := make([]Signal, 0, len(keys))
	for _, k := range keys {
		if !m.store.Delete(k) {
			continue
		}
		if sig, ok := parseStoreKey(k); ok {
			cleared = append(cleared, sig)
		}
	}
	return cleared
}
