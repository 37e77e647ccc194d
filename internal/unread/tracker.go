// Package unread keeps per-user, per-conversation unread counters in memory.
//
// Counters are sharded by user id. All counters of one user live on the same
// shard, so updates for a (user, conversation) pair are serialized while
// different users proceed in parallel.
package unread

import (
	"sort"
	"sync"
	"time"

	"staffchat/internal/entity"
)

const defaultShards = 64

type counter struct {
	count         int
	lastMessageAt time.Time
}

type userState struct {
	counters  map[entity.ConversationKey]*counter
	hydration hydrationState
	// readWhileHydrating holds keys reset during a rebuild; Seed skips them.
	readWhileHydrating map[entity.ConversationKey]struct{}
}

type hydrationState int

const (
	notHydrated hydrationState = iota
	hydrating
	hydrated
)

type shard struct {
	mu    sync.Mutex
	users map[int64]*userState
}

type Tracker struct {
	shards []shard
}

func NewTracker() *Tracker {
	t := &Tracker{shards: make([]shard, defaultShards)}
	for i := range t.shards {
		t.shards[i].users = make(map[int64]*userState)
	}
	return t
}

func (t *Tracker) shardFor(userId int64) *shard {
	idx := uint64(userId) % uint64(len(t.shards))
	return &t.shards[idx]
}

// state must be called with the shard lock held.
func (s *shard) state(userId int64) *userState {
	st, ok := s.users[userId]
	if !ok {
		st = &userState{counters: make(map[entity.ConversationKey]*counter)}
		s.users[userId] = st
	}
	return st
}

func (st *userState) counter(key entity.ConversationKey) *counter {
	c, ok := st.counters[key]
	if !ok {
		c = &counter{}
		st.counters[key] = c
	}
	return c
}

func (c *counter) observe(at time.Time) {
	if at.After(c.lastMessageAt) {
		c.lastMessageAt = at
	}
}

// Increment adds one unread message and returns the new count.
func (t *Tracker) Increment(userId int64, key entity.ConversationKey, messageAt time.Time) int {
	s := t.shardFor(userId)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.state(userId).counter(key)
	c.count++
	c.observe(messageAt)
	return c.count
}

// Reset zeroes the counter and returns its previous value. Resetting an
// unknown or zero counter returns 0.
func (t *Tracker) Reset(userId int64, key entity.ConversationKey) int {
	s := t.shardFor(userId)
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.users[userId]
	if !ok {
		return 0
	}
	if st.hydration == hydrating {
		if st.readWhileHydrating == nil {
			st.readWhileHydrating = make(map[entity.ConversationKey]struct{})
		}
		st.readWhileHydrating[key] = struct{}{}
	}
	c, ok := st.counters[key]
	if !ok {
		return 0
	}
	previous := c.count
	c.count = 0
	return previous
}

// Touch records that the user takes part in key without changing counts.
func (t *Tracker) Touch(userId int64, key entity.ConversationKey) {
	s := t.shardFor(userId)
	s.mu.Lock()
	s.state(userId).counter(key)
	s.mu.Unlock()
}

// Seed merges a rebuilt counter, keeping whichever count is larger. A key
// the user read after the rebuild began keeps its live count.
func (t *Tracker) Seed(userId int64, key entity.ConversationKey, count int, lastMessageAt time.Time) {
	s := t.shardFor(userId)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userId)
	if _, read := st.readWhileHydrating[key]; read {
		return
	}
	c := st.counter(key)
	if count > c.count {
		c.count = count
	}
	c.observe(lastMessageAt)
}

func (t *Tracker) Count(userId int64, key entity.ConversationKey) int {
	s := t.shardFor(userId)
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.users[userId]; ok {
		if c, ok := st.counters[key]; ok {
			return c.count
		}
	}
	return 0
}

// Status lists conversations with unread messages, most recent first.
func (t *Tracker) Status(userId int64) []entity.UnreadStatus {
	s := t.shardFor(userId)
	s.mu.Lock()
	out := make([]entity.UnreadStatus, 0)
	if st, ok := s.users[userId]; ok {
		for key, c := range st.counters {
			if c.count == 0 {
				continue
			}
			out = append(out, entity.UnreadStatus{
				ConversationKey: key,
				UnreadCount:     c.count,
				LastMessageAt:   c.lastMessageAt,
			})
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].ConversationKey < out[j].ConversationKey
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// Audience returns every user holding a counter for key, in ascending order.
func (t *Tracker) Audience(key entity.ConversationKey) []int64 {
	var users []int64
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for userId, st := range s.users {
			if _, ok := st.counters[key]; ok {
				users = append(users, userId)
			}
		}
		s.mu.Unlock()
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// BeginHydration returns true exactly once per user until AbortHydration is
// called; the caller then owns rebuilding that user's counters.
func (t *Tracker) BeginHydration(userId int64) bool {
	s := t.shardFor(userId)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(userId)
	if st.hydration != notHydrated {
		return false
	}
	st.hydration = hydrating
	return true
}

func (t *Tracker) FinishHydration(userId int64) {
	t.setHydration(userId, hydrated)
}

func (t *Tracker) AbortHydration(userId int64) {
	t.setHydration(userId, notHydrated)
}

func (t *Tracker) setHydration(userId int64, state hydrationState) {
	s := t.shardFor(userId)
	s.mu.Lock()
	st := s.state(userId)
	st.hydration = state
	st.readWhileHydrating = nil
	s.mu.Unlock()
}
