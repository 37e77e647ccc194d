package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const (
	hubShards = 32

	DefaultMaxSendFailures = 8
)

type presenceShard struct {
	mu    sync.RWMutex
	users map[int64]map[string]*UserClient
}

// Hub is the in-process presence registry: user id -> live connections.
// Users are spread over shards so that connects and disconnects of different
// users do not contend.
type Hub struct {
	shards []presenceShard
	evict  chan *UserClient

	maxSendFailures int
	logger          *zap.Logger

	hooksMu         sync.RWMutex
	registerHooks   []func(client *UserClient, firstConnection bool)
	unregisterHooks []func(client *UserClient, lastConnection bool)
}

func NewHub(logger *zap.Logger, maxSendFailures int) *Hub {
	if maxSendFailures <= 0 {
		maxSendFailures = DefaultMaxSendFailures
	}
	h := &Hub{
		shards:          make([]presenceShard, hubShards),
		evict:           make(chan *UserClient, 256),
		maxSendFailures: maxSendFailures,
		logger:          logger.Named("hub"),
	}
	for i := range h.shards {
		h.shards[i].users = make(map[int64]map[string]*UserClient)
	}
	return h
}

func (h *Hub) shardFor(userId int64) *presenceShard {
	return &h.shards[uint64(userId)%uint64(len(h.shards))]
}

// Run evicts connections whose queues stay full, until ctx is done. On exit
// every connection is closed.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.evict:
			h.logger.Warn("evicting slow connection", zap.String("connection", client.Id), zap.Int64("user", client.UserId()))
			h.UnregisterClient(client)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *Hub) closeAll() {
	var clients []*UserClient
	for i := range h.shards {
		s := &h.shards[i]
		s.mu.RLock()
		for _, conns := range s.users {
			for _, c := range conns {
				clients = append(clients, c)
			}
		}
		s.mu.RUnlock()
	}
	for _, c := range clients {
		h.UnregisterClient(c)
	}
}

// RegisterClient adds an identified connection and returns how many
// connections its user now holds.
func (h *Hub) RegisterClient(client *UserClient) int {
	userId := client.UserId()
	s := h.shardFor(userId)

	s.mu.Lock()
	conns, ok := s.users[userId]
	if !ok {
		conns = make(map[string]*UserClient)
		s.users[userId] = conns
	}
	conns[client.Id] = client
	count := len(conns)
	s.mu.Unlock()

	h.logger.Info("connected", zap.Int64("user", userId), zap.String("connection", client.Id), zap.Int("connections", count))

	h.hooksMu.RLock()
	hooks := h.registerHooks
	h.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(client, count == 1)
	}
	return count
}

// UnregisterClient removes and closes the connection. Safe to call more than
// once and for connections that never identified.
func (h *Hub) UnregisterClient(client *UserClient) {
	userId := client.UserId()
	if userId == 0 {
		client.Close()
		return
	}
	s := h.shardFor(userId)

	s.mu.Lock()
	conns, ok := s.users[userId]
	if !ok {
		s.mu.Unlock()
		client.Close()
		return
	}
	if _, ok := conns[client.Id]; !ok {
		s.mu.Unlock()
		client.Close()
		return
	}
	delete(conns, client.Id)
	remaining := len(conns)
	if remaining == 0 {
		delete(s.users, userId)
	}
	s.mu.Unlock()

	client.Close()
	h.logger.Info("disconnected", zap.Int64("user", userId), zap.String("connection", client.Id), zap.Int("connections", remaining))

	h.hooksMu.RLock()
	hooks := h.unregisterHooks
	h.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(client, remaining == 0)
	}
}

func (h *Hub) LiveConnectionsFor(userId int64) []*UserClient {
	s := h.shardFor(userId)
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := s.users[userId]
	out := make([]*UserClient, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

func (h *Hub) IsOnline(userId int64) bool {
	s := h.shardFor(userId)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userId]) > 0
}

// SendToUser queues message on every connection of userId except
// exceptConnection and returns how many accepted it.
func (h *Hub) SendToUser(_ context.Context, userId int64, message []byte, exceptConnection string) (int, error) {
	sent := 0
	for _, c := range h.LiveConnectionsFor(userId) {
		if c.Id == exceptConnection {
			continue
		}
		if h.SendToConnection(c, message) {
			sent++
		}
	}
	return sent, nil
}

// SendToConnection never blocks. A connection that keeps refusing messages
// is handed to the run loop for eviction.
func (h *Hub) SendToConnection(client *UserClient, message []byte) bool {
	if client.Send(message) {
		return true
	}
	if client.Failures() >= h.maxSendFailures {
		select {
		case h.evict <- client:
		default:
			go h.UnregisterClient(client)
		}
	} else {
		h.logger.Debug("send queue full", zap.String("connection", client.Id), zap.Int64("user", client.UserId()))
	}
	return false
}

func (h *Hub) Broadcast(_ context.Context, message []byte, exclude Exclusion) (int, error) {
	sent := 0
	for i := range h.shards {
		s := &h.shards[i]
		s.mu.RLock()
		targets := make([]*UserClient, 0)
		for _, conns := range s.users {
			for _, c := range conns {
				if !exclude.skips(c) {
					targets = append(targets, c)
				}
			}
		}
		s.mu.RUnlock()

		for _, c := range targets {
			if h.SendToConnection(c, message) {
				sent++
			}
		}
	}
	return sent, nil
}

func (h *Hub) GetClientCount() int {
	count := 0
	for i := range h.shards {
		s := &h.shards[i]
		s.mu.RLock()
		for _, conns := range s.users {
			count += len(conns)
		}
		s.mu.RUnlock()
	}
	return count
}

func (h *Hub) OnClientRegister(callback func(client *UserClient, firstConnection bool)) {
	h.hooksMu.Lock()
	h.registerHooks = append(h.registerHooks, callback)
	h.hooksMu.Unlock()
}

func (h *Hub) OnClientUnregister(callback func(client *UserClient, lastConnection bool)) {
	h.hooksMu.Lock()
	h.unregisterHooks = append(h.unregisterHooks, callback)
	h.hooksMu.Unlock()
}
