package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"staffchat/infrastructure/db"
	"staffchat/infrastructure/ws"
	wsDelivery "staffchat/internal/delivery/websocket"
	"staffchat/internal/entity"
	"staffchat/internal/repository/sqlite"
	"staffchat/internal/typing"
	"staffchat/internal/unread"
	"staffchat/internal/usecase"
	"staffchat/pkg/jwt"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type testServer struct {
	*httptest.Server
	jwtManager *jwt.JWTManager
	groupId    int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := db.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })

	logger := zap.NewNop()
	hub := ws.NewHub(logger, 0)
	tracker := unread.NewTracker()
	health := usecase.NewHealth(store, logger)
	messageRepo := sqlite.NewMessageRepository(store.DB)
	groupRepo := sqlite.NewGroupRepository(store.DB)

	group, err := groupRepo.Create(context.Background(), entity.Group{Name: "night shift", CreatedBy: 1, MemberIds: []int64{1, 2}})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	messageUc := usecase.NewMessageUsecase(messageRepo, groupRepo, tracker, hub, health, usecase.MessageOptions{}, logger)
	unreadUc := usecase.NewUnreadUsecase(messageRepo, groupRepo, sqlite.NewReadMarkerRepository(store.DB), tracker, hub, health, time.Second, logger)
	typingUc := usecase.NewTypingUsecase(typing.NewManager(3*time.Second), groupRepo, sqlite.NewUserRepository(store.DB), hub, time.Second, logger)

	jwtManager := jwt.NewJWTManager("secret", time.Minute)
	router := chi.NewRouter()
	MapHttpRoutes(router,
		NewHttpHandler(messageUc, unreadUc, hub, health, logger),
		wsDelivery.NewWebsocketHandler(hub, messageUc, unreadUc, typingUc, jwtManager, wsDelivery.Options{}, logger),
		NewAuthMiddleware(jwtManager))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, jwtManager: jwtManager, groupId: group.Id}
}

func (s *testServer) do(t *testing.T, method, path string, userId int64, body any) (int, json.RawMessage) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if userId > 0 {
		token, err := s.jwtManager.GenerateAccessToken(entity.TokenClaims{UserId: userId})
		if err != nil {
			t.Fatalf("GenerateAccessToken: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out struct {
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out.Data
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	status, data := srv.do(t, http.MethodGet, "/health", 0, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var health HealthResponse
	if err := json.Unmarshal(data, &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || health.Connections != 0 {
		t.Fatalf("health = %+v", health)
	}
}

func TestSendAndReadMessages(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	for _, text := range []string{"shift starts at 7", "ok"} {
		status, _ := srv.do(t, http.MethodPost, "/chat/messages", 1, SendMessageRequest{GroupId: &srv.groupId, MessageText: text})
		if status != http.StatusCreated {
			t.Fatalf("POST status = %d", status)
		}
	}

	status, data := srv.do(t, http.MethodGet, "/chat/unread", 2, nil)
	if status != http.StatusOK {
		t.Fatalf("unread status = %d", status)
	}
	var unread []entity.UnreadStatus
	if err := json.Unmarshal(data, &unread); err != nil {
		t.Fatalf("decode unread: %v", err)
	}
	if len(unread) != 1 || unread[0].ConversationKey != entity.GroupKey(srv.groupId) || unread[0].UnreadCount != 2 {
		t.Fatalf("unread = %+v", unread)
	}

	status, data = srv.do(t, http.MethodGet, "/chat/messages?chatType=group&chatId="+itoa(srv.groupId)+"&limit=1", 2, nil)
	if status != http.StatusOK {
		t.Fatalf("history status = %d", status)
	}
	var history []entity.Message
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 1 || history[0].Text != "ok" {
		t.Fatalf("history = %+v", history)
	}

	status, data = srv.do(t, http.MethodPost, "/chat/read", 2, entity.ConversationRef{ChatType: entity.ChatTypeGroup, ChatId: srv.groupId})
	if status != http.StatusOK {
		t.Fatalf("read status = %d", status)
	}
	var read MarkAsReadResponse
	if err := json.Unmarshal(data, &read); err != nil {
		t.Fatalf("decode read: %v", err)
	}
	if read.PreviousCount != 2 {
		t.Fatalf("previousCount = %d, want 2", read.PreviousCount)
	}
}

func TestErrorStatuses(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	receiver := int64(2)
	unknownGroup := int64(404)

	tests := []struct {
		name   string
		method string
		path   string
		userId int64
		body   any
		status int
		code   string
	}{
		{"no token", http.MethodGet, "/chat/unread", 0, nil, http.StatusUnauthorized, ""},
		{"empty message", http.MethodPost, "/chat/messages", 1, SendMessageRequest{ReceiverId: &receiver}, http.StatusBadRequest, "EmptyMessage"},
		{"both targets", http.MethodPost, "/chat/messages", 1, SendMessageRequest{ReceiverId: &receiver, GroupId: &srv.groupId, MessageText: "x"}, http.StatusBadRequest, "InvalidAddressing"},
		{"too long", http.MethodPost, "/chat/messages", 1, SendMessageRequest{ReceiverId: &receiver, MessageText: strings.Repeat("a", 1001)}, http.StatusRequestEntityTooLarge, "PayloadTooLarge"},
		{"unknown group", http.MethodPost, "/chat/messages", 1, SendMessageRequest{GroupId: &unknownGroup, MessageText: "x"}, http.StatusNotFound, "GroupNotFound"},
		{"history of foreign group", http.MethodGet, "/chat/messages?chatType=group&chatId=" + itoa(srv.groupId), 3, nil, http.StatusForbidden, "NotParticipant"},
		{"bad chat type", http.MethodGet, "/chat/messages?chatType=channel", 1, nil, http.StatusBadRequest, "BadRequest"},
		{"bad limit", http.MethodGet, "/chat/messages?chatType=broadcast&limit=ten", 1, nil, http.StatusBadRequest, "BadRequest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, data := srv.do(t, tt.method, tt.path, tt.userId, tt.body)
			if status != tt.status {
				t.Fatalf("status = %d, want %d", status, tt.status)
			}
			if tt.code == "" {
				return
			}
			var e ErrorData
			if err := json.Unmarshal(data, &e); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if e.Code != tt.code {
				t.Fatalf("code = %q, want %q", e.Code, tt.code)
			}
		})
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
