package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"staffchat/infrastructure/ws"
	"staffchat/internal/entity"
	"staffchat/internal/repository"

	"github.com/goccy/go-json"
)

func TestSubmitPrivateMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	origin := f.connect(t, 1)
	otherDevice := f.connect(t, 1)
	receiver := f.connect(t, 2)

	msg, err := f.messages.Submit(ctx, entity.SendMessageRequest{
		SenderId: 1, ReceiverId: int64Ptr(2), Text: "hi", OriginConnection: origin.Id,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	key := entity.PrivateKey(1, 2)
	if msg.Id == 0 || msg.ConversationKey != key || msg.ReadAt != nil {
		t.Fatalf("persisted message = %+v", msg)
	}
	if msg.ReceiverId == nil || *msg.ReceiverId != 2 || msg.GroupId != nil {
		t.Fatalf("addressing = receiver %v group %v", msg.ReceiverId, msg.GroupId)
	}
	if got := f.tracker.Count(2, key); got != 1 {
		t.Fatalf("receiver unread = %d, want 1", got)
	}
	if got := f.tracker.Count(1, key); got != 0 {
		t.Fatalf("sender unread = %d, want 0", got)
	}

	if got := drainEvents(t, origin); len(got) != 0 {
		t.Fatalf("origin connection got %d events", len(got))
	}
	if got := eventsOfType(drainEvents(t, otherDevice), entity.EventChatMessage); len(got) != 1 {
		t.Fatalf("sender's other device got %d chat messages, want 1", len(got))
	}
	pushed := eventsOfType(drainEvents(t, receiver), entity.EventChatMessage)
	if len(pushed) != 1 {
		t.Fatalf("receiver got %d chat messages, want 1", len(pushed))
	}
	var live entity.Message
	if err := json.Unmarshal(pushed[0].Data, &live); err != nil {
		t.Fatalf("decode pushed message: %v", err)
	}
	if live.Id != msg.Id || live.Text != "hi" {
		t.Fatalf("pushed message = %+v", live)
	}

	history, err := f.messages.History(ctx, 2, entity.ConversationRef{ChatType: entity.ChatTypePrivate, ChatId: 1}, 0, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Id != msg.Id || history[0].ReadAt != nil {
		t.Fatalf("history = %+v", history)
	}
}

func TestSubmitGroupMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	groupId := f.group(t, 1, 2, 3)

	origin := f.connect(t, 1)
	otherDevice := f.connect(t, 1)
	u2 := f.connect(t, 2)
	u3 := f.connect(t, 3)
	outsider := f.connect(t, 4)

	if _, err := f.messages.Submit(ctx, entity.SendMessageRequest{
		SenderId: 1, GroupId: int64Ptr(groupId), Text: "shift swap?", OriginConnection: origin.Id,
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	key := entity.GroupKey(groupId)
	for user, want := range map[int64]int{1: 0, 2: 1, 3: 1, 4: 0} {
		if got := f.tracker.Count(user, key); got != want {
			t.Errorf("unread of user %d = %d, want %d", user, got, want)
		}
	}

	tests := []struct {
		name   string
		client *ws.UserClient
		want   int
	}{
		{"origin", origin, 0},
		{"sender other device", otherDevice, 1},
		{"member 2", u2, 1},
		{"member 3", u3, 1},
		{"non-member", outsider, 0},
	}
	for _, tt := range tests {
		if got := len(eventsOfType(drainEvents(t, tt.client), entity.EventChatMessage)); got != tt.want {
			t.Errorf("%s got %d chat messages, want %d", tt.name, got, tt.want)
		}
	}
}

func TestSubmitUsesMembershipAtSendTime(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	groupId := f.group(t, 1, 2)

	if _, err := f.messages.Submit(ctx, entity.SendMessageRequest{SenderId: 1, GroupId: int64Ptr(groupId), Text: "one"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.db.Exec(`INSERT INTO chat_group_members (group_id, user_id) VALUES (?, 3)`, groupId); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := f.messages.Submit(ctx, entity.SendMessageRequest{SenderId: 1, GroupId: int64Ptr(groupId), Text: "two"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	key := entity.GroupKey(groupId)
	if got := f.tracker.Count(2, key); got != 2 {
		t.Fatalf("member 2 unread = %d, want 2", got)
	}
	if got := f.tracker.Count(3, key); got != 1 {
		t.Fatalf("late member unread = %d, want 1", got)
	}
}

func TestSubmitRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     entity.SendMessageRequest
		wantErr error
	}{
		{"receiver and group", entity.SendMessageRequest{SenderId: 1, ReceiverId: int64Ptr(2), GroupId: int64Ptr(5), Text: "x"}, ErrInvalidAddressing},
		{"unknown group", entity.SendMessageRequest{SenderId: 1, GroupId: int64Ptr(999), Text: "x"}, ErrGroupNotFound},
		{"empty", entity.SendMessageRequest{SenderId: 1, ReceiverId: int64Ptr(2), Text: "   "}, ErrEmptyMessage},
		{"too long", entity.SendMessageRequest{SenderId: 1, ReceiverId: int64Ptr(2), Text: strings.Repeat("é", DefaultMaxTextLength+1)}, ErrPayloadTooLarge},
		{"bad attachment", entity.SendMessageRequest{SenderId: 1, ReceiverId: int64Ptr(2), Attachment: &entity.Attachment{Url: "not a url"}}, ErrInvalidAttachment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			ctx := context.Background()
			if _, err := f.messages.Submit(ctx, tt.req); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Submit err = %v, want %v", err, tt.wantErr)
			}

			var rows int
			if err := f.db.Get(&rows, `SELECT COUNT(*) FROM messages`); err != nil {
				t.Fatalf("count rows: %v", err)
			}
			if rows != 0 {
				t.Fatalf("%d rows persisted after rejection", rows)
			}
		})
	}
}

func TestSubmitAcceptsLimitInCharacters(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	text := strings.Repeat("é", DefaultMaxTextLength)
	if _, err := f.messages.Submit(context.Background(), entity.SendMessageRequest{SenderId: 1, ReceiverId: int64Ptr(2), Text: text}); err != nil {
		t.Fatalf("Submit at limit: %v", err)
	}
}

func TestSubmitAttachmentOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	att := &entity.Attachment{Url: "https://files.local/leave.pdf", OriginalName: "leave.pdf", MimeType: "application/pdf", SizeBytes: 512}
	msg, err := f.messages.Submit(context.Background(), entity.SendMessageRequest{SenderId: 1, ReceiverId: int64Ptr(2), Attachment: att})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if msg.Attachment == nil || msg.Text != "" {
		t.Fatalf("message = %+v", msg)
	}
}

type failingMessageRepo struct {
	repository.MessageRepository
}

func (failingMessageRepo) Create(context.Context, entity.Message) (entity.Message, error) {
	return entity.Message{}, errors.New("connection refused")
}

func TestSubmitStoreUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.rebuild(failingMessageRepo{f.messageRepo})
	receiver := f.connect(t, 2)

	_, err := f.messages.Submit(ctx, entity.SendMessageRequest{SenderId: 1, ReceiverId: int64Ptr(2), Text: "hi"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Submit err = %v, want ErrStoreUnavailable", err)
	}
	if got := f.tracker.Count(2, entity.PrivateKey(1, 2)); got != 0 {
		t.Fatalf("unread incremented to %d", got)
	}
	if got := drainEvents(t, receiver); len(got) != 0 {
		t.Fatalf("receiver got %d events", len(got))
	}
	if !f.health.Degraded() {
		t.Fatal("health not degraded after store failure")
	}

	f.rebuild(f.messageRepo)
	if _, err := f.messages.Submit(ctx, entity.SendMessageRequest{SenderId: 1, ReceiverId: int64Ptr(2), Text: "hi"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Submit while degraded = %v, want ErrStoreUnavailable", err)
	}

	if err := f.health.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if f.health.Degraded() {
		t.Fatal("health still degraded after successful ping")
	}
	if _, err := f.messages.Submit(ctx, entity.SendMessageRequest{SenderId: 1, ReceiverId: int64Ptr(2), Text: "hi"}); err != nil {
		t.Fatalf("Submit after recovery: %v", err)
	}
}

func TestSubmitAbandonedByCallerKeepsStoreHealthy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	receiver := f.connect(t, 2)
	gone, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.messages.Submit(gone, entity.SendMessageRequest{SenderId: 1, ReceiverId: int64Ptr(2), Text: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("abandoned submit reported as store outage: %v", err)
	}
	if f.health.Degraded() {
		t.Fatal("health degraded by a cancelled caller")
	}
	if got := drainEvents(t, receiver); len(got) != 0 {
		t.Fatalf("receiver got %d events for an abandoned submit", len(got))
	}

	if _, err := f.messages.Submit(context.Background(), entity.SendMessageRequest{SenderId: 3, ReceiverId: int64Ptr(2), Text: "still here"}); err != nil {
		t.Fatalf("Submit from another caller: %v", err)
	}
	if got := f.tracker.Count(2, entity.PrivateKey(2, 3)); got != 1 {
		t.Fatalf("unread = %d, want 1", got)
	}
}

func TestSubmitPreservesOrderPerConversation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	receiver := f.connect(t, 2)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.messages.Submit(ctx, entity.SendMessageRequest{SenderId: 1, ReceiverId: int64Ptr(2), Text: "tick"}); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}()
	}
	wg.Wait()

	pushed := eventsOfType(drainEvents(t, receiver), entity.EventChatMessage)
	if len(pushed) != n {
		t.Fatalf("received %d messages, want %d", len(pushed), n)
	}
	var last int64
	for _, ev := range pushed {
		var m entity.Message
		if err := json.Unmarshal(ev.Data, &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if m.Id <= last {
			t.Fatalf("message %d delivered after %d", m.Id, last)
		}
		last = m.Id
	}
	if got := f.tracker.Count(2, entity.PrivateKey(1, 2)); got != n {
		t.Fatalf("unread = %d, want %d", got, n)
	}
}

func TestBroadcastAudience(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	origin := f.connect(t, 1)
	joined := f.connect(t, 2)
	notJoined := f.connect(t, 3)

	for _, u := range []int64{1, 2} {
		if err := f.unread.Join(ctx, u); err != nil {
			t.Fatalf("Join(%d): %v", u, err)
		}
	}

	msg, err := f.messages.Submit(ctx, entity.SendMessageRequest{SenderId: 1, Text: "fire drill at 10", OriginConnection: origin.Id})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if msg.ReceiverId != nil || msg.GroupId != nil || msg.ConversationKey != entity.BroadcastKey {
		t.Fatalf("broadcast message = %+v", msg)
	}

	if got := f.tracker.Count(2, entity.BroadcastKey); got != 1 {
		t.Fatalf("joined user unread = %d, want 1", got)
	}
	if got := f.tracker.Count(1, entity.BroadcastKey); got != 0 {
		t.Fatalf("sender unread = %d, want 0", got)
	}
	if got := f.tracker.Count(3, entity.BroadcastKey); got != 0 {
		t.Fatalf("unknown user unread = %d, want 0", got)
	}

	if got := len(drainEvents(t, origin)); got != 0 {
		t.Fatalf("origin got %d events", got)
	}
	if got := len(eventsOfType(drainEvents(t, joined), entity.EventChatMessage)); got != 1 {
		t.Fatalf("joined user got %d messages", got)
	}
	if got := len(eventsOfType(drainEvents(t, notJoined), entity.EventChatMessage)); got != 1 {
		t.Fatalf("connected user got %d messages", got)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	groupId := f.group(t, 1, 2)

	var ids []int64
	for i := 0; i < 5; i++ {
		m, err := f.messages.Submit(ctx, entity.SendMessageRequest{SenderId: 1, GroupId: int64Ptr(groupId), Text: "m"})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids = append(ids, m.Id)
	}
	ref := entity.ConversationRef{ChatType: entity.ChatTypeGroup, ChatId: groupId}

	page, err := f.messages.History(ctx, 2, ref, ids[4], 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page) != 2 || page[0].Id != ids[2] || page[1].Id != ids[3] {
		t.Fatalf("page = %+v", page)
	}

	if _, err := f.messages.History(ctx, 9, ref, 0, 0); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("History by non-member = %v, want ErrNotParticipant", err)
	}
	if _, err := f.messages.History(ctx, 1, entity.ConversationRef{ChatType: entity.ChatTypeGroup, ChatId: 999}, 0, 0); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("History unknown group = %v, want ErrGroupNotFound", err)
	}
	if _, err := f.messages.History(ctx, 1, entity.ConversationRef{ChatType: entity.ChatTypePrivate}, 0, 0); !errors.Is(err, ErrInvalidAddressing) {
		t.Fatalf("History private without peer = %v, want ErrInvalidAddressing", err)
	}
}
