package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"staffchat/infrastructure/db"
	"staffchat/internal/entity"
	"staffchat/internal/repository"

	"github.com/jmoiron/sqlx"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	store, err := db.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	return store.DB
}

func int64Ptr(v int64) *int64 { return &v }

func TestMessageCreateAssignsIncreasingIds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMessageRepository(openTestDB(t))
	key := entity.PrivateKey(1, 2)
	now := time.Date(2024, 5, 1, 9, 0, 0, 123456789, time.UTC)

	first, err := repo.Create(ctx, entity.Message{SenderId: 1, ReceiverId: int64Ptr(2), Text: "hi", ConversationKey: key, CreatedAt: now})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := repo.Create(ctx, entity.Message{SenderId: 2, ReceiverId: int64Ptr(1), Text: "hello", ConversationKey: key, CreatedAt: now})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if second.Id <= first.Id {
		t.Fatalf("ids not increasing: %d then %d", first.Id, second.Id)
	}
	if !first.CreatedAt.Equal(now.Truncate(time.Millisecond)) {
		t.Fatalf("CreatedAt = %v, want millisecond precision", first.CreatedAt)
	}
}

func TestMessageIndexPagesAscending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMessageRepository(openTestDB(t))
	key := entity.GroupKey(4)
	other := entity.GroupKey(5)

	var ids []int64
	for i := 0; i < 5; i++ {
		m, err := repo.Create(ctx, entity.Message{SenderId: 1, GroupId: int64Ptr(4), Text: "m", ConversationKey: key, CreatedAt: time.Now()})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, m.Id)
	}
	if _, err := repo.Create(ctx, entity.Message{SenderId: 1, GroupId: int64Ptr(5), Text: "x", ConversationKey: other, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name   string
		filter entity.MessageIndexFilter
		want   []int64
	}{
		{"all", entity.MessageIndexFilter{ConversationKey: key}, ids},
		{"latest two", entity.MessageIndexFilter{ConversationKey: key, Limit: 2}, ids[3:]},
		{"before", entity.MessageIndexFilter{ConversationKey: key, BeforeId: ids[3], Limit: 2}, ids[1:3]},
		{"empty", entity.MessageIndexFilter{ConversationKey: entity.GroupKey(99)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Index(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Index: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d messages, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Id != tt.want[i] {
					t.Fatalf("message %d id = %d, want %d", i, got[i].Id, tt.want[i])
				}
			}
		})
	}
}

func TestMessageAttachmentRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMessageRepository(openTestDB(t))
	att := &entity.Attachment{Url: "https://files.local/roster.pdf", OriginalName: "roster.pdf", MimeType: "application/pdf", SizeBytes: 2048}

	created, err := repo.Create(ctx, entity.Message{SenderId: 3, Attachment: att, ConversationKey: entity.BroadcastKey, CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Index(ctx, entity.MessageIndexFilter{ConversationKey: entity.BroadcastKey})
	if err != nil || len(got) != 1 {
		t.Fatalf("Index = %v, %v", got, err)
	}
	m := got[0]
	if m.Id != created.Id || m.Text != "" || m.ReceiverId != nil || m.GroupId != nil || m.ReadAt != nil {
		t.Fatalf("unexpected message %+v", m)
	}
	if m.Attachment == nil || *m.Attachment != *att {
		t.Fatalf("Attachment = %+v, want %+v", m.Attachment, att)
	}
}

func TestMarkReadAndCountSince(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMessageRepository(openTestDB(t))
	key := entity.PrivateKey(1, 2)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, sender := range []int64{1, 2, 1, 1} {
		receiver := int64(2)
		if sender == 2 {
			receiver = 1
		}
		_, err := repo.Create(ctx, entity.Message{
			SenderId: sender, ReceiverId: int64Ptr(receiver), Text: "m",
			ConversationKey: key, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	count, last, err := repo.CountSince(ctx, key, 2, time.Time{})
	if err != nil {
		t.Fatalf("CountSince: %v", err)
	}
	if count != 3 || !last.Equal(base.Add(3*time.Minute)) {
		t.Fatalf("CountSince = (%d, %v), want (3, %v)", count, last, base.Add(3*time.Minute))
	}

	count, _, err = repo.CountSince(ctx, key, 2, base.Add(time.Minute))
	if err != nil || count != 2 {
		t.Fatalf("CountSince after watermark = (%d, %v), want 2", count, err)
	}

	marked, err := repo.MarkRead(ctx, key, 2, base.Add(time.Hour))
	if err != nil || marked != 3 {
		t.Fatalf("MarkRead = (%d, %v), want 3", marked, err)
	}
	again, err := repo.MarkRead(ctx, key, 2, base.Add(2*time.Hour))
	if err != nil || again != 0 {
		t.Fatalf("second MarkRead = (%d, %v), want 0", again, err)
	}

	msgs, err := repo.Index(ctx, entity.MessageIndexFilter{ConversationKey: key})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	for _, m := range msgs {
		if m.SenderId == 2 && m.ReadAt != nil {
			t.Fatalf("reader's own message %d got readAt", m.Id)
		}
		if m.SenderId == 1 && (m.ReadAt == nil || !m.ReadAt.Equal(base.Add(time.Hour))) {
			t.Fatalf("message %d readAt = %v", m.Id, m.ReadAt)
		}
	}

	peers, err := repo.PrivatePeers(ctx, 2)
	if err != nil || len(peers) != 1 || peers[0] != 1 {
		t.Fatalf("PrivatePeers = %v, %v", peers, err)
	}
}

func TestGroupRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewGroupRepository(openTestDB(t))

	if _, err := repo.Create(ctx, entity.Group{Name: "empty", CreatedBy: 1}); !errors.Is(err, repository.ErrEmptyGroup) {
		t.Fatalf("Create empty = %v, want ErrEmptyGroup", err)
	}

	night, err := repo.Create(ctx, entity.Group{Name: "night shift", CreatedBy: 1, MemberIds: []int64{3, 1, 2}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.Create(ctx, entity.Group{Name: "managers", CreatedBy: 1, MemberIds: []int64{1}}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	members, err := repo.MembersOf(ctx, night.Id)
	if err != nil {
		t.Fatalf("MembersOf: %v", err)
	}
	if len(members) != 3 || members[0] != 1 || members[2] != 3 {
		t.Fatalf("MembersOf = %v, want [1 2 3]", members)
	}

	if _, err := repo.MembersOf(ctx, 999); !errors.Is(err, repository.ErrGroupNotFound) {
		t.Fatalf("MembersOf missing = %v, want ErrGroupNotFound", err)
	}
	if _, err := repo.Get(ctx, 999); !errors.Is(err, repository.ErrGroupNotFound) {
		t.Fatalf("Get missing = %v, want ErrGroupNotFound", err)
	}

	got, err := repo.Get(ctx, night.Id)
	if err != nil || got.Name != "night shift" || len(got.MemberIds) != 3 {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	groups, err := repo.IndexByMember(ctx, 1)
	if err != nil || len(groups) != 2 {
		t.Fatalf("IndexByMember(1) = %v, %v", groups, err)
	}
	groups, err = repo.IndexByMember(ctx, 3)
	if err != nil || len(groups) != 1 || groups[0].Id != night.Id {
		t.Fatalf("IndexByMember(3) = %v, %v", groups, err)
	}
}

func TestReadMarkerNeverMovesBackwards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewReadMarkerRepository(openTestDB(t))
	later := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := repo.Upsert(ctx, entity.ReadMarker{UserId: 4, ConversationKey: entity.GroupKey(1), LastReadAt: later}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.Upsert(ctx, entity.ReadMarker{UserId: 4, ConversationKey: entity.GroupKey(1), LastReadAt: later.Add(-time.Hour)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.Upsert(ctx, entity.ReadMarker{UserId: 4, ConversationKey: entity.BroadcastKey, LastReadAt: later}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	markers, err := repo.GetByUser(ctx, 4)
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	if len(markers) != 2 {
		t.Fatalf("GetByUser = %+v, want two markers", markers)
	}
	for _, m := range markers {
		if !m.LastReadAt.Equal(later) {
			t.Fatalf("marker %s = %v, want %v", m.ConversationKey, m.LastReadAt, later)
		}
	}
}

func TestUserRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := openTestDB(t)
	repo := NewUserRepository(conn)

	if _, err := repo.Get(ctx, 8); !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("Get missing = %v, want ErrUserNotFound", err)
	}
	if err := PutUser(ctx, conn, entity.User{Id: 8, Username: "rina", Name: "Rina"}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	if err := PutUser(ctx, conn, entity.User{Id: 8, Username: "rina.s", Name: "Rina S"}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}

	user, err := repo.Get(ctx, 8)
	if err != nil || user.Username != "rina.s" {
		t.Fatalf("Get = %+v, %v", user, err)
	}
}
