// Package sqlite implements the repository interfaces on SQLite through sqlx.
// Timestamps are stored as unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"staffchat/internal/entity"
	"staffchat/internal/repository"

	"github.com/jmoiron/sqlx"
)

type messageRow struct {
	Id               int64          `db:"id"`
	SenderId         int64          `db:"sender_id"`
	ReceiverId       sql.NullInt64  `db:"receiver_id"`
	GroupId          sql.NullInt64  `db:"group_id"`
	MessageText      sql.NullString `db:"message_text"`
	FileUrl          sql.NullString `db:"file_url"`
	FileOriginalName sql.NullString `db:"file_original_name"`
	FileMimeType     sql.NullString `db:"file_mime_type"`
	FileSizeBytes    sql.NullInt64  `db:"file_size_bytes"`
	ConversationKey  string         `db:"conversation_key"`
	CreatedAt        int64          `db:"created_at"`
	ReadAt           sql.NullInt64  `db:"read_at"`
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func newMessageRow(m entity.Message) messageRow {
	row := messageRow{
		Id:              m.Id,
		SenderId:        m.SenderId,
		ReceiverId:      nullInt(m.ReceiverId),
		GroupId:         nullInt(m.GroupId),
		MessageText:     sql.NullString{String: m.Text, Valid: m.Text != ""},
		ConversationKey: string(m.ConversationKey),
		CreatedAt:       toMillis(m.CreatedAt),
	}
	if m.Attachment != nil {
		row.FileUrl = sql.NullString{String: m.Attachment.Url, Valid: true}
		row.FileOriginalName = sql.NullString{String: m.Attachment.OriginalName, Valid: true}
		row.FileMimeType = sql.NullString{String: m.Attachment.MimeType, Valid: true}
		row.FileSizeBytes = sql.NullInt64{Int64: m.Attachment.SizeBytes, Valid: true}
	}
	if m.ReadAt != nil {
		row.ReadAt = sql.NullInt64{Int64: toMillis(*m.ReadAt), Valid: true}
	}
	return row
}

func (r messageRow) toEntity() entity.Message {
	m := entity.Message{
		Id:              r.Id,
		SenderId:        r.SenderId,
		Text:            r.MessageText.String,
		ConversationKey: entity.ConversationKey(r.ConversationKey),
		CreatedAt:       fromMillis(r.CreatedAt),
	}
	if r.ReceiverId.Valid {
		id := r.ReceiverId.Int64
		m.ReceiverId = &id
	}
	if r.GroupId.Valid {
		id := r.GroupId.Int64
		m.GroupId = &id
	}
	if r.FileUrl.Valid {
		m.Attachment = &entity.Attachment{
			Url:          r.FileUrl.String,
			OriginalName: r.FileOriginalName.String,
			MimeType:     r.FileMimeType.String,
			SizeBytes:    r.FileSizeBytes.Int64,
		}
	}
	if r.ReadAt.Valid {
		at := fromMillis(r.ReadAt.Int64)
		m.ReadAt = &at
	}
	return m
}

type messageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) repository.MessageRepository {
	return &messageRepository{db: db}
}

const insertMessage = `
INSERT INTO messages (
	sender_id, receiver_id, group_id, message_text,
	file_url, file_original_name, file_mime_type, file_size_bytes,
	conversation_key, created_at, read_at
) VALUES (
	:sender_id, :receiver_id, :group_id, :message_text,
	:file_url, :file_original_name, :file_mime_type, :file_size_bytes,
	:conversation_key, :created_at, :read_at
)`

func (r *messageRepository) Create(ctx context.Context, message entity.Message) (entity.Message, error) {
	message.CreatedAt = message.CreatedAt.Truncate(time.Millisecond)

	result, err := r.db.NamedExecContext(ctx, insertMessage, newMessageRow(message))
	if err != nil {
		return entity.Message{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return entity.Message{}, err
	}

	message.Id = id
	return message, nil
}

func (r *messageRepository) Index(ctx context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error) {
	query := `SELECT * FROM messages WHERE conversation_key = ?`
	args := []any{string(filter.ConversationKey)}
	if filter.BeforeId > 0 {
		query += ` AND id < ?`
		args = append(args, filter.BeforeId)
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	messages := make([]entity.Message, len(rows))
	for i, row := range rows {
		messages[len(rows)-1-i] = row.toEntity()
	}
	return messages, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, key entity.ConversationKey, readerId int64, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE messages SET read_at = ? WHERE conversation_key = ? AND sender_id <> ? AND read_at IS NULL`,
		toMillis(at), string(key), readerId)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *messageRepository) CountSince(ctx context.Context, key entity.ConversationKey, excludeSender int64, since time.Time) (int, time.Time, error) {
	var row struct {
		Count int           `db:"message_count"`
		Last  sql.NullInt64 `db:"last_at"`
	}
	err := r.db.GetContext(ctx, &row,
		`SELECT COUNT(*) AS message_count, MAX(created_at) AS last_at FROM messages
		 WHERE conversation_key = ? AND sender_id <> ? AND created_at > ?`,
		string(key), excludeSender, toMillis(since))
	if err != nil {
		return 0, time.Time{}, err
	}
	if !row.Last.Valid {
		return row.Count, time.Time{}, nil
	}
	return row.Count, fromMillis(row.Last.Int64), nil
}

func (r *messageRepository) PrivatePeers(ctx context.Context, userId int64) ([]int64, error) {
	peers := make([]int64, 0)
	err := r.db.SelectContext(ctx, &peers,
		`SELECT DISTINCT sender_id FROM messages WHERE receiver_id = ? ORDER BY sender_id`, userId)
	if err != nil {
		return nil, err
	}
	return peers, nil
}
