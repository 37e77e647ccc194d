package sqlite

import (
	"context"

	"staffchat/internal/entity"
	"staffchat/internal/repository"

	"github.com/jmoiron/sqlx"
)

type readMarkerRow struct {
	UserId          int64  `db:"user_id"`
	ConversationKey string `db:"conversation_key"`
	LastReadAt      int64  `db:"last_read_at"`
}

type readMarkerRepository struct {
	db *sqlx.DB
}

func NewReadMarkerRepository(db *sqlx.DB) repository.ReadMarkerRepository {
	return &readMarkerRepository{db: db}
}

func (r *readMarkerRepository) Upsert(ctx context.Context, marker entity.ReadMarker) error {
	row := readMarkerRow{
		UserId:          marker.UserId,
		ConversationKey: string(marker.ConversationKey),
		LastReadAt:      toMillis(marker.LastReadAt),
	}
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO read_markers (user_id, conversation_key, last_read_at)
		 VALUES (:user_id, :conversation_key, :last_read_at)
		 ON CONFLICT (user_id, conversation_key)
		 DO UPDATE SET last_read_at = MAX(last_read_at, excluded.last_read_at)`, row)
	return err
}

func (r *readMarkerRepository) GetByUser(ctx context.Context, userId int64) ([]entity.ReadMarker, error) {
	var rows []readMarkerRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM read_markers WHERE user_id = ? ORDER BY conversation_key`, userId)
	if err != nil {
		return nil, err
	}

	markers := make([]entity.ReadMarker, 0, len(rows))
	for _, row := range rows {
		markers = append(markers, entity.ReadMarker{
			UserId:          row.UserId,
			ConversationKey: entity.ConversationKey(row.ConversationKey),
			LastReadAt:      fromMillis(row.LastReadAt),
		})
	}
	return markers, nil
}
