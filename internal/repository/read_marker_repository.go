package repository

import (
	"context"
	"time"

	"staffchat/internal/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ReadMarkerRepository stores the per-user read watermark of every
// conversation the user has marked as read.
type ReadMarkerRepository interface {
	Upsert(ctx context.Context, marker entity.ReadMarker) error
	GetByUser(ctx context.Context, userId int64) ([]entity.ReadMarker, error)
}

type readMarkerRepository struct {
	db mongo.Database
}

func NewReadMarkerRepository(db mongo.Database) ReadMarkerRepository {
	return &readMarkerRepository{
		db: db,
	}
}

// Upsert never moves a watermark backwards.
func (r *readMarkerRepository) Upsert(ctx context.Context, marker entity.ReadMarker) error {
	collection := r.db.Collection("read_markers")
	filter := bson.M{
		"userId":          marker.UserId,
		"conversationKey": marker.ConversationKey,
	}
	update := bson.M{
		"$max": bson.M{
			"lastReadAt": marker.LastReadAt.Truncate(time.Millisecond),
		},
	}

	_, err := collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (r *readMarkerRepository) GetByUser(ctx context.Context, userId int64) ([]entity.ReadMarker, error) {
	collection := r.db.Collection("read_markers")
	filter := bson.M{"userId": userId}

	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	markers := make([]entity.ReadMarker, 0)
	if err := cursor.All(ctx, &markers); err != nil {
		return nil, err
	}

	return markers, nil
}
