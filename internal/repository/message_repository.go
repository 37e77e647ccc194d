package repository

import (
	"context"
	"sort"
	"time"

	"staffchat/internal/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepository interface {
	// Create assigns the next id and persists the message.
	Create(ctx context.Context, message entity.Message) (entity.Message, error)
	// Index returns the newest messages of a conversation older than
	// filter.BeforeId (all when zero), ascending by id.
	Index(ctx context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error)
	// MarkRead stamps readAt on unread messages of key not sent by readerId.
	MarkRead(ctx context.Context, key entity.ConversationKey, readerId int64, at time.Time) (int64, error)
	// CountSince counts messages of key created after since and not sent by
	// excludeSender, along with the newest createdAt among them.
	CountSince(ctx context.Context, key entity.ConversationKey, excludeSender int64, since time.Time) (int, time.Time, error)
	// PrivatePeers lists the users who sent userId a private message.
	PrivatePeers(ctx context.Context, userId int64) ([]int64, error)
}

type messageRepository struct {
	db mongo.Database
}

func NewMessageRepository(db mongo.Database) MessageRepository {
	return &messageRepository{
		db: db,
	}
}

// nextSequence hands out monotonic ids from the message_counters collection.
func nextSequence(ctx context.Context, db mongo.Database, name string) (int64, error) {
	collection := db.Collection("message_counters")
	filter := bson.M{"_id": name}
	update := bson.M{"$inc": bson.M{"seq": int64(1)}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	if err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter); err != nil {
		return 0, err
	}
	return counter.Seq, nil
}

func (r *messageRepository) Create(ctx context.Context, message entity.Message) (entity.Message, error) {
	collection := r.db.Collection("messages")

	id, err := nextSequence(ctx, r.db, "messages")
	if err != nil {
		return entity.Message{}, err
	}
	message.Id = id
	message.CreatedAt = message.CreatedAt.Truncate(time.Millisecond)

	_, err = collection.InsertOne(ctx, message)
	if err != nil {
		return entity.Message{}, err
	}

	return message, nil
}

func (r *messageRepository) Index(ctx context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error) {
	collection := r.db.Collection("messages")

	bsonFilter := bson.M{"conversationKey": filter.ConversationKey}
	if filter.BeforeId > 0 {
		bsonFilter["_id"] = bson.M{"$lt": filter.BeforeId}
	}

	opts := options.Find()
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	opts.SetSort(bson.D{{Key: "_id", Value: -1}})

	cursor, err := collection.Find(ctx, bsonFilter, opts)
	if err != nil {
		return nil, err
	}

	messages := make([]entity.Message, 0)
	err = cursor.All(ctx, &messages)
	if err != nil {
		return nil, err
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].Id < messages[j].Id })
	return messages, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, key entity.ConversationKey, readerId int64, at time.Time) (int64, error) {
	collection := r.db.Collection("messages")
	filter := bson.M{
		"conversationKey": key,
		"senderId":        bson.M{"$ne": readerId},
		"readAt":          nil,
	}
	update := bson.M{
		"$set": bson.M{
			"readAt": at.Truncate(time.Millisecond),
		},
	}

	result, err := collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

func (r *messageRepository) CountSince(ctx context.Context, key entity.ConversationKey, excludeSender int64, since time.Time) (int, time.Time, error) {
	collection := r.db.Collection("messages")

	matchStage := bson.D{{Key: "$match", Value: bson.D{
		{Key: "conversationKey", Value: key},
		{Key: "senderId", Value: bson.M{"$ne": excludeSender}},
		{Key: "createdAt", Value: bson.M{"$gt": since}},
	}}}
	groupStage := bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: nil},
		{Key: "count", Value: bson.M{"$sum": 1}},
		{Key: "last", Value: bson.M{"$max": "$createdAt"}},
	}}}

	cursor, err := collection.Aggregate(ctx, mongo.Pipeline{matchStage, groupStage})
	if err != nil {
		return 0, time.Time{}, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Count int       `bson:"count"`
		Last  time.Time `bson:"last"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, time.Time{}, err
	}
	if len(rows) == 0 {
		return 0, time.Time{}, nil
	}

	return rows[0].Count, rows[0].Last, nil
}

func (r *messageRepository) PrivatePeers(ctx context.Context, userId int64) ([]int64, error) {
	collection := r.db.Collection("messages")
	filter := bson.M{"receiverId": userId}

	values, err := collection.Distinct(ctx, "senderId", filter)
	if err != nil {
		return nil, err
	}

	peers := make([]int64, 0, len(values))
	for _, v := range values {
		switch id := v.(type) {
		case int64:
			peers = append(peers, id)
		case int32:
			peers = append(peers, int64(id))
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers, nil
}
