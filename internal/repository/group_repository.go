package repository

import (
	"context"
	"errors"
	"time"

	"staffchat/internal/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrGroupNotFound = errors.New("group not found")
	ErrEmptyGroup    = errors.New("group needs at least one member")
)

// GroupRepository reads group membership owned by the administration
// module. Create exists for provisioning and tests.
type GroupRepository interface {
	Get(ctx context.Context, groupId int64) (entity.Group, error)
	MembersOf(ctx context.Context, groupId int64) ([]int64, error)
	IndexByMember(ctx context.Context, userId int64) ([]entity.Group, error)
	Create(ctx context.Context, group entity.Group) (entity.Group, error)
}

type groupRepository struct {
	db mongo.Database
}

func NewGroupRepository(db mongo.Database) GroupRepository {
	return &groupRepository{
		db: db,
	}
}

// Get returns a group by ID
func (r *groupRepository) Get(ctx context.Context, groupId int64) (entity.Group, error) {
	collection := r.db.Collection("groups")
	filter := bson.M{"_id": groupId}

	var group entity.Group
	err := collection.FindOne(ctx, filter).Decode(&group)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.Group{}, ErrGroupNotFound
		}
		return entity.Group{}, err
	}

	return group, nil
}

func (r *groupRepository) MembersOf(ctx context.Context, groupId int64) ([]int64, error) {
	collection := r.db.Collection("groups")
	filter := bson.M{"_id": groupId}
	opts := options.FindOne().SetProjection(bson.M{"memberIds": 1})

	var group entity.Group
	err := collection.FindOne(ctx, filter, opts).Decode(&group)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}

	return group.MemberIds, nil
}

// IndexByMember returns all groups userId belongs to
func (r *groupRepository) IndexByMember(ctx context.Context, userId int64) ([]entity.Group, error) {
	collection := r.db.Collection("groups")
	filter := bson.M{"memberIds": userId}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	groups := make([]entity.Group, 0)
	err = cursor.All(ctx, &groups)
	if err != nil {
		return nil, err
	}

	return groups, nil
}

func (r *groupRepository) Create(ctx context.Context, group entity.Group) (entity.Group, error) {
	if len(group.MemberIds) == 0 {
		return entity.Group{}, ErrEmptyGroup
	}
	collection := r.db.Collection("groups")

	id, err := nextSequence(ctx, r.db, "groups")
	if err != nil {
		return entity.Group{}, err
	}
	group.Id = id
	group.CreatedAt = time.Now().Truncate(time.Millisecond)

	_, err = collection.InsertOne(ctx, group)
	if err != nil {
		return entity.Group{}, err
	}

	return group, nil
}
