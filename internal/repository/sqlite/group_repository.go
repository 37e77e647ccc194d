package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"staffchat/internal/entity"
	"staffchat/internal/repository"

	"github.com/jmoiron/sqlx"
)

type groupRow struct {
	Id        int64  `db:"id"`
	Name      string `db:"name"`
	CreatedBy int64  `db:"created_by"`
	CreatedAt int64  `db:"created_at"`
}

type groupRepository struct {
	db *sqlx.DB
}

func NewGroupRepository(db *sqlx.DB) repository.GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) Get(ctx context.Context, groupId int64) (entity.Group, error) {
	var row groupRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM chat_groups WHERE id = ?`, groupId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.Group{}, repository.ErrGroupNotFound
		}
		return entity.Group{}, err
	}

	members, err := r.members(ctx, groupId)
	if err != nil {
		return entity.Group{}, err
	}

	return entity.Group{
		Id:        row.Id,
		Name:      row.Name,
		MemberIds: members,
		CreatedBy: row.CreatedBy,
		CreatedAt: fromMillis(row.CreatedAt),
	}, nil
}

func (r *groupRepository) members(ctx context.Context, groupId int64) ([]int64, error) {
	members := make([]int64, 0)
	err := r.db.SelectContext(ctx, &members,
		`SELECT user_id FROM chat_group_members WHERE group_id = ? ORDER BY user_id`, groupId)
	return members, err
}

func (r *groupRepository) MembersOf(ctx context.Context, groupId int64) ([]int64, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM chat_groups WHERE id = ?)`, groupId)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, repository.ErrGroupNotFound
	}
	return r.members(ctx, groupId)
}

func (r *groupRepository) IndexByMember(ctx context.Context, userId int64) ([]entity.Group, error) {
	var rows []groupRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT g.* FROM chat_groups g
		 JOIN chat_group_members m ON m.group_id = g.id
		 WHERE m.user_id = ? ORDER BY g.id`, userId)
	if err != nil {
		return nil, err
	}

	groups := make([]entity.Group, 0, len(rows))
	for _, row := range rows {
		members, err := r.members(ctx, row.Id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, entity.Group{
			Id:        row.Id,
			Name:      row.Name,
			MemberIds: members,
			CreatedBy: row.CreatedBy,
			CreatedAt: fromMillis(row.CreatedAt),
		})
	}
	return groups, nil
}

func (r *groupRepository) Create(ctx context.Context, group entity.Group) (entity.Group, error) {
	if len(group.MemberIds) == 0 {
		return entity.Group{}, repository.ErrEmptyGroup
	}
	group.CreatedAt = time.Now().Truncate(time.Millisecond)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return entity.Group{}, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO chat_groups (name, created_by, created_at) VALUES (?, ?, ?)`,
		group.Name, group.CreatedBy, toMillis(group.CreatedAt))
	if err != nil {
		return entity.Group{}, err
	}
	group.Id, err = result.LastInsertId()
	if err != nil {
		return entity.Group{}, err
	}

	for _, member := range group.MemberIds {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO chat_group_members (group_id, user_id) VALUES (?, ?)`, group.Id, member)
		if err != nil {
			return entity.Group{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return entity.Group{}, err
	}
	return group, nil
}
