package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"staffchat/internal/entity"
	"staffchat/internal/repository"

	"github.com/jmoiron/sqlx"
)

type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) repository.UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Get(ctx context.Context, userId int64) (entity.User, error) {
	var user entity.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, name FROM users WHERE id = ?`, userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.User{}, repository.ErrUserNotFound
		}
		return entity.User{}, err
	}
	return user, nil
}

// PutUser mirrors a directory entry into the local users table.
func PutUser(ctx context.Context, db *sqlx.DB, user entity.User) error {
	_, err := db.NamedExecContext(ctx,
		`INSERT INTO users (id, username, name) VALUES (:id, :username, :name)
		 ON CONFLICT (id) DO UPDATE SET username = excluded.username, name = excluded.name`, user)
	return err
}
