//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"chat-hub/domain"
	"chat-hub/errors"
	"context"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// IUserDirectory resolves user ids owned by the account system.
type IUserDirectory interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	// GetUsers returns the users it could resolve, keyed by id. Unknown ids are left out.
	GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error)
}

// UserRepository is a Badger backed directory. Records are written by Upsert when seeding.
type UserRepository struct {
	db   *badger.DB
	log  *slog.Logger
	exec Executor
}

func NewUserRepository(db *badger.DB, log *slog.Logger, exec Executor) UserRepository {
	return UserRepository{db: db, log: log, exec: exec}
}

func (u UserRepository) Upsert(ctx context.Context, user domain.User) error {
	return u.exec.Do(ctx, "user.upsert", func() error {
		return u.db.Update(func(txn *badger.Txn) error {
			return setJSON(txn, userKey(user.ID), DiskUser{ID: user.ID, Username: user.Username, Avatar: user.Avatar})
		})
	})
}

func (u UserRepository) GetUser(ctx context.Context, id string) (domain.User, error) {
	users, err := u.GetUsers(ctx, []string{id})
	if err != nil {
		return domain.User{}, err
	}
	user, ok := users[id]
	if !ok {
		return domain.User{}, errors.ErrUserNotFound
	}
	return user, nil
}

func (u UserRepository) GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error) {
	return Query(ctx, u.exec, "user.get", func() (map[string]domain.User, error) {
		result := make(map[string]domain.User, len(ids))
		err := u.db.View(func(txn *badger.Txn) error {
			for _, id := range ids {
				var d DiskUser
				err := getJSON(txn, userKey(id), &d)
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				result[id] = domain.User{ID: d.ID, Username: d.Username, Avatar: d.Avatar}
			}
			return nil
		})
		return result, err
	})
}
