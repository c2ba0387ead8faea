package repositories

import (
	"chat-hub/domain"
	"chat-hub/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

type IMessageRepository interface {
	// Store persists m and moves the conversation's last message and activity to it in the same transaction.
	Store(ctx context.Context, m domain.Message) error
	Get(ctx context.Context, id string) (domain.Message, error)
	// Update loads the message, applies mutate and writes it back in one transaction.
	Update(ctx context.Context, id string, mutate func(m *domain.Message) error) (domain.Message, error)
	// UpdateMany applies mutate to every listed message in one transaction and returns the ones it changed.
	UpdateMany(ctx context.Context, ids []string, mutate func(m *domain.Message) bool) ([]domain.Message, error)
	// History returns up to limit messages older than cursor, newest first, and the cursor of the next page.
	History(ctx context.Context, conversationID, cursor string, limit int) ([]domain.Message, string, error)
	// Filter returns the conversation's messages matching keep, newest first.
	Filter(ctx context.Context, conversationID string, keep func(m domain.Message) bool) ([]domain.Message, error)
}

type MessageRepository struct {
	db   *badger.DB
	log  *slog.Logger
	exec Executor
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, exec Executor) MessageRepository {
	return MessageRepository{db: db, log: log, exec: exec}
}

func (r MessageRepository) Store(ctx context.Context, m domain.Message) error {
	return r.exec.Do(ctx, "message.store", func() error {
		return r.db.Update(func(txn *badger.Txn) error {
			c, err := loadConversation(txn, m.ConversationID)
			if err != nil {
				return err
			}
			key := messageKey(m)
			if err = setJSON(txn, key, fromMessage(m)); err != nil {
				return err
			}
			if err = txn.Set(messageIDKey(m.ID), key); err != nil {
				return err
			}
			c.LastMessageID = m.ID
			if m.CreatedAt.After(c.LastActivity) {
				c.LastActivity = m.CreatedAt
			}
			return setJSON(txn, conversationKey(c.ID), fromConversation(c))
		})
	})
}

func (r MessageRepository) Get(ctx context.Context, id string) (domain.Message, error) {
	return Query(ctx, r.exec, "message.get", func() (domain.Message, error) {
		var m domain.Message
		err := r.db.View(func(txn *badger.Txn) error {
			var err error
			m, _, err = loadMessage(txn, id)
			return err
		})
		return m, err
	})
}

func (r MessageRepository) Update(ctx context.Context, id string, mutate func(m *domain.Message) error) (domain.Message, error) {
	return Query(ctx, r.exec, "message.update", func() (domain.Message, error) {
		var result domain.Message
		err := r.db.Update(func(txn *badger.Txn) error {
			m, key, err := loadMessage(txn, id)
			if err != nil {
				return err
			}
			if err = mutate(&m); err != nil {
				return err
			}
			if err = setJSON(txn, key, fromMessage(m)); err != nil {
				return err
			}
			result = m
			return nil
		})
		return result, err
	})
}

func (r MessageRepository) UpdateMany(ctx context.Context, ids []string, mutate func(m *domain.Message) bool) ([]domain.Message, error) {
	return Query(ctx, r.exec, "message.update_many", func() ([]domain.Message, error) {
		var changed []domain.Message
		err := r.db.Update(func(txn *badger.Txn) error {
			for _, id := range ids {
				m, key, err := loadMessage(txn, id)
				if errors.Is(err, errors.ErrMessageNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if !mutate(&m) {
					continue
				}
				if err = setJSON(txn, key, fromMessage(m)); err != nil {
					return err
				}
				changed = append(changed, m)
			}
			return nil
		})
		return changed, err
	})
}

type historyPage struct {
	messages []domain.Message
	next     string
}

// History pages a conversation backwards using a reverse iterator.
// The cursor is the "{nanos}:{id}" suffix of the last returned key.
func (r MessageRepository) History(ctx context.Context, conversationID, cursor string, limit int) ([]domain.Message, string, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	page, err := Query(ctx, r.exec, "message.history", func() (historyPage, error) {
		var page historyPage
		err := r.db.View(func(txn *badger.Txn) error {
			prefixStr := messagePrefixFor(conversationID)
			prefix := []byte(prefixStr)
			opts := badger.DefaultIteratorOptions
			opts.Reverse = true
			it := txn.NewIterator(opts)
			defer it.Close()

			// Seeking past the highest possible timestamp lands on the newest message.
			seekKey := append([]byte(prefixStr), []byte("9999999999999999999")...)
			if cursor != "" {
				seekKey = append([]byte(prefixStr), []byte(cursor)...)
			}
			it.Seek(seekKey)
			if cursor != "" && it.ValidForPrefix(prefix) && string(it.Item().Key()) == string(seekKey) {
				it.Next()
			}

			var lastKey string
			for ; it.ValidForPrefix(prefix); it.Next() {
				if len(page.messages) == limit {
					page.next = lastKey
					break
				}
				item := it.Item()
				lastKey = string(item.Key()[len(prefix):])
				m, err := decodeMessage(item)
				if err != nil {
					return err
				}
				page.messages = append(page.messages, m)
			}
			return nil
		})
		return page, err
	})
	if err != nil {
		return nil, "", err
	}
	return page.messages, page.next, nil
}

// Filter returns the messages of a conversation matching keep, newest first.
// keep runs on the storage goroutine and must not touch caller state.
func (r MessageRepository) Filter(ctx context.Context, conversationID string, keep func(m domain.Message) bool) ([]domain.Message, error) {
	return Query(ctx, r.exec, "message.filter", func() ([]domain.Message, error) {
		var result []domain.Message
		err := r.db.View(func(txn *badger.Txn) error {
			prefixStr := messagePrefixFor(conversationID)
			prefix := []byte(prefixStr)
			opts := badger.DefaultIteratorOptions
			opts.Reverse = true
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(append([]byte(prefixStr), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
				m, err := decodeMessage(it.Item())
				if err != nil {
					return err
				}
				if keep(m) {
					result = append(result, m)
				}
			}
			return nil
		})
		return result, err
	})
}

func loadMessage(txn *badger.Txn, id string) (domain.Message, []byte, error) {
	item, err := txn.Get(messageIDKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, nil, errors.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, nil, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return domain.Message{}, nil, err
	}
	item, err = txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, nil, fmt.Errorf("%w: index points to missing record", errors.ErrMessageNotFound)
	}
	if err != nil {
		return domain.Message{}, nil, err
	}
	m, err := decodeMessage(item)
	return m, key, err
}

func decodeMessage(item *badger.Item) (domain.Message, error) {
	var d DiskMessage
	if err := item.Value(func(b []byte) error {
		return json.Unmarshal(b, &d)
	}); err != nil {
		return domain.Message{}, err
	}
	return toMessage(d)
}
