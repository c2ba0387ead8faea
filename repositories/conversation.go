package repositories

import (
	"chat-hub/domain"
	"chat-hub/errors"
	"context"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

type IConversationRepository interface {
	// Create stores c. For a private conversation whose pair already exists the stored one is returned with created=false.
	Create(ctx context.Context, c domain.Conversation) (conversation domain.Conversation, created bool, err error)
	Get(ctx context.Context, id string) (domain.Conversation, error)
	// Update loads the conversation, applies mutate and writes it back with its participant index in one transaction.
	Update(ctx context.Context, id string, mutate func(c *domain.Conversation) error) (domain.Conversation, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Conversation, error)
}

type ConversationRepository struct {
	db   *badger.DB
	log  *slog.Logger
	exec Executor
}

func NewConversationRepository(db *badger.DB, log *slog.Logger, exec Executor) ConversationRepository {
	return ConversationRepository{db: db, log: log, exec: exec}
}

type createResult struct {
	conversation domain.Conversation
	created      bool
}

func (r ConversationRepository) Create(ctx context.Context, c domain.Conversation) (domain.Conversation, bool, error) {
	res, err := Query(ctx, r.exec, "conversation.create", func() (createResult, error) {
		var res createResult
		err := r.db.Update(func(txn *badger.Txn) error {
			if c.Type == domain.ConversationPrivate {
				pk := pairKey(c.Participants[0], c.Participants[1])
				item, err := txn.Get(pk)
				switch {
				case err == nil:
					existingID, err := item.ValueCopy(nil)
					if err != nil {
						return err
					}
					existing, err := loadConversation(txn, string(existingID))
					if err != nil {
						return err
					}
					res = createResult{conversation: existing}
					return nil
				case !errors.Is(err, badger.ErrKeyNotFound):
					return err
				}
				if err = txn.Set(pk, []byte(c.ID)); err != nil {
					return err
				}
			}
			if err := setJSON(txn, conversationKey(c.ID), fromConversation(c)); err != nil {
				return err
			}
			for _, p := range c.Participants {
				if err := txn.Set(userConvKey(p, c.ID), nil); err != nil {
					return err
				}
			}
			res = createResult{conversation: c, created: true}
			return nil
		})
		return res, err
	})
	if err != nil {
		return domain.Conversation{}, false, err
	}
	if res.created {
		r.log.Debug("Conversation created", "conversation_id", res.conversation.ID, "type", res.conversation.Type)
	}
	return res.conversation, res.created, nil
}

func (r ConversationRepository) Get(ctx context.Context, id string) (domain.Conversation, error) {
	return Query(ctx, r.exec, "conversation.get", func() (domain.Conversation, error) {
		var c domain.Conversation
		err := r.db.View(func(txn *badger.Txn) error {
			var err error
			c, err = loadConversation(txn, id)
			return err
		})
		return c, err
	})
}

func (r ConversationRepository) Update(ctx context.Context, id string, mutate func(c *domain.Conversation) error) (domain.Conversation, error) {
	return Query(ctx, r.exec, "conversation.update", func() (domain.Conversation, error) {
		var result domain.Conversation
		err := r.db.Update(func(txn *badger.Txn) error {
			c, err := loadConversation(txn, id)
			if err != nil {
				return err
			}
			before := append([]string(nil), c.Participants...)
			if err = mutate(&c); err != nil {
				return err
			}
			if err = setJSON(txn, conversationKey(id), fromConversation(c)); err != nil {
				return err
			}
			added, removed := lo.Difference(c.Participants, before)
			for _, p := range added {
				if err = txn.Set(userConvKey(p, id), nil); err != nil {
					return err
				}
			}
			for _, p := range removed {
				if err = txn.Delete(userConvKey(p, id)); err != nil {
					return err
				}
			}
			result = c
			return nil
		})
		return result, err
	})
}

// ListByUser returns the active conversations userID takes part in, in no particular order.
func (r ConversationRepository) ListByUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	return Query(ctx, r.exec, "conversation.list", func() ([]domain.Conversation, error) {
		var result []domain.Conversation
		err := r.db.View(func(txn *badger.Txn) error {
			prefix := []byte(userConvPrefix + userID + ":")
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()

			var ids []string
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
			}
			for _, id := range ids {
				c, err := loadConversation(txn, id)
				if errors.Is(err, errors.ErrConversationNotFound) {
					r.log.Warn("Dangling participant index", "user_id", userID, "conversation_id", id)
					continue
				}
				if err != nil {
					return err
				}
				if c.Active {
					result = append(result, c)
				}
			}
			return nil
		})
		return result, err
	})
}

func loadConversation(txn *badger.Txn, id string) (domain.Conversation, error) {
	var d DiskConversation
	if err := getJSON(txn, conversationKey(id), &d); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.Conversation{}, errors.ErrConversationNotFound
		}
		return domain.Conversation{}, err
	}
	return toConversation(d), nil
}
