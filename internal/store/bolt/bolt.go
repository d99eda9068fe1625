// Package bolt persists conversations in an embedded bbolt file.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"polychat/internal/store"
)

var (
	conversationsBucket = []byte("conversations")
	messagesBucket      = []byte("messages")
)

// Store keeps conversations as JSON values in the conversations bucket and
// every conversation's messages in its own sub-bucket of messages, keyed by
// an increasing sequence.
type Store struct {
	db  *bbolt.DB
	now store.Clock
}

// Open opens or creates the database file at path.
func Open(path string, now store.Clock) (*Store, error) {
	if now == nil {
		now = store.SystemClock
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database %q: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{conversationsBucket, messagesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: now}, nil
}

func (s *Store) CreateConversation(ctx context.Context, ownerID, title string) (store.Conversation, error) {
	ts := s.now()
	conv := store.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return putConversation(tx, conv)
	})
	if err != nil {
		return store.Conversation{}, err
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, ownerID, id string) (store.Conversation, error) {
	var conv store.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		conv, err = ownedConversation(tx, ownerID, id)
		return err
	})
	return conv, err
}

func (s *Store) ListConversations(ctx context.Context, ownerID string) ([]store.Conversation, error) {
	out := make([]store.Conversation, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(k, v []byte) error {
			var conv store.Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				return fmt.Errorf("unmarshal conversation %s: %w", k, err)
			}
			if conv.OwnerID == ownerID {
				out = append(out, conv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	store.SortConversations(out)
	return out, nil
}

func (s *Store) RenameConversation(ctx context.Context, ownerID, id, title string) (store.Conversation, error) {
	var conv store.Conversation
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		conv, err = ownedConversation(tx, ownerID, id)
		if err != nil {
			return err
		}
		conv.Title = title
		conv.UpdatedAt = s.now()
		return putConversation(tx, conv)
	})
	if err != nil {
		return store.Conversation{}, err
	}
	return conv, nil
}

func (s *Store) DeleteConversation(ctx context.Context, ownerID, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := ownedConversation(tx, ownerID, id); err != nil {
			return err
		}
		if err := tx.Bucket(conversationsBucket).Delete([]byte(id)); err != nil {
			return fmt.Errorf("delete conversation %s: %w", id, err)
		}
		msgs := tx.Bucket(messagesBucket)
		if msgs.Bucket([]byte(id)) != nil {
			if err := msgs.DeleteBucket([]byte(id)); err != nil {
				return fmt.Errorf("delete messages of %s: %w", id, err)
			}
		}
		return nil
	})
}

func (s *Store) TouchConversation(ctx context.Context, id string, ts time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		conv, err := getConversation(tx, id)
		if err != nil {
			return fmt.Errorf("touch %s: %w", id, err)
		}
		conv.UpdatedAt = ts
		return putConversation(tx, conv)
	})
}

func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (store.Message, error) {
	msg := store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now(),
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getConversation(tx, conversationID); err != nil {
			return fmt.Errorf("append to %s: %w", conversationID, err)
		}
		bucket, err := tx.Bucket(messagesBucket).CreateBucketIfNotExists([]byte(conversationID))
		if err != nil {
			return fmt.Errorf("create message bucket: %w", err)
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("next message sequence: %w", err)
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		return bucket.Put(sequenceKey(seq), data)
	})
	if err != nil {
		return store.Message{}, err
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, ownerID, conversationID string) ([]store.Message, error) {
	out := make([]store.Message, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if _, err := ownedConversation(tx, ownerID, conversationID); err != nil {
			return err
		}
		bucket := tx.Bucket(messagesBucket).Bucket([]byte(conversationID))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var msg store.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("unmarshal message: %w", err)
			}
			out = append(out, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func getConversation(tx *bbolt.Tx, id string) (store.Conversation, error) {
	data := tx.Bucket(conversationsBucket).Get([]byte(id))
	if data == nil {
		return store.Conversation{}, store.ErrNotFound
	}
	var conv store.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return store.Conversation{}, fmt.Errorf("unmarshal conversation %s: %w", id, err)
	}
	return conv, nil
}

func ownedConversation(tx *bbolt.Tx, ownerID, id string) (store.Conversation, error) {
	conv, err := getConversation(tx, id)
	if err != nil {
		return store.Conversation{}, err
	}
	if conv.OwnerID != ownerID {
		return store.Conversation{}, store.ErrNotFound
	}
	return conv, nil
}

func putConversation(tx *bbolt.Tx, conv store.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if err := tx.Bucket(conversationsBucket).Put([]byte(conv.ID), data); err != nil {
		return fmt.Errorf("store conversation %s: %w", conv.ID, err)
	}
	return nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
