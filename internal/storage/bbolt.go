package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"tomodachilink/internal/auth"
	"tomodachilink/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers         = []byte("users")
	bucketFriendships   = []byte("friendships")
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
	bucketPushSubs      = []byte("push_subscriptions")
	bucketFiles         = []byte("files")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{
			bucketUsers,
			bucketFriendships,
			bucketConversations,
			bucketMessages,
			bucketPushSubs,
			bucketFiles,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           credentials.ID,
			UserName:     credentials.UserName,
			DisplayName:  credentials.DisplayName,
			AvatarURL:    credentials.AvatarURL,
			LastSeen:     credentials.Presence.LastSeen,
			PasswordHash: credentials.PasswordHash,
			Status:       string(credentials.Status),
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

// ListCredentials returns all user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, auth.UserCredentials{
				User: models.User{
					ID:          dbUser.ID,
					UserName:    dbUser.UserName,
					DisplayName: dbUser.DisplayName,
					AvatarURL:   dbUser.AvatarURL,
					Presence: models.Presence{
						LastSeen: dbUser.LastSeen,
					},
					Status: models.UserStatus(dbUser.Status),
				},
				PasswordHash: dbUser.PasswordHash,
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return credentials, nil
}

// UpsertFriendship stores a friendship record for an unordered user pair.
func (s *BboltStorage) UpsertFriendship(f models.Friendship) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFriendships)
		dbf := &DBFriendship{
			Requester: f.Requester,
			Recipient: f.Recipient,
			State:     string(f.State),
			CreatedAt: f.CreatedAt,
		}
		data, err := dbf.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbf.Key(), data)
	})
}

// DeleteFriendship removes a friendship (decline or unfriend).
func (s *BboltStorage) DeleteFriendship(u1, u2 string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFriendships)
		return b.Delete([]byte(PairKey(u1, u2)))
	})
}

// GetFriendship returns the friendship record for a user pair.
func (s *BboltStorage) GetFriendship(u1, u2 string) (models.Friendship, error) {
	var f models.Friendship
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFriendships)
		data := b.Get([]byte(PairKey(u1, u2)))
		if data == nil {
			return models.ErrNotFound
		}
		var dbf DBFriendship
		if err := dbf.UnmarshalBinary(data); err != nil {
			return err
		}
		f = models.Friendship{
			Requester: dbf.Requester,
			Recipient: dbf.Recipient,
			State:     models.FriendshipState(dbf.State),
			CreatedAt: dbf.CreatedAt,
		}
		return nil
	})
	return f, err
}

// ListFriendships returns all friendship records involving the user.
func (s *BboltStorage) ListFriendships(userID string) ([]models.Friendship, error) {
	var result []models.Friendship
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFriendships)
		return b.ForEach(func(k, v []byte) error {
			var dbf DBFriendship
			if err := dbf.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbf.Requester != userID && dbf.Recipient != userID {
				return nil
			}
			result = append(result, models.Friendship{
				Requester: dbf.Requester,
				Recipient: dbf.Recipient,
				State:     models.FriendshipState(dbf.State),
				CreatedAt: dbf.CreatedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list friendships: %w", err)
	}
	return result, nil
}

// UpsertConversation stores conversation metadata.
func (s *BboltStorage) UpsertConversation(c models.Conversation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		dbc := &DBConversation{ID: c.ID, LastSeq: c.LastSeq}
		data, err := dbc.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbc.Key(), data)
	})
}

// GetConversation returns the stored metadata of one conversation.
func (s *BboltStorage) GetConversation(id string) (models.Conversation, error) {
	var c models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConversations).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbc DBConversation
		if err := dbc.UnmarshalBinary(data); err != nil {
			return err
		}
		c = models.Conversation{ID: dbc.ID, LastSeq: dbc.LastSeq}
		return nil
	})
	return c, err
}

// ListConversations returns the metadata of all stored conversations.
func (s *BboltStorage) ListConversations() ([]models.Conversation, error) {
	var result []models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		return b.ForEach(func(k, v []byte) error {
			var dbc DBConversation
			if err := dbc.UnmarshalBinary(v); err != nil {
				return err
			}
			result = append(result, models.Conversation{ID: dbc.ID, LastSeq: dbc.LastSeq})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return result, nil
}

// AppendMessage stores a message under its conversation, keyed by
// sequence number, and advances the conversation's LastSeq.
func (s *BboltStorage) AppendMessage(m models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		parent := tx.Bucket(bucketMessages)
		b, err := parent.CreateBucketIfNotExists([]byte(m.ConversationID))
		if err != nil {
			return err
		}

		dbm := &DBMessage{
			Seq:            m.Seq,
			Timestamp:      m.Timestamp,
			ConversationID: m.ConversationID,
			UserID:         m.UserID,
			Content:        m.Content,
			HTML:           m.HTML,
		}
		data, err := dbm.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dbm.Key(), data); err != nil {
			return err
		}

		cb := tx.Bucket(bucketConversations)
		dbc := &DBConversation{ID: m.ConversationID, LastSeq: m.Seq}
		cdata, err := dbc.MarshalBinary()
		if err != nil {
			return err
		}
		return cb.Put(dbc.Key(), cdata)
	})
}

// GetMessages returns messages of a conversation with seq in [from, to).
func (s *BboltStorage) GetMessages(conversationID string, from, to int64) ([]models.Message, error) {
	var result []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if b == nil {
			return nil
		}

		fromKey := make([]byte, 8)
		binary.BigEndian.PutUint64(fromKey, uint64(from))
		toKey := make([]byte, 8)
		binary.BigEndian.PutUint64(toKey, uint64(to))

		c := b.Cursor()
		for k, v := c.Seek(fromKey); k != nil && bytes.Compare(k, toKey) < 0; k, v = c.Next() {
			var dbm DBMessage
			if err := dbm.UnmarshalBinary(v); err != nil {
				return err
			}
			result = append(result, models.Message{
				Seq:            dbm.Seq,
				Timestamp:      dbm.Timestamp,
				ConversationID: dbm.ConversationID,
				UserID:         dbm.UserID,
				Content:        dbm.Content,
				HTML:           dbm.HTML,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return result, nil
}

// UpsertPushSubscription stores a browser push endpoint for a user.
func (s *BboltStorage) UpsertPushSubscription(sub DBPushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubs)
		data, err := sub.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(sub.Key(), data)
	})
}

// DeletePushSubscription removes a stale or unregistered endpoint.
func (s *BboltStorage) DeletePushSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubs)
		return b.Delete([]byte(userID + "|" + endpoint))
	})
}

// ListPushSubscriptions returns all push endpoints registered by a user.
func (s *BboltStorage) ListPushSubscriptions(userID string) ([]DBPushSubscription, error) {
	var result []DBPushSubscription
	prefix := []byte(userID + "|")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketPushSubs).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var sub DBPushSubscription
			if err := sub.UnmarshalBinary(v); err != nil {
				return err
			}
			result = append(result, sub)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	return result, nil
}
