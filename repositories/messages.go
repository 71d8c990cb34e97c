//go:generate go run go.uber.org/mock/mockgen -source=messages.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// IMessageRepository is the durable side of the persistence gateway for
// messages. Broadcast is authoritative; these calls are advisory and a
// failure never retracts an already-broadcast message.
type IMessageRepository interface {
	Append(message StoredMessage) error
	Recent(room string, limit int) ([]StoredMessage, error)
	Delete(messageID string) error
	Rooms() ([]string, error)
	Trim(room string, keep int) (int, error)
}

type StoredMessage struct {
	ID       string    `json:"id"`
	Room     string    `json:"room"`
	Author   string    `json:"author"`
	Text     *string   `json:"text,omitempty"`
	ImageRef *string   `json:"image_ref,omitempty"`
	Kind     string    `json:"kind"`
	SentAt   time.Time `json:"sent_at"`
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

const (
	messagePrefix = "msg:"
	indexPrefix   = "id:"
	// Lexicographically above any 19-digit zero-padded nanosecond timestamp.
	seekCeiling = "9999999999999999999"
)

// messageKey is "msg:{room}:{timestamp_padded}:{message_id}":
//  1. The 19-digit zero padding makes lexicographical order chronological.
//  2. The message ID disambiguates two messages in the same nanosecond.
//
// Room names are caller-supplied and may contain the separator, so the
// room segment is base64-encoded to keep prefix scans unambiguous.
func messageKey(room string, sentAt time.Time, messageID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s", messagePrefix, encodeRoom(room), sentAt.UnixNano(), messageID))
}

func roomPrefix(room string) []byte {
	return []byte(messagePrefix + encodeRoom(room) + ":")
}

func indexKey(messageID string) []byte {
	return []byte(indexPrefix + messageID)
}

func encodeRoom(room string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(room))
}

func decodeRoom(segment string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Append persists a message and a secondary "id:{message_id}" entry
// pointing at the primary key, so deletion by message ID needs no scan.
func (m MessageRepository) Append(message StoredMessage) error {
	key := messageKey(message.Room, message.SentAt, message.ID)
	value, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(indexKey(message.ID), key)
	})
}

// Recent returns up to limit messages for a room, most recent first.
// Thanks to the padded timestamp in the key, a reverse prefix scan walks
// messages in reverse chronological order without decoding values.
func (m MessageRepository) Recent(room string, limit int) ([]StoredMessage, error) {
	var raw [][]byte
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(room)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(append(append([]byte{}, prefix...), []byte(seekCeiling)...)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(raw) == limit {
				break
			}
			if err := it.Item().Value(func(value []byte) error {
				raw = append(raw, append([]byte{}, value...))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	messages := make([]StoredMessage, 0, len(raw))
	for _, value := range raw {
		var message StoredMessage
		if err := json.Unmarshal(value, &message); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// Delete removes a message by ID. Unknown IDs are a no-op, which makes
// retried and double deletes harmless.
func (m MessageRepository) Delete(messageID string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(messageID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		primary, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(primary); err != nil {
			return err
		}
		return txn.Delete(indexKey(messageID))
	})
}

// Rooms enumerates the rooms that currently hold persisted messages,
// via a keys-only scan.
func (m MessageRepository) Rooms() ([]string, error) {
	seen := make(map[string]struct{})
	var rooms []string
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := []byte(messagePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			segment, _, ok := strings.Cut(key[len(messagePrefix):], ":")
			if !ok {
				continue
			}
			if _, dup := seen[segment]; dup {
				continue
			}
			seen[segment] = struct{}{}
			room, err := decodeRoom(segment)
			if err != nil {
				m.log.Warn("Skipping undecodable room segment", "segment", segment)
				continue
			}
			rooms = append(rooms, room)
		}
		return nil
	})
	return rooms, err
}

// Trim drops all but the keep most recent messages of a room and returns
// the number of rows removed.
func (m MessageRepository) Trim(room string, keep int) (int, error) {
	var stale [][]byte
	prefix := roomPrefix(room)
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		var seenCount int
		for it.Seek(append(append([]byte{}, prefix...), []byte(seekCeiling)...)); it.ValidForPrefix(prefix); it.Next() {
			seenCount++
			if seenCount <= keep {
				continue
			}
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(stale) == 0 {
		return 0, err
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
			// Key layout: prefix + 19-digit timestamp + ":" + message ID.
			if id := messageIDFromKey(key, prefix); id != "" {
				if err := txn.Delete(indexKey(id)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return len(stale), err
}

func messageIDFromKey(key, prefix []byte) string {
	rest := string(key[len(prefix):])
	if len(rest) <= len(seekCeiling)+1 {
		return ""
	}
	return rest[len(seekCeiling)+1:]
}
