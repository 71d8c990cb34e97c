//go:generate go run go.uber.org/mock/mockgen -source=flagged.go -destination=../mocks/mock_flagged_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	apperrors "chat-relay/errors"
)

type FlaggedStatus string

const (
	StatusPending  FlaggedStatus = "pending"
	StatusApproved FlaggedStatus = "approved"
	StatusRejected FlaggedStatus = "rejected"
)

// FlaggedRecord is the durable review record created for a flagged (not
// blocked) message. Approved and rejected are terminal states.
type FlaggedRecord struct {
	MessageID  string        `json:"message_id"`
	Room       string        `json:"room"`
	Author     string        `json:"author"`
	Text       string        `json:"text"`
	Reason     string        `json:"reason"`
	Confidence float64       `json:"confidence"`
	Method     string        `json:"method"`
	Language   string        `json:"language,omitempty"`
	Status     FlaggedStatus `json:"status"`
	ReviewedBy string        `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time    `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// IFlaggedRepository stores flagged-message review records.
// Save is idempotent per message ID: a retried write never duplicates
// nor overwrites the record.
type IFlaggedRepository interface {
	Save(record FlaggedRecord) error
	List(status FlaggedStatus, limit int) ([]FlaggedRecord, error)
	Review(messageID string, status FlaggedStatus, reviewer string) (FlaggedRecord, error)
}

type FlaggedRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewFlaggedRepository(db *badger.DB, log *slog.Logger) FlaggedRepository {
	return FlaggedRepository{db: db, log: log}
}

const flaggedPrefix = "flag:"

func flaggedKey(messageID string) []byte {
	return []byte(flaggedPrefix + messageID)
}

func (f FlaggedRepository) Save(record FlaggedRecord) error {
	if record.Status == "" {
		record.Status = StatusPending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return f.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(flaggedKey(record.MessageID)); err == nil {
			// Already recorded for this message, keep the original.
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(flaggedKey(record.MessageID), value)
	})
}

// List returns records in the given status, most recent first.
func (f FlaggedRepository) List(status FlaggedStatus, limit int) ([]FlaggedRecord, error) {
	var records []FlaggedRecord
	err := f.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(flaggedPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record FlaggedRecord
			if err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &record)
			}); err != nil {
				return err
			}
			if record.Status == status {
				records = append(records, record)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Review transitions a record to approved or rejected and stamps the
// reviewer. Unknown message IDs fail with ErrUnknownMessage.
func (f FlaggedRepository) Review(messageID string, status FlaggedStatus, reviewer string) (FlaggedRecord, error) {
	var record FlaggedRecord
	err := f.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(flaggedKey(messageID))
		if err == badger.ErrKeyNotFound {
			return apperrors.ErrUnknownMessage
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(value []byte) error {
			return json.Unmarshal(value, &record)
		}); err != nil {
			return err
		}

		now := time.Now().UTC()
		record.Status = status
		record.ReviewedBy = reviewer
		record.ReviewedAt = &now

		value, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return txn.Set(flaggedKey(messageID), value)
	})
	return record, err
}
