package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/campusnotice/notice-delivery-service/internal/adapter/store"
	"github.com/campusnotice/notice-delivery-service/internal/domain/model"
)

var _ store.MessageStore = (*MessageStore)(nil)

type MessageStore struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageStore(db *badger.DB, log *slog.Logger) *MessageStore {
	return &MessageStore{db: db, log: log}
}

func messageKey(id string) string { return prefixMessage + id }

func receiptKey(messageID, recipientID string) string {
	return prefixReceipt + messageID + ":" + recipientID
}

func timeIndexKey(createdAt time.Time, id string) string {
	return fmt.Sprintf("%s%020d:%s", prefixMsgTime, createdAt.UnixNano(), id)
}

// Create writes receipts first and the message and its index last, so a
// message never becomes visible without its ledger. Large audiences may
// overflow one transaction; the batch is then committed and a new one started.
func (s *MessageStore) Create(_ context.Context, msg *model.Message) error {
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	put := func(key string, data []byte) error {
		err := txn.Set([]byte(key), data)
		if !errors.Is(err, badger.ErrTxnTooBig) {
			return err
		}
		if err := txn.Commit(); err != nil {
			return err
		}
		txn = s.db.NewTransaction(true)
		return txn.Set([]byte(key), data)
	}
	putJSON := func(key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		return put(key, data)
	}

	for i := range msg.Receipts {
		rc := msg.Receipts[i]
		if err := putJSON(receiptKey(msg.ID, rc.RecipientID), &rc); err != nil {
			return fmt.Errorf("store receipt %s/%s: %w", msg.ID, rc.RecipientID, err)
		}
	}

	head := *msg
	head.Receipts = nil
	if err := putJSON(messageKey(msg.ID), &head); err != nil {
		return fmt.Errorf("store message %s: %w", msg.ID, err)
	}
	if err := put(timeIndexKey(msg.CreatedAt, msg.ID), []byte(msg.ID)); err != nil {
		return fmt.Errorf("index message %s: %w", msg.ID, err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit message %s: %w", msg.ID, err)
	}

	s.log.Debug("MESSAGE_STORED", slog.String("message_id", msg.ID), slog.Int("receipts", len(msg.Receipts)))
	return nil
}

func (s *MessageStore) Get(_ context.Context, id string) (*model.Message, error) {
	var msg *model.Message
	err := s.db.View(func(txn *badger.Txn) error {
		m, err := loadMessage(txn, id)
		msg = m
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, model.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return msg, nil
}

func (s *MessageStore) MarkReceiptDelivered(_ context.Context, messageID, recipientID string, at time.Time) (bool, error) {
	first := false
	err := update(s.db, func(txn *badger.Txn) error {
		first = false
		key := receiptKey(messageID, recipientID)

		var rc model.Receipt
		if err := getJSON(txn, key, &rc); err != nil {
			return err
		}
		if !rc.MarkDelivered(at.UTC()) {
			return nil
		}
		first = true
		return setJSON(txn, key, &rc)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, model.ErrReceiptNotFound
	}
	if err != nil {
		return false, fmt.Errorf("mark receipt %s/%s: %w", messageID, recipientID, err)
	}
	return first, nil
}

func (s *MessageStore) ListRecent(_ context.Context, limit int) ([]model.Message, error) {
	return s.listNewest(limit, func(*model.Message) bool { return true })
}

func (s *MessageStore) ListForAudience(_ context.Context, primary, secondary, sub string, limit int) ([]model.Message, error) {
	primary = model.NormalizePrimary(primary)
	secondary = model.NormalizeSecondary(secondary)
	sub = model.NormalizeSub(sub)
	return s.listNewest(limit, func(m *model.Message) bool {
		return m.Target.Covers(primary, secondary, sub)
	})
}

// listNewest walks the time index backwards and keeps messages accepted by keep.
func (s *MessageStore) listNewest(limit int, keep func(*model.Message) bool) ([]model.Message, error) {
	var out []model.Message
	prefix := []byte(prefixMsgTime)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the greatest key under the prefix.
		seek := append([]byte(prefixMsgTime), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			msg, err := loadMessage(txn, string(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if keep(msg) {
				out = append(out, *msg)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

func loadMessage(txn *badger.Txn, id string) (*model.Message, error) {
	var msg model.Message
	if err := getJSON(txn, messageKey(id), &msg); err != nil {
		return nil, err
	}

	prefix := []byte(prefixReceipt + id + ":")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var rc model.Receipt
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rc)
		})
		if err != nil {
			return nil, err
		}
		msg.Receipts = append(msg.Receipts, rc)
	}
	return &msg, nil
}
