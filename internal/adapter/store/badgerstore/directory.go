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

var _ store.Directory = (*Directory)(nil)

type Directory struct {
	db  *badger.DB
	log *slog.Logger
}

func NewDirectory(db *badger.DB, log *slog.Logger) *Directory {
	return &Directory{db: db, log: log}
}

func (d *Directory) FindByIdentity(_ context.Context, id string) (*model.Recipient, error) {
	var r model.Recipient
	err := d.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixRecipient+id, &r)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, model.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recipient %s: %w", id, err)
	}
	return &r, nil
}

func (d *Directory) FindByGroups(_ context.Context, primaries, secondaries []string, sub string) ([]model.Recipient, error) {
	target := model.Audience{Primaries: primaries, Secondaries: secondaries, Sub: sub}.Normalize()
	if err := target.Validate(); err != nil {
		return nil, err
	}

	var out []model.Recipient
	err := d.scan(func(r model.Recipient) {
		if target.Matches(r) {
			out = append(out, r)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("find recipients by groups: %w", err)
	}
	return out, nil
}

func (d *Directory) List(_ context.Context) ([]model.Recipient, error) {
	var out []model.Recipient
	if err := d.scan(func(r model.Recipient) { out = append(out, r) }); err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return out, nil
}

func (d *Directory) scan(fn func(r model.Recipient)) error {
	prefix := []byte(prefixRecipient)
	return d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r model.Recipient
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			})
			if err != nil {
				return err
			}
			fn(r)
		}
		return nil
	})
}

func (d *Directory) UpdateOnlineStatus(_ context.Context, id string, online bool, lastSeen time.Time) error {
	return d.mutate(id, func(r *model.Recipient) bool {
		r.Online = online
		r.LastSeen = lastSeen.UTC()
		return true
	})
}

func (d *Directory) AppendPushHandle(_ context.Context, id, handle string) (bool, error) {
	added := false
	err := d.mutate(id, func(r *model.Recipient) bool {
		if r.HasPushHandle(handle) {
			added = false
			return false
		}
		r.PushHandles = append(r.PushHandles, handle)
		added = true
		return true
	})
	return added, err
}

// mutate applies fn to the stored record; fn returns false to skip the write.
func (d *Directory) mutate(id string, fn func(r *model.Recipient) bool) error {
	err := update(d.db, func(txn *badger.Txn) error {
		var r model.Recipient
		if err := getJSON(txn, prefixRecipient+id, &r); err != nil {
			return err
		}
		if !fn(&r) {
			return nil
		}
		return setJSON(txn, prefixRecipient+id, &r)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.ErrRecipientNotFound
	}
	if err != nil {
		return fmt.Errorf("update recipient %s: %w", id, err)
	}
	return nil
}

func (d *Directory) Save(_ context.Context, r model.Recipient) error {
	r.Normalize()
	if r.ID == "" {
		return errors.New("recipient id is required")
	}
	return update(d.db, func(txn *badger.Txn) error {
		return setJSON(txn, prefixRecipient+r.ID, &r)
	})
}
