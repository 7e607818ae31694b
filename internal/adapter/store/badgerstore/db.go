// Package badgerstore keeps the directory and the message ledger in an
// embedded Badger database.
//
// Key layout:
//
//	rcpt:<recipient id>                 recipient record
//	msg:<message id>                    message without receipts
//	msgts:<unix nano>:<message id>      creation-time index, iterated newest first
//	rct:<message id>:<recipient id>     receipt
package badgerstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

const (
	prefixRecipient = "rcpt:"
	prefixMessage   = "msg:"
	prefixMsgTime   = "msgts:"
	prefixReceipt   = "rct:"

	// conflictRetries bounds optimistic retries when two writers touch the same key.
	conflictRetries = 8
)

// Options configure the embedded database.
type Options struct {
	Path     string
	InMemory bool
}

// Open opens (or creates) the database.
func Open(opts Options, logger *slog.Logger) (*badger.DB, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithLogger(&badgerLogger{logger: logger.With("component", "badger")})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badger open %q: %w", opts.Path, err)
	}
	return db, nil
}

// update runs fn in a read-write transaction and retries on write conflicts.
func update(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for range conflictRetries {
		err = db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON(txn *badger.Txn, key string, dst any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(f string, v ...any)   { l.logger.Error(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Warningf(f string, v ...any) { l.logger.Warn(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Infof(f string, v ...any)    { l.logger.Debug(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Debugf(f string, v ...any)   { l.logger.Debug(fmt.Sprintf(f, v...)) }
