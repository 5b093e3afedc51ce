package store

import (
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by every Load method when no record exists for
// the given key (§7's NotFound error kind: "surfaced to caller; never
// retried automatically").
var ErrNotFound = errors.New("store: record not found")

// Store is the embedded key-value persistence collaborator. Every public
// mutation runs inside a single Badger transaction, satisfying §6's
// "each public mutation is atomic".
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) a Badger database rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogAdapter{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: opening database at %s: %w", dir, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"dir":      dir,
	}).Info("Opened persistence database")

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// put marshals v as JSON and writes it under key in one transaction.
func (s *Store) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encoding %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// get reads and unmarshals the record at key into out, or ErrNotFound.
func (s *Store) get(key string, out any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: reading %s: %w", key, err)
	}
	return nil
}

// delete removes the record at key, if any.
func (s *Store) delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// scanPrefix invokes fn with the raw value of every key under prefix, in
// key order.
func (s *Store) scanPrefix(prefix string, fn func(key string, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			if err := item.Value(func(val []byte) error {
				return fn(key, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// badgerLogAdapter routes Badger's internal logging through logrus so the
// database speaks the same structured log stream as the rest of the core.
type badgerLogAdapter struct{}

func (badgerLogAdapter) Errorf(format string, args ...interface{}) {
	logrus.WithField("component", "badger").Errorf(format, args...)
}

func (badgerLogAdapter) Warningf(format string, args ...interface{}) {
	logrus.WithField("component", "badger").Warnf(format, args...)
}

func (badgerLogAdapter) Infof(format string, args ...interface{}) {
	logrus.WithField("component", "badger").Debugf(format, args...)
}

func (badgerLogAdapter) Debugf(format string, args ...interface{}) {
	logrus.WithField("component", "badger").Debugf(format, args...)
}
