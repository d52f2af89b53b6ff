// Package kv implements the ability to read and write the ledger snapshot
// to a badger key/value store.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/dgraph-io/badger/v4"
)

// Set of keys used in the store.
const (
	keyCurrent      = "snapshot/current"
	keyBackupPrefix = "snapshot/backup/"
)

// DefaultBackups is the number of prior snapshots retained when no value
// is provided.
const DefaultBackups = 5

// KV represents the serialization implementation for reading and storing
// the snapshot in badger. The prior snapshot is kept under a timestamped
// backup key before each overwrite. This implements the database.Storage
// interface.
type KV struct {
	db      *badger.DB
	backups int
}

// New opens the badger database at the specified directory. An empty
// directory opens an in-memory database.
func New(dir string, backups int) (*KV, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	if backups <= 0 {
		backups = DefaultBackups
	}

	return &KV{db: db, backups: backups}, nil
}

// Close closes the badger database.
func (kv *KV) Close() error {
	return kv.db.Close()
}

// Save stores the snapshot, moving the prior snapshot to a backup key.
func (kv *KV) Save(snapshot database.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	err = kv.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyCurrent))
		switch {
		case err == nil:
			prior, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			key := fmt.Sprintf("%s%020d", keyBackupPrefix, time.Now().UTC().UnixNano())
			if err := txn.Set([]byte(key), prior); err != nil {
				return err
			}

		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		return txn.Set([]byte(keyCurrent), data)
	})
	if err != nil {
		return err
	}

	return kv.prune()
}

// Load returns the current snapshot.
func (kv *KV) Load() (database.Snapshot, error) {
	var snapshot database.Snapshot

	err := kv.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyCurrent))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return database.ErrNoSnapshot
			}
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snapshot)
		})
	})

	return snapshot, err
}

// Backups returns the keys of the retained backups, oldest first.
func (kv *KV) Backups() ([]string, error) {
	var keys []string

	err := kv.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		iter := txn.NewIterator(opts)
		defer iter.Close()

		prefix := []byte(keyBackupPrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			keys = append(keys, string(iter.Item().KeyCopy(nil)))
		}

		return nil
	})

	return keys, err
}

// prune removes the oldest backups beyond the retention count.
func (kv *KV) prune() error {
	keys, err := kv.Backups()
	if err != nil {
		return err
	}

	if len(keys) <= kv.backups {
		return nil
	}

	return kv.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys[:len(keys)-kv.backups] {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}
