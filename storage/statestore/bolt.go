package statestore

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	bolt "go.etcd.io/bbolt"
)

var stateBucket = []byte("state")

// Bolt persists protocol state in a bbolt file. Writes issued through a
// transaction handle commit together, matching the top-level call boundary.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database file at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("statestore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

// Close releases the underlying database handle.
func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// WithinTransaction runs fn against a writable view of the store. All writes
// commit together when fn returns nil and are discarded when it errors. This
// is the persistence analog of Memory.Snapshot/Revert.
func (b *Bolt) WithinTransaction(fn func(kv KVStore) error) error {
	if b == nil || b.db == nil {
		return errNilStore
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{bucket: tx.Bucket(stateBucket)})
	})
}

// View runs fn against a read-only view of the store.
func (b *Bolt) View(fn func(kv KVStore) error) error {
	if b == nil || b.db == nil {
		return errNilStore
	}
	return b.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{bucket: tx.Bucket(stateBucket)})
	})
}

type boltTx struct {
	bucket *bolt.Bucket
}

func (t *boltTx) KVPut(key []byte, value interface{}) error {
	if t == nil || t.bucket == nil {
		return errNilStore
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return t.bucket.Put(key, encoded)
}

func (t *boltTx) KVGet(key []byte, out interface{}) (bool, error) {
	if t == nil || t.bucket == nil {
		return false, errNilStore
	}
	encoded := t.bucket.Get(key)
	if encoded == nil {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (t *boltTx) KVDelete(key []byte) error {
	if t == nil || t.bucket == nil {
		return errNilStore
	}
	return t.bucket.Delete(key)
}

func (t *boltTx) KVIterate(prefix []byte, fn func(key, value []byte) error) error {
	if t == nil || t.bucket == nil {
		return errNilStore
	}
	cursor := t.bucket.Cursor()
	for key, value := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, value = cursor.Next() {
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}
