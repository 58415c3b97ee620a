package card

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "cardkeeper"

// KV is the durable key-value layer the store and usage counter write to.
type KV interface {
	// Get returns the value under key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set durably replaces the value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Close closes the underlying storage
	Close() error
}

// BoltKV implements the KV interface using BoltDB
type BoltKV struct {
	db *bbolt.DB
}

// NewBoltKV opens (or creates) the database file at path
func NewBoltKV(path string) (*BoltKV, error) {
	// The lock timeout keeps a second process from hanging on open.
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltKV{db: db}, nil
}

// Get retrieves a copy of the value stored under key
func (b *BoltKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if data != nil {
			// bbolt memory is only valid inside the transaction
			value = append([]byte{}, data...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, value != nil, nil
}

// Set stores value under key in its own transaction
func (b *BoltKV) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Close closes the database connection
func (b *BoltKV) Close() error {
	return b.db.Close()
}
