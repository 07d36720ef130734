package heartbeat

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var actionsBucket = []byte("actions")

// Ledger is the bbolt-backed idempotency store for heartbeat actions.
// A key acquired once stays claimed until its TTL passes, across
// process restarts.
type Ledger struct {
	db *bolt.DB
}

// OpenLedger opens (creating if needed) the ledger database.
func OpenLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open idempotency ledger: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(actionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger bucket: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the ledger database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Acquire claims key for ttl. Returns false when the key is already
// claimed and unexpired; expired claims are replaced.
func (l *Ledger) Acquire(key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return true, nil // actions without a key are never deduplicated
	}
	acquired := false
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(actionsBucket)
		now := time.Now().UTC()
		if v := b.Get([]byte(key)); v != nil {
			expiry, err := time.Parse(time.RFC3339Nano, string(v))
			if err == nil && now.Before(expiry) {
				return nil // still claimed
			}
		}
		acquired = true
		return b.Put([]byte(key), []byte(now.Add(ttl).Format(time.RFC3339Nano)))
	})
	return acquired, err
}

// Prune drops expired claims. Called opportunistically from ticks.
func (l *Ledger) Prune() error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(actionsBucket)
		now := time.Now().UTC()
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			expiry, err := time.Parse(time.RFC3339Nano, string(v))
			if err != nil || !now.Before(expiry) {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
