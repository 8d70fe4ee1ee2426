package crosswalk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCrosswalk = []byte("crosswalk")
	keyEntries      = []byte("entries")
	keyFetchedAt    = []byte("fetched_at")
)

// Snapshot persists the last fetched dataset so restarts within the TTL do
// not refetch it.
type Snapshot struct {
	db *bolt.DB
}

// OpenSnapshot opens or creates the snapshot file at path.
func OpenSnapshot(path string) (*Snapshot, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open crosswalk snapshot: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCrosswalk)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Snapshot{db: db}, nil
}

func (s *Snapshot) Close() error {
	return s.db.Close()
}

// Save replaces the stored dataset.
func (s *Snapshot) Save(entries Entries, fetchedAt time.Time) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	stamp, err := fetchedAt.UTC().MarshalText()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCrosswalk)
		if err := b.Put(keyEntries, data); err != nil {
			return err
		}
		return b.Put(keyFetchedAt, stamp)
	})
}

// Load returns the stored dataset. ok is false when nothing was saved yet.
func (s *Snapshot) Load() (entries Entries, fetchedAt time.Time, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCrosswalk)
		data := b.Get(keyEntries)
		stamp := b.Get(keyFetchedAt)
		if data == nil || stamp == nil {
			return nil
		}
		if err := fetchedAt.UnmarshalText(stamp); err != nil {
			return err
		}
		// bbolt values are only valid inside the transaction; Unmarshal copies.
		if err := json.Unmarshal(data, &entries); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return entries, fetchedAt, ok, err
}
