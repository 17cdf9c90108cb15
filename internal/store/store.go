// ABOUTME: Persistent storage for the last clock correction
// ABOUTME: Keeps one JSON record in a bbolt bucket so restarts resume corrected
package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketName = []byte("correction")
	recordKey  = []byte("last")
)

// Record is a saved correction
type Record struct {
	Slope   float64   `json:"slope"`
	Offset  float64   `json:"offset"`
	RoundID uint8     `json:"round_id"`
	Samples int       `json:"samples"`
	SavedAt time.Time `json:"saved_at"`
}

// DB wraps the bolt database
type DB struct {
	db *bolt.DB
}

// Open opens or creates the database at path
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open correction store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &DB{db: db}, nil
}

// Save replaces the stored record
func (d *DB) Save(r Record) error {
	if r.SavedAt.IsZero() {
		r.SavedAt = time.Now()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(recordKey, data)
	})
}

// Load returns the stored record. ok is false when nothing was saved yet.
func (d *DB) Load() (r Record, ok bool, err error) {
	err = d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketName).Get(recordKey)
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to load correction: %w", err)
	}
	return r, ok, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}
