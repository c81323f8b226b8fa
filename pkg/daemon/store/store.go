// Package store provides Badger DB-backed persistence for the daemon: the
// last successful update check and the journal of a paused transfer.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/otahub/pkg/otahub/manifest"
)

// Keys. last_successful_check holds big-endian int64 epoch milliseconds.
const (
	keyLastCheck = "last_successful_check"
	keyTransfer  = "transfer"
)

// Record is the journal entry of a paused transfer.
type Record struct {
	ID    string         `json:"id"`
	URL   string         `json:"url"`
	Path  string         `json:"path"`
	Entry manifest.Entry `json:"entry"`
	Saved time.Time      `json:"saved"`
}

// Store is the daemon's state storage backed by Badger DB.
type Store struct {
	db *badger.DB

	// Serializes read-modify-write of the last check.
	mu sync.Mutex
}

// Open opens or creates a store in the given directory.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// LastCheck returns the instant of the last successful check. ok is false if
// no check has ever succeeded.
func (s *Store) LastCheck() (t time.Time, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyLastCheck))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt last check value: %d bytes", len(val))
			}
			t = time.UnixMilli(int64(binary.BigEndian.Uint64(val)))
			ok = true
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading last check: %w", err)
	}
	return t, ok, nil
}

// SetLastCheck stores t as the last successful check, overwriting any
// previous value.
func (s *Store) SetLastCheck(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setLastCheck(t)
}

// AdvanceLastCheck stores t only if it is later than the stored value and
// returns the value now stored.
func (s *Store) AdvanceLastCheck(t time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok, err := s.LastCheck()
	if err != nil {
		return time.Time{}, err
	}
	if ok && !t.After(prev) {
		return prev, nil
	}
	if err := s.setLastCheck(t); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(t.UnixMilli()), nil
}

func (s *Store) setLastCheck(t time.Time) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.UnixMilli()))

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyLastCheck), buf[:])
	})
	if err != nil {
		return fmt.Errorf("writing last check: %w", err)
	}
	return nil
}

// SaveTransfer journals a paused transfer, replacing any previous record.
func (s *Store) SaveTransfer(rec Record) error {
	if rec.Saved.IsZero() {
		rec.Saved = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyTransfer), data)
	})
	if err != nil {
		return fmt.Errorf("writing transfer record: %w", err)
	}
	return nil
}

// LoadTransfer returns the journaled transfer, if any.
func (s *Store) LoadTransfer() (Record, bool, error) {
	var rec Record

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyTransfer))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("reading transfer record: %w", err)
	}
	return rec, true, nil
}

// ClearTransfer removes the journaled transfer. Clearing an empty journal is
// not an error.
func (s *Store) ClearTransfer() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyTransfer))
	})
	if err != nil {
		return fmt.Errorf("clearing transfer record: %w", err)
	}
	return nil
}
