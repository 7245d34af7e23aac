package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/board"
)

const (
	// BucketName for storing board records
	BucketName = "boards"

	// MetaBucket maps board ids to their import time
	MetaBucket = "meta"
)

// ErrNotFound is returned when no board with the requested id exists
var ErrNotFound = errors.New("board not found")

// ErrExists is returned by Create when the id is already taken
var ErrExists = errors.New("board already exists")

// Entry summarises a stored board
type Entry struct {
	ID       string
	Author   string
	Leds     int
	Imported time.Time
}

// BoardStore archives board descriptions in a BoltDB file, keyed by board id.
// Records are stored self contained (image inlined).
type BoardStore struct {
	db       *bbolt.DB
	dbPath   string
	isClosed bool
}

// Open opens or creates a board store
func Open(dbPath string) (*BoardStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(BucketName)); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(MetaBucket)); err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoardStore{db: db, dbPath: dbPath}, nil
}

// Put stores a record, replacing any board with the same id. The record must
// already be embedded (see board.Record.Embed).
func (s *BoardStore) Put(rec *board.Record) error {
	return s.put(rec, true)
}

// Create stores a record and fails with ErrExists if the id is taken.
func (s *BoardStore) Create(rec *board.Record) error {
	return s.put(rec, false)
}

func (s *BoardStore) put(rec *board.Record, replace bool) error {
	if s.isClosed {
		return fmt.Errorf("store is closed")
	}
	if rec.ID == "" {
		return fmt.Errorf("record has no id")
	}
	if rec.ByteImage == "" {
		return fmt.Errorf("record %s: %w", rec.ID, board.ErrMissingImage)
	}

	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		meta := tx.Bucket([]byte(MetaBucket))
		if b == nil || meta == nil {
			return fmt.Errorf("bucket not found")
		}
		if !replace && b.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("%w: %s", ErrExists, rec.ID)
		}
		if err := b.Put([]byte(rec.ID), data); err != nil {
			return err
		}
		ts := make([]byte, 8)
		binary.BigEndian.PutUint64(ts, uint64(time.Now().UnixNano()))
		return meta.Put([]byte(rec.ID), ts)
	})
}

// Get returns the stored record for id
func (s *BoardStore) Get(id string) (*board.Record, error) {
	if s.isClosed {
		return nil, fmt.Errorf("store is closed")
	}

	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		// bbolt values are only valid inside the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return board.ParseRecord(data)
}

// Load fetches and builds the board with the given id
func (s *BoardStore) Load(id string) (*board.Board, error) {
	rec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return rec.Build("")
}

// List returns a summary of every stored board, sorted by id
func (s *BoardStore) List() ([]Entry, error) {
	if s.isClosed {
		return nil, fmt.Errorf("store is closed")
	}

	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		meta := tx.Bucket([]byte(MetaBucket))
		if b == nil || meta == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.ForEach(func(k, v []byte) error {
			rec, err := board.ParseRecord(v)
			if err != nil {
				// Skip corrupted records
				return nil
			}
			entry := Entry{ID: string(k), Author: rec.Author, Leds: len(rec.Leds)}
			if ts := meta.Get(k); len(ts) == 8 {
				entry.Imported = time.Unix(0, int64(binary.BigEndian.Uint64(ts)))
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// Delete removes a board
func (s *BoardStore) Delete(id string) error {
	if s.isClosed {
		return fmt.Errorf("store is closed")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		meta := tx.Bucket([]byte(MetaBucket))
		if b == nil || meta == nil {
			return fmt.Errorf("bucket not found")
		}
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		return meta.Delete([]byte(id))
	})
}

// Count returns the number of stored boards
func (s *BoardStore) Count() (int, error) {
	if s.isClosed {
		return 0, fmt.Errorf("store is closed")
	}
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database
func (s *BoardStore) Close() error {
	if s.isClosed {
		return nil
	}
	s.isClosed = true
	return s.db.Close()
}
