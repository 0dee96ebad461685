// Package history records one summary per evolution generation in a
// BoltDB file, keyed by generation number.
package history

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/genvm/internal/types"
)

var (
	// ErrGenerationNotFound is returned when a generation has no record.
	ErrGenerationNotFound = errors.New("generation not found")

	// ErrEmpty is returned by Latest on a store with no records.
	ErrEmpty = errors.New("history is empty")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("history closed")
)

// Bucket names for BoltDB.
var (
	// bucketGenerations stores records keyed by generation.
	bucketGenerations = []byte("generations")

	// bucketMetadata stores run metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyCommandSystem = []byte("command_system_hash")
)

// Config holds history store options.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// Timeout waits for the file lock held by another process.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:    path,
		Timeout: 5 * time.Second,
	}
}

// Record summarises one generation.
type Record struct {
	Generation uint64
	Time       time.Time

	// Best is the top-ranked individual of the generation.
	Best types.Individual

	PoolSize  int
	Evaluated int
	Failed    int

	// MeanMain is the mean main fitness component over the survivors.
	MeanMain float64

	Duration time.Duration
}

// Store is a BoltDB-backed generation history.
type Store struct {
	db     *bolt.DB
	config Config

	mu     sync.RWMutex
	latest uint64
	count  uint64
	closed bool
}

// Open creates or opens a history store.
func Open(config Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout:  config.Timeout,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, config: config}
	if !config.ReadOnly {
		if err := s.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	if err := s.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}
	return s, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketGenerations, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGenerations)
		if b == nil {
			return nil
		}
		if k, _ := b.Cursor().Last(); k != nil {
			s.latest = DecodeGenerationKey(k)
		}
		s.count = uint64(b.Stats().KeyN)
		return nil
	})
}

// EncodeGenerationKey encodes a generation as a big-endian 8-byte key so
// that keys sort numerically.
func EncodeGenerationKey(gen uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, gen)
	return key
}

// DecodeGenerationKey decodes a key written by EncodeGenerationKey.
func DecodeGenerationKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// PutGeneration stores rec, replacing any record for the same generation.
func (s *Store) PutGeneration(rec *Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("encode generation %d: %w", rec.Generation, err)
	}

	var added bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGenerations)
		key := EncodeGenerationKey(rec.Generation)
		added = b.Get(key) == nil
		return b.Put(key, buf.Bytes())
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if added {
		s.count++
	}
	if rec.Generation > s.latest {
		s.latest = rec.Generation
	}
	s.mu.Unlock()
	return nil
}

// GetGeneration returns the record for gen.
func (s *Store) GetGeneration(gen uint64) (*Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGenerations)
		if b == nil {
			return ErrGenerationNotFound
		}
		data := b.Get(EncodeGenerationKey(gen))
		if data == nil {
			return ErrGenerationNotFound
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Latest returns the record with the highest generation number.
func (s *Store) Latest() (*Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	count, latest := s.count, s.latest
	s.mu.RUnlock()
	if count == 0 {
		return nil, ErrEmpty
	}
	return s.GetGeneration(latest)
}

// Count returns the number of stored generations.
func (s *Store) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Range calls fn for each record with from <= generation <= to, in order.
// An error from fn stops the iteration and is returned.
func (s *Store) Range(from, to uint64, fn func(*Record) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGenerations)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(EncodeGenerationKey(from)); k != nil; k, v = c.Next() {
			if DecodeGenerationKey(k) > to {
				break
			}
			var rec Record
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&rec); err != nil {
				return fmt.Errorf("decode generation %d: %w", DecodeGenerationKey(k), err)
			}
			if err := fn(&rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Prune removes all but the newest keep generations and returns the
// number removed.
func (s *Store) Prune(keep uint64) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest < keep {
		return 0, nil
	}
	before := EncodeGenerationKey(latest - keep + 1)

	var pruned uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketGenerations).Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, before) < 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.count -= pruned
	s.mu.Unlock()
	return pruned, nil
}

// SetCommandSystem records the opcode table fingerprint the run uses.
func (s *Store) SetCommandSystem(hash string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put(keyCommandSystem, []byte(hash))
	})
}

// CommandSystem returns the recorded fingerprint, or "" if none.
func (s *Store) CommandSystem() (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	var hash string
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketMetadata); b != nil {
			hash = string(b.Get(keyCommandSystem))
		}
		return nil
	})
	return hash, err
}

// Sync forces a sync of the database to disk.
func (s *Store) Sync() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Sync()
}

// Close closes the store. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}
