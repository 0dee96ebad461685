// Package population provides BadgerDB-backed storage for scored genomes.
//
// Individuals are keyed by genome ID. A second key space orders them by
// fitness so the best can be read without scanning the whole store.
package population

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/genvm/internal/types"
)

var (
	// ErrNotFound is returned when an individual doesn't exist.
	ErrNotFound = errors.New("individual not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("population store closed")
)

// Key prefixes for BadgerDB storage.
var (
	// prefixIndividual is the prefix for individual data.
	// Key format: prefixIndividual + genome id (32 bytes)
	prefixIndividual = []byte{0x01}

	// prefixFitness orders individuals best first.
	// Key format: prefixFitness + fitness sort key (32 bytes) + genome id
	prefixFitness = []byte{0x02}

	// prefixMeta is the prefix for metadata.
	prefixMeta = []byte{0x03}

	// metaCount is the key for the stored individual count.
	metaCount = append(append([]byte(nil), prefixMeta...), []byte("count")...)
)

// Config contains configuration for the population store.
type Config struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// NumMemtables is the number of memtables.
	NumMemtables int

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64

	// Logger is an optional logger. Set to nil to disable logging.
	Logger badger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:             path,
		NumCompactors:    2,
		NumMemtables:     3,
		ValueLogFileSize: 64 << 20,
	}
}

// Store holds individuals in BadgerDB.
type Store struct {
	db *badger.DB

	// count is cached in memory
	count atomic.Uint64

	// mu serialises writers so index maintenance sees a consistent view
	mu sync.Mutex

	closed atomic.Bool
}

// Open opens or creates a population store.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(cfg.Logger)
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.NumMemtables > 0 {
		opts = opts.WithNumMemtables(cfg.NumMemtables)
	}
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &Store{db: db}
	if err := s.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return s, nil
}

func (s *Store) loadMetadata() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaCount)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) >= 8 {
				s.count.Store(binary.LittleEndian.Uint64(val))
			}
			return nil
		})
	})
}

func individualKey(id types.GenomeID) []byte {
	key := make([]byte, 1+types.GenomeIDSize)
	key[0] = prefixIndividual[0]
	copy(key[1:], id[:])
	return key
}

func fitnessKey(f types.Fitness, id types.GenomeID) []byte {
	key := make([]byte, 0, 1+32+types.GenomeIDSize)
	key = append(key, prefixFitness[0])
	key = append(key, f.SortKey()...)
	return append(key, id[:]...)
}

func countValue(n uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, n)
	return buf
}

// getLocked reads an individual inside txn.
func getLocked(txn *badger.Txn, id types.GenomeID) (*types.Individual, error) {
	item, err := txn.Get(individualKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ind *types.Individual
	err = item.Value(func(val []byte) error {
		ind, err = types.DeserializeIndividual(val)
		return err
	})
	return ind, err
}

// putTxn writes ind and its fitness index entry, replacing any previous
// version. It reports whether the individual is new.
func putTxn(txn *badger.Txn, ind *types.Individual) (bool, error) {
	old, err := getLocked(txn, ind.ID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return false, err
	default:
		if err := txn.Delete(fitnessKey(old.Fitness, old.ID)); err != nil {
			return false, err
		}
	}
	if err := txn.Set(individualKey(ind.ID), ind.Serialize()); err != nil {
		return false, err
	}
	if err := txn.Set(fitnessKey(ind.Fitness, ind.ID), nil); err != nil {
		return false, err
	}
	return old == nil, nil
}

// Get retrieves an individual by genome ID.
func (s *Store) Get(id types.GenomeID) (*types.Individual, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var ind *types.Individual
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ind, err = getLocked(txn, id)
		return err
	})
	return ind, err
}

// Has checks if an individual exists.
func (s *Store) Has(id types.GenomeID) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(individualKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// Put stores an individual, replacing a previous one with the same genome.
func (s *Store) Put(ind *types.Individual) error {
	return s.PutBatch([]types.Individual{*ind})
}

// PutBatch stores individuals in a single transaction.
func (s *Store) PutBatch(inds []types.Individual) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var added uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		added = 0
		for i := range inds {
			isNew, err := putTxn(txn, &inds[i])
			if err != nil {
				return err
			}
			if isNew {
				added++
			}
		}
		return txn.Set(metaCount, countValue(s.count.Load()+added))
	})
	if err != nil {
		return err
	}
	s.count.Add(added)
	return nil
}

// Delete removes an individual. Deleting a missing individual is not an
// error.
func (s *Store) Delete(id types.GenomeID) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed bool
	err := s.db.Update(func(txn *badger.Txn) error {
		old, err := getLocked(txn, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(individualKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(fitnessKey(old.Fitness, id)); err != nil {
			return err
		}
		removed = true
		return txn.Set(metaCount, countValue(s.count.Load()-1))
	})
	if err != nil {
		return err
	}
	if removed {
		s.count.Add(^uint64(0)) // Decrement
	}
	return nil
}

// Count returns the number of stored individuals.
func (s *Store) Count() uint64 {
	return s.count.Load()
}

// Best returns up to n individuals, best first.
func (s *Store) Best(n int) ([]types.Individual, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var out []types.Individual
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixFitness
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(out) < n; it.Next() {
			key := it.Item().Key()
			id, err := types.GenomeIDFromBytes(key[len(key)-types.GenomeIDSize:])
			if err != nil {
				return err
			}
			ind, err := getLocked(txn, id)
			if err != nil {
				return fmt.Errorf("fitness index entry %s: %w", id.Short(), err)
			}
			out = append(out, *ind)
		}
		return nil
	})
	return out, err
}

// ForEach calls fn for every individual in genome ID order. Return an
// error from fn to stop the iteration.
func (s *Store) ForEach(fn func(*types.Individual) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixIndividual
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ind, err := types.DeserializeIndividual(val)
				if err != nil {
					return err
				}
				return fn(ind)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// RunGC runs garbage collection on the value log.
func (s *Store) RunGC() error {
	if s.closed.Load() {
		return ErrClosed
	}
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	return s.db.Close()
}
