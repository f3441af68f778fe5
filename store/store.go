// Package store persists pool state into a key-value database, one batch per committed operation.
package store

import (
	"errors"
	"fmt"

	"github.com/defistate/defistate-clmm/bitset"
	"github.com/defistate/defistate-clmm/protocols/clmm"
	"github.com/defistate/defistate-clmm/protocols/clmm/oracle"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/zeebo/blake3"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the dependencies of a Store.
type Config struct {
	// DB is the backing database. An in-memory database is used when nil.
	DB     ethdb.KeyValueStore
	Logger Logger
}

func (c *Config) validate() error {
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// Store reads and writes pool records.
type Store struct {
	db     ethdb.KeyValueStore
	logger Logger
}

// New constructs a Store from a configuration.
func New(cfg *Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	db := cfg.DB
	if db == nil {
		db = memorydb.New()
	}
	return &Store{db: db, logger: cfg.Logger}, nil
}

// Change is the diff of one pool produced by an operation.
type Change struct {
	Pool solana.PublicKey
	Diff clmm.PoolStateDiff
}

// Commit writes every change in a single batch. Either every record is written or none is.
func (s *Store) Commit(changes ...Change) error {
	batch := s.db.NewBatch()
	var records int
	for _, c := range changes {
		if c.Diff.IsEmpty() {
			continue
		}
		if err := writeDiff(batch, c.Pool, c.Diff); err != nil {
			return fmt.Errorf("store: pool %s: %w", c.Pool, err)
		}
		records += c.Diff.Records()
	}
	if records == 0 {
		return nil
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("store: write batch: %w", err)
	}
	s.logger.Debug("Committed pool records", "pools", len(changes), "records", records, "bytes", batch.ValueSize())
	return nil
}

func writeDiff(batch ethdb.Batch, pool solana.PublicKey, diff clmm.PoolStateDiff) error {
	put := func(key []byte, v any) error {
		data, err := bin.MarshalBorsh(v)
		if err != nil {
			return fmt.Errorf("encode %q: %w", key[0], err)
		}
		return batch.Put(key, data)
	}

	if diff.Pool != nil {
		if err := put(poolKey(pool), *diff.Pool); err != nil {
			return err
		}
	}

	for _, tick := range diff.TickDeletions {
		if err := batch.Delete(tickKey(pool, tick)); err != nil {
			return err
		}
	}
	for _, t := range diff.TickUpdates {
		data, err := encodeTick(t)
		if err != nil {
			return fmt.Errorf("encode tick %d: %w", t.Tick, err)
		}
		if err := batch.Put(tickKey(pool, t.Tick), data); err != nil {
			return err
		}
	}

	for _, i := range diff.WordDeletions {
		if err := batch.Delete(wordKey(pool, i)); err != nil {
			return err
		}
	}
	for _, u := range diff.WordUpdates {
		if err := put(wordKey(pool, u.Index), u.Word); err != nil {
			return err
		}
	}

	for _, id := range diff.PositionDeletions {
		if err := batch.Delete(positionKey(pool, id)); err != nil {
			return err
		}
	}
	for _, p := range diff.PositionUpdates {
		if err := put(positionKey(pool, p.ID), *p); err != nil {
			return err
		}
	}

	for _, u := range diff.ObservationUpdates {
		if err := put(observationKey(pool, u.Index), u.Observation); err != nil {
			return err
		}
	}
	return nil
}

// LoadPool rebuilds the state of one pool from its records.
func (s *Store) LoadPool(id solana.PublicKey) (*clmm.PoolState, error) {
	data, err := s.db.Get(poolKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", clmm.ErrPoolNotFound, id)
	}
	pool, err := decode[clmm.Pool](data)
	if err != nil {
		return nil, fmt.Errorf("store: decode pool %s: %w", id, err)
	}

	// a stored pool is the diff of its records against nothing
	diff := clmm.PoolStateDiff{Pool: pool}

	err = s.iterate(tickPrefix, id, func(key, value []byte) error {
		t, err := decodeTick(value)
		if err != nil {
			return fmt.Errorf("tick %d: %w", tickFromKey(key), err)
		}
		diff.TickUpdates = append(diff.TickUpdates, t)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.iterate(wordPrefix, id, func(key, value []byte) error {
		w, err := decode[bitset.BitSet](value)
		if err != nil {
			return fmt.Errorf("word %d: %w", wordFromKey(key), err)
		}
		diff.WordUpdates = append(diff.WordUpdates, clmm.WordUpdate{Index: wordFromKey(key), Word: *w})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.iterate(positionPrefix, id, func(key, value []byte) error {
		p, err := decode[clmm.Position](value)
		if err != nil {
			return fmt.Errorf("position: %w", err)
		}
		diff.PositionUpdates = append(diff.PositionUpdates, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// observation keys are the slot index, so iteration yields the buffer in order
	err = s.iterate(observationPrefix, id, func(key, value []byte) error {
		o, err := decode[oracle.Observation](value)
		if err != nil {
			return fmt.Errorf("observation: %w", err)
		}
		diff.ObservationUpdates = append(diff.ObservationUpdates, clmm.ObservationUpdate{
			Index:       observationFromKey(key),
			Observation: *o,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	state, err := clmm.Patcher(nil, diff)
	if err != nil {
		return nil, fmt.Errorf("store: rebuild pool %s: %w", id, err)
	}
	s.logger.Debug("Pool loaded", "pool", id, "records", diff.Records())
	return state, nil
}

// Digest hashes every record of a pool in key order.
func (s *Store) Digest(id solana.PublicKey) ([32]byte, error) {
	var sum [32]byte
	h := blake3.New()

	data, err := s.db.Get(poolKey(id))
	if err != nil {
		return sum, fmt.Errorf("%w: %s", clmm.ErrPoolNotFound, id)
	}
	h.Write(data)

	for _, prefix := range []byte{tickPrefix, wordPrefix, positionPrefix, observationPrefix} {
		err := s.iterate(prefix, id, func(key, value []byte) error {
			h.Write(key)
			h.Write(value)
			return nil
		})
		if err != nil {
			return sum, err
		}
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

func (s *Store) iterate(prefix byte, pool solana.PublicKey, fn func(key, value []byte) error) error {
	it := s.db.NewIterator(scopedPrefix(prefix, pool), nil)
	defer it.Release()
	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return fmt.Errorf("store: pool %s: %w", pool, err)
		}
	}
	return it.Error()
}

// Close closes the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}
