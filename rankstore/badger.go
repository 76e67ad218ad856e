package rankstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/vecshard/model"
)

// BadgerStore keeps scores in a Badger database under rank/<namespace>/<shard>.
type BadgerStore struct {
	db        *badger.DB
	namespace string
}

// BadgerOptions configures OpenBadger.
type BadgerOptions struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps the database in memory only.
	InMemory bool
	// Namespace separates the scores of different index roots.
	Namespace string
	// Logger receives Badger's own log output. Nil silences it.
	Logger *slog.Logger
}

// OpenBadger opens or creates a Badger-backed store.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Dir)
	}

	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{l: opts.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("rankstore: open badger: %w", err)
	}

	return &BadgerStore{db: db, namespace: opts.Namespace}, nil
}

func (s *BadgerStore) prefix() []byte {
	return []byte("rank/" + s.namespace + "/")
}

// Load implements Store.
func (s *BadgerStore) Load(ctx context.Context) (map[model.ShardID]float64, error) {
	scores := make(map[model.ShardID]float64)
	prefix := s.prefix()

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()

			id, err := strconv.Atoi(strings.TrimPrefix(string(item.Key()), string(prefix)))
			if err != nil {
				return fmt.Errorf("rankstore: bad key %q: %w", item.Key(), err)
			}

			if err := item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("rankstore: bad value for shard %d", id)
				}
				scores[model.ShardID(id)] = math.Float64frombits(binary.LittleEndian.Uint64(val))
				return nil
			}); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return scores, nil
}

// Save implements Store.
func (s *BadgerStore) Save(ctx context.Context, scores map[model.ShardID]float64) error {
	if err := s.db.DropPrefix(s.prefix()); err != nil {
		return fmt.Errorf("rankstore: drop previous snapshot: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for id, score := range scores {
		if err := ctx.Err(); err != nil {
			return err
		}

		val := make([]byte, 8)
		binary.LittleEndian.PutUint64(val, math.Float64bits(score))

		if err := wb.Set(append(s.prefix(), strconv.Itoa(int(id))...), val); err != nil {
			return fmt.Errorf("rankstore: write shard %d: %w", id, err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("rankstore: flush: %w", err)
	}

	return nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger forwards Badger's printf-style logging to slog.
type badgerLogger struct {
	l *slog.Logger
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.l.Info(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
