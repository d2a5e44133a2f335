package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"log"
	"sort"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/embedspace/artifact"
	"github.com/hupe1980/embedspace/codec"
	"github.com/hupe1980/embedspace/model"
)

// Options configures the Badger-backed artifact store.
type Options struct {
	// InMemory runs Badger without disk persistence. Tests use this to get
	// a real engine without a directory.
	InMemory bool

	// Logger overrides the badger logger. The default suppresses info and
	// debug output.
	Logger badger.Logger
}

// DefaultOptions are the recommended defaults.
var DefaultOptions = Options{}

// Store is a Badger-backed artifact.Store. Generation counters are 8-byte
// big-endian values, class statistics one key per (namespace, label), and
// each namespace's projection a single msgpack blob so a new run replaces
// the old one atomically.
type Store struct {
	db     *badger.DB
	closed atomic.Bool
}

var _ artifact.Store = (*Store)(nil)

// New opens a Badger artifact store rooted at dir. dir may be empty only
// in in-memory mode.
func New(dir string, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if !opts.InMemory && dir == "" {
		return nil, errors.New("badgerstore: dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(quietLogger{})
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Key space. The zero byte cannot occur in namespace or label strings that
// survive UTF-8 input, which keeps prefixes unambiguous.
const sep = 0x00

func genKey(namespace string) []byte {
	return buildKey('g', namespace)
}

func projKey(namespace string) []byte {
	return buildKey('p', namespace)
}

func statKey(namespace, label string) []byte {
	key := buildKey('s', namespace)
	key = append(key, sep)
	return append(key, label...)
}

func statPrefix(namespace string) []byte {
	return append(buildKey('s', namespace), sep)
}

func buildKey(kind byte, namespace string) []byte {
	key := make([]byte, 0, 2+len(namespace))
	key = append(key, kind, sep)
	return append(key, namespace...)
}

func (s *Store) NextGeneration(ctx context.Context, namespace string) (uint64, error) {
	if s.closed.Load() {
		return 0, artifact.ErrClosed
	}

	var gen uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		key := genKey(namespace)

		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(v []byte) error {
				if len(v) == 8 {
					gen = binary.BigEndian.Uint64(v)
				}
				return nil
			}); err != nil {
				return err
			}
		}

		gen++
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], gen)
		return txn.Set(key, buf[:])
	})
	if err != nil {
		return 0, err
	}
	return gen, nil
}

func (s *Store) PutClassStats(ctx context.Context, namespace string, stats []model.ClassStatistic) error {
	if s.closed.Load() {
		return artifact.ErrClosed
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, stat := range stats {
			value, err := codec.Default.Marshal(stat)
			if err != nil {
				return err
			}
			if err := txn.Set(statKey(namespace, stat.Label), value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ClassStats(ctx context.Context, namespace string) ([]model.ClassStatistic, error) {
	if s.closed.Load() {
		return nil, artifact.ErrClosed
	}

	var out []model.ClassStatistic
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := statPrefix(namespace)

		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var stat model.ClassStatistic
				if err := codec.Default.Unmarshal(v, &stat); err != nil {
					return err
				}
				out = append(out, stat)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Badger iterates in key order, so stats arrive sorted by label.
	return out, nil
}

func (s *Store) PutProjection(ctx context.Context, namespace string, points []model.ProjectionPoint) error {
	if s.closed.Load() {
		return artifact.ErrClosed
	}

	if len(points) == 0 {
		return s.db.Update(func(txn *badger.Txn) error {
			err := txn.Delete(projKey(namespace))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		})
	}

	sorted := make([]model.ProjectionPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UUID < sorted[j].UUID })

	value, err := codec.Default.Marshal(sorted)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(projKey(namespace), value)
	})
}

func (s *Store) Projection(ctx context.Context, namespace string) ([]model.ProjectionPoint, error) {
	if s.closed.Load() {
		return nil, artifact.ErrClosed
	}

	var out []model.ProjectionPoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(projKey(namespace))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return codec.Default.Unmarshal(v, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	if s.closed.Load() {
		return artifact.ErrClosed
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(genKey(namespace)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Delete(projKey(namespace)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		// Collect stat keys first; deleting while iterating invalidates the
		// iterator.
		prefix := statPrefix(namespace)
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// quietLogger suppresses badger's info and debug chatter.
type quietLogger struct{}

func (quietLogger) Errorf(f string, v ...interface{})   { log.Printf("[badger] ERROR: "+f, v...) }
func (quietLogger) Warningf(f string, v ...interface{}) { log.Printf("[badger] WARN: "+f, v...) }
func (quietLogger) Infof(string, ...interface{})        {}
func (quietLogger) Debugf(string, ...interface{})       {}
