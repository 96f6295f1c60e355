package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/tinycarbon/pkg/storage"
)

// seriesPrefix namespaces series records so other record kinds can share
// the database later.
var seriesPrefix = []byte("series/")

var _ storage.Index = (*Index)(nil)

// Index implements storage.Index using BadgerDB (LSM tree). Keys are the
// metric names, so prefix listing is a key range scan.
type Index struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly defaults)
	MaxMemoryMB int64
}

// New opens the index
func New(cfg Config) (*Index, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Index records are tiny; 16 MB memtable keeps the footprint small
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Index{db: db}, nil
}

// Record stores or replaces the entry for a series
func (i *Index) Record(ctx context.Context, info storage.SeriesInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode series info: %w", err)
	}

	return i.db.Update(func(txn *badger.Txn) error {
		return txn.Set(seriesKey(info.Name), value)
	})
}

// Get returns the entry for a series, or storage.ErrNotFound
func (i *Index) Get(ctx context.Context, name string) (storage.SeriesInfo, error) {
	var info storage.SeriesInfo
	if err := ctx.Err(); err != nil {
		return info, err
	}

	err := i.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(seriesKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return info, fmt.Errorf("%w: %s", storage.ErrNotFound, name)
	}
	return info, err
}

// List returns up to limit series names starting with prefix, in key order
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (i *Index) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type listResult struct {
		names []string
		err   error
	}
	done := make(chan listResult, 1)

	go func() {
		var res listResult
		res.err = i.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = seriesKey(prefix)

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				res.names = append(res.names, string(it.Item().Key()[len(seriesPrefix):]))
				if limit > 0 && len(res.names) >= limit {
					break
				}
			}
			return nil
		})
		done <- res
	}()

	select {
	case res := <-done:
		return res.names, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("list operation cancelled: %w", ctx.Err())
	}
}

// Count returns the number of indexed series
func (i *Index) Count(ctx context.Context) (int, error) {
	names, err := i.List(ctx, "", 0)
	return len(names), err
}

// Delete removes a series entry
func (i *Index) Delete(name string) error {
	return i.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(seriesKey(name))
	})
}

// RunGC runs BadgerDB's value log garbage collection
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns error only if GC failed, nil if GC not needed or succeeded
func (i *Index) RunGC(discardRatio float64) error {
	err := i.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// Size returns the on-disk size of the LSM tree and value log
func (i *Index) Size() (lsm, vlog int64) {
	return i.db.Size()
}

// Close shuts down BadgerDB cleanly
func (i *Index) Close() error {
	return i.db.Close()
}

func seriesKey(name string) []byte {
	key := make([]byte, 0, len(seriesPrefix)+len(name))
	key = append(key, seriesPrefix...)
	return append(key, name...)
}
