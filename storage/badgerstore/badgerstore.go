/*
	Package badgerstore implements the cell store contract on BadgerDB.  Each
	cell is one key-value pair keyed by the cell id; AtomicApply runs inside a
	single Badger transaction and retries on conflict, which gives the
	single-cell read-modify-write its atomicity.
*/
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blang/semver"
	"github.com/dgraph-io/badger/v3"
	"github.com/twinj/uuid"

	"github.com/cellgraph/cellgraph/cellgraph"
	"github.com/cellgraph/cellgraph/storage"
)

// DefaultSyncWrites is true if all writes are synced to disk, thereby making
// the db resilient at cost of speed.
const DefaultSyncWrites = false

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		cellgraph.Errorf("Unable to make semver in badgerstore: %v\n", err)
	}
	e := Engine{"badger", "BadgerDB cell store", ver}
	storage.RegisterEngine(e)
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewStore returns a badger-backed cell store.  The passed Config must
// contain a "path" string; if "testing" is true the path is placed under the
// system temp directory.
func (e Engine) NewStore(config cellgraph.Config) (storage.CellStore, error) {
	path, testing, err := parseConfig(config)
	if err != nil {
		return nil, err
	}
	return openStore(path, testing)
}

func parseConfig(config cellgraph.Config) (path string, testing bool, err error) {
	path, err = config.GetString("path")
	if err != nil {
		err = fmt.Errorf("%q must be specified for BadgerDB configuration", "path")
		return
	}
	testing, err = config.GetBool("testing")
	if err != nil {
		return
	}
	if testing {
		path = filepath.Join(os.TempDir(), path)
	}
	return
}

// NewTestStore returns a badger store under a fresh temp directory, removed
// on Close.
func NewTestStore() (storage.CellStore, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("cellgraph-test-badger-%x", uuid.NewV4().Bytes()))
	return openStore(path, true)
}

func openStore(path string, testing bool) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts = opts.WithSyncWrites(DefaultSyncWrites)
	opts = opts.WithLogger(badgerLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("can't open badger @ %s: %v", path, err)
	}
	cellgraph.Infof("Opened badger cell store @ %s\n", path)
	return &Store{bdp: db, directory: path, testing: testing}, nil
}

// Store holds a badger DB and its directory.
type Store struct {
	bdp       *badger.DB
	directory string
	testing   bool
}

func (s *Store) ReadCell(ctx context.Context, id cellgraph.Id) (cellgraph.DataMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, &storage.StoreError{Op: "read", Cell: id, Err: err}
	}
	var value cellgraph.DataMap
	err := s.bdp.View(func(txn *badger.Txn) error {
		item, err := txn.Get(id.Bytes())
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cellgraph.Deserialize(val, &value)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			err = storage.ErrCellNotFound
		}
		return nil, &storage.StoreError{Op: "read", Cell: id, Err: err}
	}
	return value, nil
}

func (s *Store) CreateCell(ctx context.Context, id cellgraph.Id, value cellgraph.DataMap) error {
	if err := ctx.Err(); err != nil {
		return &storage.StoreError{Op: "create", Cell: id, Err: err}
	}
	data, err := cellgraph.Serialize(value, cellgraph.DefaultCompression, cellgraph.DefaultChecksum)
	if err != nil {
		return &storage.StoreError{Op: "create", Cell: id, Err: err}
	}
	err = s.bdp.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(id.Bytes()); err == nil {
			return storage.ErrCellExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(id.Bytes(), data)
	})
	if err != nil {
		return &storage.StoreError{Op: "create", Cell: id, Err: err}
	}
	return nil
}

func (s *Store) NewCell(ctx context.Context, value cellgraph.DataMap) (cellgraph.Id, error) {
	id := cellgraph.NewId()
	if err := s.CreateCell(ctx, id, value); err != nil {
		return cellgraph.NilId, err
	}
	return id, nil
}

// AtomicApply runs fn on the current cell value inside one transaction.
// Badger detects conflicting commits, in which case the whole
// read-apply-write is retried with a fresh value, so concurrent appliers
// never lose updates.
func (s *Store) AtomicApply(ctx context.Context, id cellgraph.Id, fn storage.ApplyFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return &storage.StoreError{Op: "apply", Cell: id, Err: err}
		}
		err := s.bdp.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(id.Bytes())
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return storage.ErrCellNotFound
				}
				return err
			}
			var cur cellgraph.DataMap
			if err := item.Value(func(val []byte) error {
				return cellgraph.Deserialize(val, &cur)
			}); err != nil {
				return err
			}
			next, err := fn(cur)
			if err != nil {
				return err
			}
			data, err := cellgraph.Serialize(next, cellgraph.DefaultCompression, cellgraph.DefaultChecksum)
			if err != nil {
				return err
			}
			return txn.Set(id.Bytes(), data)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			// An ApplyFunc abort passes through unwrapped so callers see
			// their own error.
			var serr *storage.StoreError
			if errors.As(err, &serr) {
				return err
			}
			if errors.Is(err, storage.ErrCellNotFound) {
				return &storage.StoreError{Op: "apply", Cell: id, Err: storage.ErrCellNotFound}
			}
			return err
		}
		return nil
	}
}

func (s *Store) Size() uint64 {
	lsm, vlog := s.bdp.Size()
	return uint64(lsm) + uint64(vlog)
}

func (s *Store) Close() {
	if err := s.bdp.Close(); err != nil {
		cellgraph.Errorf("Error closing badger @ %s: %v\n", s.directory, err)
	}
	if s.testing {
		os.RemoveAll(s.directory)
	}
}

// badgerLogger routes badger's internal logging through the cellgraph logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	cellgraph.Errorf("badger: "+format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	cellgraph.Warningf("badger: "+format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	cellgraph.Debugf("badger: "+format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	if cellgraph.Verbose {
		cellgraph.Debugf("badger: "+format, args...)
	}
}
