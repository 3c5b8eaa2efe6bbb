/*
	Package memstore implements the cell store contract with an in-process map.
	It is the default engine for testing and single-node experimentation.
	Values are held serialized so every read hands out an independent copy,
	matching the isolation of a remote store.
*/
package memstore

import (
	"context"
	"sync"

	"github.com/blang/semver"

	"github.com/cellgraph/cellgraph/cellgraph"
	"github.com/cellgraph/cellgraph/storage"
)

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		cellgraph.Errorf("Unable to make semver in memstore: %v\n", err)
	}
	e := Engine{"memory", "in-memory cell store", ver}
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

// NewStore returns an empty in-memory cell store.  No configuration keys are
// recognized.
func (e Engine) NewStore(config cellgraph.Config) (storage.CellStore, error) {
	return NewStore(), nil
}

// Store keeps serialized cell values in a map.  A single mutex serializes
// atomic applies; concurrent appliers of the same cell therefore interleave
// safely, in unspecified order, with no lost updates.
type Store struct {
	mu    sync.Mutex
	cells map[cellgraph.Id][]byte
	size  uint64
}

// NewStore returns an empty store without going through the engine registry,
// which is convenient for tests.
func NewStore() *Store {
	return &Store{cells: make(map[cellgraph.Id][]byte)}
}

func (s *Store) ReadCell(ctx context.Context, id cellgraph.Id) (cellgraph.DataMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, &storage.StoreError{Op: "read", Cell: id, Err: err}
	}
	s.mu.Lock()
	data, found := s.cells[id]
	s.mu.Unlock()
	if !found {
		return nil, &storage.StoreError{Op: "read", Cell: id, Err: storage.ErrCellNotFound}
	}
	var value cellgraph.DataMap
	if err := cellgraph.Deserialize(data, &value); err != nil {
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.cells[id]; found {
		return &storage.StoreError{Op: "create", Cell: id, Err: storage.ErrCellExists}
	}
	s.cells[id] = data
	s.size += uint64(len(data))
	return nil
}

func (s *Store) NewCell(ctx context.Context, value cellgraph.DataMap) (cellgraph.Id, error) {
	id := cellgraph.NewId()
	if err := s.CreateCell(ctx, id, value); err != nil {
		return cellgraph.NilId, err
	}
	return id, nil
}

// AtomicApply deserializes the current value, applies fn, and swaps in the
// reserialized result under the store lock.  fn always receives a fresh copy,
// so it may mutate its argument freely.
func (s *Store) AtomicApply(ctx context.Context, id cellgraph.Id, fn storage.ApplyFunc) error {
	if err := ctx.Err(); err != nil {
		return &storage.StoreError{Op: "apply", Cell: id, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, found := s.cells[id]
	if !found {
		return &storage.StoreError{Op: "apply", Cell: id, Err: storage.ErrCellNotFound}
	}
	var cur cellgraph.DataMap
	if err := cellgraph.Deserialize(data, &cur); err != nil {
		return &storage.StoreError{Op: "apply", Cell: id, Err: err}
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	out, err := cellgraph.Serialize(next, cellgraph.DefaultCompression, cellgraph.DefaultChecksum)
	if err != nil {
		return &storage.StoreError{Op: "apply", Cell: id, Err: err}
	}
	s.size += uint64(len(out)) - uint64(len(data))
	s.cells[id] = out
	return nil
}

func (s *Store) Size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Store) Close() {}
