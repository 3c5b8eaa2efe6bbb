/*
	Package storage provides a unified interface to cell store engines.  A cell
	is one atomically addressable record holding a vertex's or edge's value.
	The only mutation primitives are whole-cell creation and a single-cell
	atomic read-modify-write; there are no multi-cell transactions.
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/blang/semver"

	"github.com/cellgraph/cellgraph/cellgraph"
)

// ErrCellNotFound is returned by reads and applies of nonexistent cells.
var ErrCellNotFound = errors.New("cell does not exist")

// ErrCellExists is returned when creating a cell under an id already in use.
var ErrCellExists = errors.New("cell already exists")

// StoreError wraps any failure surfaced by a store engine.  It is opaque to
// the graph core, which propagates it unchanged.
type StoreError struct {
	Op   string
	Cell cellgraph.Id
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s on cell %s: %v", e.Op, e.Cell, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ApplyFunc transforms a cell's current value into its next value.  It must
// be a pure function of its input: engines may call it more than once when
// retrying conflicted applies.  Returning an error aborts the apply with no
// write.
type ApplyFunc func(cellgraph.DataMap) (cellgraph.DataMap, error)

// CellReader provides read access to cells.
type CellReader interface {
	// ReadCell returns the current value of the cell or ErrCellNotFound
	// (wrapped in a StoreError) if the cell does not exist.
	ReadCell(ctx context.Context, id cellgraph.Id) (cellgraph.DataMap, error)
}

// CellWriter provides the mutation primitives of the store.
type CellWriter interface {
	// CreateCell stores an initial value under the given id.
	CreateCell(ctx context.Context, id cellgraph.Id, value cellgraph.DataMap) error

	// NewCell stores an initial value under a fresh random id.
	NewCell(ctx context.Context, value cellgraph.DataMap) (cellgraph.Id, error)

	// AtomicApply reads the cell, applies fn, and writes the result back as
	// one atomic step.  Concurrent applies to the same cell serialize at the
	// engine with no lost updates, though their relative order is
	// unspecified.
	AtomicApply(ctx context.Context, id cellgraph.Id, fn ApplyFunc) error
}

// CellStore is the full contract a store engine must satisfy.
type CellStore interface {
	CellReader
	CellWriter

	// Size returns the approximate number of bytes held by the store.
	Size() uint64

	Close()
}

// --- Engine registry ---

// Engine identifies an available cell store implementation.
type Engine interface {
	GetName() string
	GetDescription() string
	GetSemVer() semver.Version

	// NewStore opens a store using engine-specific configuration.
	NewStore(config cellgraph.Config) (CellStore, error)
}

var (
	enginesMu sync.Mutex
	engines   = map[string]Engine{}
)

// RegisterEngine makes an engine available by name.  Engines register
// themselves from their package init.
func RegisterEngine(e Engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if _, dup := engines[e.GetName()]; dup {
		cellgraph.Criticalf("Engine %q registered twice\n", e.GetName())
		return
	}
	engines[e.GetName()] = e
	cellgraph.Debugf("Registered cell store engine %q (%s)\n", e.GetName(), e.GetSemVer())
}

// EnginesAvailable returns a description of the registered engines.
func EnginesAvailable() string {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	var s string
	for name, e := range engines {
		if s != "" {
			s += "; "
		}
		s += fmt.Sprintf("%s [%s]", name, e.GetSemVer())
	}
	return s
}

// OpenStore opens a cell store using the named engine.
func OpenStore(engine string, config cellgraph.Config) (CellStore, error) {
	enginesMu.Lock()
	e, found := engines[engine]
	enginesMu.Unlock()
	if !found {
		return nil, fmt.Errorf("unknown cell store engine %q (available: %s)", engine, EnginesAvailable())
	}
	return e.NewStore(config)
}
