package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/cellgraph/cellgraph/cellgraph"
	"github.com/cellgraph/cellgraph/schema"
	"github.com/cellgraph/cellgraph/storage"
	"github.com/cellgraph/cellgraph/storage/memstore"
)

// failingStore passes everything through except atomic applies on one chosen
// cell, which fail with errBoom.
type failingStore struct {
	storage.CellStore
	failOn cellgraph.Id
}

var errBoom = errors.New("injected apply failure")

func (s *failingStore) AtomicApply(ctx context.Context, id cellgraph.Id, fn storage.ApplyFunc) error {
	if id == s.failOn {
		return errBoom
	}
	return s.CellStore.AtomicApply(ctx, id, fn)
}

func newFailingGraph(t *testing.T) (*Graph, *failingStore) {
	t.Helper()
	fs := &failingStore{CellStore: memstore.NewStore()}
	reg, err := schema.OpenRegistry(context.Background(), fs)
	if err != nil {
		t.Fatalf("Can't open registry: %v\n", err)
	}
	return New(fs, reg), fs
}

func TestPartialEdgeFirstSide(t *testing.T) {
	g, fs := newFailingGraph(t)
	ctx := context.Background()

	if _, err := g.DefineEdgeGroup(ctx, "friend", schema.GroupSpec{Kind: schema.Undirected}); err != nil {
		t.Fatalf("Can't define group: %v\n", err)
	}
	v1 := mustVertex(t, g, "v1")
	v2 := mustVertex(t, g, "v2")
	fs.failOn = v1.ID

	_, err := g.CreateEdge(ctx, v1.ID, "friend", v2.ID, nil)
	var partial *PartialEdgeError
	if !errors.As(err, &partial) {
		t.Fatalf("Expected PartialEdgeError, got %v\n", err)
	}
	if partial.Side != 1 || partial.Vertex != v1.ID {
		t.Errorf("Bad failure attribution: %+v\n", partial)
	}
	if partial.HalfRecorded() {
		t.Errorf("First-side failure should not report a half-recorded edge\n")
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("Underlying store error not wrapped: %v\n", err)
	}

	// Neither endpoint was mutated.
	for _, v := range []cellgraph.Id{v1.ID, v2.ID} {
		n, err := g.Degree(ctx, v, "friend", Neighbour)
		if err != nil || n != 0 {
			t.Errorf("Vertex %s mutated by failed create: degree %d (%v)\n", v, n, err)
		}
	}
}

func TestPartialEdgeSecondSide(t *testing.T) {
	g, fs := newFailingGraph(t)
	ctx := context.Background()

	if _, err := g.DefineEdgeGroup(ctx, "friend", schema.GroupSpec{Kind: schema.Undirected}); err != nil {
		t.Fatalf("Can't define group: %v\n", err)
	}
	v1 := mustVertex(t, g, "v1")
	v2 := mustVertex(t, g, "v2")
	fs.failOn = v2.ID

	_, err := g.CreateEdge(ctx, v1.ID, "friend", v2.ID, nil)
	var partial *PartialEdgeError
	if !errors.As(err, &partial) {
		t.Fatalf("Expected PartialEdgeError, got %v\n", err)
	}
	if partial.Side != 2 || partial.Vertex != v2.ID {
		t.Errorf("Bad failure attribution: %+v\n", partial)
	}
	if !partial.HalfRecorded() {
		t.Errorf("Second-side failure must report the half-recorded edge\n")
	}

	// No rollback: side 1 keeps its entry, side 2 has none.
	n, err := g.Degree(ctx, v1.ID, "friend", Neighbour)
	if err != nil || n != 1 {
		t.Errorf("First side should keep its adjacency entry: degree %d (%v)\n", n, err)
	}
	n, err = g.Degree(ctx, v2.ID, "friend", Neighbour)
	if err != nil || n != 0 {
		t.Errorf("Second side should have no entry: degree %d (%v)\n", n, err)
	}
}

func TestPartialEdgeCarriesCellID(t *testing.T) {
	g, fs := newFailingGraph(t)
	ctx := context.Background()

	if _, err := g.DefineEdgeGroup(ctx, "weighted", schema.GroupSpec{
		Kind:   schema.Undirected,
		Fields: []cellgraph.Field{{Name: "w", Type: cellgraph.TypeFloat}},
	}); err != nil {
		t.Fatalf("Can't define group: %v\n", err)
	}
	v1 := mustVertex(t, g, "v1")
	v2 := mustVertex(t, g, "v2")
	fs.failOn = v2.ID

	_, err := g.CreateEdge(ctx, v1.ID, "weighted", v2.ID, &EdgeBody{
		Props: cellgraph.DataMap{"w": 0.5},
	})
	var partial *PartialEdgeError
	if !errors.As(err, &partial) {
		t.Fatalf("Expected PartialEdgeError, got %v\n", err)
	}
	if partial.EdgeCell == nil {
		t.Fatalf("Partial error of cell-backed group must carry the orphaned cell id\n")
	}
	// The dedicated cell was written before the sides and stays behind.
	if _, err := fs.ReadCell(ctx, *partial.EdgeCell); err != nil {
		t.Errorf("Orphaned edge cell should remain readable: %v\n", err)
	}
}
