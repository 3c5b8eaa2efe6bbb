package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cellgraph/cellgraph/cellgraph"
	"github.com/cellgraph/cellgraph/schema"
	"github.com/cellgraph/cellgraph/storage"
	"github.com/cellgraph/cellgraph/storage/memstore"
)

func newTestGraph(t *testing.T) (*Graph, storage.CellStore) {
	t.Helper()
	store := memstore.NewStore()
	reg, err := schema.OpenRegistry(context.Background(), store)
	if err != nil {
		t.Fatalf("Can't open registry: %v\n", err)
	}
	return New(store, reg), store
}

func mustVertex(t *testing.T, g *Graph, name string) *Vertex {
	t.Helper()
	v, err := g.CreateVertex(context.Background(), cellgraph.DataMap{"name": name})
	if err != nil {
		t.Fatalf("Can't create vertex %q: %v\n", name, err)
	}
	return v
}

func TestFriendScenario(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	if _, err := g.DefineEdgeGroup(ctx, "friend", schema.GroupSpec{Kind: schema.Undirected}); err != nil {
		t.Fatalf("Can't define group: %v\n", err)
	}
	alice := mustVertex(t, g, "alice")
	bob := mustVertex(t, g, "bob")

	if _, err := g.CreateEdge(ctx, alice.ID, "friend", bob.ID, nil); err != nil {
		t.Fatalf("Can't create edge: %v\n", err)
	}

	groups, err := g.Neighbours(ctx, alice.ID)
	if err != nil {
		t.Fatalf("Can't query neighbours: %v\n", err)
	}
	if len(groups) != 1 {
		t.Fatalf("Expected 1 neighbour group, got %d\n", len(groups))
	}
	ng := groups[0]
	if ng.Name != "friend" || ng.Direction != Neighbour || len(ng.Edges) != 1 {
		t.Fatalf("Bad neighbour group: %+v\n", ng)
	}
	opp, err := ng.Edges[0].Opposite.Resolve(ctx)
	if err != nil {
		t.Fatalf("Can't resolve opposite: %v\n", err)
	}
	if opp.ID != bob.ID {
		t.Errorf("Opposite should be bob %s, got %s\n", bob.ID, opp.ID)
	}
	if opp.Props["name"] != "bob" {
		t.Errorf("Resolved vertex lost properties: %v\n", opp.Props)
	}

	// Symmetric view from bob.
	groups, err = g.Neighbours(ctx, bob.ID)
	if err != nil {
		t.Fatalf("Can't query bob's neighbours: %v\n", err)
	}
	if len(groups) != 1 || groups[0].Edges[0].Opposite.ID() != alice.ID {
		t.Errorf("Bob's neighbour list should point back at alice\n")
	}
}

func TestFollowsScenario(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	if _, err := g.DefineEdgeGroup(ctx, "follows", schema.GroupSpec{
		Kind:   schema.Directed,
		Fields: []cellgraph.Field{{Name: "since", Type: cellgraph.TypeTimestamp}},
	}); err != nil {
		t.Fatalf("Can't define group: %v\n", err)
	}
	alice := mustVertex(t, g, "alice")
	bob := mustVertex(t, g, "bob")

	since := time.Date(2021, 3, 14, 9, 26, 53, 0, time.UTC)
	_, err := g.CreateEdge(ctx, alice.ID, "follows", bob.ID, &EdgeBody{
		Props: cellgraph.DataMap{"since": since},
	})
	if err != nil {
		t.Fatalf("Can't create edge: %v\n", err)
	}

	// alice sees it outbound only.
	out, err := g.Neighbours(ctx, alice.ID, WithDirections(Outbound))
	if err != nil {
		t.Fatalf("Can't query outbound: %v\n", err)
	}
	if len(out) != 1 || out[0].Direction != Outbound || len(out[0].Edges) != 1 {
		t.Fatalf("Expected one outbound edge for alice, got %+v\n", out)
	}
	in, err := g.Neighbours(ctx, alice.ID, WithDirections(Inbound))
	if err != nil {
		t.Fatalf("Can't query inbound: %v\n", err)
	}
	if len(in) != 0 {
		t.Errorf("Directed edge leaked into alice's inbound bucket: %+v\n", in)
	}

	// bob sees it inbound with the stored property and a deferred ref to alice.
	groups, err := g.Neighbours(ctx, bob.ID, WithDirections(Inbound))
	if err != nil {
		t.Fatalf("Can't query bob's inbound: %v\n", err)
	}
	if len(groups) != 1 || len(groups[0].Edges) != 1 {
		t.Fatalf("Expected one inbound edge for bob, got %+v\n", groups)
	}
	edge := groups[0].Edges[0]
	fv, found := edge.Fields["since"]
	if !found || fv.IsRef() {
		t.Fatalf("Missing eager 'since' field: %+v\n", edge.Fields)
	}
	if !fv.Value().(time.Time).Equal(since) {
		t.Errorf("Bad since round trip: %v\n", fv.Value())
	}
	opp, err := edge.Opposite.Resolve(ctx)
	if err != nil || opp.ID != alice.ID {
		t.Errorf("Opposite should resolve to alice: %v (%v)\n", opp, err)
	}
}

func TestDedicatedCellSymmetry(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	if _, err := g.DefineEdgeGroup(ctx, "married", schema.GroupSpec{
		Kind:   schema.Undirected,
		Fields: []cellgraph.Field{{Name: "year", Type: cellgraph.TypeInt}},
	}); err != nil {
		t.Fatalf("Can't define group: %v\n", err)
	}
	v1 := mustVertex(t, g, "v1")
	v2 := mustVertex(t, g, "v2")

	handle, err := g.CreateEdge(ctx, v1.ID, "married", v2.ID, &EdgeBody{
		Props: cellgraph.DataMap{"year": int64(1999)},
	})
	if err != nil {
		t.Fatalf("Can't create edge: %v\n", err)
	}
	if handle.EdgeCell == nil {
		t.Fatalf("Group with body fields should get a dedicated edge cell\n")
	}

	for _, v := range []*Vertex{v1, v2} {
		groups, err := g.Neighbours(ctx, v.ID)
		if err != nil {
			t.Fatalf("Can't query neighbours of %s: %v\n", v.ID, err)
		}
		if len(groups) != 1 || len(groups[0].Edges) != 1 {
			t.Fatalf("Expected one edge from %s, got %+v\n", v.ID, groups)
		}
		edge := groups[0].Edges[0]
		if edge.EdgeCell == nil || *edge.EdgeCell != *handle.EdgeCell {
			t.Errorf("Edge cell id mismatch from %s\n", v.ID)
		}
		if edge.Fields["year"].Value() != int64(1999) {
			t.Errorf("Property differs when queried from %s: %v\n", v.ID, edge.Fields["year"].Value())
		}
		// Internal storage fields must be stripped from the view.
		for name := range edge.Fields {
			if name[0] == '_' {
				t.Errorf("Internal field %q leaked into edge view\n", name)
			}
		}
	}
}

func TestGroupFilter(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	for _, name := range []string{"friend", "enemy"} {
		if _, err := g.DefineEdgeGroup(ctx, name, schema.GroupSpec{Kind: schema.Undirected}); err != nil {
			t.Fatalf("Can't define group %q: %v\n", name, err)
		}
	}
	v := mustVertex(t, g, "v")
	a := mustVertex(t, g, "a")
	b := mustVertex(t, g, "b")

	if _, err := g.CreateEdge(ctx, v.ID, "friend", a.ID, nil); err != nil {
		t.Fatalf("Can't create friend edge: %v\n", err)
	}
	if _, err := g.CreateEdge(ctx, v.ID, "enemy", b.ID, nil); err != nil {
		t.Fatalf("Can't create enemy edge: %v\n", err)
	}

	groups, err := g.Neighbours(ctx, v.ID, WithGroups("friend"))
	if err != nil {
		t.Fatalf("Can't query filtered neighbours: %v\n", err)
	}
	if len(groups) != 1 || groups[0].Name != "friend" {
		t.Errorf("Group filter leaked other groups: %+v\n", groups)
	}

	// Unknown group in filter fails fast.
	var unknown *schema.UnknownGroupError
	if _, err := g.Neighbours(ctx, v.ID, WithGroups("nope")); !errors.As(err, &unknown) {
		t.Errorf("Expected UnknownGroupError, got %v\n", err)
	}
}

func TestEmptyDirectionIsEmptyNotError(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	if _, err := g.DefineEdgeGroup(ctx, "friend", schema.GroupSpec{Kind: schema.Undirected}); err != nil {
		t.Fatalf("Can't define group: %v\n", err)
	}
	v := mustVertex(t, g, "v")
	w := mustVertex(t, g, "w")
	if _, err := g.CreateEdge(ctx, v.ID, "friend", w.ID, nil); err != nil {
		t.Fatalf("Can't create edge: %v\n", err)
	}

	groups, err := g.Neighbours(ctx, v.ID, WithDirections(Inbound, Outbound))
	if err != nil {
		t.Fatalf("Empty buckets must not error: %v\n", err)
	}
	if len(groups) != 0 {
		t.Errorf("Expected empty result for directions without entries, got %+v\n", groups)
	}
}

func TestVertexRefFieldDeferred(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	if _, err := g.DefineEdgeGroup(ctx, "introduced", schema.GroupSpec{
		Kind: schema.Undirected,
		Fields: []cellgraph.Field{
			{Name: "by", Type: cellgraph.TypeVertexRef},
			{Name: "where", Type: cellgraph.TypeString},
		},
	}); err != nil {
		t.Fatalf("Can't define group: %v\n", err)
	}
	a := mustVertex(t, g, "a")
	b := mustVertex(t, g, "b")
	broker := mustVertex(t, g, "broker")

	if _, err := g.CreateEdge(ctx, a.ID, "introduced", b.ID, &EdgeBody{
		Props: cellgraph.DataMap{"by": broker.ID, "where": "paris"},
	}); err != nil {
		t.Fatalf("Can't create edge: %v\n", err)
	}

	groups, err := g.Neighbours(ctx, a.ID)
	if err != nil {
		t.Fatalf("Can't query neighbours: %v\n", err)
	}
	edge := groups[0].Edges[0]

	where := edge.Fields["where"]
	if where.IsRef() || where.Value() != "paris" {
		t.Errorf("Plain field should be eager: %+v\n", where)
	}
	by := edge.Fields["by"]
	if !by.IsRef() {
		t.Fatalf("Vertex-ref field should be deferred: %+v\n", by)
	}
	if by.Ref().ID() != broker.ID {
		t.Errorf("Deferred ref has wrong target id\n")
	}
	resolved, err := by.Ref().Resolve(ctx)
	if err != nil || resolved.Props["name"] != "broker" {
		t.Errorf("Deferred ref resolved wrong vertex: %v (%v)\n", resolved, err)
	}
	// Resolution is memoized: a second call returns the same vertex.
	again, err := by.Ref().Resolve(ctx)
	if err != nil || again != resolved {
		t.Errorf("Expected memoized resolution\n")
	}
}

func TestBodyTypeMismatchLeavesNoTrace(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	if _, err := g.DefineEdgeGroup(ctx, "tagged", schema.GroupSpec{
		Kind:    schema.Undirected,
		BodyTag: "X",
		Fields:  []cellgraph.Field{{Name: "note", Type: cellgraph.TypeString}},
	}); err != nil {
		t.Fatalf("Can't define group: %v\n", err)
	}
	v1 := mustVertex(t, g, "v1")
	v2 := mustVertex(t, g, "v2")

	_, err := g.CreateEdge(ctx, v1.ID, "tagged", v2.ID, &EdgeBody{
		Type:  "Y",
		Props: cellgraph.DataMap{"note": "nope"},
	})
	var mismatch *BodyTypeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected BodyTypeMismatchError, got %v\n", err)
	}
	if mismatch.Want != "X" || mismatch.Got != "Y" {
		t.Errorf("Bad mismatch detail: %+v\n", mismatch)
	}

	// Zero adjacency mutations on either endpoint.
	for _, v := range []*Vertex{v1, v2} {
		groups, err := g.Neighbours(ctx, v.ID)
		if err != nil {
			t.Fatalf("Can't query neighbours: %v\n", err)
		}
		if len(groups) != 0 {
			t.Errorf("Doomed call mutated vertex %s: %+v\n", v.ID, groups)
		}
	}
}

func TestBodyRequiredAndNotAllowed(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	if _, err := g.DefineEdgeGroup(ctx, "weighted", schema.GroupSpec{
		Kind:   schema.Undirected,
		Fields: []cellgraph.Field{{Name: "w", Type: cellgraph.TypeFloat}},
	}); err != nil {
		t.Fatalf("Can't define group: %v\n", err)
	}
	if _, err := g.DefineEdgeGroup(ctx, "plain", schema.GroupSpec{Kind: schema.Undirected}); err != nil {
		t.Fatalf("Can't define group: %v\n", err)
	}
	v1 := mustVertex(t, g, "v1")
	v2 := mustVertex(t, g, "v2")

	if _, err := g.CreateEdge(ctx, v1.ID, "weighted", v2.ID, nil); !errors.Is(err, ErrBodyRequired) {
		t.Errorf("Expected ErrBodyRequired, got %v\n", err)
	}
	_, err := g.CreateEdge(ctx, v1.ID, "plain", v2.ID, &EdgeBody{
		Props: cellgraph.DataMap{"x": int64(1)},
	})
	if !errors.Is(err, ErrBodyNotAllowed) {
		t.Errorf("Expected ErrBodyNotAllowed, got %v\n", err)
	}
}

func TestHyperEdge(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	if _, err := g.DefineEdgeGroup(ctx, "meeting", schema.GroupSpec{
		Kind: schema.Hyper,
		Fields: []cellgraph.Field{
			{Name: "organizer", Type: cellgraph.TypeVertexRef},
			{Name: "topic", Type: cellgraph.TypeString},
		},
	}); err != nil {
		t.Fatalf("Can't define group: %v\n", err)
	}
	a := mustVertex(t, g, "a")
	b := mustVertex(t, g, "b")
	c := mustVertex(t, g, "c")

	handle, err := g.CreateEdge(ctx, a.ID, "meeting", b.ID, &EdgeBody{
		Props: cellgraph.DataMap{"organizer": c.ID, "topic": "planning"},
	})
	if err != nil {
		t.Fatalf("Can't create hyper edge: %v\n", err)
	}
	if handle.EdgeCell == nil {
		t.Fatalf("Hyper edge must have a dedicated cell\n")
	}

	groups, err := g.Neighbours(ctx, a.ID)
	if err != nil {
		t.Fatalf("Can't query neighbours: %v\n", err)
	}
	if len(groups) != 1 || groups[0].Kind != schema.Hyper || groups[0].Direction != Neighbour {
		t.Fatalf("Bad hyper neighbour group: %+v\n", groups)
	}
	edge := groups[0].Edges[0]
	if edge.Opposite.ID() != b.ID {
		t.Errorf("Hyper opposite should be the other protocol endpoint\n")
	}
	if !edge.Fields["organizer"].IsRef() || edge.Fields["organizer"].Ref().ID() != c.ID {
		t.Errorf("Hyper participant ref field not deferred correctly\n")
	}
}

func TestDegree(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	if _, err := g.DefineEdgeGroup(ctx, "friend", schema.GroupSpec{Kind: schema.Undirected}); err != nil {
		t.Fatalf("Can't define group: %v\n", err)
	}
	v := mustVertex(t, g, "v")
	for i := 0; i < 3; i++ {
		w := mustVertex(t, g, fmt.Sprintf("w%d", i))
		if _, err := g.CreateEdge(ctx, v.ID, "friend", w.ID, nil); err != nil {
			t.Fatalf("Can't create edge: %v\n", err)
		}
	}
	n, err := g.Degree(ctx, v.ID, "friend", Neighbour)
	if err != nil {
		t.Fatalf("Can't get degree: %v\n", err)
	}
	if n != 3 {
		t.Errorf("Expected degree 3, got %d\n", n)
	}
	n, err = g.Degree(ctx, v.ID, "friend", Inbound)
	if err != nil || n != 0 {
		t.Errorf("Expected empty inbound degree, got %d (%v)\n", n, err)
	}
}

func TestUnknownGroupOnCreate(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	v1 := mustVertex(t, g, "v1")
	v2 := mustVertex(t, g, "v2")
	var unknown *schema.UnknownGroupError
	if _, err := g.CreateEdge(ctx, v1.ID, "ghost", v2.ID, nil); !errors.As(err, &unknown) {
		t.Errorf("Expected UnknownGroupError, got %v\n", err)
	}
}

func TestConcurrentEdgeCreation(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	if _, err := g.DefineEdgeGroup(ctx, "friend", schema.GroupSpec{Kind: schema.Undirected}); err != nil {
		t.Fatalf("Can't define group: %v\n", err)
	}
	hub := mustVertex(t, g, "hub")

	const n = 32
	peers := make([]*Vertex, n)
	for i := range peers {
		peers[i] = mustVertex(t, g, fmt.Sprintf("peer%d", i))
	}
	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peer *Vertex) {
			defer wg.Done()
			if _, err := g.CreateEdge(ctx, hub.ID, "friend", peer.ID, nil); err != nil {
				t.Errorf("Concurrent create failed: %v\n", err)
			}
		}(peer)
	}
	wg.Wait()

	degree, err := g.Degree(ctx, hub.ID, "friend", Neighbour)
	if err != nil {
		t.Fatalf("Can't get degree: %v\n", err)
	}
	if degree != n {
		t.Errorf("Lost adjacency updates: expected %d, got %d\n", n, degree)
	}
}
