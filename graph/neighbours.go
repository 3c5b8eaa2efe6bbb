package graph

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cellgraph/cellgraph/cellgraph"
	"github.com/cellgraph/cellgraph/schema"
)

// VertexRef is a deferred vertex lookup.  The referenced vertex is fetched at
// most once, on first Resolve; callers that never resolve pay nothing.
type VertexRef struct {
	id cellgraph.Id
	g  *Graph

	once sync.Once
	v    *Vertex
	err  error
}

// ID returns the referenced vertex id without resolving it.
func (r *VertexRef) ID() cellgraph.Id {
	return r.id
}

// Resolve fetches the referenced vertex, memoizing both the vertex and any
// error.  The context of the first caller governs the fetch.
func (r *VertexRef) Resolve(ctx context.Context) (*Vertex, error) {
	r.once.Do(func() {
		r.v, r.err = r.g.GetVertex(ctx, r.id)
	})
	return r.v, r.err
}

// FieldValue is either an eagerly available value or a deferred vertex
// reference, depending on the field's schema type.
type FieldValue struct {
	value interface{}
	ref   *VertexRef
}

// IsRef reports whether this field is a deferred vertex reference.
func (fv FieldValue) IsRef() bool {
	return fv.ref != nil
}

// Value returns the eager value; nil for reference fields.
func (fv FieldValue) Value() interface{} {
	return fv.value
}

// Ref returns the deferred reference; nil for eager fields.
func (fv FieldValue) Ref() *VertexRef {
	return fv.ref
}

// AnnotatedEdge is the query-time view of one edge: the opposite endpoint as
// a deferred reference, the dedicated cell id if any, and the edge's body
// fields.  Internal storage fields are stripped.
type AnnotatedEdge struct {
	Opposite *VertexRef
	EdgeCell *cellgraph.Id
	Fields   map[string]FieldValue
}

// NeighbourGroup is one (direction, group) listing of a neighbours query.
// Edges appear in adjacency-list storage order.
type NeighbourGroup struct {
	Name      string
	Kind      schema.EdgeKind
	SchemaID  schema.SchemaID
	Direction Direction
	Edges     []AnnotatedEdge
}

type neighbourQuery struct {
	directions []Direction
	groups     []string
}

// NeighbourOption narrows a neighbours query.
type NeighbourOption func(*neighbourQuery)

// WithDirections restricts the query to the given adjacency buckets.
func WithDirections(dirs ...Direction) NeighbourOption {
	return func(q *neighbourQuery) {
		q.directions = dirs
	}
}

// WithGroups restricts the query to the named edge groups.
func WithGroups(names ...string) NeighbourOption {
	return func(q *neighbourQuery) {
		q.groups = names
	}
}

// Neighbours lists a vertex's related edges, grouped per (direction, group)
// pair.  Directions default to all three buckets; groups default to every
// group present.  An empty selection yields an empty slice, never an error.
func (g *Graph) Neighbours(ctx context.Context, v cellgraph.Id, opts ...NeighbourOption) ([]NeighbourGroup, error) {
	q := neighbourQuery{directions: AllDirections}
	for _, opt := range opts {
		opt(&q)
	}

	// Resolve any group filter up front so an unknown name fails fast.
	var filter map[schema.SchemaID]struct{}
	if q.groups != nil {
		filter = make(map[schema.SchemaID]struct{}, len(q.groups))
		for _, name := range q.groups {
			sid, err := g.schemas.GroupID(name)
			if err != nil {
				return nil, err
			}
			filter[sid] = struct{}{}
		}
	}

	vertex, err := g.GetVertex(ctx, v)
	if err != nil {
		return nil, err
	}

	var result []NeighbourGroup
	for _, dir := range q.directions {
		sids := vertex.groupsIn(dir)
		// Bucket maps iterate in random order; sort for stable output.
		sort.Slice(sids, func(i, j int) bool { return sids[i] < sids[j] })
		for _, sid := range sids {
			if filter != nil {
				if _, wanted := filter[sid]; !wanted {
					continue
				}
			}
			entries := vertex.Adjacency(dir, sid)
			if len(entries) == 0 {
				continue
			}
			group, err := g.annotate(ctx, vertex.ID, dir, sid, entries)
			if err != nil {
				return nil, err
			}
			result = append(result, group)
		}
	}
	return result, nil
}

// annotate resolves one (direction, group) slot into its edge views.
func (g *Graph) annotate(ctx context.Context, v cellgraph.Id, dir Direction, sid schema.SchemaID, entries []cellgraph.Id) (NeighbourGroup, error) {
	doc, err := g.schemas.SchemaByID(sid)
	if err != nil {
		return NeighbourGroup{}, err
	}
	layout, err := g.Layout(sid)
	if err != nil {
		return NeighbourGroup{}, err
	}

	group := NeighbourGroup{
		Name:      doc.Name,
		Kind:      doc.Attrs.Kind,
		SchemaID:  sid,
		Direction: dir,
		Edges:     make([]AnnotatedEdge, 0, len(entries)),
	}
	for _, entry := range entries {
		var edge AnnotatedEdge
		if layout.RequiresCell {
			edge, err = g.edgeFromCell(ctx, v, doc, layout, entry)
			if err != nil {
				return NeighbourGroup{}, err
			}
		} else {
			// The entry is the opposite vertex itself; synthesize a minimal
			// edge view around it.
			edge = AnnotatedEdge{
				Opposite: g.ref(entry),
				Fields:   map[string]FieldValue{},
			}
		}
		group.Edges = append(group.Edges, edge)
	}
	return group, nil
}

// edgeFromCell materializes an edge view from its dedicated cell.
func (g *Graph) edgeFromCell(ctx context.Context, v cellgraph.Id, doc *schema.GroupSchema, layout EdgeLayout, cellID cellgraph.Id) (AnnotatedEdge, error) {
	value, err := g.store.ReadCell(ctx, cellID)
	if err != nil {
		return AnnotatedEdge{}, err
	}
	id := cellID
	edge := AnnotatedEdge{
		EdgeCell: &id,
		Fields:   make(map[string]FieldValue, len(value)),
	}
	if opposite, found := oppositeOf(v, doc, value); found {
		edge.Opposite = g.ref(opposite)
	}
	for name, val := range value {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if layout.IsVertexRef(name) {
			if refID, ok := val.(cellgraph.Id); ok {
				edge.Fields[name] = FieldValue{ref: g.ref(refID)}
				continue
			}
		}
		edge.Fields[name] = FieldValue{value: val}
	}
	return edge, nil
}

// oppositeOf finds the participant of an edge cell that is not the queried
// vertex.  A self-loop resolves to the vertex itself.
func oppositeOf(v cellgraph.Id, doc *schema.GroupSchema, value cellgraph.DataMap) (cellgraph.Id, bool) {
	if doc.Attrs.Kind == schema.Hyper {
		participants, _ := value[schema.FieldParticipants].([]cellgraph.Id)
		for _, p := range participants {
			if p != v {
				return p, true
			}
		}
		if len(participants) > 0 {
			return participants[0], true
		}
		return cellgraph.NilId, false
	}
	a, aok := value[schema.FieldVertexA].(cellgraph.Id)
	b, bok := value[schema.FieldVertexB].(cellgraph.Id)
	if !aok || !bok {
		return cellgraph.NilId, false
	}
	if a == v {
		return b, true
	}
	return a, true
}

func (g *Graph) ref(id cellgraph.Id) *VertexRef {
	return &VertexRef{id: id, g: g}
}

// ResolveAll eagerly resolves every deferred reference in a query result,
// fanning out the lookups.  Intended for callers that are about to ship the
// whole result over a wire and lose the ability to defer.
func ResolveAll(ctx context.Context, groups []NeighbourGroup) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		for _, edge := range group.Edges {
			if edge.Opposite != nil {
				ref := edge.Opposite
				eg.Go(func() error {
					_, err := ref.Resolve(ctx)
					return err
				})
			}
			for _, fv := range edge.Fields {
				if fv.IsRef() {
					ref := fv.Ref()
					eg.Go(func() error {
						_, err := ref.Resolve(ctx)
						return err
					})
				}
			}
		}
	}
	return eg.Wait()
}
