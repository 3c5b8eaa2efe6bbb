/*
	Package graph implements the property-graph edge model on top of the cell
	store: typed edge groups, an edge creation protocol that keeps both
	endpoints' adjacency buckets consistent through independent single-cell
	atomic updates, and a neighbour query engine with deferred vertex
	resolution.
*/
package graph

import (
	"context"
	"sync"

	"github.com/cellgraph/cellgraph/cellgraph"
	"github.com/cellgraph/cellgraph/schema"
	"github.com/cellgraph/cellgraph/storage"
)

// MutationTopic is the kafka topic (after any configured prefix) receiving
// edge mutation records.
const MutationTopic = "cellgraph-mutations"

// Graph binds the cell store and schema registry into the edge model.  It
// performs no internal threading: correctness under concurrent callers rests
// entirely on the store's single-cell atomic apply.
type Graph struct {
	store   storage.CellStore
	schemas *schema.Registry

	mu      sync.RWMutex
	layouts map[schema.SchemaID]EdgeLayout
}

// New returns a Graph over the given store and registry.
func New(store storage.CellStore, schemas *schema.Registry) *Graph {
	return &Graph{
		store:   store,
		schemas: schemas,
		layouts: make(map[schema.SchemaID]EdgeLayout),
	}
}

// Schemas exposes the registry for callers that need direct schema access.
func (g *Graph) Schemas() *schema.Registry {
	return g.schemas
}

// DefineEdgeGroup registers a new edge group and precomputes its layout.
func (g *Graph) DefineEdgeGroup(ctx context.Context, name string, spec schema.GroupSpec) (schema.SchemaID, error) {
	sid, err := g.schemas.DefineGroup(ctx, name, spec)
	if err != nil {
		return 0, err
	}
	if _, err := g.Layout(sid); err != nil {
		return 0, err
	}
	return sid, nil
}

// EdgeGroupSchema returns the schema document for a group name.
func (g *Graph) EdgeGroupSchema(name string) (*schema.GroupSchema, error) {
	return g.schemas.GroupSchema(name)
}

// Degree returns the number of adjacency entries for one (direction, group)
// slot of a vertex, without resolving any entry.
func (g *Graph) Degree(ctx context.Context, v cellgraph.Id, group string, dir Direction) (int, error) {
	sid, err := g.schemas.GroupID(group)
	if err != nil {
		return 0, err
	}
	vertex, err := g.GetVertex(ctx, v)
	if err != nil {
		return 0, err
	}
	return len(vertex.Adjacency(dir, sid)), nil
}
