package graph

import (
	"context"
	"strings"

	"github.com/cellgraph/cellgraph/cellgraph"
	"github.com/cellgraph/cellgraph/schema"
)

// Direction selects one of a vertex's three adjacency buckets.
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
	Neighbour
)

// AllDirections lists the buckets in their canonical traversal order.
var AllDirections = []Direction{Inbound, Outbound, Neighbour}

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	case Neighbour:
		return "neighbour"
	default:
		return "unknown"
	}
}

// DirectionByName converts the wire name of a direction back to its value.
func DirectionByName(name string) (Direction, error) {
	for _, d := range AllDirections {
		if d.String() == name {
			return d, nil
		}
	}
	return 0, &BadDirectionError{Name: name}
}

// BadDirectionError reports an unrecognized direction name.
type BadDirectionError struct {
	Name string
}

func (e *BadDirectionError) Error() string {
	return "unknown direction " + e.Name
}

// Field returns the vertex cell field holding this bucket.
func (d Direction) Field() string {
	switch d {
	case Inbound:
		return schema.FieldInbound
	case Outbound:
		return schema.FieldOutbound
	default:
		return schema.FieldUndirected
	}
}

// Bucket maps a schema id to that group's adjacency list.  The list holds
// either raw opposite-vertex ids or dedicated edge cell ids; which one is
// fixed per group by its schema and never mixed.
type Bucket map[schema.SchemaID][]cellgraph.Id

// Vertex is the decoded view of a vertex cell: its user properties plus the
// three adjacency buckets.
type Vertex struct {
	ID    cellgraph.Id
	Props cellgraph.DataMap

	buckets map[Direction]Bucket
}

// Adjacency returns the adjacency list for one (direction, group) slot.
// A missing slot is an empty list, never an error.
func (v *Vertex) Adjacency(dir Direction, sid schema.SchemaID) []cellgraph.Id {
	bucket := v.buckets[dir]
	if bucket == nil {
		return nil
	}
	return bucket[sid]
}

// groupsIn returns the schema ids present in one bucket.
func (v *Vertex) groupsIn(dir Direction) []schema.SchemaID {
	bucket := v.buckets[dir]
	ids := make([]schema.SchemaID, 0, len(bucket))
	for sid := range bucket {
		ids = append(ids, sid)
	}
	return ids
}

// cellToVertex splits a vertex cell value into user properties and adjacency
// buckets.  Internal fields (leading underscore) never surface in Props.
func cellToVertex(id cellgraph.Id, value cellgraph.DataMap) *Vertex {
	v := &Vertex{
		ID:      id,
		Props:   make(cellgraph.DataMap, len(value)),
		buckets: make(map[Direction]Bucket, 3),
	}
	for _, dir := range AllDirections {
		if bucket, ok := value[dir.Field()].(map[schema.SchemaID][]cellgraph.Id); ok {
			v.buckets[dir] = bucket
		}
	}
	for name, val := range value {
		if strings.HasPrefix(name, "_") {
			continue
		}
		v.Props[name] = val
	}
	return v
}

// vertexCellValue builds the initial cell value of a new vertex: user
// properties plus the three empty adjacency buckets.
func vertexCellValue(props cellgraph.DataMap) cellgraph.DataMap {
	value := make(cellgraph.DataMap, len(props)+3)
	for name, val := range props {
		value[name] = val
	}
	value[schema.FieldInbound] = map[schema.SchemaID][]cellgraph.Id{}
	value[schema.FieldOutbound] = map[schema.SchemaID][]cellgraph.Id{}
	value[schema.FieldUndirected] = map[schema.SchemaID][]cellgraph.Id{}
	return value
}

// CreateVertex stores a new vertex cell with empty adjacency buckets.
func (g *Graph) CreateVertex(ctx context.Context, props cellgraph.DataMap) (*Vertex, error) {
	id, err := g.store.NewCell(ctx, vertexCellValue(props))
	if err != nil {
		return nil, err
	}
	return &Vertex{
		ID:      id,
		Props:   props,
		buckets: make(map[Direction]Bucket, 3),
	}, nil
}

// GetVertex fetches a vertex cell by id.
func (g *Graph) GetVertex(ctx context.Context, id cellgraph.Id) (*Vertex, error) {
	value, err := g.store.ReadCell(ctx, id)
	if err != nil {
		return nil, err
	}
	return cellToVertex(id, value), nil
}
