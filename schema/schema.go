/*
	Package schema defines edge-group schemas and the registry that resolves
	group name ⇄ numeric id ⇄ schema document.  Groups are registered once and
	immutable thereafter; the registry persists its state in the cell store so
	a reopened process sees the same ids.
*/
package schema

import (
	"encoding/gob"
	"fmt"

	"github.com/cellgraph/cellgraph/cellgraph"
)

// SchemaID is the compact numeric id of a registered edge group, allocated by
// the registry.  Adjacency buckets are keyed by it.
type SchemaID uint32

// EdgeKind enumerates the shapes an edge group can take.
type EdgeKind uint8

const (
	// Simple edges are undirected and carry no fields of their own; an
	// adjacency entry is just the opposite vertex id.
	Simple EdgeKind = iota

	// Directed edges point from one vertex to another.
	Directed

	// Undirected edges relate two vertices symmetrically.
	Undirected

	// Hyper edges connect more than two vertices and always get a dedicated
	// edge cell.
	Hyper
)

func (k EdgeKind) String() string {
	switch k {
	case Simple:
		return "simple"
	case Directed:
		return "directed"
	case Undirected:
		return "undirected"
	case Hyper:
		return "hyper"
	default:
		return "unknown"
	}
}

// KindByName converts the wire name of an edge kind back to its value.
func KindByName(name string) (EdgeKind, error) {
	for k := Simple; k <= Hyper; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown edge kind %q", name)
}

// EdgeAttributes capture the per-group decisions that drive cell layout.
type EdgeAttributes struct {
	Kind EdgeKind

	// HasBody is true when the group carries fields beyond the endpoint
	// references.  Such groups store each edge in a dedicated cell.
	HasBody bool

	// BodyTag, if nonempty, is a type tag every edge body of this group
	// must declare.
	BodyTag string
}

// GroupSchema is the full, immutable schema document of an edge group.
type GroupSchema struct {
	ID      SchemaID
	Name    string
	Attrs   EdgeAttributes
	Fields  []cellgraph.Field
	Dynamic bool
}

// GroupSpec is what a caller supplies when defining a new group.
type GroupSpec struct {
	Kind    EdgeKind
	Fields  []cellgraph.Field
	BodyTag string
	Dynamic bool
}

// Reserved field names used by the edge and vertex cell layouts.  They are
// stripped from any externally exposed edge view.
const (
	FieldSchema       = "_schema"
	FieldBodyType     = "_type"
	FieldVertexA      = "_vertex_a"
	FieldVertexB      = "_vertex_b"
	FieldParticipants = "_participants"
	FieldInbound      = "_inbound"
	FieldOutbound     = "_outbound"
	FieldUndirected   = "_undirected"
)

func init() {
	gob.Register(GroupSchema{})
	gob.Register(map[string]GroupSchema{})
	gob.Register(map[SchemaID][]cellgraph.Id{})
	gob.Register(SchemaID(0))
}

// edgeTemplate returns the participant-reference fields every edge cell of
// the kind starts with.
func edgeTemplate(kind EdgeKind) []cellgraph.Field {
	if kind == Hyper {
		return []cellgraph.Field{
			{Name: FieldParticipants, Type: cellgraph.TypeIdList},
		}
	}
	return []cellgraph.Field{
		{Name: FieldVertexA, Type: cellgraph.TypeVertexRef},
		{Name: FieldVertexB, Type: cellgraph.TypeVertexRef},
	}
}

// CellFields composes the full field list of an edge group: the kind's
// participant template followed by the group's own body fields.  Groups
// without a body must not declare fields.
func CellFields(attrs EdgeAttributes, body []cellgraph.Field) ([]cellgraph.Field, error) {
	if !attrs.HasBody && len(body) > 0 {
		return nil, ErrSimpleEdgeFields
	}
	fields := edgeTemplate(attrs.Kind)
	return append(fields, body...), nil
}

// BodyFields returns just the group's own fields, skipping the participant
// template.
func (s *GroupSchema) BodyFields() []cellgraph.Field {
	n := len(edgeTemplate(s.Attrs.Kind))
	if n > len(s.Fields) {
		return nil
	}
	return s.Fields[n:]
}
