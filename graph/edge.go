package graph

import (
	"github.com/cellgraph/cellgraph/cellgraph"
	"github.com/cellgraph/cellgraph/schema"
)

// EdgeLayout holds the per-group decisions both the creation and query paths
// consume.  It is derived from the schema once and cached, so layout is never
// re-derived per call.
type EdgeLayout struct {
	// RequiresCell is true when each edge instance gets its own storage
	// cell: hyper groups and any group with body fields.
	RequiresCell bool

	// BodyTag is the required body type tag, or empty.
	BodyTag string

	// sides maps creation-protocol endpoint (side 1, side 2) to the
	// adjacency bucket each endpoint appends to.
	sides [2]Direction

	// refFields names the body fields whose values are vertex references.
	refFields map[string]struct{}
}

// layoutFor derives the layout for a group schema.  Pure function of the
// schema document.
func layoutFor(doc *schema.GroupSchema) EdgeLayout {
	l := EdgeLayout{
		RequiresCell: doc.Attrs.Kind == schema.Hyper || doc.Attrs.HasBody,
		BodyTag:      doc.Attrs.BodyTag,
		refFields:    make(map[string]struct{}),
	}
	if doc.Attrs.Kind == schema.Directed {
		l.sides = [2]Direction{Outbound, Inbound}
	} else {
		l.sides = [2]Direction{Neighbour, Neighbour}
	}
	for _, f := range doc.BodyFields() {
		if f.Type == cellgraph.TypeVertexRef {
			l.refFields[f.Name] = struct{}{}
		}
	}
	return l
}

// EndpointField returns the adjacency bucket the given creation-protocol
// side (1 or 2) appends to.
func (l EdgeLayout) EndpointField(side int) Direction {
	return l.sides[side-1]
}

// IsVertexRef reports whether the named body field holds a vertex reference.
func (l EdgeLayout) IsVertexRef(field string) bool {
	_, ok := l.refFields[field]
	return ok
}

// Layout returns the cached layout for a schema id, deriving it on first use.
func (g *Graph) Layout(sid schema.SchemaID) (EdgeLayout, error) {
	g.mu.RLock()
	l, found := g.layouts[sid]
	g.mu.RUnlock()
	if found {
		return l, nil
	}
	doc, err := g.schemas.SchemaByID(sid)
	if err != nil {
		return EdgeLayout{}, err
	}
	l = layoutFor(doc)
	g.mu.Lock()
	g.layouts[sid] = l
	g.mu.Unlock()
	return l, nil
}
