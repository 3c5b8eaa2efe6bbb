package graph

import (
	"context"
	"encoding/json"

	"github.com/cellgraph/cellgraph/cellgraph"
	"github.com/cellgraph/cellgraph/schema"
	"github.com/cellgraph/cellgraph/storage"
)

// EdgeBody carries the caller-supplied payload of a new edge: a declared
// type tag plus the group's body field values.  Additional participants of a
// hyper edge are given as vertex-reference fields in Props.
type EdgeBody struct {
	Type  string
	Props cellgraph.DataMap
}

// EdgeHandle describes a successfully created edge.
type EdgeHandle struct {
	Group    string
	SchemaID schema.SchemaID
	V1, V2   cellgraph.Id

	// EdgeCell is the dedicated cell id, or nil when the group needs none.
	EdgeCell *cellgraph.Id
}

// CreateEdge links v1 and v2 under the named group.  The protocol:
//
//	1. resolve schema and layout, validate the body (no mutation yet)
//	2. persist a dedicated edge cell if the group requires one
//	3. atomically append to v1's adjacency bucket
//	4. atomically append to v2's adjacency bucket
//
// Steps 3 and 4 are independent single-cell updates issued sequentially; a
// failure surfaces as a PartialEdgeError naming the failed side and is never
// rolled back here.
func (g *Graph) CreateEdge(ctx context.Context, v1 cellgraph.Id, group string, v2 cellgraph.Id, body *EdgeBody) (*EdgeHandle, error) {
	doc, err := g.schemas.GroupSchema(group)
	if err != nil {
		return nil, err
	}
	layout, err := g.Layout(doc.ID)
	if err != nil {
		return nil, err
	}
	if err := validateBody(doc, layout, body); err != nil {
		return nil, err
	}

	handle := &EdgeHandle{
		Group:    group,
		SchemaID: doc.ID,
		V1:       v1,
		V2:       v2,
	}

	// The adjacency entry either points at the dedicated edge cell or at
	// the opposite vertex directly.
	entry1, entry2 := v2, v1
	if layout.RequiresCell {
		cellID, err := g.store.NewCell(ctx, edgeCellValue(doc, v1, v2, body))
		if err != nil {
			return nil, err
		}
		handle.EdgeCell = &cellID
		entry1, entry2 = cellID, cellID
	}

	if err := g.store.AtomicApply(ctx, v1, appendAdjacency(layout.EndpointField(1), doc.ID, entry1)); err != nil {
		return nil, &PartialEdgeError{
			Group:    group,
			Side:     1,
			Vertex:   v1,
			EdgeCell: handle.EdgeCell,
			Err:      err,
		}
	}
	if err := g.store.AtomicApply(ctx, v2, appendAdjacency(layout.EndpointField(2), doc.ID, entry2)); err != nil {
		return nil, &PartialEdgeError{
			Group:    group,
			Side:     2,
			Vertex:   v2,
			EdgeCell: handle.EdgeCell,
			Err:      err,
		}
	}

	g.logMutation(handle)
	return handle, nil
}

// validateBody enforces the group's body rules strictly before any store
// mutation so that a doomed call leaves zero partial writes.
func validateBody(doc *schema.GroupSchema, layout EdgeLayout, body *EdgeBody) error {
	if doc.Attrs.HasBody {
		if body == nil {
			return ErrBodyRequired
		}
	} else if body != nil && len(body.Props) > 0 {
		return ErrBodyNotAllowed
	}
	if layout.BodyTag != "" {
		got := ""
		if body != nil {
			got = body.Type
		}
		if got != layout.BodyTag {
			return &BodyTypeMismatchError{Group: doc.Name, Want: layout.BodyTag, Got: got}
		}
	}
	return nil
}

// edgeCellValue builds the dedicated cell record of one edge instance.
func edgeCellValue(doc *schema.GroupSchema, v1, v2 cellgraph.Id, body *EdgeBody) cellgraph.DataMap {
	var props cellgraph.DataMap
	if body != nil {
		props = body.Props
	}
	value := make(cellgraph.DataMap, len(props)+4)
	value[schema.FieldSchema] = doc.ID
	if body != nil && body.Type != "" {
		value[schema.FieldBodyType] = body.Type
	}
	if doc.Attrs.Kind == schema.Hyper {
		participants := []cellgraph.Id{v1, v2}
		for _, f := range doc.BodyFields() {
			if f.Type == cellgraph.TypeVertexRef {
				if id, ok := props[f.Name].(cellgraph.Id); ok {
					participants = append(participants, id)
				}
			}
		}
		value[schema.FieldParticipants] = participants
	} else {
		value[schema.FieldVertexA] = v1
		value[schema.FieldVertexB] = v2
	}
	for name, val := range props {
		value[name] = val
	}
	return value
}

// appendAdjacency returns the atomic apply function that appends one entry
// to a (direction, group) slot.  The store hands the function a fresh copy
// of the cell value, so in-place mutation is safe, and the function is pure
// with respect to its input for engine-level retries.
func appendAdjacency(dir Direction, sid schema.SchemaID, entry cellgraph.Id) storage.ApplyFunc {
	return func(value cellgraph.DataMap) (cellgraph.DataMap, error) {
		field := dir.Field()
		bucket, _ := value[field].(map[schema.SchemaID][]cellgraph.Id)
		if bucket == nil {
			bucket = map[schema.SchemaID][]cellgraph.Id{}
		}
		bucket[sid] = append(bucket[sid], entry)
		value[field] = bucket
		return value, nil
	}
}

// logMutation publishes an edge creation record to the mutation log, if one
// is configured.
func (g *Graph) logMutation(handle *EdgeHandle) {
	record := struct {
		Op       string `json:"op"`
		Group    string `json:"group"`
		V1       string `json:"v1"`
		V2       string `json:"v2"`
		EdgeCell string `json:"edge_cell,omitempty"`
	}{
		Op:    "create-edge",
		Group: handle.Group,
		V1:    handle.V1.String(),
		V2:    handle.V2.String(),
	}
	if handle.EdgeCell != nil {
		record.EdgeCell = handle.EdgeCell.String()
	}
	msg, err := json.Marshal(record)
	if err != nil {
		cellgraph.Errorf("Can't encode mutation record: %v\n", err)
		return
	}
	storage.LogMutation(MutationTopic, msg)
}
