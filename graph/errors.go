package graph

import (
	"errors"
	"fmt"

	"github.com/cellgraph/cellgraph/cellgraph"
)

// ErrBodyRequired is returned when a group with body fields is linked
// without a body.
var ErrBodyRequired = errors.New("edge group requires a body")

// ErrBodyNotAllowed is returned when a body is supplied for a group that
// stores none.
var ErrBodyNotAllowed = errors.New("edge group does not store a body")

// BodyTypeMismatchError is returned when an edge body's declared type tag
// does not equal the group's required tag.  It is always raised before any
// store mutation.
type BodyTypeMismatchError struct {
	Group string
	Want  string
	Got   string
}

func (e *BodyTypeMismatchError) Error() string {
	return fmt.Sprintf("edge group %q requires body type %q, got %q", e.Group, e.Want, e.Got)
}

// PartialEdgeError reports that edge creation failed after zero or one of the
// two endpoint adjacency updates.  Side 1 failure means no mutation happened;
// side 2 failure means the edge is recorded on v1 but absent from v2.  The
// caller owns recovery: retry side 2 or compensate.  No rollback is
// attempted here.
type PartialEdgeError struct {
	Group    string
	Side     int // 1 or 2: which endpoint update failed
	Vertex   cellgraph.Id
	EdgeCell *cellgraph.Id // dedicated cell id if one was created
	Err      error
}

func (e *PartialEdgeError) Error() string {
	return fmt.Sprintf("edge %q: side %d adjacency update on vertex %s failed: %v",
		e.Group, e.Side, e.Vertex, e.Err)
}

func (e *PartialEdgeError) Unwrap() error {
	return e.Err
}

// HalfRecorded is true when the side-1 update committed before the failure,
// leaving the edge visible from v1 only.
func (e *PartialEdgeError) HalfRecorded() bool {
	return e.Side == 2
}
