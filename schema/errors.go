package schema

import (
	"errors"
	"fmt"
)

// ErrSimpleEdgeFields is returned when a group without a body declares its
// own fields.
var ErrSimpleEdgeFields = errors.New("edge group without body must not declare fields")

// DuplicateGroupError is returned when registering a group name that already
// exists.
type DuplicateGroupError struct {
	Name string
}

func (e *DuplicateGroupError) Error() string {
	return fmt.Sprintf("edge group %q already registered", e.Name)
}

// UnknownGroupError is returned when a group name or id is not registered.
type UnknownGroupError struct {
	Name string
	ID   SchemaID
}

func (e *UnknownGroupError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unknown edge group %q", e.Name)
	}
	return fmt.Sprintf("unknown edge group id %d", e.ID)
}
