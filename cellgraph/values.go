package cellgraph

import (
	"encoding/gob"
	"fmt"
	"time"
)

func init() {
	// Concrete types that can appear as DataMap values must be registered
	// for gob encoding of cells.
	gob.Register(Id{})
	gob.Register([]Id{})
	gob.Register(DataMap{})
	gob.Register(time.Time{})
	gob.Register([]interface{}{})
}

// DataMap holds the value of one cell as a field name to value mapping.
// Values are restricted to the kinds enumerated by FieldType plus nested
// DataMaps for dynamic-field groups.
type DataMap map[string]interface{}

// FieldType is the semantic type of a schema field.
type FieldType uint8

const (
	TypeString FieldType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTimestamp

	// TypeVertexRef marks a field whose value is the Id of another vertex
	// cell.  Query results expose such fields as deferred lookups.
	TypeVertexRef

	// TypeIdList marks a field holding an ordered sequence of cell ids.
	TypeIdList

	// TypeBucketMap marks a vertex adjacency bucket: schema id to id list.
	TypeBucketMap
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeVertexRef:
		return "vertexref"
	case TypeIdList:
		return "idlist"
	case TypeBucketMap:
		return "bucketmap"
	default:
		return "unknown"
	}
}

// FieldTypeByName converts the wire name of a field type back to its value.
func FieldTypeByName(name string) (FieldType, error) {
	for t := TypeString; t <= TypeBucketMap; t++ {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", name)
}

// Field describes one named, typed field of a cell schema.
type Field struct {
	Name string
	Type FieldType
}
