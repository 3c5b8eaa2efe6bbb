package cellgraph

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/fnv"

	"github.com/twinj/uuid"
)

// IdSize is the number of bytes in a serialized cell id.
const IdSize = 16

// Id is the 128-bit identifier of one atomically addressable cell in the
// underlying store.  Vertices, edge cells, and registry cells all share this
// id space.
type Id struct {
	Hi uint64
	Lo uint64
}

// NilId is the zero id and never addresses a stored cell.
var NilId = Id{}

// NewId returns a random cell id derived from a version 4 UUID.
func NewId() Id {
	b := uuid.NewV4().Bytes()
	return Id{
		Hi: binary.BigEndian.Uint64(b[0:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

// HashId returns a deterministic id for a name, used for well-known cells
// like the schema registry index.  FNV-1a 128-bit.
func HashId(name string) Id {
	h := fnv.New128a()
	h.Write([]byte(name))
	b := h.Sum(nil)
	return Id{
		Hi: binary.BigEndian.Uint64(b[0:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

// IsNil returns true if the id is the zero id.
func (id Id) IsNil() bool {
	return id.Hi == 0 && id.Lo == 0
}

// Bytes returns a big-endian 16 byte representation suitable for use as a
// storage engine key.
func (id Id) Bytes() []byte {
	b := make([]byte, IdSize)
	binary.BigEndian.PutUint64(b[0:8], id.Hi)
	binary.BigEndian.PutUint64(b[8:16], id.Lo)
	return b
}

// IdFromBytes returns an Id given its big-endian byte representation.
func IdFromBytes(b []byte) (Id, error) {
	if len(b) != IdSize {
		return NilId, fmt.Errorf("expected %d bytes for cell id, got %d", IdSize, len(b))
	}
	return Id{
		Hi: binary.BigEndian.Uint64(b[0:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

// String returns a hexadecimal representation of the id so it is readable on
// a terminal and usable in URLs.
func (id Id) String() string {
	return hex.EncodeToString(id.Bytes())
}

// ParseId converts the hexadecimal form back into an Id.
func ParseId(s string) (Id, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NilId, fmt.Errorf("bad hex cell id %q: %v", s, err)
	}
	return IdFromBytes(b)
}
