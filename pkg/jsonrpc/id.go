// Package jsonrpc implements the JSON-RPC 2.0 wire types used by MCP:
// request/response/notification framing, message identifiers, and the
// codecs that move between bytes and typed messages.
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// idKind tags which variant of ID is populated.
type idKind int

const (
	idKindNone idKind = iota
	idKindString
	idKindNumber
	idKindUUID
)

// ID is the JSON-RPC request identifier. It is a sum type over string,
// 64-bit integer, and UUID, matching the three shapes MCP clients use on
// the wire. The zero value is the "no id" (notification) variant.
type ID struct {
	kind idKind
	str  string
	num  int64
	uid  uuid.UUID
}

// StringID builds a string-valued ID, interned by value (Go strings are
// already immutable and comparable, so no extra interning table is needed).
func StringID(s string) ID { return ID{kind: idKindString, str: s} }

// NumberID builds an integer-valued ID.
func NumberID(n int64) ID { return ID{kind: idKindNumber, num: n} }

// UUIDID builds a UUID-valued ID.
func UUIDID(u uuid.UUID) ID { return ID{kind: idKindUUID, uid: u} }

// NewUUIDID generates a fresh random UUID-valued ID.
func NewUUIDID() ID { return ID{kind: idKindUUID, uid: uuid.New()} }

// MakeID builds an ID from an untyped JSON-decoded value (string or
// float64, the shapes encoding/json produces for an `any`-typed id
// field), for callers that already decoded an envelope generically
// rather than through UnmarshalJSON. Returns an error for any other type.
func MakeID(v any) (ID, error) {
	switch t := v.(type) {
	case string:
		return StringID(t), nil
	case float64:
		return NumberID(int64(t)), nil
	case int:
		return NumberID(int64(t)), nil
	case int64:
		return NumberID(t), nil
	default:
		return ID{}, fmt.Errorf("jsonrpc: unsupported id value type %T", v)
	}
}

// IsZero reports whether this ID is the unset ("no id") variant, which is
// how a Notification is represented in this package.
func (id ID) IsZero() bool { return id.kind == idKindNone }

// String returns the scalar display form of the ID, used both for human
// output and as the router's pending-request map key.
func (id ID) String() string {
	switch id.kind {
	case idKindString:
		return id.str
	case idKindNumber:
		return strconv.FormatInt(id.num, 10)
	case idKindUUID:
		return id.uid.String()
	default:
		return ""
	}
}

// Equal reports value equality between two IDs, including variant.
func (id ID) Equal(other ID) bool {
	if id.kind != other.kind {
		return false
	}
	switch id.kind {
	case idKindString:
		return id.str == other.str
	case idKindNumber:
		return id.num == other.num
	case idKindUUID:
		return id.uid == other.uid
	default:
		return true
	}
}

// MarshalJSON renders the ID in its natural JSON shape: a JSON string for
// String and UUID variants, a JSON number for Number, and `null` when unset.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idKindString:
		return json.Marshal(id.str)
	case idKindNumber:
		return json.Marshal(id.num)
	case idKindUUID:
		return json.Marshal(id.uid.String())
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a JSON string, number, or null and infers the
// variant. Strings that parse as a UUID are stored as the UUID variant so
// that round-tripping an ID generated by NewUUIDID preserves its kind.
func (id *ID) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("jsonrpc: invalid id: %w", err)
	}
	switch v := raw.(type) {
	case nil:
		*id = ID{}
	case string:
		if u, err := uuid.Parse(v); err == nil {
			*id = ID{kind: idKindUUID, uid: u}
			return nil
		}
		*id = ID{kind: idKindString, str: v}
	case float64:
		*id = ID{kind: idKindNumber, num: int64(v)}
	default:
		return fmt.Errorf("jsonrpc: unsupported id type %T", raw)
	}
	return nil
}
