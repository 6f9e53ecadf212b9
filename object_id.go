package pgtx

import (
	"cmp"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

// SnapID identifies an object snapshot.
type SnapID uint64

// SnapHead is the snap id of the writable head object.
const SnapHead SnapID = ^SnapID(0) - 1

func (s SnapID) String() string {
	if s == SnapHead {
		return "head"
	}
	return strconv.FormatUint(uint64(s), 16)
}

// ObjectID names one stored object. ObjectID is comparable and can be used
// as a map key.
type ObjectID struct {
	Pool      int64
	Namespace string
	Name      string
	Snap      SnapID
	// Temp marks staging objects that only ever act as rename sources.
	Temp bool
}

// HeadID returns the head object id for name in pool.
func HeadID(pool int64, name string) ObjectID {
	return ObjectID{Pool: pool, Name: name, Snap: SnapHead}
}

// TempID returns a temporary object id for name in pool.
func TempID(pool int64, name string) ObjectID {
	return ObjectID{Pool: pool, Name: name, Snap: SnapHead, Temp: true}
}

// IsTemp reports whether the id names a temporary object.
func (o ObjectID) IsTemp() bool {
	return o.Temp
}

// WithSnap returns a copy of o pointing at snapshot s.
func (o ObjectID) WithSnap(s SnapID) ObjectID {
	o.Snap = s
	return o
}

// Compare orders ids by pool, namespace, name, snap and finally temp,
// returning -1, 0 or +1.
func (o ObjectID) Compare(other ObjectID) int {
	if c := cmp.Compare(o.Pool, other.Pool); c != 0 {
		return c
	}
	if c := cmp.Compare(o.Namespace, other.Namespace); c != 0 {
		return c
	}
	if c := cmp.Compare(o.Name, other.Name); c != 0 {
		return c
	}
	if c := cmp.Compare(o.Snap, other.Snap); c != 0 {
		return c
	}
	switch {
	case o.Temp == other.Temp:
		return 0
	case !o.Temp:
		return -1
	default:
		return 1
	}
}

func (o ObjectID) String() string {
	prefix := ""
	if o.Temp {
		prefix = "temp_"
	}
	if o.Namespace != "" {
		return fmt.Sprintf("%d:%s/%s%s@%s", o.Pool, o.Namespace, prefix, o.Name, o.Snap)
	}
	return fmt.Sprintf("%d:%s%s@%s", o.Pool, prefix, o.Name, o.Snap)
}

const (
	idFieldPool      protowire.Number = 1
	idFieldNamespace protowire.Number = 2
	idFieldName      protowire.Number = 3
	idFieldSnap      protowire.Number = 4
	idFieldTemp      protowire.Number = 5
)

// AppendBinary appends an unambiguous binary form of the id to b. Backends
// use it to build storage keys.
func (o ObjectID) AppendBinary(b []byte) []byte {
	b = protowire.AppendTag(b, idFieldPool, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(o.Pool))
	b = protowire.AppendTag(b, idFieldNamespace, protowire.BytesType)
	b = protowire.AppendString(b, o.Namespace)
	b = protowire.AppendTag(b, idFieldName, protowire.BytesType)
	b = protowire.AppendString(b, o.Name)
	b = protowire.AppendTag(b, idFieldSnap, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(o.Snap))
	b = protowire.AppendTag(b, idFieldTemp, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(o.Temp))
	return b
}

// ParseObjectID decodes the output of AppendBinary.
func ParseObjectID(b []byte) (ObjectID, error) {
	var o ObjectID
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ObjectID{}, fmt.Errorf("pgtx: parse object id: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ObjectID{}, fmt.Errorf("pgtx: parse object id field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case idFieldPool:
				o.Pool = protowire.DecodeZigZag(v)
			case idFieldSnap:
				o.Snap = SnapID(v)
			case idFieldTemp:
				o.Temp = protowire.DecodeBool(v)
			}
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return ObjectID{}, fmt.Errorf("pgtx: parse object id field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case idFieldNamespace:
				o.Namespace = string(v)
			case idFieldName:
				o.Name = string(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ObjectID{}, fmt.Errorf("pgtx: parse object id field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return o, nil
}
