package objstore

import (
	"fmt"

	pgtx "github.com/i5heu/ouroboros-pgtx"
	"google.golang.org/protobuf/encoding/protowire"
)

// Key layout. Every key is a one byte kind followed by the binary object id;
// attrs, omap entries and shards append their own suffix. The binary id is
// self delimiting so one object's prefix never matches another object.
const (
	kindMeta  byte = 'o'
	kindData  byte = 'd'
	kindShard byte = 's'
	kindAttr  byte = 'a'
	kindOmap  byte = 'm'
)

var allKinds = []byte{kindMeta, kindData, kindShard, kindAttr, kindOmap}

func keyPrefix(kind byte, id pgtx.ObjectID) []byte {
	return id.AppendBinary([]byte{kind})
}

func keyWithSuffix(kind byte, id pgtx.ObjectID, suffix []byte) []byte {
	return append(keyPrefix(kind, id), suffix...)
}

// meta is the per-object record stored under kindMeta.
type meta struct {
	size         uint64
	header       []byte
	snaps        []pgtx.SnapID
	allocHint    *pgtx.AllocHint
	dataShards   uint8
	parityShards uint8
}

const (
	metaFieldSize        protowire.Number = 1
	metaFieldHeader      protowire.Number = 2
	metaFieldSnaps       protowire.Number = 3
	metaFieldAllocObject protowire.Number = 4
	metaFieldAllocWrite  protowire.Number = 5
	metaFieldAllocFlags  protowire.Number = 6
	metaFieldShards      protowire.Number = 7
)

func (m meta) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, metaFieldSize, protowire.VarintType)
	b = protowire.AppendVarint(b, m.size)
	if m.header != nil {
		b = protowire.AppendTag(b, metaFieldHeader, protowire.BytesType)
		b = protowire.AppendBytes(b, m.header)
	}
	if len(m.snaps) > 0 {
		var packed []byte
		for _, s := range m.snaps {
			packed = protowire.AppendVarint(packed, uint64(s))
		}
		b = protowire.AppendTag(b, metaFieldSnaps, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if h := m.allocHint; h != nil {
		b = protowire.AppendTag(b, metaFieldAllocObject, protowire.VarintType)
		b = protowire.AppendVarint(b, h.ExpectedObjectSize)
		b = protowire.AppendTag(b, metaFieldAllocWrite, protowire.VarintType)
		b = protowire.AppendVarint(b, h.ExpectedWriteSize)
		b = protowire.AppendTag(b, metaFieldAllocFlags, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.Flags))
	}
	if m.dataShards > 0 {
		b = protowire.AppendTag(b, metaFieldShards, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.dataShards)<<8|uint64(m.parityShards))
	}
	return b
}

func unmarshalMeta(b []byte) (meta, error) {
	var m meta
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return meta{}, fmt.Errorf("objstore: meta: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return meta{}, fmt.Errorf("objstore: meta field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case metaFieldSize:
				m.size = v
			case metaFieldAllocObject:
				m.hint().ExpectedObjectSize = v
			case metaFieldAllocWrite:
				m.hint().ExpectedWriteSize = v
			case metaFieldAllocFlags:
				m.hint().Flags = uint32(v)
			case metaFieldShards:
				m.dataShards = uint8(v >> 8)
				m.parityShards = uint8(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return meta{}, fmt.Errorf("objstore: meta field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case metaFieldHeader:
				m.header = append([]byte{}, v...)
			case metaFieldSnaps:
				for len(v) > 0 {
					s, n := protowire.ConsumeVarint(v)
					if n < 0 {
						return meta{}, fmt.Errorf("objstore: meta snaps: %w", protowire.ParseError(n))
					}
					m.snaps = append(m.snaps, pgtx.SnapID(s))
					v = v[n:]
				}
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return meta{}, fmt.Errorf("objstore: meta field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}

func (m *meta) hint() *pgtx.AllocHint {
	if m.allocHint == nil {
		m.allocHint = &pgtx.AllocHint{}
	}
	return m.allocHint
}
