package erasure

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	rs "github.com/klauspost/reedsolomon"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrNoShards     = errors.New("erasure: no shards")
	ErrTooFewShards = errors.New("erasure: not enough intact shards")
)

// Shard is one Reed-Solomon piece of an encoded payload.
type Shard struct {
	Index        uint8
	DataShards   uint8
	ParityShards uint8
	OriginalSize uint64
	// Checksum is xxhash64 over Index || DataShards || ParityShards || Payload.
	Checksum uint64
	Payload  []byte
}

func checksum(index, k, p uint8, payload []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write([]byte{index, k, p})
	_, _ = d.Write(payload)
	return d.Sum64()
}

// Valid reports whether the payload still matches its checksum.
func (s Shard) Valid() bool {
	return checksum(s.Index, s.DataShards, s.ParityShards, s.Payload) == s.Checksum
}

// Encode splits data into k data and p parity shards.
func Encode(data []byte, k, p uint8) ([]Shard, error) {
	if k == 0 {
		return nil, fmt.Errorf("erasure: k (data shards) must be > 0")
	}
	originalSize := uint64(len(data))
	if len(data) == 0 {
		// reedsolomon refuses to split nothing; Join trims the pad again
		data = []byte{0}
	}

	encRS, err := rs.New(int(k), int(p))
	if err != nil {
		return nil, fmt.Errorf("erasure: new encoder: %w", err)
	}

	shards, err := encRS.Split(data)
	if err != nil {
		return nil, fmt.Errorf("erasure: split: %w", err)
	}
	if err := encRS.Encode(shards); err != nil {
		return nil, fmt.Errorf("erasure: encode shards: %w", err)
	}

	n := int(k) + int(p)
	out := make([]Shard, 0, n)
	for i := 0; i < n; i++ {
		payload := make([]byte, len(shards[i]))
		copy(payload, shards[i])
		out = append(out, Shard{
			Index:        uint8(i),
			DataShards:   k,
			ParityShards: p,
			OriginalSize: originalSize,
			Checksum:     checksum(uint8(i), k, p, payload),
			Payload:      payload,
		})
	}
	return out, nil
}

// Decode rebuilds the payload from any k intact shards. Shards failing
// their checksum are treated as missing.
func Decode(shards []Shard) ([]byte, error) {
	if len(shards) == 0 {
		return nil, ErrNoShards
	}

	k := int(shards[0].DataShards)
	p := int(shards[0].ParityShards)
	n := k + p
	if k <= 0 {
		return nil, fmt.Errorf("erasure: invalid k/p %d/%d", k, p)
	}

	encRS, err := rs.New(k, p)
	if err != nil {
		return nil, fmt.Errorf("erasure: new encoder: %w", err)
	}

	// nil means missing shard
	set := make([][]byte, n)
	originalSize := shards[0].OriginalSize
	intact := 0
	for _, s := range shards {
		if int(s.DataShards) != k || int(s.ParityShards) != p {
			return nil, fmt.Errorf("erasure: shard %d has layout %d/%d, want %d/%d",
				s.Index, s.DataShards, s.ParityShards, k, p)
		}
		idx := int(s.Index)
		if idx >= n {
			return nil, fmt.Errorf("erasure: invalid shard index %d", idx)
		}
		if !s.Valid() || set[idx] != nil {
			continue
		}
		set[idx] = make([]byte, len(s.Payload))
		copy(set[idx], s.Payload)
		intact++
	}
	if intact < k {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewShards, intact, k)
	}

	if err := encRS.Reconstruct(set); err != nil {
		return nil, fmt.Errorf("erasure: reconstruct: %w", err)
	}

	var out bytes.Buffer
	if err := encRS.Join(&out, set, int(originalSize)); err != nil {
		return nil, fmt.Errorf("erasure: join: %w", err)
	}
	return out.Bytes(), nil
}

const (
	fieldIndex    protowire.Number = 1
	fieldLayout   protowire.Number = 2
	fieldSize     protowire.Number = 3
	fieldChecksum protowire.Number = 4
	fieldPayload  protowire.Number = 5
)

// AppendBinary appends the storage form of s to b.
func (s Shard) AppendBinary(b []byte) []byte {
	b = protowire.AppendTag(b, fieldIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Index))
	b = protowire.AppendTag(b, fieldLayout, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.DataShards)<<8|uint64(s.ParityShards))
	b = protowire.AppendTag(b, fieldSize, protowire.VarintType)
	b = protowire.AppendVarint(b, s.OriginalSize)
	b = protowire.AppendTag(b, fieldChecksum, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, s.Checksum)
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, s.Payload)
	return b
}

// ParseShard decodes the output of AppendBinary.
func ParseShard(b []byte) (Shard, error) {
	var s Shard
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Shard{}, fmt.Errorf("erasure: parse shard: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldChecksum && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Shard{}, fmt.Errorf("erasure: parse shard checksum: %w", protowire.ParseError(n))
			}
			s.Checksum = v
			b = b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Shard{}, fmt.Errorf("erasure: parse shard payload: %w", protowire.ParseError(n))
			}
			s.Payload = append([]byte(nil), v...)
			b = b[n:]
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Shard{}, fmt.Errorf("erasure: parse shard field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldIndex:
				s.Index = uint8(v)
			case fieldLayout:
				s.DataShards = uint8(v >> 8)
				s.ParityShards = uint8(v)
			case fieldSize:
				s.OriginalSize = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Shard{}, fmt.Errorf("erasure: parse shard field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return s, nil
}
