// Package omapcodec encodes omap key/value batches into the opaque blobs
// carried by omap updates in a transaction.
//
// The encoding is the protobuf wire format of
//
//	message KeyValues { repeated Entry entries = 1; }
//	message Entry     { string key = 1; bytes value = 2; }
//	message Keys      { repeated string keys = 1; }
//
// Keys are written in ascending order so equal inputs give equal blobs.
package omapcodec

import (
	"errors"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldEntries protowire.Number = 1
	fieldKey     protowire.Number = 1
	fieldValue   protowire.Number = 2
	fieldKeys    protowire.Number = 1
)

var ErrMalformed = errors.New("omapcodec: malformed blob")

// EncodeKeyValues encodes an omap insert batch.
func EncodeKeyValues(kv map[string][]byte) []byte { // A
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []byte
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, fieldValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, kv[k])

		out = protowire.AppendTag(out, fieldEntries, protowire.BytesType)
		out = protowire.AppendBytes(out, entry)
	}
	return out
}

// DecodeKeyValues decodes a blob produced by EncodeKeyValues.
func DecodeKeyValues(b []byte) (map[string][]byte, error) { // A
	out := make(map[string][]byte)
	err := walk(b, func(num protowire.Number, v []byte) error {
		if num != fieldEntries {
			return nil
		}
		var key string
		var value []byte
		err := walk(v, func(num protowire.Number, f []byte) error {
			switch num {
			case fieldKey:
				key = string(f)
			case fieldValue:
				value = append([]byte{}, f...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if value == nil {
			value = []byte{}
		}
		out[key] = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeKeys encodes an omap removal batch.
func EncodeKeys(keys []string) []byte { // A
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var out []byte
	for i, k := range sorted {
		if i > 0 && sorted[i-1] == k {
			continue
		}
		out = protowire.AppendTag(out, fieldKeys, protowire.BytesType)
		out = protowire.AppendString(out, k)
	}
	return out
}

// DecodeKeys decodes a blob produced by EncodeKeys.
func DecodeKeys(b []byte) ([]string, error) { // A
	var out []string
	err := walk(b, func(num protowire.Number, v []byte) error {
		if num == fieldKeys {
			out = append(out, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// walk visits every length-delimited field of a message. Fields of other
// wire types are skipped.
func walk(b []byte, fn func(protowire.Number, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(num, v); err != nil {
			return err
		}
	}
	return nil
}
